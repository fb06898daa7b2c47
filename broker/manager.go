package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// GlobalScope is the pool key of the single-account configuration
const GlobalScope uint = 0

// Pool caches live adapters keyed by account id and serializes work per account.
// Callers hold Lock(id) around any sequence that uses the adapter or the
// account's counters.
type Pool struct {
	mu       sync.Mutex
	brokers  map[uint]Broker
	locks    map[uint]*sync.Mutex
	settings Settings
	factory  func(brokerType string) (Broker, error)
	logger   *zap.Logger
}

// NewPool creates a new adapter pool
func NewPool(settings Settings, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		brokers:  make(map[uint]Broker),
		locks:    make(map[uint]*sync.Mutex),
		settings: settings.WithDefaults(),
		factory:  Create,
		logger:   logger.Named("broker_pool"),
	}
}

// SetFactory replaces the adapter factory
func (p *Pool) SetFactory(factory func(brokerType string) (Broker, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factory = factory
}

// Settings returns the effective adapter settings
func (p *Pool) Settings() Settings {
	return p.settings
}

// Lock acquires the per-account lock and returns its release function
func (p *Pool) Lock(id uint) func() {
	p.mu.Lock()
	l, ok := p.locks[id]
	if !ok {
		l = &sync.Mutex{}
		p.locks[id] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Get returns the cached adapter for an account
func (p *Pool) Get(id uint) (Broker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.brokers[id]
	return b, ok
}

// Put caches an adapter, disconnecting any adapter it replaces
func (p *Pool) Put(id uint, b Broker) {
	p.mu.Lock()
	old, ok := p.brokers[id]
	p.brokers[id] = b
	p.mu.Unlock()

	if ok && old != b {
		if err := old.Disconnect(); err != nil {
			p.logger.Warn("failed to disconnect replaced adapter", zap.Uint("account_id", id), zap.Error(err))
		}
	}
}

// Acquire returns a connected adapter for the account, creating it on first use
// and reconnecting it when the cached session dropped.
func (p *Pool) Acquire(ctx context.Context, id uint, brokerType string, credentials *Credentials) (Broker, error) {
	b, err := p.getOrCreate(id, brokerType)
	if err != nil {
		return nil, err
	}

	if b.IsConnected() {
		return b, nil
	}

	p.logger.Info("connecting adapter",
		zap.Uint("account_id", id),
		zap.String("broker", b.Name()))

	if err := p.connect(ctx, b, credentials); err != nil {
		return nil, err
	}
	return b, nil
}

// Reconnect replaces the cached adapter with a freshly connected one
func (p *Pool) Reconnect(ctx context.Context, id uint, brokerType string, credentials *Credentials) (Broker, error) {
	p.mu.Lock()
	factory := p.factory
	p.mu.Unlock()

	b, err := factory(brokerType)
	if err != nil {
		return nil, fmt.Errorf("failed to create broker %s: %w", brokerType, err)
	}

	if err := p.connect(ctx, b, credentials); err != nil {
		return nil, err
	}

	p.Put(id, b)
	return b, nil
}

// Remove disconnects and drops the cached adapter
func (p *Pool) Remove(id uint) error {
	p.mu.Lock()
	b, ok := p.brokers[id]
	delete(p.brokers, id)
	p.mu.Unlock()

	if !ok {
		return nil
	}

	p.logger.Info("removed adapter", zap.Uint("account_id", id), zap.String("broker", b.Name()))
	return b.Disconnect()
}

// Snapshot returns a copy of the cached adapters
func (p *Pool) Snapshot() map[uint]Broker {
	p.mu.Lock()
	defer p.mu.Unlock()

	brokers := make(map[uint]Broker, len(p.brokers))
	for id, b := range p.brokers {
		brokers[id] = b
	}
	return brokers
}

// Close disconnects every cached adapter
func (p *Pool) Close() error {
	p.mu.Lock()
	brokers := p.brokers
	p.brokers = make(map[uint]Broker)
	p.mu.Unlock()

	var errs []error
	for id, b := range brokers {
		if err := b.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("failed to disconnect adapter %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) getOrCreate(id uint, brokerType string) (Broker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.brokers[id]; ok {
		if b.Name() == brokerType {
			return b, nil
		}
		if err := b.Disconnect(); err != nil {
			p.logger.Warn("failed to disconnect adapter of previous broker type", zap.Uint("account_id", id), zap.Error(err))
		}
	}

	b, err := p.factory(brokerType)
	if err != nil {
		return nil, fmt.Errorf("failed to create broker %s: %w", brokerType, err)
	}
	p.brokers[id] = b
	return b, nil
}

// connect makes one attempt, retried once more only when it timed out
func (p *Pool) connect(ctx context.Context, b Broker, credentials *Credentials) error {
	err := RetryWithBackoff(ctx, 1, p.settings.RetryDelay, func() error {
		return WithTimeout(ctx, p.settings.RequestTimeout, func(ctx context.Context) error {
			return b.Connect(ctx, credentials)
		})
	})
	if err != nil {
		p.logger.Warn("adapter connection failed", zap.String("broker", b.Name()), zap.Error(err))
		return NewBrokerError(b.Name(), CodeConnectionFailed, "Failed to connect: "+ErrorMessage(err), err)
	}
	return nil
}
