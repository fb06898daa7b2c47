package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Cyvadra/tv-bridge/broker"
	"github.com/Cyvadra/tv-bridge/internal/models"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ConnectionInfo describes the adapter state of one account
type ConnectionInfo struct {
	AccountID     uint                   `json:"account_id"`
	Name          string                 `json:"name"`
	BrokerType    string                 `json:"broker_type"`
	Cached        bool                   `json:"cached"`
	Connected     bool                   `json:"connected"`
	State         broker.ConnectionState `json:"state"`
	LastConnected *time.Time             `json:"last_connected,omitempty"`
}

// BrokerStatus describes the adapter of the global configuration
type BrokerStatus struct {
	Broker    string                 `json:"broker"`
	Connected bool                   `json:"connected"`
	State     broker.ConnectionState `json:"state"`
}

// AccountRouter maps webhook keys to accounts and runs trades against the
// account's cached adapter.
type AccountRouter struct {
	accounts *AccountService
	settings *SettingsService
	trades   *TradeService
	pool     *broker.Pool
	cron     *cron.Cron
	logger   *zap.Logger
}

// NewAccountRouter creates a new account router
func NewAccountRouter(accounts *AccountService, settings *SettingsService, trades *TradeService, pool *broker.Pool, logger *zap.Logger) *AccountRouter {
	return &AccountRouter{
		accounts: accounts,
		settings: settings,
		trades:   trades,
		pool:     pool,
		logger:   logger.Named("router"),
	}
}

// ProcessForAccount runs a webhook for the account owning the routing key.
// An unknown key is recorded nowhere.
func (r *AccountRouter) ProcessForAccount(ctx context.Context, key string, payload map[string]interface{}) (*TradeResult, error) {
	account, err := r.accounts.GetByWebhookKey(ctx, key)
	if err != nil {
		if errors.Is(err, ErrUnknownWebhookKey) {
			r.logger.Warn("webhook for unknown key")
			return nil, err
		}
		r.logger.Error("failed to look up account", zap.Error(err))
		return nil, newTradeError(ErrInternal, "Failed to look up account")
	}

	return r.trades.execute(ctx, accountTarget(account), payload)
}

// TestConnection connects a fresh adapter for the account, caches it and
// returns the account snapshot reported by the terminal.
func (r *AccountRouter) TestConnection(ctx context.Context, id uint) (*broker.AccountInfo, error) {
	account, err := r.activeAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := r.pool.Lock(id)
	defer unlock()

	b, err := r.pool.Reconnect(ctx, id, account.BrokerType, account.Credentials())
	if err != nil {
		if serr := r.accounts.SetConnected(ctx, id, false); serr != nil {
			r.logger.Warn("failed to update connection state", zap.Uint("account_id", id), zap.Error(serr))
		}
		r.logger.Warn("connection test failed", zap.Uint("account_id", id), zap.Error(err))
		return nil, &TradeError{Kind: ErrConnection, Message: broker.ErrorMessage(err)}
	}

	if err := r.accounts.SetConnected(ctx, id, true); err != nil {
		return nil, fmt.Errorf("failed to update connection state: %w", err)
	}

	r.logger.Info("connection test succeeded", zap.Uint("account_id", id), zap.String("broker", b.Name()))
	return b.GetAccountInfo(ctx), nil
}

// Disconnect tears down the cached adapter of an account
func (r *AccountRouter) Disconnect(ctx context.Context, id uint) error {
	if _, err := r.accounts.Get(ctx, id); err != nil {
		return err
	}

	unlock := r.pool.Lock(id)
	defer unlock()

	if err := r.pool.Remove(id); err != nil {
		r.logger.Warn("adapter disconnect failed", zap.Uint("account_id", id), zap.Error(err))
	}
	return r.accounts.SetConnected(ctx, id, false)
}

// DeleteAccount deactivates an account and drops its adapter
func (r *AccountRouter) DeleteAccount(ctx context.Context, id uint) error {
	unlock := r.pool.Lock(id)
	defer unlock()

	if err := r.accounts.Deactivate(ctx, id); err != nil {
		return err
	}
	if err := r.pool.Remove(id); err != nil {
		r.logger.Warn("adapter disconnect failed", zap.Uint("account_id", id), zap.Error(err))
	}
	return nil
}

// ConnectionStatus lists the adapter state of every active account
func (r *AccountRouter) ConnectionStatus(ctx context.Context) ([]ConnectionInfo, error) {
	accounts, err := r.accounts.List(ctx, false)
	if err != nil {
		return nil, err
	}

	cached := r.pool.Snapshot()
	infos := make([]ConnectionInfo, 0, len(accounts))
	for _, a := range accounts {
		info := ConnectionInfo{
			AccountID:     a.ID,
			Name:          a.Name,
			BrokerType:    a.BrokerType,
			State:         broker.StateDisconnected,
			LastConnected: a.LastConnected,
		}
		if b, ok := cached[a.ID]; ok {
			info.Cached = true
			info.Connected = b.IsConnected()
			info.State = b.State()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// GlobalStatus reports the cached adapter of the global configuration
func (r *AccountRouter) GlobalStatus() BrokerStatus {
	b, ok := r.pool.Get(broker.GlobalScope)
	if !ok {
		return BrokerStatus{Broker: r.settings.brokerType, State: broker.StateDisconnected}
	}
	return BrokerStatus{Broker: b.Name(), Connected: b.IsConnected(), State: b.State()}
}

// WithGlobalBroker runs fn with the connected adapter of the global configuration
func (r *AccountRouter) WithGlobalBroker(ctx context.Context, fn func(b broker.Broker) error) error {
	cfg, err := r.settings.Get(ctx)
	if err != nil {
		return err
	}

	unlock := r.pool.Lock(broker.GlobalScope)
	defer unlock()

	b, err := r.pool.Acquire(ctx, broker.GlobalScope, cfg.BrokerType, cfg.Credentials())
	if err != nil {
		return &TradeError{Kind: ErrConnection, Message: broker.ErrorMessage(err)}
	}
	return fn(b)
}

// ResetGlobal drops the cached adapter of the global configuration so the
// next trade connects with the stored settings
func (r *AccountRouter) ResetGlobal() error {
	unlock := r.pool.Lock(broker.GlobalScope)
	defer unlock()

	return r.pool.Remove(broker.GlobalScope)
}

// CheckConnections refreshes the stored connection flag of cached account adapters
func (r *AccountRouter) CheckConnections(ctx context.Context) {
	for id, b := range r.pool.Snapshot() {
		if id == broker.GlobalScope {
			continue
		}

		connected := b.IsConnected()
		if !connected {
			r.logger.Warn("adapter lost its connection", zap.Uint("account_id", id), zap.String("broker", b.Name()))
		}
		if err := r.accounts.SetConnected(ctx, id, connected); err != nil {
			r.logger.Warn("failed to update connection state", zap.Uint("account_id", id), zap.Error(err))
		}
	}
}

// StartHealthCheck schedules CheckConnections on a cron spec
func (r *AccountRouter) StartHealthCheck(spec string) error {
	if spec == "" {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		r.CheckConnections(context.Background())
	}); err != nil {
		return fmt.Errorf("invalid health check schedule %q: %w", spec, err)
	}
	c.Start()
	r.cron = c

	r.logger.Info("connection health check started", zap.String("schedule", spec))
	return nil
}

// Stop ends the health check and waits for a running sweep
func (r *AccountRouter) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.cron = nil
}

func (r *AccountRouter) activeAccount(ctx context.Context, id uint) (*models.Account, error) {
	account, err := r.accounts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		return nil, ErrNotFound
	}
	return account, nil
}
