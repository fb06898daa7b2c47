package broker

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Broker is the uniform interface to a trading terminal.
// One implementation exists per broker family.
type Broker interface {
	// Name returns the broker family name
	Name() string

	// Connection lifecycle
	Connect(ctx context.Context, credentials *Credentials) error
	Disconnect() error
	IsConnected() bool
	State() ConnectionState

	// Order related methods
	ExecuteTrade(ctx context.Context, req *TradeRequest) (*TradeResult, error)
	ClosePosition(ctx context.Context, symbol string, volume float64) (*CloseResult, error)

	// Read-only projections; nil/empty when not connected
	GetAccountInfo(ctx context.Context) *AccountInfo
	GetPositions(ctx context.Context, symbol string) []Position

	// Market data methods
	GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)
	GetSymbols(ctx context.Context, limit int) []SymbolInfo
}

// BrokerFactory is a factory function type for creating brokers
type BrokerFactory func() Broker

var (
	registryMu sync.RWMutex
	registry   = make(map[string]BrokerFactory)
)

// Register registers a broker factory under a family name
func Register(name string, factory BrokerFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = factory
}

// Create creates a new broker instance by family name
func Create(name string) (Broker, error) {
	registryMu.RLock()
	factory, exists := registry[strings.ToLower(name)]
	registryMu.RUnlock()
	if !exists {
		return nil, ErrBrokerNotFound
	}
	return factory(), nil
}

// IsRegistered reports whether a broker family is known
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[strings.ToLower(name)]
	return ok
}

// GetRegisteredBrokers returns the sorted names of all registered broker families
func GetRegisteredBrokers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
