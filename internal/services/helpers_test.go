package services

import (
	"context"
	"testing"
	"time"

	"github.com/Cyvadra/tv-bridge/broker"
	"github.com/Cyvadra/tv-bridge/broker/paper"
	"github.com/Cyvadra/tv-bridge/internal/config"
	"github.com/Cyvadra/tv-bridge/internal/database"
	"github.com/Cyvadra/tv-bridge/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testAPIKey = "test-api-key"

// MockBroker is a mock implementation of the broker interface
type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockBroker) Connect(ctx context.Context, credentials *broker.Credentials) error {
	args := m.Called(ctx, credentials)
	return args.Error(0)
}

func (m *MockBroker) Disconnect() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockBroker) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockBroker) State() broker.ConnectionState {
	args := m.Called()
	return args.Get(0).(broker.ConnectionState)
}

func (m *MockBroker) ExecuteTrade(ctx context.Context, req *broker.TradeRequest) (*broker.TradeResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*broker.TradeResult)
	return res, args.Error(1)
}

func (m *MockBroker) ClosePosition(ctx context.Context, symbol string, volume float64) (*broker.CloseResult, error) {
	args := m.Called(ctx, symbol, volume)
	res, _ := args.Get(0).(*broker.CloseResult)
	return res, args.Error(1)
}

func (m *MockBroker) GetAccountInfo(ctx context.Context) *broker.AccountInfo {
	args := m.Called(ctx)
	info, _ := args.Get(0).(*broker.AccountInfo)
	return info
}

func (m *MockBroker) GetPositions(ctx context.Context, symbol string) []broker.Position {
	args := m.Called(ctx, symbol)
	positions, _ := args.Get(0).([]broker.Position)
	return positions
}

func (m *MockBroker) GetSymbolInfo(ctx context.Context, symbol string) (*broker.SymbolInfo, error) {
	args := m.Called(ctx, symbol)
	info, _ := args.Get(0).(*broker.SymbolInfo)
	return info, args.Error(1)
}

func (m *MockBroker) GetSymbols(ctx context.Context, limit int) []broker.SymbolInfo {
	args := m.Called(ctx, limit)
	symbols, _ := args.Get(0).([]broker.SymbolInfo)
	return symbols
}

// newConnectingMock returns a mock that connects on first use
func newConnectingMock() *MockBroker {
	m := new(MockBroker)
	m.On("Name").Return("mt5").Maybe()
	m.On("IsConnected").Return(false).Maybe()
	m.On("State").Return(broker.StateConnected).Maybe()
	m.On("Connect", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("Disconnect").Return(nil).Maybe()
	return m
}

type envOptions struct {
	risk    config.RiskConfig
	timeout time.Duration
	factory func(brokerType string) (broker.Broker, error)
	trading config.TradingConfig
}

type testEnv struct {
	db         *gorm.DB
	pool       *broker.Pool
	accounts   *AccountService
	alerts     *AlertService
	executions *ExecutionService
	symbols    *SymbolService
	settings   *SettingsService
	trades     *TradeService
	router     *AccountRouter
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		LogLevel: "silent",
	}, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func paperFactory(opts ...paper.Option) func(string) (broker.Broker, error) {
	return func(name string) (broker.Broker, error) {
		return paper.New(name, append([]paper.Option{paper.WithJitter(0), paper.WithLogger(zap.NewNop())}, opts...)...), nil
	}
}

func newTestEnv(t *testing.T, configure ...func(*envOptions)) *testEnv {
	t.Helper()

	o := &envOptions{
		timeout: time.Second,
		factory: paperFactory(),
		trading: config.TradingConfig{
			DefaultLotSize:    0.01,
			MaxDailyTrades:    10,
			MaxRiskPercentage: 2.0,
			MaxSlippage:       3,
			IsActive:          true,
		},
	}
	for _, c := range configure {
		c(o)
	}

	logger := zap.NewNop()
	db := newTestDB(t)

	pool := broker.NewPool(broker.Settings{RequestTimeout: o.timeout, RetryDelay: time.Millisecond}, logger)
	pool.SetFactory(o.factory)
	t.Cleanup(func() { pool.Close() })

	env := &testEnv{
		db:         db,
		pool:       pool,
		accounts:   NewAccountService(db, logger),
		alerts:     NewAlertService(db),
		executions: NewExecutionService(db),
		symbols:    NewSymbolService(db),
		settings:   NewSettingsService(db, o.trading, config.BridgeConfig{APIKey: testAPIKey, BrokerType: "mt5"}, logger),
	}
	_, err := env.settings.Ensure(context.Background())
	require.NoError(t, err)

	env.trades = NewTradeService(TradeDeps{
		DB:         db,
		Pool:       pool,
		Risk:       NewRiskEvaluator(o.risk),
		Alerts:     env.alerts,
		Executions: env.executions,
		Accounts:   env.accounts,
		Symbols:    env.symbols,
		Settings:   env.settings,
		Logger:     logger,
	})
	env.router = NewAccountRouter(env.accounts, env.settings, env.trades, pool, logger)
	return env
}

func (e *testEnv) createAccount(t *testing.T, in AccountInput) *models.Account {
	t.Helper()
	if in.Name == "" {
		in.Name = "acct-" + uuid.NewString()[:8]
	}
	account, err := e.accounts.Create(context.Background(), in)
	require.NoError(t, err)
	return account
}

// seedExecutions records n filled trades for today in the given scope
func (e *testEnv) seedExecutions(t *testing.T, accountID *uint, n int, volume float64) {
	t.Helper()
	alert := &models.Alert{AccountID: accountID, Symbol: "EURUSD", Action: ActionBuy, Status: models.AlertProcessed, ReceivedAt: time.Now().UTC()}
	require.NoError(t, e.db.Create(alert).Error)

	for i := 0; i < n; i++ {
		require.NoError(t, e.db.Create(&models.Execution{
			AlertID:    alert.ID,
			AccountID:  accountID,
			Symbol:     "EURUSD",
			Action:     ActionBuy,
			Volume:     volume,
			Status:     models.ExecutionFilled,
			ExecutedAt: time.Now().UTC(),
		}).Error)
	}
}

func (e *testEnv) countRows(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(model).Count(&n).Error)
	return n
}

func (e *testEnv) lastAlert(t *testing.T) models.Alert {
	t.Helper()
	var alert models.Alert
	require.NoError(t, e.db.Order("id DESC").First(&alert).Error)
	return alert
}

func (e *testEnv) executionsFor(t *testing.T, alertID uint) []models.Execution {
	t.Helper()
	executions, err := e.executions.ForAlert(context.Background(), alertID)
	require.NoError(t, err)
	return executions
}

func payload(kv ...interface{}) map[string]interface{} {
	p := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		p[kv[i].(string)] = kv[i+1]
	}
	return p
}
