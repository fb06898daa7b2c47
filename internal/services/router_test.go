package services

import (
	"context"
	"errors"
	"testing"

	"github.com/Cyvadra/tv-bridge/broker"
	"github.com/Cyvadra/tv-bridge/broker/paper"
	"github.com/Cyvadra/tv-bridge/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessForAccountSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.createAccount(t, AccountInput{Name: "main"})

	res, err := env.router.ProcessForAccount(ctx, account.WebhookKey, payload("symbol", "EURUSD", "action", "BUY", "volume", 0.1))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Ticket)
	assert.NotZero(t, res.ExecutionID)

	alert, err := env.alerts.GetAlert(ctx, res.AlertID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertProcessed, alert.Status)
	require.NotNil(t, alert.AccountID)
	assert.Equal(t, account.ID, *alert.AccountID)

	executions := env.executionsFor(t, res.AlertID)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionFilled, executions[0].Status)
	require.NotNil(t, executions[0].AccountID)
	assert.Equal(t, account.ID, *executions[0].AccountID)

	stored, err := env.accounts.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.TotalTrades)
	assert.Equal(t, int64(1), stored.SuccessfulTrades)
	assert.Zero(t, stored.FailedTrades)
	assert.True(t, stored.IsConnected)
	assert.NotNil(t, stored.LastConnected)

	_, ok := env.pool.Get(account.ID)
	assert.True(t, ok)
}

func TestProcessForAccountUnknownKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account := env.createAccount(t, AccountInput{})
	require.NoError(t, env.accounts.Deactivate(ctx, account.ID))

	for _, key := range []string{"", "does-not-exist", account.WebhookKey} {
		_, err := env.router.ProcessForAccount(ctx, key, payload("symbol", "EURUSD", "action", "BUY"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownWebhookKey))
		assert.True(t, errors.Is(err, ErrAuthentication))
		assert.Equal(t, "UNKNOWN_WEBHOOK_KEY", ErrorCode(err))
	}

	assert.Zero(t, env.countRows(t, &models.Alert{}))
	assert.Zero(t, env.countRows(t, &models.Execution{}))
}

func TestProcessForAccountDeactivatedBeforeLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// the router looked the account up before it was deactivated
	stale := env.createAccount(t, AccountInput{})
	require.True(t, stale.IsActive)
	require.NoError(t, env.accounts.Deactivate(ctx, stale.ID))

	_, err := env.trades.execute(ctx, accountTarget(stale), payload("symbol", "EURUSD", "action", "BUY"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownWebhookKey))

	assert.Zero(t, env.countRows(t, &models.Alert{}))
	assert.Zero(t, env.countRows(t, &models.Execution{}))
	_, ok := env.pool.Get(stale.ID)
	assert.False(t, ok)
}

func TestProcessForAccountCounters(t *testing.T) {
	env := newTestEnv(t, func(o *envOptions) {
		o.factory = paperFactory(paper.WithOrderHook(func(req *broker.TradeRequest) (int, string) {
			if req.Symbol == "GBPUSD" {
				return paper.RetcodeMarketClosed, "Market closed"
			}
			return paper.RetcodeDone, ""
		}))
	})
	ctx := context.Background()
	maxTrades := 3
	account := env.createAccount(t, AccountInput{MaxDailyTrades: maxTrades})

	_, err := env.router.ProcessForAccount(ctx, account.WebhookKey, payload("symbol", "EURUSD", "action", "BUY"))
	require.NoError(t, err)

	_, err = env.router.ProcessForAccount(ctx, account.WebhookKey, payload("symbol", "GBPUSD", "action", "BUY"))
	require.Error(t, err)
	assert.Equal(t, "Trade failed: 10018 - Market closed", err.Error())

	_, err = env.router.ProcessForAccount(ctx, account.WebhookKey, payload("symbol", "EURUSD", "action", "CLOSE"))
	require.NoError(t, err)

	// risk denial leaves the counters alone
	_, err = env.router.ProcessForAccount(ctx, account.WebhookKey, payload("symbol", "EURUSD", "action", "SELL"))
	require.Error(t, err)
	assert.Equal(t, "Daily trade limit reached: 3/3", err.Error())

	stored, err := env.accounts.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.TotalTrades)
	assert.Equal(t, int64(2), stored.SuccessfulTrades)
	assert.Equal(t, int64(1), stored.FailedTrades)
	assert.LessOrEqual(t, stored.SuccessfulTrades+stored.FailedTrades, stored.TotalTrades)
}

func TestProcessForAccountIsolatesDailyStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	busy := env.createAccount(t, AccountInput{MaxDailyTrades: 1})
	idle := env.createAccount(t, AccountInput{MaxDailyTrades: 1})
	env.seedExecutions(t, &busy.ID, 1, 0.01)

	_, err := env.router.ProcessForAccount(ctx, busy.WebhookKey, payload("symbol", "EURUSD", "action", "BUY"))
	assert.True(t, errors.Is(err, ErrRiskLimitExceeded))

	_, err = env.router.ProcessForAccount(ctx, idle.WebhookKey, payload("symbol", "EURUSD", "action", "BUY"))
	assert.NoError(t, err)

	// global scope counts only unowned executions
	_, err = env.trades.Process(ctx, payload("symbol", "EURUSD", "action", "BUY"), testAPIKey)
	assert.NoError(t, err)
}

func TestTestConnection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.createAccount(t, AccountInput{})

	info, err := env.router.TestConnection(ctx, account.ID)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "12345678", info.Login)
	assert.Equal(t, "Demo-Server", info.Server)
	assert.Equal(t, 10000.0, info.Balance)
	assert.True(t, info.Simulated)

	stored, err := env.accounts.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsConnected)
	assert.NotNil(t, stored.LastConnected)

	b, ok := env.pool.Get(account.ID)
	require.True(t, ok)
	assert.True(t, b.IsConnected())
}

func TestTestConnectionFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	password := "secret"
	account := env.createAccount(t, AccountInput{Login: "abc", Password: &password})

	_, err := env.router.TestConnection(ctx, account.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnection))
	assert.Equal(t, "Failed to connect: Invalid login: abc", err.Error())

	stored, err := env.accounts.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsConnected)

	_, err = env.router.TestConnection(ctx, 9999)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDisconnectAndDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.createAccount(t, AccountInput{})

	_, err := env.router.TestConnection(ctx, account.ID)
	require.NoError(t, err)

	require.NoError(t, env.router.Disconnect(ctx, account.ID))
	_, ok := env.pool.Get(account.ID)
	assert.False(t, ok)
	stored, err := env.accounts.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsConnected)

	_, err = env.router.TestConnection(ctx, account.ID)
	require.NoError(t, err)

	require.NoError(t, env.router.DeleteAccount(ctx, account.ID))
	_, ok = env.pool.Get(account.ID)
	assert.False(t, ok)
	stored, err = env.accounts.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	assert.True(t, errors.Is(env.router.DeleteAccount(ctx, 9999), ErrNotFound))
	assert.True(t, errors.Is(env.router.Disconnect(ctx, 9999), ErrNotFound))
}

func TestConnectionStatusAndHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	connected := env.createAccount(t, AccountInput{Name: "connected"})
	idle := env.createAccount(t, AccountInput{Name: "idle"})

	_, err := env.router.TestConnection(ctx, connected.ID)
	require.NoError(t, err)

	infos, err := env.router.ConnectionStatus(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, connected.ID, infos[0].AccountID)
	assert.True(t, infos[0].Cached)
	assert.True(t, infos[0].Connected)
	assert.Equal(t, broker.StateConnected, infos[0].State)
	assert.Equal(t, idle.ID, infos[1].AccountID)
	assert.False(t, infos[1].Cached)
	assert.Equal(t, broker.StateDisconnected, infos[1].State)

	b, _ := env.pool.Get(connected.ID)
	require.NoError(t, b.Disconnect())

	env.router.CheckConnections(ctx)
	stored, err := env.accounts.Get(ctx, connected.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsConnected)

	// the next trade reconnects the cached adapter
	_, err = env.router.ProcessForAccount(ctx, connected.WebhookKey, payload("symbol", "EURUSD", "action", "BUY"))
	require.NoError(t, err)
	assert.True(t, b.IsConnected())
}

func TestStartHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	assert.Error(t, env.router.StartHealthCheck("not a schedule"))
	require.NoError(t, env.router.StartHealthCheck("@every 1h"))
	env.router.Stop()
	env.router.Stop()
	assert.NoError(t, env.router.StartHealthCheck(""))
}

func TestWithGlobalBroker(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	status := env.router.GlobalStatus()
	assert.Equal(t, "mt5", status.Broker)
	assert.False(t, status.Connected)

	var info *broker.AccountInfo
	var symbols []broker.SymbolInfo
	err := env.router.WithGlobalBroker(ctx, func(b broker.Broker) error {
		info = b.GetAccountInfo(ctx)
		symbols = b.GetSymbols(ctx, 5)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "12345678", info.Login)
	assert.Len(t, symbols, 5)

	status = env.router.GlobalStatus()
	assert.True(t, status.Connected)
	assert.Equal(t, broker.StateConnected, status.State)
}

func TestResetGlobalUsesUpdatedSettings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.trades.Process(ctx, payload("symbol", "EURUSD", "action", "BUY"), testAPIKey)
	require.NoError(t, err)
	_, ok := env.pool.Get(broker.GlobalScope)
	require.True(t, ok)

	login := "not-a-number"
	_, err = env.settings.Update(ctx, SettingsInput{Login: &login})
	require.NoError(t, err)
	require.NoError(t, env.router.ResetGlobal())
	_, ok = env.pool.Get(broker.GlobalScope)
	assert.False(t, ok)

	_, err = env.trades.Process(ctx, payload("symbol", "EURUSD", "action", "BUY"), testAPIKey)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnection))
	assert.Equal(t, "Failed to connect: Invalid login: not-a-number", err.Error())

	// nothing cached
	assert.NoError(t, env.router.ResetGlobal())
}
