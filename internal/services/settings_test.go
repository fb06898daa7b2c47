package services

import (
	"context"
	"errors"
	"testing"

	"github.com/Cyvadra/tv-bridge/internal/config"
	"github.com/Cyvadra/tv-bridge/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSettingsEnsureSeedsOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := NewSettingsService(db, config.TradingConfig{
		ServerIP:       "mt5.example.com",
		ServerPort:     443,
		Login:          "5001",
		DefaultLotSize: 0.02,
		MaxDailyTrades: 7,
		IsActive:       true,
	}, config.BridgeConfig{APIKey: "seed-key", BrokerType: "mt4"}, zap.NewNop())

	_, err := svc.Get(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))

	cfg, err := svc.Ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mt4", cfg.BrokerType)
	assert.Equal(t, "seed-key", cfg.APIKey)
	assert.Equal(t, 7, cfg.MaxDailyTrades)
	assert.Equal(t, 0.02, cfg.DefaultLotSize)

	again, err := svc.Ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, again.ID)

	var n int64
	require.NoError(t, db.Model(&models.TradingConfig{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestSettingsUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	login := "777"
	inactive := false
	cfg, err := env.settings.Update(ctx, SettingsInput{
		BrokerType:     "BINANCE",
		Login:          &login,
		MaxDailyTrades: 25,
		IsActive:       &inactive,
	})
	require.NoError(t, err)

	stored, err := env.settings.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, stored.ID)
	assert.Equal(t, "binance", stored.BrokerType)
	assert.Equal(t, "777", stored.Login)
	assert.Equal(t, 25, stored.MaxDailyTrades)
	assert.False(t, stored.IsActive)
	assert.Equal(t, 0.01, stored.DefaultLotSize)
	assert.Equal(t, testAPIKey, stored.APIKey)
}

func TestCheckAPIKey(t *testing.T) {
	svc := NewSettingsService(nil, config.TradingConfig{}, config.BridgeConfig{APIKey: "bridge-key"}, zap.NewNop())

	tests := []struct {
		name string
		cfg  *models.TradingConfig
		key  string
		want bool
	}{
		{"stored key matches", &models.TradingConfig{APIKey: "stored-key"}, "stored-key", true},
		{"stored key wins over bridge key", &models.TradingConfig{APIKey: "stored-key"}, "bridge-key", false},
		{"bridge key when none stored", &models.TradingConfig{}, "bridge-key", true},
		{"bridge key without row", nil, "bridge-key", true},
		{"empty key", nil, "", false},
		{"wrong key", nil, "nope", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.CheckAPIKey(tt.cfg, tt.key))
		})
	}

	empty := NewSettingsService(nil, config.TradingConfig{}, config.BridgeConfig{}, zap.NewNop())
	assert.False(t, empty.CheckAPIKey(nil, ""))
}

func TestSymbolPolicies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	policy, err := env.symbols.Get(ctx, "EURUSD")
	require.NoError(t, err)
	assert.Nil(t, policy)

	created, err := env.symbols.Upsert(ctx, "eur/usd", SymbolPolicyInput{LotSize: 0.1})
	require.NoError(t, err)
	assert.Equal(t, "EURUSD", created.Symbol)
	assert.Equal(t, 0.1, created.LotSize)
	assert.Equal(t, 1.0, created.MaxPositionSize)
	assert.True(t, created.IsEnabled)

	disabled := false
	updated, err := env.symbols.Upsert(ctx, "EURUSD", SymbolPolicyInput{LotSize: 0.2, MaxPositionSize: 3, IsEnabled: &disabled})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, 0.2, updated.LotSize)
	assert.Equal(t, 3.0, updated.MaxPositionSize)
	assert.False(t, updated.IsEnabled)

	_, err = env.symbols.Upsert(ctx, "XAUUSD", SymbolPolicyInput{})
	require.NoError(t, err)

	policies, err := env.symbols.List(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, "EURUSD", policies[0].Symbol)
	assert.Equal(t, "XAUUSD", policies[1].Symbol)

	require.NoError(t, env.symbols.Delete(ctx, "eurusd"))
	assert.True(t, errors.Is(env.symbols.Delete(ctx, "EURUSD"), ErrNotFound))

	_, err = env.symbols.Upsert(ctx, " ", SymbolPolicyInput{})
	assert.Error(t, err)
}
