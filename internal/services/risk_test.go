package services

import (
	"testing"

	"github.com/Cyvadra/tv-bridge/internal/config"
	"github.com/Cyvadra/tv-bridge/internal/models"
	"github.com/stretchr/testify/assert"
)

func baselineLimits() *RiskLimits {
	return &RiskLimits{Active: true, MaxDailyTrades: 10}
}

func TestRiskEvaluatorBaseline(t *testing.T) {
	e := NewRiskEvaluator(config.RiskConfig{})

	tests := []struct {
		name    string
		req     RiskRequest
		limits  *RiskLimits
		stats   DailyStats
		allowed bool
		reason  string
	}{
		{"no configuration", RiskRequest{"EURUSD", ActionBuy, 0.1}, nil, DailyStats{}, false, "No trading configuration found"},
		{"inactive", RiskRequest{"EURUSD", ActionBuy, 0.1}, &RiskLimits{MaxDailyTrades: 10}, DailyStats{}, false, "Trading configuration not active"},
		{"under limit", RiskRequest{"EURUSD", ActionBuy, 0.1}, baselineLimits(), DailyStats{Trades: 9}, true, "Risk checks passed"},
		{"daily limit", RiskRequest{"EURUSD", ActionBuy, 0.1}, baselineLimits(), DailyStats{Trades: 10}, false, "Daily trade limit reached: 10/10"},
		{"close counts against limit", RiskRequest{"EURUSD", ActionClose, 0}, baselineLimits(), DailyStats{Trades: 10}, false, "Daily trade limit reached: 10/10"},
		{"close approved", RiskRequest{"EURUSD", ActionClose, 0}, baselineLimits(), DailyStats{Trades: 3}, true, "Close action approved"},
		{
			"symbol disabled",
			RiskRequest{"EURUSD", ActionBuy, 0.1},
			&RiskLimits{Active: true, MaxDailyTrades: 10, Policy: &models.SymbolPolicy{Symbol: "EURUSD", MaxPositionSize: 1}},
			DailyStats{}, false, "Trading disabled for symbol: EURUSD",
		},
		{
			"policy max position",
			RiskRequest{"EURUSD", ActionSell, 1.5},
			&RiskLimits{Active: true, MaxDailyTrades: 10, Policy: &models.SymbolPolicy{Symbol: "EURUSD", MaxPositionSize: 1, IsEnabled: true}},
			DailyStats{}, false, "Volume exceeds limit: 1.5 > 1",
		},
		{
			"close ignores disabled symbol",
			RiskRequest{"EURUSD", ActionClose, 0},
			&RiskLimits{Active: true, MaxDailyTrades: 10, Policy: &models.SymbolPolicy{Symbol: "EURUSD"}},
			DailyStats{}, true, "Close action approved",
		},
		{"enhanced checks off", RiskRequest{"BTCUSD", ActionBuy, 50}, baselineLimits(), DailyStats{Volume: 100}, true, "Risk checks passed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(tt.req, tt.limits, tt.stats)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestRiskEvaluatorEnhanced(t *testing.T) {
	e := NewRiskEvaluator(config.RiskConfig{
		Enhanced:        true,
		AllowedSymbols:  []string{"EURUSD", "GBPUSD", "USDJPY", "AUDUSD"},
		MaxDailyVolume:  10,
		MaxPositionSize: 2,
	})

	tests := []struct {
		name    string
		req     RiskRequest
		stats   DailyStats
		allowed bool
		reason  string
	}{
		{"allowed", RiskRequest{"GBPUSD", ActionBuy, 1}, DailyStats{Volume: 2}, true, "Risk checks passed"},
		{"not in allow list", RiskRequest{"XAUUSD", ActionBuy, 1}, DailyStats{}, false, "Symbol XAUUSD not in allowed list: EURUSD, GBPUSD, USDJPY, AUDUSD"},
		{"daily volume", RiskRequest{"EURUSD", ActionBuy, 1.5}, DailyStats{Volume: 9}, false, "Daily volume limit exceeded: 10.50 > 10"},
		{"daily volume exactly at ceiling", RiskRequest{"EURUSD", ActionBuy, 0.3}, DailyStats{Volume: 9.7}, true, "Risk checks passed"},
		{"position ceiling", RiskRequest{"EURUSD", ActionSell, 2.5}, DailyStats{}, false, "Position size too large: 2.5 > 2"},
		{"close skips enhanced checks", RiskRequest{"XAUUSD", ActionClose, 0}, DailyStats{Volume: 50}, true, "Close action approved"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(tt.req, baselineLimits(), tt.stats)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestRiskEvaluatorCloseBypassFlag(t *testing.T) {
	full := DailyStats{Trades: 10}

	t.Run("flag off blocks close at the limit", func(t *testing.T) {
		e := NewRiskEvaluator(config.RiskConfig{CloseBypassesDailyLimit: false})
		d := e.Evaluate(RiskRequest{"EURUSD", ActionClose, 0}, baselineLimits(), full)
		assert.False(t, d.Allowed)
		assert.Equal(t, "Daily trade limit reached: 10/10", d.Reason)
	})

	t.Run("flag on lets close through", func(t *testing.T) {
		e := NewRiskEvaluator(config.RiskConfig{CloseBypassesDailyLimit: true})
		d := e.Evaluate(RiskRequest{"EURUSD", ActionClose, 0}, baselineLimits(), full)
		assert.True(t, d.Allowed)
		assert.Equal(t, "Close action approved", d.Reason)
	})

	t.Run("flag on still limits opening trades", func(t *testing.T) {
		e := NewRiskEvaluator(config.RiskConfig{CloseBypassesDailyLimit: true})
		d := e.Evaluate(RiskRequest{"EURUSD", ActionBuy, 0.1}, baselineLimits(), full)
		assert.False(t, d.Allowed)
	})
}
