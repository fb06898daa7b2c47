package services

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Cyvadra/tv-bridge/internal/config"
	"github.com/Cyvadra/tv-bridge/internal/models"
	"github.com/shopspring/decimal"
)

// RiskRequest is the trade being checked
type RiskRequest struct {
	Symbol string
	Action string
	Volume float64
}

// RiskLimits are the account-level limits in force for a trade
type RiskLimits struct {
	Active         bool
	MaxDailyTrades int
	Policy         *models.SymbolPolicy
}

// DailyStats aggregates the executions of the current UTC day
type DailyStats struct {
	Trades int64
	Volume float64
}

// RiskDecision is the outcome of a risk evaluation
type RiskDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// RiskEvaluator checks trades against account limits, symbol policies and,
// when enabled, the enhanced allow-list and volume ceilings.
type RiskEvaluator struct {
	cfg     config.RiskConfig
	allowed map[string]bool
}

// NewRiskEvaluator creates a new risk evaluator
func NewRiskEvaluator(cfg config.RiskConfig) *RiskEvaluator {
	allowed := make(map[string]bool, len(cfg.AllowedSymbols))
	for _, s := range cfg.AllowedSymbols {
		allowed[strings.ToUpper(s)] = true
	}
	return &RiskEvaluator{cfg: cfg, allowed: allowed}
}

// Evaluate runs the checks in order; the first failing check decides
func (e *RiskEvaluator) Evaluate(req RiskRequest, limits *RiskLimits, stats DailyStats) RiskDecision {
	if limits == nil {
		return deny("No trading configuration found")
	}
	if !limits.Active {
		return deny("Trading configuration not active")
	}

	isClose := req.Action == ActionClose
	if !(isClose && e.cfg.CloseBypassesDailyLimit) && stats.Trades >= int64(limits.MaxDailyTrades) {
		return deny(fmt.Sprintf("Daily trade limit reached: %d/%d", stats.Trades, limits.MaxDailyTrades))
	}

	if isClose {
		return RiskDecision{Allowed: true, Reason: "Close action approved"}
	}

	if p := limits.Policy; p != nil {
		if !p.IsEnabled {
			return deny(fmt.Sprintf("Trading disabled for symbol: %s", req.Symbol))
		}
		if p.MaxPositionSize > 0 && req.Volume > p.MaxPositionSize {
			return deny(fmt.Sprintf("Volume exceeds limit: %s > %s", formatVolume(req.Volume), formatVolume(p.MaxPositionSize)))
		}
	}

	if e.cfg.Enhanced {
		if len(e.allowed) > 0 && !e.allowed[req.Symbol] {
			return deny(fmt.Sprintf("Symbol %s not in allowed list: %s", req.Symbol, strings.Join(e.cfg.AllowedSymbols, ", ")))
		}

		if e.cfg.MaxDailyVolume > 0 {
			total := decimal.NewFromFloat(stats.Volume).Add(decimal.NewFromFloat(req.Volume))
			if total.GreaterThan(decimal.NewFromFloat(e.cfg.MaxDailyVolume)) {
				return deny(fmt.Sprintf("Daily volume limit exceeded: %s > %s", total.StringFixed(2), formatVolume(e.cfg.MaxDailyVolume)))
			}
		}

		if e.cfg.MaxPositionSize > 0 && req.Volume > e.cfg.MaxPositionSize {
			return deny(fmt.Sprintf("Position size too large: %s > %s", formatVolume(req.Volume), formatVolume(e.cfg.MaxPositionSize)))
		}
	}

	return RiskDecision{Allowed: true, Reason: "Risk checks passed"}
}

func deny(reason string) RiskDecision {
	return RiskDecision{Allowed: false, Reason: reason}
}

func formatVolume(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
