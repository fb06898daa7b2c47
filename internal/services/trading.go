package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Cyvadra/tv-bridge/broker"
	"github.com/Cyvadra/tv-bridge/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TradeResult is the successful outcome of a processed webhook
type TradeResult struct {
	Message     string `json:"message"`
	Ticket      string `json:"ticket,omitempty"`
	AlertID     uint   `json:"alert_id"`
	ExecutionID uint   `json:"trade_id,omitempty"`
}

// TradeDeps groups the collaborators of the trade pipeline
type TradeDeps struct {
	DB         *gorm.DB
	Pool       *broker.Pool
	Risk       *RiskEvaluator
	Alerts     *AlertService
	Executions *ExecutionService
	Accounts   *AccountService
	Symbols    *SymbolService
	Settings   *SettingsService
	Forward    *ForwardService
	Logger     *zap.Logger
}

// TradeService runs webhook payloads through parsing, risk checks, broker
// execution and persistence. Work for one account is serialized through the
// pool's per-account lock.
type TradeService struct {
	db         *gorm.DB
	pool       *broker.Pool
	risk       *RiskEvaluator
	alerts     *AlertService
	executions *ExecutionService
	accounts   *AccountService
	symbols    *SymbolService
	settings   *SettingsService
	forward    *ForwardService
	logger     *zap.Logger
}

// NewTradeService creates a new trade service
func NewTradeService(deps TradeDeps) *TradeService {
	return &TradeService{
		db:         deps.DB,
		pool:       deps.Pool,
		risk:       deps.Risk,
		alerts:     deps.Alerts,
		executions: deps.Executions,
		accounts:   deps.Accounts,
		symbols:    deps.Symbols,
		settings:   deps.Settings,
		forward:    deps.Forward,
		logger:     deps.Logger.Named("trade"),
	}
}

// tradeTarget is the account, or the global configuration, a trade runs against
type tradeTarget struct {
	poolID     uint
	accountID  *uint
	name       string
	brokerType string
	creds      *broker.Credentials
	limits     *RiskLimits
	defaultLot float64
	slippage   int
	connected  bool
}

func accountTarget(a *models.Account) *tradeTarget {
	id := a.ID
	return &tradeTarget{
		poolID:     a.ID,
		accountID:  &id,
		name:       a.Name,
		brokerType: a.BrokerType,
		creds:      a.Credentials(),
		limits:     &RiskLimits{Active: a.IsActive, MaxDailyTrades: a.MaxDailyTrades},
		defaultLot: a.DefaultLotSize,
		slippage:   a.MaxSlippage,
		connected:  a.IsConnected,
	}
}

// globalTarget builds the single-account target; cfg may be nil when no
// configuration row exists, in which case risk evaluation denies the trade.
func globalTarget(cfg *models.TradingConfig, brokerType string) *tradeTarget {
	t := &tradeTarget{
		poolID:     broker.GlobalScope,
		name:       "global",
		brokerType: brokerType,
		defaultLot: 0.01,
	}
	if cfg != nil {
		t.brokerType = cfg.BrokerType
		t.creds = cfg.Credentials()
		t.limits = &RiskLimits{Active: cfg.IsActive, MaxDailyTrades: cfg.MaxDailyTrades}
		t.defaultLot = cfg.DefaultLotSize
		t.slippage = cfg.MaxSlippage
	}
	return t
}

// outcome is what a trade attempt leaves to be persisted
type outcome struct {
	execution *models.Execution // nil when the broker stage was not reached
	message   string
	ticket    string
	price     float64
	closed    bool
	flat      bool // no position left for the symbol after a close
	err       *TradeError
}

// Process handles a webhook for the global trading configuration
func (s *TradeService) Process(ctx context.Context, payload map[string]interface{}, apiKey string) (*TradeResult, error) {
	cfg, err := s.settings.Get(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Error("failed to load trading configuration", zap.Error(err))
		return nil, newTradeError(ErrInternal, "Failed to load trading configuration")
	}

	if !s.settings.CheckAPIKey(cfg, apiKey) {
		s.logger.Warn("webhook rejected", zap.String("reason", "invalid API key"))
		return nil, newTradeError(ErrAuthentication, "Invalid API key")
	}

	return s.execute(ctx, globalTarget(cfg, s.settings.brokerType), payload)
}

// execute runs one webhook against a target. Validation failures return
// before anything is written; past that point the alert always ends in a
// terminal status.
func (s *TradeService) execute(ctx context.Context, target *tradeTarget, payload map[string]interface{}) (*TradeResult, error) {
	intent, err := ParseWebhook(payload)
	if err != nil {
		s.logger.Info("webhook payload rejected", zap.String("target", target.name), zap.Error(err))
		return nil, &TradeError{Kind: ErrValidation, Message: err.Error()}
	}

	logger := s.logger.With(
		zap.String("target", target.name),
		zap.String("symbol", intent.Symbol),
		zap.String("action", intent.Action))
	if len(intent.Dropped) > 0 {
		logger.Warn("dropped unparseable fields", zap.Strings("fields", intent.Dropped))
	}

	unlock := s.pool.Lock(target.poolID)
	defer unlock()

	// committed work survives a client disconnect
	store := context.WithoutCancel(ctx)

	// the account may have been deactivated while waiting for the lock
	if target.accountID != nil {
		account, err := s.accounts.Get(store, *target.accountID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			logger.Error("failed to reload account", zap.Error(err))
			return nil, newTradeError(ErrInternal, "Failed to look up account")
		}
		if account == nil || !account.IsActive {
			logger.Warn("webhook for inactive account")
			return nil, ErrUnknownWebhookKey
		}
	}

	alert, err := s.alerts.Record(store, target.accountID, intent, payload)
	if err != nil {
		logger.Error("failed to record alert", zap.Error(err))
		return nil, newTradeError(ErrInternal, "Failed to record alert")
	}
	logger = logger.With(zap.Uint("alert_id", alert.ID))

	out := s.attempt(ctx, target, alert, intent, logger)

	if err := s.finalize(store, target, alert, out); err != nil {
		logger.Error("failed to finalize trade, marking alert failed", zap.Error(err))
		if _, ferr := s.alerts.Finish(store, nil, alert.ID, models.AlertFailed, err.Error()); ferr != nil {
			logger.Error("failed to mark alert failed", zap.Error(ferr))
		}
		out = &outcome{err: newTradeError(ErrInternal, "Failed to record trade outcome: %v", err)}
	}

	s.notify(target, alert, intent, out)

	if out.err != nil {
		logger.Warn("trade failed", zap.String("reason", out.err.Message))
		return nil, out.err
	}

	logger.Info("trade processed", zap.String("ticket", out.ticket))
	return &TradeResult{
		Message:     out.message,
		Ticket:      out.ticket,
		AlertID:     alert.ID,
		ExecutionID: out.execution.ID,
	}, nil
}

// attempt runs the risk and broker stages. A panic becomes an internal error.
func (s *TradeService) attempt(ctx context.Context, target *tradeTarget, alert *models.Alert, intent *TradeIntent, logger *zap.Logger) (out *outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("trade attempt panicked", zap.Any("panic", r), zap.Stack("stack"))
			out = &outcome{err: newTradeError(ErrInternal, "Internal error: %v", r)}
		}
	}()

	store := context.WithoutCancel(ctx)

	policy, err := s.symbols.Get(store, intent.Symbol)
	if err != nil {
		logger.Error("failed to load symbol policy", zap.Error(err))
		return &outcome{err: newTradeError(ErrInternal, "Failed to load symbol policy")}
	}

	stats, err := s.executions.DailyStats(store, target.accountID, time.Now())
	if err != nil {
		logger.Error("failed to load daily statistics", zap.Error(err))
		return &outcome{err: newTradeError(ErrInternal, "Failed to load daily statistics")}
	}

	var limits *RiskLimits
	if target.limits != nil {
		l := *target.limits
		l.Policy = policy
		limits = &l
	}

	volume := effectiveVolume(intent, policy, target.defaultLot)
	decision := s.risk.Evaluate(RiskRequest{Symbol: intent.Symbol, Action: intent.Action, Volume: volume}, limits, stats)
	if !decision.Allowed {
		return &outcome{err: newTradeError(ErrRiskLimitExceeded, "%s", decision.Reason)}
	}

	exec := &models.Execution{
		AlertID:    alert.ID,
		AccountID:  target.accountID,
		Symbol:     intent.Symbol,
		Action:     intent.Action,
		Volume:     volume,
		StopLoss:   intent.StopLoss,
		TakeProfit: intent.TakeProfit,
		Status:     models.ExecutionPending,
	}

	b, err := s.pool.Acquire(ctx, target.poolID, target.brokerType, target.creds)
	if err != nil {
		s.markConnected(store, target, false, logger)
		return failedExecution(exec, ErrConnection, broker.ErrorMessage(err))
	}
	s.markConnected(store, target, true, logger)

	if intent.Action == ActionClose {
		return s.closePosition(ctx, b, exec, intent)
	}
	return s.openPosition(ctx, b, exec, intent, target)
}

func (s *TradeService) openPosition(ctx context.Context, b broker.Broker, exec *models.Execution, intent *TradeIntent, target *tradeTarget) *outcome {
	side, err := broker.ParseOrderSide(intent.Action)
	if err != nil {
		return failedExecution(exec, ErrBrokerRejection, err.Error())
	}

	settings := s.pool.Settings()
	req := &broker.TradeRequest{
		Symbol:     intent.Symbol,
		Side:       side,
		Volume:     exec.Volume,
		Price:      valueOrZero(intent.Price),
		StopLoss:   valueOrZero(intent.StopLoss),
		TakeProfit: valueOrZero(intent.TakeProfit),
		Slippage:   target.slippage,
		Magic:      settings.Magic,
		Comment:    settings.OrderComment,
	}

	var res *broker.TradeResult
	err = s.call(ctx, func(ctx context.Context) error {
		r, err := b.ExecuteTrade(ctx, req)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return failedExecution(exec, brokerFailureKind(err), brokerFailureMessage(err))
	}

	price := res.Price
	exec.Ticket = res.Ticket
	exec.Volume = res.Volume
	exec.OpenPrice = &price
	if !res.ExecutedAt.IsZero() {
		exec.ExecutedAt = res.ExecutedAt
	}
	setStatus(exec, models.ExecutionFilled)

	return &outcome{execution: exec, message: res.Message, ticket: res.Ticket, price: res.Price}
}

func (s *TradeService) closePosition(ctx context.Context, b broker.Broker, exec *models.Execution, intent *TradeIntent) *outcome {
	volume := valueOrZero(intent.Volume)
	exec.Volume = volume

	var res *broker.CloseResult
	err := s.call(ctx, func(ctx context.Context) error {
		r, err := b.ClosePosition(ctx, intent.Symbol, volume)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return failedExecution(exec, brokerFailureKind(err), brokerFailureMessage(err))
	}

	now := time.Now().UTC()
	price := res.Price
	exec.Ticket = strings.Join(res.Tickets, ",")
	exec.Volume = res.Volume
	exec.ClosePrice = &price
	exec.Profit = res.Profit
	exec.ClosedAt = &now
	if len(res.Errors) > 0 {
		exec.ErrorMessage = strings.Join(res.Errors, "; ")
	}
	setStatus(exec, models.ExecutionFilled)

	// a partial close leaves the opening executions filled
	flat := len(b.GetPositions(ctx, intent.Symbol)) == 0
	return &outcome{execution: exec, message: res.Message, ticket: exec.Ticket, price: res.Price, closed: true, flat: flat}
}

// call runs a broker request under the request timeout, retrying once when it timed out
func (s *TradeService) call(ctx context.Context, fn func(ctx context.Context) error) error {
	settings := s.pool.Settings()
	return broker.RetryWithBackoff(ctx, 1, settings.RetryDelay, func() error {
		return broker.WithTimeout(ctx, settings.RequestTimeout, fn)
	})
}

// finalize writes the outcome in one transaction
func (s *TradeService) finalize(ctx context.Context, target *tradeTarget, alert *models.Alert, out *outcome) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if out.execution != nil {
			if err := s.executions.Create(ctx, tx, out.execution); err != nil {
				return err
			}
		}

		status, message := models.AlertProcessed, ""
		if out.err != nil {
			status, message = models.AlertFailed, out.err.Message
		}
		if _, err := s.alerts.Finish(ctx, tx, alert.ID, status, message); err != nil {
			return err
		}

		if out.closed && out.flat {
			closedAt := time.Now().UTC()
			if out.execution.ClosedAt != nil {
				closedAt = *out.execution.ClosedAt
			}
			if _, err := s.executions.CloseOpen(ctx, tx, target.accountID, out.execution.Symbol, out.price, closedAt); err != nil {
				return err
			}
		}

		if target.accountID != nil && out.execution != nil {
			if err := s.accounts.IncrementCounters(ctx, tx, *target.accountID, out.err == nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *TradeService) markConnected(ctx context.Context, target *tradeTarget, connected bool, logger *zap.Logger) {
	if target.accountID == nil || target.connected == connected {
		return
	}
	if err := s.accounts.SetConnected(ctx, *target.accountID, connected); err != nil {
		logger.Warn("failed to update connection state", zap.Error(err))
		return
	}
	target.connected = connected
}

func (s *TradeService) notify(target *tradeTarget, alert *models.Alert, intent *TradeIntent, out *outcome) {
	notice := &TradeNotice{
		Account:   target.name,
		Symbol:    intent.Symbol,
		Action:    intent.Action,
		Ticket:    out.ticket,
		Price:     out.price,
		Success:   out.err == nil,
		Message:   out.message,
		AlertID:   alert.ID,
		Timestamp: time.Now().UTC(),
	}
	if out.execution != nil {
		notice.Volume = out.execution.Volume
	}
	if out.err != nil {
		notice.Message = out.err.Message
	}
	s.forward.Notify(notice)
}

// effectiveVolume picks the explicit volume, then the symbol lot size, then the default
func effectiveVolume(intent *TradeIntent, policy *models.SymbolPolicy, defaultLot float64) float64 {
	if intent.Volume != nil && *intent.Volume > 0 {
		return *intent.Volume
	}
	if policy != nil && policy.LotSize > 0 {
		return policy.LotSize
	}
	return defaultLot
}

func failedExecution(exec *models.Execution, kind error, message string) *outcome {
	setStatus(exec, models.ExecutionFailed)
	exec.ErrorMessage = message
	return &outcome{execution: exec, err: &TradeError{Kind: kind, Message: message}}
}

func setStatus(exec *models.Execution, next models.ExecutionStatus) {
	if !exec.Status.CanTransitionTo(next) {
		panic(fmt.Sprintf("illegal execution transition %s -> %s", exec.Status, next))
	}
	exec.Status = next
}

// brokerFailureKind separates unreachable terminals from refused orders
func brokerFailureKind(err error) error {
	switch {
	case errors.Is(err, broker.ErrTimeout),
		errors.Is(err, broker.ErrNotConnected),
		errors.Is(err, broker.ErrNetworkError),
		errors.Is(err, context.Canceled):
		return ErrConnection
	default:
		return ErrBrokerRejection
	}
}

func brokerFailureMessage(err error) string {
	switch {
	case errors.Is(err, broker.ErrTimeout):
		return "Broker request timed out"
	case errors.Is(err, context.Canceled):
		return "Request cancelled"
	default:
		return broker.ErrorMessage(err)
	}
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
