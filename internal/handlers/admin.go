package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Cyvadra/tv-bridge/broker"
	"github.com/Cyvadra/tv-bridge/internal/models"
	"github.com/Cyvadra/tv-bridge/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// AdminServices groups the services behind the admin API
type AdminServices struct {
	Accounts   *services.AccountService
	Alerts     *services.AlertService
	Executions *services.ExecutionService
	Settings   *services.SettingsService
	Symbols    *services.SymbolService
	Stats      *services.StatsService
	Router     *services.AccountRouter
}

// AdminHandler serves the authenticated management API
type AdminHandler struct {
	svc    AdminServices
	logger *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(svc AdminServices, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		svc:    svc,
		logger: logger.Named("admin"),
	}
}

type accountView struct {
	models.Account
	SuccessRate float64 `json:"success_rate"`
	WebhookURL  string  `json:"webhook_url"`
}

func newAccountView(a *models.Account) accountView {
	return accountView{
		Account:     *a,
		SuccessRate: a.SuccessRate(),
		WebhookURL:  "/webhook/" + a.WebhookKey,
	}
}

type symbolURI struct {
	Symbol string `uri:"symbol" binding:"required,symbol"`
}

// ListAccounts lists active accounts, or all with ?all=true
func (h *AdminHandler) ListAccounts(c *gin.Context) {
	all := cast.ToBool(c.Query("all"))

	accounts, err := h.svc.Accounts.List(c.Request.Context(), all)
	if err != nil {
		respondAdminError(c, err, "Failed to retrieve accounts")
		return
	}

	views := make([]accountView, 0, len(accounts))
	for i := range accounts {
		views = append(views, newAccountView(&accounts[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"accounts": views,
		"total":    len(views),
	})
}

// CreateAccount registers an account and returns its webhook key
func (h *AdminHandler) CreateAccount(c *gin.Context) {
	var in services.AccountInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), "VALIDATION_ERROR"))
		return
	}

	account, err := h.svc.Accounts.Create(c.Request.Context(), in)
	if err != nil {
		respondAdminError(c, err, "Failed to create account")
		return
	}

	h.logger.Info("account created",
		zap.Uint("account_id", account.ID),
		zap.String("name", account.Name),
		zap.String("by", c.GetString("username")))
	c.JSON(http.StatusCreated, newAccountView(account))
}

// GetAccount returns one account
func (h *AdminHandler) GetAccount(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	account, err := h.svc.Accounts.Get(c.Request.Context(), id)
	if err != nil {
		respondAdminError(c, err, "Failed to retrieve account")
		return
	}
	c.JSON(http.StatusOK, newAccountView(account))
}

// UpdateAccount edits an account and drops its cached adapter so new
// credentials apply on the next trade.
func (h *AdminHandler) UpdateAccount(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var in services.AccountInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), "VALIDATION_ERROR"))
		return
	}

	ctx := c.Request.Context()
	account, err := h.svc.Accounts.Update(ctx, id, in)
	if err != nil {
		respondAdminError(c, err, "Failed to update account")
		return
	}
	if err := h.svc.Router.Disconnect(ctx, id); err != nil {
		h.logger.Warn("failed to drop cached adapter", zap.Uint("account_id", id), zap.Error(err))
	} else {
		account.IsConnected = false
	}

	c.JSON(http.StatusOK, newAccountView(account))
}

// DeleteAccount deactivates an account
func (h *AdminHandler) DeleteAccount(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.svc.Router.DeleteAccount(c.Request.Context(), id); err != nil {
		respondAdminError(c, err, "Failed to delete account")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Account deactivated"})
}

// TestAccount reconnects an account and reports its balance
func (h *AdminHandler) TestAccount(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	info, err := h.svc.Router.TestConnection(c.Request.Context(), id)
	if err != nil {
		respondAdminError(c, err, "Failed to test connection")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "success",
		"message":      "Connection successful",
		"account_info": info,
	})
}

// DisconnectAccount drops the cached adapter of an account
func (h *AdminHandler) DisconnectAccount(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.svc.Router.Disconnect(c.Request.Context(), id); err != nil {
		respondAdminError(c, err, "Failed to disconnect account")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Disconnected"})
}

// ListAlerts lists alerts with pagination
func (h *AdminHandler) ListAlerts(c *gin.Context) {
	filter := services.AlertFilter{
		Page:   cast.ToInt(c.DefaultQuery("page", "1")),
		Limit:  cast.ToInt(c.DefaultQuery("limit", "20")),
		Status: c.Query("status"),
		Symbol: broker.NormalizeSymbol(c.Query("symbol")),
	}
	if raw := c.Query("account_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody("Invalid account_id", "VALIDATION_ERROR"))
			return
		}
		accountID := uint(id)
		filter.AccountID = &accountID
	}

	alerts, total, err := h.svc.Alerts.GetAlerts(c.Request.Context(), filter)
	if err != nil {
		respondAdminError(c, err, "Failed to retrieve alerts")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"total":  total,
		"page":   filter.Page,
		"limit":  filter.Limit,
	})
}

// GetAlert returns one alert
func (h *AdminHandler) GetAlert(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	alert, err := h.svc.Alerts.GetAlert(c.Request.Context(), id)
	if err != nil {
		respondAdminError(c, err, "Failed to retrieve alert")
		return
	}
	c.JSON(http.StatusOK, alert)
}

// GetAlertExecutions returns the executions recorded for an alert
func (h *AdminHandler) GetAlertExecutions(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	executions, err := h.svc.Executions.ForAlert(c.Request.Context(), id)
	if err != nil {
		respondAdminError(c, err, "Failed to retrieve executions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": executions})
}

// GetSettings returns the global trading configuration
func (h *AdminHandler) GetSettings(c *gin.Context) {
	cfg, err := h.svc.Settings.Get(c.Request.Context())
	if err != nil {
		respondAdminError(c, err, "Failed to retrieve settings")
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// UpdateSettings edits the global trading configuration
func (h *AdminHandler) UpdateSettings(c *gin.Context) {
	var in services.SettingsInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), "VALIDATION_ERROR"))
		return
	}

	cfg, err := h.svc.Settings.Update(c.Request.Context(), in)
	if err != nil {
		respondAdminError(c, err, "Failed to update settings")
		return
	}
	if err := h.svc.Router.ResetGlobal(); err != nil {
		h.logger.Warn("global adapter disconnect failed", zap.Error(err))
	}

	h.logger.Info("trading settings updated", zap.String("by", c.GetString("username")))
	c.JSON(http.StatusOK, cfg)
}

// ListSymbols lists symbol policies
func (h *AdminHandler) ListSymbols(c *gin.Context) {
	policies, err := h.svc.Symbols.List(c.Request.Context())
	if err != nil {
		respondAdminError(c, err, "Failed to retrieve symbols")
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbols": policies})
}

// UpsertSymbol creates or replaces the policy of a symbol
func (h *AdminHandler) UpsertSymbol(c *gin.Context) {
	var uri symbolURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("Invalid symbol", "VALIDATION_ERROR"))
		return
	}

	var in services.SymbolPolicyInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), "VALIDATION_ERROR"))
		return
	}

	policy, err := h.svc.Symbols.Upsert(c.Request.Context(), uri.Symbol, in)
	if err != nil {
		respondAdminError(c, err, "Failed to save symbol")
		return
	}
	c.JSON(http.StatusOK, policy)
}

// DeleteSymbol removes the policy of a symbol
func (h *AdminHandler) DeleteSymbol(c *gin.Context) {
	if err := h.svc.Symbols.Delete(c.Request.Context(), c.Param("symbol")); err != nil {
		respondAdminError(c, err, "Failed to delete symbol")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Symbol deleted"})
}

// GetStats aggregates the last ?hours of activity
func (h *AdminHandler) GetStats(c *gin.Context) {
	hours := cast.ToInt(c.DefaultQuery("hours", "24"))

	stats, err := h.svc.Stats.Stats(c.Request.Context(), hours)
	if err != nil {
		respondAdminError(c, err, "Failed to compute stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetDashboard returns the overview counters and recent alerts
func (h *AdminHandler) GetDashboard(c *gin.Context) {
	dashboard, err := h.svc.Stats.Dashboard(c.Request.Context())
	if err != nil {
		respondAdminError(c, err, "Failed to compute dashboard")
		return
	}
	c.JSON(http.StatusOK, dashboard)
}

// GetConnections reports the adapter state of every active account
func (h *AdminHandler) GetConnections(c *gin.Context) {
	infos, err := h.svc.Router.ConnectionStatus(c.Request.Context())
	if err != nil {
		respondAdminError(c, err, "Failed to retrieve connections")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"connections": infos,
		"global":      h.svc.Router.GlobalStatus(),
	})
}

// GetBrokerStatus reports the adapter of the global configuration
func (h *AdminHandler) GetBrokerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Router.GlobalStatus())
}

// GetBrokerAccount returns the balance of the global account
func (h *AdminHandler) GetBrokerAccount(c *gin.Context) {
	h.withBroker(c, func(ctx context.Context, b broker.Broker) (interface{}, error) {
		info := b.GetAccountInfo(ctx)
		if info == nil {
			return nil, services.ErrNotFound
		}
		return info, nil
	})
}

// GetBrokerSymbols lists tradable symbols, ?limit=50 by default
func (h *AdminHandler) GetBrokerSymbols(c *gin.Context) {
	limit := cast.ToInt(c.DefaultQuery("limit", "50"))
	if limit <= 0 {
		limit = 50
	}

	h.withBroker(c, func(ctx context.Context, b broker.Broker) (interface{}, error) {
		return gin.H{"symbols": b.GetSymbols(ctx, limit)}, nil
	})
}

// GetBrokerSymbol returns the trading parameters of one symbol
func (h *AdminHandler) GetBrokerSymbol(c *gin.Context) {
	var uri symbolURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("Invalid symbol", "VALIDATION_ERROR"))
		return
	}

	h.withBroker(c, func(ctx context.Context, b broker.Broker) (interface{}, error) {
		info, err := b.GetSymbolInfo(ctx, broker.NormalizeSymbol(uri.Symbol))
		if err != nil {
			return nil, services.ErrNotFound
		}
		return info, nil
	})
}

// GetBrokerPositions lists open positions, optionally for one ?symbol
func (h *AdminHandler) GetBrokerPositions(c *gin.Context) {
	symbol := broker.NormalizeSymbol(c.Query("symbol"))

	h.withBroker(c, func(ctx context.Context, b broker.Broker) (interface{}, error) {
		return gin.H{"positions": b.GetPositions(ctx, symbol)}, nil
	})
}

func (h *AdminHandler) withBroker(c *gin.Context, fn func(ctx context.Context, b broker.Broker) (interface{}, error)) {
	ctx := c.Request.Context()

	var body interface{}
	err := h.svc.Router.WithGlobalBroker(ctx, func(b broker.Broker) error {
		var err error
		body, err = fn(ctx, b)
		return err
	})
	if err != nil {
		respondAdminError(c, err, "Broker request failed")
		return
	}
	c.JSON(http.StatusOK, body)
}
