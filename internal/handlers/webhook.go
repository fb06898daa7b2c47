package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Cyvadra/tv-bridge/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"
)

const (
	bridgeName     = "tv-bridge"
	maxPayloadSize = 1 << 20
)

var errNoPayload = errors.New("No JSON data provided")

// WebhookHandler accepts TradingView alerts
type WebhookHandler struct {
	trades *services.TradeService
	router *services.AccountRouter
	logger *zap.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(trades *services.TradeService, router *services.AccountRouter, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		trades: trades,
		router: router,
		logger: logger.Named("webhook"),
	}
}

// Handle serves POST /webhook against the global configuration
func (h *WebhookHandler) Handle(c *gin.Context) {
	apiKey := c.GetHeader("X-API-Key")
	if apiKey == "" {
		apiKey = c.Query("api_key")
	}

	payload, err := readPayload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), "VALIDATION_ERROR"))
		return
	}

	result, err := h.trades.Process(c.Request.Context(), payload, apiKey)
	if err != nil {
		h.logger.Info("webhook rejected",
			zap.String("code", services.ErrorCode(err)),
			zap.String("reason", messageOf(err)),
			zap.String("remote_ip", c.ClientIP()))
		c.JSON(statusFor(err), errorBody(messageOf(err), services.ErrorCode(err)))
		return
	}

	body := gin.H{
		"status":  "success",
		"message": result.Message,
	}
	if result.Ticket != "" {
		body["ticket"] = result.Ticket
	}
	c.JSON(http.StatusOK, body)
}

// HandleAccount serves POST /webhook/:key for the account owning the key
func (h *WebhookHandler) HandleAccount(c *gin.Context) {
	key := c.Param("key")

	payload, err := readPayload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), "PROCESSING_ERROR"))
		return
	}

	result, err := h.router.ProcessForAccount(c.Request.Context(), key, payload)
	if err != nil {
		if errors.Is(err, services.ErrUnknownWebhookKey) {
			h.logger.Warn("unknown webhook key", zap.String("remote_ip", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, errorBody("Invalid webhook key", services.ErrorCode(err)))
			return
		}
		c.JSON(http.StatusBadRequest, errorBody(messageOf(err), "PROCESSING_ERROR"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"message":     result.Message,
		"ticket":      result.Ticket,
		"trade_id":    result.ExecutionID,
		"alert_id":    result.AlertID,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"bridge":      bridgeName,
		"webhook_key": key,
	})
}

// readPayload decodes a JSON object whatever the content type, falling back
// to form fields.
func readPayload(c *gin.Context) (map[string]interface{}, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadSize))
	if err != nil {
		return nil, errNoPayload
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err == nil && payload != nil {
		return payload, nil
	}

	var values url.Values
	switch c.ContentType() {
	case binding.MIMEPOSTForm:
		values, err = url.ParseQuery(string(body))
		if err != nil {
			return nil, errNoPayload
		}
	case binding.MIMEMultipartPOSTForm:
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		if err := c.Request.ParseMultipartForm(maxPayloadSize); err != nil {
			return nil, errNoPayload
		}
		values = c.Request.MultipartForm.Value
	}

	if len(values) == 0 {
		return nil, errNoPayload
	}
	payload = make(map[string]interface{}, len(values))
	for k, v := range values {
		if len(v) > 0 {
			payload[k] = v[0]
		}
	}
	return payload, nil
}
