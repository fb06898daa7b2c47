package services

import (
	"errors"
	"fmt"
)

// Failure kinds of the trade pipeline. Match with errors.Is.
var (
	ErrAuthentication    = errors.New("authentication failed")
	ErrValidation        = errors.New("validation failed")
	ErrRiskLimitExceeded = errors.New("risk limit exceeded")
	ErrConnection        = errors.New("broker connection failed")
	ErrBrokerRejection   = errors.New("broker rejected order")
	ErrInternal          = errors.New("internal error")

	ErrUnknownWebhookKey = fmt.Errorf("unknown webhook key: %w", ErrAuthentication)
	ErrNotFound          = errors.New("record not found")
)

// TradeError carries the caller-facing reason of a failed trade
type TradeError struct {
	Kind    error
	Message string
}

func (e *TradeError) Error() string {
	return e.Message
}

func (e *TradeError) Unwrap() error {
	return e.Kind
}

func newTradeError(kind error, format string, args ...interface{}) *TradeError {
	return &TradeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ValidationError reports a malformed webhook payload
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func missingField(name string) *ValidationError {
	return &ValidationError{Field: name, Reason: fmt.Sprintf("Missing required field: %s", name)}
}

func invalidAction(value interface{}) *ValidationError {
	return &ValidationError{Field: "action", Reason: fmt.Sprintf("Invalid action: %v", value)}
}

// ErrorCode maps an error to the code returned in JSON error bodies
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownWebhookKey):
		return "UNKNOWN_WEBHOOK_KEY"
	case errors.Is(err, ErrAuthentication):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrRiskLimitExceeded):
		return "RISK_LIMIT_EXCEEDED"
	case errors.Is(err, ErrConnection):
		return "CONNECTION_ERROR"
	case errors.Is(err, ErrBrokerRejection):
		return "BROKER_REJECTION"
	default:
		return "INTERNAL_ERROR"
	}
}
