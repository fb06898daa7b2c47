package broker

import (
	"context"
	"errors"
	"fmt"
)

// Common broker errors
var (
	ErrBrokerNotFound     = errors.New("broker not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotConnected       = errors.New("broker not connected")
	ErrSymbolUnavailable  = errors.New("symbol unavailable")
	ErrInvalidOrderSide   = errors.New("invalid order side")
	ErrInvalidVolume      = errors.New("invalid volume")
	ErrNoPositions        = errors.New("no open positions")
	ErrOrderRejected      = errors.New("order rejected")
	ErrNetworkError       = errors.New("network error")
	ErrTimeout            = errors.New("request timeout")
)

// Error codes carried by BrokerError
const (
	CodeNotConnected      = "NOT_CONNECTED"
	CodeConnectionFailed  = "CONNECTION_FAILED"
	CodeSymbolUnavailable = "SYMBOL_UNAVAILABLE"
	CodeRejected          = "REJECTED"
	CodeNoPositions       = "NO_POSITIONS"
	CodeTimeout           = "TIMEOUT"
	CodeNetworkError      = "NETWORK_ERROR"
)

// BrokerError represents a broker-specific error.
// Message is the human-readable text surfaced to webhook callers.
type BrokerError struct {
	Broker  string `json:"broker"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Broker, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Broker, e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new broker error
func NewBrokerError(broker, code, message string, err error) *BrokerError {
	return &BrokerError{
		Broker:  broker,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ErrorMessage extracts the caller-facing message from an adapter error
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var brokerErr *BrokerError
	if errors.As(err, &brokerErr) {
		return brokerErr.Message
	}
	return err.Error()
}

// IsTemporaryError checks if an error is temporary (network, timeout)
func IsTemporaryError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrNetworkError) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var brokerErr *BrokerError
	if errors.As(err, &brokerErr) {
		switch brokerErr.Code {
		case CodeNetworkError, CodeTimeout:
			return true
		}
	}

	return false
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	return IsTemporaryError(err)
}
