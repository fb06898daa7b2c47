package broker

import (
	"fmt"
	"time"
)

// Settings controls how the pipeline talks to adapters
type Settings struct {
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	RetryDelay     time.Duration `yaml:"retry_delay" json:"retry_delay"`
	Magic          int           `yaml:"magic" json:"magic"`
	OrderComment   string        `yaml:"order_comment" json:"order_comment"`
}

// DefaultSettings returns the settings used when none are configured
func DefaultSettings() Settings {
	return Settings{
		RequestTimeout: 30 * time.Second,
		RetryDelay:     500 * time.Millisecond,
		Magic:          234000,
		OrderComment:   "TradingView Webhook",
	}
}

// WithDefaults fills zero values from DefaultSettings
func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	if s.RequestTimeout == 0 {
		s.RequestTimeout = d.RequestTimeout
	}
	if s.RetryDelay == 0 {
		s.RetryDelay = d.RetryDelay
	}
	if s.Magic == 0 {
		s.Magic = d.Magic
	}
	if s.OrderComment == "" {
		s.OrderComment = d.OrderComment
	}
	return s
}

// Validate checks the settings
func (s Settings) Validate() error {
	if s.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must not be negative")
	}
	if s.RetryDelay < 0 {
		return fmt.Errorf("retry delay must not be negative")
	}
	return nil
}
