package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NormalizeSymbol normalizes symbol format (removes common variations)
func NormalizeSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	symbol = strings.ReplaceAll(symbol, "-", "")
	symbol = strings.ReplaceAll(symbol, "_", "")
	symbol = strings.ReplaceAll(symbol, "/", "")
	return symbol
}

// ParseOrderSide converts a webhook action into an order side
func ParseOrderSide(action string) (OrderSide, error) {
	switch OrderSide(strings.ToUpper(action)) {
	case OrderSideBuy:
		return OrderSideBuy, nil
	case OrderSideSell:
		return OrderSideSell, nil
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidOrderSide, action)
}

// GetOppositeOrderSide returns the opposite order side
func GetOppositeOrderSide(side OrderSide) OrderSide {
	if side == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// NormalizeVolume clamps volume into [min, max] and rounds it to the nearest
// multiple of step, half away from zero. A non-positive max or step disables
// that bound.
func NormalizeVolume(volume, min, max, step float64) float64 {
	v := decimal.NewFromFloat(volume)
	lo := decimal.NewFromFloat(min)
	hi := decimal.NewFromFloat(max)

	if max > 0 && v.GreaterThan(hi) {
		v = hi
	}
	if v.LessThan(lo) {
		v = lo
	}

	if step > 0 {
		s := decimal.NewFromFloat(step)
		v = v.Div(s).Round(0).Mul(s)
		if v.LessThan(lo) {
			v = v.Add(s)
		}
		if max > 0 && v.GreaterThan(hi) {
			v = v.Sub(s)
		}
	}

	f, _ := v.Float64()
	return f
}

// StepPrecision returns the number of decimals implied by a volume step
func StepPrecision(step float64) int {
	if step <= 0 {
		return 8
	}
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return int(-exp)
}

// FormatQuantity formats a quantity for API requests
func FormatQuantity(quantity float64, precision int) string {
	return decimal.NewFromFloat(quantity).StringFixed(int32(precision))
}

// ParseFloat parses a numeric API field, returning 0 for empty input
func ParseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// WithTimeout runs fn under a deadline and maps deadline expiry to ErrTimeout
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(timeoutCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// RetryWithBackoff executes a function with exponential backoff
func RetryWithBackoff(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			if delay > time.Minute {
				delay = time.Minute
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			break
		}
	}

	return lastErr
}
