package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeVolume(t *testing.T) {
	tests := []struct {
		name   string
		volume float64
		want   float64
	}{
		{"below minimum", 0.005, 0.01},
		{"above maximum", 150, 100},
		{"zero", 0, 0.01},
		{"negative", -1, 0.01},
		{"on step", 0.25, 0.25},
		{"rounds down", 0.123, 0.12},
		{"rounds half up", 0.125, 0.13},
		{"exact maximum", 100, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeVolume(tt.volume, 0.01, 100, 0.01))
		})
	}

	t.Run("coarse step", func(t *testing.T) {
		assert.Equal(t, 1.0, NormalizeVolume(1.4, 1, 10, 1))
		assert.Equal(t, 2.0, NormalizeVolume(1.5, 1, 10, 1))
	})

	t.Run("unbounded maximum", func(t *testing.T) {
		assert.Equal(t, 1234.5, NormalizeVolume(1234.5, 0.1, 0, 0.1))
	})
}

func TestStepPrecision(t *testing.T) {
	assert.Equal(t, 2, StepPrecision(0.01))
	assert.Equal(t, 3, StepPrecision(0.001))
	assert.Equal(t, 0, StepPrecision(1))
	assert.Equal(t, 8, StepPrecision(0))
	assert.Equal(t, "0.010", FormatQuantity(0.01, 3))
}

func TestParseOrderSide(t *testing.T) {
	side, err := ParseOrderSide("buy")
	require.NoError(t, err)
	assert.Equal(t, OrderSideBuy, side)

	side, err = ParseOrderSide("SELL")
	require.NoError(t, err)
	assert.Equal(t, OrderSideSell, side)

	_, err = ParseOrderSide("CLOSE")
	assert.True(t, errors.Is(err, ErrInvalidOrderSide))

	assert.Equal(t, OrderSideSell, GetOppositeOrderSide(OrderSideBuy))
	assert.Equal(t, OrderSideBuy, GetOppositeOrderSide(OrderSideSell))
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "EURUSD", NormalizeSymbol(" eur/usd "))
	assert.Equal(t, "BTCUSDT", NormalizeSymbol("btc-usdt"))
	assert.Equal(t, "US30", NormalizeSymbol("us_30"))
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, IsRetryableError(err))

	err = WithTimeout(context.Background(), time.Second, func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestRetryWithBackoff(t *testing.T) {
	t.Run("retries temporary errors once", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(context.Background(), 1, time.Millisecond, func() error {
			calls++
			return ErrTimeout
		})
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, 2, calls)
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(context.Background(), 1, time.Millisecond, func() error {
			calls++
			return NewBrokerError("mt5", CodeRejected, "Trade failed: 10019 - No money", ErrOrderRejected)
		})
		assert.ErrorIs(t, err, ErrOrderRejected)
		assert.Equal(t, 1, calls)
	})

	t.Run("succeeds on second attempt", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(context.Background(), 1, time.Millisecond, func() error {
			calls++
			if calls == 1 {
				return ErrNetworkError
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})
}

func TestBrokerError(t *testing.T) {
	err := NewBrokerError("mt5", CodeNoPositions, "No open positions for EURUSD", ErrNoPositions)
	assert.ErrorIs(t, err, ErrNoPositions)
	assert.Equal(t, "No open positions for EURUSD", ErrorMessage(err))
	assert.Contains(t, err.Error(), "NO_POSITIONS")
	assert.False(t, IsTemporaryError(err))
	assert.Equal(t, "plain", ErrorMessage(errors.New("plain")))
	assert.Equal(t, "", ErrorMessage(nil))
}
