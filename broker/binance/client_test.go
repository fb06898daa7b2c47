package binance

import (
	"context"
	"errors"
	"testing"

	"github.com/Cyvadra/tv-bridge/broker"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	client := NewClient()

	assert.NotNil(t, client)
	assert.Equal(t, "binance", client.Name())
	assert.False(t, client.IsConnected())
	assert.Equal(t, broker.StateDisconnected, client.State())
}

func TestNewClientWithTestnet(t *testing.T) {
	assert.True(t, NewClient().(*Client).Testnet())

	live := NewClientWithTestnet(false).(*Client)
	assert.False(t, live.Testnet())
	assert.Equal(t, "binance", live.Name())

	assert.True(t, NewClientWithTestnet(true).(*Client).Testnet())
}

func TestBrokerRegistration(t *testing.T) {
	assert.Contains(t, broker.GetRegisteredBrokers(), "binance")

	b, err := broker.Create("binance")
	require.NoError(t, err)
	assert.Equal(t, "binance", b.Name())
}

func TestConnectRequiresBothKeys(t *testing.T) {
	client := NewClient()

	err := client.Connect(context.Background(), &broker.Credentials{Login: "key-only"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, broker.ErrInvalidCredentials))
	assert.False(t, client.IsConnected())
}

func TestEmptyCredentialsFallBackToSimulation(t *testing.T) {
	ctx := context.Background()
	client := NewClient()

	require.NoError(t, client.Connect(ctx, &broker.Credentials{}))
	assert.True(t, client.IsConnected())

	info := client.GetAccountInfo(ctx)
	require.NotNil(t, info)
	assert.True(t, info.Simulated)
	assert.Equal(t, 10000.0, info.Balance)

	res, err := client.ExecuteTrade(ctx, &broker.TradeRequest{Symbol: "EURUSD", Side: broker.OrderSideBuy, Volume: 0.1})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Ticket)
	assert.Len(t, client.GetPositions(ctx, "EURUSD"), 1)

	closed, err := client.ClosePosition(ctx, "EURUSD", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, closed.Closed)

	require.NoError(t, client.Disconnect())
	assert.False(t, client.IsConnected())
	assert.Nil(t, client.GetAccountInfo(ctx))
}

func TestReadOnlyCallsWhenDisconnected(t *testing.T) {
	ctx := context.Background()
	client := NewClient()

	assert.Nil(t, client.GetAccountInfo(ctx))
	assert.Empty(t, client.GetPositions(ctx, ""))
	assert.Empty(t, client.GetSymbols(ctx, 10))

	_, err := client.ExecuteTrade(ctx, &broker.TradeRequest{Symbol: "BTCUSDT", Side: broker.OrderSideBuy, Volume: 1})
	assert.True(t, errors.Is(err, broker.ErrNotConnected))

	_, err = client.ClosePosition(ctx, "BTCUSDT", 0)
	assert.True(t, errors.Is(err, broker.ErrNotConnected))
}

func TestConvertBinanceSymbolInfo(t *testing.T) {
	s := &futures.Symbol{
		Symbol:         "BTCUSDT",
		BaseAsset:      "BTC",
		QuoteAsset:     "USDT",
		PricePrecision: 2,
		Filters: []map[string]interface{}{
			{"filterType": "LOT_SIZE", "minQty": "0.001", "maxQty": "1000", "stepSize": "0.001"},
			{"filterType": "PRICE_FILTER", "tickSize": "0.10"},
		},
	}

	info := convertBinanceSymbolInfo(s)
	assert.Equal(t, "BTCUSDT", info.Symbol)
	assert.Equal(t, "BTC/USDT", info.Description)
	assert.Equal(t, 2, info.Digits)
	assert.Equal(t, 0.001, info.VolumeMin)
	assert.Equal(t, 1000.0, info.VolumeMax)
	assert.Equal(t, 0.001, info.VolumeStep)
	assert.Equal(t, 0.1, info.Point)
}

func TestConvertPositionRisk(t *testing.T) {
	long := convertPositionRisk("BTCUSDT", "BOTH", 0.5, "60000", "61000", "500")
	assert.Equal(t, broker.OrderSideBuy, long.Side)
	assert.Equal(t, 0.5, long.Volume)
	assert.Equal(t, 60000.0, long.PriceOpen)
	assert.Equal(t, 61000.0, long.PriceCurrent)
	assert.Equal(t, 500.0, long.Profit)
	assert.Equal(t, "BTCUSDT:BOTH", long.Ticket)

	short := convertPositionRisk("ETHUSDT", "short", -2, "3000", "2900", "200")
	assert.Equal(t, broker.OrderSideSell, short.Side)
	assert.Equal(t, 2.0, short.Volume)
	assert.Equal(t, "ETHUSDT:SHORT", short.Ticket)
}

func TestConversionFunctions(t *testing.T) {
	assert.Equal(t, futures.PositionSideTypeLong, positionSideOf("BTCUSDT:LONG"))
	assert.Equal(t, futures.PositionSideTypeShort, positionSideOf("BTCUSDT:SHORT"))
	assert.Equal(t, futures.PositionSideTypeBoth, positionSideOf("BTCUSDT:BOTH"))
	assert.Equal(t, futures.PositionSideTypeBoth, positionSideOf("BTCUSDT"))

	assert.Equal(t, futures.SideTypeBuy, convertToBinanceSide(broker.OrderSideBuy))
	assert.Equal(t, futures.SideTypeSell, convertToBinanceSide(broker.OrderSideSell))

	assert.Equal(t, 0.0, parseFloatOrZero(""))
	assert.Equal(t, 0.0, parseFloatOrZero("invalid"))
	assert.Equal(t, 123.45, parseFloatOrZero("123.45"))
}
