package binance

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Cyvadra/tv-bridge/broker"
	"github.com/Cyvadra/tv-bridge/broker/paper"
	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"
)

// Client is a Binance USDⓈ-M futures adapter. Credentials map Login to the
// API key and Password to the secret key; empty credentials fall back to a
// simulated terminal.
type Client struct {
	name    string
	testnet bool
	mu      sync.Mutex
	client  *futures.Client
	state   broker.ConnectionState
	paper   *paper.Terminal
	symbols map[string]broker.SymbolInfo
	logger  *zap.Logger
}

// NewClient creates a new Binance futures client against the testnet
func NewClient() broker.Broker {
	return NewClientWithTestnet(true)
}

// NewClientWithTestnet creates a new Binance futures client, against the
// testnet when testnet is set and the live API otherwise
func NewClientWithTestnet(testnet bool) broker.Broker {
	return &Client{
		name:    "binance",
		testnet: testnet,
		state:   broker.StateDisconnected,
		logger:  zap.L().Named("binance"),
	}
}

// Name returns the broker name
func (c *Client) Name() string {
	return c.name
}

// Testnet reports whether the client targets the futures testnet
func (c *Client) Testnet() bool {
	return c.testnet
}

// State returns the connection state
func (c *Client) State() broker.ConnectionState {
	if p := c.fallback(); p != nil {
		return p.State()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	return c.State() == broker.StateConnected
}

// Connect sets up the client with credentials and verifies connectivity
func (c *Client) Connect(ctx context.Context, credentials *broker.Credentials) error {
	if credentials.IsEmpty() {
		c.logger.Info("no API credentials configured, using simulated terminal")
		p := paper.New(c.name, paper.WithLogger(c.logger))
		c.mu.Lock()
		c.paper = p
		c.client = nil
		c.mu.Unlock()
		return p.Connect(ctx, nil)
	}

	if credentials.Login == "" || credentials.Password == "" {
		return broker.NewBrokerError(c.name, "INVALID_CREDENTIALS", "API key and secret key are required", broker.ErrInvalidCredentials)
	}

	c.mu.Lock()
	c.paper = nil
	c.state = broker.StateConnecting
	futures.UseTestnet = c.testnet
	client := binance.NewFuturesClient(credentials.Login, credentials.Password)
	c.mu.Unlock()

	if _, err := client.NewServerTimeService().Do(ctx); err != nil {
		c.setState(broker.StateDisconnected)
		return broker.NewBrokerError(c.name, broker.CodeConnectionFailed, "Failed to connect to Binance", err)
	}

	symbols, err := loadSymbols(ctx, client)
	if err != nil {
		c.setState(broker.StateDisconnected)
		return broker.NewBrokerError(c.name, broker.CodeConnectionFailed, "Failed to load exchange info", err)
	}

	c.mu.Lock()
	c.client = client
	c.symbols = symbols
	c.state = broker.StateConnected
	c.mu.Unlock()

	c.logger.Info("connected", zap.Int("symbols", len(symbols)), zap.Bool("testnet", c.testnet))
	return nil
}

// Disconnect closes the client connection
func (c *Client) Disconnect() error {
	c.mu.Lock()
	p := c.paper
	c.client = nil
	c.state = broker.StateDisconnected
	c.mu.Unlock()

	if p != nil {
		return p.Disconnect()
	}
	return nil
}

// GetAccountInfo retrieves account information
func (c *Client) GetAccountInfo(ctx context.Context) *broker.AccountInfo {
	if p := c.fallback(); p != nil {
		return p.GetAccountInfo(ctx)
	}

	client := c.session()
	if client == nil {
		return nil
	}

	account, err := client.NewGetAccountService().Do(ctx)
	if err != nil {
		c.logger.Warn("failed to get account info", zap.Error(err))
		return nil
	}

	info := &broker.AccountInfo{
		Balance:    parseFloatOrZero(account.TotalWalletBalance),
		Equity:     parseFloatOrZero(account.TotalMarginBalance),
		Margin:     parseFloatOrZero(account.TotalPositionInitialMargin),
		FreeMargin: parseFloatOrZero(account.AvailableBalance),
		Currency:   "USDT",
		UpdatedAt:  time.Unix(account.UpdateTime/1000, 0).UTC(),
	}
	if info.Margin > 0 {
		info.MarginLevel = math.Round(info.Equity/info.Margin*10000) / 100
	}
	info.Profit = info.Equity - info.Balance
	return info
}

// GetPositions retrieves open positions, all symbols when symbol is empty
func (c *Client) GetPositions(ctx context.Context, symbol string) []broker.Position {
	if p := c.fallback(); p != nil {
		return p.GetPositions(ctx, symbol)
	}

	positions, err := c.positionRisk(ctx, symbol)
	if err != nil {
		c.logger.Warn("failed to get positions", zap.String("symbol", symbol), zap.Error(err))
		return nil
	}
	return positions
}

// GetSymbolInfo retrieves symbol information with the current book ticker
func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (*broker.SymbolInfo, error) {
	if p := c.fallback(); p != nil {
		return p.GetSymbolInfo(ctx, symbol)
	}

	client := c.session()
	if client == nil {
		return nil, broker.NewBrokerError(c.name, broker.CodeNotConnected, "Not connected to Binance", broker.ErrNotConnected)
	}

	symbol = broker.NormalizeSymbol(symbol)
	c.mu.Lock()
	info, ok := c.symbols[symbol]
	c.mu.Unlock()
	if !ok {
		return nil, broker.NewBrokerError(c.name, broker.CodeSymbolUnavailable,
			fmt.Sprintf("Symbol %s not available", symbol), broker.ErrSymbolUnavailable)
	}

	tickers, err := client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, broker.NewBrokerError(c.name, broker.CodeNetworkError, "Failed to get quote", err)
	}
	for _, ticker := range tickers {
		if ticker.Symbol == symbol {
			info.Bid = parseFloatOrZero(ticker.BidPrice)
			info.Ask = parseFloatOrZero(ticker.AskPrice)
		}
	}
	if info.Point > 0 {
		info.Spread = int(math.Round((info.Ask - info.Bid) / info.Point))
	}
	return &info, nil
}

// GetSymbols lists tradable contracts, at most limit when limit > 0
func (c *Client) GetSymbols(ctx context.Context, limit int) []broker.SymbolInfo {
	if p := c.fallback(); p != nil {
		return p.GetSymbols(ctx, limit)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != broker.StateConnected {
		return nil
	}

	names := make([]string, 0, len(c.symbols))
	for name := range c.symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	if limit > 0 && limit < len(names) {
		names = names[:limit]
	}

	symbols := make([]broker.SymbolInfo, 0, len(names))
	for _, name := range names {
		symbols = append(symbols, c.symbols[name])
	}
	return symbols
}

func (c *Client) fallback() *paper.Terminal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paper
}

func (c *Client) session() *futures.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != broker.StateConnected {
		return nil
	}
	return c.client
}

func (c *Client) setState(state broker.ConnectionState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func loadSymbols(ctx context.Context, client *futures.Client) (map[string]broker.SymbolInfo, error) {
	exchangeInfo, err := client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}

	symbols := make(map[string]broker.SymbolInfo, len(exchangeInfo.Symbols))
	for i := range exchangeInfo.Symbols {
		s := &exchangeInfo.Symbols[i]
		if !strings.EqualFold(string(s.Status), "TRADING") {
			continue
		}
		symbols[s.Symbol] = convertBinanceSymbolInfo(s)
	}
	return symbols, nil
}

// Helper functions

func parseFloatOrZero(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func convertBinanceSymbolInfo(s *futures.Symbol) broker.SymbolInfo {
	info := broker.SymbolInfo{
		Symbol:      s.Symbol,
		Description: s.BaseAsset + "/" + s.QuoteAsset,
		Digits:      s.PricePrecision,
		Point:       math.Pow10(-s.PricePrecision),
	}

	for _, filter := range s.Filters {
		switch filter["filterType"] {
		case "LOT_SIZE":
			if minQty, ok := filter["minQty"].(string); ok {
				info.VolumeMin = parseFloatOrZero(minQty)
			}
			if maxQty, ok := filter["maxQty"].(string); ok {
				info.VolumeMax = parseFloatOrZero(maxQty)
			}
			if stepSize, ok := filter["stepSize"].(string); ok {
				info.VolumeStep = parseFloatOrZero(stepSize)
			}
		case "PRICE_FILTER":
			if tickSize, ok := filter["tickSize"].(string); ok {
				if tick := parseFloatOrZero(tickSize); tick > 0 {
					info.Point = tick
				}
			}
		}
	}

	return info
}

// Register the Binance broker
func init() {
	broker.Register("binance", NewClient)
}
