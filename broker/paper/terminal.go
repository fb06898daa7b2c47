package paper

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Cyvadra/tv-bridge/broker"
	"go.uber.org/zap"
)

// Trade server return codes
const (
	RetcodeDone          = 10009
	RetcodeRequote       = 10004
	RetcodeInvalidVolume = 10014
	RetcodeNoMoney       = 10019
	RetcodeMarketClosed  = 10018
)

const (
	volumeMin    = 0.01
	volumeMax    = 100
	volumeStep   = 0.01
	firstTicket  = 100000
	closeComment = "TradingView Close"
)

// demo session used when no credentials are configured
const (
	demoLogin       = "12345678"
	demoServer      = "Demo-Server"
	demoBalance     = 10000.0
	demoEquity      = 10025.50
	demoMargin      = 50.0
	demoFreeMargin  = 9975.50
	demoMarginLevel = 20051.0
	demoCurrency    = "USD"
)

type instrument struct {
	description  string
	bid          float64
	digits       int
	spread       int
	contractSize float64
}

var instruments = map[string]instrument{
	"EURUSD": {"Euro vs US Dollar", 1.10000, 5, 30, 100000},
	"GBPUSD": {"Great Britain Pound vs US Dollar", 1.27000, 5, 30, 100000},
	"USDJPY": {"US Dollar vs Japanese Yen", 149.500, 3, 30, 100000},
	"USDCHF": {"US Dollar vs Swiss Franc", 0.88000, 5, 30, 100000},
	"AUDUSD": {"Australian Dollar vs US Dollar", 0.66000, 5, 30, 100000},
	"USDCAD": {"US Dollar vs Canadian Dollar", 1.36000, 5, 30, 100000},
	"NZDUSD": {"New Zealand Dollar vs US Dollar", 0.61000, 5, 30, 100000},
	"EURGBP": {"Euro vs Great Britain Pound", 0.86000, 5, 30, 100000},
	"EURJPY": {"Euro vs Japanese Yen", 164.000, 3, 30, 100000},
	"GBPJPY": {"Great Britain Pound vs Japanese Yen", 190.000, 3, 40, 100000},
	"XAUUSD": {"Gold vs US Dollar", 2350.00, 2, 30, 100},
	"XAGUSD": {"Silver vs US Dollar", 28.000, 3, 30, 5000},
	"USOIL":  {"Crude Oil", 78.00, 2, 5, 1000},
	"US30":   {"Dow Jones Industrial Average", 39000.0, 1, 20, 1},
	"BTCUSD": {"Bitcoin vs US Dollar", 65000.00, 2, 2000, 1},
}

var symbolOrder = []string{
	"EURUSD", "GBPUSD", "USDJPY", "USDCHF", "AUDUSD", "USDCAD", "NZDUSD", "EURGBP",
	"EURJPY", "GBPJPY", "XAUUSD", "XAGUSD", "USOIL", "US30", "BTCUSD",
}

// OrderHook overrides the trade server's answer to an order.
// Returning RetcodeDone accepts the order.
type OrderHook func(req *broker.TradeRequest) (retcode int, comment string)

// Option configures a Terminal
type Option func(*Terminal)

// WithOrderHook installs an order hook
func WithOrderHook(hook OrderHook) Option {
	return func(t *Terminal) {
		t.hook = hook
	}
}

// WithJitter sets the maximum quote deviation in points; 0 keeps quotes fixed
func WithJitter(points int) Option {
	return func(t *Terminal) {
		t.jitter = points
	}
}

// WithSeed makes quote jitter reproducible
func WithSeed(seed int64) Option {
	return func(t *Terminal) {
		t.rng = rand.New(rand.NewSource(seed))
	}
}

// WithLogger sets the terminal logger
func WithLogger(logger *zap.Logger) Option {
	return func(t *Terminal) {
		t.logger = logger
	}
}

// Terminal is a simulated MetaTrader-style trading terminal with in-memory positions
type Terminal struct {
	name       string
	mu         sync.Mutex
	state      broker.ConnectionState
	account    broker.AccountInfo
	positions  map[int64]*broker.Position
	nextTicket int64
	jitter     int
	rng        *rand.Rand
	hook       OrderHook
	logger     *zap.Logger
}

// New creates a disconnected terminal registered under the given family name
func New(name string, opts ...Option) *Terminal {
	t := &Terminal{
		name:       name,
		state:      broker.StateDisconnected,
		positions:  make(map[int64]*broker.Position),
		nextTicket: firstTicket,
		jitter:     50,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:     zap.L(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.Named("paper").With(zap.String("broker", name))
	return t
}

// Name returns the broker family name
func (t *Terminal) Name() string {
	return t.name
}

// State returns the connection state
func (t *Terminal) State() broker.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsConnected returns connection status
func (t *Terminal) IsConnected() bool {
	return t.State() == broker.StateConnected
}

// Connect opens a session. Empty credentials select the demo account.
func (t *Terminal) Connect(ctx context.Context, credentials *broker.Credentials) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = broker.StateConnecting
	if err := ctx.Err(); err != nil {
		t.state = broker.StateDisconnected
		return err
	}

	if credentials.IsEmpty() {
		t.account = broker.AccountInfo{
			Login:       demoLogin,
			Server:      demoServer,
			Balance:     demoBalance,
			Equity:      demoEquity,
			Margin:      demoMargin,
			FreeMargin:  demoFreeMargin,
			MarginLevel: demoMarginLevel,
			Currency:    demoCurrency,
			Simulated:   true,
		}
		t.state = broker.StateConnected
		t.logger.Info("connected to demo account", zap.String("login", demoLogin))
		return nil
	}

	if _, err := strconv.ParseUint(credentials.Login, 10, 64); err != nil {
		t.state = broker.StateDisconnected
		return broker.NewBrokerError(t.name, "INVALID_CREDENTIALS",
			fmt.Sprintf("Invalid login: %s", credentials.Login), broker.ErrInvalidCredentials)
	}
	if credentials.Password == "" {
		t.state = broker.StateDisconnected
		return broker.NewBrokerError(t.name, "INVALID_CREDENTIALS", "Password is required", broker.ErrInvalidCredentials)
	}

	t.account = broker.AccountInfo{
		Login:       credentials.Login,
		Server:      credentials.Server,
		Balance:     demoBalance,
		Equity:      demoBalance,
		FreeMargin:  demoBalance,
		Currency:    demoCurrency,
		Simulated:   true,
		MarginLevel: 0,
	}
	t.state = broker.StateConnected
	t.logger.Info("connected",
		zap.String("login", credentials.Login),
		zap.String("server", credentials.Server))
	return nil
}

// Disconnect closes the session; positions stay on the simulated server
func (t *Terminal) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = broker.StateDisconnected
	return nil
}

// ExecuteTrade opens a market position
func (t *Terminal) ExecuteTrade(ctx context.Context, req *broker.TradeRequest) (*broker.TradeResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != broker.StateConnected {
		return nil, broker.NewBrokerError(t.name, broker.CodeNotConnected, "Not connected to MT5", broker.ErrNotConnected)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("trade request is nil")
	}

	symbol := broker.NormalizeSymbol(req.Symbol)
	inst, ok := instruments[symbol]
	if !ok {
		return nil, broker.NewBrokerError(t.name, broker.CodeSymbolUnavailable,
			fmt.Sprintf("Symbol %s not available", symbol), broker.ErrSymbolUnavailable)
	}
	if req.Side != broker.OrderSideBuy && req.Side != broker.OrderSideSell {
		return nil, broker.NewBrokerError(t.name, broker.CodeRejected,
			fmt.Sprintf("Invalid order side: %s", req.Side), broker.ErrInvalidOrderSide)
	}

	bid, ask := t.quote(symbol, inst)
	order := *req
	order.Symbol = symbol
	order.Volume = broker.NormalizeVolume(req.Volume, volumeMin, volumeMax, volumeStep)
	if order.Price == 0 {
		if order.Side == broker.OrderSideBuy {
			order.Price = ask
		} else {
			order.Price = bid
		}
	}

	if retcode, comment := t.submit(&order); retcode != RetcodeDone {
		t.logger.Warn("order rejected",
			zap.String("symbol", symbol),
			zap.Int("retcode", retcode),
			zap.String("comment", comment))
		return nil, broker.NewBrokerError(t.name, broker.CodeRejected,
			fmt.Sprintf("Trade failed: %d - %s", retcode, comment), broker.ErrOrderRejected)
	}

	ticket := t.nextTicket
	t.nextTicket++
	now := time.Now().UTC()
	t.positions[ticket] = &broker.Position{
		Ticket:       strconv.FormatInt(ticket, 10),
		Symbol:       symbol,
		Side:         order.Side,
		Volume:       order.Volume,
		PriceOpen:    order.Price,
		PriceCurrent: order.Price,
		StopLoss:     order.StopLoss,
		TakeProfit:   order.TakeProfit,
		Magic:        order.Magic,
		Comment:      order.Comment,
		OpenedAt:     now,
	}

	t.logger.Info("trade executed",
		zap.Int64("ticket", ticket),
		zap.String("symbol", symbol),
		zap.String("side", string(order.Side)),
		zap.Float64("volume", order.Volume),
		zap.Float64("price", order.Price))

	return &broker.TradeResult{
		Ticket:     strconv.FormatInt(ticket, 10),
		Symbol:     symbol,
		Side:       order.Side,
		Volume:     order.Volume,
		Price:      order.Price,
		StopLoss:   order.StopLoss,
		TakeProfit: order.TakeProfit,
		Message:    "Trade executed successfully",
		ExecutedAt: now,
	}, nil
}

// ClosePosition closes every open position of a symbol, partially when volume is set
func (t *Terminal) ClosePosition(ctx context.Context, symbol string, volume float64) (*broker.CloseResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != broker.StateConnected {
		return nil, broker.NewBrokerError(t.name, broker.CodeNotConnected, "Not connected to MT5", broker.ErrNotConnected)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	symbol = broker.NormalizeSymbol(symbol)
	tickets := t.ticketsFor(symbol)
	if len(tickets) == 0 {
		return nil, broker.NewBrokerError(t.name, broker.CodeNoPositions,
			fmt.Sprintf("No open positions for %s", symbol), broker.ErrNoPositions)
	}

	inst := instruments[symbol]
	bid, ask := t.quote(symbol, inst)
	result := &broker.CloseResult{Symbol: symbol}

	for _, ticket := range tickets {
		pos := t.positions[ticket]

		closeVolume := pos.Volume
		if volume > 0 && volume < pos.Volume {
			closeVolume = broker.NormalizeVolume(volume, volumeMin, pos.Volume, volumeStep)
		}

		order := &broker.TradeRequest{
			Symbol:  symbol,
			Side:    broker.GetOppositeOrderSide(pos.Side),
			Volume:  closeVolume,
			Price:   bid,
			Magic:   pos.Magic,
			Comment: closeComment,
		}
		if order.Side == broker.OrderSideBuy {
			order.Price = ask
		}

		if retcode, comment := t.submit(order); retcode != RetcodeDone {
			msg := fmt.Sprintf("Failed to close position %s: %s", pos.Ticket, comment)
			if comment == "" {
				msg = fmt.Sprintf("Failed to close position %s: retcode %d", pos.Ticket, retcode)
			}
			result.Errors = append(result.Errors, msg)
			continue
		}

		profit := positionProfit(pos.Side, pos.PriceOpen, order.Price, closeVolume, inst.contractSize)
		t.account.Balance += profit
		t.account.Equity += profit
		t.account.FreeMargin += profit

		result.Closed++
		result.Tickets = append(result.Tickets, pos.Ticket)
		result.Volume += closeVolume
		result.Price = order.Price
		result.Profit += profit

		remaining := broker.NormalizeVolume(pos.Volume-closeVolume, 0, 0, volumeStep)
		if remaining <= 0 {
			delete(t.positions, ticket)
		} else {
			pos.Volume = remaining
		}
	}

	if result.Closed == 0 {
		return nil, broker.NewBrokerError(t.name, broker.CodeRejected,
			strings.Join(result.Errors, "; "), broker.ErrOrderRejected)
	}

	result.Message = fmt.Sprintf("Closed %d positions", result.Closed)
	t.logger.Info("positions closed",
		zap.String("symbol", symbol),
		zap.Int("closed", result.Closed),
		zap.Float64("profit", result.Profit))
	return result, nil
}

// GetAccountInfo returns the session's account snapshot
func (t *Terminal) GetAccountInfo(ctx context.Context) *broker.AccountInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != broker.StateConnected {
		return nil
	}
	info := t.account
	info.UpdatedAt = time.Now().UTC()
	return &info
}

// GetPositions returns open positions, all symbols when symbol is empty
func (t *Terminal) GetPositions(ctx context.Context, symbol string) []broker.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != broker.StateConnected {
		return nil
	}

	var tickets []int64
	if symbol == "" {
		for ticket := range t.positions {
			tickets = append(tickets, ticket)
		}
		sort.Slice(tickets, func(i, j int) bool { return tickets[i] < tickets[j] })
	} else {
		tickets = t.ticketsFor(broker.NormalizeSymbol(symbol))
	}

	positions := make([]broker.Position, 0, len(tickets))
	for _, ticket := range tickets {
		pos := *t.positions[ticket]
		inst := instruments[pos.Symbol]
		bid, ask := t.quote(pos.Symbol, inst)
		pos.PriceCurrent = bid
		if pos.Side == broker.OrderSideSell {
			pos.PriceCurrent = ask
		}
		pos.Profit = positionProfit(pos.Side, pos.PriceOpen, pos.PriceCurrent, pos.Volume, inst.contractSize)
		positions = append(positions, pos)
	}
	return positions
}

// GetSymbolInfo returns the instrument specification with a fresh quote
func (t *Terminal) GetSymbolInfo(ctx context.Context, symbol string) (*broker.SymbolInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != broker.StateConnected {
		return nil, broker.NewBrokerError(t.name, broker.CodeNotConnected, "Not connected to MT5", broker.ErrNotConnected)
	}

	symbol = broker.NormalizeSymbol(symbol)
	inst, ok := instruments[symbol]
	if !ok {
		return nil, broker.NewBrokerError(t.name, broker.CodeSymbolUnavailable,
			fmt.Sprintf("Symbol %s not available", symbol), broker.ErrSymbolUnavailable)
	}
	info := t.symbolInfo(symbol, inst)
	return &info, nil
}

// GetSymbols lists available instruments, at most limit when limit > 0
func (t *Terminal) GetSymbols(ctx context.Context, limit int) []broker.SymbolInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != broker.StateConnected {
		return nil
	}

	n := len(symbolOrder)
	if limit > 0 && limit < n {
		n = limit
	}
	symbols := make([]broker.SymbolInfo, 0, n)
	for _, symbol := range symbolOrder[:n] {
		symbols = append(symbols, t.symbolInfo(symbol, instruments[symbol]))
	}
	return symbols
}

func (t *Terminal) submit(req *broker.TradeRequest) (int, string) {
	if t.hook == nil {
		return RetcodeDone, "Request executed"
	}
	return t.hook(req)
}

func (t *Terminal) ticketsFor(symbol string) []int64 {
	var tickets []int64
	for ticket, pos := range t.positions {
		if pos.Symbol == symbol {
			tickets = append(tickets, ticket)
		}
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i] < tickets[j] })
	return tickets
}

// quote must be called with t.mu held
func (t *Terminal) quote(symbol string, inst instrument) (bid, ask float64) {
	point := math.Pow10(-inst.digits)
	bid = inst.bid
	if t.jitter > 0 {
		bid += float64(t.rng.Intn(2*t.jitter+1)-t.jitter) * point
	}
	bid = roundTo(bid, inst.digits)
	ask = roundTo(bid+float64(inst.spread)*point, inst.digits)
	return bid, ask
}

func (t *Terminal) symbolInfo(symbol string, inst instrument) broker.SymbolInfo {
	bid, ask := t.quote(symbol, inst)
	return broker.SymbolInfo{
		Symbol:      symbol,
		Description: inst.description,
		Bid:         bid,
		Ask:         ask,
		Spread:      inst.spread,
		Digits:      inst.digits,
		Point:       math.Pow10(-inst.digits),
		VolumeMin:   volumeMin,
		VolumeMax:   volumeMax,
		VolumeStep:  volumeStep,
	}
}

func positionProfit(side broker.OrderSide, open, current, volume, contractSize float64) float64 {
	diff := current - open
	if side == broker.OrderSideSell {
		diff = -diff
	}
	return roundTo(diff*volume*contractSize, 2)
}

func roundTo(v float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(v*p) / p
}

func init() {
	broker.Register("mt5", func() broker.Broker { return New("mt5") })
	broker.Register("mt4", func() broker.Broker { return New("mt4") })
}
