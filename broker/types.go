package broker

import (
	"time"
)

// OrderSide represents the side of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// ConnectionState is the lifecycle state of an adapter instance
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
)

// Credentials identifies a trading account on a terminal.
// Binance maps Login/Password to API key/secret.
type Credentials struct {
	Server   string `json:"server"`
	Login    string `json:"login"`
	Password string `json:"-"`
}

// IsEmpty reports whether no login data was provided
func (c *Credentials) IsEmpty() bool {
	return c == nil || (c.Server == "" && c.Login == "" && c.Password == "")
}

// TradeRequest is an order to open exposure.
// Zero Price, StopLoss or TakeProfit means "not set".
type TradeRequest struct {
	Symbol     string    `json:"symbol"`
	Side       OrderSide `json:"side"`
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price,omitempty"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Slippage   int       `json:"slippage"`
	Magic      int       `json:"magic"`
	Comment    string    `json:"comment"`
}

// TradeResult is the broker's answer to an accepted order
type TradeResult struct {
	Ticket     string    `json:"ticket"`
	Symbol     string    `json:"symbol"`
	Side       OrderSide `json:"side"`
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Message    string    `json:"message"`
	ExecutedAt time.Time `json:"executed_at"`
}

// CloseResult aggregates the outcome of closing the positions of one symbol
type CloseResult struct {
	Symbol  string   `json:"symbol"`
	Closed  int      `json:"closed"`
	Tickets []string `json:"tickets"`
	Volume  float64  `json:"volume"`
	Price   float64  `json:"price"`
	Profit  float64  `json:"profit"`
	Errors  []string `json:"errors,omitempty"`
	Message string   `json:"message"`
}

// Position represents an open position on the terminal
type Position struct {
	Ticket       string    `json:"ticket"`
	Symbol       string    `json:"symbol"`
	Side         OrderSide `json:"side"`
	Volume       float64   `json:"volume"`
	PriceOpen    float64   `json:"price_open"`
	PriceCurrent float64   `json:"price_current"`
	StopLoss     float64   `json:"stop_loss,omitempty"`
	TakeProfit   float64   `json:"take_profit,omitempty"`
	Profit       float64   `json:"profit"`
	Swap         float64   `json:"swap"`
	Commission   float64   `json:"commission"`
	Magic        int       `json:"magic,omitempty"`
	Comment      string    `json:"comment,omitempty"`
	OpenedAt     time.Time `json:"opened_at"`
}

// AccountInfo is a read-only snapshot of the trading account
type AccountInfo struct {
	Login       string    `json:"login"`
	Server      string    `json:"server"`
	Balance     float64   `json:"balance"`
	Equity      float64   `json:"equity"`
	Margin      float64   `json:"margin"`
	FreeMargin  float64   `json:"free_margin"`
	MarginLevel float64   `json:"margin_level"`
	Profit      float64   `json:"profit"`
	Currency    string    `json:"currency"`
	Simulated   bool      `json:"simulated"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SymbolInfo describes a tradable instrument and its current quote
type SymbolInfo struct {
	Symbol      string  `json:"symbol"`
	Description string  `json:"description,omitempty"`
	Bid         float64 `json:"bid"`
	Ask         float64 `json:"ask"`
	Spread      int     `json:"spread"`
	Digits      int     `json:"digits"`
	Point       float64 `json:"point"`
	VolumeMin   float64 `json:"volume_min"`
	VolumeMax   float64 `json:"volume_max"`
	VolumeStep  float64 `json:"volume_step"`
}
