package models

import (
	"time"

	"github.com/Cyvadra/tv-bridge/broker"
)

// TradingConfig is the single global configuration row behind POST /webhook
type TradingConfig struct {
	ID                uint      `json:"id" gorm:"primaryKey"`
	BrokerType        string    `json:"broker_type" gorm:"size:20;not null"`
	ServerIP          string    `json:"server_ip" gorm:"size:100"`
	ServerPort        int       `json:"server_port"`
	Login             string    `json:"login" gorm:"size:50"`
	Password          string    `json:"-" gorm:"size:100"`
	APIKey            string    `json:"-" gorm:"size:100"`
	DefaultLotSize    float64   `json:"default_lot_size" gorm:"not null"`
	MaxDailyTrades    int       `json:"max_daily_trades" gorm:"not null"`
	MaxRiskPercentage float64   `json:"max_risk_percentage" gorm:"not null"`
	MaxSlippage       int       `json:"max_slippage" gorm:"not null"`
	IsActive          bool      `json:"is_active" gorm:"not null"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Credentials returns the login data handed to the broker adapter
func (c *TradingConfig) Credentials() *broker.Credentials {
	return &broker.Credentials{
		Server:   c.ServerIP,
		Login:    c.Login,
		Password: c.Password,
	}
}

// SymbolPolicy overrides order size limits for one symbol
type SymbolPolicy struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	Symbol          string    `json:"symbol" gorm:"size:32;not null;uniqueIndex"`
	LotSize         float64   `json:"lot_size" gorm:"not null"`
	MaxPositionSize float64   `json:"max_position_size" gorm:"not null"`
	IsEnabled       bool      `json:"is_enabled" gorm:"not null"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
