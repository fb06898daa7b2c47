package models

import (
	"time"

	"github.com/Cyvadra/tv-bridge/broker"
)

// Account represents a trading account reachable through its webhook key.
// Accounts are deactivated, never deleted, so their audit trail survives.
type Account struct {
	ID                uint       `json:"id" gorm:"primaryKey"`
	Name              string     `json:"name" gorm:"size:100;not null;index"`
	BrokerType        string     `json:"broker_type" gorm:"size:20;not null;default:mt5"`
	ServerIP          string     `json:"server_ip" gorm:"size:100"`
	ServerPort        int        `json:"server_port" gorm:"default:443"`
	Login             string     `json:"login" gorm:"size:50"`
	Password          string     `json:"-" gorm:"size:100"`
	WebhookKey        string     `json:"webhook_key" gorm:"<-:create;size:64;not null;uniqueIndex"`
	DefaultLotSize    float64    `json:"default_lot_size" gorm:"not null;default:0.01"`
	MaxDailyTrades    int        `json:"max_daily_trades" gorm:"not null;default:10"`
	MaxRiskPercentage float64    `json:"max_risk_percentage" gorm:"not null;default:2"`
	MaxSlippage       int        `json:"max_slippage" gorm:"not null;default:3"`
	IsActive          bool       `json:"is_active" gorm:"not null;default:true;index"`
	IsConnected       bool       `json:"is_connected" gorm:"not null;default:false"`
	LastConnected     *time.Time `json:"last_connected,omitempty"`
	TotalTrades       int64      `json:"total_trades" gorm:"not null;default:0"`
	SuccessfulTrades  int64      `json:"successful_trades" gorm:"not null;default:0"`
	FailedTrades      int64      `json:"failed_trades" gorm:"not null;default:0"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Credentials returns the login data handed to the broker adapter
func (a *Account) Credentials() *broker.Credentials {
	return &broker.Credentials{
		Server:   a.ServerIP,
		Login:    a.Login,
		Password: a.Password,
	}
}

// SuccessRate returns the share of successful trades in percent
func (a *Account) SuccessRate() float64 {
	if a.TotalTrades == 0 {
		return 0
	}
	return float64(a.SuccessfulTrades) / float64(a.TotalTrades) * 100
}
