package models

import (
	"time"
)

// ExecutionStatus is the lifecycle state of a broker order
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "PENDING"
	ExecutionFilled  ExecutionStatus = "FILLED"
	ExecutionFailed  ExecutionStatus = "FAILED"
	ExecutionClosed  ExecutionStatus = "CLOSED"
)

// CanTransitionTo reports whether next is a legal successor state
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	switch s {
	case ExecutionPending:
		return next == ExecutionFilled || next == ExecutionFailed
	case ExecutionFilled:
		return next == ExecutionClosed
	default:
		return false
	}
}

// Execution is the outcome of realizing an alert as a broker order
type Execution struct {
	ID           uint            `json:"id" gorm:"primaryKey"`
	AlertID      uint            `json:"alert_id" gorm:"not null;index"`
	AccountID    *uint           `json:"account_id,omitempty" gorm:"index"`
	Ticket       string          `json:"ticket,omitempty" gorm:"size:255;index"`
	Symbol       string          `json:"symbol" gorm:"size:32;not null;index"`
	Action       string          `json:"action" gorm:"size:10;not null"`
	Volume       float64         `json:"volume" gorm:"not null"`
	OpenPrice    *float64        `json:"open_price,omitempty"`
	ClosePrice   *float64        `json:"close_price,omitempty"`
	StopLoss     *float64        `json:"stop_loss,omitempty"`
	TakeProfit   *float64        `json:"take_profit,omitempty"`
	Profit       float64         `json:"profit" gorm:"not null;default:0"`
	Commission   float64         `json:"commission" gorm:"not null;default:0"`
	Swap         float64         `json:"swap" gorm:"not null;default:0"`
	Status       ExecutionStatus `json:"status" gorm:"size:20;not null;default:PENDING;index"`
	ErrorMessage string          `json:"error_message,omitempty" gorm:"type:text"`
	ExecutedAt   time.Time       `json:"executed_at" gorm:"not null;index"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
}
