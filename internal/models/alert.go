package models

import (
	"time"

	"gorm.io/datatypes"
)

// AlertStatus is the lifecycle state of an alert
type AlertStatus string

const (
	AlertReceived  AlertStatus = "RECEIVED"
	AlertProcessed AlertStatus = "PROCESSED"
	AlertFailed    AlertStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed
func (s AlertStatus) IsTerminal() bool {
	return s == AlertProcessed || s == AlertFailed
}

// Alert represents one inbound webhook signal
type Alert struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	AccountID    *uint          `json:"account_id,omitempty" gorm:"index"`
	Symbol       string         `json:"symbol" gorm:"size:32;not null;index"`
	Action       string         `json:"action" gorm:"size:10;not null"` // BUY, SELL, CLOSE
	Price        *float64       `json:"price,omitempty"`
	Volume       *float64       `json:"volume,omitempty"`
	StopLoss     *float64       `json:"stop_loss,omitempty"`
	TakeProfit   *float64       `json:"take_profit,omitempty"`
	RawPayload   datatypes.JSON `json:"raw_payload"`
	Status       AlertStatus    `json:"status" gorm:"size:20;not null;default:RECEIVED;index"`
	ErrorMessage string         `json:"error_message,omitempty" gorm:"type:text"`
	ReceivedAt   time.Time      `json:"received_at" gorm:"not null;index"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`

	// Relations
	Executions []Execution `json:"executions,omitempty" gorm:"foreignKey:AlertID"`
}
