package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Cyvadra/tv-bridge/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AlertFilter narrows alert listings
type AlertFilter struct {
	Page      int
	Limit     int
	Status    string
	Symbol    string
	AccountID *uint
}

// AlertService handles alert-related operations
type AlertService struct {
	db *gorm.DB
}

// NewAlertService creates a new alert service
func NewAlertService(db *gorm.DB) *AlertService {
	return &AlertService{db: db}
}

// Record persists a RECEIVED alert for a parsed intent. This write commits on
// its own so the webhook stays on record whatever happens afterwards.
func (s *AlertService) Record(ctx context.Context, accountID *uint, intent *TradeIntent, payload map[string]interface{}) (*models.Alert, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	alert := &models.Alert{
		AccountID:  accountID,
		Symbol:     intent.Symbol,
		Action:     intent.Action,
		Price:      intent.Price,
		Volume:     intent.Volume,
		StopLoss:   intent.StopLoss,
		TakeProfit: intent.TakeProfit,
		RawPayload: datatypes.JSON(raw),
		Status:     models.AlertReceived,
		ReceivedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		return nil, fmt.Errorf("failed to save alert: %w", err)
	}
	return alert, nil
}

// Finish moves a RECEIVED alert to a terminal status. Terminal alerts are
// never touched again, so a second call is a no-op reported as false.
func (s *AlertService) Finish(ctx context.Context, tx *gorm.DB, id uint, status models.AlertStatus, message string) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("alert status %s is not terminal", status)
	}
	if tx == nil {
		tx = s.db
	}

	res := tx.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ? AND status = ?", id, models.AlertReceived).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": message,
			"processed_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to update alert status: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// GetAlert retrieves an alert by ID
func (s *AlertService) GetAlert(ctx context.Context, id uint) (*models.Alert, error) {
	var alert models.Alert
	if err := s.db.WithContext(ctx).First(&alert, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &alert, nil
}

// GetAlerts retrieves alerts with pagination and optional filters
func (s *AlertService) GetAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, int64, error) {
	var alerts []models.Alert
	var total int64

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 20
	}

	query := s.db.WithContext(ctx).Model(&models.Alert{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.AccountID != nil {
		query = query.Where("account_id = ?", *filter.AccountID)
	}

	// Get total count
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Get paginated results
	offset := (filter.Page - 1) * filter.Limit
	if err := query.Offset(offset).Limit(filter.Limit).Order("received_at DESC, id DESC").Find(&alerts).Error; err != nil {
		return nil, 0, err
	}

	return alerts, total, nil
}

// RecentAlerts returns the newest alerts
func (s *AlertService) RecentAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	var alerts []models.Alert
	err := s.db.WithContext(ctx).
		Order("received_at DESC, id DESC").
		Limit(limit).
		Find(&alerts).Error
	return alerts, err
}
