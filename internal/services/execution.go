package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Cyvadra/tv-bridge/internal/models"
	"gorm.io/gorm"
)

// ExecutionService handles execution records
type ExecutionService struct {
	db *gorm.DB
}

// NewExecutionService creates a new execution service
func NewExecutionService(db *gorm.DB) *ExecutionService {
	return &ExecutionService{db: db}
}

// scopeAccount restricts a query to one account, or to the global scope when id is nil
func scopeAccount(accountID *uint) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if accountID == nil {
			return db.Where("account_id IS NULL")
		}
		return db.Where("account_id = ?", *accountID)
	}
}

// StartOfDay returns 00:00 UTC of the day containing t
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DailyStats counts today's executions of an account and sums the volume it
// opened. Failed orders count as trades; only filled volume is summed.
func (s *ExecutionService) DailyStats(ctx context.Context, accountID *uint, now time.Time) (DailyStats, error) {
	var stats DailyStats
	since := StartOfDay(now)

	err := s.db.WithContext(ctx).Model(&models.Execution{}).
		Scopes(scopeAccount(accountID)).
		Where("executed_at >= ?", since).
		Count(&stats.Trades).Error
	if err != nil {
		return stats, fmt.Errorf("failed to count executions: %w", err)
	}

	err = s.db.WithContext(ctx).Model(&models.Execution{}).
		Select("COALESCE(SUM(volume), 0)").
		Scopes(scopeAccount(accountID)).
		Where("executed_at >= ?", since).
		Where("status IN ?", []string{string(models.ExecutionFilled), string(models.ExecutionClosed)}).
		Where("action IN ?", []string{ActionBuy, ActionSell}).
		Scan(&stats.Volume).Error
	if err != nil {
		return stats, fmt.Errorf("failed to sum execution volume: %w", err)
	}

	return stats, nil
}

// Create inserts an execution inside the caller's transaction
func (s *ExecutionService) Create(ctx context.Context, tx *gorm.DB, exec *models.Execution) error {
	if tx == nil {
		tx = s.db
	}
	if exec.ExecutedAt.IsZero() {
		exec.ExecutedAt = time.Now().UTC()
	}
	if err := tx.WithContext(ctx).Create(exec).Error; err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// CloseOpen marks the filled executions of a symbol as closed
func (s *ExecutionService) CloseOpen(ctx context.Context, tx *gorm.DB, accountID *uint, symbol string, closePrice float64, at time.Time) (int64, error) {
	if tx == nil {
		tx = s.db
	}

	updates := map[string]interface{}{
		"status":    models.ExecutionClosed,
		"closed_at": at,
	}
	if closePrice > 0 {
		updates["close_price"] = closePrice
	}

	res := tx.WithContext(ctx).Model(&models.Execution{}).
		Scopes(scopeAccount(accountID)).
		Where("symbol = ? AND status = ?", symbol, models.ExecutionFilled).
		Where("action IN ?", []string{ActionBuy, ActionSell}).
		Updates(updates)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to close executions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ForAlert lists the executions spawned by an alert
func (s *ExecutionService) ForAlert(ctx context.Context, alertID uint) ([]models.Execution, error) {
	var executions []models.Execution
	err := s.db.WithContext(ctx).
		Where("alert_id = ?", alertID).
		Order("id ASC").
		Find(&executions).Error
	return executions, err
}
