package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Cyvadra/tv-bridge/broker"
	"github.com/Cyvadra/tv-bridge/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SymbolPolicyInput carries the fields of a symbol policy
type SymbolPolicyInput struct {
	LotSize         float64 `json:"lot_size" binding:"omitempty,gt=0"`
	MaxPositionSize float64 `json:"max_position_size" binding:"omitempty,gt=0"`
	IsEnabled       *bool   `json:"is_enabled"`
}

// SymbolService handles per-symbol policies
type SymbolService struct {
	db *gorm.DB
}

// NewSymbolService creates a new symbol service
func NewSymbolService(db *gorm.DB) *SymbolService {
	return &SymbolService{db: db}
}

// Get returns the policy of a symbol, nil when none is configured
func (s *SymbolService) Get(ctx context.Context, symbol string) (*models.SymbolPolicy, error) {
	var policy models.SymbolPolicy
	err := s.db.WithContext(ctx).Where("symbol = ?", broker.NormalizeSymbol(symbol)).First(&policy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load symbol policy: %w", err)
	}
	return &policy, nil
}

// List returns all policies ordered by symbol
func (s *SymbolService) List(ctx context.Context) ([]models.SymbolPolicy, error) {
	var policies []models.SymbolPolicy
	err := s.db.WithContext(ctx).Order("symbol ASC").Find(&policies).Error
	return policies, err
}

// Upsert creates or replaces the policy of a symbol
func (s *SymbolService) Upsert(ctx context.Context, symbol string, in SymbolPolicyInput) (*models.SymbolPolicy, error) {
	symbol = broker.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, missingField("symbol")
	}

	policy := &models.SymbolPolicy{
		Symbol:          symbol,
		LotSize:         0.01,
		MaxPositionSize: 1.0,
		IsEnabled:       true,
	}
	if in.LotSize > 0 {
		policy.LotSize = in.LotSize
	}
	if in.MaxPositionSize > 0 {
		policy.MaxPositionSize = in.MaxPositionSize
	}
	if in.IsEnabled != nil {
		policy.IsEnabled = *in.IsEnabled
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"lot_size", "max_position_size", "is_enabled", "updated_at"}),
	}).Create(policy).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save symbol policy: %w", err)
	}

	return s.Get(ctx, symbol)
}

// Delete removes the policy of a symbol
func (s *SymbolService) Delete(ctx context.Context, symbol string) error {
	res := s.db.WithContext(ctx).Where("symbol = ?", broker.NormalizeSymbol(symbol)).Delete(&models.SymbolPolicy{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete symbol policy: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
