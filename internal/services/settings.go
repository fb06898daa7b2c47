package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/Cyvadra/tv-bridge/internal/config"
	"github.com/Cyvadra/tv-bridge/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SettingsInput carries the editable fields of the global trading configuration
type SettingsInput struct {
	BrokerType        string  `json:"broker_type" binding:"omitempty,brokertype"`
	ServerIP          *string `json:"server_ip" binding:"omitempty,max=100"`
	ServerPort        int     `json:"server_port" binding:"omitempty,min=1,max=65535"`
	Login             *string `json:"login" binding:"omitempty,max=50"`
	Password          *string `json:"password" binding:"omitempty,max=100"`
	APIKey            *string `json:"api_key" binding:"omitempty,min=8,max=100"`
	DefaultLotSize    float64 `json:"default_lot_size" binding:"omitempty,gt=0"`
	MaxDailyTrades    int     `json:"max_daily_trades" binding:"omitempty,min=1"`
	MaxRiskPercentage float64 `json:"max_risk_percentage" binding:"omitempty,gt=0,lte=100"`
	MaxSlippage       *int    `json:"max_slippage" binding:"omitempty,min=0"`
	IsActive          *bool   `json:"is_active"`
}

// SettingsService owns the global trading configuration row
type SettingsService struct {
	db         *gorm.DB
	seed       config.TradingConfig
	brokerType string
	apiKey     string
	logger     *zap.Logger
}

// NewSettingsService creates a new settings service. The bridge section
// supplies the broker type and the fallback API key.
func NewSettingsService(db *gorm.DB, seed config.TradingConfig, bridge config.BridgeConfig, logger *zap.Logger) *SettingsService {
	return &SettingsService{
		db:         db,
		seed:       seed,
		brokerType: bridge.BrokerType,
		apiKey:     bridge.APIKey,
		logger:     logger.Named("settings"),
	}
}

// Ensure creates the configuration row from the seed values when absent
func (s *SettingsService) Ensure(ctx context.Context) (*models.TradingConfig, error) {
	cfg, err := s.Get(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	cfg = &models.TradingConfig{
		BrokerType:        s.brokerType,
		ServerIP:          s.seed.ServerIP,
		ServerPort:        s.seed.ServerPort,
		Login:             s.seed.Login,
		Password:          s.seed.Password,
		APIKey:            s.apiKey,
		DefaultLotSize:    s.seed.DefaultLotSize,
		MaxDailyTrades:    s.seed.MaxDailyTrades,
		MaxRiskPercentage: s.seed.MaxRiskPercentage,
		MaxSlippage:       s.seed.MaxSlippage,
		IsActive:          s.seed.IsActive,
	}
	if err := s.db.WithContext(ctx).Create(cfg).Error; err != nil {
		return nil, fmt.Errorf("failed to create trading configuration: %w", err)
	}

	s.logger.Info("trading configuration created",
		zap.String("broker", cfg.BrokerType),
		zap.Bool("api_key_set", cfg.APIKey != ""))
	return cfg, nil
}

// Get returns the configuration row
func (s *SettingsService) Get(ctx context.Context) (*models.TradingConfig, error) {
	var cfg models.TradingConfig
	if err := s.db.WithContext(ctx).Order("id ASC").First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

// Update changes the configuration row, creating it first when needed
func (s *SettingsService) Update(ctx context.Context, in SettingsInput) (*models.TradingConfig, error) {
	cfg, err := s.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	if in.BrokerType != "" {
		cfg.BrokerType = strings.ToLower(in.BrokerType)
	}
	if in.ServerIP != nil {
		cfg.ServerIP = *in.ServerIP
	}
	if in.ServerPort > 0 {
		cfg.ServerPort = in.ServerPort
	}
	if in.Login != nil {
		cfg.Login = *in.Login
	}
	if in.Password != nil {
		cfg.Password = *in.Password
	}
	if in.APIKey != nil {
		cfg.APIKey = *in.APIKey
	}
	if in.DefaultLotSize > 0 {
		cfg.DefaultLotSize = in.DefaultLotSize
	}
	if in.MaxDailyTrades > 0 {
		cfg.MaxDailyTrades = in.MaxDailyTrades
	}
	if in.MaxRiskPercentage > 0 {
		cfg.MaxRiskPercentage = in.MaxRiskPercentage
	}
	if in.MaxSlippage != nil {
		cfg.MaxSlippage = *in.MaxSlippage
	}
	if in.IsActive != nil {
		cfg.IsActive = *in.IsActive
	}

	if err := s.db.WithContext(ctx).Save(cfg).Error; err != nil {
		return nil, fmt.Errorf("failed to update trading configuration: %w", err)
	}
	return cfg, nil
}

// CheckAPIKey compares a caller key with the configured one in constant time
func (s *SettingsService) CheckAPIKey(cfg *models.TradingConfig, key string) bool {
	expected := s.apiKey
	if cfg != nil && cfg.APIKey != "" {
		expected = cfg.APIKey
	}
	if expected == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(key)) == 1
}
