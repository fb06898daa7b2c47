package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Cyvadra/tv-bridge/internal/config"
	"github.com/Cyvadra/tv-bridge/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AccountInput carries the editable fields of an account
type AccountInput struct {
	Name              string  `json:"name" binding:"max=100"`
	BrokerType        string  `json:"broker_type" binding:"omitempty,brokertype"`
	ServerIP          string  `json:"server_ip" binding:"max=100"`
	ServerPort        int     `json:"server_port" binding:"omitempty,min=1,max=65535"`
	Login             string  `json:"login" binding:"max=50"`
	Password          *string `json:"password" binding:"omitempty,max=100"`
	DefaultLotSize    float64 `json:"default_lot_size" binding:"omitempty,gt=0"`
	MaxDailyTrades    int     `json:"max_daily_trades" binding:"omitempty,min=1"`
	MaxRiskPercentage float64 `json:"max_risk_percentage" binding:"omitempty,gt=0,lte=100"`
	MaxSlippage       *int    `json:"max_slippage" binding:"omitempty,min=0"`
	IsActive          *bool   `json:"is_active"`
}

// AccountService handles the account registry
type AccountService struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewAccountService creates a new account service
func NewAccountService(db *gorm.DB, logger *zap.Logger) *AccountService {
	return &AccountService{
		db:     db,
		logger: logger.Named("accounts"),
	}
}

// NewWebhookKey returns a fresh routing key
func NewWebhookKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Create registers an account with a generated webhook key
func (s *AccountService) Create(ctx context.Context, in AccountInput) (*models.Account, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, missingField("name")
	}

	account := &models.Account{
		Name:              in.Name,
		BrokerType:        "mt5",
		ServerIP:          in.ServerIP,
		ServerPort:        443,
		Login:             in.Login,
		WebhookKey:        NewWebhookKey(),
		DefaultLotSize:    0.01,
		MaxDailyTrades:    10,
		MaxRiskPercentage: 2.0,
		MaxSlippage:       3,
		IsActive:          true,
	}
	applyAccountInput(account, in)

	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.Info("account created",
		zap.Uint("account_id", account.ID),
		zap.String("name", account.Name),
		zap.String("broker", account.BrokerType))
	return account, nil
}

// Update changes the editable fields; the webhook key never changes
func (s *AccountService) Update(ctx context.Context, id uint, in AccountInput) (*models.Account, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	applyAccountInput(account, in)

	// counters and connection state are owned by the pipeline
	err = s.db.WithContext(ctx).Model(account).
		Select("name", "broker_type", "server_ip", "server_port", "login", "password",
			"default_lot_size", "max_daily_trades", "max_risk_percentage", "max_slippage", "is_active").
		Updates(account).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return account, nil
}

func applyAccountInput(account *models.Account, in AccountInput) {
	if in.Name != "" {
		account.Name = in.Name
	}
	if in.BrokerType != "" {
		account.BrokerType = strings.ToLower(in.BrokerType)
	}
	if in.ServerIP != "" {
		account.ServerIP = in.ServerIP
	}
	if in.ServerPort > 0 {
		account.ServerPort = in.ServerPort
	}
	if in.Login != "" {
		account.Login = in.Login
	}
	if in.Password != nil {
		account.Password = *in.Password
	}
	if in.DefaultLotSize > 0 {
		account.DefaultLotSize = in.DefaultLotSize
	}
	if in.MaxDailyTrades > 0 {
		account.MaxDailyTrades = in.MaxDailyTrades
	}
	if in.MaxRiskPercentage > 0 {
		account.MaxRiskPercentage = in.MaxRiskPercentage
	}
	if in.MaxSlippage != nil {
		account.MaxSlippage = *in.MaxSlippage
	}
	if in.IsActive != nil {
		account.IsActive = *in.IsActive
	}
}

// Get retrieves an account by ID, active or not
func (s *AccountService) Get(ctx context.Context, id uint) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByWebhookKey finds the active account owning a routing key
func (s *AccountService) GetByWebhookKey(ctx context.Context, key string) (*models.Account, error) {
	if key == "" {
		return nil, ErrUnknownWebhookKey
	}

	var account models.Account
	err := s.db.WithContext(ctx).
		Where("webhook_key = ? AND is_active = ?", key, true).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownWebhookKey
		}
		return nil, err
	}
	return &account, nil
}

// List returns accounts ordered by ID, only active ones unless all is set
func (s *AccountService) List(ctx context.Context, all bool) ([]models.Account, error) {
	var accounts []models.Account
	query := s.db.WithContext(ctx).Order("id ASC")
	if !all {
		query = query.Where("is_active = ?", true)
	}
	err := query.Find(&accounts).Error
	return accounts, err
}

// Deactivate soft-deletes an account
func (s *AccountService) Deactivate(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_active": false, "is_connected": false})
	if res.Error != nil {
		return fmt.Errorf("failed to deactivate account: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Info("account deactivated", zap.Uint("account_id", id))
	return nil
}

// SetConnected records the outcome of a connection attempt
func (s *AccountService) SetConnected(ctx context.Context, id uint, connected bool) error {
	updates := map[string]interface{}{"is_connected": connected}
	if connected {
		updates["last_connected"] = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Updates(updates).Error
}

// IncrementCounters bumps the trade counters atomically in SQL
func (s *AccountService) IncrementCounters(ctx context.Context, tx *gorm.DB, id uint, success bool) error {
	if tx == nil {
		tx = s.db
	}

	updates := map[string]interface{}{"total_trades": gorm.Expr("total_trades + ?", 1)}
	if success {
		updates["successful_trades"] = gorm.Expr("successful_trades + ?", 1)
	} else {
		updates["failed_trades"] = gorm.Expr("failed_trades + ?", 1)
	}

	if err := tx.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update account counters: %w", err)
	}
	return nil
}

// Seed creates the accounts of the seed file that do not exist yet, keyed by name
func (s *AccountService) Seed(ctx context.Context, seed *config.AccountConfig) (int, error) {
	if seed == nil {
		return 0, nil
	}

	created := 0
	for _, entry := range seed.Accounts {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Account{}).Where("name = ?", entry.Name).Count(&count).Error; err != nil {
			return created, fmt.Errorf("failed to look up account %s: %w", entry.Name, err)
		}
		if count > 0 {
			continue
		}

		in := AccountInput{
			Name:           entry.Name,
			BrokerType:     entry.BrokerType,
			ServerIP:       entry.ServerIP,
			ServerPort:     entry.ServerPort,
			Login:          entry.Login,
			DefaultLotSize: entry.DefaultLotSize,
			MaxDailyTrades: entry.MaxDailyTrades,
		}
		if entry.Password != "" {
			in.Password = &entry.Password
		}
		if entry.MaxSlippage > 0 {
			slippage := entry.MaxSlippage
			in.MaxSlippage = &slippage
		}

		if _, err := s.Create(ctx, in); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}
