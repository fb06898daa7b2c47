package services

import (
	"context"
	"time"

	"github.com/Cyvadra/tv-bridge/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Stats summarizes activity over a time window
type Stats struct {
	Hours            int              `json:"hours"`
	AlertsCount      int64            `json:"alerts_count"`
	TradesCount      int64            `json:"trades_count"`
	SuccessfulTrades int64            `json:"successful_trades"`
	FailedTrades     int64            `json:"failed_trades"`
	TotalProfit      float64          `json:"total_profit"`
	AlertsByHour     map[string]int64 `json:"alerts_by_hour"`
	TradesBySymbol   map[string]int64 `json:"trades_by_symbol"`
}

// Dashboard is the overview shown on the admin landing page
type Dashboard struct {
	TotalAlerts      int64          `json:"total_alerts"`
	TotalTrades      int64          `json:"total_trades"`
	SuccessfulTrades int64          `json:"successful_trades"`
	FailedTrades     int64          `json:"failed_trades"`
	SuccessRate      float64        `json:"success_rate"`
	RecentAlerts     []models.Alert `json:"recent_alerts"`
}

// StatsService aggregates alerts and executions
type StatsService struct {
	db     *gorm.DB
	alerts *AlertService
}

// NewStatsService creates a new stats service
func NewStatsService(db *gorm.DB, alerts *AlertService) *StatsService {
	return &StatsService{db: db, alerts: alerts}
}

var successfulStatuses = []models.ExecutionStatus{models.ExecutionFilled, models.ExecutionClosed}

// Stats aggregates the last hours of activity
func (s *StatsService) Stats(ctx context.Context, hours int) (*Stats, error) {
	if hours <= 0 {
		hours = 24
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	db := s.db.WithContext(ctx)

	stats := &Stats{
		Hours:          hours,
		AlertsByHour:   make(map[string]int64),
		TradesBySymbol: make(map[string]int64),
	}

	var receivedAt []time.Time
	if err := db.Model(&models.Alert{}).Where("received_at >= ?", since).Pluck("received_at", &receivedAt).Error; err != nil {
		return nil, err
	}
	stats.AlertsCount = int64(len(receivedAt))
	for _, t := range receivedAt {
		stats.AlertsByHour[t.UTC().Format("2006-01-02 15:00")]++
	}

	executions := db.Model(&models.Execution{}).Where("executed_at >= ?", since)
	if err := executions.Session(&gorm.Session{}).Count(&stats.TradesCount).Error; err != nil {
		return nil, err
	}
	if err := executions.Session(&gorm.Session{}).Where("status IN ?", successfulStatuses).Count(&stats.SuccessfulTrades).Error; err != nil {
		return nil, err
	}
	if err := executions.Session(&gorm.Session{}).Where("status = ?", models.ExecutionFailed).Count(&stats.FailedTrades).Error; err != nil {
		return nil, err
	}

	var profits []float64
	if err := executions.Session(&gorm.Session{}).Pluck("profit", &profits).Error; err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, p := range profits {
		total = total.Add(decimal.NewFromFloat(p))
	}
	stats.TotalProfit = total.Round(2).InexactFloat64()

	var bySymbol []struct {
		Symbol string
		Count  int64
	}
	if err := executions.Session(&gorm.Session{}).Select("symbol, COUNT(*) AS count").Group("symbol").Scan(&bySymbol).Error; err != nil {
		return nil, err
	}
	for _, row := range bySymbol {
		stats.TradesBySymbol[row.Symbol] = row.Count
	}

	return stats, nil
}

// Dashboard returns all-time totals and the ten newest alerts
func (s *StatsService) Dashboard(ctx context.Context) (*Dashboard, error) {
	db := s.db.WithContext(ctx)
	d := &Dashboard{}

	if err := db.Model(&models.Alert{}).Count(&d.TotalAlerts).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Execution{}).Count(&d.TotalTrades).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Execution{}).Where("status IN ?", successfulStatuses).Count(&d.SuccessfulTrades).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Execution{}).Where("status = ?", models.ExecutionFailed).Count(&d.FailedTrades).Error; err != nil {
		return nil, err
	}

	if d.TotalTrades > 0 {
		d.SuccessRate = decimal.NewFromInt(d.SuccessfulTrades).
			Div(decimal.NewFromInt(d.TotalTrades)).
			Mul(decimal.NewFromInt(100)).
			Round(1).
			InexactFloat64()
	}

	recent, err := s.alerts.RecentAlerts(ctx, 10)
	if err != nil {
		return nil, err
	}
	d.RecentAlerts = recent

	return d, nil
}
