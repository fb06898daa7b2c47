package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Cyvadra/tv-bridge/broker"
	"github.com/Cyvadra/tv-bridge/broker/binance"
	_ "github.com/Cyvadra/tv-bridge/broker/paper"
	"github.com/Cyvadra/tv-bridge/internal/config"
	"github.com/Cyvadra/tv-bridge/internal/database"
	"github.com/Cyvadra/tv-bridge/internal/handlers"
	"github.com/Cyvadra/tv-bridge/internal/middleware"
	"github.com/Cyvadra/tv-bridge/internal/routes"
	"github.com/Cyvadra/tv-bridge/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Version is reported by GET /
const Version = "1.0.0"

const shutdownTimeout = 10 * time.Second

// Option customizes App construction
type Option func(*options)

type options struct {
	db      *gorm.DB
	factory func(brokerType string) (broker.Broker, error)
}

// WithDB uses an already opened database instead of the configured one
func WithDB(db *gorm.DB) Option {
	return func(o *options) { o.db = db }
}

// WithBrokerFactory replaces the adapter factory of the pool
func WithBrokerFactory(factory func(brokerType string) (broker.Broker, error)) Option {
	return func(o *options) { o.factory = factory }
}

// brokerFactory creates adapters from the registry, applying the bridge's
// Binance endpoint choice
func brokerFactory(bridge config.BridgeConfig) func(brokerType string) (broker.Broker, error) {
	return func(brokerType string) (broker.Broker, error) {
		if strings.EqualFold(brokerType, "binance") {
			return binance.NewClientWithTestnet(bridge.BinanceTestnet), nil
		}
		return broker.Create(brokerType)
	}
}

// App owns every long-lived component of the bridge
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *gorm.DB
	pool    *broker.Pool
	forward *services.ForwardService
	router  *services.AccountRouter
	engine  *gin.Engine
}

// New wires the services, seeds the database and builds the HTTP engine
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	db := o.db
	if db == nil {
		var err error
		db, err = database.Open(cfg.Database, logger)
		if err != nil {
			return nil, err
		}
	}

	pool := broker.NewPool(cfg.Bridge.Settings, logger)
	factory := o.factory
	if factory == nil {
		factory = brokerFactory(cfg.Bridge)
	}
	pool.SetFactory(factory)

	alerts := services.NewAlertService(db)
	executions := services.NewExecutionService(db)
	accounts := services.NewAccountService(db, logger)
	symbols := services.NewSymbolService(db)
	settings := services.NewSettingsService(db, cfg.Trading, cfg.Bridge, logger)
	forward := services.NewForwardService(cfg.Endpoints, logger)

	auth, err := services.NewAuthService(cfg.Admin, logger)
	if err != nil {
		return nil, err
	}

	trades := services.NewTradeService(services.TradeDeps{
		DB:         db,
		Pool:       pool,
		Risk:       services.NewRiskEvaluator(cfg.Risk),
		Alerts:     alerts,
		Executions: executions,
		Accounts:   accounts,
		Symbols:    symbols,
		Settings:   settings,
		Forward:    forward,
		Logger:     logger,
	})
	router := services.NewAccountRouter(accounts, settings, trades, pool, logger)

	if _, err := settings.Ensure(ctx); err != nil {
		return nil, err
	}
	if cfg.AccountsFile != "" {
		seed, err := config.LoadAccountConfig(cfg.AccountsFile)
		if err != nil {
			return nil, err
		}
		n, err := accounts.Seed(ctx, seed)
		if err != nil {
			return nil, fmt.Errorf("failed to seed accounts: %w", err)
		}
		if n > 0 {
			logger.Info("seeded accounts", zap.Int("created", n), zap.String("file", cfg.AccountsFile))
		}
	}

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	engine := gin.New()
	engine.Use(middleware.RequestLogger(logger))
	engine.Use(middleware.Recovery(logger))

	routes.SetupRoutes(engine, routes.Deps{
		Trades: trades,
		Auth:   auth,
		Admin: handlers.AdminServices{
			Accounts:   accounts,
			Alerts:     alerts,
			Executions: executions,
			Settings:   settings,
			Symbols:    symbols,
			Stats:      services.NewStatsService(db, alerts),
			Router:     router,
		},
		Logger:  logger,
		Version: Version,
	})

	return &App{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		pool:    pool,
		forward: forward,
		router:  router,
		engine:  engine,
	}, nil
}

// Handler returns the HTTP handler of the bridge
func (a *App) Handler() http.Handler {
	return a.engine
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully
func (a *App) Run(ctx context.Context) error {
	if err := a.router.StartHealthCheck(a.cfg.Bridge.HealthCheck); err != nil {
		return err
	}

	addr := a.cfg.Server.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting server",
			zap.String("addr", addr),
			zap.String("webhook", "/webhook"),
			zap.String("account_webhook", "/webhook/:key"),
			zap.String("broker", a.cfg.Bridge.BrokerType))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		_ = a.Close()
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("server shutdown", zap.Error(err))
	}
	return a.Close()
}

// Close stops background work and releases adapters and the database
func (a *App) Close() error {
	a.router.Stop()
	a.forward.Wait()

	var errs []error
	if err := a.pool.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close adapters: %w", err))
	}
	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
