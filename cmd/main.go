package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/Cyvadra/tv-bridge/broker/binance"
	_ "github.com/Cyvadra/tv-bridge/broker/paper"
	"github.com/Cyvadra/tv-bridge/internal/app"
	"github.com/Cyvadra/tv-bridge/internal/config"
	"github.com/Cyvadra/tv-bridge/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "tv-bridge",
	Short: "TradingView webhook to broker bridge",
	Long: `tv-bridge receives TradingView alerts over HTTP, checks them against the
configured risk limits and places the orders on MT4/MT5 terminals or Binance.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "Path to configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newAccountCmd())
	rootCmd.AddCommand(newHashPasswordCmd())
}

// setup loads configuration and builds the process logger
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config from %s: %w", configFile, err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	zap.ReplaceGlobals(log)
	return cfg, log, nil
}

func serve(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize", zap.Error(err))
		return err
	}
	return a.Run(ctx)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
