package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Cyvadra/tv-bridge/broker"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig     `yaml:"server"`
	Database     DatabaseConfig   `yaml:"database"`
	Log          LogConfig        `yaml:"log"`
	Bridge       BridgeConfig     `yaml:"bridge"`
	Trading      TradingConfig    `yaml:"trading"`
	Risk         RiskConfig       `yaml:"risk"`
	Admin        AdminConfig      `yaml:"admin"`
	Endpoints    []EndpointConfig `yaml:"endpoints"`
	AccountsFile string           `yaml:"accounts_file"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, strings.TrimPrefix(s.Port, ":"))
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite, postgres
	DSN      string `yaml:"dsn"`
	LogLevel string `yaml:"log_level"` // silent, error, warn, info
}

// LogConfig represents logger configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// BridgeConfig controls the webhook entry point and adapter behaviour
type BridgeConfig struct {
	APIKey          string `yaml:"api_key"`
	BrokerType      string `yaml:"broker_type"`
	HealthCheck     string `yaml:"health_check"` // cron spec, empty disables the sweep
	BinanceTestnet  bool   `yaml:"binance_testnet"`
	broker.Settings `yaml:",inline"`
}

// TradingConfig seeds the global trading configuration row on first start
type TradingConfig struct {
	ServerIP          string  `yaml:"server_ip"`
	ServerPort        int     `yaml:"server_port"`
	Login             string  `yaml:"login"`
	Password          string  `yaml:"password"`
	DefaultLotSize    float64 `yaml:"default_lot_size"`
	MaxDailyTrades    int     `yaml:"max_daily_trades"`
	MaxRiskPercentage float64 `yaml:"max_risk_percentage"`
	MaxSlippage       int     `yaml:"max_slippage"`
	IsActive          bool    `yaml:"is_active"`
}

// RiskConfig enables the enhanced risk checks
type RiskConfig struct {
	Enhanced                bool     `yaml:"enhanced"`
	AllowedSymbols          []string `yaml:"allowed_symbols"`
	MaxDailyVolume          float64  `yaml:"max_daily_volume"`
	MaxPositionSize         float64  `yaml:"max_position_size"`
	CloseBypassesDailyLimit bool     `yaml:"close_bypasses_daily_limit"`
}

// AdminConfig represents admin login configuration
type AdminConfig struct {
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	PasswordHash string        `yaml:"password_hash"`
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

// EndpointConfig represents a notification endpoint configuration
type EndpointConfig struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"` // telegram, wechat, dingtalk, webhook
	URL      string `yaml:"url"`
	Token    string `yaml:"token,omitempty"`
	ChatID   string `yaml:"chat_id,omitempty"`
	IsActive bool   `yaml:"is_active"`
}

// envOverrides lists the environment variables that win over the file
type envOverrides struct {
	APIKey         string `envconfig:"BRIDGE_API_KEY"`
	BrokerType     string `envconfig:"BRIDGE_BROKER_TYPE"`
	DatabaseDriver string `envconfig:"DATABASE_DRIVER"`
	DatabaseDSN    string `envconfig:"DATABASE_DSN"`
	ServerHost     string `envconfig:"SERVER_HOST"`
	ServerPort     string `envconfig:"SERVER_PORT"`
	AdminUsername  string `envconfig:"ADMIN_USERNAME"`
	AdminPassword  string `envconfig:"ADMIN_PASSWORD"`
	JWTSecret      string `envconfig:"JWT_SECRET"`
	LogLevel       string `envconfig:"LOG_LEVEL"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "5000",
			Mode: "release",
		},
		Database: DatabaseConfig{
			Driver:   "sqlite",
			DSN:      "tv-bridge.db",
			LogLevel: "warn",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Bridge: BridgeConfig{
			BrokerType:  "mt5",
			HealthCheck:    "@every 1m",
			BinanceTestnet: true,
			Settings:       broker.DefaultSettings(),
		},
		Trading: TradingConfig{
			ServerPort:        443,
			DefaultLotSize:    0.01,
			MaxDailyTrades:    10,
			MaxRiskPercentage: 2.0,
			MaxSlippage:       3,
			IsActive:          true,
		},
		Risk: RiskConfig{
			AllowedSymbols:  []string{"EURUSD", "GBPUSD", "USDJPY", "AUDUSD"},
			MaxDailyVolume:  10.0,
			MaxPositionSize: 2.0,
		},
		Admin: AdminConfig{
			Username: "admin",
			TokenTTL: 24 * time.Hour,
		},
	}
}

// LoadConfig loads configuration from a YAML file on top of the defaults,
// then applies .env and environment overrides. A missing file is not an error.
func LoadConfig(filename string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(filename)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	config.Bridge.Settings = config.Bridge.Settings.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overrides file values with the environment
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("error processing env config: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Bridge.APIKey, env.APIKey)
	set(&c.Bridge.BrokerType, env.BrokerType)
	set(&c.Database.Driver, env.DatabaseDriver)
	set(&c.Database.DSN, env.DatabaseDSN)
	set(&c.Server.Host, env.ServerHost)
	set(&c.Server.Port, env.ServerPort)
	set(&c.Admin.Username, env.AdminUsername)
	set(&c.Admin.Password, env.AdminPassword)
	set(&c.Admin.JWTSecret, env.JWTSecret)
	set(&c.Log.Level, env.LogLevel)
	return nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if !broker.IsRegistered(c.Bridge.BrokerType) {
		return fmt.Errorf("unknown broker type: %s", c.Bridge.BrokerType)
	}
	if err := c.Bridge.Settings.Validate(); err != nil {
		return fmt.Errorf("invalid bridge settings: %w", err)
	}
	if c.Bridge.RequestTimeout <= 0 {
		return fmt.Errorf("bridge request_timeout must be positive")
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}

	if c.Risk.Enhanced && c.Risk.MaxDailyVolume < 0 {
		return fmt.Errorf("risk max_daily_volume must not be negative")
	}

	for _, ep := range c.Endpoints {
		switch ep.Type {
		case "telegram", "wechat", "dingtalk", "webhook":
		default:
			return fmt.Errorf("endpoint %s: unsupported type %s", ep.Name, ep.Type)
		}
	}
	return nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, filename string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
