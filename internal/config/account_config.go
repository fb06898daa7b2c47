package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AccountConfig lists trading accounts created at startup when missing
type AccountConfig struct {
	Accounts []AccountConfigEntry `yaml:"accounts"`
}

// AccountConfigEntry represents a single seeded account, keyed by name
type AccountConfigEntry struct {
	Name           string  `yaml:"name"`
	BrokerType     string  `yaml:"broker_type"`
	ServerIP       string  `yaml:"server_ip"`
	ServerPort     int     `yaml:"server_port"`
	Login          string  `yaml:"login"`
	Password       string  `yaml:"password"`
	DefaultLotSize float64 `yaml:"default_lot_size"`
	MaxDailyTrades int     `yaml:"max_daily_trades"`
	MaxSlippage    int     `yaml:"max_slippage"`
}

// LoadAccountConfig loads the account seed file. A missing file yields an empty list.
func LoadAccountConfig(filename string) (*AccountConfig, error) {
	var config AccountConfig
	if filename == "" {
		return &config, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &config, nil
		}
		return nil, fmt.Errorf("failed to read account config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse account config file: %w", err)
	}

	seen := make(map[string]bool, len(config.Accounts))
	for _, entry := range config.Accounts {
		if entry.Name == "" {
			return nil, fmt.Errorf("account config entry without name")
		}
		if seen[entry.Name] {
			return nil, fmt.Errorf("duplicate account name in config: %s", entry.Name)
		}
		seen[entry.Name] = true
	}

	return &config, nil
}

// GetAccountByName finds a seeded account by name
func (ac *AccountConfig) GetAccountByName(name string) *AccountConfigEntry {
	for i := range ac.Accounts {
		if ac.Accounts[i].Name == name {
			return &ac.Accounts[i]
		}
	}
	return nil
}
