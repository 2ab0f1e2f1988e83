// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"fx_hedger/internal/core"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	System      SystemConfig             `yaml:"system"`
	Strategy    StrategyConfig           `yaml:"strategy"`
	Accounts    []AccountConfig          `yaml:"accounts"`
	Orders      map[string]CompanyOrders `yaml:"orders"`
	Storage     StorageConfig            `yaml:"storage"`
	Concurrency ConcurrencyConfig        `yaml:"concurrency"`
	Telemetry   TelemetryConfig          `yaml:"telemetry"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// StrategyConfig contains the parachute sizing parameters
type StrategyConfig struct {
	// ThresholdP is the no-breach probability below which hedging starts
	ThresholdP float64 `yaml:"threshold_p"`
	// UpperP is the no-breach probability a triggered hedge restores
	UpperP float64 `yaml:"upper_p"`
	// MaxPnLCapture folds this share of the best-ever PnL into the limit
	MaxPnLCapture float64 `yaml:"max_pnl_capture"`

	AttributeSpot bool `yaml:"attribute_spot"`
	AllowUnwind   bool `yaml:"allow_unwind"`
}

// AccountConfig declares one hedged account
type AccountConfig struct {
	ID             string  `yaml:"id"`
	Company        string  `yaml:"company"`
	Domestic       string  `yaml:"domestic"`
	MaxLoss        float64 `yaml:"max_loss"`
	LockLowerLimit bool    `yaml:"lock_lower_limit"`
}

// CompanyOrders maps currency pairs ("EUR/USD") to sizing rules
type CompanyOrders map[string]OrderSizingConfig

// OrderSizingConfig is the per-(company, pair) sizing rule
type OrderSizingConfig struct {
	MinOrderSize    float64 `yaml:"min_order_size"`
	UseLotMultiples bool    `yaml:"use_lot_multiples"`
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	Workers int `yaml:"workers"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateStrategyConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateAccounts(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateOrders(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateConcurrencyConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateStrategyConfig() error {
	s := c.Strategy
	if s.ThresholdP <= 0 || s.ThresholdP >= 1 {
		return ValidationError{
			Field:   "strategy.threshold_p",
			Value:   s.ThresholdP,
			Message: "must be strictly between 0 and 1",
		}
	}
	if s.UpperP <= 0 || s.UpperP >= 1 {
		return ValidationError{
			Field:   "strategy.upper_p",
			Value:   s.UpperP,
			Message: "must be strictly between 0 and 1",
		}
	}
	if s.UpperP <= s.ThresholdP {
		return ValidationError{
			Field:   "strategy.upper_p",
			Value:   s.UpperP,
			Message: "must be greater than threshold_p",
		}
	}
	if s.MaxPnLCapture < 0 || s.MaxPnLCapture > 1 {
		return ValidationError{
			Field:   "strategy.max_pnl_capture",
			Value:   s.MaxPnLCapture,
			Message: "must be between 0 and 1",
		}
	}
	return nil
}

func (c *Config) validateAccounts() error {
	if len(c.Accounts) == 0 {
		return ValidationError{
			Field:   "accounts",
			Message: "at least one account must be configured",
		}
	}

	seen := make(map[string]bool)
	for i, a := range c.Accounts {
		if a.ID == "" {
			return ValidationError{
				Field:   fmt.Sprintf("accounts[%d].id", i),
				Message: "account id is required",
			}
		}
		if seen[a.ID] {
			return ValidationError{
				Field:   fmt.Sprintf("accounts[%d].id", i),
				Value:   a.ID,
				Message: "duplicate account id",
			}
		}
		seen[a.ID] = true

		if a.Company == "" {
			return ValidationError{
				Field:   fmt.Sprintf("accounts[%d].company", i),
				Message: "company is required",
			}
		}
		if len(a.Domestic) != 3 {
			return ValidationError{
				Field:   fmt.Sprintf("accounts[%d].domestic", i),
				Value:   a.Domestic,
				Message: "domestic must be a 3-letter currency code",
			}
		}
		if a.MaxLoss <= 0 {
			return ValidationError{
				Field:   fmt.Sprintf("accounts[%d].max_loss", i),
				Value:   a.MaxLoss,
				Message: "max loss must be positive",
			}
		}
	}
	return nil
}

func (c *Config) validateOrders() error {
	for company, byPair := range c.Orders {
		for pair, sizing := range byPair {
			if _, err := ParsePair(pair); err != nil {
				return ValidationError{
					Field:   fmt.Sprintf("orders.%s.%s", company, pair),
					Value:   pair,
					Message: err.Error(),
				}
			}
			if sizing.MinOrderSize < 0 {
				return ValidationError{
					Field:   fmt.Sprintf("orders.%s.%s.min_order_size", company, pair),
					Value:   sizing.MinOrderSize,
					Message: "min order size must not be negative",
				}
			}
		}
	}
	return nil
}

func (c *Config) validateConcurrencyConfig() error {
	if c.Concurrency.Workers < 0 {
		return ValidationError{
			Field:   "concurrency.workers",
			Value:   c.Concurrency.Workers,
			Message: "workers must not be negative",
		}
	}
	return nil
}

// ParsePair parses a "BASE/QUOTE" string into a currency pair
func ParsePair(s string) (core.CurrencyPair, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || len(parts[0]) != 3 || len(parts[1]) != 3 {
		return core.CurrencyPair{}, fmt.Errorf("pair must be formatted as BASE/QUOTE, got %q", s)
	}
	return core.Pair(core.Currency(parts[0]), core.Currency(parts[1])), nil
}

// CoreAccounts converts the account declarations to core types
func (c *Config) CoreAccounts() []core.Account {
	accounts := make([]core.Account, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		accounts = append(accounts, core.Account{
			ID:             core.AccountID(a.ID),
			Company:        core.CompanyID(a.Company),
			Domestic:       core.Currency(a.Domestic),
			MaxLoss:        a.MaxLoss,
			LockLowerLimit: a.LockLowerLimit,
		})
	}
	return accounts
}

// Sizer builds a core.OrderSizer from the orders section. Pairs were
// validated at load time; malformed entries are skipped.
func (c *Config) Sizer() core.OrderSizer {
	table := make(map[core.CompanyID]map[core.CurrencyPair]core.OrderSizing)
	for company, byPair := range c.Orders {
		entries := make(map[core.CurrencyPair]core.OrderSizing, len(byPair))
		for pairStr, sizing := range byPair {
			pair, err := ParsePair(pairStr)
			if err != nil {
				continue
			}
			entries[pair] = core.OrderSizing{
				MinOrderSize:    sizing.MinOrderSize,
				UseLotMultiples: sizing.UseLotMultiples,
			}
		}
		table[core.CompanyID(company)] = entries
	}
	return &configSizer{table: table}
}

type configSizer struct {
	table map[core.CompanyID]map[core.CurrencyPair]core.OrderSizing
}

func (s *configSizer) Sizing(company core.CompanyID, pair core.CurrencyPair) (core.OrderSizing, bool) {
	byPair, ok := s.table[company]
	if !ok {
		return core.OrderSizing{}, false
	}
	sizing, ok := byPair[pair]
	return sizing, ok
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	return &Config{
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Strategy: StrategyConfig{
			ThresholdP:    0.95,
			UpperP:        0.99,
			MaxPnLCapture: 0.5,
			AttributeSpot: false,
			AllowUnwind:   false,
		},
		Accounts: []AccountConfig{
			{ID: "acct-1", Company: "acme", Domestic: "USD", MaxLoss: 50000},
		},
		Orders: map[string]CompanyOrders{
			"acme": {
				"EUR/USD": {MinOrderSize: 1000},
				"GBP/USD": {MinOrderSize: 1000},
			},
		},
		Storage: StorageConfig{
			DatabasePath: "fx_hedger.db",
		},
		Concurrency: ConcurrencyConfig{
			Workers: 4,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: false,
		},
	}
}
