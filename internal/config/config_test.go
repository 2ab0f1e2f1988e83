package config

import (
	"os"
	"testing"

	"fx_hedger/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigWithEnvVars(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "config-test-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	configContent := `system:
  log_level: "${TEST_HEDGER_LOG_LEVEL}"

strategy:
  threshold_p: 0.95
  upper_p: 0.99
  max_pnl_capture: 0.5
  attribute_spot: false
  allow_unwind: false

accounts:
  - id: "acct-1"
    company: "acme"
    domestic: "USD"
    max_loss: 50000
    lock_lower_limit: true

orders:
  acme:
    EUR/USD:
      min_order_size: 1000
      use_lot_multiples: true

storage:
  database_path: "hedger.db"

concurrency:
  workers: 4

telemetry:
  metrics_port: 9090
  enable_metrics: true
`

	_, err = tmpFile.Write([]byte(configContent))
	require.NoError(t, err)
	tmpFile.Close()

	os.Setenv("TEST_HEDGER_LOG_LEVEL", "DEBUG")
	defer os.Unsetenv("TEST_HEDGER_LOG_LEVEL")

	cfg, err := LoadConfig(tmpFile.Name())
	require.NoError(t, err, "LoadConfig() error")

	assert.Equal(t, "DEBUG", cfg.System.LogLevel)
	assert.InDelta(t, 0.95, cfg.Strategy.ThresholdP, 1e-12)

	require.Len(t, cfg.Accounts, 1)
	assert.True(t, cfg.Accounts[0].LockLowerLimit)

	accounts := cfg.CoreAccounts()
	require.Len(t, accounts, 1)
	assert.Equal(t, core.AccountID("acct-1"), accounts[0].ID)
	assert.Equal(t, core.Currency("USD"), accounts[0].Domestic)

	sizer := cfg.Sizer()
	sizing, ok := sizer.Sizing("acme", core.Pair("EUR", "USD"))
	require.True(t, ok)
	assert.InDelta(t, 1000, sizing.MinOrderSize, 1e-12)
	assert.True(t, sizing.UseLotMultiples)

	_, ok = sizer.Sizing("acme", core.Pair("GBP", "USD"))
	assert.False(t, ok, "unlisted pair must not be tradeable")
}

func TestValidate_Strategy(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "threshold out of range",
			mutate:  func(c *Config) { c.Strategy.ThresholdP = 1.2 },
			wantErr: "strategy.threshold_p",
		},
		{
			name:    "upper below threshold",
			mutate:  func(c *Config) { c.Strategy.UpperP = 0.90 },
			wantErr: "strategy.upper_p",
		},
		{
			name:    "capture above one",
			mutate:  func(c *Config) { c.Strategy.MaxPnLCapture = 1.5 },
			wantErr: "strategy.max_pnl_capture",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_Accounts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Accounts = nil
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one account")

	cfg = DefaultConfig()
	cfg.Accounts = append(cfg.Accounts, cfg.Accounts[0])
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate account id")

	cfg = DefaultConfig()
	cfg.Accounts[0].MaxLoss = -100
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max loss must be positive")
}

func TestValidate_Orders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Orders["acme"]["EURUSD"] = OrderSizingConfig{MinOrderSize: 100}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BASE/QUOTE")
}

func TestParsePair(t *testing.T) {
	pair, err := ParsePair("EUR/USD")
	require.NoError(t, err)
	assert.Equal(t, core.Pair("EUR", "USD"), pair)

	_, err = ParsePair("EURUSD")
	assert.Error(t, err)

	_, err = ParsePair("EU/USD")
	assert.Error(t, err)
}

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}
