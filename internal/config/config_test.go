package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10.0, cfg.KillSwitch.MaxDrawdownPercent)
	assert.Equal(t, 60*time.Minute, cfg.KillSwitch.RecoveryDelay)
	assert.Equal(t, 5, cfg.Resilience.Breaker.FailMax)
	assert.Equal(t, 10000.0, cfg.Backtest.InitialCapital)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
trading:
  symbol: ETH/USDT
  leverage: 20
  cycle_interval: 30s
kill_switch:
  max_drawdown_percent: 7.5
  auto_recovery: true
  recovery_delay: 15m
resilience:
  breaker:
    fail_max: 3
    timeout: 45s
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ETH/USDT", cfg.Trading.Symbol)
	assert.Equal(t, 20.0, cfg.Trading.Leverage)
	assert.Equal(t, 30*time.Second, cfg.Trading.CycleInterval)
	assert.Equal(t, 7.5, cfg.KillSwitch.MaxDrawdownPercent)
	assert.True(t, cfg.KillSwitch.AutoRecovery)
	assert.Equal(t, 15*time.Minute, cfg.KillSwitch.RecoveryDelay)
	assert.Equal(t, 3, cfg.Resilience.Breaker.FailMax)
	assert.Equal(t, 45*time.Second, cfg.Resilience.Breaker.Timeout)
	assert.Equal(t, "json", cfg.Log.Format)

	// Untouched sections keep defaults.
	assert.Equal(t, 5, cfg.KillSwitch.MaxConsecutiveLosses)
	assert.Equal(t, "paper", cfg.Trading.Mode)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", "trading:\n  leverage: 20\n")
	t.Setenv("LEVERAGE", "5")
	t.Setenv("DEFAULT_SYMBOL", "SOL/USDT")
	t.Setenv("MAX_DAILY_LOSS_PERCENT", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.Trading.Leverage)
	assert.Equal(t, "SOL/USDT", cfg.Trading.Symbol)
	assert.Equal(t, 3.0, cfg.Risk.MaxDailyLossPercent)
	assert.Equal(t, 3.0, cfg.KillSwitch.MaxDailyLossPercent)
}

func TestLoad_DotEnv(t *testing.T) {
	env := writeFile(t, ".env", "STOP_LOSS_PERCENT=1.5\nLOG_LEVEL=warn\n")
	// godotenv sets process variables; register them for cleanup.
	t.Setenv("STOP_LOSS_PERCENT", "")
	t.Setenv("LOG_LEVEL", "")
	os.Unsetenv("STOP_LOSS_PERCENT")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load("", env, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 1.5, cfg.Trading.StopLossPercent)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	bad := writeFile(t, "bad.yaml", "trading: [unclosed")
	_, err = Load(bad)
	assert.Error(t, err)

	t.Setenv("LEVERAGE", "lots")
	_, err = Load("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Trading.Mode = "demo" }},
		{"live without keys", func(c *Config) { c.Trading.Mode = ModeLive }},
		{"leverage too low", func(c *Config) { c.Trading.Leverage = 0.5 }},
		{"leverage too high", func(c *Config) { c.Trading.Leverage = 126 }},
		{"zero position size", func(c *Config) { c.Trading.PositionSizePercent = 0 }},
		{"zero stop", func(c *Config) { c.Trading.StopLossPercent = 0 }},
		{"zero target", func(c *Config) { c.Trading.TakeProfitPercent = 0 }},
		{"confidence above one", func(c *Config) { c.Trading.ConfidenceThreshold = 1.5 }},
		{"zero daily loss", func(c *Config) { c.Risk.MaxDailyLossPercent = 0 }},
		{"negative kill switch threshold", func(c *Config) { c.KillSwitch.MaxDrawdownPercent = -1 }},
		{"no breaker failures", func(c *Config) { c.Resilience.Breaker.FailMax = 0 }},
		{"no rate window", func(c *Config) { c.Resilience.RateLimit.Window = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	live := Default()
	live.Trading.Mode = ModeLive
	live.Venue.APIKey, live.Venue.APISecret = "k", "s"
	assert.NoError(t, live.Validate())
}

func TestBacktestEngine(t *testing.T) {
	cfg := Default()
	cfg.Trading.Symbol = "ETH/USDT"
	cfg.Backtest.Warmup = 50

	bt := cfg.BacktestEngine()
	assert.Equal(t, "ETH/USDT", bt.Symbol)
	assert.Equal(t, 50, bt.Warmup)
	assert.Equal(t, cfg.Trading.Leverage, bt.Leverage)
	require.NoError(t, bt.Validate())

	rc := cfg.RetryConfig()
	assert.Equal(t, 5, rc.MaxAttempts)
	assert.NotNil(t, rc.Retryable)
}
