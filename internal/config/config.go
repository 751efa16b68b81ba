// Package config loads runtime settings from YAML, .env files and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"futures-risk-lab/internal/backtest"
	"futures-risk-lab/internal/killswitch"
	"futures-risk-lab/internal/resilience"
)

// ErrInvalidConfig is returned by Validate and Load for out-of-range settings.
var ErrInvalidConfig = errors.New("invalid config")

// Trading modes.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Config is the full runtime configuration.
type Config struct {
	Trading    TradingConfig     `yaml:"trading"`
	Risk       RiskConfig        `yaml:"risk"`
	KillSwitch killswitch.Config `yaml:"kill_switch"`
	Resilience ResilienceConfig  `yaml:"resilience"`
	Backtest   BacktestConfig    `yaml:"backtest"`
	Storage    StorageConfig     `yaml:"storage"`
	Server     ServerConfig      `yaml:"server"`
	Log        LogConfig         `yaml:"log"`
	Venue      VenueConfig       `yaml:"venue"`
}

// TradingConfig drives the live control loop.
type TradingConfig struct {
	Mode                string        `yaml:"mode"`
	Symbol              string        `yaml:"symbol"`
	Timeframe           string        `yaml:"timeframe"`
	Strategy            string        `yaml:"strategy"`
	Leverage            float64       `yaml:"leverage"`
	PositionSizePercent float64       `yaml:"position_size_percent"`
	MaxPositionValue    float64       `yaml:"max_position_value"`
	StopLossPercent     float64       `yaml:"stop_loss_percent"`
	TakeProfitPercent   float64       `yaml:"take_profit_percent"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	MaxOpenPositions    int           `yaml:"max_open_positions"`
	CycleInterval       time.Duration `yaml:"cycle_interval"`
	LotStep             float64       `yaml:"lot_step"`
}

// RiskConfig holds pre-trade limits.
type RiskConfig struct {
	MaxDailyLossPercent float64 `yaml:"max_daily_loss_percent"`
}

// ResilienceConfig configures the venue call chain.
type ResilienceConfig struct {
	Breaker     resilience.BreakerConfig `yaml:"breaker"`
	Retry       RetrySettings            `yaml:"retry"`
	RateLimit   RateLimitSettings        `yaml:"rate_limit"`
	CallTimeout time.Duration            `yaml:"call_timeout"`
}

// RetrySettings is the serializable part of resilience.RetryConfig.
type RetrySettings struct {
	MaxAttempts int           `yaml:"max_attempts"`
	MinWait     time.Duration `yaml:"min_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
}

// RateLimitSettings admits MaxCalls per Window.
type RateLimitSettings struct {
	MaxCalls int           `yaml:"max_calls"`
	Window   time.Duration `yaml:"window"`
}

// BacktestConfig holds simulation defaults for cmd/backtest.
type BacktestConfig struct {
	InitialCapital float64 `yaml:"initial_capital"`
	FeeRate        float64 `yaml:"fee_rate"`
	Slippage       float64 `yaml:"slippage"`
	Warmup         int     `yaml:"warmup"`
	MaxPositions   int     `yaml:"max_positions"`
	MinConfidence  float64 `yaml:"min_confidence"`
}

// StorageConfig holds connection strings. Empty values disable the backend.
type StorageConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	SqlitePath    string `yaml:"sqlite_path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures logging.New.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// VenueConfig selects and authenticates the venue.
type VenueConfig struct {
	Name      string `yaml:"name"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// Default returns a paper-trading configuration.
func Default() Config {
	bt := backtest.DefaultConfig()
	breaker := resilience.DefaultBreakerConfig()
	retry := resilience.DefaultRetryConfig()
	return Config{
		Trading: TradingConfig{
			Mode:                ModePaper,
			Symbol:              "BTC/USDT",
			Timeframe:           "1h",
			Strategy:            "momentum",
			Leverage:            10,
			PositionSizePercent: 2,
			StopLossPercent:     2,
			TakeProfitPercent:   4,
			ConfidenceThreshold: 0.5,
			MaxOpenPositions:    3,
			CycleInterval:       time.Minute,
			LotStep:             0.001,
		},
		Risk:       RiskConfig{MaxDailyLossPercent: 5},
		KillSwitch: killswitch.DefaultConfig(),
		Resilience: ResilienceConfig{
			Breaker: breaker,
			Retry: RetrySettings{
				MaxAttempts: retry.MaxAttempts,
				MinWait:     retry.MinWait,
				MaxWait:     retry.MaxWait,
			},
			RateLimit:   RateLimitSettings{MaxCalls: 10, Window: time.Second},
			CallTimeout: 10 * time.Second,
		},
		Backtest: BacktestConfig{
			InitialCapital: bt.InitialCapital,
			FeeRate:        bt.FeeRate,
			Slippage:       bt.Slippage,
			Warmup:         bt.Warmup,
			MaxPositions:   bt.MaxPositions,
			MinConfidence:  bt.MinConfidence,
		},
		Storage: StorageConfig{SqlitePath: "data/agent_state.db"},
		Server:  ServerConfig{Addr: ":8080"},
		Log:     LogConfig{Level: "info", Format: "text"},
		Venue:   VenueConfig{Name: "paper"},
	}
}

// Load builds a Config from defaults, the optional YAML file at path, the
// given .env files and the process environment, in that order of precedence
// (environment wins). Missing .env files are ignored.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		// godotenv.Load never overrides variables already set.
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"TRADING_MODE":        &c.Trading.Mode,
		"DEFAULT_SYMBOL":      &c.Trading.Symbol,
		"TIMEFRAME":           &c.Trading.Timeframe,
		"STRATEGY":            &c.Trading.Strategy,
		"LOG_LEVEL":           &c.Log.Level,
		"LOG_FORMAT":          &c.Log.Format,
		"EXCHANGE_NAME":       &c.Venue.Name,
		"EXCHANGE_API_KEY":    &c.Venue.APIKey,
		"EXCHANGE_API_SECRET": &c.Venue.APISecret,
		"POSTGRES_DSN":        &c.Storage.PostgresDSN,
		"CLICKHOUSE_DSN":      &c.Storage.ClickhouseDSN,
		"SQLITE_PATH":         &c.Storage.SqlitePath,
		"SERVER_ADDR":         &c.Server.Addr,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	floats := map[string]*float64{
		"LEVERAGE":              &c.Trading.Leverage,
		"POSITION_SIZE_PERCENT": &c.Trading.PositionSizePercent,
		"MAX_POSITION_SIZE":     &c.Trading.MaxPositionValue,
		"STOP_LOSS_PERCENT":     &c.Trading.StopLossPercent,
		"TAKE_PROFIT_PERCENT":   &c.Trading.TakeProfitPercent,
		"CONFIDENCE_THRESHOLD":  &c.Trading.ConfidenceThreshold,
	}
	for name, dst := range floats {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, name, v)
		}
		*dst = f
	}

	// The daily loss limit feeds both the pre-trade check and the kill switch.
	if v, ok := lookup("MAX_DAILY_LOSS_PERCENT"); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%w: MAX_DAILY_LOSS_PERCENT=%q is not a number", ErrInvalidConfig, v)
		}
		c.Risk.MaxDailyLossPercent = f
		c.KillSwitch.MaxDailyLossPercent = f
	}
	return nil
}

// Validate fails fast on settings the trader cannot run with.
func (c Config) Validate() error {
	t := c.Trading
	switch t.Mode {
	case ModePaper:
	case ModeLive:
		if c.Venue.APIKey == "" || c.Venue.APISecret == "" {
			return fmt.Errorf("%w: live mode requires venue api key and secret", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: trading mode %q must be paper or live", ErrInvalidConfig, t.Mode)
	}

	switch {
	case t.Symbol == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidConfig)
	case t.Leverage < 1 || t.Leverage > 125:
		return fmt.Errorf("%w: leverage %v out of [1,125]", ErrInvalidConfig, t.Leverage)
	case t.PositionSizePercent <= 0:
		return fmt.Errorf("%w: position size percent must be positive", ErrInvalidConfig)
	case t.StopLossPercent <= 0:
		return fmt.Errorf("%w: stop loss percent must be positive", ErrInvalidConfig)
	case t.TakeProfitPercent <= 0:
		return fmt.Errorf("%w: take profit percent must be positive", ErrInvalidConfig)
	case t.ConfidenceThreshold < 0 || t.ConfidenceThreshold > 1:
		return fmt.Errorf("%w: confidence threshold %v out of [0,1]", ErrInvalidConfig, t.ConfidenceThreshold)
	case t.MaxPositionValue < 0:
		return fmt.Errorf("%w: max position value must not be negative", ErrInvalidConfig)
	case c.Risk.MaxDailyLossPercent <= 0:
		return fmt.Errorf("%w: max daily loss percent must be positive", ErrInvalidConfig)
	case c.KillSwitch.MaxDrawdownPercent < 0 || c.KillSwitch.MaxDailyLossPercent < 0 || c.KillSwitch.MaxConsecutiveLosses < 0:
		return fmt.Errorf("%w: kill switch thresholds must not be negative", ErrInvalidConfig)
	case c.Resilience.Breaker.FailMax < 1:
		return fmt.Errorf("%w: breaker fail_max must be at least 1", ErrInvalidConfig)
	case c.Resilience.Retry.MaxAttempts < 1:
		return fmt.Errorf("%w: retry max_attempts must be at least 1", ErrInvalidConfig)
	case c.Resilience.RateLimit.MaxCalls < 1 || c.Resilience.RateLimit.Window <= 0:
		return fmt.Errorf("%w: rate limit needs max_calls >= 1 and a positive window", ErrInvalidConfig)
	}
	return nil
}

// BacktestEngine maps the trading and backtest sections onto an engine config.
func (c Config) BacktestEngine() backtest.Config {
	bt := backtest.DefaultConfig()
	bt.Symbol = c.Trading.Symbol
	bt.Leverage = c.Trading.Leverage
	bt.PositionSizePercent = c.Trading.PositionSizePercent
	bt.MaxPositionValue = c.Trading.MaxPositionValue
	bt.StopLossPercent = c.Trading.StopLossPercent
	bt.TakeProfitPercent = c.Trading.TakeProfitPercent
	bt.InitialCapital = c.Backtest.InitialCapital
	bt.FeeRate = c.Backtest.FeeRate
	bt.Slippage = c.Backtest.Slippage
	bt.Warmup = c.Backtest.Warmup
	bt.MaxPositions = c.Backtest.MaxPositions
	bt.MinConfidence = c.Backtest.MinConfidence
	return bt
}

// RetryConfig returns the retry policy for venue calls.
func (c Config) RetryConfig() resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	rc.MaxAttempts = c.Resilience.Retry.MaxAttempts
	rc.MinWait = c.Resilience.Retry.MinWait
	rc.MaxWait = c.Resilience.Retry.MaxWait
	return rc
}
