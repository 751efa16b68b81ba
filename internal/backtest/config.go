package backtest

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned for out-of-range engine settings.
var ErrInvalidConfig = errors.New("invalid backtest config")

// StopPolicy selects how open trades are exited.
type StopPolicy string

const (
	// StopFixed exits at the stop or target placed at entry.
	StopFixed StopPolicy = "fixed"
	// StopTrailing moves the stop to break-even after a favorable move and
	// then trails it behind the best price.
	StopTrailing StopPolicy = "trailing"
)

// Config holds the engine settings. Percent fields are percent units
// (2 = 2%); FeeRate and Slippage are fractions.
type Config struct {
	Symbol         string  `yaml:"symbol"`
	InitialCapital float64 `yaml:"initial_capital"`
	FeeRate        float64 `yaml:"fee_rate"`
	Slippage       float64 `yaml:"slippage"`

	Leverage            float64 `yaml:"leverage"`
	PositionSizePercent float64 `yaml:"position_size_percent"`
	MaxPositionValue    float64 `yaml:"max_position_value"`
	StopLossPercent     float64 `yaml:"stop_loss_percent"`
	TakeProfitPercent   float64 `yaml:"take_profit_percent"`

	Warmup        int     `yaml:"warmup"`
	MaxPositions  int     `yaml:"max_positions"`
	MinConfidence float64 `yaml:"min_confidence"`

	StopPolicy       StopPolicy `yaml:"stop_policy"`
	BreakEvenPercent float64    `yaml:"break_even_percent"`
	TrailingPercent  float64    `yaml:"trailing_percent"`
}

// DefaultConfig returns the standard simulation settings.
func DefaultConfig() Config {
	return Config{
		Symbol:              "BTC/USDT",
		InitialCapital:      10000,
		FeeRate:             0.0004,
		Slippage:            0.0005,
		Leverage:            1,
		PositionSizePercent: 2,
		StopLossPercent:     2,
		TakeProfitPercent:   4,
		Warmup:              100,
		MaxPositions:        3,
		MinConfidence:       0.6,
		StopPolicy:          StopFixed,
		BreakEvenPercent:    1,
		TrailingPercent:     1,
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	switch {
	case c.InitialCapital <= 0:
		return fmt.Errorf("%w: initial capital %v must be positive", ErrInvalidConfig, c.InitialCapital)
	case c.FeeRate < 0 || c.FeeRate >= 1:
		return fmt.Errorf("%w: fee rate %v out of [0,1)", ErrInvalidConfig, c.FeeRate)
	case c.Slippage < 0 || c.Slippage >= 1:
		return fmt.Errorf("%w: slippage %v out of [0,1)", ErrInvalidConfig, c.Slippage)
	case c.Leverage < 1:
		return fmt.Errorf("%w: leverage %v below 1", ErrInvalidConfig, c.Leverage)
	case c.PositionSizePercent <= 0 || c.PositionSizePercent > 100:
		return fmt.Errorf("%w: position size %v%% out of (0,100]", ErrInvalidConfig, c.PositionSizePercent)
	case c.StopLossPercent <= 0 || c.StopLossPercent >= 100:
		return fmt.Errorf("%w: stop loss %v%% out of (0,100)", ErrInvalidConfig, c.StopLossPercent)
	case c.TakeProfitPercent <= 0:
		return fmt.Errorf("%w: take profit %v%% must be positive", ErrInvalidConfig, c.TakeProfitPercent)
	case c.Warmup < 1:
		return fmt.Errorf("%w: warmup %d below 1", ErrInvalidConfig, c.Warmup)
	case c.MaxPositions < 1:
		return fmt.Errorf("%w: max positions %d below 1", ErrInvalidConfig, c.MaxPositions)
	case c.MinConfidence < 0 || c.MinConfidence > 1:
		return fmt.Errorf("%w: min confidence %v out of [0,1]", ErrInvalidConfig, c.MinConfidence)
	}
	switch c.StopPolicy {
	case "", StopFixed:
	case StopTrailing:
		if c.BreakEvenPercent < 0 || c.TrailingPercent <= 0 {
			return fmt.Errorf("%w: trailing policy needs break-even >= 0 and trailing > 0", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown stop policy %q", ErrInvalidConfig, c.StopPolicy)
	}
	return nil
}

// params renders the settings that affect results, for the run ID.
func (c Config) params() string {
	return fmt.Sprintf("cap=%g fee=%g slip=%g lev=%g size=%g max=%g sl=%g tp=%g warm=%d pos=%d conf=%g stop=%s be=%g trail=%g",
		c.InitialCapital, c.FeeRate, c.Slippage, c.Leverage, c.PositionSizePercent, c.MaxPositionValue,
		c.StopLossPercent, c.TakeProfitPercent, c.Warmup, c.MaxPositions, c.MinConfidence,
		c.StopPolicy, c.BreakEvenPercent, c.TrailingPercent)
}
