package marketdata

import (
	"math"
	"math/rand"
	"time"

	"futures-risk-lab/internal/domain"
)

// SyntheticConfig parameterizes Generate.
type SyntheticConfig struct {
	Rows       int
	Seed       int64
	Start      time.Time
	Interval   time.Duration
	BasePrice  float64
	Volatility float64 // per-bar stdev of the close-to-close return
	Drift      float64 // per-bar mean return
}

// DefaultSyntheticConfig returns an hourly series starting 2021-01-01 at 27000.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Rows:       1000,
		Seed:       42,
		Start:      time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		Interval:   time.Hour,
		BasePrice:  27000,
		Volatility: 0.004,
	}
}

// Generate produces a reproducible geometric random walk. The same config
// always yields the same bars.
func Generate(cfg SyntheticConfig) []domain.Bar {
	def := DefaultSyntheticConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BasePrice <= 0 {
		cfg.BasePrice = def.BasePrice
	}
	if cfg.Start.IsZero() {
		cfg.Start = def.Start
	}
	if cfg.Rows <= 0 {
		return nil
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	bars := make([]domain.Bar, cfg.Rows)
	prev := cfg.BasePrice
	for i := range bars {
		ret := cfg.Drift + cfg.Volatility*rng.NormFloat64()
		closePx := prev * math.Exp(ret)
		open := prev

		wick := cfg.Volatility * math.Abs(rng.NormFloat64()) / 2
		high := math.Max(open, closePx) * (1 + wick)
		low := math.Min(open, closePx) * (1 - wick)

		bars[i] = domain.Bar{
			Timestamp:   cfg.Start.Add(time.Duration(i) * cfg.Interval),
			Open:        open,
			High:        high,
			Low:         low,
			Close:       closePx,
			Volume:      100 + rng.Float64()*900,
			FundingRate: 0.0001 * rng.NormFloat64(),
		}
		prev = closePx
	}
	return bars
}
