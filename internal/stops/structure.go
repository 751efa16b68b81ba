package stops

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"futures-risk-lab/internal/domain"
)

// StructureConfig tunes the structure-aware manager.
type StructureConfig struct {
	BufferPercent     float64 // initial stop buffer beyond the swing, percent
	TrailBuffer       float64 // trailing stop buffer beyond the swing, fraction
	MinProfitR        float64 // unrealized profit in R required before trailing
	BreakevenMinBars  int
	BreakevenLookback int
	TrailMinBars      int
	TrailLookback     int
}

// DefaultStructureConfig returns the standard structure settings.
func DefaultStructureConfig() StructureConfig {
	return StructureConfig{
		BufferPercent:     0.2,
		TrailBuffer:       0.002,
		MinProfitR:        1.0,
		BreakevenMinBars:  10,
		BreakevenLookback: 20,
		TrailMinBars:      15,
		TrailLookback:     30,
	}
}

const (
	breakevenConfidence = 0.9
	trailConfidence     = 0.85
)

// StructureManager moves stops on breaks of structure and validated swings.
//   - INITIAL -> BREAKEVEN: a close beyond the most extreme recent opposing swing
//   - BREAKEVEN -> TRAILING: profit >= MinProfitR and a validated swing exists
type StructureManager struct {
	cfg    StructureConfig
	logger logrus.FieldLogger
}

// NewStructureManager creates a manager. A nil logger discards output.
func NewStructureManager(cfg StructureConfig, logger logrus.FieldLogger) *StructureManager {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &StructureManager{cfg: cfg, logger: logger}
}

// InitialStop places the stop beyond the validating swing plus the buffer.
// With no swing, long uses entry*0.98 and short uses entry*1.02 as the swing.
func (m *StructureManager) InitialStop(entryPrice float64, side domain.Side, swing *float64) float64 {
	if side == domain.SideShort {
		high := entryPrice * 1.02
		if swing != nil {
			high = *swing
		}
		return high + high*m.cfg.BufferPercent/100
	}

	low := entryPrice * 0.98
	if swing != nil {
		low = *swing
	}
	return low - low*m.cfg.BufferPercent/100
}

// Manage advances the position's stop for the latest bars and price.
// Break-even is checked first; trailing is only considered once break-even
// has been reached. The returned stop never loosens.
func (m *StructureManager) Manage(p *Position, bars []domain.Bar, currentPrice float64) Decision {
	p.observe(currentPrice)

	if !p.State.BreakevenReached {
		if d, ok := m.checkBreakeven(p, bars); ok {
			return d
		}
	}

	if p.State.BreakevenReached {
		if d, ok := m.checkTrailing(p, bars, currentPrice); ok {
			return d
		}
	}

	return p.keep("No stop adjustment needed at this time")
}

func (m *StructureManager) checkBreakeven(p *Position, bars []domain.Bar) (Decision, bool) {
	if len(bars) < m.cfg.BreakevenMinBars {
		return Decision{}, false
	}

	recent := tail(bars, m.cfg.BreakevenLookback)
	highs, lows := recentSwings(recent)
	lastClose := bars[len(bars)-1].Close

	var broken float64
	var reason string
	switch p.Side {
	case domain.SideShort:
		if len(lows) == 0 {
			return Decision{}, false
		}
		broken = minOf(lows)
		if lastClose >= broken {
			return Decision{}, false
		}
		reason = fmt.Sprintf("Bearish BOS confirmed - closed below %.4f", broken)
	default:
		if len(highs) == 0 {
			return Decision{}, false
		}
		broken = maxOf(highs)
		if lastClose <= broken {
			return Decision{}, false
		}
		reason = fmt.Sprintf("Bullish BOS confirmed - closed above %.4f", broken)
	}

	prev := p.State.Stop
	p.tighten(p.EntryPrice)
	p.State.BreakevenReached = true
	p.State.Phase = PhaseBreakeven

	m.logger.WithFields(logrus.Fields{
		"side":          p.Side,
		"structure":     broken,
		"previous_stop": prev,
		"new_stop":      p.State.Stop,
		"entry_price":   p.EntryPrice,
	}).Info("moving stop to breakeven")

	return Decision{
		Action:       ActionMoveToBreakeven,
		NewStop:      p.State.Stop,
		PreviousStop: prev,
		SwingPrice:   broken,
		Reason:       reason,
		Confidence:   breakevenConfidence,
	}, true
}

func (m *StructureManager) checkTrailing(p *Position, bars []domain.Bar, currentPrice float64) (Decision, bool) {
	if len(bars) < m.cfg.TrailMinBars {
		return Decision{}, false
	}

	risk := p.Risk()
	if risk <= 0 {
		return Decision{}, false
	}
	profitR := (currentPrice - p.EntryPrice) * p.Side.Sign() / risk
	if profitR < m.cfg.MinProfitR {
		return Decision{}, false
	}

	swings := validatedSwings(tail(bars, m.cfg.TrailLookback), p.Side)
	if len(swings) == 0 {
		return Decision{}, false
	}
	latest := swings[len(swings)-1]

	candidate := latest.Price * (1 - m.cfg.TrailBuffer)
	kind := "low"
	if p.Side == domain.SideShort {
		candidate = latest.Price * (1 + m.cfg.TrailBuffer)
		kind = "high"
	}

	prev := p.State.Stop
	if !p.tighten(candidate) {
		return Decision{}, false
	}
	p.State.Phase = PhaseTrailing

	m.logger.WithFields(logrus.Fields{
		"side":          p.Side,
		"swing":         latest.Price,
		"previous_stop": prev,
		"new_stop":      candidate,
		"profit_r":      profitR,
	}).Info("trailing stop")

	return Decision{
		Action:       ActionTrailStop,
		NewStop:      candidate,
		PreviousStop: prev,
		SwingPrice:   latest.Price,
		Reason:       fmt.Sprintf("Trailing to validated swing %s at %.4f", kind, latest.Price),
		Confidence:   trailConfidence,
	}, true
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}
