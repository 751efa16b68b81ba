package stops

import (
	"fmt"

	"futures-risk-lab/internal/domain"
)

// RatioConfig drives the ratio-based manager. All values are fractions of
// the entry price (0.02 = 2%). Zero disables the corresponding rule.
type RatioConfig struct {
	StopLoss         float64
	TakeProfit       float64
	BreakEvenTrigger float64 // favorable move that promotes the stop to entry
	TrailingStep     float64 // trailing stop distance behind the anchor
}

// RatioManager is the percent-based stop variant for simulations that have
// no candle window to scan. It shares the one-way invariant of State.
type RatioManager struct {
	cfg    RatioConfig
	pos    *Position
	target float64
}

// NewRatioManager creates a manager with stop and target placed from entry.
func NewRatioManager(cfg RatioConfig, side domain.Side, entryPrice float64) *RatioManager {
	var stop, target float64
	if cfg.StopLoss > 0 {
		stop = entryPrice * (1 - cfg.StopLoss*side.Sign())
	}
	if cfg.TakeProfit > 0 {
		target = entryPrice * (1 + cfg.TakeProfit*side.Sign())
	}
	return &RatioManager{
		cfg:    cfg,
		pos:    NewPosition(side, entryPrice, stop),
		target: target,
	}
}

// Stop returns the current stop price (0 when none).
func (m *RatioManager) Stop() float64 { return m.pos.State.Stop }

// Target returns the take-profit price (0 when none).
func (m *RatioManager) Target() float64 { return m.target }

// State returns a copy of the protective stop state.
func (m *RatioManager) State() State { return m.pos.State }

// Observe folds a bar's favorable extreme into the anchor and advances the stop.
// For long the favorable extreme is the high, for short the low.
func (m *RatioManager) Observe(high, low float64) Decision {
	p := m.pos
	if p.Side == domain.SideShort {
		p.observe(low)
	} else {
		p.observe(high)
	}

	move := (p.State.Anchor - p.EntryPrice) / p.EntryPrice * p.Side.Sign()

	if !p.State.BreakevenReached && m.cfg.BreakEvenTrigger > 0 && move >= m.cfg.BreakEvenTrigger {
		prev := p.State.Stop
		p.tighten(p.EntryPrice)
		p.State.BreakevenReached = true
		p.State.Phase = PhaseBreakeven
		return Decision{
			Action:       ActionMoveToBreakeven,
			NewStop:      p.State.Stop,
			PreviousStop: prev,
			Reason:       fmt.Sprintf("Favorable move %.4f reached break-even trigger %.4f", move, m.cfg.BreakEvenTrigger),
			Confidence:   1,
		}
	}

	trailing := m.cfg.TrailingStep > 0 && (p.State.BreakevenReached || m.cfg.BreakEvenTrigger == 0)
	if trailing && move > 0 {
		candidate := p.State.Anchor * (1 - m.cfg.TrailingStep*p.Side.Sign())
		prev := p.State.Stop
		if p.tighten(candidate) {
			p.State.Phase = PhaseTrailing
			return Decision{
				Action:       ActionTrailStop,
				NewStop:      candidate,
				PreviousStop: prev,
				Reason:       fmt.Sprintf("Trailing %.4f behind anchor %.4f", m.cfg.TrailingStep, p.State.Anchor),
				Confidence:   1,
			}
		}
	}

	return p.keep("No stop adjustment needed at this time")
}

// Exit reports whether a bar's range crosses the stop or the target.
// The stop is checked first; the exit price is the crossed level.
func (m *RatioManager) Exit(high, low float64) (price float64, status domain.TradeStatus, hit bool) {
	stop := m.pos.State.Stop
	if m.pos.Side == domain.SideShort {
		if stop > 0 && high >= stop {
			return stop, domain.TradeStatusStopLoss, true
		}
		if m.target > 0 && low <= m.target {
			return m.target, domain.TradeStatusTakeProfit, true
		}
		return 0, domain.TradeStatusOpen, false
	}

	if stop > 0 && low <= stop {
		return stop, domain.TradeStatusStopLoss, true
	}
	if m.target > 0 && high >= m.target {
		return m.target, domain.TradeStatusTakeProfit, true
	}
	return 0, domain.TradeStatusOpen, false
}
