// Package stops evolves the protective stop of an open position.
//
// Two managers share the same one-way state: StructureManager reads swing
// structure from recent bars, RatioManager works from fixed ratios and a
// running favorable-price anchor. Neither ever loosens a stop.
package stops

import "futures-risk-lab/internal/domain"

// Phase is the stop management phase of a position.
type Phase string

// Phase constants.
const (
	PhaseInitial   Phase = "INITIAL"
	PhaseBreakeven Phase = "BREAKEVEN"
	PhaseTrailing  Phase = "TRAILING"
)

// Action is the outcome of a management step.
type Action string

// Action constants.
const (
	ActionMoveToBreakeven Action = "MOVE_TO_BREAKEVEN"
	ActionTrailStop       Action = "TRAIL_STOP"
	ActionKeepCurrent     Action = "KEEP_CURRENT"
)

// State is the protective stop state of one open position.
// Stop only moves in the trade's favor. BreakevenReached never reverts.
// Anchor is the most favorable price seen since entry.
// A zero Stop means no stop has been placed yet.
type State struct {
	Stop             float64
	BreakevenReached bool
	Anchor           float64
	Phase            Phase
}

// Decision describes what a management step did.
type Decision struct {
	Action       Action
	NewStop      float64
	PreviousStop float64
	SwingPrice   float64
	Reason       string
	Confidence   float64
}

// Position is the stop-relevant view of an open trade.
type Position struct {
	Side        domain.Side
	EntryPrice  float64
	InitialStop float64 // defines 1R
	State       State
}

// NewPosition creates a position in the INITIAL phase.
func NewPosition(side domain.Side, entryPrice, initialStop float64) *Position {
	return &Position{
		Side:        side,
		EntryPrice:  entryPrice,
		InitialStop: initialStop,
		State: State{
			Stop:   initialStop,
			Anchor: entryPrice,
			Phase:  PhaseInitial,
		},
	}
}

// Risk returns one R: |entry - initial stop|.
func (p *Position) Risk() float64 {
	r := p.EntryPrice - p.InitialStop
	if r < 0 {
		return -r
	}
	return r
}

// isTighter reports whether candidate is strictly more favorable than the current stop.
func (p *Position) isTighter(candidate float64) bool {
	if p.State.Stop == 0 {
		return true
	}
	if p.Side == domain.SideShort {
		return candidate < p.State.Stop
	}
	return candidate > p.State.Stop
}

// tighten moves the stop to candidate if that is strictly more favorable.
func (p *Position) tighten(candidate float64) bool {
	if !p.isTighter(candidate) {
		return false
	}
	p.State.Stop = candidate
	return true
}

// observe folds price into the favorable anchor.
func (p *Position) observe(price float64) {
	if p.Side == domain.SideShort {
		if price < p.State.Anchor {
			p.State.Anchor = price
		}
		return
	}
	if price > p.State.Anchor {
		p.State.Anchor = price
	}
}

// keep builds a KEEP_CURRENT decision.
func (p *Position) keep(reason string) Decision {
	return Decision{
		Action:       ActionKeepCurrent,
		NewStop:      p.State.Stop,
		PreviousStop: p.State.Stop,
		Reason:       reason,
	}
}
