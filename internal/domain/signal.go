package domain

// SignalType is the directional output of a strategy.
type SignalType string

// SignalType constants.
const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// Signal is produced by a strategy for a window of bars.
type Signal struct {
	Type       SignalType
	Confidence float64 // [0, 1]
	Reason     string
}

// Hold returns a neutral signal with the given reason.
func Hold(reason string) Signal {
	return Signal{Type: SignalHold, Reason: reason}
}

// IsDirectional reports whether the signal asks for a position.
func (s Signal) IsDirectional() bool {
	return s.Type == SignalBuy || s.Type == SignalSell
}

// Side maps a directional signal to the position side it opens.
// HOLD maps to SideLong with ok=false.
func (s Signal) Side() (Side, bool) {
	switch s.Type {
	case SignalBuy:
		return SideLong, true
	case SignalSell:
		return SideShort, true
	default:
		return SideLong, false
	}
}
