// Package strategy holds the bundled signal generators. Every strategy is a
// plain Func; the backtest engine and the live trader depend on nothing else.
package strategy

import (
	"futures-risk-lab/internal/domain"
)

// Func maps a trailing window of bars, oldest first, to a signal.
// It must be pure: same window, same signal.
type Func func(window []domain.Bar) domain.Signal

// Hold never trades.
func Hold() Func {
	return func([]domain.Bar) domain.Signal {
		return domain.Hold("Hold strategy never trades")
	}
}
