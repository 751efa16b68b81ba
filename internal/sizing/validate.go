package sizing

import (
	"fmt"
	"math"
	"sync"
	"time"

	"futures-risk-lab/internal/domain"
)

// Pre-trade limits. MaxOpenPositions is the default cap.
const (
	MinConfidence    = 0.5
	MaxOpenPositions = 3
)

// Thresholds configures ValidateTrade. MaxOpenPositions <= 0 uses the default.
type Thresholds struct {
	MaxDailyLossPercent float64
	MaxOpenPositions    int
}

// Decision is the verdict of ValidateTrade.
type Decision struct {
	Allowed bool
	Reason  string
}

// DailyLossLimitReached is true when dailyPnL is a loss whose magnitude,
// as a percent of balance, reaches maxDailyLossPercent.
func DailyLossLimitReached(dailyPnL, balance, maxDailyLossPercent float64) bool {
	if balance <= 0 || dailyPnL >= 0 {
		return false
	}
	lossPct := math.Abs(dailyPnL / balance * 100)
	return lossPct >= maxDailyLossPercent
}

// ValidateTrade runs the ordered pre-trade checks. The first failing check wins:
//  1. daily loss limit
//  2. confidence below MinConfidence
//  3. neutral signal
//  4. balance <= 0
//  5. open positions at the cap
func ValidateTrade(signal domain.Signal, balance float64, openPositions int, dailyPnL float64, th Thresholds) Decision {
	maxOpen := th.MaxOpenPositions
	if maxOpen <= 0 {
		maxOpen = MaxOpenPositions
	}
	if DailyLossLimitReached(dailyPnL, balance, th.MaxDailyLossPercent) {
		return Decision{Reason: "Daily loss limit reached"}
	}
	if signal.Confidence < MinConfidence {
		return Decision{Reason: fmt.Sprintf("Low confidence: %.2f", signal.Confidence)}
	}
	if signal.Type == domain.SignalHold {
		return Decision{Reason: "Signal is HOLD"}
	}
	if balance <= 0 {
		return Decision{Reason: "Insufficient balance"}
	}
	if openPositions >= maxOpen {
		return Decision{Reason: fmt.Sprintf("Maximum open positions reached (%d)", maxOpen)}
	}
	return Decision{Allowed: true, Reason: "All risk checks passed"}
}

// DailyTracker accumulates realized pnl for the current calendar day (UTC).
type DailyTracker struct {
	mu     sync.Mutex
	day    string
	pnl    float64
	trades int
}

// NewDailyTracker creates a tracker starting on the day of now.
func NewDailyTracker(now time.Time) *DailyTracker {
	return &DailyTracker{day: dayKey(now)}
}

// Update adds pnl for a closed trade, resetting the accumulator on a new day.
func (d *DailyTracker) Update(pnl float64, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollLocked(now)
	d.pnl += pnl
	d.trades++
}

// PnL returns today's accumulated pnl.
func (d *DailyTracker) PnL(now time.Time) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollLocked(now)
	return d.pnl
}

// Trades returns the number of trades recorded today.
func (d *DailyTracker) Trades(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollLocked(now)
	return d.trades
}

func (d *DailyTracker) rollLocked(now time.Time) {
	if k := dayKey(now); k != d.day {
		d.day = k
		d.pnl = 0
		d.trades = 0
	}
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
