package sizing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"futures-risk-lab/internal/domain"
)

func TestValidateTrade_Order(t *testing.T) {
	th := Thresholds{MaxDailyLossPercent: 5}
	buy := domain.Signal{Type: domain.SignalBuy, Confidence: 0.8}

	tests := []struct {
		name     string
		signal   domain.Signal
		balance  float64
		open     int
		dailyPnL float64
		allowed  bool
		reason   string
	}{
		{name: "daily loss wins over everything", signal: domain.Signal{Type: domain.SignalHold, Confidence: 0.1}, balance: 1000, open: 5, dailyPnL: -60, reason: "Daily loss limit reached"},
		{name: "low confidence before hold", signal: domain.Signal{Type: domain.SignalHold, Confidence: 0.42}, balance: 1000, reason: "Low confidence: 0.42"},
		{name: "hold", signal: domain.Signal{Type: domain.SignalHold, Confidence: 0.9}, balance: 1000, reason: "Signal is HOLD"},
		{name: "no balance", signal: buy, balance: 0, reason: "Insufficient balance"},
		{name: "position cap", signal: buy, balance: 1000, open: 3, reason: "Maximum open positions reached (3)"},
		{name: "loss under limit", signal: buy, balance: 1000, dailyPnL: -49, allowed: true, reason: "All risk checks passed"},
		{name: "passes", signal: buy, balance: 1000, open: 2, allowed: true, reason: "All risk checks passed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ValidateTrade(tt.signal, tt.balance, tt.open, tt.dailyPnL, th)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestValidateTrade_CustomPositionCap(t *testing.T) {
	buy := domain.Signal{Type: domain.SignalBuy, Confidence: 0.8}
	d := ValidateTrade(buy, 1000, 1, 0, Thresholds{MaxDailyLossPercent: 5, MaxOpenPositions: 1})
	assert.False(t, d.Allowed)
	assert.Equal(t, "Maximum open positions reached (1)", d.Reason)

	d = ValidateTrade(buy, 1000, 4, 0, Thresholds{MaxDailyLossPercent: 5, MaxOpenPositions: 5})
	assert.True(t, d.Allowed)
}

func TestDailyLossLimitReached(t *testing.T) {
	assert.True(t, DailyLossLimitReached(-50, 1000, 5))
	assert.False(t, DailyLossLimitReached(-49.99, 1000, 5))
	assert.False(t, DailyLossLimitReached(500, 1000, 5))
	assert.False(t, DailyLossLimitReached(-500, 0, 5))
}

func TestDailyTracker_RollsOverOnNewDay(t *testing.T) {
	day1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tracker := NewDailyTracker(day1)

	tracker.Update(-20, day1)
	tracker.Update(5, day1.Add(time.Hour))
	assert.InDelta(t, -15.0, tracker.PnL(day1.Add(2*time.Hour)), 1e-9)
	assert.Equal(t, 2, tracker.Trades(day1))

	day2 := day1.Add(24 * time.Hour)
	assert.InDelta(t, 0.0, tracker.PnL(day2), 1e-9)
	assert.Equal(t, 0, tracker.Trades(day2))

	tracker.Update(7, day2)
	assert.InDelta(t, 7.0, tracker.PnL(day2), 1e-9)
}
