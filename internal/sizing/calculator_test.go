package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-risk-lab/internal/domain"
)

func TestPositionSize(t *testing.T) {
	tests := []struct {
		name       string
		balance    float64
		entry      float64
		leverage   float64
		confidence float64
		pct        float64
		maxValue   float64
		want       float64
	}{
		{name: "below cap", balance: 10000, entry: 100, leverage: 5, confidence: 0.8, pct: 2, maxValue: 1000, want: 8.0},
		{name: "capped", balance: 10000, entry: 100, leverage: 20, confidence: 1, pct: 2, maxValue: 1000, want: 10.0},
		{name: "uncapped", balance: 10000, entry: 100, leverage: 20, confidence: 1, pct: 2, maxValue: 0, want: 40.0},
		{name: "zero confidence", balance: 10000, entry: 100, leverage: 5, confidence: 0, pct: 2, maxValue: 1000, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PositionSize(tt.balance, tt.entry, tt.leverage, tt.confidence, tt.pct, tt.maxValue)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestPositionSize_InvalidPrice(t *testing.T) {
	for _, price := range []float64{0, -1} {
		_, err := PositionSize(10000, price, 5, 0.8, 2, 1000)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}

func TestStopAndTargetPrice(t *testing.T) {
	assert.InDelta(t, 98.0, StopPrice(100, domain.SideLong, 2), 1e-9)
	assert.InDelta(t, 102.0, StopPrice(100, domain.SideShort, 2), 1e-9)
	assert.InDelta(t, 104.0, TargetPrice(100, domain.SideLong, 4), 1e-9)
	assert.InDelta(t, 96.0, TargetPrice(100, domain.SideShort, 4), 1e-9)
}

func TestRiskRewardTargets(t *testing.T) {
	risk, targets := RiskRewardTargets(100, 98, domain.SideLong, []float64{2, 3})
	assert.InDelta(t, 2.0, risk, 1e-9)
	require.Len(t, targets, 2)
	assert.InDelta(t, 104.0, targets[0].Price, 1e-9)
	assert.InDelta(t, 106.0, targets[1].Price, 1e-9)

	risk, targets = RiskRewardTargets(100, 102, domain.SideShort, []float64{2, 3})
	assert.InDelta(t, 2.0, risk, 1e-9)
	assert.InDelta(t, 96.0, targets[0].Price, 1e-9)
	assert.InDelta(t, 94.0, targets[1].Price, 1e-9)
}

func TestManagementPlan(t *testing.T) {
	plan := ManagementPlan(100, 98, domain.SideLong)

	assert.InDelta(t, 2.0, plan.Risk, 1e-9)
	assert.InDelta(t, 2.0, plan.RiskPercent, 1e-9)
	assert.Equal(t,
		"Take 50% profit at 104.0000 (2R), move stop to breakeven. Take remaining 50% at 106.0000 (3R) or trail to maximize.",
		plan.Management)
}

func TestPositionPnL(t *testing.T) {
	pnl, pct := PositionPnL(100, 110, 2, domain.SideLong, 1)
	assert.InDelta(t, 20.0, pnl, 1e-9)
	assert.InDelta(t, 10.0, pct, 1e-9)

	pnl, _ = PositionPnL(100, 110, 2, domain.SideShort, 3)
	assert.InDelta(t, -60.0, pnl, 1e-9)
}

func TestShouldClose(t *testing.T) {
	long := domain.Position{Side: domain.SideLong, EntryPrice: 100, StopLoss: 98, TakeProfit: 104}
	short := domain.Position{Side: domain.SideShort, EntryPrice: 100, StopLoss: 102, TakeProfit: 96}

	assert.Equal(t, domain.TradeStatusStopLoss, ShouldClose(long, 97.5).Status)
	assert.Equal(t, domain.TradeStatusTakeProfit, ShouldClose(long, 104).Status)
	assert.False(t, ShouldClose(long, 100).Close)

	assert.Equal(t, domain.TradeStatusStopLoss, ShouldClose(short, 102).Status)
	assert.Equal(t, domain.TradeStatusTakeProfit, ShouldClose(short, 95).Status)
	assert.False(t, ShouldClose(short, 99).Close)
}

func TestRoundToStep(t *testing.T) {
	assert.InDelta(t, 0.123, RoundToStep(0.12345, 0.001), 1e-12)
	assert.InDelta(t, 8.0, RoundToStep(8.0, 0.001), 1e-12)
	assert.InDelta(t, 1.5, RoundToStep(1.5, 0), 1e-12)
	assert.InDelta(t, 10.0, RoundToStep(17.9, 10), 1e-12)
}
