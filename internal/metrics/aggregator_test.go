package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/storage"
	"futures-risk-lab/internal/storage/memory"
)

func runTrade(id string, pnl float64, entry time.Duration) *domain.Trade {
	tr := closedTrade(id, pnl, 0, time.Hour)
	tr.RunID = "run1"
	tr.Strategy = "momentum"
	tr.Symbol = "BTCUSDT"
	tr.EntryTime = t0.Add(entry)
	return tr
}

func TestAggregator_ComputeAndStore(t *testing.T) {
	ctx := context.Background()
	trades := memory.NewTradeStore()
	equity := memory.NewEquityStore()
	summaries := memory.NewRunSummaryStore()

	require.NoError(t, trades.InsertBulk(ctx, []*domain.Trade{
		runTrade("a", 200, 0),
		runTrade("b", -50, 2*time.Hour),
	}))
	samples := curve(10000, 10200, 10150)
	samples[1].RealizedPnL = 200
	samples[2].RealizedPnL = 150
	for _, s := range samples {
		s.RunID = "run1"
	}
	require.NoError(t, equity.InsertBulk(ctx, samples))

	agg := NewAggregator(trades, equity, summaries)
	m, err := agg.ComputeAndStore(ctx, "run1")
	require.NoError(t, err)

	assert.Equal(t, "run1", m.RunID)
	assert.Equal(t, "momentum", m.Strategy)
	assert.Equal(t, 2, m.TotalTrades)
	assert.Equal(t, 10000.0, m.InitialCapital)
	assert.Equal(t, 10150.0, m.FinalCapital)
	assert.Equal(t, t0, m.StartTime)
	assert.Equal(t, t0.Add(2*time.Hour), m.EndTime)

	stored, err := summaries.GetByRunID(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, m.NetPnL, stored.NetPnL)

	_, err = agg.ComputeAndStore(ctx, "run1")
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestAggregator_NoTrades(t *testing.T) {
	agg := NewAggregator(memory.NewTradeStore(), memory.NewEquityStore(), memory.NewRunSummaryStore())

	_, err := agg.ComputeRun(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrNoTrades)
}
