package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/storage"
)

var t0 = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

func TestBarStore_InsertAndRange(t *testing.T) {
	conn := newTestConn(t)

	store := NewBarStore(conn)
	ctx := context.Background()

	assert.NoError(t, store.InsertBulk(ctx, "BTCUSDT", nil))

	bars := make([]domain.Bar, 4)
	for i := range bars {
		p := 27000 + float64(i)*10
		bars[i] = domain.Bar{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      p, High: p + 5, Low: p - 5, Close: p + 1,
			Volume: 1000, FundingRate: 0.0001,
		}
	}
	require.NoError(t, store.InsertBulk(ctx, "BTCUSDT", bars))

	got, err := store.GetByTimeRange(ctx, "BTCUSDT", t0.Add(time.Hour), t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, bars[1], got[0])
	assert.Equal(t, bars[2], got[1])

	err = store.InsertBulk(ctx, "BTCUSDT", bars[3:])
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	err = store.InsertBulk(ctx, "ETHUSDT", []domain.Bar{bars[0], bars[0]})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestEquityStore_InsertAndGet(t *testing.T) {
	conn := newTestConn(t)

	store := NewEquityStore(conn)
	ctx := context.Background()

	samples := []*domain.EquitySample{
		{RunID: "run-1", Timestamp: t0.Add(time.Hour), Equity: 10050, RealizedPnL: 50, OpenPositions: 1},
		{RunID: "run-1", Timestamp: t0, Equity: 10000},
	}
	require.NoError(t, store.InsertBulk(ctx, samples))

	got, err := store.GetByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 10000.0, got[0].Equity)
	assert.Equal(t, 1, got[1].OpenPositions)

	err = store.InsertBulk(ctx, []*domain.EquitySample{{RunID: "run-1", Timestamp: t0}})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestRunSummaryStore_InsertAndGet(t *testing.T) {
	conn := newTestConn(t)

	store := NewRunSummaryStore(conn)
	ctx := context.Background()

	m := &domain.PerformanceMetrics{
		RunID:                "run-b",
		Strategy:             "momentum",
		Symbol:               "BTCUSDT",
		StartTime:            t0,
		EndTime:              t0.Add(48 * time.Hour),
		InitialCapital:       10000,
		FinalCapital:         10250,
		TotalTrades:          4,
		WinningTrades:        3,
		LosingTrades:         1,
		WinRate:              0.75,
		ProfitFactor:         2.5,
		MaxDrawdownPercent:   1.2,
		AverageTradeDuration: 90 * time.Minute,
	}
	require.NoError(t, store.Insert(ctx, m))
	require.NoError(t, store.Insert(ctx, &domain.PerformanceMetrics{RunID: "run-a", StartTime: t0, EndTime: t0}))

	got, err := store.GetByRunID(ctx, "run-b")
	require.NoError(t, err)
	assert.Equal(t, *m, *got)

	_, err = store.GetByRunID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, store.Insert(ctx, m), storage.ErrDuplicateKey)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "run-a", all[0].RunID)
}
