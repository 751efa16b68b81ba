package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/killswitch"
	"futures-risk-lab/internal/storage"
)

func TestEquityStore(t *testing.T) {
	store := NewEquityStore()
	ctx := context.Background()

	samples := []*domain.EquitySample{
		{RunID: "run1", Timestamp: t0.Add(time.Hour), Equity: 10100},
		{RunID: "run1", Timestamp: t0, Equity: 10000},
		{RunID: "run2", Timestamp: t0, Equity: 5000},
	}
	require.NoError(t, store.InsertBulk(ctx, samples))

	got, err := store.GetByRun(ctx, "run1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 10000.0, got[0].Equity)
	assert.Equal(t, 10100.0, got[1].Equity)

	err = store.InsertBulk(ctx, []*domain.EquitySample{{RunID: "run1", Timestamp: t0}})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	err = store.InsertBulk(ctx, []*domain.EquitySample{{Timestamp: t0}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestRunSummaryStore(t *testing.T) {
	store := NewRunSummaryStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &domain.PerformanceMetrics{RunID: "b", TotalTrades: 2}))
	require.NoError(t, store.Insert(ctx, &domain.PerformanceMetrics{RunID: "a", TotalTrades: 1}))
	assert.ErrorIs(t, store.Insert(ctx, &domain.PerformanceMetrics{RunID: "a"}), storage.ErrDuplicateKey)

	got, err := store.GetByRunID(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalTrades)

	_, err = store.GetByRunID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].RunID)
	assert.Equal(t, "b", all[1].RunID)
}

func TestBarStore(t *testing.T) {
	store := NewBarStore()
	ctx := context.Background()

	bars := make([]domain.Bar, 5)
	for i := range bars {
		bars[4-i] = domain.Bar{Timestamp: t0.Add(time.Duration(i) * time.Hour), Close: float64(100 + i)}
	}
	require.NoError(t, store.InsertBulk(ctx, "BTCUSDT", bars))

	got, err := store.GetByTimeRange(ctx, "BTCUSDT", t0.Add(time.Hour), t0.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []float64{101, 102, 103}, domain.Closes(got))

	empty, err := store.GetByTimeRange(ctx, "ETHUSDT", t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, empty)

	assert.ErrorIs(t, store.InsertBulk(ctx, "BTCUSDT", bars[:1]), storage.ErrDuplicateKey)
	assert.ErrorIs(t, store.InsertBulk(ctx, "", bars), storage.ErrInvalidInput)
}

func TestAuditStore(t *testing.T) {
	store := NewAuditStore()
	ctx := context.Background()

	meta := map[string]any{"reason": "max_drawdown_exceeded"}
	require.NoError(t, store.Insert(ctx, &domain.AuditEvent{
		EventID: "e2", EventType: "kill_switch_trip", Timestamp: t0.Add(time.Minute), Metadata: meta,
	}))
	require.NoError(t, store.Insert(ctx, &domain.AuditEvent{
		EventID: "e1", EventType: "trade_open", Timestamp: t0,
	}))
	assert.ErrorIs(t, store.Insert(ctx, &domain.AuditEvent{EventID: "e1", EventType: "x"}), storage.ErrDuplicateKey)

	meta["reason"] = "mutated"
	trips, err := store.GetByType(ctx, "kill_switch_trip")
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, "max_drawdown_exceeded", trips[0].Metadata["reason"])

	ranged, err := store.GetByTimeRange(ctx, t0, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, "e1", ranged[0].EventID)
}

func TestPositionSnapshotStore_GetLatest(t *testing.T) {
	store := NewPositionSnapshotStore()
	ctx := context.Background()

	snap := func(id, source, symbol string, at time.Time, qty float64) *domain.PositionSnapshot {
		return &domain.PositionSnapshot{
			SnapshotID: id, Source: source, TakenAt: at,
			Position: domain.Position{Symbol: symbol, Quantity: qty},
		}
	}
	require.NoError(t, store.InsertBulk(ctx, []*domain.PositionSnapshot{
		snap("1", "local", "ETHUSDT", t0, 1),
		snap("2", "local", "ETHUSDT", t0.Add(time.Minute), 2),
		snap("3", "local", "BTCUSDT", t0.Add(time.Minute), 3),
		snap("4", "venue", "BTCUSDT", t0.Add(time.Hour), 9),
	}))

	got, err := store.GetLatest(ctx, "local")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assert.Equal(t, 2.0, got[1].Quantity)

	none, err := store.GetLatest(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestKillSwitchStateStore(t *testing.T) {
	store := NewKillSwitchStateStore()
	ctx := context.Background()

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	at := t0
	require.NoError(t, store.Save(ctx, killswitch.Status{
		Triggered:   true,
		Reason:      killswitch.ReasonMaxDrawdown,
		TriggeredAt: &at,
		Context:     map[string]any{"drawdown_percent": 12.0},
	}))

	st, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, st.Triggered)
	assert.Equal(t, killswitch.ReasonMaxDrawdown, st.Reason)
	assert.Equal(t, 12.0, st.Context["drawdown_percent"])
}
