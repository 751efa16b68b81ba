package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/metrics"
	"futures-risk-lab/internal/storage"
	"futures-risk-lab/internal/storage/memory"
)

func TestRunner_RunPersistsResults(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()

	bars := flat(8, 100)
	bars[3] = mkBar(3, 100.5, 97, 98)
	bars[6] = mkBar(6, 105, 100, 104.5)

	barStore := memory.NewBarStore()
	require.NoError(t, barStore.InsertBulk(ctx, cfg.Symbol, bars))

	sinks := Sinks{
		Trades:    memory.NewTradeStore(),
		Equity:    memory.NewEquityStore(),
		Summaries: memory.NewRunSummaryStore(),
	}
	engine, err := NewEngine(cfg, scripted(map[int]domain.Signal{2: buy, 4: buy}))
	require.NoError(t, err)

	res, err := NewRunner(barStore, sinks).Run(ctx, engine, start, start.Add(7*time.Hour))
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)

	trades, err := sinks.Trades.GetByRun(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, res.Trades[0].TradeID, trades[0].TradeID)

	samples, err := sinks.Equity.GetByRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Len(t, samples, len(res.Equity))

	summary, err := sinks.Summaries.GetByRunID(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.Metrics.TotalTrades, summary.TotalTrades)
	assert.Equal(t, res.Metrics.NetPnL, summary.NetPnL)

	// Recomputing from the stores yields the same headline numbers.
	agg, err := metrics.NewAggregator(sinks.Trades, sinks.Equity, sinks.Summaries).ComputeRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.Metrics.TotalTrades, agg.TotalTrades)
	assert.InDelta(t, res.Metrics.InitialCapital, agg.InitialCapital, 1e-6)
	assert.InDelta(t, res.FinalCapital, agg.FinalCapital, 1e-6)
	assert.InDelta(t, res.Metrics.MaxDrawdownPercent, agg.MaxDrawdownPercent, 1e-9)
}

func TestRunner_SecondPersistRejected(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	bars := flat(6, 100)
	bars[4] = mkBar(4, 100, 97, 97)

	engine, err := NewEngine(cfg, scripted(map[int]domain.Signal{2: buy}))
	require.NoError(t, err)
	res, err := engine.Run(ctx, bars)
	require.NoError(t, err)

	runner := NewRunner(memory.NewBarStore(), Sinks{Trades: memory.NewTradeStore()})
	require.NoError(t, runner.Persist(ctx, res))

	err = runner.Persist(ctx, res)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestRunner_NoBars(t *testing.T) {
	engine, err := NewEngine(testConfig(), always(buy))
	require.NoError(t, err)

	_, err = NewRunner(memory.NewBarStore(), Sinks{}).Run(context.Background(), engine, start, start.Add(time.Hour))
	assert.ErrorIs(t, err, ErrNoData)
}
