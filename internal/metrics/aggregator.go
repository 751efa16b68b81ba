package metrics

import (
	"context"
	"errors"
	"fmt"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/storage"
)

// ErrNoTrades is returned when a run has no closed trades to aggregate.
var ErrNoTrades = errors.New("no trades available for aggregation")

// Aggregator recomputes run summaries from persisted trades and equity.
type Aggregator struct {
	tradeStore   storage.TradeStore
	equityStore  storage.EquityStore
	summaryStore storage.RunSummaryStore
}

// NewAggregator creates a new metrics aggregator.
func NewAggregator(tradeStore storage.TradeStore, equityStore storage.EquityStore, summaryStore storage.RunSummaryStore) *Aggregator {
	return &Aggregator{
		tradeStore:   tradeStore,
		equityStore:  equityStore,
		summaryStore: summaryStore,
	}
}

// ComputeRun loads a run's trades and equity samples and computes its metrics.
// Capital before the run is derived from the first sample: equity minus pnl
// realized and unrealized at that point. Returns ErrNoTrades for an empty run.
func (a *Aggregator) ComputeRun(ctx context.Context, runID string) (*domain.PerformanceMetrics, error) {
	trades, err := a.tradeStore.GetByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	if len(trades) == 0 {
		return nil, ErrNoTrades
	}

	samples, err := a.equityStore.GetByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load equity: %w", err)
	}

	var initial, final float64
	if len(samples) > 0 {
		first := samples[0]
		initial = first.Equity - first.RealizedPnL - first.UnrealizedPnL
	}
	realized := 0.0
	for _, t := range trades {
		realized += t.RealizedPnL()
	}
	final = initial + realized

	m := Compute(trades, samples, initial, final)
	m.RunID = runID
	m.Strategy = trades[0].Strategy
	m.Symbol = trades[0].Symbol
	if len(samples) > 0 {
		m.StartTime = samples[0].Timestamp
		m.EndTime = samples[len(samples)-1].Timestamp
	}
	return &m, nil
}

// ComputeAndStore computes a run's metrics and persists the summary.
func (a *Aggregator) ComputeAndStore(ctx context.Context, runID string) (*domain.PerformanceMetrics, error) {
	m, err := a.ComputeRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := a.summaryStore.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("store summary: %w", err)
	}
	return m, nil
}
