package backtest

import (
	"context"
	"fmt"
	"time"

	"futures-risk-lab/internal/storage"
)

// Sinks are the optional stores a Runner persists results to. Nil stores are skipped.
type Sinks struct {
	Trades    storage.TradeStore
	Equity    storage.EquityStore
	Summaries storage.RunSummaryStore
}

// Runner loads bars from storage, runs the engine and persists the results.
type Runner struct {
	bars  storage.BarStore
	sinks Sinks
}

// NewRunner creates a new backtest runner.
func NewRunner(bars storage.BarStore, sinks Sinks) *Runner {
	return &Runner{bars: bars, sinks: sinks}
}

// Run executes a backtest over [from, to] for the engine's symbol.
func (r *Runner) Run(ctx context.Context, engine *Engine, from, to time.Time) (*Result, error) {
	bars, err := r.bars.GetByTimeRange(ctx, engine.Config().Symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("load bars: %w", err)
	}

	res, err := engine.Run(ctx, bars)
	if err != nil {
		return nil, err
	}

	if err := r.Persist(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Persist writes a result to the configured sinks.
func (r *Runner) Persist(ctx context.Context, res *Result) error {
	if r.sinks.Trades != nil && len(res.Trades) > 0 {
		if err := r.sinks.Trades.InsertBulk(ctx, res.Trades); err != nil {
			return fmt.Errorf("persist trades: %w", err)
		}
	}
	if r.sinks.Equity != nil && len(res.Equity) > 0 {
		if err := r.sinks.Equity.InsertBulk(ctx, res.Equity); err != nil {
			return fmt.Errorf("persist equity: %w", err)
		}
	}
	if r.sinks.Summaries != nil {
		m := res.Metrics
		if err := r.sinks.Summaries.Insert(ctx, &m); err != nil {
			return fmt.Errorf("persist summary: %w", err)
		}
	}
	return nil
}
