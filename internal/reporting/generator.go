package reporting

import (
	"context"
	"fmt"
	"time"

	"futures-risk-lab/internal/storage"
)

// Generator produces reports from stored runs.
type Generator struct {
	tradeStore   storage.TradeStore
	equityStore  storage.EquityStore
	summaryStore storage.RunSummaryStore
	now          func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(
	tradeStore storage.TradeStore,
	equityStore storage.EquityStore,
	summaryStore storage.RunSummaryStore,
) *Generator {
	return &Generator{
		tradeStore:   tradeStore,
		equityStore:  equityStore,
		summaryStore: summaryStore,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate assembles the report of a stored run.
// Returns storage.ErrNotFound if the run has no summary.
func (g *Generator) Generate(ctx context.Context, runID string) (*Report, error) {
	summary, err := g.summaryStore.GetByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load summary %s: %w", runID, err)
	}

	trades, err := g.tradeStore.GetByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}

	equity, err := g.equityStore.GetByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load equity: %w", err)
	}

	return &Report{
		GeneratedAt: g.now(),
		Metrics:     *summary,
		Trades:      trades,
		Equity:      equity,
	}, nil
}

// Runs lists stored run summaries ordered by run_id.
func (g *Generator) Runs(ctx context.Context) ([]string, error) {
	all, err := g.summaryStore.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(all))
	for i, m := range all {
		ids[i] = m.RunID
	}
	return ids, nil
}
