package orchestrator

import (
	"context"
	"testing"

	"futures-risk-lab/internal/backtest"
	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/marketdata"
	"futures-risk-lab/internal/simulation"
	"futures-risk-lab/internal/storage/memory"
	"futures-risk-lab/internal/strategy"
)

const testSymbol = "BTCUSDT"

type testStores struct {
	bars      *memory.BarStore
	trades    *memory.TradeStore
	equity    *memory.EquityStore
	summaries *memory.RunSummaryStore
}

func createTestStores(t *testing.T, rows int) (testStores, []domain.Bar) {
	t.Helper()
	s := testStores{
		bars:      memory.NewBarStore(),
		trades:    memory.NewTradeStore(),
		equity:    memory.NewEquityStore(),
		summaries: memory.NewRunSummaryStore(),
	}
	cfg := marketdata.DefaultSyntheticConfig()
	cfg.Rows = rows
	bars := marketdata.Generate(cfg)
	if err := s.bars.InsertBulk(context.Background(), testSymbol, bars); err != nil {
		t.Fatalf("insert bars: %v", err)
	}
	return s, bars
}

func testScenarios() []Scenario {
	base := backtest.DefaultConfig()
	base.Warmup = 50

	tight := base
	tight.StopLossPercent = 1
	tight.TakeProfitPercent = 2

	trailing := base
	trailing.StopPolicy = backtest.StopTrailing

	return []Scenario{
		{Name: "tight", Config: tight},
		{Name: "trailing", Config: trailing},
	}
}

func newTestOrchestrator(s testStores, bars []domain.Bar, strategies []string) *Orchestrator {
	return New(Options{
		BarStore:     s.bars,
		TradeStore:   s.trades,
		EquityStore:  s.equity,
		SummaryStore: s.summaries,
		Symbol:       testSymbol,
		From:         bars[0].Timestamp,
		To:           bars[len(bars)-1].Timestamp,
		Strategies:   strategies,
		Scenarios:    testScenarios(),
	})
}

func TestOrchestrator_Run_EmptySweep(t *testing.T) {
	s, bars := createTestStores(t, 10)

	orch := New(Options{
		BarStore:    s.bars,
		TradeStore:  s.trades,
		EquityStore: s.equity,
		From:        bars[0].Timestamp,
		To:          bars[len(bars)-1].Timestamp,
	})

	result, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if result.RunsCompleted != 0 {
		t.Errorf("expected 0 runs, got %d", result.RunsCompleted)
	}
	if _, ok := result.Best(); ok {
		t.Error("expected no best run")
	}
}

func TestOrchestrator_Run_MissingStores(t *testing.T) {
	orch := New(Options{Strategies: []string{strategy.NameHold}})
	if _, err := orch.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing stores")
	}
}

func TestOrchestrator_Run_Sweep(t *testing.T) {
	ctx := context.Background()
	s, bars := createTestStores(t, 400)

	orch := newTestOrchestrator(s, bars, []string{strategy.NameHold, strategy.NameMomentum})
	result, err := orch.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if result.RunsCompleted != 4 {
		t.Errorf("expected 4 runs, got %d", result.RunsCompleted)
	}
	if result.AggregatesCreated != result.RunsCompleted {
		t.Errorf("expected %d aggregates, got %d", result.RunsCompleted, result.AggregatesCreated)
	}

	for _, r := range result.Runs {
		if r.Strategy == strategy.NameHold && r.Metrics.TotalTrades != 0 {
			t.Errorf("hold strategy traded %d times", r.Metrics.TotalTrades)
		}
		if _, err := s.summaries.GetByRunID(ctx, r.RunID); err != nil {
			t.Errorf("summary for %s: %v", r.RunID, err)
		}
		trades, err := s.trades.GetByRun(ctx, r.RunID)
		if err != nil {
			t.Fatalf("trades for %s: %v", r.RunID, err)
		}
		if len(trades) != r.Metrics.TotalTrades {
			t.Errorf("run %s: stored %d trades, metrics report %d", r.RunID, len(trades), r.Metrics.TotalTrades)
		}
	}

	best, ok := result.Best()
	if !ok {
		t.Fatal("expected a best run")
	}
	for _, r := range result.Runs {
		if r.Metrics.NetPnL > best.Metrics.NetPnL {
			t.Errorf("run %s beats best %s", r.RunID, best.RunID)
		}
	}
}

func TestOrchestrator_Run_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, bars := createTestStores(t, 200)

	orch := newTestOrchestrator(s, bars, []string{strategy.NameHold})
	first, err := orch.Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.RunsCompleted != 2 {
		t.Fatalf("expected 2 runs, got %d", first.RunsCompleted)
	}

	second, err := orch.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.RunsCompleted != 0 {
		t.Errorf("expected stored runs to be skipped, got %d", second.RunsCompleted)
	}
	if len(second.Errors) != 0 {
		t.Errorf("unexpected errors: %v", second.Errors)
	}
}

func TestOrchestrator_Run_UnknownStrategy(t *testing.T) {
	s, bars := createTestStores(t, 200)

	orch := newTestOrchestrator(s, bars, []string{"nope", strategy.NameHold})
	result, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected 1 error, got %v", result.Errors)
	}
	if result.RunsCompleted != 2 {
		t.Errorf("expected 2 runs, got %d", result.RunsCompleted)
	}
}

func TestOrchestrator_Run_Episodes(t *testing.T) {
	s, bars := createTestStores(t, 200)

	env := simulation.DefaultConfig()
	orch := New(Options{
		BarStore:    s.bars,
		TradeStore:  s.trades,
		EquityStore: s.equity,
		Symbol:      testSymbol,
		From:        bars[0].Timestamp,
		To:          bars[len(bars)-1].Timestamp,
		Strategies:  []string{strategy.NameHold},
		Scenarios:   testScenarios()[:1],
		Environment: &env,
	})

	result, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	ep, ok := result.Episodes[strategy.NameHold]
	if !ok {
		t.Fatalf("missing episode, errors: %v", result.Errors)
	}
	if ep.Steps != len(bars)-50 {
		t.Errorf("expected %d steps, got %d", len(bars)-50, ep.Steps)
	}
	if ep.Trades != 0 {
		t.Errorf("hold should not trade, got %d", ep.Trades)
	}
	if result.AggregatesCreated != 0 {
		t.Errorf("expected no aggregates without a summary store, got %d", result.AggregatesCreated)
	}
}
