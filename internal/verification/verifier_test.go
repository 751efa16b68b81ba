package verification

import (
	"context"
	"errors"
	"testing"
	"time"

	"futures-risk-lab/internal/backtest"
	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/marketdata"
	"futures-risk-lab/internal/storage/memory"
	"futures-risk-lab/internal/strategy"
)

const testSymbol = "BTCUSDT"

// upTick buys after every rising close.
func upTick() strategy.Func {
	return func(window []domain.Bar) domain.Signal {
		n := len(window)
		if n >= 2 && window[n-1].Close > window[n-2].Close {
			return domain.Signal{Type: domain.SignalBuy, Confidence: 0.9, Reason: "up tick"}
		}
		return domain.Hold("flat")
	}
}

func testEngine(t *testing.T, sl float64) *backtest.Engine {
	t.Helper()
	cfg := backtest.DefaultConfig()
	cfg.Symbol = testSymbol
	cfg.Warmup = 20
	cfg.StopLossPercent = sl
	e, err := backtest.NewEngine(cfg, upTick(), backtest.WithStrategyName("uptick"))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

type fixture struct {
	bars     *memory.BarStore
	from, to time.Time
	result   *backtest.Result
}

func setup(t *testing.T) fixture {
	t.Helper()
	sc := marketdata.DefaultSyntheticConfig()
	sc.Rows = 300
	bars := marketdata.Generate(sc)

	store := memory.NewBarStore()
	if err := store.InsertBulk(context.Background(), testSymbol, bars); err != nil {
		t.Fatalf("insert bars: %v", err)
	}
	res, err := testEngine(t, 2).Run(context.Background(), bars)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Trades) < 2 {
		t.Fatalf("expected at least 2 trades, got %d", len(res.Trades))
	}
	return fixture{bars: store, from: bars[0].Timestamp, to: bars[len(bars)-1].Timestamp, result: res}
}

func storeTrades(t *testing.T, trades []*domain.Trade) *memory.TradeStore {
	t.Helper()
	ts := memory.NewTradeStore()
	if err := ts.InsertBulk(context.Background(), trades); err != nil {
		t.Fatalf("insert trades: %v", err)
	}
	return ts
}

func copyTrades(in []*domain.Trade) []*domain.Trade {
	out := make([]*domain.Trade, len(in))
	for i, t := range in {
		c := *t
		out[i] = &c
	}
	return out
}

func TestVerifyRun_Match(t *testing.T) {
	f := setup(t)
	v := NewReplayVerifier(ReplayVerifierOptions{
		TradeStore: storeTrades(t, f.result.Trades),
		BarStore:   f.bars,
	})

	report, err := v.VerifyRun(context.Background(), testEngine(t, 2), f.result.RunID, f.from, f.to)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.OK() {
		t.Fatalf("expected exact replay, got %+v", report)
	}
	if report.MatchedTrades != len(f.result.Trades) {
		t.Errorf("expected %d matched, got %d", len(f.result.Trades), report.MatchedTrades)
	}
}

func TestVerifyRun_Divergence(t *testing.T) {
	f := setup(t)
	tampered := copyTrades(f.result.Trades)
	tampered[0].EntryPrice += 1
	// drop the last trade so the replay has one extra
	tampered = tampered[:len(tampered)-1]

	v := NewReplayVerifier(ReplayVerifierOptions{
		TradeStore: storeTrades(t, tampered),
		BarStore:   f.bars,
	})
	report, err := v.VerifyRun(context.Background(), testEngine(t, 2), f.result.RunID, f.from, f.to)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.OK() {
		t.Fatal("expected divergences")
	}
	if report.DivergentTrades != 1 {
		t.Errorf("expected 1 divergent trade, got %d", report.DivergentTrades)
	}
	if report.ExtraTrades != 1 {
		t.Errorf("expected 1 extra trade, got %d", report.ExtraTrades)
	}
	first := report.Results[0]
	if first.Match || len(first.Divergences) != 1 || first.Divergences[0].Field != "EntryPrice" {
		t.Errorf("expected EntryPrice divergence, got %+v", first.Divergences)
	}
}

func TestVerifyRun_Errors(t *testing.T) {
	f := setup(t)
	v := NewReplayVerifier(ReplayVerifierOptions{
		TradeStore: storeTrades(t, f.result.Trades),
		BarStore:   f.bars,
	})

	_, err := v.VerifyRun(context.Background(), testEngine(t, 2), "missing", f.from, f.to)
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}

	_, err = v.VerifyRun(context.Background(), testEngine(t, 3), f.result.RunID, f.from, f.to)
	if !errors.Is(err, ErrRunMismatch) {
		t.Errorf("expected ErrRunMismatch, got %v", err)
	}
}

func TestCompareTrades(t *testing.T) {
	exit := time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)
	price := 101.0
	pnl := 1.0
	base := &domain.Trade{
		TradeID:    "t1",
		RunID:      "r1",
		Symbol:     testSymbol,
		Side:       domain.SideLong,
		EntryTime:  exit.Add(-time.Hour),
		EntryPrice: 100,
		Quantity:   1,
		ExitTime:   &exit,
		ExitPrice:  &price,
		PnL:        &pnl,
		Status:     domain.TradeStatusTakeProfit,
	}

	same := *base
	samePrice := price + FloatTolerance/2
	same.ExitPrice = &samePrice
	if d := CompareTrades(base, &same); len(d) != 0 {
		t.Errorf("expected no divergences within tolerance, got %+v", d)
	}

	open := *base
	open.ExitTime = nil
	open.ExitPrice = nil
	open.PnL = nil
	open.Status = domain.TradeStatusOpen
	d := CompareTrades(base, &open)
	if len(d) != 4 {
		t.Errorf("expected 4 divergences, got %+v", d)
	}
}
