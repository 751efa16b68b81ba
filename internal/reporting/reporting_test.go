package reporting

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/storage"
	"futures-risk-lab/internal/storage/memory"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func sampleReport(t *testing.T) *Report {
	t.Helper()
	tr := &domain.Trade{
		TradeID:    "t1",
		RunID:      "run-1",
		Symbol:     "BTCUSDT",
		Side:       domain.SideLong,
		Leverage:   2,
		EntryTime:  t0,
		EntryPrice: 100,
		Quantity:   1.5,
		StopLoss:   98,
		TakeProfit: 104,
		Fees:       0.06,
		Status:     domain.TradeStatusOpen,
	}
	require.NoError(t, tr.Close(104, t0.Add(2*time.Hour), 0.06, domain.TradeStatusTakeProfit))

	return &Report{
		GeneratedAt: t0.Add(24 * time.Hour),
		Metrics: domain.PerformanceMetrics{
			RunID:                "run-1",
			Strategy:             "momentum",
			Symbol:               "BTCUSDT",
			StartTime:            t0,
			EndTime:              t0.Add(3 * time.Hour),
			InitialCapital:       10000,
			FinalCapital:         10011.88,
			TotalTrades:          1,
			WinningTrades:        1,
			WinRate:              1,
			NetPnL:               11.88,
			TotalPnLPercent:      0.1188,
			TotalFees:            0.12,
			AverageWin:           11.88,
			LargestWin:           11.88,
			ProfitFactor:         11.88,
			AverageTradeDuration: 2 * time.Hour,
		},
		Trades: []*domain.Trade{tr},
		Equity: []*domain.EquitySample{
			{RunID: "run-1", Timestamp: t0, Equity: 10000},
			{RunID: "run-1", Timestamp: t0.Add(time.Hour), Equity: 10005, UnrealizedPnL: 5, OpenPositions: 1},
			{RunID: "run-1", Timestamp: t0.Add(2 * time.Hour), Equity: 10011.88, RealizedPnL: 11.88},
		},
	}
}

func TestRenderText_Sections(t *testing.T) {
	out := RenderText(sampleReport(t))

	for _, want := range []string{
		"BACKTEST REPORT",
		"TRADE STATISTICS",
		"PROFIT/LOSS",
		"RISK METRICS",
		"PERFORMANCE",
		"Initial Capital",
		"$10,000.00",
		"$10,011.88",
		"100.00%",
		"2h0m0s",
	} {
		assert.Contains(t, out, want)
	}
	assert.True(t, strings.HasPrefix(out, strings.Repeat("=", 60)))
}

func TestMoney(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "$0.00"},
		{999.5, "$999.50"},
		{1000, "$1,000.00"},
		{1234567.891, "$1,234,567.89"},
		{-2500.25, "-$2,500.25"},
	}
	for _, tt := range tests {
		if got := money(tt.in); got != tt.want {
			t.Errorf("money(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderMarkdown(t *testing.T) {
	out := RenderMarkdown(sampleReport(t))

	assert.Contains(t, out, "# Backtest Report")
	assert.Contains(t, out, "Generated: 2024-01-02T00:00:00Z")
	assert.Contains(t, out, "| Win Rate | 100.00% |")
	assert.Contains(t, out, "| 2024-01-01T00:00:00Z | long |")
	assert.Contains(t, out, "take_profit")
}

func TestRenderMarkdown_NoTrades(t *testing.T) {
	r := sampleReport(t)
	r.Trades = nil
	assert.Contains(t, RenderMarkdown(r), "No trades.")
}

func TestWriteTradesCSV_RoundTrip(t *testing.T) {
	r := sampleReport(t)
	var buf bytes.Buffer
	require.NoError(t, WriteTradesCSV(&buf, r))

	header := strings.SplitN(buf.String(), "\n", 2)[0]
	assert.True(t, strings.HasPrefix(header, "trade_id,symbol,side"))

	var rows []*TradeRow
	require.NoError(t, gocsv.UnmarshalString(buf.String(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "t1", rows[0].TradeID)
	assert.Equal(t, "take_profit", rows[0].Status)
	assert.InDelta(t, r.Trades[0].RealizedPnL(), rows[0].PnL, 1e-9)
	assert.Equal(t, "2024-01-01T02:00:00Z", rows[0].ExitTime)
}

func TestTradeRows_OpenTradeHasEmptyExit(t *testing.T) {
	open := &domain.Trade{TradeID: "o", Side: domain.SideShort, EntryTime: t0, Status: domain.TradeStatusOpen}
	rows := TradeRows([]*domain.Trade{open})
	require.Len(t, rows, 1)
	assert.Empty(t, rows[0].ExitTime)
	assert.Zero(t, rows[0].PnL)
}

func TestExportCSV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, ExportCSV(dir, sampleReport(t)))

	f, err := os.Open(filepath.Join(dir, "equity.csv"))
	require.NoError(t, err)
	defer f.Close()

	var rows []*EquityRow
	require.NoError(t, gocsv.UnmarshalFile(f, &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, 1, rows[1].OpenPositions)
	assert.InDelta(t, 10011.88, rows[2].Equity, 1e-9)

	_, err = os.Stat(filepath.Join(dir, "trades.csv"))
	assert.NoError(t, err)
}

func TestGenerator_Generate(t *testing.T) {
	ctx := context.Background()
	r := sampleReport(t)

	trades := memory.NewTradeStore()
	equity := memory.NewEquityStore()
	summaries := memory.NewRunSummaryStore()
	require.NoError(t, trades.InsertBulk(ctx, r.Trades))
	require.NoError(t, equity.InsertBulk(ctx, r.Equity))
	m := r.Metrics
	require.NoError(t, summaries.Insert(ctx, &m))

	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	gen := NewGenerator(trades, equity, summaries).WithClock(func() time.Time { return fixed })

	got, err := gen.Generate(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, fixed, got.GeneratedAt)
	assert.Equal(t, "momentum", got.Metrics.Strategy)
	assert.Len(t, got.Trades, 1)
	assert.Len(t, got.Equity, 3)

	// Same clock, same output.
	again, err := gen.Generate(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RenderMarkdown(got), RenderMarkdown(again))

	ids, err := gen.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, ids)
}

func TestGenerator_UnknownRun(t *testing.T) {
	gen := NewGenerator(memory.NewTradeStore(), memory.NewEquityStore(), memory.NewRunSummaryStore())
	_, err := gen.Generate(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
