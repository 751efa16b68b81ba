// Package reporting renders backtest results as text, Markdown and CSV.
package reporting

import (
	"time"

	"futures-risk-lab/internal/domain"
)

// Report is a rendered-ready view of one backtest run.
type Report struct {
	GeneratedAt time.Time
	Metrics     domain.PerformanceMetrics
	Trades      []*domain.Trade
	Equity      []*domain.EquitySample
}

// TradeRow is one exported trade.
type TradeRow struct {
	TradeID          string  `csv:"trade_id"`
	Symbol           string  `csv:"symbol"`
	Side             string  `csv:"side"`
	Leverage         float64 `csv:"leverage"`
	EntryTime        string  `csv:"entry_time"`
	EntryPrice       float64 `csv:"entry_price"`
	ExitTime         string  `csv:"exit_time"`
	ExitPrice        float64 `csv:"exit_price"`
	Quantity         float64 `csv:"quantity"`
	StopLoss         float64 `csv:"stop_loss"`
	TakeProfit       float64 `csv:"take_profit"`
	Fees             float64 `csv:"fees"`
	PnL              float64 `csv:"pnl"`
	PnLPercent       float64 `csv:"pnl_percent"`
	Status           string  `csv:"status"`
	SignalConfidence float64 `csv:"signal_confidence"`
	SignalReason     string  `csv:"signal_reason"`
}

// EquityRow is one exported equity sample.
type EquityRow struct {
	Timestamp     string  `csv:"timestamp"`
	Equity        float64 `csv:"equity"`
	RealizedPnL   float64 `csv:"realized_pnl"`
	UnrealizedPnL float64 `csv:"unrealized_pnl"`
	OpenPositions int     `csv:"open_positions"`
}

// TradeRows flattens trades for export. Open trades have empty exit columns.
func TradeRows(trades []*domain.Trade) []*TradeRow {
	rows := make([]*TradeRow, 0, len(trades))
	for _, t := range trades {
		row := &TradeRow{
			TradeID:          t.TradeID,
			Symbol:           t.Symbol,
			Side:             string(t.Side),
			Leverage:         t.Leverage,
			EntryTime:        t.EntryTime.UTC().Format(time.RFC3339),
			EntryPrice:       t.EntryPrice,
			Quantity:         t.Quantity,
			StopLoss:         t.StopLoss,
			TakeProfit:       t.TakeProfit,
			Fees:             t.Fees,
			Status:           string(t.Status),
			SignalConfidence: t.SignalConfidence,
			SignalReason:     t.SignalReason,
		}
		if t.ExitTime != nil {
			row.ExitTime = t.ExitTime.UTC().Format(time.RFC3339)
		}
		if t.ExitPrice != nil {
			row.ExitPrice = *t.ExitPrice
		}
		row.PnL = t.RealizedPnL()
		if t.PnLPercent != nil {
			row.PnLPercent = *t.PnLPercent
		}
		rows = append(rows, row)
	}
	return rows
}

// EquityRows flattens equity samples for export.
func EquityRows(samples []*domain.EquitySample) []*EquityRow {
	rows := make([]*EquityRow, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, &EquityRow{
			Timestamp:     s.Timestamp.UTC().Format(time.RFC3339),
			Equity:        s.Equity,
			RealizedPnL:   s.RealizedPnL,
			UnrealizedPnL: s.UnrealizedPnL,
			OpenPositions: s.OpenPositions,
		})
	}
	return rows
}
