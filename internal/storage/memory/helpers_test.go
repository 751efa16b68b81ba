package memory

import (
	"time"

	"futures-risk-lab/internal/domain"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func closedTrade(id, runID string, entryOffset time.Duration, pnl float64) *domain.Trade {
	tr := &domain.Trade{
		TradeID:    id,
		RunID:      runID,
		Symbol:     "BTCUSDT",
		Side:       domain.SideLong,
		Leverage:   1,
		EntryTime:  t0.Add(entryOffset),
		EntryPrice: 100,
		Quantity:   1,
		Status:     domain.TradeStatusOpen,
	}
	_ = tr.Close(100+pnl, t0.Add(entryOffset+time.Hour), 0, domain.TradeStatusClosed)
	return tr
}
