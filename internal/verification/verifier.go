// Package verification replays stored backtest runs and checks that the
// engine reproduces every stored trade.
package verification

import (
	"math"
	"time"

	"futures-risk-lab/internal/domain"
)

// FloatTolerance is the tolerance for float64 comparisons.
const FloatTolerance = 1e-7

// FieldDivergence represents a mismatch between stored and replayed values.
type FieldDivergence struct {
	Field    string // field name
	Expected any    // stored value
	Actual   any    // replayed value
}

// VerificationResult contains the result of verifying a single trade.
type VerificationResult struct {
	TradeID     string            // verified trade ID
	Match       bool              // true if all fields match
	Divergences []FieldDivergence // list of divergent fields
	StoredPnL   float64           // realized pnl of the stored trade
	ReplayedPnL float64           // realized pnl of the replayed trade
}

// VerificationReport contains results for a run.
type VerificationReport struct {
	RunID           string
	TotalTrades     int                  // stored trades verified
	MatchedTrades   int                  // trades that matched exactly
	DivergentTrades int                  // trades with divergences, missing ones included
	ExtraTrades     int                  // replayed trades absent from storage
	Results         []VerificationResult // individual results
}

// OK reports whether the replay reproduced the stored run exactly.
func (r *VerificationReport) OK() bool {
	return r.DivergentTrades == 0 && r.ExtraTrades == 0
}

// CompareTrades compares two trades and returns divergences.
// Uses FloatTolerance for float64 comparisons.
func CompareTrades(stored, replayed *domain.Trade) []FieldDivergence {
	var d []FieldDivergence
	add := func(field string, expected, actual any) {
		d = append(d, FieldDivergence{Field: field, Expected: expected, Actual: actual})
	}

	// Identity must match exactly
	if stored.TradeID != replayed.TradeID {
		add("TradeID", stored.TradeID, replayed.TradeID)
	}
	if stored.RunID != replayed.RunID {
		add("RunID", stored.RunID, replayed.RunID)
	}
	if stored.Symbol != replayed.Symbol {
		add("Symbol", stored.Symbol, replayed.Symbol)
	}
	if stored.Side != replayed.Side {
		add("Side", stored.Side, replayed.Side)
	}
	if stored.Strategy != replayed.Strategy {
		add("Strategy", stored.Strategy, replayed.Strategy)
	}

	// Entry values
	if !stored.EntryTime.Equal(replayed.EntryTime) {
		add("EntryTime", stored.EntryTime, replayed.EntryTime)
	}
	if !floatEquals(stored.EntryPrice, replayed.EntryPrice) {
		add("EntryPrice", stored.EntryPrice, replayed.EntryPrice)
	}
	if !floatEquals(stored.Quantity, replayed.Quantity) {
		add("Quantity", stored.Quantity, replayed.Quantity)
	}
	if !floatEquals(stored.Leverage, replayed.Leverage) {
		add("Leverage", stored.Leverage, replayed.Leverage)
	}
	if !floatEquals(stored.StopLoss, replayed.StopLoss) {
		add("StopLoss", stored.StopLoss, replayed.StopLoss)
	}
	if !floatEquals(stored.TakeProfit, replayed.TakeProfit) {
		add("TakeProfit", stored.TakeProfit, replayed.TakeProfit)
	}

	// Exit values
	if !timePtrEquals(stored.ExitTime, replayed.ExitTime) {
		add("ExitTime", stored.ExitTime, replayed.ExitTime)
	}
	if !floatPtrEquals(stored.ExitPrice, replayed.ExitPrice) {
		add("ExitPrice", stored.ExitPrice, replayed.ExitPrice)
	}
	// Status must match exactly
	if stored.Status != replayed.Status {
		add("Status", stored.Status, replayed.Status)
	}

	// Outcome
	if !floatEquals(stored.Fees, replayed.Fees) {
		add("Fees", stored.Fees, replayed.Fees)
	}
	if !floatPtrEquals(stored.PnL, replayed.PnL) {
		add("PnL", stored.PnL, replayed.PnL)
	}
	if !floatPtrEquals(stored.PnLPercent, replayed.PnLPercent) {
		add("PnLPercent", stored.PnLPercent, replayed.PnLPercent)
	}

	return d
}

// floatEquals compares two float64 values with tolerance.
func floatEquals(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return math.Abs(a-b) <= FloatTolerance
}

// floatPtrEquals compares two *float64 values with tolerance.
func floatPtrEquals(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return floatEquals(*a, *b)
}

func timePtrEquals(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
