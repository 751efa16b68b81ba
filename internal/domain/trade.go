package domain

import (
	"errors"
	"time"
)

// ErrTradeClosed is returned when closing a trade that already left the open state.
var ErrTradeClosed = errors.New("trade already closed")

// Side is the direction of a position.
type Side string

// Side constants.
const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign returns +1 for long and -1 for short.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideShort {
		return SideLong
	}
	return SideShort
}

// TradeStatus is the lifecycle state of a trade.
// open is the only non-terminal status.
type TradeStatus string

// TradeStatus constants.
const (
	TradeStatusOpen        TradeStatus = "open"
	TradeStatusClosed      TradeStatus = "closed"
	TradeStatusStopLoss    TradeStatus = "stop_loss"
	TradeStatusTakeProfit  TradeStatus = "take_profit"
	TradeStatusBacktestEnd TradeStatus = "backtest_end"
)

// IsTerminal reports whether the status is a closed state.
func (s TradeStatus) IsTerminal() bool {
	return s != TradeStatusOpen
}

// Trade is a single leveraged position from entry to exit.
// ExitTime, ExitPrice, PnL and PnLPercent are set iff Status != open.
type Trade struct {
	TradeID  string
	RunID    string // backtest run or live session
	Symbol   string
	Side     Side
	Leverage float64

	EntryTime  time.Time
	EntryPrice float64
	Quantity   float64
	StopLoss   float64
	TakeProfit float64

	ExitTime   *time.Time
	ExitPrice  *float64
	Fees       float64 // accrued entry + exit fees
	PnL        *float64
	PnLPercent *float64
	Status     TradeStatus

	Strategy         string
	SignalConfidence float64
	SignalReason     string
}

// IsOpen reports whether the trade has not been closed yet.
func (t *Trade) IsOpen() bool {
	return t.Status == TradeStatusOpen
}

// UnrealizedPnL returns mark-to-market pnl at price, leverage included, fees excluded.
func (t *Trade) UnrealizedPnL(price float64) float64 {
	return (price - t.EntryPrice) * t.Quantity * t.Leverage * t.Side.Sign()
}

// Close moves the trade into a terminal status.
// exitFee is added to accrued fees before pnl is computed:
// pnl = (exit - entry) * qty * leverage * sign(side) - fees.
func (t *Trade) Close(exitPrice float64, exitTime time.Time, exitFee float64, status TradeStatus) error {
	if !t.IsOpen() {
		return ErrTradeClosed
	}
	if !status.IsTerminal() {
		status = TradeStatusClosed
	}

	t.Fees += exitFee
	pnl := (exitPrice-t.EntryPrice)*t.Quantity*t.Leverage*t.Side.Sign() - t.Fees

	var pnlPct float64
	if notional := t.Quantity * t.EntryPrice; notional != 0 {
		pnlPct = pnl / notional * 100
	}

	t.ExitTime = &exitTime
	t.ExitPrice = &exitPrice
	t.PnL = &pnl
	t.PnLPercent = &pnlPct
	t.Status = status
	return nil
}

// RealizedPnL returns the closed pnl, or 0 for an open trade.
func (t *Trade) RealizedPnL() float64 {
	if t.PnL == nil {
		return 0
	}
	return *t.PnL
}

// Duration returns exit minus entry time, or 0 for an open trade.
func (t *Trade) Duration() time.Duration {
	if t.ExitTime == nil {
		return 0
	}
	return t.ExitTime.Sub(t.EntryTime)
}
