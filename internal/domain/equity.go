package domain

import "time"

// EquitySample is one point of the equity curve.
// Equity = realized capital + sum of unrealized pnl of open trades.
type EquitySample struct {
	RunID         string
	Timestamp     time.Time
	Equity        float64
	RealizedPnL   float64
	UnrealizedPnL float64
	OpenPositions int
}
