package domain

import "time"

// Position is a venue-level open position, as held locally or reported by the venue.
type Position struct {
	Symbol        string
	Side          Side
	Quantity      float64
	EntryPrice    float64
	Leverage      float64
	StopLoss      float64
	TakeProfit    float64
	EntryTime     time.Time
	CurrentPrice  float64
	UnrealizedPnL float64
}

// PositionSnapshot is a persisted copy of a position at a point in time.
type PositionSnapshot struct {
	SnapshotID string
	TakenAt    time.Time
	Source     string // "local" or "venue"
	Position
}
