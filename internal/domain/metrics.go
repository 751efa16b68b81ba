package domain

import "time"

// PerformanceMetrics summarizes a backtest run.
type PerformanceMetrics struct {
	RunID    string
	Strategy string
	Symbol   string

	StartTime time.Time
	EndTime   time.Time

	InitialCapital float64
	FinalCapital   float64

	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64

	TotalPnL        float64
	TotalPnLPercent float64
	TotalFees       float64
	NetPnL          float64

	AverageWin  float64
	AverageLoss float64
	LargestWin  float64
	LargestLoss float64

	// ProfitFactor divides gross wins by gross losses. When there are no
	// losing trades gross losses are floored to 1, so the value is a display
	// convention in that case, not a true ratio.
	ProfitFactor float64

	SharpeRatio        float64
	MaxDrawdown        float64
	MaxDrawdownPercent float64
	RecoveryFactor     float64

	AverageTradeDuration time.Duration
}
