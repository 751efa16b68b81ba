// Package decision gates a strategy for live trading on its backtest results.
package decision

// Decision represents the final GO/NO-GO result.
type Decision string

const (
	DecisionGO   Decision = "GO"
	DecisionNOGO Decision = "NO-GO"
)

// DecisionInput contains numeric metrics for decision evaluation.
type DecisionInput struct {
	Strategy string
	RunID    string // baseline run

	// Baseline costs
	TotalTrades        int
	LosingTrades       int
	NetPnL             float64
	ProfitFactor       float64
	SharpeRatio        float64
	MaxDrawdownPercent float64

	// Same strategy with stressed fees and slippage
	StressedNetPnL float64
}

// Thresholds configures the gate.
type Thresholds struct {
	MinTrades       int
	MinProfitFactor float64
	// MaxDrawdownPercent is the kill switch drawdown limit: a strategy whose
	// backtest would have tripped it is not fit to go live.
	MaxDrawdownPercent float64
	MinStressRatio     float64 // stressed / baseline net pnl
}

// DefaultThresholds returns the standard gate.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinTrades:          30,
		MinProfitFactor:    1.2,
		MaxDrawdownPercent: 10,
		MinStressRatio:     0.5,
	}
}

// CriterionResult represents pass/fail for one criterion.
type CriterionResult struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// DecisionResult contains the final decision with checklist.
type DecisionResult struct {
	Decision   Decision
	Strategy   string
	RunID      string
	GOCriteria []CriterionResult // 5 GO criteria
	NOGOChecks []CriterionResult // 4 NO-GO triggers
}
