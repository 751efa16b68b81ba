package decision

import "fmt"

// Evaluator evaluates decision criteria.
type Evaluator struct {
	th Thresholds
}

// NewEvaluator creates a new decision evaluator.
func NewEvaluator(th Thresholds) *Evaluator {
	return &Evaluator{th: th}
}

// Evaluate produces DecisionResult from DecisionInput.
// GO if ALL criteria pass and NO NO-GO triggers.
// NO-GO if ANY criterion fails or ANY trigger fires.
func (e *Evaluator) Evaluate(input DecisionInput) *DecisionResult {
	goCriteria := e.evaluateGOCriteria(input)
	nogoChecks := e.evaluateNOGOTriggers(input)

	decision := DecisionGO
	for _, c := range append(goCriteria, nogoChecks...) {
		if !c.Pass {
			decision = DecisionNOGO
			break
		}
	}

	return &DecisionResult{
		Decision:   decision,
		Strategy:   input.Strategy,
		RunID:      input.RunID,
		GOCriteria: goCriteria,
		NOGOChecks: nogoChecks,
	}
}

// evaluateGOCriteria evaluates the 5 GO criteria.
func (e *Evaluator) evaluateGOCriteria(input DecisionInput) []CriterionResult {
	criteria := make([]CriterionResult, 5)

	// 1. Enough trades to judge
	criteria[0] = CriterionResult{
		Name:      "Sample size",
		Threshold: fmt.Sprintf(">= %d trades", e.th.MinTrades),
		Actual:    fmt.Sprintf("%d", input.TotalTrades),
		Pass:      input.TotalTrades >= e.th.MinTrades,
	}

	// 2. Net pnl after fees
	criteria[1] = CriterionResult{
		Name:      "Net PnL",
		Threshold: "> 0",
		Actual:    fmt.Sprintf("%.2f", input.NetPnL),
		Pass:      input.NetPnL > 0,
	}

	// 3. Profit factor; without losing trades it is a display value only
	pfPass := input.ProfitFactor >= e.th.MinProfitFactor && input.LosingTrades > 0
	criteria[2] = CriterionResult{
		Name:      "Profit factor",
		Threshold: fmt.Sprintf(">= %.2f with losing trades", e.th.MinProfitFactor),
		Actual:    fmt.Sprintf("%.2f (%d losing)", input.ProfitFactor, input.LosingTrades),
		Pass:      pfPass,
	}

	// 4. Drawdown inside the kill switch limit
	criteria[3] = CriterionResult{
		Name:      "Max drawdown",
		Threshold: fmt.Sprintf("< %.2f%%", e.th.MaxDrawdownPercent),
		Actual:    fmt.Sprintf("%.2f%%", input.MaxDrawdownPercent),
		Pass:      input.MaxDrawdownPercent < e.th.MaxDrawdownPercent,
	}

	// 5. Stable under stress: stressed > 0 AND stressed/baseline >= ratio
	stabilityPass := false
	var stabilityActual string
	if input.NetPnL > 0 {
		ratio := input.StressedNetPnL / input.NetPnL
		stabilityPass = input.StressedNetPnL > 0 && ratio >= e.th.MinStressRatio
		stabilityActual = fmt.Sprintf("Stressed=%.2f, Ratio=%.2f", input.StressedNetPnL, ratio)
	} else {
		stabilityActual = fmt.Sprintf("Stressed=%.2f, Baseline=%.2f", input.StressedNetPnL, input.NetPnL)
	}
	criteria[4] = CriterionResult{
		Name:      "Stable under stress",
		Threshold: fmt.Sprintf("Stressed > 0 AND ratio >= %.2f", e.th.MinStressRatio),
		Actual:    stabilityActual,
		Pass:      stabilityPass,
	}

	return criteria
}

// evaluateNOGOTriggers evaluates the 4 NO-GO triggers.
// Pass=true means NOT triggered, Pass=false means triggered.
func (e *Evaluator) evaluateNOGOTriggers(input DecisionInput) []CriterionResult {
	checks := make([]CriterionResult, 4)

	// 1. Drawdown would have tripped the kill switch
	checks[0] = CriterionResult{
		Name:      "Kill switch drawdown",
		Threshold: fmt.Sprintf(">= %.2f%%", e.th.MaxDrawdownPercent),
		Actual:    fmt.Sprintf("%.2f%%", input.MaxDrawdownPercent),
		Pass:      input.MaxDrawdownPercent < e.th.MaxDrawdownPercent,
	}

	// 2. Losing strategy
	checks[1] = CriterionResult{
		Name:      "Negative/zero net PnL",
		Threshold: "<= 0",
		Actual:    fmt.Sprintf("%.2f", input.NetPnL),
		Pass:      input.NetPnL > 0,
	}

	// 3. Edge disappears: baseline > 0 && stressed <= 0
	checks[2] = CriterionResult{
		Name:      "Edge disappears under stress",
		Threshold: "Baseline > 0 AND Stressed <= 0",
		Actual:    fmt.Sprintf("Baseline=%.2f, Stressed=%.2f", input.NetPnL, input.StressedNetPnL),
		Pass:      !(input.NetPnL > 0 && input.StressedNetPnL <= 0),
	}

	// 4. No trades at all
	checks[3] = CriterionResult{
		Name:      "Strategy never trades",
		Threshold: "0 trades",
		Actual:    fmt.Sprintf("%d", input.TotalTrades),
		Pass:      input.TotalTrades > 0,
	}

	return checks
}
