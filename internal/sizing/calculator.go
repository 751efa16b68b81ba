// Package sizing holds the pure position-size, stop and target functions
// and the pre-trade risk checks.
package sizing

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"futures-risk-lab/internal/domain"
)

// ErrInvalidInput is returned for prices or quantities that cannot be sized.
var ErrInvalidInput = errors.New("invalid sizing input")

// PositionSize converts a balance fraction into a contract quantity.
//   - base = balance * positionPercent / 100
//   - adjusted = base * confidence
//   - value = min(adjusted * leverage, maxPositionValue)
//   - quantity = value / entryPrice
//
// A maxPositionValue <= 0 disables the cap.
func PositionSize(balance, entryPrice, leverage, confidence, positionPercent, maxPositionValue float64) (float64, error) {
	if entryPrice <= 0 {
		return 0, fmt.Errorf("%w: entry price %v must be positive", ErrInvalidInput, entryPrice)
	}

	base := balance * positionPercent / 100
	adjusted := base * confidence
	value := adjusted * leverage
	if maxPositionValue > 0 {
		value = math.Min(value, maxPositionValue)
	}
	return value / entryPrice, nil
}

// StopPrice places a stop stopPercent away from entry against the trade.
func StopPrice(entryPrice float64, side domain.Side, stopPercent float64) float64 {
	if side == domain.SideShort {
		return entryPrice * (1 + stopPercent/100)
	}
	return entryPrice * (1 - stopPercent/100)
}

// TargetPrice places a target targetPercent away from entry in favor of the trade.
func TargetPrice(entryPrice float64, side domain.Side, targetPercent float64) float64 {
	if side == domain.SideShort {
		return entryPrice * (1 - targetPercent/100)
	}
	return entryPrice * (1 + targetPercent/100)
}

// RTarget is a price target expressed as a multiple of risk.
type RTarget struct {
	Multiple float64
	Price    float64
}

// RiskRewardTargets returns entry ± risk*r for each multiple, risk = |entry - stop|.
// Targets keep the order of rMultiples.
func RiskRewardTargets(entryPrice, stopPrice float64, side domain.Side, rMultiples []float64) (risk float64, targets []RTarget) {
	risk = math.Abs(entryPrice - stopPrice)
	targets = make([]RTarget, 0, len(rMultiples))
	for _, r := range rMultiples {
		targets = append(targets, RTarget{
			Multiple: r,
			Price:    entryPrice + side.Sign()*risk*r,
		})
	}
	return risk, targets
}

// Plan is a human-readable management plan for a position.
type Plan struct {
	Entry       float64
	StopLoss    float64
	Risk        float64
	RiskPercent float64
	Targets     []RTarget
	Management  string
}

// DefaultRMultiples are the partial/remainder targets used by ManagementPlan.
var DefaultRMultiples = []float64{2, 3}

// ManagementPlan builds targets at 2R and 3R and the scale-out instructions.
func ManagementPlan(entryPrice, stopPrice float64, side domain.Side) Plan {
	risk, targets := RiskRewardTargets(entryPrice, stopPrice, side, DefaultRMultiples)

	var riskPct float64
	if entryPrice != 0 {
		riskPct = risk / entryPrice * 100
	}

	sorted := make([]RTarget, len(targets))
	copy(sorted, targets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Multiple < sorted[j].Multiple })

	var sb strings.Builder
	fmt.Fprintf(&sb, "Take 50%% profit at %.4f (%gR), move stop to breakeven. ", sorted[0].Price, sorted[0].Multiple)
	fmt.Fprintf(&sb, "Take remaining 50%% at %.4f (%gR) or trail to maximize.", sorted[1].Price, sorted[1].Multiple)

	return Plan{
		Entry:       entryPrice,
		StopLoss:    stopPrice,
		Risk:        risk,
		RiskPercent: riskPct,
		Targets:     targets,
		Management:  sb.String(),
	}
}

// PositionPnL returns mark-to-market pnl and pnl percent of notional.
func PositionPnL(entryPrice, currentPrice, quantity float64, side domain.Side, leverage float64) (pnl, pnlPercent float64) {
	pnl = (currentPrice - entryPrice) * quantity * leverage * side.Sign()
	if notional := entryPrice * quantity; notional != 0 {
		pnlPercent = pnl / notional * 100
	}
	return pnl, pnlPercent
}

// ExitCheck is the outcome of ShouldClose.
type ExitCheck struct {
	Close  bool
	Status domain.TradeStatus
	Reason string
}

// ShouldClose reports whether price has crossed the position's stop or target.
// Stop is checked first. Zero stop/target levels are ignored.
func ShouldClose(p domain.Position, price float64) ExitCheck {
	long := p.Side != domain.SideShort

	if p.StopLoss > 0 && ((long && price <= p.StopLoss) || (!long && price >= p.StopLoss)) {
		return ExitCheck{Close: true, Status: domain.TradeStatusStopLoss, Reason: fmt.Sprintf("Stop loss hit at %.4f", price)}
	}
	if p.TakeProfit > 0 && ((long && price >= p.TakeProfit) || (!long && price <= p.TakeProfit)) {
		return ExitCheck{Close: true, Status: domain.TradeStatusTakeProfit, Reason: fmt.Sprintf("Take profit hit at %.4f", price)}
	}
	return ExitCheck{Reason: "Position within risk parameters"}
}

// RoundToStep floors quantity to a multiple of the venue lot step.
// A step <= 0 returns quantity unchanged.
func RoundToStep(quantity, step float64) float64 {
	if step <= 0 {
		return quantity
	}
	q := decimal.NewFromFloat(quantity)
	s := decimal.NewFromFloat(step)
	return q.Div(s).Floor().Mul(s).InexactFloat64()
}
