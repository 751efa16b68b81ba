// Package metrics derives performance statistics from closed trades and the
// equity curve of a run.
package metrics

import (
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"futures-risk-lab/internal/domain"
)

// TradingDaysPerYear annualizes the Sharpe ratio.
const TradingDaysPerYear = 252

// Compute calculates run metrics. Only trades in a terminal status count.
// Trades with pnl > 0 are winners, everything else is a loser.
//   - profit factor = gross wins / gross losses, gross losses floored to 1
//     when there are no losing trades
//   - sharpe = mean / sample stdev of period-over-period equity returns * sqrt(252)
//   - max drawdown = largest peak-to-trough drop of equity; percent is taken
//     against the running peak at the end of the curve
//   - recovery factor = net pnl / max drawdown, 0 without drawdown
func Compute(trades []*domain.Trade, equity []*domain.EquitySample, initialCapital, finalCapital float64) domain.PerformanceMetrics {
	m := domain.PerformanceMetrics{
		InitialCapital: initialCapital,
		FinalCapital:   finalCapital,
	}

	closed := closedTrades(trades)
	if len(closed) == 0 {
		return m
	}

	var grossWins, grossLosses float64
	var winners, losers int
	var totalDuration time.Duration
	var durations int
	for _, t := range closed {
		pnl := t.RealizedPnL()
		m.TotalPnL += pnl
		m.TotalFees += t.Fees
		if pnl > 0 {
			winners++
			grossWins += pnl
			if pnl > m.LargestWin {
				m.LargestWin = pnl
			}
		} else {
			losers++
			grossLosses += pnl
			if losers == 1 || pnl < m.LargestLoss {
				m.LargestLoss = pnl
			}
		}
		if t.ExitTime != nil {
			totalDuration += t.Duration()
			durations++
		}
	}

	m.TotalTrades = len(closed)
	m.WinningTrades = winners
	m.LosingTrades = losers
	m.WinRate = float64(winners) / float64(len(closed))
	m.NetPnL = m.TotalPnL
	if initialCapital != 0 {
		m.TotalPnLPercent = m.TotalPnL / initialCapital * 100
	}
	if winners > 0 {
		m.AverageWin = grossWins / float64(winners)
	}
	if losers > 0 {
		m.AverageLoss = grossLosses / float64(losers)
	}
	m.ProfitFactor = ProfitFactor(grossWins, math.Abs(grossLosses), losers)
	if durations > 0 {
		m.AverageTradeDuration = totalDuration / time.Duration(durations)
	}

	curve := equityValues(equity)
	m.SharpeRatio = Sharpe(curve)
	m.MaxDrawdown, m.MaxDrawdownPercent = MaxDrawdown(curve)
	if m.MaxDrawdown > 0 {
		m.RecoveryFactor = m.NetPnL / m.MaxDrawdown
	}
	return m
}

// ProfitFactor returns grossWins / grossLosses. With no losing trades the
// denominator is floored to 1; the result is then a display value only.
func ProfitFactor(grossWins, grossLosses float64, losingTrades int) float64 {
	if losingTrades == 0 {
		grossLosses = 1
	}
	if grossLosses <= 0 {
		return 0
	}
	return grossWins / grossLosses
}

// Returns computes period-over-period percent changes. Steps from a zero
// equity are skipped.
func Returns(curve []float64) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1] == 0 {
			continue
		}
		out = append(out, curve[i]/curve[i-1]-1)
	}
	return out
}

// Sharpe annualizes mean/stdev of the curve's returns by sqrt(252).
// Returns 0 with fewer than two returns or zero volatility.
func Sharpe(curve []float64) float64 {
	rets := Returns(curve)
	if len(rets) < 2 {
		return 0
	}
	mean, err := stats.Mean(rets)
	if err != nil {
		return 0
	}
	sd, err := stats.StandardDeviationSample(rets)
	if err != nil || sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return mean / sd * math.Sqrt(TradingDaysPerYear)
}

// MaxDrawdown returns the largest peak-to-trough drop and that drop as a
// percent of the final running peak.
func MaxDrawdown(curve []float64) (maxDD, maxDDPercent float64) {
	if len(curve) == 0 {
		return 0, 0
	}
	peak := curve[0]
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		if dd := peak - v; dd > maxDD {
			maxDD = dd
		}
	}
	if peak > 0 {
		maxDDPercent = maxDD / peak * 100
	}
	return maxDD, maxDDPercent
}

func closedTrades(trades []*domain.Trade) []*domain.Trade {
	out := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		if t != nil && t.Status.IsTerminal() && t.PnL != nil {
			out = append(out, t)
		}
	}
	return out
}

func equityValues(samples []*domain.EquitySample) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s != nil {
			out = append(out, s.Equity)
		}
	}
	return out
}
