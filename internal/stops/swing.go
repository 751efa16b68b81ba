package stops

import "futures-risk-lab/internal/domain"

// swingHalfWindow is the number of bars on each side a swing must dominate.
const swingHalfWindow = 5

// windowMax returns the highest high in bars[lo:hi] clipped to the slice.
func windowMax(bars []domain.Bar, lo, hi int) float64 {
	lo, hi = clip(lo, hi, len(bars))
	m := bars[lo].High
	for _, b := range bars[lo+1 : hi] {
		if b.High > m {
			m = b.High
		}
	}
	return m
}

// windowMin returns the lowest low in bars[lo:hi] clipped to the slice.
func windowMin(bars []domain.Bar, lo, hi int) float64 {
	lo, hi = clip(lo, hi, len(bars))
	m := bars[lo].Low
	for _, b := range bars[lo+1 : hi] {
		if b.Low < m {
			m = b.Low
		}
	}
	return m
}

func clip(lo, hi, n int) (int, int) {
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	return lo, hi
}

// isSwingHigh reports whether bars[i].High is the max of the ±5 bar window.
func isSwingHigh(bars []domain.Bar, i int) bool {
	return bars[i].High == windowMax(bars, i-swingHalfWindow, i+swingHalfWindow+1)
}

// isSwingLow reports whether bars[i].Low is the min of the ±5 bar window.
func isSwingLow(bars []domain.Bar, i int) bool {
	return bars[i].Low == windowMin(bars, i-swingHalfWindow, i+swingHalfWindow+1)
}

// tail returns the last n bars (or all of them).
func tail(bars []domain.Bar, n int) []domain.Bar {
	if len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}

// swingPoint is a detected swing extreme.
type swingPoint struct {
	Price float64
	Index int
}

// recentSwings finds swing highs and lows in bars, scanning i in [5, len-1).
func recentSwings(bars []domain.Bar) (highs, lows []float64) {
	for i := swingHalfWindow; i < len(bars)-1; i++ {
		if isSwingHigh(bars, i) {
			highs = append(highs, bars[i].High)
		}
		if isSwingLow(bars, i) {
			lows = append(lows, bars[i].Low)
		}
	}
	return highs, lows
}

// validatedSwings finds swings in [10, len-5) whose later closes never crossed them.
// For long it returns swing lows whose subsequent closes stayed above;
// for short, swing highs whose subsequent closes stayed below.
func validatedSwings(bars []domain.Bar, side domain.Side) []swingPoint {
	var out []swingPoint
	for i := 2 * swingHalfWindow; i < len(bars)-swingHalfWindow; i++ {
		after := bars[i+swingHalfWindow:]
		if side == domain.SideShort {
			if !isSwingHigh(bars, i) {
				continue
			}
			if maxClose(after) < bars[i].High {
				out = append(out, swingPoint{Price: bars[i].High, Index: i})
			}
			continue
		}
		if !isSwingLow(bars, i) {
			continue
		}
		if minClose(after) > bars[i].Low {
			out = append(out, swingPoint{Price: bars[i].Low, Index: i})
		}
	}
	return out
}

func minClose(bars []domain.Bar) float64 {
	m := bars[0].Close
	for _, b := range bars[1:] {
		if b.Close < m {
			m = b.Close
		}
	}
	return m
}

func maxClose(bars []domain.Bar) float64 {
	m := bars[0].Close
	for _, b := range bars[1:] {
		if b.Close > m {
			m = b.Close
		}
	}
	return m
}

// LatestSwing returns the most recent swing low (long) or swing high (short)
// in bars that lies on the losing side of entryPrice.
func LatestSwing(bars []domain.Bar, side domain.Side, entryPrice float64) (float64, bool) {
	highs, lows := recentSwings(bars)
	if side == domain.SideShort {
		for i := len(highs) - 1; i >= 0; i-- {
			if highs[i] > entryPrice {
				return highs[i], true
			}
		}
		return 0, false
	}
	for i := len(lows) - 1; i >= 0; i-- {
		if lows[i] < entryPrice {
			return lows[i], true
		}
	}
	return 0, false
}
