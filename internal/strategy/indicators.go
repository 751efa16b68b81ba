package strategy

import (
	"math"

	"github.com/montanaflynn/stats"
)

// EMA returns the exponential moving average series with smoothing
// 2/(period+1), seeded with the first value.
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 || period < 1 {
		return out
	}
	alpha := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RSI returns the relative strength index of the last bar using simple
// averages of the last period gains and losses. NaN if there is not enough
// data or the window is flat.
func RSI(closes []float64, period int) float64 {
	if period < 1 || len(closes) < period+1 {
		return math.NaN()
	}
	var gain, loss float64
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(period)
	loss /= float64(period)
	switch {
	case gain == 0 && loss == 0:
		return math.NaN()
	case loss == 0:
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

// MACD returns the MACD line (EMA fast - EMA slow), its signal line and the histogram.
func MACD(closes []float64, fast, slow, signal int) (line, sig, hist []float64) {
	f := EMA(closes, fast)
	s := EMA(closes, slow)
	line = make([]float64, len(closes))
	for i := range closes {
		line[i] = f[i] - s[i]
	}
	sig = EMA(line, signal)
	hist = make([]float64, len(closes))
	for i := range closes {
		hist[i] = line[i] - sig[i]
	}
	return line, sig, hist
}

// Bollinger returns the bands of the last period closes: the simple mean
// plus and minus k sample standard deviations.
func Bollinger(closes []float64, period int, k float64) (upper, middle, lower float64, ok bool) {
	if period < 2 || len(closes) < period {
		return 0, 0, 0, false
	}
	window := stats.Float64Data(closes[len(closes)-period:])
	mean, err := stats.Mean(window)
	if err != nil {
		return 0, 0, 0, false
	}
	sd, err := stats.StandardDeviationSample(window)
	if err != nil {
		return 0, 0, 0, false
	}
	return mean + k*sd, mean, mean - k*sd, true
}
