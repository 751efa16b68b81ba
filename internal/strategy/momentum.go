package strategy

import (
	"fmt"
	"math"
	"strings"

	"futures-risk-lab/internal/domain"
)

// Momentum score weights. Confidence is the winning side's score over maxScore.
const (
	weightRSI       = 2
	weightMACDCross = 3
	weightEMA       = 1
	weightBollinger = 1
	maxScore        = weightRSI + weightMACDCross + weightEMA + weightBollinger
)

// MomentumConfig configures Momentum.
type MomentumConfig struct {
	RSIPeriod     int
	RSIOverbought float64
	RSIOversold   float64
	MinBars       int
}

// DefaultMomentumConfig returns RSI 14 with 70/30 bands and a 50 bar minimum.
func DefaultMomentumConfig() MomentumConfig {
	return MomentumConfig{RSIPeriod: 14, RSIOverbought: 70, RSIOversold: 30, MinBars: 50}
}

func (c MomentumConfig) validate() error {
	if c.RSIPeriod < 2 {
		return fmt.Errorf("%w: rsi period %d < 2", ErrInvalidParams, c.RSIPeriod)
	}
	if c.RSIOversold <= 0 || c.RSIOverbought >= 100 || c.RSIOversold >= c.RSIOverbought {
		return fmt.Errorf("%w: rsi bands %.0f/%.0f", ErrInvalidParams, c.RSIOversold, c.RSIOverbought)
	}
	return nil
}

// Momentum scores RSI extremes, MACD crossovers, EMA 9/21 alignment and
// Bollinger band breaks. The side with the higher score wins; a tie holds.
func Momentum(cfg MomentumConfig) Func {
	if cfg.MinBars < 2 {
		cfg.MinBars = 2
	}
	return func(window []domain.Bar) domain.Signal {
		if len(window) < cfg.MinBars {
			return domain.Hold("Insufficient data")
		}
		closes := domain.Closes(window)
		last := len(closes) - 1
		price := closes[last]

		var buy, sell int
		var reasons []string

		rsi := RSI(closes, cfg.RSIPeriod)
		switch {
		case math.IsNaN(rsi):
		case rsi < cfg.RSIOversold:
			buy += weightRSI
			reasons = append(reasons, fmt.Sprintf("RSI oversold (%.2f)", rsi))
		case rsi > cfg.RSIOverbought:
			sell += weightRSI
			reasons = append(reasons, fmt.Sprintf("RSI overbought (%.2f)", rsi))
		}

		macd, sig, _ := MACD(closes, 12, 26, 9)
		switch {
		case macd[last] > sig[last] && macd[last-1] <= sig[last-1]:
			buy += weightMACDCross
			reasons = append(reasons, "MACD bullish crossover")
		case macd[last] < sig[last] && macd[last-1] >= sig[last-1]:
			sell += weightMACDCross
			reasons = append(reasons, "MACD bearish crossover")
		}

		if EMA(closes, 9)[last] > EMA(closes, 21)[last] {
			buy += weightEMA
			reasons = append(reasons, "EMA bullish alignment")
		} else {
			sell += weightEMA
			reasons = append(reasons, "EMA bearish alignment")
		}

		if upper, _, lower, ok := Bollinger(closes, 20, 2); ok {
			switch {
			case price < lower:
				buy += weightBollinger
				reasons = append(reasons, "Price below lower BB")
			case price > upper:
				sell += weightBollinger
				reasons = append(reasons, "Price above upper BB")
			}
		}

		reason := strings.Join(reasons, "; ")
		switch {
		case buy > sell:
			return domain.Signal{Type: domain.SignalBuy, Confidence: math.Min(float64(buy)/maxScore, 1), Reason: reason}
		case sell > buy:
			return domain.Signal{Type: domain.SignalSell, Confidence: math.Min(float64(sell)/maxScore, 1), Reason: reason}
		default:
			return domain.Hold(reason)
		}
	}
}
