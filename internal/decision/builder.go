package decision

import (
	"context"
	"errors"
	"fmt"

	"futures-risk-lab/internal/backtest"
	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/strategy"
)

// ErrStrategyMismatch is returned when baseline and stressed runs belong to
// different strategies.
var ErrStrategyMismatch = errors.New("baseline and stressed runs differ in strategy")

// StressFactor multiplies fees and slippage for the stressed run.
const StressFactor = 2.0

// Stress returns cfg with fees and slippage multiplied by StressFactor.
func Stress(cfg backtest.Config) backtest.Config {
	cfg.FeeRate *= StressFactor
	cfg.Slippage *= StressFactor
	return cfg
}

// Build creates DecisionInput from a baseline run and the same strategy
// under stressed costs.
func Build(baseline, stressed *domain.PerformanceMetrics) (*DecisionInput, error) {
	if baseline == nil || stressed == nil {
		return nil, errors.New("decision: baseline and stressed metrics are required")
	}
	if baseline.Strategy != stressed.Strategy {
		return nil, fmt.Errorf("%w: %s vs %s", ErrStrategyMismatch, baseline.Strategy, stressed.Strategy)
	}
	return &DecisionInput{
		Strategy:           baseline.Strategy,
		RunID:              baseline.RunID,
		TotalTrades:        baseline.TotalTrades,
		LosingTrades:       baseline.LosingTrades,
		NetPnL:             baseline.NetPnL,
		ProfitFactor:       baseline.ProfitFactor,
		SharpeRatio:        baseline.SharpeRatio,
		MaxDrawdownPercent: baseline.MaxDrawdownPercent,
		StressedNetPnL:     stressed.NetPnL,
	}, nil
}

// Gate runs the strategy over bars at baseline and stressed costs and
// evaluates the result.
func Gate(ctx context.Context, cfg backtest.Config, name string, fn strategy.Func, bars []domain.Bar, th Thresholds) (*DecisionResult, error) {
	run := func(c backtest.Config) (*domain.PerformanceMetrics, error) {
		e, err := backtest.NewEngine(c, fn, backtest.WithStrategyName(name))
		if err != nil {
			return nil, err
		}
		res, err := e.Run(ctx, bars)
		if err != nil {
			return nil, err
		}
		return &res.Metrics, nil
	}

	baseline, err := run(cfg)
	if err != nil {
		return nil, fmt.Errorf("baseline run: %w", err)
	}
	stressed, err := run(Stress(cfg))
	if err != nil {
		return nil, fmt.Errorf("stressed run: %w", err)
	}
	input, err := Build(baseline, stressed)
	if err != nil {
		return nil, err
	}
	return NewEvaluator(th).Evaluate(*input), nil
}
