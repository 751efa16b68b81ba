// Package orchestrator runs parameter sweeps over stored bars.
// It coordinates: backtests → metrics aggregation → environment episodes
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"futures-risk-lab/internal/backtest"
	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/logging"
	"futures-risk-lab/internal/metrics"
	"futures-risk-lab/internal/observability"
	"futures-risk-lab/internal/simulation"
	"futures-risk-lab/internal/storage"
	"futures-risk-lab/internal/strategy"
)

// Scenario is a named engine configuration.
type Scenario struct {
	Name   string
	Config backtest.Config
}

// Options for creating Orchestrator.
type Options struct {
	// Required stores
	BarStore    storage.BarStore
	TradeStore  storage.TradeStore
	EquityStore storage.EquityStore

	// Optional: summaries are recomputed from stored trades and equity
	SummaryStore storage.RunSummaryStore

	Symbol     string
	From, To   time.Time
	Strategies []string
	Params     strategy.Params
	Scenarios  []Scenario

	// Optional: also score each strategy in the step environment
	Environment *simulation.Config
	Warmup      int

	Metrics *observability.Metrics
	Logger  logrus.FieldLogger
}

// Orchestrator coordinates sweep execution.
// Flow: backtests → aggregation → episodes
type Orchestrator struct {
	opts   Options
	logger logrus.FieldLogger
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		opts:   opts,
		logger: logging.OrDiscard(opts.Logger).WithField("component", "orchestrator"),
	}
}

// RunSummary is one completed backtest of the sweep.
type RunSummary struct {
	Strategy string
	Scenario string
	RunID    string
	Metrics  domain.PerformanceMetrics
}

// RunResult contains results from orchestrator execution.
type RunResult struct {
	RunsCompleted     int
	TradesCreated     int
	AggregatesCreated int
	Runs              []RunSummary
	Episodes          map[string]*simulation.EpisodeResult // by strategy
	Errors            []string
}

// Best returns the run with the highest net pnl, or false if none completed.
func (r *RunResult) Best() (RunSummary, bool) {
	if len(r.Runs) == 0 {
		return RunSummary{}, false
	}
	ranked := make([]RunSummary, len(r.Runs))
	copy(ranked, r.Runs)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Metrics.NetPnL > ranked[j].Metrics.NetPnL
	})
	return ranked[0], true
}

// Run executes the full sweep.
// Phases:
//  1. Backtest each (strategy, scenario) combination
//  2. Recompute and store summaries from persisted trades and equity
//  3. Run environment episodes per strategy
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	if o.opts.BarStore == nil || o.opts.TradeStore == nil || o.opts.EquityStore == nil {
		return nil, errors.New("orchestrator: bar, trade and equity stores are required")
	}
	result := &RunResult{Episodes: make(map[string]*simulation.EpisodeResult)}
	if len(o.opts.Strategies) == 0 || len(o.opts.Scenarios) == 0 {
		return result, nil
	}

	o.logger.WithFields(logrus.Fields{
		"strategies": len(o.opts.Strategies),
		"scenarios":  len(o.opts.Scenarios),
	}).Info("Phase 1: running backtests")
	runs, errs := o.runBacktests(ctx)
	result.Runs = runs
	result.RunsCompleted = len(runs)
	for _, r := range runs {
		result.TradesCreated += r.Metrics.TotalTrades
	}
	result.Errors = append(result.Errors, errs...)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	if o.opts.SummaryStore != nil {
		o.logger.Info("Phase 2: computing aggregates")
		n, errs := o.runAggregation(ctx, runs)
		result.AggregatesCreated = n
		result.Errors = append(result.Errors, errs...)
	}

	if o.opts.Environment != nil {
		o.logger.Info("Phase 3: running environment episodes")
		episodes, errs := o.runEpisodes(ctx)
		result.Episodes = episodes
		result.Errors = append(result.Errors, errs...)
	}

	o.logger.WithFields(logrus.Fields{
		"runs":       result.RunsCompleted,
		"trades":     result.TradesCreated,
		"aggregates": result.AggregatesCreated,
		"errors":     len(result.Errors),
	}).Info("sweep completed")
	return result, nil
}

// runBacktests runs every strategy against every scenario.
func (o *Orchestrator) runBacktests(ctx context.Context) ([]RunSummary, []string) {
	runner := backtest.NewRunner(o.opts.BarStore, backtest.Sinks{
		Trades: o.opts.TradeStore,
		Equity: o.opts.EquityStore,
	})

	var runs []RunSummary
	var errs []string
	for _, name := range o.opts.Strategies {
		fn, err := strategy.FromName(name, o.opts.Params)
		if err != nil {
			errs = append(errs, fmt.Sprintf("strategy %s: %v", name, err))
			continue
		}

		for _, sc := range o.opts.Scenarios {
			if ctx.Err() != nil {
				return runs, errs
			}
			cfg := sc.Config
			if o.opts.Symbol != "" {
				cfg.Symbol = o.opts.Symbol
			}
			engine, err := backtest.NewEngine(cfg, fn,
				backtest.WithStrategyName(name),
				backtest.WithLogger(o.logger))
			if err != nil {
				errs = append(errs, fmt.Sprintf("backtest %s/%s: %v", name, sc.Name, err))
				continue
			}

			start := time.Now()
			res, err := runner.Run(ctx, engine, o.opts.From, o.opts.To)
			if o.opts.Metrics != nil {
				o.opts.Metrics.RecordBacktest(err, time.Since(start).Seconds())
			}
			if err != nil {
				// Skip duplicate key errors (already run)
				if errors.Is(err, storage.ErrDuplicateKey) {
					continue
				}
				errs = append(errs, fmt.Sprintf("backtest %s/%s: %v", name, sc.Name, err))
				continue
			}

			o.logger.WithFields(logrus.Fields{
				"strategy": name,
				"scenario": sc.Name,
				"run_id":   res.RunID,
				"trades":   res.Metrics.TotalTrades,
				"net_pnl":  res.Metrics.NetPnL,
			}).Debug("backtest finished")
			runs = append(runs, RunSummary{
				Strategy: name,
				Scenario: sc.Name,
				RunID:    res.RunID,
				Metrics:  res.Metrics,
			})
		}
	}
	return runs, errs
}

// runAggregation stores a summary per completed run. Runs without trades
// keep the engine's own metrics.
func (o *Orchestrator) runAggregation(ctx context.Context, runs []RunSummary) (int, []string) {
	aggregator := metrics.NewAggregator(o.opts.TradeStore, o.opts.EquityStore, o.opts.SummaryStore)

	var created int
	var errs []string
	for _, r := range runs {
		_, err := aggregator.ComputeAndStore(ctx, r.RunID)
		if errors.Is(err, metrics.ErrNoTrades) {
			m := r.Metrics
			err = o.opts.SummaryStore.Insert(ctx, &m)
		}
		if err != nil {
			// Skip duplicate key errors (already aggregated)
			if errors.Is(err, storage.ErrDuplicateKey) {
				continue
			}
			errs = append(errs, fmt.Sprintf("aggregate %s: %v", r.RunID, err))
			continue
		}
		created++
	}
	return created, errs
}

// runEpisodes drives each strategy once through the step environment.
func (o *Orchestrator) runEpisodes(ctx context.Context) (map[string]*simulation.EpisodeResult, []string) {
	warmup := o.opts.Warmup
	if warmup == 0 && len(o.opts.Scenarios) > 0 {
		warmup = o.opts.Scenarios[0].Config.Warmup
	}
	symbol := o.opts.Symbol
	if symbol == "" && len(o.opts.Scenarios) > 0 {
		symbol = o.opts.Scenarios[0].Config.Symbol
	}

	runner := simulation.NewRunner(simulation.RunnerOptions{
		Bars:   o.opts.BarStore,
		Config: *o.opts.Environment,
		Warmup: warmup,
	})

	episodes := make(map[string]*simulation.EpisodeResult)
	var errs []string
	for _, name := range o.opts.Strategies {
		fn, err := strategy.FromName(name, o.opts.Params)
		if err != nil {
			continue // reported in phase 1
		}
		res, err := runner.Run(ctx, symbol, o.opts.From, o.opts.To, fn)
		if err != nil {
			errs = append(errs, fmt.Sprintf("episode %s: %v", name, err))
			continue
		}
		episodes[name] = res
	}
	return episodes, errs
}
