package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/storage"
	"futures-risk-lab/internal/strategy"
)

// ErrNotEnoughBars is returned when an episode has no step after the warm-up.
var ErrNotEnoughBars = errors.New("not enough bars for episode")

// EpisodeResult summarizes one pass of a strategy through the environment.
type EpisodeResult struct {
	TotalReward float64
	Steps       int
	Trades      int // position changes, reversals counted once
	Final       State
}

// Episode drives fn over bars: the signal on bar i decides the exposure held
// into bar i+1, filled at that bar's close.
func Episode(env *Environment, bars []domain.Bar, fn strategy.Func, warmup int) (*EpisodeResult, error) {
	if warmup < 1 {
		warmup = 1
	}
	if len(bars) <= warmup {
		return nil, fmt.Errorf("%w: have %d, need more than %d", ErrNotEnoughBars, len(bars), warmup)
	}

	env.Reset()
	res := &EpisodeResult{}
	current := ActionFlat
	for i := warmup; i < len(bars); i++ {
		signal := fn(bars[i-warmup : i])
		action := ActionFromSignal(signal, current)

		before := env.State().Position
		state, reward, err := env.Step(action, bars[i].Close)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if state.Position != before && state.Position != 0 {
			res.Trades++
		}
		// a stop or target exit returns the agent to flat
		if state.Position == 0 {
			current = ActionFlat
		} else {
			current = action
		}

		res.TotalReward += reward
		res.Steps++
		res.Final = state
	}
	return res, nil
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Bars   storage.BarStore
	Config Config
	Warmup int
}

// Runner loads bars from storage and runs episodes over them.
type Runner struct {
	bars   storage.BarStore
	cfg    Config
	warmup int
}

// NewRunner creates a simulation runner.
func NewRunner(opts RunnerOptions) *Runner {
	return &Runner{bars: opts.Bars, cfg: opts.Config, warmup: opts.Warmup}
}

// Run executes an episode for symbol over [from, to].
func (r *Runner) Run(ctx context.Context, symbol string, from, to time.Time, fn strategy.Func) (*EpisodeResult, error) {
	bars, err := r.bars.GetByTimeRange(ctx, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("load bars: %w", err)
	}
	return Episode(New(r.cfg), bars, fn, r.warmup)
}
