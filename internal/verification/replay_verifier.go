package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"futures-risk-lab/internal/backtest"
	"futures-risk-lab/internal/storage"
)

var (
	// ErrRunNotFound is returned when no trades are stored for the run.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunMismatch is returned when the replay produces a different run ID,
	// i.e. the engine settings, strategy or bars differ from the stored run.
	ErrRunMismatch = errors.New("replay does not match stored run")
)

// ReplayVerifierOptions contains configuration for creating a ReplayVerifier.
type ReplayVerifierOptions struct {
	TradeStore storage.TradeStore
	BarStore   storage.BarStore
}

// ReplayVerifier re-runs a backtest over stored bars and compares the
// result with the stored trades.
type ReplayVerifier struct {
	tradeStore storage.TradeStore
	barStore   storage.BarStore
}

// NewReplayVerifier creates a new ReplayVerifier.
func NewReplayVerifier(opts ReplayVerifierOptions) *ReplayVerifier {
	return &ReplayVerifier{
		tradeStore: opts.TradeStore,
		barStore:   opts.BarStore,
	}
}

// VerifyRun replays runID with engine over the stored bars in [from, to].
// The engine must be configured as the original run was.
func (v *ReplayVerifier) VerifyRun(ctx context.Context, engine *backtest.Engine, runID string, from, to time.Time) (*VerificationReport, error) {
	// 1. Load stored trades
	stored, err := v.tradeStore.GetByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	// 2. Replay
	bars, err := v.barStore.GetByTimeRange(ctx, engine.Config().Symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("load bars: %w", err)
	}
	res, err := engine.Run(ctx, bars)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	if res.RunID != runID {
		return nil, fmt.Errorf("%w: stored %s, replayed %s", ErrRunMismatch, runID, res.RunID)
	}

	// 3. Compare trade by trade
	replayed := make(map[string]int, len(res.Trades))
	for i, t := range res.Trades {
		replayed[t.TradeID] = i
	}

	report := &VerificationReport{
		RunID:       runID,
		TotalTrades: len(stored),
		Results:     make([]VerificationResult, 0, len(stored)),
	}
	seen := make(map[string]struct{}, len(stored))
	for _, s := range stored {
		seen[s.TradeID] = struct{}{}
		result := VerificationResult{TradeID: s.TradeID, StoredPnL: s.RealizedPnL()}

		idx, ok := replayed[s.TradeID]
		if !ok {
			result.Divergences = []FieldDivergence{{Field: "TradeID", Expected: s.TradeID, Actual: nil}}
		} else {
			r := res.Trades[idx]
			result.ReplayedPnL = r.RealizedPnL()
			result.Divergences = CompareTrades(s, r)
		}
		result.Match = len(result.Divergences) == 0

		report.Results = append(report.Results, result)
		if result.Match {
			report.MatchedTrades++
		} else {
			report.DivergentTrades++
		}
	}
	for _, t := range res.Trades {
		if _, ok := seen[t.TradeID]; !ok {
			report.ExtraTrades++
		}
	}
	return report, nil
}
