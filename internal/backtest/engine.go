// Package backtest replays bars through a strategy with leveraged trades,
// fees, slippage and intrabar stop/target exits.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/idhash"
	"futures-risk-lab/internal/killswitch"
	"futures-risk-lab/internal/metrics"
	"futures-risk-lab/internal/sizing"
	"futures-risk-lab/internal/stops"
	"futures-risk-lab/internal/strategy"
)

// ErrNoData is returned when there are not more bars than the warm-up.
var ErrNoData = errors.New("not enough bars for backtest")

// Result holds a finished run.
type Result struct {
	RunID        string
	Trades       []*domain.Trade        // in entry order
	Equity       []*domain.EquitySample // one per simulated bar
	Metrics      domain.PerformanceMetrics
	FinalCapital float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithKillSwitch gates new entries on the kill switch. Closed trades feed its
// loss streak and each bar's equity and daily pnl are checked before entries.
func WithKillSwitch(ks *killswitch.KillSwitch) Option {
	return func(e *Engine) { e.ks = ks }
}

// WithStrategyName labels trades and the run ID.
func WithStrategyName(name string) Option {
	return func(e *Engine) { e.strategyName = name }
}

type openTrade struct {
	trade *domain.Trade
	mgr   *stops.RatioManager // nil for fixed stops
}

// Engine runs one backtest at a time. It is single-threaded and
// deterministic: the same bars, strategy and config give the same result.
type Engine struct {
	cfg          Config
	strategy     strategy.Func
	strategyName string
	logger       logrus.FieldLogger
	ks           *killswitch.KillSwitch

	runID   string
	capital float64
	open    []*openTrade
	trades  []*domain.Trade
	equity  []*domain.EquitySample
	daily   *sizing.DailyTracker
	seq     int
}

// NewEngine creates an engine.
func NewEngine(cfg Config, fn strategy.Func, opts ...Option) (*Engine, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil strategy", ErrInvalidConfig)
	}
	if cfg.StopPolicy == "" {
		cfg.StopPolicy = StopFixed
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, strategy: fn, strategyName: "custom"}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		e.logger = l
	}
	return e, nil
}

// Config returns the engine settings.
func (e *Engine) Config() Config {
	return e.cfg
}

// Run simulates bars, which must be in time order. For every bar after the
// warm-up:
//  1. the strategy sees the trailing window of warm-up+1 bars
//  2. open trades exit at their stop or target if the bar's range crosses it
//  3. a new trade opens at the close when below the position cap and the
//     signal is directional with enough confidence
//  4. one equity sample is recorded
//
// Trades still open after the last bar are closed at its close as backtest_end.
func (e *Engine) Run(ctx context.Context, bars []domain.Bar) (*Result, error) {
	if len(bars) <= e.cfg.Warmup {
		return nil, fmt.Errorf("%w: have %d, need more than %d", ErrNoData, len(bars), e.cfg.Warmup)
	}
	if !sort.SliceIsSorted(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) }) {
		return nil, fmt.Errorf("%w: bars not in time order", ErrInvalidConfig)
	}

	e.reset(bars)
	e.logger.WithFields(logrus.Fields{
		"run_id":   e.runID,
		"bars":     len(bars),
		"capital":  e.cfg.InitialCapital,
		"fee_rate": e.cfg.FeeRate,
		"slippage": e.cfg.Slippage,
	}).Info("backtest started")

	for i := e.cfg.Warmup; i < len(bars); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bar := bars[i]
		window := bars[i-e.cfg.Warmup : i+1]

		signal := e.strategy(window)
		e.updatePositions(bar)

		if len(e.open) < e.cfg.MaxPositions && signal.IsDirectional() && signal.Confidence >= e.cfg.MinConfidence {
			if e.entriesAllowed(ctx, bar) {
				if err := e.openPosition(bar, signal); err != nil {
					return nil, err
				}
			}
		}

		e.recordEquity(bar)
	}

	last := bars[len(bars)-1]
	for len(e.open) > 0 {
		e.closePosition(e.open[0], last, last.Close, domain.TradeStatusBacktestEnd)
	}

	m := metrics.Compute(e.trades, e.equity, e.cfg.InitialCapital, e.capital)
	m.RunID = e.runID
	m.Strategy = e.strategyName
	m.Symbol = e.cfg.Symbol
	m.StartTime = bars[e.cfg.Warmup].Timestamp
	m.EndTime = last.Timestamp

	e.logger.WithFields(logrus.Fields{
		"run_id":   e.runID,
		"trades":   m.TotalTrades,
		"win_rate": m.WinRate,
		"net_pnl":  m.NetPnL,
	}).Info("backtest completed")

	return &Result{
		RunID:        e.runID,
		Trades:       e.trades,
		Equity:       e.equity,
		Metrics:      m,
		FinalCapital: e.capital,
	}, nil
}

func (e *Engine) reset(bars []domain.Bar) {
	e.capital = e.cfg.InitialCapital
	e.open = nil
	e.trades = nil
	e.equity = make([]*domain.EquitySample, 0, len(bars)-e.cfg.Warmup)
	e.daily = sizing.NewDailyTracker(bars[0].Timestamp)
	e.seq = 0
	e.runID = idhash.ComputeRunID(
		e.strategyName, e.cfg.Symbol,
		bars[0].Timestamp.UnixMilli(), bars[len(bars)-1].Timestamp.UnixMilli(),
		len(bars), e.cfg.params(),
	)
}

// entriesAllowed consults the kill switch when one is attached.
func (e *Engine) entriesAllowed(ctx context.Context, bar domain.Bar) bool {
	if e.ks == nil {
		return true
	}
	return e.ks.CheckConditions(ctx, e.currentEquity(bar.Close), e.cfg.InitialCapital, e.daily.PnL(bar.Timestamp))
}

// updatePositions exits trades whose stop or target the bar crossed. The
// stop is checked first. Trailing stops advance after the exit check so a
// bar never exits on a level it set itself.
func (e *Engine) updatePositions(bar domain.Bar) {
	var keep []*openTrade
	for _, ot := range e.open {
		if price, status, hit := e.exitLevel(ot, bar); hit {
			e.finish(ot, bar, price, status)
			continue
		}
		if ot.mgr != nil {
			ot.mgr.Observe(bar.High, bar.Low)
			ot.trade.StopLoss = ot.mgr.Stop()
		}
		keep = append(keep, ot)
	}
	e.open = keep
}

func (e *Engine) exitLevel(ot *openTrade, bar domain.Bar) (float64, domain.TradeStatus, bool) {
	if ot.mgr != nil {
		return ot.mgr.Exit(bar.High, bar.Low)
	}
	t := ot.trade
	if t.Side == domain.SideShort {
		switch {
		case bar.High >= t.StopLoss:
			return t.StopLoss, domain.TradeStatusStopLoss, true
		case bar.Low <= t.TakeProfit:
			return t.TakeProfit, domain.TradeStatusTakeProfit, true
		}
		return 0, domain.TradeStatusOpen, false
	}
	switch {
	case bar.Low <= t.StopLoss:
		return t.StopLoss, domain.TradeStatusStopLoss, true
	case bar.High >= t.TakeProfit:
		return t.TakeProfit, domain.TradeStatusTakeProfit, true
	}
	return 0, domain.TradeStatusOpen, false
}

func (e *Engine) openPosition(bar domain.Bar, signal domain.Signal) error {
	side, _ := signal.Side()
	qty, err := sizing.PositionSize(e.capital, bar.Close, e.cfg.Leverage, signal.Confidence, e.cfg.PositionSizePercent, e.cfg.MaxPositionValue)
	if err != nil {
		return fmt.Errorf("size position at %s: %w", bar.Timestamp, err)
	}
	if qty <= 0 {
		return nil
	}

	entry := e.slip(bar.Close, side == domain.SideLong)
	e.seq++
	t := &domain.Trade{
		TradeID:          idhash.ComputeTradeID(e.runID, e.cfg.Symbol, string(side), bar.Timestamp.UnixMilli(), e.seq),
		RunID:            e.runID,
		Symbol:           e.cfg.Symbol,
		Side:             side,
		Leverage:         e.cfg.Leverage,
		EntryTime:        bar.Timestamp,
		EntryPrice:       entry,
		Quantity:         qty,
		StopLoss:         sizing.StopPrice(entry, side, e.cfg.StopLossPercent),
		TakeProfit:       sizing.TargetPrice(entry, side, e.cfg.TakeProfitPercent),
		Fees:             qty * entry * e.cfg.FeeRate,
		Status:           domain.TradeStatusOpen,
		Strategy:         e.strategyName,
		SignalConfidence: signal.Confidence,
		SignalReason:     signal.Reason,
	}

	ot := &openTrade{trade: t}
	if e.cfg.StopPolicy == StopTrailing {
		ot.mgr = stops.NewRatioManager(stops.RatioConfig{
			StopLoss:         e.cfg.StopLossPercent / 100,
			TakeProfit:       e.cfg.TakeProfitPercent / 100,
			BreakEvenTrigger: e.cfg.BreakEvenPercent / 100,
			TrailingStep:     e.cfg.TrailingPercent / 100,
		}, side, entry)
		t.StopLoss = ot.mgr.Stop()
		t.TakeProfit = ot.mgr.Target()
	}

	e.open = append(e.open, ot)
	e.trades = append(e.trades, t)

	e.logger.WithFields(logrus.Fields{
		"trade_id": t.TradeID,
		"side":     side,
		"quantity": qty,
		"entry":    entry,
	}).Debug("position opened")
	return nil
}

// finish closes a trade at level with exit slippage against the trade.
func (e *Engine) finish(ot *openTrade, bar domain.Bar, level float64, status domain.TradeStatus) {
	t := ot.trade
	exit := e.slip(level, t.Side == domain.SideShort)
	if err := t.Close(exit, bar.Timestamp, t.Quantity*exit*e.cfg.FeeRate, status); err != nil {
		e.logger.WithError(err).WithField("trade_id", t.TradeID).Error("close trade")
		return
	}
	pnl := t.RealizedPnL()
	e.capital += pnl
	e.daily.Update(pnl, bar.Timestamp)
	if e.ks != nil {
		e.ks.RecordTradeResult(pnl)
	}

	e.logger.WithFields(logrus.Fields{
		"trade_id": t.TradeID,
		"status":   status,
		"exit":     exit,
		"pnl":      pnl,
	}).Debug("position closed")
}

// closePosition closes one open trade and drops it from the open list.
func (e *Engine) closePosition(ot *openTrade, bar domain.Bar, level float64, status domain.TradeStatus) {
	e.finish(ot, bar, level, status)
	for i, o := range e.open {
		if o == ot {
			e.open = append(e.open[:i], e.open[i+1:]...)
			return
		}
	}
}

func (e *Engine) recordEquity(bar domain.Bar) {
	unrealized := e.unrealized(bar.Close)
	e.equity = append(e.equity, &domain.EquitySample{
		RunID:         e.runID,
		Timestamp:     bar.Timestamp,
		Equity:        e.capital + unrealized,
		RealizedPnL:   e.capital - e.cfg.InitialCapital,
		UnrealizedPnL: unrealized,
		OpenPositions: len(e.open),
	})
}

func (e *Engine) unrealized(price float64) float64 {
	sum := 0.0
	for _, ot := range e.open {
		sum += ot.trade.UnrealizedPnL(price)
	}
	return sum
}

func (e *Engine) currentEquity(price float64) float64 {
	return e.capital + e.unrealized(price)
}

// slip worsens price for the trader: buying pays up, selling receives less.
func (e *Engine) slip(price float64, buying bool) float64 {
	if buying {
		return price * (1 + e.cfg.Slippage)
	}
	return price * (1 - e.cfg.Slippage)
}
