// Package trader runs the live control loop.
// One cycle: shutdown check → market data → protective stops → signal →
// validate → size → kill switch → order → reconcile → persist.
package trader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/idhash"
	"futures-risk-lab/internal/killswitch"
	"futures-risk-lab/internal/logging"
	"futures-risk-lab/internal/observability"
	"futures-risk-lab/internal/reconcile"
	"futures-risk-lab/internal/resilience"
	"futures-risk-lab/internal/sizing"
	"futures-risk-lab/internal/stops"
	"futures-risk-lab/internal/storage"
	"futures-risk-lab/internal/strategy"
	"futures-risk-lab/internal/venue"
)

// ErrInvalidConfig is returned by New for unusable settings.
var ErrInvalidConfig = errors.New("invalid trader config")

// Config holds the trading parameters. Percent fields are percent units.
type Config struct {
	SessionID           string
	Symbol              string
	StrategyName        string
	Leverage            float64
	PositionSizePercent float64
	MaxPositionValue    float64
	StopLossPercent     float64
	TakeProfitPercent   float64
	ConfidenceThreshold float64
	MaxDailyLossPercent float64
	// MaxOpenPositions caps concurrent positions; <= 0 uses the sizing default.
	MaxOpenPositions int
	LotStep          float64
	BarLimit         int
	CycleInterval    time.Duration
	// FlattenOnTrip closes every open position once the kill switch trips.
	FlattenOnTrip bool
}

func (c Config) validate() error {
	switch {
	case c.Symbol == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidConfig)
	case c.Leverage < 1:
		return fmt.Errorf("%w: leverage %v below 1", ErrInvalidConfig, c.Leverage)
	case c.PositionSizePercent <= 0:
		return fmt.Errorf("%w: position size percent must be positive", ErrInvalidConfig)
	case c.StopLossPercent <= 0 || c.TakeProfitPercent <= 0:
		return fmt.Errorf("%w: stop and target percents must be positive", ErrInvalidConfig)
	}
	return nil
}

// Options wires the trader's collaborators. Venue, Bars, Strategy and
// KillSwitch are required; everything else is optional.
type Options struct {
	Venue      venue.Venue
	Bars       venue.BarSource
	Strategy   strategy.Func
	KillSwitch *killswitch.KillSwitch

	Reconciler *reconcile.Reconciler
	Stops      *stops.StructureManager
	Health     *resilience.HealthRegistry
	Shutdown   *resilience.Shutdown

	TradeStore    storage.TradeStore
	AuditStore    storage.AuditStore
	SnapshotStore storage.PositionSnapshotStore

	Metrics *observability.Metrics
	Logger  logrus.FieldLogger
	Clock   func() time.Time

	// OnCycle is called with the status after every cycle.
	OnCycle func(Status)
}

type openTrade struct {
	trade *domain.Trade
	stop  *stops.Position
}

// Trader owns the live session state. Cycles are serialized.
type Trader struct {
	cfg  Config
	opts Options
	log  logrus.FieldLogger
	now  func() time.Time

	daily *sizing.DailyTracker

	cycleMu sync.Mutex // one cycle at a time

	mu            sync.Mutex
	open          map[string]*openTrade
	seq           int
	initialEquity float64
	cycles        int
	last          *CycleReport
	lastPrice     float64
	lastBalance   float64
	lastEquity    float64
}

// New creates a Trader.
func New(cfg Config, opts Options) (*Trader, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if opts.Venue == nil || opts.Bars == nil || opts.Strategy == nil || opts.KillSwitch == nil {
		return nil, fmt.Errorf("%w: venue, bars, strategy and kill switch are required", ErrInvalidConfig)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.BarLimit <= 0 {
		cfg.BarLimit = 200
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = time.Minute
	}
	if cfg.MaxDailyLossPercent <= 0 {
		cfg.MaxDailyLossPercent = opts.KillSwitch.Config().MaxDailyLossPercent
	}
	if opts.Reconciler == nil {
		opts.Reconciler = reconcile.New(reconcile.DefaultTolerancePercent, opts.Logger)
	}
	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	t := &Trader{
		cfg:   cfg,
		opts:  opts,
		log:   logging.OrDiscard(opts.Logger).WithField("session", cfg.SessionID),
		now:   now,
		daily: sizing.NewDailyTracker(now()),
		open:  make(map[string]*openTrade),
	}

	// Catch-all: every trip is audited.
	opts.KillSwitch.RegisterCallback(killswitch.ReasonManualTrigger, t.auditTrip)
	return t, nil
}

// SessionID identifies the trades of this session.
func (t *Trader) SessionID() string {
	return t.cfg.SessionID
}

// Run cycles every CycleInterval until ctx is done or shutdown is requested,
// then runs the registered cleanup tasks.
func (t *Trader) Run(ctx context.Context) error {
	t.log.WithFields(logrus.Fields{
		"symbol":   t.cfg.Symbol,
		"strategy": t.cfg.StrategyName,
		"interval": t.cfg.CycleInterval.String(),
		"leverage": t.cfg.Leverage,
	}).Info("trader started")

	ticker := time.NewTicker(t.cfg.CycleInterval)
	defer ticker.Stop()

	var shutdownDone <-chan struct{}
	if t.opts.Shutdown != nil {
		shutdownDone = t.opts.Shutdown.Done()
	}

	for {
		rep, err := t.Cycle(ctx)
		if err != nil {
			t.log.WithError(err).Error("trading cycle failed")
		}
		if rep != nil && rep.Action == ActionShutdown {
			break
		}

		select {
		case <-ctx.Done():
			if t.opts.Shutdown != nil {
				t.opts.Shutdown.Request()
			}
		case <-shutdownDone:
		case <-ticker.C:
			continue
		}
		break
	}

	t.log.Info("trader stopping")
	if t.opts.Shutdown == nil {
		return nil
	}
	// Cleanup gets its own deadline: ctx is usually already cancelled here.
	cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return t.opts.Shutdown.ExecuteCleanup(cctx)
}

// Cycle runs one trading cycle. A returned error means a step failed; the
// report still describes what was done before it.
func (t *Trader) Cycle(ctx context.Context) (*CycleReport, error) {
	t.cycleMu.Lock()
	defer t.cycleMu.Unlock()

	started := t.now()
	rep := &CycleReport{Time: started, Symbol: t.cfg.Symbol}
	defer func() {
		if t.opts.Metrics != nil {
			t.opts.Metrics.CycleDuration.Observe(t.now().Sub(started).Seconds())
		}
		t.finish(rep)
	}()

	if t.opts.Shutdown != nil && t.opts.Shutdown.Requested() {
		rep.Action = ActionShutdown
		rep.Reason = "Shutdown requested"
		return rep, nil
	}

	t.tryAutoRecover(ctx)
	t.checkHealth(ctx)

	// Market data.
	price, err := t.opts.Venue.Price(ctx, t.cfg.Symbol)
	if err != nil {
		return rep, t.stepError(ctx, rep, "price", err)
	}
	bars, err := t.opts.Bars.Bars(ctx, t.cfg.Symbol, t.cfg.BarLimit)
	if err != nil {
		return rep, t.stepError(ctx, rep, "bars", err)
	}
	rep.Price = price

	// Protective stops on what we already hold.
	if err := t.manageOpen(ctx, rep, price, bars); err != nil {
		return rep, t.stepError(ctx, rep, "stops", err)
	}

	balance, err := t.opts.Venue.Balance(ctx)
	if err != nil {
		return rep, t.stepError(ctx, rep, "balance", err)
	}
	rep.Balance = balance
	unrealized := t.unrealized(price)
	rep.Equity = balance + unrealized
	rep.DailyPnL = t.daily.PnL(started) + unrealized

	t.mu.Lock()
	if t.initialEquity == 0 {
		t.initialEquity = rep.Equity
	}
	initialEquity := t.initialEquity
	openCount := len(t.open)
	t.mu.Unlock()

	// Signal, validation and sizing.
	rep.Signal = t.opts.Strategy(bars)
	req, decision := t.plan(rep.Signal, price, balance, openCount, rep.DailyPnL, bars)
	rep.Reason = decision

	// Kill switch runs every cycle so peak equity keeps tracking.
	rep.TradingAllowed = t.opts.KillSwitch.CheckConditions(ctx, rep.Equity, initialEquity, rep.DailyPnL)

	switch {
	case !rep.TradingAllowed:
		rep.Action = ActionHalted
		rep.Reason = fmt.Sprintf("Kill switch active: %s", t.opts.KillSwitch.Status().Reason)
		if t.cfg.FlattenOnTrip {
			if err := t.flatten(ctx, rep); err != nil {
				return rep, t.stepError(ctx, rep, "flatten", err)
			}
		}
	case req == nil:
		rep.Action = ActionSkipped
	default:
		if err := t.openPosition(ctx, rep, *req, bars); err != nil {
			return rep, t.stepError(ctx, rep, "order", err)
		}
		rep.Action = ActionOpened
	}

	if err := t.reconcile(ctx, rep); err != nil {
		return rep, t.stepError(ctx, rep, "reconcile", err)
	}
	return rep, nil
}

// plan turns a signal into an order request. A nil request carries the
// reason nothing is traded.
func (t *Trader) plan(sig domain.Signal, price, balance float64, openCount int, dailyPnL float64, bars []domain.Bar) (*venue.OrderRequest, string) {
	if sig.IsDirectional() && sig.Confidence < t.cfg.ConfidenceThreshold {
		return nil, fmt.Sprintf("Confidence %.2f below threshold %.2f", sig.Confidence, t.cfg.ConfidenceThreshold)
	}

	d := sizing.ValidateTrade(sig, balance, openCount, dailyPnL, sizing.Thresholds{
		MaxDailyLossPercent: t.cfg.MaxDailyLossPercent,
		MaxOpenPositions:    t.cfg.MaxOpenPositions,
	})
	if !d.Allowed {
		return nil, d.Reason
	}

	side, _ := sig.Side()
	t.mu.Lock()
	_, holding := t.open[t.cfg.Symbol]
	t.mu.Unlock()
	if holding {
		return nil, fmt.Sprintf("Position already open on %s", t.cfg.Symbol)
	}

	qty, err := sizing.PositionSize(balance, price, t.cfg.Leverage, sig.Confidence, t.cfg.PositionSizePercent, t.cfg.MaxPositionValue)
	if err != nil {
		return nil, err.Error()
	}
	qty = sizing.RoundToStep(qty, t.cfg.LotStep)
	if qty <= 0 {
		return nil, "Quantity below lot step"
	}

	return &venue.OrderRequest{
		Symbol:     t.cfg.Symbol,
		Side:       side,
		Quantity:   qty,
		Leverage:   t.cfg.Leverage,
		StopLoss:   t.initialStop(price, side, bars),
		TakeProfit: sizing.TargetPrice(price, side, t.cfg.TakeProfitPercent),
	}, d.Reason
}

// initialStop places the stop beyond the latest opposing swing when
// structure stops are enabled. Without them, or with no swing on the losing
// side of price, it sits StopLossPercent away.
func (t *Trader) initialStop(price float64, side domain.Side, bars []domain.Bar) float64 {
	if t.opts.Stops != nil {
		if swing, ok := stops.LatestSwing(bars, side, price); ok {
			return t.opts.Stops.InitialStop(price, side, &swing)
		}
	}
	return sizing.StopPrice(price, side, t.cfg.StopLossPercent)
}

func (t *Trader) openPosition(ctx context.Context, rep *CycleReport, req venue.OrderRequest, bars []domain.Bar) error {
	order, err := t.opts.Venue.PlaceOrder(ctx, req)
	if err != nil {
		return err
	}

	// Levels follow the actual fill.
	stop := t.initialStop(order.Price, req.Side, bars)
	target := sizing.TargetPrice(order.Price, req.Side, t.cfg.TakeProfitPercent)

	t.mu.Lock()
	t.seq++
	tr := &domain.Trade{
		TradeID:          idhash.ComputeTradeID(t.cfg.SessionID, req.Symbol, string(req.Side), order.CreatedAt.UnixMilli(), t.seq),
		RunID:            t.cfg.SessionID,
		Symbol:           req.Symbol,
		Side:             req.Side,
		Leverage:         req.Leverage,
		EntryTime:        order.CreatedAt,
		EntryPrice:       order.Price,
		Quantity:         order.Quantity,
		StopLoss:         stop,
		TakeProfit:       target,
		Fees:             order.Fee,
		Status:           domain.TradeStatusOpen,
		Strategy:         t.cfg.StrategyName,
		SignalConfidence: rep.Signal.Confidence,
		SignalReason:     rep.Signal.Reason,
	}
	t.open[req.Symbol] = &openTrade{trade: tr, stop: stops.NewPosition(req.Side, order.Price, stop)}
	t.mu.Unlock()

	rep.Opened = copyTrade(tr)
	t.log.WithFields(logrus.Fields{
		"order_id":    order.ID,
		"side":        req.Side,
		"quantity":    order.Quantity,
		"price":       order.Price,
		"stop_loss":   stop,
		"take_profit": target,
		"confidence":  rep.Signal.Confidence,
	}).Info("position opened")

	t.audit(ctx, "trade_open", domain.SeverityInfo, fmt.Sprintf("Opened %s %s", req.Side, req.Symbol), map[string]any{
		"order_id": order.ID,
		"quantity": order.Quantity,
		"price":    order.Price,
		"reason":   rep.Signal.Reason,
	})
	return nil
}

// manageOpen closes positions whose stop or target was hit and moves the
// remaining stops.
func (t *Trader) manageOpen(ctx context.Context, rep *CycleReport, price float64, bars []domain.Bar) error {
	for _, ot := range t.snapshotOpen() {
		if ot.trade.Symbol != t.cfg.Symbol {
			continue
		}
		pos := t.localPosition(ot, price)
		if check := sizing.ShouldClose(pos, price); check.Close {
			if err := t.closeTrade(ctx, rep, ot, check.Status, check.Reason); err != nil {
				return err
			}
			continue
		}

		if t.opts.Stops == nil {
			continue
		}
		t.mu.Lock()
		d := t.opts.Stops.Manage(ot.stop, bars, price)
		if d.Action != stops.ActionKeepCurrent {
			ot.trade.StopLoss = d.NewStop
		}
		t.mu.Unlock()
		if d.Action == stops.ActionKeepCurrent {
			continue
		}
		rep.StopMoves = append(rep.StopMoves, d)
		t.audit(ctx, "stop_moved", domain.SeverityInfo, d.Reason, map[string]any{
			"symbol":        ot.trade.Symbol,
			"action":        string(d.Action),
			"previous_stop": d.PreviousStop,
			"new_stop":      d.NewStop,
		})
	}
	return nil
}

func (t *Trader) flatten(ctx context.Context, rep *CycleReport) error {
	for _, ot := range t.snapshotOpen() {
		if err := t.closeTrade(ctx, rep, ot, domain.TradeStatusClosed, "Kill switch flatten"); err != nil {
			return err
		}
	}
	return nil
}

// closeTrade flattens at the venue and feeds the result back into the kill
// switch and the daily tracker.
func (t *Trader) closeTrade(ctx context.Context, rep *CycleReport, ot *openTrade, status domain.TradeStatus, reason string) error {
	order, err := t.opts.Venue.ClosePosition(ctx, ot.trade.Symbol)
	if err != nil {
		return err
	}

	t.mu.Lock()
	closeErr := ot.trade.Close(order.Price, order.CreatedAt, order.Fee, status)
	delete(t.open, ot.trade.Symbol)
	closed := copyTrade(ot.trade)
	t.mu.Unlock()
	if closeErr != nil {
		return closeErr
	}

	pnl := closed.RealizedPnL()
	t.opts.KillSwitch.RecordTradeResult(pnl)
	t.daily.Update(pnl, t.now())
	rep.Closed = append(rep.Closed, closed)

	t.log.WithFields(logrus.Fields{
		"symbol": closed.Symbol,
		"status": closed.Status,
		"exit":   order.Price,
		"pnl":    pnl,
	}).Info(reason)

	if t.opts.Metrics != nil {
		t.opts.Metrics.ObserveTrade(closed)
	}
	if t.opts.TradeStore != nil {
		if err := t.opts.TradeStore.Insert(ctx, closed); err != nil {
			t.log.WithError(err).WithField("trade_id", closed.TradeID).Error("persist trade failed")
		}
	}
	t.audit(ctx, "trade_close", domain.SeverityInfo, reason, map[string]any{
		"trade_id": closed.TradeID,
		"status":   string(closed.Status),
		"pnl":      pnl,
	})
	return nil
}

// reconcile compares local and venue positions and trips the kill switch on
// a mismatch.
func (t *Trader) reconcile(ctx context.Context, rep *CycleReport) error {
	venuePositions, err := t.opts.Venue.Positions(ctx)
	if err != nil {
		return err
	}

	local := t.LocalPositions(rep.Price)
	res := t.opts.Reconciler.Reconcile(local, venuePositions)
	rep.Reconciliation = &res

	if t.opts.Metrics != nil {
		t.opts.Metrics.ObserveReconciliation(res)
		t.opts.Metrics.OpenPositions.Set(float64(len(local)))
	}
	if !res.Healthy {
		t.audit(ctx, "reconciliation", domain.SeverityCritical, "Position reconciliation failed", res.Context())
		t.opts.KillSwitch.Trigger(ctx, killswitch.ReasonReconciliationFailed, res.Context())
	}

	t.persistSnapshots(ctx, local, venuePositions)
	return nil
}

func (t *Trader) persistSnapshots(ctx context.Context, local, remote []domain.Position) {
	if t.opts.SnapshotStore == nil {
		return
	}
	now := t.now()
	snaps := make([]*domain.PositionSnapshot, 0, len(local)+len(remote))
	for _, group := range []struct {
		source    string
		positions []domain.Position
	}{{"local", local}, {"venue", remote}} {
		for _, p := range group.positions {
			snaps = append(snaps, &domain.PositionSnapshot{
				SnapshotID: uuid.NewString(),
				TakenAt:    now,
				Source:     group.source,
				Position:   p,
			})
		}
	}
	if len(snaps) == 0 {
		return
	}
	if err := t.opts.SnapshotStore.InsertBulk(ctx, snaps); err != nil {
		t.log.WithError(err).Error("persist position snapshots failed")
	}
}

// checkHealth trips the kill switch when a critical component is down.
func (t *Trader) checkHealth(ctx context.Context) {
	if t.opts.Health == nil {
		return
	}
	report := t.opts.Health.CheckAll(ctx)
	if report.OverallHealthy {
		return
	}
	failed := make([]string, 0)
	for name, c := range report.Components {
		if c.Critical && !c.Healthy {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	t.opts.KillSwitch.Trigger(ctx, killswitch.ReasonHealthCheckFailed, map[string]any{"components": failed})
}

func (t *Trader) tryAutoRecover(ctx context.Context) {
	ks := t.opts.KillSwitch
	if !ks.IsTriggered() || !ks.CanAutoRecover() {
		return
	}
	if err := ks.Reset(false); err != nil {
		return
	}
	t.log.Warn("kill switch auto-recovered")
	t.audit(ctx, "kill_switch_reset", domain.SeverityWarning, "Kill switch auto-recovered", nil)
}

// stepError records a failed step. An open breaker means the venue is gone,
// which halts trading.
func (t *Trader) stepError(ctx context.Context, rep *CycleReport, step string, err error) error {
	rep.Action = ActionError
	rep.Reason = fmt.Sprintf("%s: %v", step, err)
	if t.opts.Metrics != nil {
		t.opts.Metrics.CycleErrors.WithLabelValues(step).Inc()
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		t.opts.KillSwitch.Trigger(ctx, killswitch.ReasonExchangeError, map[string]any{
			"step":  step,
			"error": err.Error(),
		})
	}
	return fmt.Errorf("%s: %w", step, err)
}

func (t *Trader) auditTrip(ctx context.Context, reason killswitch.Reason, data map[string]any) error {
	if t.opts.AuditStore == nil {
		return nil
	}
	meta := make(map[string]any, len(data)+1)
	for k, v := range data {
		meta[k] = v
	}
	meta["trip_reason"] = string(reason)
	return t.opts.AuditStore.Insert(ctx, &domain.AuditEvent{
		EventID:     uuid.NewString(),
		Timestamp:   t.now(),
		EventType:   "kill_switch_trip",
		Severity:    domain.SeverityCritical,
		Description: fmt.Sprintf("Kill switch triggered: %s", reason),
		Metadata:    meta,
	})
}

func (t *Trader) audit(ctx context.Context, eventType, severity, description string, meta map[string]any) {
	if t.opts.AuditStore == nil {
		return
	}
	err := t.opts.AuditStore.Insert(ctx, &domain.AuditEvent{
		EventID:     uuid.NewString(),
		Timestamp:   t.now(),
		EventType:   eventType,
		Severity:    severity,
		Description: description,
		Metadata:    meta,
	})
	if err != nil {
		t.log.WithError(err).WithField("event_type", eventType).Error("audit write failed")
	}
}

func (t *Trader) snapshotOpen() []*openTrade {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*openTrade, 0, len(t.open))
	for _, ot := range t.open {
		out = append(out, ot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].trade.Symbol < out[j].trade.Symbol })
	return out
}

func (t *Trader) localPosition(ot *openTrade, price float64) domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr := ot.trade
	return domain.Position{
		Symbol:        tr.Symbol,
		Side:          tr.Side,
		Quantity:      tr.Quantity,
		EntryPrice:    tr.EntryPrice,
		Leverage:      tr.Leverage,
		StopLoss:      tr.StopLoss,
		TakeProfit:    tr.TakeProfit,
		EntryTime:     tr.EntryTime,
		CurrentPrice:  price,
		UnrealizedPnL: tr.UnrealizedPnL(price),
	}
}

// LocalPositions returns the positions the trader believes it holds, marked
// at price, ordered by symbol.
func (t *Trader) LocalPositions(price float64) []domain.Position {
	open := t.snapshotOpen()
	out := make([]domain.Position, 0, len(open))
	for _, ot := range open {
		out = append(out, t.localPosition(ot, price))
	}
	return out
}

func (t *Trader) unrealized(price float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sum float64
	for _, ot := range t.open {
		sum += ot.trade.UnrealizedPnL(price)
	}
	return sum
}

func (t *Trader) finish(rep *CycleReport) {
	t.mu.Lock()
	t.cycles++
	t.last = rep
	if rep.Price > 0 {
		t.lastPrice = rep.Price
	}
	if rep.Balance > 0 {
		t.lastBalance = rep.Balance
		t.lastEquity = rep.Equity
	}
	t.mu.Unlock()

	if rep.Action != ActionShutdown {
		t.log.WithFields(logrus.Fields{
			"action":  rep.Action,
			"reason":  rep.Reason,
			"price":   rep.Price,
			"equity":  rep.Equity,
			"signal":  rep.Signal.Type,
			"opened":  rep.Opened != nil,
			"closed":  len(rep.Closed),
			"allowed": rep.TradingAllowed,
		}).Info("trading cycle completed")
	}
	if t.opts.OnCycle != nil {
		t.opts.OnCycle(t.Status())
	}
}

func copyTrade(tr *domain.Trade) *domain.Trade {
	cp := *tr
	return &cp
}
