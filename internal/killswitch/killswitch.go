// Package killswitch halts trading when safety limits are breached and keeps
// it halted until an explicit reset.
package killswitch

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrResetRejected is returned by Reset when the switch may not be re-armed yet.
var ErrResetRejected = errors.New("kill switch reset rejected: auto-recovery not due and no override")

// Reason identifies why the switch tripped.
type Reason string

// Reason constants.
const (
	ReasonMaxDrawdown          Reason = "max_drawdown_exceeded"
	ReasonMaxDailyLoss         Reason = "max_daily_loss_exceeded"
	ReasonRapidLosses          Reason = "rapid_consecutive_losses"
	ReasonExchangeError        Reason = "critical_exchange_error"
	ReasonManualTrigger        Reason = "manual_trigger"
	ReasonHealthCheckFailed    Reason = "health_check_failed"
	ReasonReconciliationFailed Reason = "position_reconciliation_failed"
)

// Config holds the trip thresholds. Zero thresholds disable their check.
type Config struct {
	MaxDrawdownPercent   float64       `yaml:"max_drawdown_percent"`
	MaxDailyLossPercent  float64       `yaml:"max_daily_loss_percent"`
	MaxConsecutiveLosses int           `yaml:"max_consecutive_losses"`
	AutoRecovery         bool          `yaml:"auto_recovery"`
	RecoveryDelay        time.Duration `yaml:"recovery_delay"`
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MaxDrawdownPercent:   10,
		MaxDailyLossPercent:  5,
		MaxConsecutiveLosses: 5,
		AutoRecovery:         false,
		RecoveryDelay:        60 * time.Minute,
	}
}

// Callback is notified on the first trip. Errors are logged and do not stop
// the remaining callbacks.
type Callback func(ctx context.Context, reason Reason, data map[string]any) error

// Status is a point-in-time view of the switch.
type Status struct {
	Triggered         bool           `json:"triggered"`
	Reason            Reason         `json:"reason,omitempty"`
	TriggeredAt       *time.Time     `json:"triggered_at,omitempty"`
	Context           map[string]any `json:"context,omitempty"`
	ConsecutiveLosses int            `json:"consecutive_losses"`
	PeakEquity        float64        `json:"peak_equity"`
	CurrentEquity     float64        `json:"current_equity"`
	CanAutoRecover    bool           `json:"can_auto_recover"`
}

// Option configures a KillSwitch.
type Option func(*KillSwitch)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(k *KillSwitch) { k.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(k *KillSwitch) { k.logger = l }
}

// WithObserver registers a function called with the new status after every
// trip and reset. It runs on the caller's goroutine and must not block.
func WithObserver(fn func(Status)) Option {
	return func(k *KillSwitch) { k.observers = append(k.observers, fn) }
}

// KillSwitch is the process-wide trading gate. It is created once at startup,
// passed to every component that needs it, and reset in place.
//
// Callbacks registered for ReasonManualTrigger run on every trip, after the
// callbacks of the trip's own reason, and act as the catch-all notification list.
type KillSwitch struct {
	cfg       Config
	now       func() time.Time
	logger    logrus.FieldLogger
	observers []func(Status)

	cbMu      sync.RWMutex
	callbacks map[Reason][]Callback

	mu                sync.Mutex
	triggered         bool
	reason            Reason
	triggeredAt       time.Time
	data              map[string]any
	consecutiveLosses int
	peakEquity        float64
	currentEquity     float64
	pendingNotify     bool
}

// New creates an armed kill switch.
func New(cfg Config, opts ...Option) *KillSwitch {
	k := &KillSwitch{
		cfg:       cfg,
		now:       time.Now,
		callbacks: make(map[Reason][]Callback),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		k.logger = l
	}
	return k
}

// Config returns the configured limits.
func (k *KillSwitch) Config() Config {
	return k.cfg
}

// RegisterCallback adds a callback for reason.
func (k *KillSwitch) RegisterCallback(reason Reason, cb Callback) {
	k.cbMu.Lock()
	defer k.cbMu.Unlock()
	k.callbacks[reason] = append(k.callbacks[reason], cb)
}

// IsTriggered reports whether trading is halted.
func (k *KillSwitch) IsTriggered() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.triggered
}

// CheckConditions updates equity tracking and trips on drawdown or daily loss.
//   - peak = max(peak, currentEquity)
//   - drawdown% = (peak - current) / peak * 100, trips MAX_DRAWDOWN at >= limit
//   - daily% = dailyPnL / initialEquity * 100, trips MAX_DAILY_LOSS when negative
//     and its magnitude >= limit
//
// It returns whether trading may continue. Callbacks owed by an earlier
// synchronous trip are delivered here.
func (k *KillSwitch) CheckConditions(ctx context.Context, currentEquity, initialEquity, dailyPnL float64) bool {
	k.deliverPending(ctx)

	k.mu.Lock()
	k.currentEquity = currentEquity
	if currentEquity > k.peakEquity {
		k.peakEquity = currentEquity
	}
	peak := k.peakEquity
	k.mu.Unlock()

	if peak > 0 && k.cfg.MaxDrawdownPercent > 0 {
		ddPct := (peak - currentEquity) / peak * 100
		if ddPct >= k.cfg.MaxDrawdownPercent {
			k.Trigger(ctx, ReasonMaxDrawdown, map[string]any{
				"drawdown_percent":     ddPct,
				"max_drawdown_percent": k.cfg.MaxDrawdownPercent,
				"peak_equity":          peak,
				"current_equity":       currentEquity,
			})
			return false
		}
	}

	if initialEquity > 0 && k.cfg.MaxDailyLossPercent > 0 {
		dailyPct := dailyPnL / initialEquity * 100
		if dailyPnL < 0 && math.Abs(dailyPct) >= k.cfg.MaxDailyLossPercent {
			k.Trigger(ctx, ReasonMaxDailyLoss, map[string]any{
				"daily_loss_percent":     math.Abs(dailyPct),
				"max_daily_loss_percent": k.cfg.MaxDailyLossPercent,
				"daily_pnl":              dailyPnL,
				"initial_equity":         initialEquity,
			})
			return false
		}
	}

	return !k.IsTriggered()
}

// RecordTradeResult feeds a closed trade's pnl into the loss streak.
// A negative pnl extends the streak, anything else resets it. Reaching the
// limit trips RAPID_LOSSES before returning. This path never blocks: callbacks
// for the trip are deferred to the next CheckConditions or Trigger call.
func (k *KillSwitch) RecordTradeResult(pnl float64) {
	k.mu.Lock()
	if pnl >= 0 {
		k.consecutiveLosses = 0
		k.mu.Unlock()
		return
	}

	k.consecutiveLosses++
	streak := k.consecutiveLosses
	limit := k.cfg.MaxConsecutiveLosses
	if limit <= 0 || streak < limit {
		k.mu.Unlock()
		k.logger.WithFields(logrus.Fields{
			"consecutive_losses": streak,
			"max":                limit,
			"pnl":                pnl,
		}).Debug("losing trade recorded")
		return
	}

	tripped := k.tripLocked(ReasonRapidLosses, map[string]any{
		"consecutive_losses":     streak,
		"max_consecutive_losses": limit,
		"last_loss":              pnl,
	})
	if tripped {
		k.pendingNotify = true
	}
	status := k.statusLocked()
	k.mu.Unlock()

	if tripped {
		k.logTrip(status)
		k.notifyObservers(status)
	}
}

// Trigger trips the switch and runs the callbacks. Triggering an already
// tripped switch is a logged no-op that keeps the first reason and context.
func (k *KillSwitch) Trigger(ctx context.Context, reason Reason, data map[string]any) {
	k.deliverPending(ctx)

	k.mu.Lock()
	tripped := k.tripLocked(reason, data)
	status := k.statusLocked()
	k.mu.Unlock()

	if !tripped {
		k.logger.WithFields(logrus.Fields{
			"reason":          reason,
			"existing_reason": status.Reason,
		}).Warn("kill switch already triggered")
		return
	}

	k.logTrip(status)
	k.notifyObservers(status)
	k.runCallbacks(ctx, reason, copyData(data))
}

// ManualTrigger trips the switch on operator request.
func (k *KillSwitch) ManualTrigger(ctx context.Context, note string) {
	k.Trigger(ctx, ReasonManualTrigger, map[string]any{"reason": note})
}

// CanAutoRecover is true when auto-recovery is enabled, the switch is
// tripped and the recovery delay has elapsed since the trip.
func (k *KillSwitch) CanAutoRecover() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.canAutoRecoverLocked()
}

// Reset re-arms the switch. Without override it is rejected unless
// auto-recovery is due. Reset clears the reason, trip time, context and loss
// streak; peak equity is kept.
func (k *KillSwitch) Reset(override bool) error {
	k.mu.Lock()
	if !override && !k.canAutoRecoverLocked() {
		k.mu.Unlock()
		k.logger.WithField("reason", k.reason).Warn("kill switch reset rejected")
		return ErrResetRejected
	}

	prev := k.reason
	k.triggered = false
	k.reason = ""
	k.triggeredAt = time.Time{}
	k.data = nil
	k.consecutiveLosses = 0
	k.pendingNotify = false
	status := k.statusLocked()
	k.mu.Unlock()

	k.logger.WithFields(logrus.Fields{
		"previous_reason": prev,
		"override":        override,
	}).Warn("kill switch reset")
	k.notifyObservers(status)
	return nil
}

// Status returns the current state.
func (k *KillSwitch) Status() Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.statusLocked()
}

// Restore loads previously persisted state, e.g. after a restart.
// Callbacks are not re-run for a restored trip.
func (k *KillSwitch) Restore(s Status) {
	k.mu.Lock()
	k.triggered = s.Triggered
	k.reason = s.Reason
	k.triggeredAt = time.Time{}
	if s.TriggeredAt != nil {
		k.triggeredAt = *s.TriggeredAt
	}
	k.data = copyData(s.Context)
	k.consecutiveLosses = s.ConsecutiveLosses
	k.peakEquity = s.PeakEquity
	k.currentEquity = s.CurrentEquity
	status := k.statusLocked()
	k.mu.Unlock()

	if status.Triggered {
		k.logger.WithField("reason", status.Reason).Warn("restored tripped kill switch")
	}
	k.notifyObservers(status)
}

func (k *KillSwitch) tripLocked(reason Reason, data map[string]any) bool {
	if k.triggered {
		return false
	}
	k.triggered = true
	k.reason = reason
	k.triggeredAt = k.now()
	k.data = copyData(data)
	return true
}

func (k *KillSwitch) canAutoRecoverLocked() bool {
	if !k.cfg.AutoRecovery || !k.triggered {
		return false
	}
	return k.now().Sub(k.triggeredAt) >= k.cfg.RecoveryDelay
}

func (k *KillSwitch) statusLocked() Status {
	s := Status{
		Triggered:         k.triggered,
		Reason:            k.reason,
		Context:           copyData(k.data),
		ConsecutiveLosses: k.consecutiveLosses,
		PeakEquity:        k.peakEquity,
		CurrentEquity:     k.currentEquity,
		CanAutoRecover:    k.canAutoRecoverLocked(),
	}
	if k.triggered {
		at := k.triggeredAt
		s.TriggeredAt = &at
	}
	return s
}

// deliverPending runs callbacks owed by a synchronous trip.
func (k *KillSwitch) deliverPending(ctx context.Context) {
	k.mu.Lock()
	if !k.pendingNotify || !k.triggered {
		k.pendingNotify = false
		k.mu.Unlock()
		return
	}
	k.pendingNotify = false
	reason := k.reason
	data := copyData(k.data)
	k.mu.Unlock()

	k.runCallbacks(ctx, reason, data)
}

// runCallbacks runs reason-specific callbacks, then the catch-all list.
func (k *KillSwitch) runCallbacks(ctx context.Context, reason Reason, data map[string]any) {
	k.cbMu.RLock()
	cbs := append([]Callback(nil), k.callbacks[reason]...)
	if reason != ReasonManualTrigger {
		cbs = append(cbs, k.callbacks[ReasonManualTrigger]...)
	}
	k.cbMu.RUnlock()

	for i, cb := range cbs {
		if err := safeCall(ctx, cb, reason, data); err != nil {
			k.logger.WithFields(logrus.Fields{
				"reason":   reason,
				"callback": i,
			}).WithError(err).Error("kill switch callback failed")
		}
	}
}

func (k *KillSwitch) logTrip(s Status) {
	fields := logrus.Fields{"reason": s.Reason}
	for key, v := range s.Context {
		fields[key] = v
	}
	k.logger.WithFields(fields).Error("KILL SWITCH TRIGGERED - trading halted")
}

func (k *KillSwitch) notifyObservers(s Status) {
	for _, fn := range k.observers {
		fn(s)
	}
}

func copyData(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, v := range in {
		out[key] = v
	}
	return out
}
