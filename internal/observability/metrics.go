// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/killswitch"
	"futures-risk-lab/internal/reconcile"
	"futures-risk-lab/internal/resilience"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Kill switch metrics
	KillSwitchTriggered prometheus.Gauge
	KillSwitchTrips     *prometheus.CounterVec
	ConsecutiveLosses   prometheus.Gauge
	PeakEquity          prometheus.Gauge
	CurrentEquity       prometheus.Gauge
	DrawdownPercent     prometheus.Gauge

	// Resilience metrics
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	ComponentHealthy   *prometheus.GaugeVec

	// Trading metrics
	TradesClosed  *prometheus.CounterVec
	RealizedPnL   prometheus.Counter
	TradePnL      prometheus.Histogram
	OpenPositions prometheus.Gauge
	CycleDuration prometheus.Histogram
	CycleErrors   *prometheus.CounterVec

	// Reconciliation metrics
	ReconciliationRuns          *prometheus.CounterVec
	ReconciliationDiscrepancies prometheus.Gauge

	// Backtest metrics
	BacktestRuns     *prometheus.CounterVec
	BacktestDuration prometheus.Histogram
}

// NewMetrics creates a Metrics instance registered with reg.
// A nil reg registers with the default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "futures_risk_lab"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		KillSwitchTriggered: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "kill_switch",
			Name:      "triggered",
			Help:      "1 while the kill switch is tripped",
		}),
		KillSwitchTrips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kill_switch",
			Name:      "trips_total",
			Help:      "Total number of kill switch trips by reason",
		}, []string{"reason"}),
		ConsecutiveLosses: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "kill_switch",
			Name:      "consecutive_losses",
			Help:      "Current losing streak",
		}),
		PeakEquity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "kill_switch",
			Name:      "peak_equity",
			Help:      "Running peak equity",
		}),
		CurrentEquity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "kill_switch",
			Name:      "current_equity",
			Help:      "Last observed equity",
		}),
		DrawdownPercent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "kill_switch",
			Name:      "drawdown_percent",
			Help:      "Decline from peak equity in percent",
		}),

		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"breaker"}),
		BreakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Total number of circuit breaker transitions",
		}, []string{"breaker", "from", "to"}),
		ComponentHealthy: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "component_healthy",
			Help:      "1 if the component's last check passed",
		}, []string{"component", "critical"}),

		TradesClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "trades_closed_total",
			Help:      "Total number of closed trades by exit status",
		}, []string{"status"}),
		RealizedPnL: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "realized_profit_total",
			Help:      "Sum of positive realized pnl",
		}),
		TradePnL: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "trade_pnl_percent",
			Help:      "Realized pnl per trade in percent of notional",
			Buckets:   []float64{-10, -5, -2, -1, -0.5, 0, 0.5, 1, 2, 5, 10},
		}),
		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "open_positions",
			Help:      "Number of open positions",
		}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "cycle_duration_seconds",
			Help:      "Trading cycle duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		CycleErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "cycle_errors_total",
			Help:      "Total number of failed trading cycle steps",
		}, []string{"step"}),

		ReconciliationRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "runs_total",
			Help:      "Total number of reconciliation runs by result",
		}, []string{"result"}),
		ReconciliationDiscrepancies: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "discrepancies",
			Help:      "Discrepancies found by the last reconciliation",
		}),

		BacktestRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "runs_total",
			Help:      "Total number of backtest runs by status",
		}, []string{"status"}),
		BacktestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "duration_seconds",
			Help:      "Backtest execution duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler for a specific registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// ObserveKillSwitch records a kill switch status. It has the shape of a
// killswitch.WithObserver callback.
func (m *Metrics) ObserveKillSwitch(s killswitch.Status) {
	if s.Triggered {
		m.KillSwitchTriggered.Set(1)
		m.KillSwitchTrips.WithLabelValues(string(s.Reason)).Inc()
	} else {
		m.KillSwitchTriggered.Set(0)
	}
	m.ConsecutiveLosses.Set(float64(s.ConsecutiveLosses))
	m.PeakEquity.Set(s.PeakEquity)
	m.CurrentEquity.Set(s.CurrentEquity)
	if s.PeakEquity > 0 {
		m.DrawdownPercent.Set((s.PeakEquity - s.CurrentEquity) / s.PeakEquity * 100)
	}
}

// ObserveBreaker records a breaker transition. It has the shape of
// resilience.StateChangeFunc.
func (m *Metrics) ObserveBreaker(name string, from, to resilience.State) {
	m.BreakerState.WithLabelValues(name).Set(float64(to))
	m.BreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
}

// ObserveHealth records one component check. It has the shape of a
// resilience.WithHealthObserver callback.
func (m *Metrics) ObserveHealth(name string, healthy, critical bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	crit := "false"
	if critical {
		crit = "true"
	}
	m.ComponentHealthy.WithLabelValues(name, crit).Set(v)
}

// ObserveTrade records a closed trade. Open trades are ignored.
func (m *Metrics) ObserveTrade(t *domain.Trade) {
	if t == nil || t.IsOpen() {
		return
	}
	m.TradesClosed.WithLabelValues(string(t.Status)).Inc()
	if pnl := t.RealizedPnL(); pnl > 0 {
		m.RealizedPnL.Add(pnl)
	}
	if t.PnLPercent != nil {
		m.TradePnL.Observe(*t.PnLPercent)
	}
}

// ObserveReconciliation records a reconciliation result.
func (m *Metrics) ObserveReconciliation(r reconcile.Result) {
	result := "healthy"
	if !r.Healthy {
		result = "mismatch"
	}
	m.ReconciliationRuns.WithLabelValues(result).Inc()
	m.ReconciliationDiscrepancies.Set(float64(len(r.Discrepancies)))
}

// RecordBacktest records a finished backtest run.
func (m *Metrics) RecordBacktest(err error, seconds float64) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.BacktestRuns.WithLabelValues(status).Inc()
	m.BacktestDuration.Observe(seconds)
}
