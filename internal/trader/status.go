package trader

import (
	"time"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/killswitch"
	"futures-risk-lab/internal/reconcile"
	"futures-risk-lab/internal/stops"
)

// Cycle actions.
const (
	ActionOpened   = "opened"
	ActionSkipped  = "skipped"
	ActionHalted   = "halted"
	ActionError    = "error"
	ActionShutdown = "shutdown"
)

// CycleReport describes one cycle.
type CycleReport struct {
	Time           time.Time         `json:"time"`
	Symbol         string            `json:"symbol"`
	Action         string            `json:"action"`
	Reason         string            `json:"reason"`
	Signal         domain.Signal     `json:"signal"`
	Price          float64           `json:"price"`
	Balance        float64           `json:"balance"`
	Equity         float64           `json:"equity"`
	DailyPnL       float64           `json:"daily_pnl"`
	TradingAllowed bool              `json:"trading_allowed"`
	Opened         *domain.Trade     `json:"opened,omitempty"`
	Closed         []*domain.Trade   `json:"closed,omitempty"`
	StopMoves      []stops.Decision  `json:"stop_moves,omitempty"`
	Reconciliation *reconcile.Result `json:"reconciliation,omitempty"`
}

// Status is the externally visible state of the trader.
type Status struct {
	SessionID     string            `json:"session_id"`
	Symbol        string            `json:"symbol"`
	Cycles        int               `json:"cycles"`
	Price         float64           `json:"price"`
	Balance       float64           `json:"balance"`
	Equity        float64           `json:"equity"`
	InitialEquity float64           `json:"initial_equity"`
	DailyPnL      float64           `json:"daily_pnl"`
	DailyTrades   int               `json:"daily_trades"`
	Positions     []domain.Position `json:"positions"`
	KillSwitch    killswitch.Status `json:"kill_switch"`
	LastCycle     *CycleReport      `json:"last_cycle,omitempty"`
}

// Status returns a snapshot of the session.
func (t *Trader) Status() Status {
	now := t.now()
	t.mu.Lock()
	price := t.lastPrice
	st := Status{
		SessionID:     t.cfg.SessionID,
		Symbol:        t.cfg.Symbol,
		Cycles:        t.cycles,
		Price:         price,
		Balance:       t.lastBalance,
		Equity:        t.lastEquity,
		InitialEquity: t.initialEquity,
		LastCycle:     t.last,
	}
	t.mu.Unlock()

	st.Positions = t.LocalPositions(price)
	st.DailyPnL = t.daily.PnL(now)
	st.DailyTrades = t.daily.Trades(now)
	st.KillSwitch = t.opts.KillSwitch.Status()
	return st
}
