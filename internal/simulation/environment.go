// Package simulation provides a mark-to-market step environment for
// perpetual futures: each step takes a target exposure (short, flat, long)
// and the next close, and returns the account state and a reward.
package simulation

import (
	"errors"
	"fmt"
	"math"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/stops"
)

// Input errors.
var (
	ErrInvalidAction = errors.New("invalid action index")
	ErrInvalidPrice  = errors.New("price must be greater than zero")
)

// Action is a target exposure by index.
type Action int

// Action constants.
const (
	ActionShort Action = iota
	ActionFlat
	ActionLong
)

var actionNames = [...]string{"short", "flat", "long"}

func (a Action) String() string {
	if a < 0 || int(a) >= len(actionNames) {
		return fmt.Sprintf("action(%d)", int(a))
	}
	return actionNames[a]
}

// ActionFromSignal maps BUY to long, SELL to short and HOLD to the current exposure.
func ActionFromSignal(s domain.Signal, current Action) Action {
	switch s.Type {
	case domain.SignalBuy:
		return ActionLong
	case domain.SignalSell:
		return ActionShort
	default:
		return current
	}
}

// Config holds the environment's account and cost model.
// StopLoss, TakeProfit, BreakEvenTrigger and TrailingStep are fractions of
// the entry price; zero disables the rule.
type Config struct {
	InitialBalance   float64 `yaml:"initial_balance"`
	ContractSize     float64 `yaml:"contract_size"`
	MaxPosition      float64 `yaml:"max_position"`
	Slippage         float64 `yaml:"slippage"`
	TransactionFee   float64 `yaml:"transaction_fee"`
	StopLoss         float64 `yaml:"stop_loss"`
	TakeProfit       float64 `yaml:"take_profit"`
	BreakEvenTrigger float64 `yaml:"break_even_trigger"`
	TrailingStep     float64 `yaml:"trailing_step"`
}

// DefaultConfig returns a BTC-style perpetual: 0.001 contract, at most 0.01.
func DefaultConfig() Config {
	return Config{
		InitialBalance: 10000,
		ContractSize:   0.001,
		MaxPosition:    0.01,
		Slippage:       0.0002,
		TransactionFee: 0.0004,
		StopLoss:       0.02,
		TakeProfit:     0.03,
	}
}

// State is the account after a step.
// Position is signed: positive long, negative short, in contracts.
type State struct {
	Balance    float64
	Position   float64
	EntryPrice float64 // 0 when flat
	Equity     float64
}

// Environment is a single-position futures account. Not safe for concurrent use.
type Environment struct {
	cfg Config

	balance    float64
	position   float64
	entryPrice float64
	equity     float64
	nextSize   float64
	stops      *stops.RatioManager
}

// New creates an environment and resets it.
func New(cfg Config) *Environment {
	e := &Environment{cfg: cfg}
	e.Reset()
	return e
}

// Reset restores the initial balance and closes everything.
// The take profit is never placed closer than the stop loss.
func (e *Environment) Reset() State {
	e.cfg.StopLoss = math.Max(0, e.cfg.StopLoss)
	if e.cfg.TakeProfit > 0 {
		e.cfg.TakeProfit = math.Max(e.cfg.StopLoss, e.cfg.TakeProfit)
	}
	e.balance = e.cfg.InitialBalance
	e.position = 0
	e.entryPrice = 0
	e.equity = e.balance
	e.nextSize = e.cfg.MaxPosition
	e.stops = nil
	return e.State()
}

// SetPositionSize sets the absolute size, in contracts, of the next entry,
// capped at MaxPosition. Non-positive sizes disable entries.
func (e *Environment) SetPositionSize(size float64) {
	if size <= 0 {
		e.nextSize = 0
		return
	}
	e.nextSize = math.Min(size, e.cfg.MaxPosition)
}

// State returns the current account state.
func (e *Environment) State() State {
	return State{Balance: e.balance, Position: e.position, EntryPrice: e.entryPrice, Equity: e.equity}
}

// Stop returns the protective stop of the open position, 0 when flat.
func (e *Environment) Stop() float64 {
	if e.stops == nil {
		return 0
	}
	return e.stops.Stop()
}

// Step applies action at price (the next close), runs the protective stop
// and target, and marks to market.
// reward = (equity after - equity before) / initial balance.
func (e *Environment) Step(action Action, price float64) (State, float64, error) {
	if action < ActionShort || action > ActionLong {
		return e.State(), 0, fmt.Errorf("%w: %d", ErrInvalidAction, int(action))
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return e.State(), 0, fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}

	previous := e.equity

	e.apply(action, price)
	e.riskControls(price)
	e.markToMarket(price)

	reward := (e.equity - previous) / e.cfg.InitialBalance
	return e.State(), reward, nil
}

func (e *Environment) apply(action Action, price float64) {
	if action == ActionFlat {
		e.close(price)
		return
	}

	desired := e.nextSize
	if action == ActionShort {
		desired = -desired
	}
	if e.position == desired {
		return
	}
	if e.position != 0 {
		e.close(price)
	}
	e.open(desired, price)
}

func (e *Environment) open(size, price float64) {
	if size == 0 {
		return
	}
	e.balance -= math.Abs(size) * e.cfg.ContractSize * price * e.cfg.TransactionFee

	side := domain.SideLong
	if size < 0 {
		side = domain.SideShort
	}
	e.position = size
	e.entryPrice = price * (1 + e.cfg.Slippage*side.Sign())
	e.stops = stops.NewRatioManager(stops.RatioConfig{
		StopLoss:         e.cfg.StopLoss,
		TakeProfit:       e.cfg.TakeProfit,
		BreakEvenTrigger: e.cfg.BreakEvenTrigger,
		TrailingStep:     e.cfg.TrailingStep,
	}, side, e.entryPrice)
}

func (e *Environment) close(price float64) {
	if e.position == 0 {
		return
	}
	realized := e.position * e.cfg.ContractSize * (price - e.entryPrice)
	fee := math.Abs(e.position) * e.cfg.ContractSize * price * e.cfg.TransactionFee
	e.balance += realized - fee
	e.position = 0
	e.entryPrice = 0
	e.stops = nil
}

// riskControls closes at price when it crosses the stop or target, otherwise
// lets the stop follow price. A close-only feed fills at the observed price.
func (e *Environment) riskControls(price float64) {
	if e.stops == nil {
		return
	}
	if _, _, hit := e.stops.Exit(price, price); hit {
		e.close(price)
		return
	}
	e.stops.Observe(price, price)
}

func (e *Environment) markToMarket(price float64) {
	var unrealized float64
	if e.position != 0 {
		unrealized = e.position * e.cfg.ContractSize * (price - e.entryPrice)
	}
	e.equity = math.Max(0, e.balance+unrealized)
}
