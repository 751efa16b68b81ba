package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	Name    string        `yaml:"name"`
	FailMax int           `yaml:"fail_max"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultBreakerConfig returns the exchange API breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Name: "ExchangeAPI", FailMax: 5, Timeout: 60 * time.Second}
}

// StateChangeFunc observes breaker transitions. It runs under the breaker
// lock and must not call back into the breaker.
type StateChangeFunc func(name string, from, to State)

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerLogger sets the logger.
func WithBreakerLogger(l logrus.FieldLogger) BreakerOption {
	return func(b *Breaker) { b.logger = l }
}

// OnStateChange registers a transition observer.
func OnStateChange(fn StateChangeFunc) BreakerOption {
	return func(b *Breaker) { b.listeners = append(b.listeners, fn) }
}

// Breaker short-circuits calls after FailMax consecutive failures. Once open,
// calls fail fast with ErrCircuitOpen until Timeout has elapsed; then a single
// trial call is let through. Success closes the breaker, failure reopens it
// and restarts the timer.
type Breaker struct {
	cfg       BreakerConfig
	logger    logrus.FieldLogger
	listeners []StateChangeFunc
	cb        *gobreaker.CircuitBreaker
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	if cfg.FailMax <= 0 {
		cfg.FailMax = 1
	}
	b := &Breaker{cfg: cfg}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = discardLogger()
	}

	failMax := uint32(cfg.FailMax)
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failMax
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.emit(fromGobreaker(from), fromGobreaker(to))
		},
	})
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.cfg.Name
}

// State returns the current state. An open breaker whose timeout has elapsed
// reports half-open.
func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

// IsOpen reports whether calls are currently short-circuited.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	return int(b.cb.Counts().ConsecutiveFailures)
}

// Middleware returns the breaker as a Middleware.
func (b *Breaker) Middleware() Middleware {
	return func(next Operation) Operation {
		return func(ctx context.Context) error {
			return b.Execute(ctx, next)
		}
	}
}

// Execute runs op under the breaker. Rejected calls return ErrCircuitOpen;
// otherwise op's own error is returned unchanged.
func (b *Breaker) Execute(ctx context.Context, op Operation) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, op(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.WithField("breaker", b.cfg.Name).Error("circuit breaker open, call rejected")
		return fmt.Errorf("%w: %s", ErrCircuitOpen, b.cfg.Name)
	}
	return err
}

func (b *Breaker) emit(from, to State) {
	b.logger.WithFields(logrus.Fields{
		"breaker": b.cfg.Name,
		"from":    from.String(),
		"to":      to.String(),
	}).Warn("circuit breaker state changed")
	for _, fn := range b.listeners {
		fn(b.cfg.Name, from, to)
	}
}
