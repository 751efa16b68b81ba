package venue

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/resilience"
)

// GuardConfig configures the resilience chain around a venue.
type GuardConfig struct {
	Breaker     resilience.BreakerConfig
	Retry       resilience.RetryConfig
	CallTimeout time.Duration
	MaxCalls    int
	Window      time.Duration
}

// DefaultGuardConfig returns the exchange API defaults.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Breaker:     resilience.DefaultBreakerConfig(),
		Retry:       resilience.DefaultRetryConfig(),
		CallTimeout: 10 * time.Second,
		MaxCalls:    10,
		Window:      time.Second,
	}
}

// Guarded runs every call of the wrapped venue through
// breaker → retry → timeout → limiter.
type Guarded struct {
	next    Venue
	breaker *resilience.Breaker
	chain   resilience.Middleware
}

var (
	_ Venue     = (*Guarded)(nil)
	_ BarSource = (*Guarded)(nil)
)

// GuardOption configures NewGuarded.
type GuardOption func(*guardOptions)

type guardOptions struct {
	logger        logrus.FieldLogger
	onStateChange resilience.StateChangeFunc
	retryOpts     []resilience.RetryOption
	limiterOpts   []resilience.LimiterOption
	breakerOpts   []resilience.BreakerOption
}

// WithGuardLogger sets the logger shared by the chain.
func WithGuardLogger(l logrus.FieldLogger) GuardOption {
	return func(o *guardOptions) { o.logger = l }
}

// WithBreakerObserver reports breaker transitions, e.g. to metrics.
func WithBreakerObserver(fn resilience.StateChangeFunc) GuardOption {
	return func(o *guardOptions) { o.onStateChange = fn }
}

// WithChainOptions passes options through to the chain stages.
func WithChainOptions(b []resilience.BreakerOption, r []resilience.RetryOption, l []resilience.LimiterOption) GuardOption {
	return func(o *guardOptions) {
		o.breakerOpts = append(o.breakerOpts, b...)
		o.retryOpts = append(o.retryOpts, r...)
		o.limiterOpts = append(o.limiterOpts, l...)
	}
}

// NewGuarded wraps next.
func NewGuarded(next Venue, cfg GuardConfig, opts ...GuardOption) *Guarded {
	var o guardOptions
	for _, opt := range opts {
		opt(&o)
	}

	breakerOpts := o.breakerOpts
	retryOpts := o.retryOpts
	limiterOpts := o.limiterOpts
	if o.logger != nil {
		breakerOpts = append(breakerOpts, resilience.WithBreakerLogger(o.logger))
		retryOpts = append(retryOpts, resilience.WithRetryLogger(o.logger))
		limiterOpts = append(limiterOpts, resilience.WithLimiterLogger(o.logger))
	}
	if o.onStateChange != nil {
		breakerOpts = append(breakerOpts, resilience.OnStateChange(o.onStateChange))
	}

	breaker := resilience.NewBreaker(cfg.Breaker, breakerOpts...)
	retrier := resilience.NewRetrier(cfg.Retry, retryOpts...)
	limiter := resilience.NewRateLimiter(cfg.MaxCalls, cfg.Window, limiterOpts...)

	return &Guarded{
		next:    next,
		breaker: breaker,
		chain: resilience.Chain(
			breaker.Middleware(),
			retrier.Middleware(),
			resilience.Timeout(cfg.CallTimeout),
			limiter.Middleware(),
		),
	}
}

// Breaker exposes the circuit breaker for health probes.
func (g *Guarded) Breaker() *resilience.Breaker {
	return g.breaker
}

// Probe reports healthy while the breaker is not open.
func (g *Guarded) Probe(ctx context.Context) (bool, error) {
	return !g.breaker.IsOpen(), nil
}

// Price implements Venue.
func (g *Guarded) Price(ctx context.Context, symbol string) (float64, error) {
	return resilience.Call(ctx, g.chain, func(ctx context.Context) (float64, error) {
		return g.next.Price(ctx, symbol)
	})
}

// Balance implements Venue.
func (g *Guarded) Balance(ctx context.Context) (float64, error) {
	return resilience.Call(ctx, g.chain, g.next.Balance)
}

// Positions implements Venue.
func (g *Guarded) Positions(ctx context.Context) ([]domain.Position, error) {
	return resilience.Call(ctx, g.chain, g.next.Positions)
}

// PlaceOrder implements Venue.
func (g *Guarded) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	return resilience.Call(ctx, g.chain, func(ctx context.Context) (Order, error) {
		return g.next.PlaceOrder(ctx, req)
	})
}

// ClosePosition implements Venue.
func (g *Guarded) ClosePosition(ctx context.Context, symbol string) (Order, error) {
	return resilience.Call(ctx, g.chain, func(ctx context.Context) (Order, error) {
		return g.next.ClosePosition(ctx, symbol)
	})
}

// CancelOrder implements Venue.
func (g *Guarded) CancelOrder(ctx context.Context, orderID string) error {
	return g.chain(func(ctx context.Context) error {
		return g.next.CancelOrder(ctx, orderID)
	})(ctx)
}

// Bars implements BarSource when the wrapped venue does.
func (g *Guarded) Bars(ctx context.Context, symbol string, limit int) ([]domain.Bar, error) {
	src, ok := g.next.(BarSource)
	if !ok {
		return nil, ErrUnknownSymbol
	}
	return resilience.Call(ctx, g.chain, func(ctx context.Context) ([]domain.Bar, error) {
		return src.Bars(ctx, symbol, limit)
	})
}
