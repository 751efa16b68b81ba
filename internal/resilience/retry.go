package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// RetryConfig bounds a Retrier. Retryable selects the errors worth retrying;
// any other error is returned immediately.
type RetryConfig struct {
	MaxAttempts int              `yaml:"max_attempts"`
	MinWait     time.Duration    `yaml:"min_wait"`
	MaxWait     time.Duration    `yaml:"max_wait"`
	Retryable   func(error) bool `yaml:"-"`
}

// DefaultRetryConfig retries transient errors 5 times between 1s and 60s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 5, MinWait: time.Second, MaxWait: 60 * time.Second, Retryable: IsTransient}
}

// ConnectionRetryConfig retries connection failures and timeouts.
func ConnectionRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 5, MinWait: 2 * time.Second, MaxWait: 60 * time.Second, Retryable: IsConnectionError}
}

// BadResponseRetryConfig retries unparseable responses a few times.
func BadResponseRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, MinWait: time.Second, MaxWait: 10 * time.Second, Retryable: IsBadResponse}
}

// RetryOption configures a Retrier.
type RetryOption func(*Retrier)

// WithRetryLogger sets the logger.
func WithRetryLogger(l logrus.FieldLogger) RetryOption {
	return func(r *Retrier) { r.logger = l }
}

// WithRetryTimer overrides the timer used to wait between attempts.
func WithRetryTimer(newTimer func() backoff.Timer) RetryOption {
	return func(r *Retrier) { r.newTimer = newTimer }
}

// Retrier retries matching errors with exponential backoff. After the last
// attempt the final error is returned unchanged.
type Retrier struct {
	cfg      RetryConfig
	logger   logrus.FieldLogger
	newTimer func() backoff.Timer
}

// NewRetrier creates a Retrier. A nil Retryable retries every error.
func NewRetrier(cfg RetryConfig, opts ...RetryOption) *Retrier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxWait < cfg.MinWait {
		cfg.MaxWait = cfg.MinWait
	}
	r := &Retrier{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = discardLogger()
	}
	return r
}

// Middleware returns the retrier as a Middleware.
func (r *Retrier) Middleware() Middleware {
	return func(next Operation) Operation {
		return func(ctx context.Context) error {
			return r.Execute(ctx, next)
		}
	}
}

// Execute runs op until it succeeds, returns a non-retryable error or the
// attempts are used up.
func (r *Retrier) Execute(ctx context.Context, op Operation) error {
	attempt := 0
	wrapped := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if r.cfg.Retryable != nil && !r.cfg.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": r.cfg.MaxAttempts,
			"wait":         wait.String(),
		}).WithError(err).Warn("retrying after error")
	}

	var timer backoff.Timer
	if r.newTimer != nil {
		timer = r.newTimer()
	}
	return backoff.RetryNotifyWithTimer(wrapped, r.policy(ctx), notify, timer)
}

func (r *Retrier) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.cfg.MinWait
	exp.MaxInterval = r.cfg.MaxWait
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.cfg.MaxAttempts-1)), ctx)
}
