package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// rateLimitSlack is added to every computed wait so the oldest call has
// certainly left the window when the caller wakes up.
const rateLimitSlack = 100 * time.Millisecond

// LimiterOption configures a RateLimiter.
type LimiterOption func(*RateLimiter)

// WithLimiterClock overrides the time source and the sleep function.
func WithLimiterClock(now func() time.Time, sleep func(context.Context, time.Duration) error) LimiterOption {
	return func(l *RateLimiter) {
		l.now = now
		l.sleep = sleep
	}
}

// WithLimiterLogger sets the logger.
func WithLimiterLogger(lg logrus.FieldLogger) LimiterOption {
	return func(l *RateLimiter) { l.logger = lg }
}

// RateLimiter admits at most MaxCalls per sliding Window. It never drops a
// call; Acquire waits until the oldest call in the window has expired.
type RateLimiter struct {
	maxCalls int
	window   time.Duration
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
	logger   logrus.FieldLogger

	mu    sync.Mutex
	calls []time.Time
}

// NewRateLimiter creates a limiter. maxCalls below 1 is treated as 1.
func NewRateLimiter(maxCalls int, window time.Duration, opts ...LimiterOption) *RateLimiter {
	if maxCalls < 1 {
		maxCalls = 1
	}
	l := &RateLimiter{maxCalls: maxCalls, window: window, now: time.Now, sleep: sleepContext}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = discardLogger()
	}
	return l
}

// Acquire blocks until a slot is free or ctx is done.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	for {
		wait, ok := l.tryAcquire()
		if ok {
			return nil
		}
		l.logger.WithField("wait", wait.String()).Debug("rate limit reached, waiting")
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// InWindow returns the number of calls recorded in the current window.
func (l *RateLimiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	return len(l.calls)
}

// Middleware returns the limiter as a Middleware.
func (l *RateLimiter) Middleware() Middleware {
	return func(next Operation) Operation {
		return func(ctx context.Context) error {
			if err := l.Acquire(ctx); err != nil {
				return err
			}
			return next(ctx)
		}
	}
}

func (l *RateLimiter) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := l.pruneLocked(now)
	if len(l.calls) >= l.maxCalls {
		return l.calls[0].Sub(cutoff) + rateLimitSlack, false
	}
	l.calls = append(l.calls, now)
	return 0, true
}

// pruneLocked drops calls at or before the window start and returns it.
func (l *RateLimiter) pruneLocked(now time.Time) time.Time {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	l.calls = l.calls[i:]
	return cutoff
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
