package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_AdmitsUpToMax(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	l := NewRateLimiter(3, 10*time.Second, WithLimiterClock(clock.Now, clock.Sleep))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx))
		clock.Advance(time.Second)
	}
	assert.Equal(t, 3, l.InWindow())

	// Oldest call at start leaves the window at start+10s; wait includes slack.
	require.NoError(t, l.Acquire(ctx))
	assert.Equal(t, start.Add(10*time.Second+rateLimitSlack), clock.Now())
	assert.Equal(t, 3, l.InWindow())
}

func TestRateLimiter_NeverDrops(t *testing.T) {
	clock := newFakeClock()
	l := NewRateLimiter(2, time.Second, WithLimiterClock(clock.Now, clock.Sleep))

	calls := 0
	op := l.Middleware()(func(context.Context) error {
		calls++
		return nil
	})
	for i := 0; i < 10; i++ {
		require.NoError(t, op(context.Background()))
	}
	assert.Equal(t, 10, calls)
}

func TestRateLimiter_ContextCancelled(t *testing.T) {
	l := NewRateLimiter(1, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, l.Acquire(ctx))
	cancel()
	assert.ErrorIs(t, l.Acquire(ctx), context.Canceled)
}
