package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("exchange down")

func failing(calls *int) Operation {
	return func(context.Context) error {
		*calls++
		return errDown
	}
}

func succeeding(calls *int) Operation {
	return func(context.Context) error {
		*calls++
		return nil
	}
}

func TestBreaker_OpensAfterFailMax(t *testing.T) {
	ctx := context.Background()
	b := NewBreaker(BreakerConfig{Name: "test", FailMax: 3, Timeout: time.Minute})

	calls := 0
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(ctx, failing(&calls)), errDown)
	}
	assert.Equal(t, StateOpen, b.State())
	assert.True(t, b.IsOpen())

	err := b.Execute(ctx, succeeding(&calls))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Contains(t, err.Error(), "test")
	assert.Equal(t, 3, calls, "open breaker must not invoke the operation")
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	ctx := context.Background()
	b := NewBreaker(BreakerConfig{Name: "test", FailMax: 3, Timeout: time.Minute})

	calls := 0
	_ = b.Execute(ctx, failing(&calls))
	_ = b.Execute(ctx, failing(&calls))
	assert.Equal(t, 2, b.Failures())
	require.NoError(t, b.Execute(ctx, succeeding(&calls)))
	assert.Equal(t, 0, b.Failures())
	_ = b.Execute(ctx, failing(&calls))
	_ = b.Execute(ctx, failing(&calls))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenTrialCall(t *testing.T) {
	ctx := context.Background()
	const timeout = 50 * time.Millisecond

	var transitions []string
	b := NewBreaker(BreakerConfig{Name: "api", FailMax: 2, Timeout: timeout},
		OnStateChange(func(name string, from, to State) {
			assert.Equal(t, "api", name)
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)

	calls := 0
	_ = b.Execute(ctx, failing(&calls))
	_ = b.Execute(ctx, failing(&calls))
	require.Equal(t, StateOpen, b.State())

	time.Sleep(timeout + 20*time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	// A failed trial call reopens and restarts the timer.
	assert.ErrorIs(t, b.Execute(ctx, failing(&calls)), errDown)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(ctx, succeeding(&calls)), ErrCircuitOpen)

	time.Sleep(timeout + 20*time.Millisecond)
	require.NoError(t, b.Execute(ctx, succeeding(&calls)))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())

	assert.Equal(t, []string{
		"closed->open",
		"open->half_open",
		"half_open->open",
		"open->half_open",
		"half_open->closed",
	}, transitions)
}

func TestBreaker_SingleTrialCallInFlight(t *testing.T) {
	ctx := context.Background()
	const timeout = 20 * time.Millisecond
	b := NewBreaker(BreakerConfig{Name: "api", FailMax: 1, Timeout: timeout})

	calls := 0
	_ = b.Execute(ctx, failing(&calls))
	time.Sleep(timeout + 20*time.Millisecond)

	var inner error
	err := b.Execute(ctx, func(ctx context.Context) error {
		inner = b.Execute(ctx, succeeding(&calls))
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrCircuitOpen)
	assert.Equal(t, 1, calls, "rejected call must not invoke the operation")
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_MiddlewarePassesOperationError(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "api", FailMax: 5, Timeout: time.Minute})
	calls := 0
	err := b.Middleware()(failing(&calls))(context.Background())
	assert.ErrorIs(t, err, errDown)
	assert.NotErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, b.Failures())
}
