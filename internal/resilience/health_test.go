package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constProbe(ok bool, err error) Probe {
	return func(context.Context) (bool, error) { return ok, err }
}

func TestHealthRegistry_CriticalFailureMakesUnhealthy(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	h := NewHealthRegistry(WithHealthClock(clock.Now))
	h.Register("exchange", constProbe(true, nil), true)
	h.Register("cache", constProbe(false, nil), false)

	report := h.CheckAll(ctx)
	assert.True(t, report.OverallHealthy, "non-critical failure does not fail the system")
	assert.Equal(t, StatusUnhealthy, report.Components["cache"].Status)
	assert.Equal(t, StatusHealthy, report.Components["exchange"].Status)
	require.NotNil(t, report.LastCheck)
	assert.Equal(t, clock.Now(), *report.LastCheck)

	h.Register("database", constProbe(false, errors.New("connection refused")), true)
	report = h.CheckAll(ctx)
	assert.False(t, report.OverallHealthy)
	db := report.Components["database"]
	assert.False(t, db.Healthy)
	assert.True(t, db.Critical)
	assert.Equal(t, StatusError, db.Status)
	assert.Equal(t, "connection refused", db.Error)
}

func TestHealthRegistry_UnknownAndPanickingProbes(t *testing.T) {
	ctx := context.Background()
	h := NewHealthRegistry()

	assert.False(t, h.CheckComponent(ctx, "missing"))

	h.Register("flaky", func(context.Context) (bool, error) { panic("nil client") }, true)
	assert.False(t, h.CheckComponent(ctx, "flaky"))
	st := h.Status()
	assert.Equal(t, StatusError, st.Components["flaky"].Status)
	assert.False(t, st.OverallHealthy)
}

func TestHealthRegistry_StatusBeforeCheck(t *testing.T) {
	h := NewHealthRegistry()
	h.Register("exchange", constProbe(true, nil), true)

	st := h.Status()
	assert.True(t, st.OverallHealthy)
	assert.Nil(t, st.LastCheck)
	assert.Equal(t, StatusUnknown, st.Components["exchange"].Status)
}

func TestHealthRegistry_Observer(t *testing.T) {
	seen := map[string]bool{}
	h := NewHealthRegistry(WithHealthObserver(func(name string, healthy, _ bool) {
		seen[name] = healthy
	}))
	h.Register("a", constProbe(true, nil), true)
	h.Register("b", constProbe(false, nil), true)

	h.CheckAll(context.Background())
	assert.Equal(t, map[string]bool{"a": true, "b": false}, seen)
}
