package venue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/resilience"
)

// stubVenue fails the first failN calls with a connection error.
type stubVenue struct {
	mu    sync.Mutex
	calls int
	failN int
}

func (s *stubVenue) hit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failN {
		return resilience.ErrConnection
	}
	return nil
}

func (s *stubVenue) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubVenue) Price(context.Context, string) (float64, error) {
	if err := s.hit(); err != nil {
		return 0, err
	}
	return 100, nil
}

func (s *stubVenue) Balance(context.Context) (float64, error) { return 1000, s.hit() }

func (s *stubVenue) Positions(context.Context) ([]domain.Position, error) {
	return []domain.Position{{Symbol: "BTC", Quantity: 1}}, s.hit()
}

func (s *stubVenue) PlaceOrder(_ context.Context, req OrderRequest) (Order, error) {
	return Order{ID: "x", Symbol: req.Symbol, Status: OrderFilled}, s.hit()
}

func (s *stubVenue) ClosePosition(_ context.Context, symbol string) (Order, error) {
	return Order{ID: "y", Symbol: symbol, Status: OrderFilled}, s.hit()
}

func (s *stubVenue) CancelOrder(context.Context, string) error { return s.hit() }

func fastConfig() GuardConfig {
	cfg := DefaultGuardConfig()
	cfg.Breaker = resilience.BreakerConfig{Name: "test", FailMax: 2, Timeout: time.Hour}
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.MinWait = time.Millisecond
	cfg.Retry.MaxWait = 2 * time.Millisecond
	cfg.CallTimeout = time.Second
	cfg.MaxCalls = 100
	return cfg
}

func TestGuarded_RetriesTransientErrors(t *testing.T) {
	stub := &stubVenue{failN: 2}
	g := NewGuarded(stub, fastConfig())

	price, err := g.Price(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)
	assert.Equal(t, 3, stub.count())
	assert.Equal(t, resilience.StateClosed, g.Breaker().State())
}

func TestGuarded_BreakerOpensAndShortCircuits(t *testing.T) {
	ctx := context.Background()
	stub := &stubVenue{failN: 1000}

	var mu sync.Mutex
	var transitions []resilience.State
	g := NewGuarded(stub, fastConfig(), WithBreakerObserver(func(_ string, _, to resilience.State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, to)
	}))

	// Each call exhausts its retries and counts as one breaker failure.
	for i := 0; i < 2; i++ {
		_, err := g.Balance(ctx)
		assert.ErrorIs(t, err, resilience.ErrConnection)
	}
	assert.Equal(t, 6, stub.count())
	assert.True(t, g.Breaker().IsOpen())

	_, err := g.PlaceOrder(ctx, OrderRequest{Symbol: "BTC"})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 6, stub.count(), "open breaker must not reach the venue")

	healthy, err := g.Probe(ctx)
	require.NoError(t, err)
	assert.False(t, healthy)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []resilience.State{resilience.StateOpen}, transitions)
}

func TestGuarded_PassesValuesThrough(t *testing.T) {
	ctx := context.Background()
	g := NewGuarded(&stubVenue{}, fastConfig())

	positions, err := g.Positions(ctx)
	require.NoError(t, err)
	assert.Len(t, positions, 1)

	o, err := g.ClosePosition(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "BTC", o.Symbol)

	assert.NoError(t, g.CancelOrder(ctx, "y"))

	_, err = g.Bars(ctx, "BTC", 10)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestOrderRequest_Validate(t *testing.T) {
	ok := OrderRequest{Symbol: "BTC", Side: domain.SideLong, Quantity: 1, Leverage: 1}
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.Side = "up"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidOrder)
	bad = ok
	bad.Leverage = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidOrder)
}
