package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name  string
	price decimal.Decimal
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) GetCurrentPrice(context.Context, string, string) (decimal.Decimal, error) {
	s.calls++
	if s.err != nil {
		return decimal.Zero, s.err
	}
	return s.price, nil
}

func TestWaterfall_PrimaryWins(t *testing.T) {
	primary := &stubProvider{name: "primary", price: decimal.RequireFromString("101.5")}
	fallback := &stubProvider{name: "fallback", price: decimal.RequireFromString("99")}
	w := NewWaterfall(nil, nil, primary, fallback)

	price, err := w.GetCurrentPrice(context.Background(), "AAPL", "")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("101.5")))
	assert.Zero(t, fallback.calls, "fallback must not be consulted")
}

func TestWaterfall_FallsBackOnPrimaryFailure(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("rate limited")}
	fallback := &stubProvider{name: "fallback", price: decimal.RequireFromString("99")}
	w := NewWaterfall(nil, nil, primary, fallback)

	price, err := w.GetCurrentPrice(context.Background(), "AAPL", "")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("99")))
	assert.Equal(t, 1, primary.calls)
}

func TestWaterfall_AllProvidersFail(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("down")}
	fallback := &stubProvider{name: "fallback", err: errors.New("also down")}
	w := NewWaterfall(nil, nil, primary, fallback)

	_, err := w.GetCurrentPrice(context.Background(), "AAPL", "")
	assert.Error(t, err)
}

func TestWaterfall_OpenBreakerSkipsProvider(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("down")}
	fallback := &stubProvider{name: "fallback", price: decimal.RequireFromString("50")}
	w := NewWaterfall(nil, nil, primary, fallback)

	// trip the primary's breaker (opens after 5 consecutive failures)
	for i := 0; i < 5; i++ {
		_, err := w.GetCurrentPrice(context.Background(), "AAPL", "")
		require.NoError(t, err)
	}
	assert.Equal(t, BreakerOpen, w.breakers[0].CurrentState())

	callsBefore := primary.calls
	_, err := w.GetCurrentPrice(context.Background(), "AAPL", "")
	require.NoError(t, err)
	assert.Equal(t, callsBefore, primary.calls, "open breaker must skip the provider")
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(2, 10*time.Millisecond)

	fail := func() error { return errors.New("boom") }
	require.Error(t, cb.Execute(fail))
	require.Error(t, cb.Execute(fail))
	assert.Equal(t, BreakerOpen, cb.CurrentState())

	// still open within the reset window
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)

	time.Sleep(15 * time.Millisecond)

	// probe succeeds and closes the breaker
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, BreakerClosed, cb.CurrentState())
}
