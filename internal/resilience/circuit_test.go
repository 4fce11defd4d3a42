package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestBreaker(threshold int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("overpass", CircuitBreakerConfig{FailureThreshold: threshold, ResetTimeout: time.Minute})
	cb.now = clock.now
	return cb, clock
}

func fail(context.Context) (int, error) { return 0, errors.New("boom") }

func succeed(context.Context) (int, error) { return 1, nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(2)
	ctx := context.Background()

	_, _ = ExecuteVal(ctx, cb, fail)
	assert.Equal(t, CircuitClosed, cb.State())
	_, _ = ExecuteVal(ctx, cb, fail)
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	_, err := ExecuteVal(ctx, cb, func(context.Context) (int, error) {
		called = true
		return 0, nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(2)
	ctx := context.Background()

	_, _ = ExecuteVal(ctx, cb, fail)
	_, _ = ExecuteVal(ctx, cb, succeed)
	_, _ = ExecuteVal(ctx, cb, fail)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	ctx := context.Background()

	t.Run("success closes", func(t *testing.T) {
		cb, clock := newTestBreaker(1)
		_, _ = ExecuteVal(ctx, cb, fail)
		clock.t = clock.t.Add(time.Minute)
		assert.Equal(t, CircuitHalfOpen, cb.State())

		v, err := ExecuteVal(ctx, cb, succeed)
		require.NoError(t, err)
		assert.Equal(t, 1, v)
		assert.Equal(t, CircuitClosed, cb.State())
	})

	t.Run("failure reopens", func(t *testing.T) {
		cb, clock := newTestBreaker(3)
		for range 3 {
			_, _ = ExecuteVal(ctx, cb, fail)
		}
		clock.t = clock.t.Add(2 * time.Minute)
		_, err := ExecuteVal(ctx, cb, fail)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
		assert.Equal(t, CircuitOpen, cb.State())
	})
}

func TestCircuitBreaker_ShouldTrip(t *testing.T) {
	cb := NewCircuitBreaker("overpass", CircuitBreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       IsTransient,
	})
	_, _ = ExecuteVal(context.Background(), cb, fail)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
