package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func testCfg() Config {
	return Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             30 * time.Millisecond,
		HalfOpenMaxRequests: 3,
	}
}

func tripBreaker(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	for i := 0; i < testCfg().FailureThreshold; i++ {
		require.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	}
}

func TestClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(testCfg())

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(testCfg())
	tripBreaker(t, cb)

	// Tripped: the next call is rejected without running fn.
	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(testCfg())

	for i := 0; i < testCfg().FailureThreshold-1; i++ {
		require.Error(t, cb.Execute(func() error { return errBoom }))
	}
	require.NoError(t, cb.Execute(func() error { return nil }))

	// The streak was broken, so the same failures again do not trip it.
	for i := 0; i < testCfg().FailureThreshold-1; i++ {
		require.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(testCfg())
	tripBreaker(t, cb)
	require.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitBreakerOpen)

	time.Sleep(testCfg().Timeout + 10*time.Millisecond)

	// Probing: successes accumulate toward SuccessThreshold.
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Execute(func() error { return nil }))

	// Threshold met: the next call observes the closed state.
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestHalfOpenFailureTripsImmediately(t *testing.T) {
	cb := NewCircuitBreaker(testCfg())
	tripBreaker(t, cb)
	require.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitBreakerOpen)

	time.Sleep(testCfg().Timeout + 10*time.Millisecond)

	require.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitBreakerOpen)
}

func TestReset(t *testing.T) {
	cb := NewCircuitBreaker(testCfg())
	tripBreaker(t, cb)
	require.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitBreakerOpen)

	cb.Reset()

	assert.Equal(t, StateClosed, cb.GetState())
	assert.NoError(t, cb.Execute(func() error { return nil }))
}
