package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManualClock(t *testing.T) {
	c := NewManualClock(100)
	require.EqualValues(t, 100, c.Now())
	c.Advance(30)
	require.EqualValues(t, 130, c.Now())
}

func TestLoopBudgetExhaustion(t *testing.T) {
	b := NewLoopBudget(3)
	require.True(t, b.CanProceed())
	require.True(t, b.CanProceed())
	require.True(t, b.CanProceed())
	require.False(t, b.CanProceed())
}

func TestLoopBudgetWindowReset(t *testing.T) {
	b := NewLoopBudget(1)
	b.window = 10 * time.Millisecond
	require.True(t, b.CanProceed())
	require.False(t, b.CanProceed())
	time.Sleep(15 * time.Millisecond)
	require.True(t, b.CanProceed())
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenTimeout:      time.Hour,
		HalfOpenMaxCalls: 1,
	})

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Allow())
		cb.RecordFailure()
	}
	require.Equal(t, CircuitClosed, cb.State())

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())
	require.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreakerRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		OpenTimeout:      5 * time.Millisecond,
		HalfOpenMaxCalls: 2,
	})

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	require.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		OpenTimeout:      time.Millisecond,
		HalfOpenMaxCalls: 1,
	})
	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())
}
