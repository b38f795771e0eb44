package providers

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providerErr() error {
	return &ProviderError{Provider: "openai", StatusCode: 500, Retryable: true, Message: "upstream"}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewCircuitBreaker("openai", 5, time.Minute, nil)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Allow())
		b.Record(providerErr())
		assert.Equal(t, BreakerClosed, b.State(), "breaker must stay closed below the threshold")
	}

	require.NoError(t, b.Allow())
	b.Record(providerErr())
	assert.Equal(t, BreakerOpen, b.State())

	err := b.Allow()
	assert.ErrorIs(t, err, ErrBreakerOpen, "open breaker rejects without calling the provider")
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	b := NewCircuitBreaker("openai", 3, time.Minute, nil)

	b.Record(providerErr())
	b.Record(providerErr())
	b.Record(nil)
	b.Record(providerErr())
	b.Record(providerErr())

	assert.Equal(t, BreakerClosed, b.State(), "a success in between must reset the failure count")
}

func TestBreakerRateLimitNotCounted(t *testing.T) {
	b := NewCircuitBreaker("openai", 2, time.Minute, nil)

	for i := 0; i < 5; i++ {
		b.Record(&RateLimitError{Provider: "openai", RetryAfter: time.Minute})
	}
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	var transitions []string
	b := NewCircuitBreaker("openai", 1, 20*time.Millisecond, func(_, from, to string) {
		transitions = append(transitions, from+">"+to)
	})

	b.Record(providerErr())
	require.Equal(t, BreakerOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, BreakerHalfOpen, b.State())

	// First caller gets the probe; a concurrent one fails fast.
	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)

	b.Record(nil)
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, []string{"closed>open", "open>half_open", "half_open>closed"}, transitions)
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	b := NewCircuitBreaker("openai", 1, 10*time.Millisecond, nil)

	b.Record(providerErr())
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Allow())
	b.Record(providerErr())
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreakerIgnoresRejectedCalls(t *testing.T) {
	b := NewCircuitBreaker("openai", 1, time.Minute, nil)
	b.Record(providerErr())
	require.Equal(t, BreakerOpen, b.State())

	// Recording the rejection itself must not disturb the state machine.
	b.Record(errors.Join(ErrBreakerOpen))
	assert.Equal(t, BreakerOpen, b.State())
}
