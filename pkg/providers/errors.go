// Package providers implements the LLM provider capability handles, the
// per-provider circuit breakers, and the failover router. Providers
// translate SDK errors into the shared taxonomy at this boundary; nothing
// above it sees SDK types.
package providers

import (
	"errors"
	"fmt"
	"time"
)

// ErrBreakerOpen is returned when a provider's circuit breaker rejects the
// call without attempting it.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// ErrModelNotSupported is returned when no registered provider supports the
// requested model.
var ErrModelNotSupported = errors.New("model not supported by any provider")

// ProviderError is a failed provider call. Retryable marks transient faults
// (5xx, connection reset, timeout); permanent faults (bad key, 4xx other
// than 429) trigger failover to the next candidate instead of a retry.
// Both kinds count toward the originating provider's circuit breaker.
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int
	Retryable  bool
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s failed (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s failed: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// IsRetryableProviderError reports whether err wraps a transient provider
// fault.
func IsRetryableProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// RateLimitError is a provider-side rate limit signal. It is returned to
// the caller immediately (no failover) and never counts toward the circuit
// breaker: it reports load, not provider fault.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("provider %s rate limited: %s", e.Provider, e.Message)
}

// IsRateLimitError reports whether err wraps a rate limit signal.
func IsRateLimitError(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// AllProvidersFailedError is returned when every candidate in the failover
// order failed or had an open breaker.
type AllProvidersFailedError struct {
	Attempted []string
	LastErr   error
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("all providers failed (attempted %v): %v", e.Attempted, e.LastErr)
}

func (e *AllProvidersFailedError) Unwrap() error {
	return e.LastErr
}
