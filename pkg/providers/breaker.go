package providers

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Circuit breaker states.
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half_open"
)

// CircuitBreaker isolates one provider. CLOSED passes all calls and counts
// consecutive ProviderErrors; FailMax of them opens the breaker, which
// rejects calls for Timeout. The first call after that is a half-open probe:
// success closes the breaker and resets the counter, failure re-opens it.
// RateLimitError passes through without counting - it signals load, not
// fault. State is per process; replicas open independently, which the short
// timeout makes acceptable.
type CircuitBreaker struct {
	name          string
	failMax       int
	timeout       time.Duration
	onStateChange func(provider, from, to string)

	mu       sync.Mutex
	state    string
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a breaker for one provider. onStateChange may be
// nil.
func NewCircuitBreaker(name string, failMax int, timeout time.Duration, onStateChange func(provider, from, to string)) *CircuitBreaker {
	if failMax <= 0 {
		failMax = 5
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CircuitBreaker{
		name:          name,
		failMax:       failMax,
		timeout:       timeout,
		onStateChange: onStateChange,
		state:         BreakerClosed,
	}
}

// State returns the current breaker state, applying the open-to-half-open
// timeout transition.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.timeout {
		return BreakerHalfOpen
	}
	return b.state
}

// Allow reports whether a call may proceed. In the half-open state only one
// probe is admitted at a time; concurrent calls fail fast until the probe
// resolves.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if time.Since(b.openedAt) < b.timeout {
			return ErrBreakerOpen
		}
		b.transition(BreakerHalfOpen)
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return ErrBreakerOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

// Record reports a call outcome back to the breaker. Rate limit errors and
// rejected calls are ignored.
func (b *CircuitBreaker) Record(err error) {
	if errors.Is(err, ErrBreakerOpen) || IsRateLimitError(err) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var pe *ProviderError
	failed := errors.As(err, &pe)

	switch b.state {
	case BreakerClosed:
		if failed {
			b.failures++
			if b.failures >= b.failMax {
				b.openedAt = time.Now()
				b.transition(BreakerOpen)
			}
		} else if err == nil {
			b.failures = 0
		}
	case BreakerHalfOpen:
		b.probing = false
		if failed {
			b.openedAt = time.Now()
			b.transition(BreakerOpen)
		} else if err == nil {
			b.failures = 0
			b.transition(BreakerClosed)
		}
	case BreakerOpen:
		// A call admitted just before opening resolved late; ignore.
	}
}

// transition must be called with the lock held.
func (b *CircuitBreaker) transition(to string) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	slog.Info("Circuit breaker state change",
		"provider", b.name, "from", from, "to", to, "failures", b.failures)
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}
