package providers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentrun/agentrun/pkg/models"
)

// RouteResult is a completion that survived the failover loop.
type RouteResult struct {
	Result     *Result
	Provider   string
	IsFallback bool
	Attempted  []string
	LatencyMS  int
}

// Router selects providers for a request and walks them in deterministic
// failover order, each call passing through the provider's own circuit
// breaker.
type Router struct {
	providers []Provider
	breakers  map[string]*CircuitBreaker
	priority  []string
}

// NewRouter creates a router over the built providers. priority is the
// global failover order; providers absent from it rank after it in
// registration order.
func NewRouter(provs []Provider, priority []string, failMax int, timeout time.Duration, onStateChange func(provider, from, to string)) *Router {
	breakers := make(map[string]*CircuitBreaker, len(provs))
	for _, p := range provs {
		breakers[p.Name()] = NewCircuitBreaker(p.Name(), failMax, timeout, onStateChange)
	}
	return &Router{providers: provs, breakers: breakers, priority: priority}
}

// Providers returns the registered providers in registration order.
func (r *Router) Providers() []Provider { return r.providers }

// Breaker returns the breaker of a provider (nil for unknown names).
func (r *Router) Breaker(name string) *CircuitBreaker { return r.breakers[name] }

// Candidates forms the ordered candidate list for a request: the preferred
// provider first (when set, supporting, and not OPEN), then the global
// priority order filtered by model support, then any remaining supporting
// providers in registration order.
func (r *Router) Candidates(req *models.CompletionRequest) []Provider {
	byName := make(map[string]Provider, len(r.providers))
	for _, p := range r.providers {
		byName[p.Name()] = p
	}

	var out []Provider
	seen := make(map[string]bool, len(r.providers))
	add := func(p Provider) {
		if p == nil || seen[p.Name()] || !p.SupportsModel(req.Model) {
			return
		}
		seen[p.Name()] = true
		out = append(out, p)
	}

	if req.PreferredProvider != "" {
		if p := byName[req.PreferredProvider]; p != nil &&
			p.SupportsModel(req.Model) &&
			r.breakers[p.Name()].State() != BreakerOpen {
			add(p)
		}
	}
	for _, name := range r.priority {
		add(byName[name])
	}
	for _, p := range r.providers {
		add(p)
	}
	return out
}

// Complete walks the candidate list. Provider errors and open breakers move
// to the next candidate; a provider-side rate limit returns immediately
// without failover. When every candidate fails the last underlying error is
// surfaced with the attempted list.
func (r *Router) Complete(ctx context.Context, req *models.CompletionRequest) (*RouteResult, error) {
	candidates := r.Candidates(req)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrModelNotSupported, req.Model)
	}

	var (
		attempted []string
		lastErr   error
	)
	for i, p := range candidates {
		attempted = append(attempted, p.Name())
		breaker := r.breakers[p.Name()]

		if err := breaker.Allow(); err != nil {
			slog.Debug("Provider skipped, breaker open", "provider", p.Name(), "model", req.Model)
			lastErr = err
			continue
		}

		start := time.Now()
		result, err := p.Completion(ctx, req)
		breaker.Record(err)

		if err == nil {
			return &RouteResult{
				Result:     result,
				Provider:   p.Name(),
				IsFallback: i > 0,
				Attempted:  attempted,
				LatencyMS:  int(time.Since(start).Milliseconds()),
			}, nil
		}
		if IsRateLimitError(err) {
			return nil, err
		}

		slog.Warn("Provider call failed, trying next candidate",
			"provider", p.Name(), "model", req.Model, "error", err)
		lastErr = err
	}

	return nil, &AllProvidersFailedError{Attempted: attempted, LastErr: lastErr}
}
