package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/metrics"
	"github.com/agentrun/agentrun/pkg/models"
	"github.com/agentrun/agentrun/pkg/providers"
	"github.com/agentrun/agentrun/pkg/services"
)

const softLimitWarning = "soft_limit_reached"

// Service runs the completion pipeline: validate, rate check, estimate,
// budget check, route, account. Each stage can short-circuit; the HTTP layer
// maps the returned error to a status code.
type Service struct {
	cfg     *config.Config
	router  *providers.Router
	cost    *providers.CostCalculator
	budget  *BudgetCache
	limiter *RateLimiter
	events  *services.EventService

	window requestWindow
}

// NewService creates the completion service.
func NewService(cfg *config.Config, router *providers.Router, cost *providers.CostCalculator,
	budget *BudgetCache, limiter *RateLimiter, events *services.EventService) *Service {
	return &Service{
		cfg:     cfg,
		router:  router,
		cost:    cost,
		budget:  budget,
		limiter: limiter,
		events:  events,
	}
}

// Router exposes the provider router for health reporting.
func (s *Service) Router() *providers.Router { return s.router }

// Budget exposes the budget cache for health reporting.
func (s *Service) Budget() *BudgetCache { return s.budget }

// RequestsLastMinute returns the request count over the trailing minute.
func (s *Service) RequestsLastMinute() int64 { return s.window.count(time.Now()) }

// Complete executes the pipeline for one request.
func (s *Service) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	s.window.add(time.Now())

	if err := validateRequest(req); err != nil {
		metrics.GatewayRequests.WithLabelValues("invalid").Inc()
		return nil, err
	}

	snap, err := s.budget.Snapshot(ctx, req.TenantID)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("tenant_error").Inc()
		return nil, err
	}
	if snap.Status == models.TenantStatusSuspended {
		metrics.GatewayRequests.WithLabelValues("suspended").Inc()
		return nil, ErrTenantSuspended
	}

	allowed, count, retryAfter, err := s.limiter.Allow(ctx, req.TenantID, snap.RateLimitPerMinute)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("rate_error").Inc()
		return nil, err
	}
	if !allowed {
		metrics.GatewayRequests.WithLabelValues("rate_limited").Inc()
		limit := snap.RateLimitPerMinute
		if limit <= 0 {
			limit = s.cfg.RateLimit.RequestsPerMinute
		}
		return nil, &RateLimitedError{
			TenantID:   req.TenantID.String(),
			Count:      count,
			Limit:      limit,
			RetryAfter: retryAfter,
		}
	}

	estimate := EstimateTokens(req.Messages)

	decision, err := s.budget.Check(ctx, snap, estimate)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("budget_error").Inc()
		return nil, err
	}
	if !decision.Allowed {
		metrics.GatewayRequests.WithLabelValues("budget_exceeded").Inc()
		return nil, &BudgetExceededError{
			TenantID: req.TenantID.String(),
			Used:     decision.Used,
			Budget:   decision.Budget,
			Estimate: estimate,
		}
	}

	var warnings []string
	if decision.SoftLimit {
		warnings = append(warnings, softLimitWarning)
		slog.Warn("Tenant past budget soft limit",
			"tenant_id", req.TenantID, "used", decision.Used, "budget", decision.Budget)
	}

	routed, err := s.router.Complete(ctx, req)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("provider_error").Inc()
		s.recordFailure(ctx, req, err)
		return nil, err
	}

	cost, promptRate, completionRate := s.cost.Cost(req.Model, routed.Result.Usage)

	resp := &models.CompletionResponse{
		ID:                 uuid.New().String(),
		Model:              routed.Result.NativeModel,
		Provider:           routed.Provider,
		Content:            routed.Result.Content,
		FinishReason:       routed.Result.FinishReason,
		Usage:              routed.Result.Usage,
		CostUSD:            cost,
		LatencyMS:          routed.LatencyMS,
		IsFallback:         routed.IsFallback,
		AttemptedProviders: routed.Attempted,
		Warnings:           warnings,
	}

	s.account(ctx, req, routed, resp, promptRate, completionRate)
	metrics.GatewayRequests.WithLabelValues("success").Inc()
	return resp, nil
}

// validateRequest enforces the request invariants before any store access.
func validateRequest(req *models.CompletionRequest) error {
	if req.Model == "" {
		return services.NewValidationError("model", "is required")
	}
	if len(req.Messages) == 0 {
		return services.NewValidationError("messages", "must be non-empty")
	}
	for i, m := range req.Messages {
		if m.Content == "" {
			return services.NewValidationError("messages", fmt.Sprintf("message %d has empty content", i))
		}
	}
	if req.TenantID == uuid.Nil {
		return services.NewValidationError("tenant_id", "is required")
	}
	return nil
}

// account appends the audit event, bumps the usage counter, and updates
// counters. Failures here are logged only; the completion already happened
// and must be returned.
func (s *Service) account(ctx context.Context, req *models.CompletionRequest,
	routed *providers.RouteResult, resp *models.CompletionResponse, promptRate, completionRate float64) {

	event := &models.LLMEvent{
		TenantID:            req.TenantID,
		RunID:               req.RunID,
		StepID:              req.StepID,
		Provider:            routed.Provider,
		Model:               resp.Model,
		PromptTokens:        resp.Usage.PromptTokens,
		CompletionTokens:    resp.Usage.CompletionTokens,
		TotalTokens:         resp.Usage.TotalTokens,
		CostUSD:             resp.CostUSD,
		CostPer1KPrompt:     promptRate,
		CostPer1KCompletion: completionRate,
		LatencyMS:           resp.LatencyMS,
		Status:              models.EventStatusSuccess,
		IsFallback:          routed.IsFallback,
	}
	if routed.IsFallback && len(routed.Attempted) > 1 {
		event.PreviousProvider = routed.Attempted[len(routed.Attempted)-2]
	}
	if err := s.events.AppendLLMEvent(ctx, event); err != nil {
		slog.Error("Failed to append LLM event", "tenant_id", req.TenantID, "error", err)
	}

	if err := s.budget.AddUsage(ctx, req.TenantID, int64(resp.Usage.TotalTokens)); err != nil {
		slog.Error("Failed to increment usage counter",
			"tenant_id", req.TenantID, "tokens", resp.Usage.TotalTokens, "error", err)
	}

	metrics.GatewayTokens.WithLabelValues(routed.Provider, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.GatewayTokens.WithLabelValues(routed.Provider, "completion").Add(float64(resp.Usage.CompletionTokens))
	metrics.GatewayCostUSD.WithLabelValues(routed.Provider).Add(resp.CostUSD)
	metrics.GatewayLatency.WithLabelValues(routed.Provider).Observe(float64(resp.LatencyMS) / 1000)
}

// recordFailure appends an error audit event for a failed routing attempt.
func (s *Service) recordFailure(ctx context.Context, req *models.CompletionRequest, routeErr error) {
	event := &models.LLMEvent{
		TenantID:     req.TenantID,
		RunID:        req.RunID,
		StepID:       req.StepID,
		Model:        req.Model,
		Status:       models.EventStatusError,
		ErrorMessage: routeErr.Error(),
	}
	var apf *providers.AllProvidersFailedError
	if errors.As(routeErr, &apf) && len(apf.Attempted) > 0 {
		event.Provider = apf.Attempted[len(apf.Attempted)-1]
	}
	if err := s.events.AppendLLMEvent(ctx, event); err != nil {
		slog.Error("Failed to append LLM error event", "tenant_id", req.TenantID, "error", err)
	}
}

// requestWindow is a per-second ring buffer counting the trailing minute of
// requests. Process local; each replica reports its own load.
type requestWindow struct {
	mu      sync.Mutex
	buckets [60]int64
	stamps  [60]int64
}

func (w *requestWindow) add(now time.Time) {
	sec := now.Unix()
	i := sec % 60
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stamps[i] != sec {
		w.stamps[i] = sec
		w.buckets[i] = 0
	}
	w.buckets[i]++
}

func (w *requestWindow) count(now time.Time) int64 {
	sec := now.Unix()
	w.mu.Lock()
	defer w.mu.Unlock()
	var total int64
	for i := range w.buckets {
		if sec-w.stamps[i] < 60 {
			total += w.buckets[i]
		}
	}
	return total
}
