package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/metrics"
	"github.com/agentrun/agentrun/pkg/models"
	"github.com/agentrun/agentrun/pkg/providers"
	"github.com/agentrun/agentrun/pkg/services"
	"github.com/agentrun/agentrun/pkg/version"
)

// Server is the gateway HTTP server.
type Server struct {
	cfg     *config.GatewayConfig
	service *Service
	http    *http.Server
}

// NewServer creates the gateway server and wires its routes.
func NewServer(cfg *config.GatewayConfig, service *Service) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{cfg: cfg, service: service}
	router.POST("/v1/completions", s.handleCompletion)
	router.GET("/health", s.handleHealth)
	router.GET("/metrics", metrics.Handler())

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("Starting LLM gateway", "addr", s.cfg.ListenAddr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handleCompletion handles POST /v1/completions.
func (s *Server) handleCompletion(c *gin.Context) {
	var req models.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.GatewayError{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	resp, err := s.service.Complete(ctx, &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// writeError maps pipeline errors onto the HTTP edge.
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		rateErr   *RateLimitedError
		budgetErr *BudgetExceededError
		allFailed *providers.AllProvidersFailedError
		provRate  *providers.RateLimitError
		validErr  *services.ValidationError
	)

	switch {
	case errors.As(err, &validErr):
		c.JSON(http.StatusBadRequest, models.GatewayError{
			Error:   "invalid_request",
			Message: validErr.Error(),
		})
	case errors.Is(err, providers.ErrModelNotSupported):
		c.JSON(http.StatusBadRequest, models.GatewayError{
			Error:   "model_not_supported",
			Message: err.Error(),
		})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusBadRequest, models.GatewayError{
			Error:   "invalid_request",
			Message: "unknown tenant",
		})
	case errors.Is(err, ErrTenantSuspended):
		c.JSON(http.StatusForbidden, models.GatewayError{
			Error:   "tenant_suspended",
			Message: err.Error(),
		})
	case errors.As(err, &budgetErr):
		c.JSON(http.StatusPaymentRequired, models.GatewayError{
			Error:   "budget_exceeded",
			Message: budgetErr.Error(),
		})
	case errors.As(err, &rateErr):
		c.Header("Retry-After", strconv.Itoa(int(rateErr.RetryAfter.Seconds())))
		c.JSON(http.StatusTooManyRequests, models.GatewayError{
			Error:   "rate_limit_exceeded",
			Message: rateErr.Error(),
		})
	case errors.As(err, &provRate):
		c.Header("Retry-After", strconv.Itoa(int(provRate.RetryAfter.Seconds())))
		c.JSON(http.StatusTooManyRequests, models.GatewayError{
			Error:   "rate_limit_exceeded",
			Message: provRate.Error(),
		})
	case errors.As(err, &allFailed):
		c.JSON(http.StatusServiceUnavailable, models.GatewayError{
			Error:              "all_providers_failed",
			Message:            allFailed.Error(),
			AttemptedProviders: allFailed.Attempted,
		})
	default:
		slog.Error("Unexpected completion error", "error", err)
		c.JSON(http.StatusInternalServerError, models.GatewayError{
			Error:   "internal_error",
			Message: "internal server error",
		})
	}
}

// providerHealth is one entry of the health provider list.
type providerHealth struct {
	Provider            string   `json:"provider"`
	Status              string   `json:"status"`
	CircuitBreakerState string   `json:"circuit_breaker_state"`
	Models              []string `json:"models,omitempty"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(c *gin.Context) {
	router := s.service.Router()
	provs := make([]providerHealth, 0, len(router.Providers()))
	for _, p := range router.Providers() {
		state := router.Breaker(p.Name()).State()
		status := "available"
		if state == providers.BreakerOpen {
			status = "unavailable"
		}
		provs = append(provs, providerHealth{
			Provider:            p.Name(),
			Status:              status,
			CircuitBreakerState: state,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"status":               "healthy",
		"version":              version.Version,
		"providers":            provs,
		"cache_hit_rate":       s.service.Budget().CacheHitRate(),
		"requests_last_minute": s.service.RequestsLastMinute(),
	})
}
