package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentrun/agentrun/pkg/metrics"
	"github.com/agentrun/agentrun/pkg/version"
)

// HealthServer exposes the worker pool's health and metrics endpoints.
type HealthServer struct {
	pool *WorkerPool
	http *http.Server
}

// NewHealthServer creates the server for the given pool.
func NewHealthServer(addr string, pool *WorkerPool) *HealthServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &HealthServer{pool: pool}
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", metrics.Handler())

	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *HealthServer) Start() error {
	slog.Info("Starting worker health server", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("worker health server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *HealthServer) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *HealthServer) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	health := s.pool.Health(ctx)
	metrics.QueueDepth.WithLabelValues(s.pool.queue.Name()).Set(float64(health.QueueDepth))
	metrics.QueueDepth.WithLabelValues(s.pool.queue.DLQName()).Set(float64(health.DLQDepth))

	status := http.StatusOK
	if !health.IsHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"version": version.Version,
		"pool":    health,
	})
}
