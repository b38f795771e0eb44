// Package api implements the control-plane HTTP server: run creation and
// queries, status transitions, cancellation, and tenant metrics. All
// endpoints are tenant-scoped via explicit tenant_id; authentication is
// handled upstream.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/database"
	"github.com/agentrun/agentrun/pkg/metrics"
	"github.com/agentrun/agentrun/pkg/services"
	"github.com/agentrun/agentrun/pkg/version"
)

// Server is the control-plane HTTP server.
type Server struct {
	pool    *pgxpool.Pool
	runs    *services.RunService
	steps   *services.StepService
	tasks   *services.TaskService
	tenants *services.TenantService
	http    *http.Server
}

// NewServer creates the server and wires its routes.
func NewServer(cfg *config.ControlPlaneConfig, pool *pgxpool.Pool,
	runs *services.RunService, steps *services.StepService,
	tasks *services.TaskService, tenants *services.TenantService) *Server {

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		pool:    pool,
		runs:    runs,
		steps:   steps,
		tasks:   tasks,
		tenants: tenants,
	}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/tenants", s.createTenant)
		v1.POST("/tasks", s.createTask)
		v1.POST("/runs", s.createRun)
		v1.GET("/runs", s.listRuns)
		v1.GET("/runs/:id", s.getRun)
		v1.GET("/runs/:id/steps", s.listRunSteps)
		v1.GET("/runs/:id/metrics", s.runMetrics)
		v1.PUT("/runs/:id/status", s.updateRunStatus)
		v1.DELETE("/runs/:id", s.cancelRun)
		v1.GET("/metrics/tenant", s.tenantMetrics)
	}
	router.GET("/healthz", s.healthz)
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
	slog.Info("Starting control-plane API", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control-plane server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// healthz handles GET /healthz with a database ping.
func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.pool)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"version":  version.Version,
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"version":  version.Version,
		"database": dbHealth,
	})
}
