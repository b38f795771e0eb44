package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agentrun/agentrun/pkg/metrics"
	"github.com/agentrun/agentrun/pkg/models"
	"github.com/agentrun/agentrun/pkg/services"
)

// tenantIDQuery extracts and parses the mandatory tenant_id query parameter.
func tenantIDQuery(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Query("tenant_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id query parameter is required"})
		return uuid.Nil, false
	}
	return id, true
}

// runIDParam parses the :id path parameter.
func runIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return uuid.Nil, false
	}
	return id, true
}

// createTenant handles POST /api/v1/tenants.
func (s *Server) createTenant(c *gin.Context) {
	var tenant models.Tenant
	if err := c.ShouldBindJSON(&tenant); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.tenants.Create(c.Request.Context(), &tenant); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tenant)
}

// createTask handles POST /api/v1/tasks.
func (s *Server) createTask(c *gin.Context) {
	var req models.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task, err := s.tasks.Create(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// createRun handles POST /api/v1/runs: materializes step rows from the task
// config and enqueues the first step.
func (s *Server) createRun(c *gin.Context) {
	var req models.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.runs.Create(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	metrics.RunsCreated.Inc()
	c.JSON(http.StatusCreated, run)
}

// listRuns handles GET /api/v1/runs.
func (s *Server) listRuns(c *gin.Context) {
	tenantID, ok := tenantIDQuery(c)
	if !ok {
		return
	}

	filters := models.RunFilters{TenantID: tenantID}
	if status := c.Query("status"); status != "" {
		filters.Status = models.RunStatus(status)
		if !filters.Status.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status filter"})
			return
		}
	}
	if taskID := c.Query("task_id"); taskID != "" {
		id, err := uuid.Parse(taskID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task_id filter"})
			return
		}
		filters.TaskID = &id
	}
	filters.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filters.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	runs, err := s.runs.List(c.Request.Context(), filters)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// getRun handles GET /api/v1/runs/:id.
func (s *Server) getRun(c *gin.Context) {
	id, ok := runIDParam(c)
	if !ok {
		return
	}
	tenantID, ok := tenantIDQuery(c)
	if !ok {
		return
	}

	run, err := s.runs.GetForTenant(c.Request.Context(), id, tenantID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// listRunSteps handles GET /api/v1/runs/:id/steps.
func (s *Server) listRunSteps(c *gin.Context) {
	id, ok := runIDParam(c)
	if !ok {
		return
	}
	tenantID, ok := tenantIDQuery(c)
	if !ok {
		return
	}

	if _, err := s.runs.GetForTenant(c.Request.Context(), id, tenantID); err != nil {
		writeServiceError(c, err)
		return
	}
	steps, err := s.steps.ListByRun(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"steps": steps, "count": len(steps)})
}

// runMetrics handles GET /api/v1/runs/:id/metrics.
func (s *Server) runMetrics(c *gin.Context) {
	id, ok := runIDParam(c)
	if !ok {
		return
	}
	tenantID, ok := tenantIDQuery(c)
	if !ok {
		return
	}

	m, err := s.runs.Metrics(c.Request.Context(), id, tenantID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// updateRunStatus handles PUT /api/v1/runs/:id/status, the internal
// transition endpoint. Conflicting transitions return 409; re-applying the
// current terminal status is an idempotent 200.
func (s *Server) updateRunStatus(c *gin.Context) {
	id, ok := runIDParam(c)
	if !ok {
		return
	}
	var req models.UpdateRunStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}

	if err := s.runs.Transition(c.Request.Context(), id, req.Status, req.ErrorMessage, req.CurrentStep); err != nil {
		writeServiceError(c, err)
		return
	}
	run, err := s.runs.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// cancelRun handles DELETE /api/v1/runs/:id. Only pending and running runs
// are cancellable; anything else is a client error.
func (s *Server) cancelRun(c *gin.Context) {
	id, ok := runIDParam(c)
	if !ok {
		return
	}
	tenantID, ok := tenantIDQuery(c)
	if !ok {
		return
	}

	run, err := s.runs.Cancel(c.Request.Context(), id, tenantID)
	if err != nil {
		if errors.Is(err, services.ErrInvalidTransition) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "run is not cancellable", "message": err.Error()})
			return
		}
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// tenantMetrics handles GET /api/v1/metrics/tenant.
func (s *Server) tenantMetrics(c *gin.Context) {
	tenantID, ok := tenantIDQuery(c)
	if !ok {
		return
	}
	periodDays, _ := strconv.Atoi(c.DefaultQuery("period_days", "30"))

	m, err := s.runs.TenantMetrics(c.Request.Context(), tenantID, periodDays)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}
