package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentrun/agentrun/pkg/models"
)

// StepEnqueuer pushes step messages onto the main step queue. Implemented by
// pkg/queue; the indirection keeps the persistence layer free of queue
// internals.
type StepEnqueuer interface {
	EnqueueStep(ctx context.Context, msg *models.StepMessage) error
}

// RunService owns run creation and run status transitions. Transitions are
// compare-and-set on (id, current status): terminal states absorb everything,
// and re-applying the same terminal status is a no-op.
type RunService struct {
	pool     *pgxpool.Pool
	tasks    *TaskService
	tenants  *TenantService
	enqueuer StepEnqueuer
}

// NewRunService creates a new RunService. enqueuer may be nil for read-only
// consumers (the gateway never creates runs).
func NewRunService(pool *pgxpool.Pool, tasks *TaskService, tenants *TenantService, enqueuer StepEnqueuer) *RunService {
	return &RunService{pool: pool, tasks: tasks, tenants: tenants, enqueuer: enqueuer}
}

const runColumns = `id, task_id, tenant_id, created_by, status, token_budget,
	tokens_used, estimated_cost_usd, started_at, completed_at, duration_seconds,
	current_step, error_message, created_at, updated_at`

func scanRun(row pgx.Row) (*models.Run, error) {
	var r models.Run
	err := row.Scan(&r.ID, &r.TaskID, &r.TenantID, &r.CreatedBy, &r.Status,
		&r.TokenBudget, &r.TokensUsed, &r.EstimatedCostUSD, &r.StartedAt,
		&r.CompletedAt, &r.DurationSeconds, &r.CurrentStep, &r.ErrorMessage,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Create validates the tenant budget, inserts the run and its step rows in
// one transaction, and enqueues the first step message. The run starts
// pending; the worker flips it to running when the first step is claimed.
func (s *RunService) Create(ctx context.Context, req models.CreateRunRequest) (*models.Run, error) {
	task, err := s.tasks.GetActive(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if task.TenantID != req.TenantID {
		return nil, ErrNotFound
	}

	budget := task.DefaultTokenBudget
	if req.TokenBudget != nil {
		if *req.TokenBudget <= 0 {
			return nil, NewValidationError("token_budget", "must be > 0")
		}
		budget = *req.TokenBudget
	}

	tenant, err := s.tenants.Get(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	if tenant.Status != models.TenantStatusActive {
		return nil, NewValidationError("tenant_id", "tenant is suspended")
	}
	if tenant.TokenUsedCurrentMonth+budget > tenant.TokenBudgetMonthly {
		return nil, ErrBudgetExceeded
	}

	now := time.Now().UTC()
	run := &models.Run{
		ID:          uuid.New(),
		TaskID:      task.ID,
		TenantID:    req.TenantID,
		CreatedBy:   req.CreatedBy,
		Status:      models.RunStatusPending,
		TokenBudget: budget,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	steps, firstMsg, err := materializeSteps(run, task, req.Input)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO runs (id, task_id, tenant_id, created_by, status, token_budget,
			tokens_used, estimated_cost_usd, current_step, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, 0, '', '', $7, $7)`,
		run.ID, run.TaskID, run.TenantID, run.CreatedBy, run.Status, run.TokenBudget, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	for _, step := range steps {
		_, err = tx.Exec(ctx,
			`INSERT INTO steps (id, run_id, step_name, step_type, step_order, status,
				attempt_number, max_attempts, input_data, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $9)`,
			step.ID, step.RunID, step.StepName, step.StepType, step.StepOrder,
			step.Status, step.MaxAttempts, step.InputData, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert step %q: %w", step.StepName, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit run creation: %w", err)
	}

	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueueStep(ctx, firstMsg); err != nil {
			// The run stays pending; an operator (or retry) can re-enqueue.
			slog.Error("Failed to enqueue first step", "run_id", run.ID, "error", err)
			return nil, fmt.Errorf("failed to enqueue first step: %w", err)
		}
	}

	return run, nil
}

// materializeSteps turns the task's ordered step specs into step rows and
// builds the first step's queue message.
func materializeSteps(run *models.Run, task *models.Task, input map[string]any) ([]*models.Step, *models.StepMessage, error) {
	if len(task.Config.Steps) == 0 {
		return nil, nil, NewValidationError("task_config", "task has no steps")
	}

	steps := make([]*models.Step, 0, len(task.Config.Steps))
	for i, spec := range task.Config.Steps {
		cfg := spec.Config
		// The run input is visible to the first step only; later steps see
		// prior outputs through accumulated run state.
		if i == 0 && len(input) > 0 {
			cfg = make(map[string]any, len(spec.Config)+1)
			for k, v := range spec.Config {
				cfg[k] = v
			}
			cfg["input"] = input
		}
		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal config of step %q: %w", spec.Name, err)
		}
		steps = append(steps, &models.Step{
			ID:          uuid.New(),
			RunID:       run.ID,
			StepName:    spec.Name,
			StepType:    spec.Type,
			StepOrder:   i,
			Status:      models.StepStatusQueued,
			MaxAttempts: task.MaxRetries,
			InputData:   cfgJSON,
		})
	}

	first := steps[0]
	msg := &models.StepMessage{
		RunID:      run.ID,
		StepID:     first.ID,
		StepName:   first.StepName,
		StepType:   first.StepType,
		StepConfig: first.InputData,
		Attempt:    1,
	}
	return steps, msg, nil
}

// Get retrieves a run by ID, optionally scoped to a tenant.
func (s *RunService) Get(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	run, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetForTenant retrieves a run and verifies tenant ownership.
func (s *RunService) GetForTenant(ctx context.Context, id, tenantID uuid.UUID) (*models.Run, error) {
	run, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return run, nil
}

// List returns runs matching the filters, newest first.
func (s *RunService) List(ctx context.Context, filters models.RunFilters) ([]*models.Run, error) {
	limit := filters.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `SELECT ` + runColumns + ` FROM runs WHERE tenant_id = $1`
	args := []any{filters.TenantID}
	if filters.Status != "" {
		args = append(args, filters.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filters.TaskID != nil {
		args = append(args, *filters.TaskID)
		query += fmt.Sprintf(" AND task_id = $%d", len(args))
	}
	args = append(args, limit, filters.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// allowedTransitions maps a target status to the statuses it may be applied
// from. Terminal targets absorb idempotent re-application separately.
var allowedTransitions = map[models.RunStatus][]models.RunStatus{
	models.RunStatusRunning:        {models.RunStatusPending},
	models.RunStatusCompleted:      {models.RunStatusRunning},
	models.RunStatusFailed:         {models.RunStatusPending, models.RunStatusRunning},
	models.RunStatusCancelled:      {models.RunStatusPending, models.RunStatusRunning},
	models.RunStatusTimeout:        {models.RunStatusRunning},
	models.RunStatusBudgetExceeded: {models.RunStatusPending, models.RunStatusRunning},
}

// Transition applies a compare-and-set status change. Reaching running sets
// started_at once; reaching a terminal status sets completed_at and
// duration_seconds once. Returns ErrInvalidTransition when the current
// status does not permit the change; re-applying the current terminal
// status is a silent no-op.
func (s *RunService) Transition(ctx context.Context, id uuid.UUID, to models.RunStatus, errorMessage, currentStep string) error {
	from, ok := allowedTransitions[to]
	if !ok {
		return NewValidationError("status", fmt.Sprintf("cannot transition to %q", to))
	}

	fromStrs := make([]string, len(from))
	for i, st := range from {
		fromStrs[i] = string(st)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET
			status = $2,
			error_message = CASE WHEN $3 <> '' THEN $3 ELSE error_message END,
			current_step = CASE WHEN $4 <> '' THEN $4 ELSE current_step END,
			started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
			completed_at = CASE WHEN $2 <> 'running' AND completed_at IS NULL THEN now() ELSE completed_at END,
			duration_seconds = CASE
				WHEN $2 <> 'running' AND duration_seconds IS NULL AND started_at IS NOT NULL
				THEN FLOOR(EXTRACT(EPOCH FROM (now() - started_at)))::int
				ELSE duration_seconds END,
			updated_at = now()
		 WHERE id = $1 AND status = ANY($5)`,
		id, to, errorMessage, currentStep, fromStrs)
	if err != nil {
		return fmt.Errorf("failed to transition run: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// CAS missed: distinguish idempotent re-apply from a real conflict.
	run, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if run.Status == to {
		return nil
	}
	return fmt.Errorf("%w: run %s is %s, cannot become %s", ErrInvalidTransition, id, run.Status, to)
}

// Cancel transitions a pending or running run to cancelled. In-flight steps
// finish on their own clock; their outcome is recorded but no successor is
// enqueued once the run is terminal.
func (s *RunService) Cancel(ctx context.Context, id, tenantID uuid.UUID) (*models.Run, error) {
	run, err := s.GetForTenant(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	if err := s.Transition(ctx, id, models.RunStatusCancelled, "cancelled by user", ""); err != nil {
		return nil, err
	}
	run, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// AddStepTotals atomically folds a finished step's usage into the run
// aggregates and records the step as the run's current position. Zero usage
// still updates the row so the reconciliation invariant stays tight.
func (s *RunService) AddStepTotals(ctx context.Context, id uuid.UUID, tokens int64, cost float64, currentStep string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET
			tokens_used = tokens_used + $2,
			estimated_cost_usd = estimated_cost_usd + $3,
			current_step = $4,
			updated_at = now()
		 WHERE id = $1`,
		id, tokens, cost, currentStep)
	if err != nil {
		return fmt.Errorf("failed to add step totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Metrics aggregates step and event counts for one run.
func (s *RunService) Metrics(ctx context.Context, id, tenantID uuid.UUID) (*models.RunMetrics, error) {
	run, err := s.GetForTenant(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}

	m := &models.RunMetrics{
		RunID:            run.ID,
		TokensUsed:       run.TokensUsed,
		EstimatedCostUSD: run.EstimatedCostUSD,
		DurationSeconds:  run.DurationSeconds,
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'failed')
		 FROM steps WHERE run_id = $1`, id).
		Scan(&m.TotalSteps, &m.CompletedSteps, &m.FailedSteps)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate steps: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM llm_events WHERE run_id = $1),
			(SELECT COUNT(*) FROM tool_events WHERE run_id = $1)`, id).
		Scan(&m.LLMCalls, &m.ToolCalls)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate events: %w", err)
	}
	return m, nil
}

// TenantMetrics aggregates run statistics for a tenant over the trailing
// period.
func (s *RunService) TenantMetrics(ctx context.Context, tenantID uuid.UUID, periodDays int) (*models.TenantMetrics, error) {
	if periodDays <= 0 {
		periodDays = 30
	}
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -periodDays)

	m := &models.TenantMetrics{
		TenantID:    tenantID,
		PeriodStart: start,
		PeriodEnd:   end,
	}
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status IN ('failed', 'timeout', 'budget_exceeded')),
			COALESCE(SUM(tokens_used), 0),
			COALESCE(SUM(estimated_cost_usd), 0),
			COALESCE(AVG(duration_seconds), 0)
		 FROM runs WHERE tenant_id = $1 AND created_at >= $2`,
		tenantID, start).
		Scan(&m.TotalRuns, &m.CompletedRuns, &m.FailedRuns,
			&m.TotalTokens, &m.TotalCostUSD, &m.AvgRunDurationSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate tenant runs: %w", err)
	}
	return m, nil
}

// ExpireTimedOut transitions running runs past their task timeout to the
// timeout status. Returns the IDs of expired runs.
func (s *RunService) ExpireTimedOut(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE runs SET
			status = 'timeout',
			error_message = 'run timeout exceeded',
			completed_at = now(),
			duration_seconds = FLOOR(EXTRACT(EPOCH FROM (now() - started_at)))::int,
			updated_at = now()
		 WHERE status = 'running'
		   AND started_at IS NOT NULL
		   AND id IN (
				SELECT r.id FROM runs r
				JOIN tasks t ON t.id = r.task_id
				WHERE r.status = 'running'
				  AND r.started_at IS NOT NULL
				  AND now() - r.started_at > make_interval(secs => t.timeout_seconds)
		   )
		 RETURNING id`)
	if err != nil {
		return nil, fmt.Errorf("failed to expire runs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan expired run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
