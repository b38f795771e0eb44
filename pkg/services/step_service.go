package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentrun/agentrun/pkg/models"
)

// StepService owns step row transitions. Writes are idempotent by design:
// the worker checks the persisted status before acting, and terminal
// statuses are never overwritten.
type StepService struct {
	pool *pgxpool.Pool
}

// NewStepService creates a new StepService
func NewStepService(pool *pgxpool.Pool) *StepService {
	return &StepService{pool: pool}
}

const stepColumns = `id, run_id, step_name, step_type, step_order, status,
	attempt_number, max_attempts, input_data, output_data, error_message,
	tokens_used, cost_usd, started_at, completed_at, duration_seconds,
	created_at, updated_at`

func scanStep(row pgx.Row) (*models.Step, error) {
	var st models.Step
	err := row.Scan(&st.ID, &st.RunID, &st.StepName, &st.StepType, &st.StepOrder,
		&st.Status, &st.AttemptNumber, &st.MaxAttempts, &st.InputData,
		&st.OutputData, &st.ErrorMessage, &st.TokensUsed, &st.CostUSD,
		&st.StartedAt, &st.CompletedAt, &st.DurationSeconds,
		&st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Get retrieves a step by ID.
func (s *StepService) Get(ctx context.Context, id uuid.UUID) (*models.Step, error) {
	step, err := scanStep(s.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get step: %w", err)
	}
	return step, nil
}

// ListByRun returns a run's steps ordered by step_order.
func (s *StepService) ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.Step, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE run_id = $1 ORDER BY step_order`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []*models.Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// MarkRunning records the start of an execution attempt. A step already in
// 'running' is re-claimable: the only way its message gets redelivered is the
// previous worker's visibility lease expiring, which means that claim is
// stale (the worker crashed or lost the step mid-flight).
func (s *StepService) MarkRunning(ctx context.Context, id uuid.UUID, attempt int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE steps SET
			status = 'running',
			attempt_number = $2,
			started_at = now(),
			updated_at = now()
		 WHERE id = $1 AND status IN ('queued', 'retrying', 'running')`,
		id, attempt)
	if err != nil {
		return fmt.Errorf("failed to mark step running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// MarkSuccess finalizes a step. tokens_used and cost_usd are written
// unconditionally, including zero, so run aggregates and audit events stay
// reconcilable.
func (s *StepService) MarkSuccess(ctx context.Context, id uuid.UUID, output json.RawMessage, tokens int64, cost float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE steps SET
			status = 'success',
			output_data = $2,
			tokens_used = $3,
			cost_usd = $4,
			error_message = '',
			completed_at = now(),
			duration_seconds = CASE WHEN started_at IS NOT NULL
				THEN FLOOR(EXTRACT(EPOCH FROM (now() - started_at)))::int
				ELSE NULL END,
			updated_at = now()
		 WHERE id = $1 AND status = 'running'`,
		id, output, tokens, cost)
	if err != nil {
		return fmt.Errorf("failed to mark step success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// MarkRetrying records a transient failure; the undeleted queue message will
// be redelivered after its visibility timeout.
func (s *StepService) MarkRetrying(ctx context.Context, id uuid.UUID, errorMessage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE steps SET status = 'retrying', error_message = $2, updated_at = now()
		 WHERE id = $1 AND status = 'running'`,
		id, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to mark step retrying: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// MarkFailed finalizes a step as permanently failed.
func (s *StepService) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE steps SET
			status = 'failed',
			error_message = $2,
			completed_at = now(),
			duration_seconds = CASE WHEN started_at IS NOT NULL
				THEN FLOOR(EXTRACT(EPOCH FROM (now() - started_at)))::int
				ELSE NULL END,
			updated_at = now()
		 WHERE id = $1 AND status IN ('queued', 'running', 'retrying')`,
		id, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to mark step failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// MarkSkipped marks a single queued step skipped (run already terminal when
// its message arrived, or a decision branch bypassed it).
func (s *StepService) MarkSkipped(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE steps SET status = 'skipped', error_message = $2, updated_at = now()
		 WHERE id = $1 AND status IN ('queued', 'running', 'retrying')`,
		id, reason)
	if err != nil {
		return fmt.Errorf("failed to mark step skipped: %w", err)
	}
	return nil
}

// SkipRange marks queued steps with fromOrder < step_order < toOrder as
// skipped. Used when a decision branch jumps over intermediate steps.
func (s *StepService) SkipRange(ctx context.Context, runID uuid.UUID, fromOrder, toOrder int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE steps SET status = 'skipped', updated_at = now()
		 WHERE run_id = $1 AND step_order > $2 AND step_order < $3 AND status = 'queued'`,
		runID, fromOrder, toOrder)
	if err != nil {
		return 0, fmt.Errorf("failed to skip steps: %w", err)
	}
	return tag.RowsAffected(), nil
}

// NextQueued returns the first queued step after the given order, or
// ErrNotFound when the run has no work left.
func (s *StepService) NextQueued(ctx context.Context, runID uuid.UUID, afterOrder int) (*models.Step, error) {
	step, err := scanStep(s.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM steps
		 WHERE run_id = $1 AND step_order > $2 AND status = 'queued'
		 ORDER BY step_order LIMIT 1`,
		runID, afterOrder))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find next step: %w", err)
	}
	return step, nil
}

// GetByOrder returns the step at an exact order position.
func (s *StepService) GetByOrder(ctx context.Context, runID uuid.UUID, order int) (*models.Step, error) {
	step, err := scanStep(s.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE run_id = $1 AND step_order = $2`,
		runID, order))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get step by order: %w", err)
	}
	return step, nil
}

// FindByName returns the step with the given name inside a run.
func (s *StepService) FindByName(ctx context.Context, runID uuid.UUID, name string) (*models.Step, error) {
	step, err := scanStep(s.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE run_id = $1 AND step_name = $2`,
		runID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find step by name: %w", err)
	}
	return step, nil
}

// RunState assembles the accumulated run state visible to decision steps:
// completed step names mapped to their output_data.
func (s *StepService) RunState(ctx context.Context, runID uuid.UUID) (map[string]json.RawMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT step_name, output_data FROM steps
		 WHERE run_id = $1 AND status = 'success' ORDER BY step_order`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run state: %w", err)
	}
	defer rows.Close()

	state := make(map[string]json.RawMessage)
	for rows.Next() {
		var (
			name   string
			output json.RawMessage
		)
		if err := rows.Scan(&name, &output); err != nil {
			return nil, fmt.Errorf("failed to scan run state row: %w", err)
		}
		state[name] = output
	}
	return state, rows.Err()
}
