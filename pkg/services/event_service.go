package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentrun/agentrun/pkg/models"
)

// EventService appends audit rows. Events are append-only: per-call outcomes
// are recorded regardless of the enclosing run's aggregate status.
type EventService struct {
	pool *pgxpool.Pool
}

// NewEventService creates a new EventService
func NewEventService(pool *pgxpool.Pool) *EventService {
	return &EventService{pool: pool}
}

// AppendLLMEvent records one provider call.
func (s *EventService) AppendLLMEvent(ctx context.Context, e *models.LLMEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO llm_events (id, tenant_id, run_id, step_id, provider, model,
			prompt_tokens, completion_tokens, total_tokens, cost_usd,
			cost_per_1k_prompt, cost_per_1k_completion, latency_ms, status,
			error_message, is_fallback, previous_provider, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		e.ID, e.TenantID, e.RunID, e.StepID, e.Provider, e.Model,
		e.PromptTokens, e.CompletionTokens, e.TotalTokens, e.CostUSD,
		e.CostPer1KPrompt, e.CostPer1KCompletion, e.LatencyMS, e.Status,
		e.ErrorMessage, e.IsFallback, e.PreviousProvider, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append llm event: %w", err)
	}
	return nil
}

// AppendToolEvent records one tool dispatch.
func (s *EventService) AppendToolEvent(ctx context.Context, e *models.ToolEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tool_events (id, tenant_id, run_id, step_id, tool_name, action,
			status, error_message, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.TenantID, e.RunID, e.StepID, e.ToolName, e.Action,
		e.Status, e.ErrorMessage, e.DurationMS, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append tool event: %w", err)
	}
	return nil
}

// ListLLMEventsByRun returns a run's provider calls in creation order.
func (s *EventService) ListLLMEventsByRun(ctx context.Context, runID uuid.UUID) ([]*models.LLMEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, run_id, step_id, provider, model, prompt_tokens,
			completion_tokens, total_tokens, cost_usd, cost_per_1k_prompt,
			cost_per_1k_completion, latency_ms, status, error_message,
			is_fallback, previous_provider, created_at
		 FROM llm_events WHERE run_id = $1 ORDER BY created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list llm events: %w", err)
	}
	defer rows.Close()

	var events []*models.LLMEvent
	for rows.Next() {
		var e models.LLMEvent
		err := rows.Scan(&e.ID, &e.TenantID, &e.RunID, &e.StepID, &e.Provider,
			&e.Model, &e.PromptTokens, &e.CompletionTokens, &e.TotalTokens,
			&e.CostUSD, &e.CostPer1KPrompt, &e.CostPer1KCompletion, &e.LatencyMS,
			&e.Status, &e.ErrorMessage, &e.IsFallback, &e.PreviousProvider, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan llm event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// SumLLMTokensForTenant totals successful llm_event tokens for a tenant up
// to an instant. The reconciliation invariant compares this against the fast
// store counter plus the relational used column.
func (s *EventService) SumLLMTokensForTenant(ctx context.Context, tenantID uuid.UUID, until time.Time) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(total_tokens), 0) FROM llm_events
		 WHERE tenant_id = $1 AND status = 'success' AND created_at <= $2`,
		tenantID, until).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum llm tokens: %w", err)
	}
	return total, nil
}
