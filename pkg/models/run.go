package models

import (
	"time"

	"github.com/google/uuid"
)

// Run is one execution of a task. The worker owns step-level progress; run
// aggregates (tokens_used, estimated_cost_usd) accumulate as steps succeed.
// Terminal statuses are absorbing; transitions use compare-and-set on the
// current status so concurrent writers cannot resurrect a finished run.
type Run struct {
	ID               uuid.UUID  `json:"id"`
	TaskID           uuid.UUID  `json:"task_id"`
	TenantID         uuid.UUID  `json:"tenant_id"`
	CreatedBy        string     `json:"created_by,omitempty"`
	Status           RunStatus  `json:"status"`
	TokenBudget      int64      `json:"token_budget"`
	TokensUsed       int64      `json:"tokens_used"`
	EstimatedCostUSD float64    `json:"estimated_cost_usd"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	DurationSeconds  *int       `json:"duration_seconds,omitempty"`
	CurrentStep      string     `json:"current_step,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// RunFilters narrows run listings.
type RunFilters struct {
	TenantID uuid.UUID
	Status   RunStatus
	TaskID   *uuid.UUID
	Limit    int
	Offset   int
}

// RunMetrics aggregates step and event counts for one run.
type RunMetrics struct {
	RunID            uuid.UUID `json:"run_id"`
	TotalSteps       int       `json:"total_steps"`
	CompletedSteps   int       `json:"completed_steps"`
	FailedSteps      int       `json:"failed_steps"`
	TokensUsed       int64     `json:"tokens_used"`
	EstimatedCostUSD float64   `json:"estimated_cost_usd"`
	DurationSeconds  *int      `json:"duration_seconds,omitempty"`
	LLMCalls         int       `json:"llm_calls"`
	ToolCalls        int       `json:"tool_calls"`
}

// TenantMetrics aggregates run statistics for one tenant over a period.
type TenantMetrics struct {
	TenantID              uuid.UUID `json:"tenant_id"`
	PeriodStart           time.Time `json:"period_start"`
	PeriodEnd             time.Time `json:"period_end"`
	TotalRuns             int       `json:"total_runs"`
	CompletedRuns         int       `json:"completed_runs"`
	FailedRuns            int       `json:"failed_runs"`
	TotalTokens           int64     `json:"total_tokens"`
	TotalCostUSD          float64   `json:"total_cost_usd"`
	AvgRunDurationSeconds float64   `json:"avg_run_duration_seconds"`
}
