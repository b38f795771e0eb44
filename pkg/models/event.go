package models

import (
	"time"

	"github.com/google/uuid"
)

// LLMEvent is the append-only audit record of one provider call. It is the
// source of truth for post-hoc cost attribution: the reconciliation invariant
// says fast-store counter + relational used equals the sum of these rows'
// total_tokens per tenant, within one reconciliation cycle.
type LLMEvent struct {
	ID                  uuid.UUID   `json:"id"`
	TenantID            uuid.UUID   `json:"tenant_id"`
	RunID               *uuid.UUID  `json:"run_id,omitempty"`
	StepID              *uuid.UUID  `json:"step_id,omitempty"`
	Provider            string      `json:"provider"`
	Model               string      `json:"model"`
	PromptTokens        int         `json:"prompt_tokens"`
	CompletionTokens    int         `json:"completion_tokens"`
	TotalTokens         int         `json:"total_tokens"`
	CostUSD             float64     `json:"cost_usd"`
	CostPer1KPrompt     float64     `json:"cost_per_1k_prompt"`
	CostPer1KCompletion float64     `json:"cost_per_1k_completion"`
	LatencyMS           int         `json:"latency_ms"`
	Status              EventStatus `json:"status"`
	ErrorMessage        string      `json:"error_message,omitempty"`
	IsFallback          bool        `json:"is_fallback"`
	PreviousProvider    string      `json:"previous_provider,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
}

// ToolEvent is the append-only audit record of one tool dispatch.
type ToolEvent struct {
	ID           uuid.UUID   `json:"id"`
	TenantID     uuid.UUID   `json:"tenant_id"`
	RunID        uuid.UUID   `json:"run_id"`
	StepID       uuid.UUID   `json:"step_id"`
	ToolName     string      `json:"tool_name"`
	Action       string      `json:"action"`
	Status       EventStatus `json:"status"`
	ErrorMessage string      `json:"error_message,omitempty"`
	DurationMS   int         `json:"duration_ms"`
	CreatedAt    time.Time   `json:"created_at"`
}
