package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Step is one unit of work inside a run. Rows are materialized from the task
// config when the run is created and updated by the worker as execution
// proceeds. (run_id, step_order) is unique; non-parallel runs execute steps
// strictly in step_order.
type Step struct {
	ID              uuid.UUID       `json:"id"`
	RunID           uuid.UUID       `json:"run_id"`
	StepName        string          `json:"step_name"`
	StepType        StepType        `json:"step_type"`
	StepOrder       int             `json:"step_order"`
	Status          StepStatus      `json:"status"`
	AttemptNumber   int             `json:"attempt_number"`
	MaxAttempts     int             `json:"max_attempts"`
	InputData       json.RawMessage `json:"input_data,omitempty"`
	OutputData      json.RawMessage `json:"output_data,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	TokensUsed      int64           `json:"tokens_used"`
	CostUSD         float64         `json:"cost_usd"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	DurationSeconds *int            `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// StepResult carries the outcome of one step execution attempt back to the
// message-handling layer, which decides retry versus dead-letter.
type StepResult struct {
	Output     json.RawMessage
	TokensUsed int64
	CostUSD    float64
}
