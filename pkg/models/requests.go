package models

import "github.com/google/uuid"

// CreateRunRequest is the control-plane payload for starting a run.
// TokenBudget overrides the task's default when set.
type CreateRunRequest struct {
	TaskID      uuid.UUID      `json:"task_id" binding:"required"`
	TenantID    uuid.UUID      `json:"tenant_id" binding:"required"`
	CreatedBy   string         `json:"created_by"`
	TokenBudget *int64         `json:"token_budget"`
	Input       map[string]any `json:"input"`
}

// UpdateRunStatusRequest drives run status transitions through the internal
// status-update endpoint. Transitions obey the compare-and-set rules:
// terminal states are absorbing, re-applying a terminal status is a no-op.
type UpdateRunStatusRequest struct {
	Status       RunStatus `json:"status" binding:"required"`
	ErrorMessage string    `json:"error_message"`
	CurrentStep  string    `json:"current_step"`
}

// CreateTaskRequest is the control-plane payload for defining a task.
type CreateTaskRequest struct {
	TenantID           uuid.UUID  `json:"tenant_id" binding:"required"`
	Name               string     `json:"name" binding:"required"`
	Config             TaskConfig `json:"task_config"`
	DefaultTokenBudget int64      `json:"default_token_budget"`
	TimeoutSeconds     int        `json:"timeout_seconds"`
	MaxRetries         int        `json:"max_retries"`
}
