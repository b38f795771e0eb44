package models

// RunStatus defines the lifecycle states of a run
type RunStatus string

const (
	// RunStatusPending means the run is created but no step has started
	RunStatusPending RunStatus = "pending"
	// RunStatusRunning means at least one step has started executing
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted means every step finished successfully
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed means a step failed permanently
	RunStatusFailed RunStatus = "failed"
	// RunStatusCancelled means the run was cancelled by a caller
	RunStatusCancelled RunStatus = "cancelled"
	// RunStatusTimeout means the run exceeded its task timeout
	RunStatusTimeout RunStatus = "timeout"
	// RunStatusBudgetExceeded means the tenant token budget blocked execution
	RunStatusBudgetExceeded RunStatus = "budget_exceeded"
)

// IsValid checks if the run status is a known value
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusPending,
		RunStatusRunning,
		RunStatusCompleted,
		RunStatusFailed,
		RunStatusCancelled,
		RunStatusTimeout,
		RunStatusBudgetExceeded:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is absorbing: once a run reaches a
// terminal status no further transitions are applied.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted,
		RunStatusFailed,
		RunStatusCancelled,
		RunStatusTimeout,
		RunStatusBudgetExceeded:
		return true
	default:
		return false
	}
}

// StepStatus defines the lifecycle states of a step
type StepStatus string

const (
	// StepStatusQueued means the step message is enqueued but not picked up
	StepStatusQueued StepStatus = "queued"
	// StepStatusRunning means a worker is executing the step
	StepStatusRunning StepStatus = "running"
	// StepStatusSuccess means the step completed successfully
	StepStatusSuccess StepStatus = "success"
	// StepStatusFailed means the step failed permanently
	StepStatusFailed StepStatus = "failed"
	// StepStatusRetrying means the step failed transiently and awaits redelivery
	StepStatusRetrying StepStatus = "retrying"
	// StepStatusSkipped means a decision branch or run cancellation bypassed the step
	StepStatusSkipped StepStatus = "skipped"
)

// IsValid checks if the step status is a known value
func (s StepStatus) IsValid() bool {
	switch s {
	case StepStatusQueued,
		StepStatusRunning,
		StepStatusSuccess,
		StepStatusFailed,
		StepStatusRetrying,
		StepStatusSkipped:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the step reached a final outcome.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusSuccess || s == StepStatusFailed || s == StepStatusSkipped
}

// StepType defines the kinds of steps a task can declare
type StepType string

const (
	// StepTypeLLM calls an LLM provider through the gateway
	StepTypeLLM StepType = "llm"
	// StepTypeTool dispatches a tool action inline on the worker
	StepTypeTool StepType = "tool"
	// StepTypeDecision evaluates a predicate and selects a branch
	StepTypeDecision StepType = "decision"
	// StepTypeParallel fans out child steps concurrently
	StepTypeParallel StepType = "parallel"
)

// IsValid checks if the step type is a known value
func (t StepType) IsValid() bool {
	switch t {
	case StepTypeLLM, StepTypeTool, StepTypeDecision, StepTypeParallel:
		return true
	default:
		return false
	}
}

// EventStatus marks the outcome recorded on an audit event row
type EventStatus string

const (
	// EventStatusSuccess marks a call that completed normally
	EventStatusSuccess EventStatus = "success"
	// EventStatusError marks a call that failed
	EventStatusError EventStatus = "error"
)

// TenantStatus defines tenant account states
type TenantStatus string

const (
	// TenantStatusActive allows the tenant to execute runs and LLM calls
	TenantStatusActive TenantStatus = "active"
	// TenantStatusSuspended blocks new runs and LLM calls
	TenantStatusSuspended TenantStatus = "suspended"
)
