package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// DLQ reasons attached to dead-lettered messages.
const (
	DLQReasonInvalidJSON   = "invalid_json"
	DLQReasonMissingFields = "missing_required_fields"
	DLQReasonMaxAttempts   = "max_attempts_exceeded"
)

// StepMessage is the queue envelope for one step execution. Bodies are
// immutable in flight; redelivery surfaces as a higher receive count, not a
// rewritten attempt field.
type StepMessage struct {
	RunID      uuid.UUID       `json:"run_id"`
	StepID     uuid.UUID       `json:"step_id"`
	StepName   string          `json:"step_name"`
	StepType   StepType        `json:"step_type"`
	StepConfig json.RawMessage `json:"step_config"`
	Attempt    int             `json:"attempt"`
}

// Validate checks the envelope carries every required key. step_config may
// be empty; everything else is mandatory.
func (m *StepMessage) Validate() error {
	if m.RunID == uuid.Nil {
		return fmt.Errorf("missing run_id")
	}
	if m.StepID == uuid.Nil {
		return fmt.Errorf("missing step_id")
	}
	if m.StepName == "" {
		return fmt.Errorf("missing step_name")
	}
	if m.StepType == "" {
		return fmt.Errorf("missing step_type")
	}
	if !m.StepType.IsValid() {
		return fmt.Errorf("unknown step_type %q", m.StepType)
	}
	if m.Attempt < 1 {
		return fmt.Errorf("attempt must be >= 1")
	}
	return nil
}

// DLQMessage wraps a dead-lettered step message with its failure context.
type DLQMessage struct {
	StepMessage
	DLQReason         string    `json:"dlq_reason"`
	OriginalMessageID uuid.UUID `json:"original_message_id"`
	ErrorMessage      string    `json:"error_message,omitempty"`
}
