package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task is a reusable workflow definition: an ordered list of step
// specifications plus execution limits. Tasks are immutable once created;
// changes produce new task rows.
type Task struct {
	ID                 uuid.UUID  `json:"id"`
	TenantID           uuid.UUID  `json:"tenant_id"`
	Name               string     `json:"name"`
	Config             TaskConfig `json:"task_config"`
	DefaultTokenBudget int64      `json:"default_token_budget"`
	TimeoutSeconds     int        `json:"timeout_seconds"`
	MaxRetries         int        `json:"max_retries"`
	IsActive           bool       `json:"is_active"`
	CreatedAt          time.Time  `json:"created_at"`
}

// TaskConfig is the declarative workflow body stored in the task_config
// column.
type TaskConfig struct {
	Steps []StepSpec `json:"steps"`
}

// StepSpec is one step declaration inside a task config. The wire form is
// flat: {"name":"analyze","type":"llm","model":"gpt-4","prompt":"..."} —
// every key other than name and type belongs to the step's config and is
// carried verbatim into the queue message's step_config field.
type StepSpec struct {
	Name   string
	Type   StepType
	Config map[string]any
}

// UnmarshalJSON splits the flat step object into name, type and the residual
// config map.
func (s *StepSpec) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	name, _ := raw["name"].(string)
	typ, _ := raw["type"].(string)
	if name == "" {
		return fmt.Errorf("step spec missing name")
	}
	if typ == "" {
		return fmt.Errorf("step spec %q missing type", name)
	}

	delete(raw, "name")
	delete(raw, "type")

	s.Name = name
	s.Type = StepType(typ)
	s.Config = raw
	return nil
}

// MarshalJSON reassembles the flat wire form.
func (s StepSpec) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Config)+2)
	for k, v := range s.Config {
		out[k] = v
	}
	out["name"] = s.Name
	out["type"] = string(s.Type)
	return json.Marshal(out)
}

// Validate checks structural soundness of the workflow definition.
func (c *TaskConfig) Validate() error {
	if len(c.Steps) == 0 {
		return fmt.Errorf("task config has no steps")
	}
	seen := make(map[string]bool, len(c.Steps))
	for i, step := range c.Steps {
		if step.Name == "" {
			return fmt.Errorf("step %d has no name", i)
		}
		if !step.Type.IsValid() {
			return fmt.Errorf("step %q has unknown type %q", step.Name, step.Type)
		}
		if seen[step.Name] {
			return fmt.Errorf("duplicate step name %q", step.Name)
		}
		seen[step.Name] = true
	}
	return nil
}
