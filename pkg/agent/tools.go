package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentrun/agentrun/pkg/models"
)

// Tool is one dispatchable tool. Execute receives the action name and the
// decoded params object and returns the tool output as JSON.
type Tool interface {
	Name() string

	// ParamsSchema returns the JSON schema validating the params object,
	// or nil when the tool accepts anything.
	ParamsSchema() *jsonschema.Schema

	Execute(ctx context.Context, action string, params map[string]any) (json.RawMessage, error)
}

// toolStepSchema validates the tool step config envelope before dispatch.
var toolStepSchema = jsonschema.MustCompileString("tool_step.json", `{
	"type": "object",
	"properties": {
		"tool":   {"type": "string", "minLength": 1},
		"action": {"type": "string", "minLength": 1},
		"params": {"type": "object"}
	},
	"required": ["tool", "action"]
}`)

// toolStepConfig is the decoded tool step config.
type toolStepConfig struct {
	Tool   string         `json:"tool"`
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// toolEventAppender is the audit sink for tool dispatches, satisfied by
// services.EventService.
type toolEventAppender interface {
	AppendToolEvent(ctx context.Context, e *models.ToolEvent) error
}

// ToolDispatcher routes tool steps to registered tools, validates their
// config against JSON schemas, and appends a ToolEvent row per dispatch.
type ToolDispatcher struct {
	tools  map[string]Tool
	events toolEventAppender
}

// NewToolDispatcher creates a dispatcher over the given tools.
func NewToolDispatcher(events toolEventAppender, tools ...Tool) *ToolDispatcher {
	m := make(map[string]Tool, len(tools))
	for _, t := range tools {
		m[t.Name()] = t
	}
	return &ToolDispatcher{tools: m, events: events}
}

// Dispatch validates and executes one tool step. Config errors and unknown
// tools are permanent; tool execution errors classify themselves.
func (d *ToolDispatcher) Dispatch(ctx context.Context, tenantID, runID, stepID uuid.UUID, rawConfig json.RawMessage) (json.RawMessage, error) {
	var generic any
	if err := json.Unmarshal(rawConfig, &generic); err != nil {
		return nil, permanent(ReasonInvalidConfig, "tool step config is not valid JSON: %v", err)
	}
	if err := toolStepSchema.Validate(generic); err != nil {
		return nil, permanent(ReasonInvalidConfig, "tool step config: %v", err)
	}

	var cfg toolStepConfig
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, permanent(ReasonInvalidConfig, "tool step config: %v", err)
	}

	tool, ok := d.tools[cfg.Tool]
	if !ok {
		return nil, permanent(ReasonUnknownTool, "tool %q is not registered", cfg.Tool)
	}
	if schema := tool.ParamsSchema(); schema != nil {
		params := any(map[string]any{})
		if cfg.Params != nil {
			params = mapToAny(cfg.Params)
		}
		if err := schema.Validate(params); err != nil {
			return nil, permanent(ReasonInvalidConfig, "tool %q params: %v", cfg.Tool, err)
		}
	}

	start := time.Now()
	output, execErr := tool.Execute(ctx, cfg.Action, cfg.Params)
	duration := int(time.Since(start).Milliseconds())

	event := &models.ToolEvent{
		TenantID:   tenantID,
		RunID:      runID,
		StepID:     stepID,
		ToolName:   cfg.Tool,
		Action:     cfg.Action,
		Status:     models.EventStatusSuccess,
		DurationMS: duration,
	}
	if execErr != nil {
		event.Status = models.EventStatusError
		event.ErrorMessage = execErr.Error()
	}
	if err := d.events.AppendToolEvent(ctx, event); err != nil {
		slog.Error("Failed to append tool event",
			"tool", cfg.Tool, "run_id", runID, "error", err)
	}

	if execErr != nil {
		return nil, execErr
	}
	return output, nil
}

// mapToAny round-trips a params map through generic JSON values so schema
// validation sees the same types an Unmarshal into any would produce.
func mapToAny(m map[string]any) any {
	raw, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return m
	}
	return out
}
