package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepSpecFlatWireForm(t *testing.T) {
	raw := `{"name":"classify","type":"llm","model":"gpt-4","prompt":"label this","max_tokens":200}`

	var spec StepSpec
	require.NoError(t, json.Unmarshal([]byte(raw), &spec))
	assert.Equal(t, "classify", spec.Name)
	assert.Equal(t, StepTypeLLM, spec.Type)
	assert.Equal(t, "gpt-4", spec.Config["model"])
	assert.Equal(t, "label this", spec.Config["prompt"])
	assert.NotContains(t, spec.Config, "name", "envelope keys stay out of the config")
	assert.NotContains(t, spec.Config, "type")

	// Marshalling restores the flat object.
	out, err := json.Marshal(spec)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestStepSpecRequiresNameAndType(t *testing.T) {
	var spec StepSpec
	err := json.Unmarshal([]byte(`{"type":"llm"}`), &spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")

	err = json.Unmarshal([]byte(`{"name":"classify"}`), &spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type")
}

func TestTaskConfigValidate(t *testing.T) {
	step := func(name string, typ StepType) StepSpec {
		return StepSpec{Name: name, Type: typ, Config: map[string]any{}}
	}

	tests := []struct {
		name    string
		config  TaskConfig
		wantErr string
	}{
		{
			name:   "valid pipeline",
			config: TaskConfig{Steps: []StepSpec{step("fetch", StepTypeTool), step("analyze", StepTypeLLM)}},
		},
		{
			name:    "no steps",
			config:  TaskConfig{},
			wantErr: "no steps",
		},
		{
			name:    "unnamed step",
			config:  TaskConfig{Steps: []StepSpec{{Type: StepTypeLLM}}},
			wantErr: "no name",
		},
		{
			name:    "unknown type",
			config:  TaskConfig{Steps: []StepSpec{step("fetch", "webhook")}},
			wantErr: "unknown type",
		},
		{
			name:    "duplicate names",
			config:  TaskConfig{Steps: []StepSpec{step("fetch", StepTypeTool), step("fetch", StepTypeLLM)}},
			wantErr: "duplicate",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
