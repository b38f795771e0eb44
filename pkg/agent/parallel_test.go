package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/pkg/models"
)

func newToolExecutor() *Executor {
	dispatcher := NewToolDispatcher(&fakeEventSink{}, BuiltinTools()...)
	return NewExecutor(clientFor("http://unused"), dispatcher, nil, 4)
}

func parallelFixture() (*models.Run, *models.Step) {
	run := &models.Run{ID: uuid.New(), TenantID: uuid.New(), Status: models.RunStatusRunning}
	step := &models.Step{ID: uuid.New(), RunID: run.ID, StepName: "fanout", StepType: models.StepTypeParallel}
	return run, step
}

func TestParallelChildrenKeepDeclarationOrder(t *testing.T) {
	e := newToolExecutor()
	run, step := parallelFixture()

	cfg := json.RawMessage(`{"steps": [
		{"name": "first", "type": "tool", "tool": "echo", "action": "a", "params": {"n": 1}},
		{"name": "second", "type": "tool", "tool": "echo", "action": "b", "params": {"n": 2}},
		{"name": "third", "type": "tool", "tool": "echo", "action": "c", "params": {"n": 3}}
	]}`)
	outcome, err := e.executeParallel(context.Background(), run, step, cfg)
	require.NoError(t, err)

	var decoded struct {
		Children []struct {
			Name   string          `json:"name"`
			Output json.RawMessage `json:"output"`
		} `json:"children"`
	}
	require.NoError(t, json.Unmarshal(outcome.Output, &decoded))
	require.Len(t, decoded.Children, 3)
	assert.Equal(t, "first", decoded.Children[0].Name)
	assert.Equal(t, "second", decoded.Children[1].Name)
	assert.Equal(t, "third", decoded.Children[2].Name)
	assert.JSONEq(t, `{"action":"b","params":{"n":2}}`, string(decoded.Children[1].Output))
}

func TestParallelChildFailureFailsWholeStep(t *testing.T) {
	e := newToolExecutor()
	run, step := parallelFixture()

	cfg := json.RawMessage(`{"steps": [
		{"name": "good", "type": "tool", "tool": "echo", "action": "a", "params": {}},
		{"name": "bad", "type": "tool", "tool": "no_such_tool", "action": "a", "params": {}}
	]}`)
	_, err := e.executeParallel(context.Background(), run, step, cfg)
	require.Error(t, err)
	assert.Equal(t, ReasonUnknownTool, FailureReason(err))
	assert.False(t, IsRetryable(err), "a config-level child failure must not retry")
}

func TestParallelRejectsCompositeChildren(t *testing.T) {
	e := newToolExecutor()
	run, step := parallelFixture()

	tests := []struct {
		name      string
		childType string
	}{
		{"nested parallel", "parallel"},
		{"nested decision", "decision"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := json.RawMessage(`{"steps": [
				{"name": "inner", "type": "` + tt.childType + `", "steps": []}
			]}`)
			_, err := e.executeParallel(context.Background(), run, step, cfg)
			require.Error(t, err)
			assert.Equal(t, ReasonNestedParallel, FailureReason(err))
			assert.False(t, IsRetryable(err))
		})
	}
}

func TestParallelRequiresChildren(t *testing.T) {
	e := newToolExecutor()
	run, step := parallelFixture()

	_, err := e.executeParallel(context.Background(), run, step, json.RawMessage(`{"steps": []}`))
	require.Error(t, err)
	assert.Equal(t, ReasonInvalidConfig, FailureReason(err))
}
