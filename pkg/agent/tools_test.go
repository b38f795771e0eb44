package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/pkg/models"
)

// fakeEventSink collects appended tool events.
type fakeEventSink struct {
	events    []*models.ToolEvent
	appendErr error
}

func (f *fakeEventSink) AppendToolEvent(_ context.Context, e *models.ToolEvent) error {
	f.events = append(f.events, e)
	return f.appendErr
}

// failingTool always errors.
type failingTool struct{ err error }

func (t *failingTool) Name() string                     { return "flaky" }
func (t *failingTool) ParamsSchema() *jsonschema.Schema { return nil }
func (t *failingTool) Execute(context.Context, string, map[string]any) (json.RawMessage, error) {
	return nil, t.err
}

func dispatchIDs() (uuid.UUID, uuid.UUID, uuid.UUID) {
	return uuid.New(), uuid.New(), uuid.New()
}

func TestDispatchEchoRoundtrip(t *testing.T) {
	sink := &fakeEventSink{}
	d := NewToolDispatcher(sink, BuiltinTools()...)
	tenantID, runID, stepID := dispatchIDs()

	output, err := d.Dispatch(context.Background(), tenantID, runID, stepID,
		json.RawMessage(`{"tool":"echo","action":"ping","params":{"k":"v"}}`))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(output, &decoded))
	assert.Equal(t, "ping", decoded["action"])
	assert.Equal(t, map[string]any{"k": "v"}, decoded["params"])

	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.Equal(t, "echo", event.ToolName)
	assert.Equal(t, "ping", event.Action)
	assert.Equal(t, models.EventStatusSuccess, event.Status)
	assert.Equal(t, runID, event.RunID)
	assert.Equal(t, stepID, event.StepID)
}

func TestDispatchWebSearchIsDeterministic(t *testing.T) {
	sink := &fakeEventSink{}
	d := NewToolDispatcher(sink, BuiltinTools()...)
	tenantID, runID, stepID := dispatchIDs()
	cfg := json.RawMessage(`{"tool":"web_search","action":"search","params":{"query":"golang queues","limit":2}}`)

	first, err := d.Dispatch(context.Background(), tenantID, runID, stepID, cfg)
	require.NoError(t, err)
	second, err := d.Dispatch(context.Background(), tenantID, runID, stepID, cfg)
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))

	var decoded struct {
		Query   string           `json:"query"`
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(first, &decoded))
	assert.Equal(t, "golang queues", decoded.Query)
	assert.Len(t, decoded.Results, 2)
}

func TestDispatchUnknownTool(t *testing.T) {
	sink := &fakeEventSink{}
	d := NewToolDispatcher(sink, BuiltinTools()...)
	tenantID, runID, stepID := dispatchIDs()

	_, err := d.Dispatch(context.Background(), tenantID, runID, stepID,
		json.RawMessage(`{"tool":"nonexistent","action":"go"}`))
	require.Error(t, err)
	assert.Equal(t, ReasonUnknownTool, FailureReason(err))
	assert.False(t, IsRetryable(err))
	assert.Empty(t, sink.events, "nothing dispatched, nothing audited")
}

func TestDispatchConfigValidation(t *testing.T) {
	sink := &fakeEventSink{}
	d := NewToolDispatcher(sink, BuiltinTools()...)
	tenantID, runID, stepID := dispatchIDs()

	tests := []struct {
		name   string
		config string
	}{
		{"not json", `{{`},
		{"missing tool", `{"action":"go"}`},
		{"missing action", `{"tool":"echo"}`},
		{"empty tool", `{"tool":"","action":"go"}`},
		{"params schema violation", `{"tool":"web_search","action":"search","params":{"limit":2}}`},
		{"params wrong type", `{"tool":"web_search","action":"search","params":{"query":42}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Dispatch(context.Background(), tenantID, runID, stepID, json.RawMessage(tt.config))
			require.Error(t, err)
			assert.Equal(t, ReasonInvalidConfig, FailureReason(err))
			assert.False(t, IsRetryable(err))
		})
	}
	assert.Empty(t, sink.events)
}

func TestDispatchRecordsErrorEvent(t *testing.T) {
	sink := &fakeEventSink{}
	toolErr := transient(ReasonToolError, errors.New("connection refused"))
	d := NewToolDispatcher(sink, &failingTool{err: toolErr})
	tenantID, runID, stepID := dispatchIDs()

	_, err := d.Dispatch(context.Background(), tenantID, runID, stepID,
		json.RawMessage(`{"tool":"flaky","action":"call"}`))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	require.Len(t, sink.events, 1)
	assert.Equal(t, models.EventStatusError, sink.events[0].Status)
	assert.Contains(t, sink.events[0].ErrorMessage, "connection refused")
}

func TestDispatchAuditFailureDoesNotFailStep(t *testing.T) {
	sink := &fakeEventSink{appendErr: errors.New("db down")}
	d := NewToolDispatcher(sink, BuiltinTools()...)
	tenantID, runID, stepID := dispatchIDs()

	output, err := d.Dispatch(context.Background(), tenantID, runID, stepID,
		json.RawMessage(`{"tool":"echo","action":"ping"}`))
	require.NoError(t, err, "a lost audit row must not fail the step")
	assert.NotNil(t, output)
}

func TestAPICallerTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	sink := &fakeEventSink{}
	d := NewToolDispatcher(sink, BuiltinTools()...)
	tenantID, runID, stepID := dispatchIDs()

	cfg, err := json.Marshal(map[string]any{
		"tool":   "api_caller",
		"action": "request",
		"params": map[string]any{
			"url":    srv.URL,
			"method": "POST",
			"body":   map[string]any{"name": "widget"},
		},
	})
	require.NoError(t, err)

	output, err := d.Dispatch(context.Background(), tenantID, runID, stepID, cfg)
	require.NoError(t, err)

	var decoded struct {
		Status int    `json:"status"`
		Body   string `json:"body"`
	}
	require.NoError(t, json.Unmarshal(output, &decoded))
	assert.Equal(t, http.StatusCreated, decoded.Status)
	assert.JSONEq(t, `{"id":1}`, decoded.Body)
}
