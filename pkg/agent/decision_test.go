package agent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runState(pairs map[string]string) map[string]json.RawMessage {
	state := make(map[string]json.RawMessage, len(pairs))
	for k, v := range pairs {
		state[k] = json.RawMessage(v)
	}
	return state
}

func TestEvaluateCondition(t *testing.T) {
	state := runState(map[string]string{
		"classify": `{"label":"urgent","confidence":0.92,"tags":["billing","escalation"]}`,
		"fetch":    `{"status":200,"body":{"count":3}}`,
		"summary":  `"all systems nominal"`,
	})

	tests := []struct {
		name string
		cond decisionCondition
		want bool
	}{
		{"equals string match", decisionCondition{Field: "classify.label", Operator: "equals", Value: "urgent"}, true},
		{"equals string mismatch", decisionCondition{Field: "classify.label", Operator: "equals", Value: "routine"}, false},
		{"equals number", decisionCondition{Field: "fetch.status", Operator: "equals", Value: float64(200)}, true},
		{"not_equals", decisionCondition{Field: "classify.label", Operator: "not_equals", Value: "routine"}, true},
		{"not_equals missing field is false", decisionCondition{Field: "classify.nope", Operator: "not_equals", Value: "x"}, false},
		{"contains substring", decisionCondition{Field: "summary", Operator: "contains", Value: "nominal"}, true},
		{"contains array membership", decisionCondition{Field: "classify.tags", Operator: "contains", Value: "billing"}, true},
		{"contains array miss", decisionCondition{Field: "classify.tags", Operator: "contains", Value: "refund"}, false},
		{"exists hit", decisionCondition{Field: "fetch.body.count", Operator: "exists"}, true},
		{"exists miss", decisionCondition{Field: "fetch.body.total", Operator: "exists"}, false},
		{"exists missing step", decisionCondition{Field: "enrich", Operator: "exists"}, false},
		{"gt true", decisionCondition{Field: "classify.confidence", Operator: "gt", Value: 0.9}, true},
		{"gt false", decisionCondition{Field: "classify.confidence", Operator: "gt", Value: 0.95}, false},
		{"lt true", decisionCondition{Field: "fetch.body.count", Operator: "lt", Value: 5}, true},
		{"gt missing field is false", decisionCondition{Field: "fetch.latency", Operator: "gt", Value: 1}, false},
		{"gt non-numeric field is false", decisionCondition{Field: "classify.label", Operator: "gt", Value: 1}, false},
		{"equals missing field is false", decisionCondition{Field: "missing.path", Operator: "equals", Value: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluateCondition(tt.cond, state)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateConditionUnknownOperator(t *testing.T) {
	_, err := evaluateCondition(
		decisionCondition{Field: "a", Operator: "matches", Value: "x"},
		runState(map[string]string{"a": `1`}))
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, ReasonInvalidConfig, FailureReason(err))
}

func TestResolveField(t *testing.T) {
	state := runState(map[string]string{
		"step": `{"a":{"b":{"c":42}},"list":[1,2]}`,
		"flat": `7`,
	})

	v, found := resolveField("step.a.b.c", state)
	require.True(t, found)
	assert.Equal(t, float64(42), v)

	v, found = resolveField("flat", state)
	require.True(t, found)
	assert.Equal(t, float64(7), v)

	_, found = resolveField("step.a.missing", state)
	assert.False(t, found)

	// Path descent through a non-object stops the walk.
	_, found = resolveField("flat.deeper", state)
	assert.False(t, found)

	_, found = resolveField("step.list.0", state)
	assert.False(t, found, "arrays are not indexable in field paths")
}
