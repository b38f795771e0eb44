package models

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validStepMessage() StepMessage {
	return StepMessage{
		RunID:      uuid.New(),
		StepID:     uuid.New(),
		StepName:   "classify",
		StepType:   StepTypeLLM,
		StepConfig: json.RawMessage(`{"model":"gpt-4","prompt":"hi"}`),
		Attempt:    1,
	}
}

func TestStepMessageValidate(t *testing.T) {
	valid := validStepMessage()
	require.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		mutate  func(*StepMessage)
		wantErr string
	}{
		{"missing run_id", func(m *StepMessage) { m.RunID = uuid.Nil }, "run_id"},
		{"missing step_id", func(m *StepMessage) { m.StepID = uuid.Nil }, "step_id"},
		{"missing step_name", func(m *StepMessage) { m.StepName = "" }, "step_name"},
		{"missing step_type", func(m *StepMessage) { m.StepType = "" }, "step_type"},
		{"unknown step_type", func(m *StepMessage) { m.StepType = "webhook" }, "step_type"},
		{"zero attempt", func(m *StepMessage) { m.Attempt = 0 }, "attempt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := validStepMessage()
			tt.mutate(&msg)
			err := msg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStepMessageEmptyConfigIsValid(t *testing.T) {
	msg := validStepMessage()
	msg.StepConfig = nil
	assert.NoError(t, msg.Validate())
}

func TestDLQMessageRoundtrip(t *testing.T) {
	original := validStepMessage()
	dlq := DLQMessage{
		StepMessage:       original,
		DLQReason:         DLQReasonMaxAttempts,
		OriginalMessageID: uuid.New(),
		ErrorMessage:      "gave up after 3 attempts",
	}

	raw, err := json.Marshal(dlq)
	require.NoError(t, err)

	var decoded DLQMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, original.RunID, decoded.RunID)
	assert.Equal(t, DLQReasonMaxAttempts, decoded.DLQReason)
	assert.Equal(t, dlq.OriginalMessageID, decoded.OriginalMessageID)
}
