package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/pkg/config"
)

// fakeBackend records queue operations for disposition assertions.
type fakeBackend struct {
	sent       map[string][][]byte
	deleted    []uuid.UUID
	visibility map[uuid.UUID]time.Duration
	sendErr    error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sent:       make(map[string][][]byte),
		visibility: make(map[uuid.UUID]time.Duration),
	}
}

func (f *fakeBackend) Send(_ context.Context, queue string, body []byte) (uuid.UUID, error) {
	if f.sendErr != nil {
		return uuid.Nil, f.sendErr
	}
	f.sent[queue] = append(f.sent[queue], body)
	return uuid.New(), nil
}

func (f *fakeBackend) Receive(context.Context, string, int, time.Duration, time.Duration) ([]Message, error) {
	return nil, nil
}

func (f *fakeBackend) Delete(_ context.Context, _ string, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeBackend) ChangeVisibility(_ context.Context, _ string, id uuid.UUID, d time.Duration) error {
	f.visibility[id] = d
	return nil
}

func (f *fakeBackend) Depth(context.Context, string) (int, error) { return 0, nil }

// scriptedProcessor returns a fixed outcome.
type scriptedProcessor struct {
	outcome Outcome
	seen    []Message
}

func (p *scriptedProcessor) Process(_ context.Context, msg Message) Outcome {
	p.seen = append(p.seen, msg)
	return p.outcome
}

func newTestWorker(backend Backend, processor Processor) *Worker {
	q := NewStepQueue(backend, "steps", "steps-dlq")
	return NewWorker("test-worker-0", q, config.DefaultQueueConfig(), config.DefaultWorkerConfig(), processor)
}

func TestWorkerAckDeletesMessage(t *testing.T) {
	backend := newFakeBackend()
	proc := &scriptedProcessor{outcome: Ack()}
	w := newTestWorker(backend, proc)

	msg := Message{ID: uuid.New(), Body: []byte(`{"x":1}`), ReceiveCount: 1}
	w.handle(context.Background(), msg, slog.Default())

	require.Len(t, proc.seen, 1)
	assert.Equal(t, []uuid.UUID{msg.ID}, backend.deleted)
	assert.Empty(t, backend.sent)
}

func TestWorkerRetryExtendsVisibility(t *testing.T) {
	backend := newFakeBackend()
	proc := &scriptedProcessor{outcome: Retry(4 * time.Second)}
	w := newTestWorker(backend, proc)

	msg := Message{ID: uuid.New(), Body: []byte(`{"x":1}`), ReceiveCount: 2}
	w.handle(context.Background(), msg, slog.Default())

	assert.Empty(t, backend.deleted, "retried message must stay in the queue")
	assert.Equal(t, 4*time.Second, backend.visibility[msg.ID])

	health := w.Health()
	assert.Equal(t, 1, health.Processed)
	assert.Equal(t, 1, health.Failed)
}

func TestWorkerDeadLetterCopiesThenDeletes(t *testing.T) {
	backend := newFakeBackend()
	proc := &scriptedProcessor{outcome: DeadLetter("invalid_json", "boom")}
	w := newTestWorker(backend, proc)

	msg := Message{ID: uuid.New(), Body: []byte(`{"run_id":"abc"}`), ReceiveCount: 1}
	w.handle(context.Background(), msg, slog.Default())

	require.Len(t, backend.sent["steps-dlq"], 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(backend.sent["steps-dlq"][0], &payload))
	assert.Equal(t, "invalid_json", payload["dlq_reason"])
	assert.Equal(t, msg.ID.String(), payload["original_message_id"])
	assert.Equal(t, "boom", payload["error_message"])
	assert.Equal(t, "abc", payload["run_id"], "original body fields survive")

	assert.Equal(t, []uuid.UUID{msg.ID}, backend.deleted)
}

func TestWorkerDeadLetterKeepsOriginalOnSendFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErr = errors.New("dlq unavailable")
	proc := &scriptedProcessor{outcome: DeadLetter("max_attempts_exceeded", "gone")}
	w := newTestWorker(backend, proc)

	msg := Message{ID: uuid.New(), Body: []byte(`{}`), ReceiveCount: 4}
	w.handle(context.Background(), msg, slog.Default())

	assert.Empty(t, backend.deleted, "original must survive a failed DLQ copy")
}

func TestWorkerDeadLetterWrapsNonJSONBody(t *testing.T) {
	backend := newFakeBackend()
	proc := &scriptedProcessor{outcome: DeadLetter("invalid_json", "not json")}
	w := newTestWorker(backend, proc)

	msg := Message{ID: uuid.New(), Body: []byte("not-json"), ReceiveCount: 1}
	w.handle(context.Background(), msg, slog.Default())

	require.Len(t, backend.sent["steps-dlq"], 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(backend.sent["steps-dlq"][0], &payload))
	assert.Equal(t, "not-json", payload["raw"])
}
