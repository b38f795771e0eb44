// Package queue provides the at-least-once step queue: a Postgres-backed
// backend with visibility-timeout redelivery, the worker pool that consumes
// it, and the dead-letter queue for poison messages.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/agentrun/agentrun/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoMessages indicates a receive call returned no work.
	ErrNoMessages = errors.New("no messages available")

	// ErrMessageNotFound indicates a delete or visibility change targeted a
	// message that no longer exists (already deleted, or claimed elsewhere).
	ErrMessageNotFound = errors.New("message not found")
)

// Message is one received queue entry. ReceiveCount includes this delivery:
// the first receive observes 1.
type Message struct {
	ID           uuid.UUID
	Body         []byte
	ReceiveCount int
}

// Backend is the queue transport contract. Delivery is at-least-once: a
// received message stays invisible for the visibility timeout and is
// redelivered with an incremented receive count unless deleted first.
type Backend interface {
	// Send enqueues a message body on the named queue.
	Send(ctx context.Context, queue string, body []byte) (uuid.UUID, error)

	// Receive claims up to max visible messages, hiding each for the
	// visibility duration. It long-polls up to wait before returning an
	// empty batch.
	Receive(ctx context.Context, queue string, max int, wait, visibility time.Duration) ([]Message, error)

	// Delete acknowledges a message, removing it permanently.
	Delete(ctx context.Context, queue string, id uuid.UUID) error

	// ChangeVisibility re-hides a message for the given duration, shortening
	// or extending its redelivery schedule.
	ChangeVisibility(ctx context.Context, queue string, id uuid.UUID, d time.Duration) error

	// Depth returns the number of messages on the queue (visible or not).
	Depth(ctx context.Context, queue string) (int, error)
}

// Disposition tells the worker what to do with a message after processing.
type Disposition int

const (
	// DispositionAck deletes the message: the outcome is durably recorded.
	DispositionAck Disposition = iota

	// DispositionRetry leaves the message undeleted and shortens its
	// visibility to the retry delay, scheduling redelivery.
	DispositionRetry

	// DispositionDeadLetter copies the message to the DLQ with a reason,
	// then deletes the original.
	DispositionDeadLetter
)

// Outcome is the processing verdict for one message. The worker applies it
// to the backend after the processor has committed all database writes, so
// the persist-first ack-second ordering holds.
type Outcome struct {
	Disposition Disposition
	RetryDelay  time.Duration
	DLQReason   string
	Error       string
}

// Ack returns the acknowledge outcome.
func Ack() Outcome {
	return Outcome{Disposition: DispositionAck}
}

// Retry schedules redelivery after the given backoff.
func Retry(delay time.Duration) Outcome {
	return Outcome{Disposition: DispositionRetry, RetryDelay: delay}
}

// DeadLetter routes the message to the DLQ.
func DeadLetter(reason, errMsg string) Outcome {
	return Outcome{Disposition: DispositionDeadLetter, DLQReason: reason, Error: errMsg}
}

// Processor handles one received message and returns its disposition.
// Implementations must finish every database write before returning.
type Processor interface {
	Process(ctx context.Context, msg Message) Outcome
}

// StepQueue binds a backend to the configured queue names and exposes the
// typed operations the rest of the system uses.
type StepQueue struct {
	backend Backend
	name    string
	dlqName string
}

// NewStepQueue creates a StepQueue over the backend.
func NewStepQueue(backend Backend, name, dlqName string) *StepQueue {
	return &StepQueue{backend: backend, name: name, dlqName: dlqName}
}

// Backend returns the underlying transport.
func (q *StepQueue) Backend() Backend { return q.backend }

// Name returns the main queue name.
func (q *StepQueue) Name() string { return q.name }

// DLQName returns the dead-letter queue name.
func (q *StepQueue) DLQName() string { return q.dlqName }

// EnqueueStep marshals and sends a step message. Satisfies
// services.StepEnqueuer.
func (q *StepQueue) EnqueueStep(ctx context.Context, msg *models.StepMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	body, err := marshalJSON(msg)
	if err != nil {
		return err
	}
	_, err = q.backend.Send(ctx, q.name, body)
	return err
}

// Depth returns the main queue depth.
func (q *StepQueue) Depth(ctx context.Context) (int, error) {
	return q.backend.Depth(ctx, q.name)
}
