package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/metrics"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle       WorkerStatus = "idle"
	WorkerStatusProcessing WorkerStatus = "processing"
)

// Worker polls the step queue and hands each message to the processor. The
// processor commits all database writes before returning; the worker then
// applies the verdict to the queue, preserving persist-first ack-second
// ordering.
type Worker struct {
	id        string
	queue     *StepQueue
	queueCfg  *config.QueueConfig
	workerCfg *config.WorkerConfig
	processor Processor
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// Health tracking
	mu            sync.RWMutex
	status        WorkerStatus
	currentStepID string
	processed     int
	failed        int
	lastActivity  time.Time
}

// NewWorker creates a new queue worker.
func NewWorker(id string, queue *StepQueue, queueCfg *config.QueueConfig, workerCfg *config.WorkerConfig, processor Processor) *Worker {
	return &Worker{
		id:           id,
		queue:        queue,
		queueCfg:     queueCfg,
		workerCfg:    workerCfg,
		processor:    processor,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish its in-flight
// message. It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        w.status,
		CurrentStepID: w.currentStepID,
		Processed:     w.processed,
		Failed:        w.failed,
		LastActivity:  w.lastActivity,
	}
}

// run is the main worker loop: receive a batch, process each message,
// apply its disposition.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
		}

		msgs, err := w.queue.Backend().Receive(ctx,
			w.queue.Name(), w.queueCfg.MaxMessages,
			w.queueCfg.WaitTime, w.queueCfg.VisibilityTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			// Transport error: back off to avoid a hot loop under outage.
			log.Error("Queue receive failed", "error", err)
			w.sleep(w.workerCfg.PollInterval)
			continue
		}
		if len(msgs) == 0 {
			w.sleep(w.workerCfg.EmptyPollDelay)
			continue
		}
		metrics.QueueReceives.Add(float64(len(msgs)))

		for _, msg := range msgs {
			if w.stopped() {
				// Undelivered claim expires with the visibility timeout.
				return
			}
			w.handle(ctx, msg, log)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg Message, log *slog.Logger) {
	w.setStatus(WorkerStatusProcessing, msg.ID.String())
	defer w.setStatus(WorkerStatusIdle, "")

	outcome := w.processor.Process(ctx, msg)

	switch outcome.Disposition {
	case DispositionAck:
		if err := w.queue.Backend().Delete(ctx, w.queue.Name(), msg.ID); err != nil {
			// The database writes are committed; redelivery replays into the
			// idempotency guard and acks there.
			log.Warn("Failed to delete acknowledged message", "message_id", msg.ID, "error", err)
		}
		w.recordOutcome(false)

	case DispositionRetry:
		if err := w.queue.Backend().ChangeVisibility(ctx, w.queue.Name(), msg.ID, outcome.RetryDelay); err != nil {
			log.Warn("Failed to set retry visibility", "message_id", msg.ID, "error", err)
		}
		log.Info("Message scheduled for retry",
			"message_id", msg.ID, "delay", outcome.RetryDelay, "error", outcome.Error)
		w.recordOutcome(true)

	case DispositionDeadLetter:
		if err := w.deadLetter(ctx, msg, outcome); err != nil {
			// Leave the original in place; the visibility timeout redelivers
			// it and the processor reaches the same verdict again.
			log.Error("Failed to dead-letter message", "message_id", msg.ID, "error", err)
		} else {
			log.Warn("Message dead-lettered",
				"message_id", msg.ID, "reason", outcome.DLQReason, "error", outcome.Error)
		}
		w.recordOutcome(true)
	}
}

// deadLetter copies the message onto the DLQ with its failure context, then
// deletes the original. Send first, delete second: a crash in between leaves
// a duplicate DLQ row, never a lost message.
func (w *Worker) deadLetter(ctx context.Context, msg Message, outcome Outcome) error {
	payload := map[string]any{}
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		payload = map[string]any{"raw": string(msg.Body)}
	}
	payload["dlq_reason"] = outcome.DLQReason
	payload["original_message_id"] = msg.ID
	if outcome.Error != "" {
		payload["error_message"] = outcome.Error
	}

	body, err := marshalJSON(payload)
	if err != nil {
		return err
	}
	if _, err := w.queue.Backend().Send(ctx, w.queue.DLQName(), body); err != nil {
		return err
	}
	return w.queue.Backend().Delete(ctx, w.queue.Name(), msg.ID)
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

func (w *Worker) stopped() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

func (w *Worker) setStatus(status WorkerStatus, stepID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentStepID = stepID
	w.lastActivity = time.Now()
}

func (w *Worker) recordOutcome(failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.processed++
	if failed {
		w.failed++
	}
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID            string       `json:"id"`
	Status        WorkerStatus `json:"status"`
	CurrentStepID string       `json:"current_step_id,omitempty"`
	Processed     int          `json:"processed"`
	Failed        int          `json:"failed"`
	LastActivity  time.Time    `json:"last_activity"`
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy    bool           `json:"is_healthy"`
	PodID        string         `json:"pod_id"`
	TotalWorkers int            `json:"total_workers"`
	QueueDepth   int            `json:"queue_depth"`
	DLQDepth     int            `json:"dlq_depth"`
	WorkerStats  []WorkerHealth `json:"worker_stats"`
}
