package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentrun/agentrun/pkg/config"
)

// WorkerPool manages a pool of queue workers sharing one backend and one
// processor. Horizontal scaling is by adding processes; the pool provides
// the in-process concurrency cap.
type WorkerPool struct {
	podID     string
	queue     *StepQueue
	queueCfg  *config.QueueConfig
	workerCfg *config.WorkerConfig
	processor Processor
	workers   []*Worker
	started   bool
	mu        sync.Mutex
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(podID string, queue *StepQueue, queueCfg *config.QueueConfig, workerCfg *config.WorkerConfig, processor Processor) *WorkerPool {
	return &WorkerPool{
		podID:     podID,
		queue:     queue,
		queueCfg:  queueCfg,
		workerCfg: workerCfg,
		processor: processor,
		workers:   make([]*Worker, 0, workerCfg.Concurrency),
	}
}

// Start spawns worker goroutines. Safe to call multiple times; subsequent
// calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool",
		"pod_id", p.podID, "concurrency", p.workerCfg.Concurrency)

	for i := 0; i < p.workerCfg.Concurrency; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.queue, p.queueCfg, p.workerCfg, p.processor)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers and waits up to the drain timeout for in-flight
// executions to finish.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully", "drain_timeout", p.workerCfg.DrainTimeout)

	done := make(chan struct{})
	go func() {
		for _, worker := range p.workers {
			worker.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-time.After(p.workerCfg.DrainTimeout):
		// In-flight claims expire with the visibility timeout and redeliver.
		slog.Warn("Worker pool drain timeout exceeded, abandoning in-flight messages")
	}
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health(ctx context.Context) *PoolHealth {
	health := &PoolHealth{
		IsHealthy:    true,
		PodID:        p.podID,
		TotalWorkers: len(p.workers),
	}

	depth, err := p.queue.Backend().Depth(ctx, p.queue.Name())
	if err != nil {
		slog.Error("Failed to query queue depth for health check", "pod_id", p.podID, "error", err)
		health.IsHealthy = false
	} else {
		health.QueueDepth = depth
	}

	dlqDepth, err := p.queue.Backend().Depth(ctx, p.queue.DLQName())
	if err != nil {
		health.IsHealthy = false
	} else {
		health.DLQDepth = dlqDepth
	}

	for _, worker := range p.workers {
		health.WorkerStats = append(health.WorkerStats, worker.Health())
	}
	return health
}
