package services

import (
	"context"
	"log/slog"
	"time"
)

// RunTimeoutMonitor periodically expires running runs that exceeded their
// task's timeout_seconds. Unfinished steps of an expired run will not
// enqueue successors: the worker observes the terminal run status before
// acting on any redelivered message.
type RunTimeoutMonitor struct {
	runs     *RunService
	interval time.Duration
}

// NewRunTimeoutMonitor creates a monitor ticking at the given interval.
func NewRunTimeoutMonitor(runs *RunService, interval time.Duration) *RunTimeoutMonitor {
	return &RunTimeoutMonitor{runs: runs, interval: interval}
}

// Start runs the sweep loop until the context is cancelled.
func (m *RunTimeoutMonitor) Start(ctx context.Context) {
	log := slog.With("component", "run_timeout_monitor")
	log.Info("Run timeout monitor started", "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Run timeout monitor stopped")
			return
		case <-ticker.C:
			ids, err := m.runs.ExpireTimedOut(ctx)
			if err != nil {
				log.Error("Run timeout sweep failed", "error", err)
				continue
			}
			for _, id := range ids {
				log.Warn("Run timed out", "run_id", id)
			}
		}
	}
}
