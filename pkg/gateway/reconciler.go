package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/metrics"
	"github.com/agentrun/agentrun/pkg/services"
)

// Reconciler periodically drains the per-tenant usage counters from Redis
// into token_used_current_month, and performs the monthly usage reset at UTC
// month boundaries. Tokens are drained with GETDEL and restored on a failed
// flush, so a crash between the two at worst delays accounting by one cycle.
// Multiple gateway replicas may reconcile concurrently; the counter drain is
// atomic per tenant and the monthly reset statement is idempotent.
type Reconciler struct {
	cache    *BudgetCache
	tenants  *services.TenantService
	interval time.Duration

	lastMonth time.Time
}

// NewReconciler creates the reconciler.
func NewReconciler(cache *BudgetCache, tenants *services.TenantService, cfg *config.BudgetConfig) *Reconciler {
	return &Reconciler{
		cache:     cache,
		tenants:   tenants,
		interval:  cfg.ReconcileInterval,
		lastMonth: currentMonthStart(time.Now()),
	}
}

// currentMonthStart truncates a time to the start of its UTC month.
func currentMonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Start runs the reconcile loop until the context is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	slog.Info("Starting budget reconciler", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush so a clean shutdown leaves no counter behind.
			r.reconcile(context.WithoutCancel(ctx))
			slog.Info("Budget reconciler stopped")
			return
		case <-ticker.C:
			r.maybeResetMonth(ctx)
			r.reconcile(ctx)
		}
	}
}

// maybeResetMonth zeroes all tenants' monthly usage on the first tick in a
// new UTC month. The SQL guard on updated_at makes replica double-resets
// harmless.
func (r *Reconciler) maybeResetMonth(ctx context.Context) {
	monthStart := currentMonthStart(time.Now())
	if !monthStart.After(r.lastMonth) {
		return
	}

	reset, err := r.tenants.ResetMonthlyUsage(ctx, monthStart)
	if err != nil {
		slog.Error("Monthly usage reset failed, will retry next tick", "error", err)
		return
	}
	r.lastMonth = monthStart
	slog.Info("Monthly token usage reset", "month", monthStart.Format("2006-01"), "tenants", reset)

	ids, err := r.tenants.ListIDs(ctx)
	if err != nil {
		slog.Error("Failed to list tenants for cache flush after reset", "error", err)
		return
	}
	for _, id := range ids {
		if err := r.cache.Invalidate(ctx, id); err != nil {
			slog.Warn("Failed to invalidate budget cache after reset", "tenant_id", id, "error", err)
		}
	}
}

// reconcile flushes every tenant's unreconciled counter into Postgres.
func (r *Reconciler) reconcile(ctx context.Context) {
	ids, err := r.tenants.ListIDs(ctx)
	if err != nil {
		slog.Error("Reconciler failed to list tenants", "error", err)
		return
	}

	for _, id := range ids {
		tokens, err := r.cache.DrainCounter(ctx, id)
		if err != nil {
			slog.Error("Failed to drain usage counter", "tenant_id", id, "error", err)
			metrics.ReconcilerFlushes.WithLabelValues("drain_error").Inc()
			continue
		}
		if tokens == 0 {
			continue
		}

		if err := r.tenants.AddTokenUsage(ctx, id, tokens); err != nil {
			slog.Error("Failed to flush usage, restoring counter",
				"tenant_id", id, "tokens", tokens, "error", err)
			metrics.ReconcilerFlushes.WithLabelValues("flush_error").Inc()
			if restoreErr := r.cache.RestoreCounter(ctx, id, tokens); restoreErr != nil {
				slog.Error("Failed to restore usage counter, tokens unaccounted",
					"tenant_id", id, "tokens", tokens, "error", restoreErr)
			}
			continue
		}

		if err := r.cache.Invalidate(ctx, id); err != nil {
			slog.Warn("Failed to invalidate budget cache after flush", "tenant_id", id, "error", err)
		}
		metrics.ReconcilerFlushes.WithLabelValues("ok").Inc()
		slog.Debug("Flushed usage counter", "tenant_id", id, "tokens", tokens)
	}
}
