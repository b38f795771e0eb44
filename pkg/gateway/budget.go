package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/models"
	"github.com/agentrun/agentrun/pkg/services"
)

// budgetSnapshot is the cached tenant view used for admission decisions. It
// is written through on cache miss and at most CacheTTL stale; the live
// usage counter covers tokens spent since the snapshot was taken.
type budgetSnapshot struct {
	TenantID           uuid.UUID           `json:"tenant_id"`
	BudgetMonthly      int64               `json:"budget_monthly"`
	Used               int64               `json:"used"`
	RateLimitPerMinute int                 `json:"rate_limit_per_minute"`
	Status             models.TenantStatus `json:"status"`
}

// BudgetDecision is the outcome of one admission check.
type BudgetDecision struct {
	Allowed   bool
	SoftLimit bool
	Used      int64
	Budget    int64
}

// BudgetCache enforces monthly token budgets against a Redis write-through
// cache backed by Postgres. Usage since the last reconciliation lives in a
// per-tenant counter that the gateway increments after each completion and
// the reconciler drains into the relational store.
type BudgetCache struct {
	rdb     *redis.Client
	tenants *services.TenantService
	cfg     *config.BudgetConfig

	hits   atomic.Int64
	misses atomic.Int64
}

// NewBudgetCache creates the cache.
func NewBudgetCache(rdb *redis.Client, tenants *services.TenantService, cfg *config.BudgetConfig) *BudgetCache {
	return &BudgetCache{rdb: rdb, tenants: tenants, cfg: cfg}
}

func budgetKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("budget:%s", tenantID)
}

func counterKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("budget:%s:counter", tenantID)
}

// Snapshot returns the cached tenant view, loading it from Postgres and
// writing it through on a miss. A Redis read failure falls back to Postgres
// rather than rejecting the request.
func (b *BudgetCache) Snapshot(ctx context.Context, tenantID uuid.UUID) (*budgetSnapshot, error) {
	raw, err := b.rdb.Get(ctx, budgetKey(tenantID)).Bytes()
	if err == nil {
		var snap budgetSnapshot
		if jsonErr := json.Unmarshal(raw, &snap); jsonErr == nil {
			b.hits.Add(1)
			return &snap, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return b.loadThrough(ctx, tenantID, false)
	}

	b.misses.Add(1)
	return b.loadThrough(ctx, tenantID, true)
}

// loadThrough reads the tenant from Postgres and optionally caches it.
func (b *BudgetCache) loadThrough(ctx context.Context, tenantID uuid.UUID, cache bool) (*budgetSnapshot, error) {
	tenant, err := b.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	snap := &budgetSnapshot{
		TenantID:           tenant.ID,
		BudgetMonthly:      tenant.TokenBudgetMonthly,
		Used:               tenant.TokenUsedCurrentMonth,
		RateLimitPerMinute: tenant.RateLimitPerMinute,
		Status:             tenant.Status,
	}
	if cache {
		if raw, err := json.Marshal(snap); err == nil {
			// Best effort; the next request reloads on failure.
			b.rdb.Set(ctx, budgetKey(tenantID), raw, b.cfg.CacheTTL)
		}
	}
	return snap, nil
}

// Check admits or rejects a request expected to consume estimate tokens.
// Live usage is the cached value plus the unreconciled counter. Hitting the
// soft threshold admits with a warning flag instead of rejecting.
func (b *BudgetCache) Check(ctx context.Context, snap *budgetSnapshot, estimate int64) (*BudgetDecision, error) {
	counter, err := b.rdb.Get(ctx, counterKey(snap.TenantID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("budget counter for tenant %s: %w", snap.TenantID, err)
	}

	used := snap.Used + counter
	d := &BudgetDecision{Used: used, Budget: snap.BudgetMonthly}
	if used+estimate >= snap.BudgetMonthly {
		return d, nil
	}
	d.Allowed = true
	d.SoftLimit = used*100 >= snap.BudgetMonthly*int64(b.cfg.SoftLimitPercent)
	return d, nil
}

// AddUsage records consumed tokens in the tenant's unreconciled counter.
func (b *BudgetCache) AddUsage(ctx context.Context, tenantID uuid.UUID, tokens int64) error {
	return b.rdb.IncrBy(ctx, counterKey(tenantID), tokens).Err()
}

// Invalidate drops the cached snapshot so the next request reloads from
// Postgres. Called after the reconciler moves counter tokens into the
// relational store.
func (b *BudgetCache) Invalidate(ctx context.Context, tenantID uuid.UUID) error {
	return b.rdb.Del(ctx, budgetKey(tenantID)).Err()
}

// DrainCounter atomically takes the tenant's unreconciled counter, leaving
// zero behind. Returns 0 when there is nothing to flush.
func (b *BudgetCache) DrainCounter(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	raw, err := b.rdb.GetDel(ctx, counterKey(tenantID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed counter for tenant %s: %q", tenantID, raw)
	}
	return n, nil
}

// RestoreCounter puts drained tokens back after a failed flush.
func (b *BudgetCache) RestoreCounter(ctx context.Context, tenantID uuid.UUID, tokens int64) error {
	return b.rdb.IncrBy(ctx, counterKey(tenantID), tokens).Err()
}

// CacheHitRate returns hits/(hits+misses) of the snapshot cache, or zero
// before any lookups.
func (b *BudgetCache) CacheHitRate() float64 {
	hits, misses := b.hits.Load(), b.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}
