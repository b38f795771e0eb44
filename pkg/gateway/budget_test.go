package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/models"
)

func testBudgetCache(t *testing.T) *BudgetCache {
	t.Helper()
	_, rdb := testRedis(t)
	return NewBudgetCache(rdb, nil, config.DefaultBudgetConfig())
}

func snapshotFor(tenantID uuid.UUID, budget, used int64) *budgetSnapshot {
	return &budgetSnapshot{
		TenantID:      tenantID,
		BudgetMonthly: budget,
		Used:          used,
		Status:        models.TenantStatusActive,
	}
}

func TestBudgetCheckRejectsWhenEstimateWouldExceed(t *testing.T) {
	cache := testBudgetCache(t)
	snap := snapshotFor(uuid.New(), 1000, 995)

	d, err := cache.Check(context.Background(), snap, 10)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(995), d.Used)
	assert.Equal(t, int64(1000), d.Budget)
}

func TestBudgetCheckExactBudgetRejects(t *testing.T) {
	cache := testBudgetCache(t)
	snap := snapshotFor(uuid.New(), 1000, 990)

	// used + estimate == budget is already over: the budget is exclusive.
	d, err := cache.Check(context.Background(), snap, 10)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestBudgetCheckSoftLimit(t *testing.T) {
	cache := testBudgetCache(t)

	d, err := cache.Check(context.Background(), snapshotFor(uuid.New(), 1000, 850), 10)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.SoftLimit, "80 percent of budget reached")

	d, err = cache.Check(context.Background(), snapshotFor(uuid.New(), 1000, 500), 10)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.False(t, d.SoftLimit)
}

func TestBudgetCheckIncludesUnreconciledCounter(t *testing.T) {
	cache := testBudgetCache(t)
	tenantID := uuid.New()
	snap := snapshotFor(tenantID, 1000, 500)

	require.NoError(t, cache.AddUsage(context.Background(), tenantID, 490))

	d, err := cache.Check(context.Background(), snap, 20)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "counter tokens count against the budget")
	assert.Equal(t, int64(990), d.Used)
}

func TestBudgetDrainAndRestoreCounter(t *testing.T) {
	cache := testBudgetCache(t)
	tenantID := uuid.New()

	n, err := cache.DrainCounter(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Zero(t, n, "missing counter drains to zero")

	require.NoError(t, cache.AddUsage(context.Background(), tenantID, 150))
	require.NoError(t, cache.AddUsage(context.Background(), tenantID, 50))

	n, err = cache.DrainCounter(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), n)

	// Drain leaves nothing behind.
	n, err = cache.DrainCounter(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Zero(t, n)

	// A failed flush puts the tokens back for the next cycle.
	require.NoError(t, cache.RestoreCounter(context.Background(), tenantID, 200))
	n, err = cache.DrainCounter(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), n)
}

func TestBudgetInvalidateDropsSnapshot(t *testing.T) {
	mr, rdb := testRedis(t)
	cache := NewBudgetCache(rdb, nil, config.DefaultBudgetConfig())
	tenantID := uuid.New()

	require.NoError(t, mr.Set(budgetKey(tenantID), `{"tenant_id":"`+tenantID.String()+`"}`))
	require.NoError(t, cache.Invalidate(context.Background(), tenantID))
	assert.False(t, mr.Exists(budgetKey(tenantID)))
}

func TestBudgetSnapshotCacheHit(t *testing.T) {
	mr, rdb := testRedis(t)
	cache := NewBudgetCache(rdb, nil, config.DefaultBudgetConfig())
	tenantID := uuid.New()

	seeded := snapshotFor(tenantID, 5000, 1200)
	seeded.RateLimitPerMinute = 30
	raw, err := json.Marshal(seeded)
	require.NoError(t, err)
	require.NoError(t, mr.Set(budgetKey(tenantID), string(raw)))

	snap, err := cache.Snapshot(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), snap.BudgetMonthly)
	assert.Equal(t, int64(1200), snap.Used)
	assert.Equal(t, 30, snap.RateLimitPerMinute)
	assert.Equal(t, models.TenantStatusActive, snap.Status)
	assert.Equal(t, 1.0, cache.CacheHitRate())
}
