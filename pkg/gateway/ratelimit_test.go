package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/pkg/config"
)

func testRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	_, rdb := testRedis(t)
	limiter := NewRateLimiter(rdb, config.DefaultRateLimitConfig())
	tenantID := uuid.New()

	for i := 1; i <= 5; i++ {
		allowed, count, _, err := limiter.Allow(context.Background(), tenantID, 5)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d within the limit", i)
		assert.Equal(t, int64(i), count)
	}

	allowed, count, retryAfter, err := limiter.Allow(context.Background(), tenantID, 5)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, int64(6), count, "rejected requests still consume a slot")
	assert.Equal(t, 60*time.Second, retryAfter)
}

func TestRateLimiterZeroLimitUsesDefault(t *testing.T) {
	_, rdb := testRedis(t)
	cfg := &config.RateLimitConfig{RequestsPerMinute: 2, Window: 30 * time.Second}
	limiter := NewRateLimiter(rdb, cfg)
	tenantID := uuid.New()

	for i := 0; i < 2; i++ {
		allowed, _, _, err := limiter.Allow(context.Background(), tenantID, 0)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, _, retryAfter, err := limiter.Allow(context.Background(), tenantID, 0)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 30*time.Second, retryAfter)
}

func TestRateLimiterWindowResets(t *testing.T) {
	mr, rdb := testRedis(t)
	limiter := NewRateLimiter(rdb, config.DefaultRateLimitConfig())
	tenantID := uuid.New()

	allowed, _, _, err := limiter.Allow(context.Background(), tenantID, 1)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, _, err = limiter.Allow(context.Background(), tenantID, 1)
	require.NoError(t, err)
	require.False(t, allowed)

	mr.FastForward(61 * time.Second)

	allowed, count, _, err := limiter.Allow(context.Background(), tenantID, 1)
	require.NoError(t, err)
	assert.True(t, allowed, "counter expires with the window")
	assert.Equal(t, int64(1), count)
}

func TestRateLimiterTenantsAreIsolated(t *testing.T) {
	_, rdb := testRedis(t)
	limiter := NewRateLimiter(rdb, config.DefaultRateLimitConfig())

	a, b := uuid.New(), uuid.New()
	allowed, _, _, err := limiter.Allow(context.Background(), a, 1)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, count, _, err := limiter.Allow(context.Background(), b, 1)
	require.NoError(t, err)
	assert.True(t, allowed, "tenant b has its own window")
	assert.Equal(t, int64(1), count)
}
