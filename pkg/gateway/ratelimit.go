package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agentrun/agentrun/pkg/config"
)

// RateLimiter enforces a fixed per-minute request cap per tenant using a
// Redis counter keyed by tenant. INCR and EXPIRE NX run in one pipeline, so
// the window starts at the first request and every replica shares the same
// counter. Counting before admission means rejected requests still consume a
// slot; that is the intended reading of the limit (requests, not successes).
type RateLimiter struct {
	rdb *redis.Client
	cfg *config.RateLimitConfig
}

// NewRateLimiter creates the limiter.
func NewRateLimiter(rdb *redis.Client, cfg *config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{rdb: rdb, cfg: cfg}
}

func rateLimitKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("ratelimit:%s", tenantID)
}

// Allow increments the tenant's window counter and reports whether the
// request fits. limit <= 0 falls back to the configured default. The returned
// retryAfter is the window length, surfaced as the Retry-After header.
func (l *RateLimiter) Allow(ctx context.Context, tenantID uuid.UUID, limit int) (allowed bool, count int64, retryAfter time.Duration, err error) {
	if limit <= 0 {
		limit = l.cfg.RequestsPerMinute
	}

	key := rateLimitKey(tenantID)
	pipe := l.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, 0, fmt.Errorf("rate limit check for tenant %s: %w", tenantID, err)
	}

	count = incr.Val()
	return count <= int64(limit), count, l.cfg.Window, nil
}
