package gateway

import (
	"errors"
	"fmt"
	"time"
)

// ErrTenantSuspended rejects calls from suspended tenants.
var ErrTenantSuspended = errors.New("tenant is suspended")

// RateLimitedError is returned when a tenant exceeds its per-minute request
// cap. RetryAfter is surfaced as the Retry-After header.
type RateLimitedError struct {
	TenantID   string
	Count      int64
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("tenant %s exceeded rate limit: %d requests in window (limit %d)",
		e.TenantID, e.Count, e.Limit)
}

// BudgetExceededError is returned when an admission check finds the request
// would not fit the tenant's remaining monthly budget.
type BudgetExceededError struct {
	TenantID string
	Used     int64
	Budget   int64
	Estimate int64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("tenant %s monthly token budget exceeded: used %d + estimate %d >= budget %d",
		e.TenantID, e.Used, e.Estimate, e.Budget)
}
