package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is an isolated account with its own token budget and rate limit.
// token_used_current_month is maintained by the gateway reconciler: the
// gateway accumulates usage in the fast store and flushes it here
// periodically, resetting the column at each UTC month boundary.
type Tenant struct {
	ID                     uuid.UUID    `json:"id"`
	Name                   string       `json:"name"`
	TokenBudgetMonthly     int64        `json:"token_budget_monthly"`
	TokenUsedCurrentMonth  int64        `json:"token_used_current_month"`
	RateLimitPerMinute     int          `json:"rate_limit_per_minute"`
	Status                 TenantStatus `json:"status"`
	CreatedAt              time.Time    `json:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at"`
}

// BudgetRemaining returns the unconsumed share of the monthly budget.
// Never negative: in-flight estimation slack can push usage past the budget
// by at most one concurrent request.
func (t *Tenant) BudgetRemaining() int64 {
	remaining := t.TokenBudgetMonthly - t.TokenUsedCurrentMonth
	if remaining < 0 {
		return 0
	}
	return remaining
}
