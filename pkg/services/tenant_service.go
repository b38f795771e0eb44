package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentrun/agentrun/pkg/models"
)

// TenantService manages tenant rows. The gateway reconciler is the only
// writer of token_used_current_month; everything else reads.
type TenantService struct {
	pool *pgxpool.Pool
}

// NewTenantService creates a new TenantService
func NewTenantService(pool *pgxpool.Pool) *TenantService {
	return &TenantService{pool: pool}
}

const tenantColumns = `id, name, token_budget_monthly, token_used_current_month,
	rate_limit_per_minute, status, created_at, updated_at`

// Create inserts a tenant. Administrative path; also used by tests and seeds.
func (s *TenantService) Create(ctx context.Context, tenant *models.Tenant) error {
	if tenant.Name == "" {
		return NewValidationError("name", "required")
	}
	if tenant.TokenBudgetMonthly < 0 {
		return NewValidationError("token_budget_monthly", "must be >= 0")
	}
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	if tenant.Status == "" {
		tenant.Status = models.TenantStatusActive
	}

	now := time.Now().UTC()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, token_budget_monthly, token_used_current_month,
			rate_limit_per_minute, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tenant.ID, tenant.Name, tenant.TokenBudgetMonthly, tenant.TokenUsedCurrentMonth,
		tenant.RateLimitPerMinute, tenant.Status, tenant.CreatedAt, tenant.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// Get retrieves a tenant by ID.
func (s *TenantService) Get(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.TokenBudgetMonthly, &t.TokenUsedCurrentMonth,
			&t.RateLimitPerMinute, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &t, nil
}

// AddTokenUsage atomically adds reconciled usage to the monthly counter.
// Called by the gateway reconciler with the accumulated fast-store delta.
func (s *TenantService) AddTokenUsage(ctx context.Context, id uuid.UUID, tokens int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants
		 SET token_used_current_month = token_used_current_month + $2, updated_at = now()
		 WHERE id = $1`,
		id, tokens)
	if err != nil {
		return fmt.Errorf("failed to add token usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetMonthlyUsage zeroes token_used_current_month for every tenant not yet
// touched in the new month. The updated_at guard makes the statement
// idempotent across replicas: a tenant already reset (or already accruing
// fresh usage) this month is left alone.
func (s *TenantService) ResetMonthlyUsage(ctx context.Context, monthStart time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants
		 SET token_used_current_month = 0, updated_at = now()
		 WHERE updated_at < $1 AND token_used_current_month > 0`,
		monthStart)
	if err != nil {
		return 0, fmt.Errorf("failed to reset monthly usage: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListIDs returns all tenant IDs. The reconciler iterates these to flush
// per-tenant fast-store counters.
func (s *TenantService) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
