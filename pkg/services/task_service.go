package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentrun/agentrun/pkg/models"
)

// TaskService manages task definitions. Tasks are immutable once created;
// changed workflows are new rows.
type TaskService struct {
	pool *pgxpool.Pool
}

// NewTaskService creates a new TaskService
func NewTaskService(pool *pgxpool.Pool) *TaskService {
	return &TaskService{pool: pool}
}

// Create validates and inserts a task definition.
func (s *TaskService) Create(ctx context.Context, req models.CreateTaskRequest) (*models.Task, error) {
	if req.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if err := req.Config.Validate(); err != nil {
		return nil, NewValidationError("task_config", err.Error())
	}
	if req.TimeoutSeconds <= 0 {
		req.TimeoutSeconds = 3600
	}
	if req.MaxRetries <= 0 {
		req.MaxRetries = 3
	}

	task := &models.Task{
		ID:                 uuid.New(),
		TenantID:           req.TenantID,
		Name:               req.Name,
		Config:             req.Config,
		DefaultTokenBudget: req.DefaultTokenBudget,
		TimeoutSeconds:     req.TimeoutSeconds,
		MaxRetries:         req.MaxRetries,
		IsActive:           true,
		CreatedAt:          time.Now().UTC(),
	}

	configJSON, err := json.Marshal(task.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task config: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO tasks (id, tenant_id, name, task_config, default_token_budget,
			timeout_seconds, max_retries, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		task.ID, task.TenantID, task.Name, configJSON, task.DefaultTokenBudget,
		task.TimeoutSeconds, task.MaxRetries, task.IsActive, task.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return task, nil
}

// Get retrieves a task by ID.
func (s *TaskService) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var (
		t          models.Task
		configJSON []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, task_config, default_token_budget,
			timeout_seconds, max_retries, is_active, created_at
		 FROM tasks WHERE id = $1`, id).
		Scan(&t.ID, &t.TenantID, &t.Name, &configJSON, &t.DefaultTokenBudget,
			&t.TimeoutSeconds, &t.MaxRetries, &t.IsActive, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	if err := json.Unmarshal(configJSON, &t.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task config: %w", err)
	}
	return &t, nil
}

// GetActive retrieves a task and rejects inactive ones.
func (s *TaskService) GetActive(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !task.IsActive {
		return nil, ErrTaskInactive
	}
	return task, nil
}
