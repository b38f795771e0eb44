package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthStatus represents database health and connection pool statistics
type HealthStatus struct {
	Status          string `json:"status"`
	ResponseTime    int64  `json:"response_time_ms"`
	TotalConns      int32  `json:"total_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	IdleConns       int32  `json:"idle_conns"`
	MaxConns        int32  `json:"max_conns"`
	EmptyAcquireCnt int64  `json:"empty_acquire_count"`
}

// Health checks database connectivity and returns connection pool statistics
func Health(ctx context.Context, pool *pgxpool.Pool) (*HealthStatus, error) {
	start := time.Now()

	if err := pool.Ping(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	stats := pool.Stat()
	return &HealthStatus{
		Status:          "healthy",
		ResponseTime:    time.Since(start).Milliseconds(),
		TotalConns:      stats.TotalConns(),
		AcquiredConns:   stats.AcquiredConns(),
		IdleConns:       stats.IdleConns(),
		MaxConns:        stats.MaxConns(),
		EmptyAcquireCnt: stats.EmptyAcquireCount(),
	}, nil
}
