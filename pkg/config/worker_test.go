package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelayBackoffCurve(t *testing.T) {
	cfg := DefaultStepConfig()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{10, 60 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.RetryDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryDelayClampsBadAttempts(t *testing.T) {
	cfg := DefaultStepConfig()
	assert.Equal(t, 2*time.Second, cfg.RetryDelay(0))
	assert.Equal(t, 2*time.Second, cfg.RetryDelay(-3))
}
