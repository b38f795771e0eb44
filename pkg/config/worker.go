package config

import "time"

// WorkerConfig contains orchestrator worker pool configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines per process; each
	// executes one step at a time.
	Concurrency int `yaml:"concurrency"`

	// PollInterval is the backoff applied after a queue transport error,
	// preventing a hot loop while the queue is unreachable.
	PollInterval time.Duration `yaml:"poll_interval"`

	// EmptyPollDelay is the pause after a poll that returned no messages.
	EmptyPollDelay time.Duration `yaml:"empty_poll_delay"`

	// LLMCallLimit caps concurrent outbound gateway calls across the whole
	// process. Backpressure: a slow provider must not absorb every worker.
	LLMCallLimit int `yaml:"llm_call_limit"`

	// DrainTimeout is the max time to wait for in-flight step executions
	// during shutdown.
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// HealthListenAddr is the address of the worker's health/metrics server.
	HealthListenAddr string `yaml:"health_listen_addr"`

	// GatewayURL is the base URL of the LLM gateway, and GatewayTimeout the
	// per-call budget. LLM calls dominate step latency, so the timeout is
	// generous.
	GatewayURL     string        `yaml:"gateway_url"`
	GatewayTimeout time.Duration `yaml:"gateway_timeout"`
}

// DefaultWorkerConfig returns the built-in worker defaults.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		Concurrency:      5,
		PollInterval:     5 * time.Second,
		EmptyPollDelay:   1 * time.Second,
		LLMCallLimit:     10,
		DrainTimeout:     30 * time.Second,
		HealthListenAddr: ":8082",
		GatewayURL:       "http://localhost:8080",
		GatewayTimeout:   120 * time.Second,
	}
}

// StepConfig contains per-step execution limits and the retry backoff curve.
type StepConfig struct {
	// DefaultTimeout bounds one step execution attempt.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// MaxRetries is the default attempt ceiling when the task does not set
	// its own.
	MaxRetries int `yaml:"max_retries"`

	// RetryBase and RetryMax shape the redelivery backoff:
	// min(RetryMax, RetryBase * 2^(attempt-1)).
	RetryBase time.Duration `yaml:"retry_base"`
	RetryMax  time.Duration `yaml:"retry_max"`
}

// DefaultStepConfig returns the built-in step defaults.
func DefaultStepConfig() *StepConfig {
	return &StepConfig{
		DefaultTimeout: 300 * time.Second,
		MaxRetries:     3,
		RetryBase:      2 * time.Second,
		RetryMax:       60 * time.Second,
	}
}

// RetryDelay computes the redelivery delay for a failed attempt:
// min(RetryMax, RetryBase * 2^(attempt-1)).
func (c *StepConfig) RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.RetryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.RetryMax {
			return c.RetryMax
		}
	}
	if delay > c.RetryMax {
		return c.RetryMax
	}
	return delay
}
