package config

import (
	"fmt"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	// Validate in order: providers → pricing → sections that reference
	// providers (gateway priority) → remaining sections

	if err := v.validateProviders(); err != nil {
		return fmt.Errorf("provider validation failed: %w", err)
	}

	if err := v.validatePricing(); err != nil {
		return fmt.Errorf("pricing validation failed: %w", err)
	}

	if err := v.validateGateway(); err != nil {
		return fmt.Errorf("gateway validation failed: %w", err)
	}

	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}

	if err := v.validateWorker(); err != nil {
		return fmt.Errorf("worker validation failed: %w", err)
	}

	if err := v.validateStep(); err != nil {
		return fmt.Errorf("step validation failed: %w", err)
	}

	if err := v.validateRateLimit(); err != nil {
		return fmt.Errorf("rate limit validation failed: %w", err)
	}

	if err := v.validateBudget(); err != nil {
		return fmt.Errorf("budget validation failed: %w", err)
	}

	if err := v.validateCircuitBreaker(); err != nil {
		return fmt.Errorf("circuit breaker validation failed: %w", err)
	}

	if err := v.validateControlPlane(); err != nil {
		return fmt.Errorf("control plane validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateProviders() error {
	enabled := 0
	for _, name := range v.cfg.Providers.Names() {
		provider, err := v.cfg.Providers.Get(name)
		if err != nil {
			return err
		}

		// Validate provider type
		if !provider.Type.IsValid() {
			return NewValidationError("provider", name, "type", fmt.Errorf("invalid provider type: %s", provider.Type))
		}

		// A missing API key does not fail validation: the provider is
		// skipped at construction so the remaining providers still serve.
		if provider.IsEnabled() {
			enabled++
		}
	}

	if enabled == 0 {
		return NewValidationError("provider", "registry", "", fmt.Errorf("at least one enabled provider required"))
	}

	return nil
}

func (v *ConfigValidator) validatePricing() error {
	for model, pricing := range v.cfg.Pricing {
		if model == "" {
			return NewValidationError("pricing", model, "model", fmt.Errorf("model name required"))
		}
		if pricing.PromptPer1K < 0 {
			return NewValidationError("pricing", model, "prompt_per_1k", fmt.Errorf("must not be negative"))
		}
		if pricing.CompletionPer1K < 0 {
			return NewValidationError("pricing", model, "completion_per_1k", fmt.Errorf("must not be negative"))
		}
	}

	return nil
}

func (v *ConfigValidator) validateGateway() error {
	gw := v.cfg.Gateway

	if gw.ListenAddr == "" {
		return NewValidationError("gateway", "gateway", "listen_addr", ErrMissingRequiredField)
	}
	if gw.RequestTimeout <= 0 {
		return NewValidationError("gateway", "gateway", "request_timeout", fmt.Errorf("must be positive"))
	}

	// Priority entries must reference registered providers (catches typos)
	for _, name := range gw.ProviderPriority {
		if !v.cfg.Providers.Has(name) {
			return NewValidationError("gateway", "gateway", "provider_priority", fmt.Errorf("provider '%s' not found", name))
		}
	}

	return nil
}

func (v *ConfigValidator) validateQueue() error {
	q := v.cfg.Queue

	if q.Name == "" {
		return NewValidationError("queue", q.Name, "name", ErrMissingRequiredField)
	}
	if q.DLQName == "" {
		return NewValidationError("queue", q.Name, "dlq_name", ErrMissingRequiredField)
	}
	if q.Name == q.DLQName {
		return NewValidationError("queue", q.Name, "dlq_name", fmt.Errorf("must differ from main queue name"))
	}
	if q.VisibilityTimeout <= 0 {
		return NewValidationError("queue", q.Name, "visibility_timeout", fmt.Errorf("must be positive"))
	}
	if q.WaitTime < 0 {
		return NewValidationError("queue", q.Name, "wait_time", fmt.Errorf("must not be negative"))
	}
	if q.WaitTime >= q.VisibilityTimeout {
		return NewValidationError("queue", q.Name, "wait_time", fmt.Errorf("must be shorter than visibility_timeout"))
	}
	if q.MaxMessages < 1 {
		return NewValidationError("queue", q.Name, "max_messages", fmt.Errorf("must be at least 1"))
	}

	return nil
}

func (v *ConfigValidator) validateWorker() error {
	w := v.cfg.Worker

	if w.Concurrency < 1 {
		return NewValidationError("worker", "worker", "concurrency", fmt.Errorf("must be at least 1"))
	}
	if w.PollInterval <= 0 {
		return NewValidationError("worker", "worker", "poll_interval", fmt.Errorf("must be positive"))
	}
	if w.EmptyPollDelay < 0 {
		return NewValidationError("worker", "worker", "empty_poll_delay", fmt.Errorf("must not be negative"))
	}
	if w.LLMCallLimit < 1 {
		return NewValidationError("worker", "worker", "llm_call_limit", fmt.Errorf("must be at least 1"))
	}
	if w.DrainTimeout < 0 {
		return NewValidationError("worker", "worker", "drain_timeout", fmt.Errorf("must not be negative"))
	}
	if w.GatewayURL == "" {
		return NewValidationError("worker", "worker", "gateway_url", ErrMissingRequiredField)
	}
	if w.GatewayTimeout <= 0 {
		return NewValidationError("worker", "worker", "gateway_timeout", fmt.Errorf("must be positive"))
	}

	return nil
}

func (v *ConfigValidator) validateStep() error {
	s := v.cfg.Step

	if s.DefaultTimeout <= 0 {
		return NewValidationError("step", "step", "default_timeout", fmt.Errorf("must be positive"))
	}
	if s.MaxRetries < 0 {
		return NewValidationError("step", "step", "max_retries", fmt.Errorf("must not be negative"))
	}
	if s.RetryBase <= 0 {
		return NewValidationError("step", "step", "retry_base", fmt.Errorf("must be positive"))
	}
	if s.RetryMax < s.RetryBase {
		return NewValidationError("step", "step", "retry_max", fmt.Errorf("must be at least retry_base"))
	}

	return nil
}

func (v *ConfigValidator) validateRateLimit() error {
	rl := v.cfg.RateLimit

	if rl.RequestsPerMinute < 1 {
		return NewValidationError("rate_limit", "rate_limit", "requests_per_minute", fmt.Errorf("must be at least 1"))
	}
	if rl.Window <= 0 {
		return NewValidationError("rate_limit", "rate_limit", "window", fmt.Errorf("must be positive"))
	}

	return nil
}

func (v *ConfigValidator) validateBudget() error {
	b := v.cfg.Budget

	if b.CacheTTL <= 0 {
		return NewValidationError("budget", "budget", "cache_ttl", fmt.Errorf("must be positive"))
	}
	if b.SoftLimitPercent < 0 || b.SoftLimitPercent > 100 {
		return NewValidationError("budget", "budget", "soft_limit_percent", fmt.Errorf("must be between 0 and 100"))
	}
	if b.ReconcileInterval <= 0 {
		return NewValidationError("budget", "budget", "reconcile_interval", fmt.Errorf("must be positive"))
	}

	return nil
}

func (v *ConfigValidator) validateCircuitBreaker() error {
	cb := v.cfg.CircuitBreaker

	if cb.FailMax < 1 {
		return NewValidationError("circuit_breaker", "circuit_breaker", "fail_max", fmt.Errorf("must be at least 1"))
	}
	if cb.Timeout <= 0 {
		return NewValidationError("circuit_breaker", "circuit_breaker", "timeout", fmt.Errorf("must be positive"))
	}

	return nil
}

func (v *ConfigValidator) validateControlPlane() error {
	cp := v.cfg.ControlPlane

	if cp.ListenAddr == "" {
		return NewValidationError("control_plane", "control_plane", "listen_addr", ErrMissingRequiredField)
	}
	if cp.RunTimeoutCheckInterval <= 0 {
		return NewValidationError("control_plane", "control_plane", "run_timeout_check_interval", fmt.Errorf("must be positive"))
	}

	return nil
}
