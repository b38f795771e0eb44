package config

import "time"

// GatewayConfig contains LLM gateway HTTP server configuration.
type GatewayConfig struct {
	// ListenAddr is the gateway bind address.
	ListenAddr string `yaml:"listen_addr"`

	// RequestTimeout bounds one completion request end to end, including
	// provider failover attempts.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ProviderPriority is the global failover order. Providers absent from
	// this list rank after it, in registration order.
	ProviderPriority []string `yaml:"provider_priority"`
}

// DefaultGatewayConfig returns the built-in gateway defaults.
func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		ListenAddr:       ":8080",
		RequestTimeout:   120 * time.Second,
		ProviderPriority: []string{"openai", "anthropic", "local"},
	}
}

// RateLimitConfig contains per-tenant request rate enforcement settings.
type RateLimitConfig struct {
	// RequestsPerMinute is the default limit for tenants without an
	// override on their row.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// Window is the sliding-window length; also the Retry-After value
	// returned on 429.
	Window time.Duration `yaml:"window"`
}

// DefaultRateLimitConfig returns the built-in rate limit defaults.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 100,
		Window:            60 * time.Second,
	}
}

// BudgetConfig contains monthly token budget enforcement settings.
type BudgetConfig struct {
	// CacheTTL bounds budget snapshot staleness in the fast store.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// SoftLimitPercent is the warning threshold (0-100).
	SoftLimitPercent int `yaml:"soft_limit_percent"`

	// ReconcileInterval is how often the usage counter is flushed into the
	// relational store.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// DefaultBudgetConfig returns the built-in budget defaults.
func DefaultBudgetConfig() *BudgetConfig {
	return &BudgetConfig{
		CacheTTL:          60 * time.Second,
		SoftLimitPercent:  80,
		ReconcileInterval: 60 * time.Second,
	}
}

// CircuitBreakerConfig contains per-provider breaker settings.
type CircuitBreakerConfig struct {
	// FailMax is the consecutive-failure threshold that opens the breaker.
	FailMax int `yaml:"fail_max"`

	// Timeout is how long an open breaker rejects calls before allowing a
	// half-open probe.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultCircuitBreakerConfig returns the built-in breaker defaults.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		FailMax: 5,
		Timeout: 60 * time.Second,
	}
}

// ControlPlaneConfig contains control-plane API server configuration.
type ControlPlaneConfig struct {
	// ListenAddr is the API bind address.
	ListenAddr string `yaml:"listen_addr"`

	// RunTimeoutCheckInterval is how often running runs are checked against
	// their task timeout.
	RunTimeoutCheckInterval time.Duration `yaml:"run_timeout_check_interval"`
}

// DefaultControlPlaneConfig returns the built-in control-plane defaults.
func DefaultControlPlaneConfig() *ControlPlaneConfig {
	return &ControlPlaneConfig{
		ListenAddr:              ":8081",
		RunTimeoutCheckInterval: 30 * time.Second,
	}
}
