package config

// Config is the umbrella configuration object returned by Initialize() and
// injected into every process at startup. Sections are pointers so callers
// share one validated instance.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// Queue and worker settings (orchestrator process)
	Queue  *QueueConfig
	Worker *WorkerConfig
	Step   *StepConfig

	// Gateway settings
	Gateway        *GatewayConfig
	RateLimit      *RateLimitConfig
	Budget         *BudgetConfig
	CircuitBreaker *CircuitBreakerConfig

	// Control-plane settings
	ControlPlane *ControlPlaneConfig

	// Provider registry and pricing
	Providers *ProviderRegistry
	Pricing   PricingTable
}

// Stats contains statistics about loaded configuration
type Stats struct {
	Providers    int
	PricedModels int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{PricedModels: len(c.Pricing)}
	if c.Providers != nil {
		s.Providers = c.Providers.Len()
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetProvider retrieves a provider configuration by name.
// This is a convenience method that wraps ProviderRegistry.Get().
func (c *Config) GetProvider(name string) (*ProviderConfig, error) {
	return c.Providers.Get(name)
}
