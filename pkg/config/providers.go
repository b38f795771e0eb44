package config

import (
	"fmt"
	"sort"
	"sync"
)

// ProviderType defines supported LLM provider implementations
type ProviderType string

const (
	// ProviderTypeOpenAI is the OpenAI chat completions API
	ProviderTypeOpenAI ProviderType = "openai"
	// ProviderTypeAnthropic is the Anthropic messages API
	ProviderTypeAnthropic ProviderType = "anthropic"
	// ProviderTypeLocal is the deterministic in-process provider for development
	ProviderTypeLocal ProviderType = "local"
)

// IsValid checks if the provider type is valid
func (t ProviderType) IsValid() bool {
	return t == ProviderTypeOpenAI || t == ProviderTypeAnthropic || t == ProviderTypeLocal
}

// ProviderConfig defines one LLM provider entry from llm-providers.yaml.
type ProviderConfig struct {
	// Provider type (required)
	Type ProviderType `yaml:"type"`

	// Environment variable name holding the API key. Keys are read at
	// provider construction, never stored in configuration files.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Optional custom endpoint for proxies and compatible servers
	BaseURL string `yaml:"base_url,omitempty"`

	// Extra canonical model names this provider accepts beyond the
	// built-in alias map, each mapped to itself.
	ExtraModels []string `yaml:"extra_models,omitempty"`

	// Enabled defaults to true; a disabled provider stays registered but
	// is never selected.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the provider participates in routing.
func (c *ProviderConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ProviderRegistry stores provider configurations in memory with thread-safe
// access. Registration order is preserved: the router uses it as the
// tie-break after the global priority list.
type ProviderRegistry struct {
	providers map[string]*ProviderConfig
	order     []string
	mu        sync.RWMutex
}

// NewProviderRegistry creates a registry from a name→config map. Order is
// derived from sorted names so replicas observe identical registration order
// regardless of map iteration.
func NewProviderRegistry(providers map[string]*ProviderConfig) *ProviderRegistry {
	copied := make(map[string]*ProviderConfig, len(providers))
	order := make([]string, 0, len(providers))
	for name, cfg := range providers {
		copied[name] = cfg
		order = append(order, name)
	}
	sort.Strings(order)
	return &ProviderRegistry{
		providers: copied,
		order:     order,
	}
}

// Get retrieves a provider configuration by name (thread-safe)
func (r *ProviderRegistry) Get(name string) (*ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return provider, nil
}

// Names returns all provider names in registration order (thread-safe, copy)
func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Has checks if a provider exists in the registry (thread-safe)
func (r *ProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.providers[name]
	return exists
}

// Len returns the number of providers in the registry (thread-safe)
func (r *ProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
