package providers

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/models"
)

// Result is a successful provider completion before gateway-side cost
// accounting. NativeModel is the provider's exact model identifier the call
// was dispatched with.
type Result struct {
	Content      string
	FinishReason string
	Usage        models.Usage
	NativeModel  string
}

// Provider is the capability handle one LLM service exposes. Implementations
// translate SDK errors into *ProviderError / *RateLimitError before
// returning.
type Provider interface {
	// Name identifies the provider (openai, anthropic, local).
	Name() string

	// Completion performs one non-streaming completion call.
	Completion(ctx context.Context, req *models.CompletionRequest) (*Result, error)

	// SupportsModel reports whether the canonical model name is served.
	SupportsModel(model string) bool

	// MapModelName maps a canonical model name to the provider-native
	// identifier. ok is false for unsupported models.
	MapModelName(model string) (string, bool)

	// IsAvailable reports whether the provider is usable (key present,
	// endpoint reachable enough to try).
	IsAvailable(ctx context.Context) bool
}

// Build constructs providers from the registry in registration order.
// Providers with a missing API key are skipped with a warning rather than
// failing startup: the remaining providers still serve.
func Build(registry *config.ProviderRegistry) ([]Provider, error) {
	var built []Provider
	for _, name := range registry.Names() {
		cfg, err := registry.Get(name)
		if err != nil {
			return nil, err
		}
		if !cfg.IsEnabled() {
			slog.Info("Provider disabled by configuration", "provider", name)
			continue
		}

		provider, err := buildOne(name, cfg)
		if err != nil {
			return nil, err
		}
		if provider == nil {
			continue
		}
		built = append(built, provider)
	}
	if len(built) == 0 {
		return nil, fmt.Errorf("no usable llm providers configured")
	}
	return built, nil
}

func buildOne(name string, cfg *config.ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case config.ProviderTypeOpenAI:
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			slog.Warn("Skipping provider, API key not set",
				"provider", name, "env", cfg.APIKeyEnv)
			return nil, nil
		}
		return NewOpenAIProvider(name, key, cfg.BaseURL, cfg.ExtraModels), nil

	case config.ProviderTypeAnthropic:
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			slog.Warn("Skipping provider, API key not set",
				"provider", name, "env", cfg.APIKeyEnv)
			return nil, nil
		}
		return NewAnthropicProvider(name, key, cfg.BaseURL, cfg.ExtraModels), nil

	case config.ProviderTypeLocal:
		return NewLocalProvider(name, cfg.ExtraModels), nil

	default:
		return nil, fmt.Errorf("unknown provider type %q for provider %s", cfg.Type, name)
	}
}

// modelMap is the shared alias-map helper providers embed for model
// canonicalization.
type modelMap map[string]string

func (m modelMap) supports(model string) bool {
	_, ok := m[model]
	return ok
}

func (m modelMap) mapName(model string) (string, bool) {
	native, ok := m[model]
	return native, ok
}

func (m modelMap) withExtras(extras []string) modelMap {
	if len(extras) == 0 {
		return m
	}
	out := make(modelMap, len(m)+len(extras))
	for k, v := range m {
		out[k] = v
	}
	for _, name := range extras {
		out[name] = name
	}
	return out
}
