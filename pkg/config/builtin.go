package config

import (
	"sync"
)

// BuiltinConfig holds all built-in configuration data: default providers and
// the default pricing table. User YAML entries override these per key.
type BuiltinConfig struct {
	Providers map[string]ProviderConfig
	Pricing   PricingTable
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe, lazy-initialized)
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		Providers: initBuiltinProviders(),
		Pricing:   initBuiltinPricing(),
	}
}

func initBuiltinProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"openai": {
			Type:      ProviderTypeOpenAI,
			APIKeyEnv: "OPENAI_API_KEY",
		},
		"anthropic": {
			Type:      ProviderTypeAnthropic,
			APIKeyEnv: "ANTHROPIC_API_KEY",
		},
		"local": {
			Type: ProviderTypeLocal,
		},
	}
}

// initBuiltinPricing returns the default USD-per-1k-token price table.
func initBuiltinPricing() PricingTable {
	return PricingTable{
		"gpt-4-turbo-preview": {PromptPer1K: 0.01, CompletionPer1K: 0.03},
		"gpt-4":               {PromptPer1K: 0.03, CompletionPer1K: 0.06},
		"gpt-3.5-turbo":       {PromptPer1K: 0.0005, CompletionPer1K: 0.0015},
		"claude-3-opus":       {PromptPer1K: 0.015, CompletionPer1K: 0.075},
		"claude-3-sonnet":     {PromptPer1K: 0.003, CompletionPer1K: 0.015},
		"claude-3-haiku":      {PromptPer1K: 0.00025, CompletionPer1K: 0.00125},
	}
}
