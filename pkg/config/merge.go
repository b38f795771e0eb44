package config

// mergeProviders merges built-in and user-defined provider configurations.
// User-defined providers override built-in providers with the same name.
func mergeProviders(builtinProviders map[string]ProviderConfig, userProviders map[string]ProviderConfig) map[string]*ProviderConfig {
	result := make(map[string]*ProviderConfig)

	// First, add built-in providers
	for name, provider := range builtinProviders {
		providerCopy := provider
		// Defensive copy of ExtraModels slice to prevent shared state
		providerCopy.ExtraModels = append([]string(nil), provider.ExtraModels...)
		result[name] = &providerCopy
	}

	// Then, override with user-defined providers (or add new ones)
	for name, userProvider := range userProviders {
		providerCopy := userProvider
		result[name] = &providerCopy
	}

	return result
}

// mergePricing merges built-in and user-defined model pricing.
// User-defined entries override built-in entries with the same model name.
func mergePricing(builtinPricing map[string]ModelPricing, userPricing map[string]ModelPricing) PricingTable {
	result := make(PricingTable)

	// First, add built-in pricing
	for model, pricing := range builtinPricing {
		result[model] = pricing
	}

	// Then, override with user-defined pricing (or add new models)
	for model, pricing := range userPricing {
		result[model] = pricing
	}

	return result
}
