package providers

import (
	"log/slog"
	"math"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/models"
)

// CostCalculator prices completions from the static table loaded at startup.
type CostCalculator struct {
	pricing config.PricingTable
}

// NewCostCalculator creates a calculator over the pricing table.
func NewCostCalculator(pricing config.PricingTable) *CostCalculator {
	return &CostCalculator{pricing: pricing}
}

// Cost computes the USD cost of a completion, rounded to 6 decimal places,
// and returns the per-1k rates used. A model without a pricing entry falls
// back to the cheapest same-family entry; with no family match the call
// costs nothing. Both fallbacks log a warning.
func (c *CostCalculator) Cost(model string, usage models.Usage) (cost, promptPer1K, completionPer1K float64) {
	pricing, ok := c.pricing.Lookup(model)
	if !ok {
		fallbackModel, fallback, found := c.pricing.CheapestInFamily(model)
		if !found {
			slog.Warn("No pricing for model and no family fallback, costing zero",
				"model", model)
			return 0, 0, 0
		}
		slog.Warn("No pricing for model, using cheapest family entry",
			"model", model, "fallback", fallbackModel)
		pricing = fallback
	}

	raw := float64(usage.PromptTokens)/1000*pricing.PromptPer1K +
		float64(usage.CompletionTokens)/1000*pricing.CompletionPer1K
	return math.Round(raw*1e6) / 1e6, pricing.PromptPer1K, pricing.CompletionPer1K
}
