package config

import (
	"sort"
	"strings"
)

// ModelPricing is the per-1k-token price pair for one model, in USD.
type ModelPricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k"`
}

// PricingTable maps canonical model names to pricing. Loaded at startup;
// user entries from agentrun.yaml override the built-ins per model.
type PricingTable map[string]ModelPricing

// Lookup returns the pricing for a model and whether it was an exact hit.
func (t PricingTable) Lookup(model string) (ModelPricing, bool) {
	p, ok := t[model]
	return p, ok
}

// CheapestInFamily finds the lowest-priced entry sharing the model's family
// prefix. Families are the common dotted prefixes (gpt-4, gpt-3.5, claude-3);
// a model with no family match returns false and costs nothing, which the
// caller must log. Deterministic: ties break by model name.
func (t PricingTable) CheapestInFamily(model string) (string, ModelPricing, bool) {
	family := modelFamily(model)
	if family == "" {
		return "", ModelPricing{}, false
	}

	names := make([]string, 0, len(t))
	for name := range t {
		if modelFamily(name) == family {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", ModelPricing{}, false
	}
	sort.Strings(names)

	best := names[0]
	for _, name := range names[1:] {
		if total(t[name]) < total(t[best]) {
			best = name
		}
	}
	return best, t[best], true
}

func total(p ModelPricing) float64 {
	return p.PromptPer1K + p.CompletionPer1K
}

// modelFamily extracts the pricing family of a model name: the first two
// dash-separated tokens ("gpt-4", "claude-3", "gpt-3.5"). Single-token names
// have no family.
func modelFamily(model string) string {
	parts := strings.SplitN(model, "-", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + "-" + parts[1]
}
