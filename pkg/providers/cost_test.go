package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/models"
)

func testPricing() config.PricingTable {
	return config.PricingTable{
		"gpt-4":         {PromptPer1K: 0.03, CompletionPer1K: 0.06},
		"gpt-4-turbo":   {PromptPer1K: 0.01, CompletionPer1K: 0.03},
		"gpt-3.5-turbo": {PromptPer1K: 0.0005, CompletionPer1K: 0.0015},
		"claude-3-opus": {PromptPer1K: 0.015, CompletionPer1K: 0.075},
	}
}

func TestCostExactPricing(t *testing.T) {
	calc := NewCostCalculator(testPricing())

	tests := []struct {
		name       string
		model      string
		usage      models.Usage
		wantCost   float64
		wantPrompt float64
	}{
		{
			name:       "gpt-4 mixed usage",
			model:      "gpt-4",
			usage:      models.Usage{PromptTokens: 1000, CompletionTokens: 500},
			wantCost:   0.06, // 0.03 + 0.5*0.06
			wantPrompt: 0.03,
		},
		{
			name:       "gpt-3.5 small usage",
			model:      "gpt-3.5-turbo",
			usage:      models.Usage{PromptTokens: 100, CompletionTokens: 50},
			wantCost:   0.000125,
			wantPrompt: 0.0005,
		},
		{
			name:     "zero usage",
			model:    "gpt-4",
			usage:    models.Usage{},
			wantCost: 0,
		},
		{
			name:     "claude opus",
			model:    "claude-3-opus",
			usage:    models.Usage{PromptTokens: 2000, CompletionTokens: 1000},
			wantCost: 0.105,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost, promptPer1K, _ := calc.Cost(tt.model, tt.usage)
			assert.InDelta(t, tt.wantCost, cost, 1e-9)
			if tt.wantPrompt != 0 {
				assert.Equal(t, tt.wantPrompt, promptPer1K)
			}
		})
	}
}

func TestCostRoundsToSixDecimals(t *testing.T) {
	calc := NewCostCalculator(config.PricingTable{
		"tiny-1-model": {PromptPer1K: 0.0007, CompletionPer1K: 0.0007},
	})

	// 3 prompt tokens at 0.0007/1k = 0.0000021 raw, rounds to 0.000002.
	cost, _, _ := calc.Cost("tiny-1-model", models.Usage{PromptTokens: 3})
	assert.InDelta(t, 0.000002, cost, 1e-12)
}

func TestCostFamilyFallback(t *testing.T) {
	calc := NewCostCalculator(testPricing())

	// gpt-4o has no entry; the cheapest gpt-4 family entry is gpt-4-turbo.
	cost, promptPer1K, completionPer1K := calc.Cost("gpt-4o",
		models.Usage{PromptTokens: 1000, CompletionTokens: 1000})
	assert.InDelta(t, 0.04, cost, 1e-9)
	assert.Equal(t, 0.01, promptPer1K)
	assert.Equal(t, 0.03, completionPer1K)
}

func TestCostNoFamilyMatchCostsZero(t *testing.T) {
	calc := NewCostCalculator(testPricing())

	cost, promptPer1K, completionPer1K := calc.Cost("mistral-7b",
		models.Usage{PromptTokens: 1000, CompletionTokens: 1000})
	assert.Zero(t, cost)
	assert.Zero(t, promptPer1K)
	assert.Zero(t, completionPer1K)
}
