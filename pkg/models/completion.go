package models

import "github.com/google/uuid"

// Chat message roles accepted by the gateway.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one entry of a completion request's message list.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the unified gateway request schema. Providers receive
// it unchanged; model names are canonical and mapped to provider-native
// identifiers at dispatch.
type CompletionRequest struct {
	Model             string        `json:"model"`
	Messages          []ChatMessage `json:"messages"`
	TenantID          uuid.UUID     `json:"tenant_id"`
	RunID             *uuid.UUID    `json:"run_id,omitempty"`
	StepID            *uuid.UUID    `json:"step_id,omitempty"`
	Temperature       float32       `json:"temperature"`
	MaxTokens         int           `json:"max_tokens,omitempty"`
	TopP              float32       `json:"top_p,omitempty"`
	FrequencyPenalty  float32       `json:"frequency_penalty,omitempty"`
	PresencePenalty   float32       `json:"presence_penalty,omitempty"`
	Stop              []string      `json:"stop,omitempty"`
	PreferredProvider string        `json:"preferred_provider,omitempty"`
}

// Usage is the token accounting block of a completion response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the unified gateway response schema.
type CompletionResponse struct {
	ID                 string   `json:"id"`
	Model              string   `json:"model"`
	Provider           string   `json:"provider"`
	Content            string   `json:"content"`
	FinishReason       string   `json:"finish_reason"`
	Usage              Usage    `json:"usage"`
	CostUSD            float64  `json:"cost_usd"`
	LatencyMS          int      `json:"latency_ms"`
	IsFallback         bool     `json:"is_fallback"`
	AttemptedProviders []string `json:"attempted_providers"`
	Warnings           []string `json:"warnings,omitempty"`
}

// GatewayError is the error body returned by the gateway on non-2xx status.
type GatewayError struct {
	Error              string   `json:"error"`
	Message            string   `json:"message"`
	AttemptedProviders []string `json:"attempted_providers,omitempty"`
}
