package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentrun/agentrun/pkg/models"
)

// anthropicModels maps canonical model names to dated Anthropic identifiers.
var anthropicModels = modelMap{
	"claude-3-opus":   "claude-3-opus-20240229",
	"claude-3-sonnet": "claude-3-sonnet-20240229",
	"claude-3-haiku":  "claude-3-haiku-20240307",
	"claude-opus":     "claude-3-opus-20240229",
	"claude-sonnet":   "claude-3-sonnet-20240229",
	"claude-haiku":    "claude-3-haiku-20240307",
	// gpt-4 aliases onto sonnet so openai-first requests can fail over.
	"gpt-4": "claude-3-sonnet-20240229",
}

// defaultAnthropicMaxTokens applies when the request leaves max_tokens
// unset; the Anthropic API requires an explicit value.
const defaultAnthropicMaxTokens = 4096

// AnthropicProvider fronts the Anthropic messages API.
type AnthropicProvider struct {
	name   string
	client anthropic.Client
	models modelMap
}

// NewAnthropicProvider creates the provider.
func NewAnthropicProvider(name, apiKey, baseURL string, extraModels []string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		name:   name,
		client: anthropic.NewClient(opts...),
		models: anthropicModels.withExtras(extraModels),
	}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return p.name }

// SupportsModel implements Provider.
func (p *AnthropicProvider) SupportsModel(model string) bool { return p.models.supports(model) }

// MapModelName implements Provider.
func (p *AnthropicProvider) MapModelName(model string) (string, bool) {
	return p.models.mapName(model)
}

// IsAvailable implements Provider.
func (p *AnthropicProvider) IsAvailable(_ context.Context) bool { return true }

// Completion implements Provider. The Anthropic API takes the system prompt
// separately from the message list.
func (p *AnthropicProvider) Completion(ctx context.Context, req *models.CompletionRequest) (*Result, error) {
	native, ok := p.MapModelName(req.Model)
	if !ok {
		return nil, &ProviderError{
			Provider:  p.name,
			Model:     req.Model,
			Retryable: false,
			Message:   fmt.Sprintf("model %q not supported", req.Model),
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(native),
		MaxTokens: int64(maxTokens),
	}
	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case models.RoleAssistant:
			params.Messages = append(params.Messages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	if req.TopP > 0 {
		params.TopP = anthropic.Float(float64(req.TopP))
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err, req.Model)
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &Result{
		Content:      content,
		FinishReason: string(msg.StopReason),
		Usage: models.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		NativeModel: native,
	}, nil
}

// wrapError translates SDK errors into the shared taxonomy.
func (p *AnthropicProvider) wrapError(err error, model string) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return &RateLimitError{
				Provider:   p.name,
				RetryAfter: 60 * time.Second,
				Message:    apiErr.Error(),
			}
		case apiErr.StatusCode >= 500, apiErr.StatusCode == 529:
			return &ProviderError{
				Provider:   p.name,
				Model:      model,
				StatusCode: apiErr.StatusCode,
				Retryable:  true,
				Message:    apiErr.Error(),
				Cause:      err,
			}
		default:
			return &ProviderError{
				Provider:   p.name,
				Model:      model,
				StatusCode: apiErr.StatusCode,
				Retryable:  false,
				Message:    apiErr.Error(),
				Cause:      err,
			}
		}
	}

	return &ProviderError{
		Provider:  p.name,
		Model:     model,
		Retryable: true,
		Message:   err.Error(),
		Cause:     err,
	}
}
