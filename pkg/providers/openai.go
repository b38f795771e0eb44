package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentrun/agentrun/pkg/models"
)

// openaiModels maps canonical model names to OpenAI identifiers.
var openaiModels = modelMap{
	"gpt-4":               "gpt-4",
	"gpt-4-turbo":         "gpt-4-turbo-preview",
	"gpt-4-turbo-preview": "gpt-4-turbo-preview",
	"gpt-3.5-turbo":       "gpt-3.5-turbo",
	"gpt-3.5":             "gpt-3.5-turbo",
}

// OpenAIProvider fronts the OpenAI chat completions API.
type OpenAIProvider struct {
	name   string
	client *openai.Client
	models modelMap
}

// NewOpenAIProvider creates the provider. baseURL overrides the endpoint for
// proxies and compatible servers.
func NewOpenAIProvider(name, apiKey, baseURL string, extraModels []string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		name:   name,
		client: openai.NewClientWithConfig(cfg),
		models: openaiModels.withExtras(extraModels),
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return p.name }

// SupportsModel implements Provider.
func (p *OpenAIProvider) SupportsModel(model string) bool { return p.models.supports(model) }

// MapModelName implements Provider.
func (p *OpenAIProvider) MapModelName(model string) (string, bool) { return p.models.mapName(model) }

// IsAvailable implements Provider. The client is constructed only with a
// key, so a registered provider is assumed reachable; the breaker isolates
// actual faults.
func (p *OpenAIProvider) IsAvailable(_ context.Context) bool { return true }

// Completion implements Provider.
func (p *OpenAIProvider) Completion(ctx context.Context, req *models.CompletionRequest) (*Result, error) {
	native, ok := p.MapModelName(req.Model)
	if !ok {
		return nil, &ProviderError{
			Provider:  p.name,
			Model:     req.Model,
			Retryable: false,
			Message:   fmt.Sprintf("model %q not supported", req.Model),
		}
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:            native,
		Messages:         messages,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stop:             req.Stop,
	})
	if err != nil {
		return nil, p.wrapError(err, req.Model)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{
			Provider:  p.name,
			Model:     req.Model,
			Retryable: true,
			Message:   "empty choices in response",
		}
	}

	choice := resp.Choices[0]
	return &Result{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		NativeModel: native,
	}, nil
}

// wrapError translates SDK errors into the shared taxonomy.
func (p *OpenAIProvider) wrapError(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return &RateLimitError{
				Provider:   p.name,
				RetryAfter: 60 * time.Second,
				Message:    apiErr.Message,
			}
		case apiErr.HTTPStatusCode >= 500:
			return &ProviderError{
				Provider:   p.name,
				Model:      model,
				StatusCode: apiErr.HTTPStatusCode,
				Retryable:  true,
				Message:    apiErr.Message,
				Cause:      err,
			}
		default:
			return &ProviderError{
				Provider:   p.name,
				Model:      model,
				StatusCode: apiErr.HTTPStatusCode,
				Retryable:  false,
				Message:    apiErr.Message,
				Cause:      err,
			}
		}
	}

	// Connection resets, timeouts, and anything else non-HTTP: transient.
	return &ProviderError{
		Provider:  p.name,
		Model:     model,
		Retryable: true,
		Message:   err.Error(),
		Cause:     err,
	}
}
