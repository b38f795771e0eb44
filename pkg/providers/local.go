package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentrun/agentrun/pkg/models"
)

// LocalProvider is the deterministic in-process provider used for
// development and tests. It accepts any model name with the "local-" prefix
// plus configured extras, and echoes a digest of the prompt. Token usage is
// derived from word counts so budget accounting stays exercised end to end.
type LocalProvider struct {
	name   string
	extras modelMap
}

// NewLocalProvider creates the provider.
func NewLocalProvider(name string, extraModels []string) *LocalProvider {
	return &LocalProvider{
		name:   name,
		extras: modelMap{}.withExtras(extraModels),
	}
}

// Name implements Provider.
func (p *LocalProvider) Name() string { return p.name }

// SupportsModel implements Provider.
func (p *LocalProvider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "local-") || p.extras.supports(model)
}

// MapModelName implements Provider.
func (p *LocalProvider) MapModelName(model string) (string, bool) {
	if !p.SupportsModel(model) {
		return "", false
	}
	if native, ok := p.extras.mapName(model); ok {
		return native, true
	}
	return model, true
}

// IsAvailable implements Provider.
func (p *LocalProvider) IsAvailable(_ context.Context) bool { return true }

// Completion implements Provider.
func (p *LocalProvider) Completion(_ context.Context, req *models.CompletionRequest) (*Result, error) {
	native, ok := p.MapModelName(req.Model)
	if !ok {
		return nil, &ProviderError{
			Provider:  p.name,
			Model:     req.Model,
			Retryable: false,
			Message:   fmt.Sprintf("model %q not supported", req.Model),
		}
	}

	var lastUser string
	promptWords := 0
	for _, m := range req.Messages {
		promptWords += len(strings.Fields(m.Content))
		if m.Role == models.RoleUser {
			lastUser = m.Content
		}
	}

	content := fmt.Sprintf("[%s] %s", native, summarize(lastUser))
	completionWords := len(strings.Fields(content))

	return &Result{
		Content:      content,
		FinishReason: "stop",
		Usage: models.Usage{
			PromptTokens:     promptWords,
			CompletionTokens: completionWords,
			TotalTokens:      promptWords + completionWords,
		},
		NativeModel: native,
	}, nil
}

// summarize truncates the prompt to a short echo.
func summarize(s string) string {
	const maxLen = 120
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
