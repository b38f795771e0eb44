package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/agentrun/agentrun/pkg/models"
)

// ExecOutcome is the result of one successful step execution. BranchTarget
// is set by decision steps and names the step the run jumps to.
type ExecOutcome struct {
	models.StepResult
	BranchTarget string
}

// RunStateReader loads the accumulated run state decision steps evaluate
// against. *services.StepService implements it.
type RunStateReader interface {
	RunState(ctx context.Context, runID uuid.UUID) (map[string]json.RawMessage, error)
}

// Executor dispatches one step to its type-specific execution path. LLM
// calls (direct or inside a parallel step) pass through a process-wide
// semaphore so a slow provider cannot absorb every worker goroutine.
type Executor struct {
	gateway *GatewayClient
	tools   *ToolDispatcher
	steps   RunStateReader
	llmSem  *semaphore.Weighted
}

// NewExecutor creates the executor. llmCallLimit caps concurrent gateway
// calls across the process.
func NewExecutor(gateway *GatewayClient, tools *ToolDispatcher, steps RunStateReader, llmCallLimit int) *Executor {
	if llmCallLimit <= 0 {
		llmCallLimit = 10
	}
	return &Executor{
		gateway: gateway,
		tools:   tools,
		steps:   steps,
		llmSem:  semaphore.NewWeighted(int64(llmCallLimit)),
	}
}

// Execute runs one step and returns its outcome. Errors are classified for
// the retry decision by the caller.
func (e *Executor) Execute(ctx context.Context, run *models.Run, step *models.Step, msg *models.StepMessage) (*ExecOutcome, error) {
	switch msg.StepType {
	case models.StepTypeLLM:
		return e.executeLLM(ctx, run, step, msg.StepConfig)
	case models.StepTypeTool:
		return e.executeTool(ctx, run, step, msg.StepConfig)
	case models.StepTypeDecision:
		return e.executeDecision(ctx, run, msg.StepConfig)
	case models.StepTypeParallel:
		return e.executeParallel(ctx, run, step, msg.StepConfig)
	default:
		return nil, permanent(ReasonUnknownStepType, "step type %q", msg.StepType)
	}
}

// llmStepConfig is the config shape of an llm step.
type llmStepConfig struct {
	Model        string  `json:"model"`
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt"`
	Context      string  `json:"context"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float32 `json:"temperature"`
	Provider     string  `json:"provider"`
}

// executeLLM calls the gateway under the process-wide call limit.
func (e *Executor) executeLLM(ctx context.Context, run *models.Run, step *models.Step, rawConfig json.RawMessage) (*ExecOutcome, error) {
	var cfg llmStepConfig
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, permanent(ReasonInvalidConfig, "llm step config: %v", err)
	}
	if cfg.Model == "" {
		return nil, permanent(ReasonInvalidConfig, "llm step has no model")
	}
	if cfg.Prompt == "" {
		return nil, permanent(ReasonInvalidConfig, "llm step has no prompt")
	}

	var messages []models.ChatMessage
	if cfg.SystemPrompt != "" {
		messages = append(messages, models.ChatMessage{Role: models.RoleSystem, Content: cfg.SystemPrompt})
	}
	user := cfg.Prompt
	if cfg.Context != "" {
		user = fmt.Sprintf("Context: %s\n\n%s", cfg.Context, cfg.Prompt)
	}
	messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: user})

	req := &models.CompletionRequest{
		Model:             cfg.Model,
		Messages:          messages,
		TenantID:          run.TenantID,
		RunID:             &run.ID,
		StepID:            &step.ID,
		MaxTokens:         cfg.MaxTokens,
		Temperature:       cfg.Temperature,
		PreferredProvider: cfg.Provider,
	}

	if err := e.llmSem.Acquire(ctx, 1); err != nil {
		return nil, transient(ReasonGatewayError, err)
	}
	defer e.llmSem.Release(1)

	resp, err := e.gateway.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	output, err := json.Marshal(map[string]any{
		"content":  resp.Content,
		"model":    resp.Model,
		"provider": resp.Provider,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal llm output: %w", err)
	}

	return &ExecOutcome{StepResult: models.StepResult{
		Output:     output,
		TokensUsed: int64(resp.Usage.TotalTokens),
		CostUSD:    resp.CostUSD,
	}}, nil
}

// executeTool dispatches a tool step. Tools consume no tokens.
func (e *Executor) executeTool(ctx context.Context, run *models.Run, step *models.Step, rawConfig json.RawMessage) (*ExecOutcome, error) {
	output, err := e.tools.Dispatch(ctx, run.TenantID, run.ID, step.ID, rawConfig)
	if err != nil {
		return nil, err
	}
	return &ExecOutcome{StepResult: models.StepResult{Output: output}}, nil
}
