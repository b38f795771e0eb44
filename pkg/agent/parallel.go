package agent

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"

	"github.com/agentrun/agentrun/pkg/models"
)

// parallelStepConfig is the config shape of a parallel step: a list of child
// step specs in the same flat wire form tasks use.
type parallelStepConfig struct {
	Steps []models.StepSpec `json:"steps"`
}

// childResult is one child outcome, kept in declaration order.
type childResult struct {
	Name   string          `json:"name"`
	Output json.RawMessage `json:"output"`
}

// executeParallel fans the child steps out concurrently and collects their
// outputs in declaration order. The step succeeds only if every child does;
// the first error wins and its classification decides retryability. Children
// are restricted to llm and tool; composition does not nest.
func (e *Executor) executeParallel(ctx context.Context, run *models.Run, step *models.Step, rawConfig json.RawMessage) (*ExecOutcome, error) {
	var cfg parallelStepConfig
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, permanent(ReasonInvalidConfig, "parallel step config: %v", err)
	}
	if len(cfg.Steps) == 0 {
		return nil, permanent(ReasonInvalidConfig, "parallel step has no children")
	}
	for _, child := range cfg.Steps {
		switch child.Type {
		case models.StepTypeLLM, models.StepTypeTool:
		default:
			return nil, permanent(ReasonNestedParallel,
				"parallel child %q has type %q; only llm and tool children are allowed",
				child.Name, child.Type)
		}
	}

	results := make([]*ExecOutcome, len(cfg.Steps))
	g, gctx := errgroup.WithContext(ctx)
	for i, child := range cfg.Steps {
		g.Go(func() error {
			childConfig, err := json.Marshal(child.Config)
			if err != nil {
				return permanent(ReasonInvalidConfig, "parallel child %q config: %v", child.Name, err)
			}

			var outcome *ExecOutcome
			if child.Type == models.StepTypeLLM {
				outcome, err = e.executeLLM(gctx, run, step, childConfig)
			} else {
				outcome, err = e.executeTool(gctx, run, step, childConfig)
			}
			if err != nil {
				return err
			}
			results[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		children []childResult
		tokens   int64
		cost     float64
	)
	for i, outcome := range results {
		children = append(children, childResult{
			Name:   cfg.Steps[i].Name,
			Output: outcome.Output,
		})
		tokens += outcome.TokensUsed
		cost += outcome.CostUSD
	}

	output, err := json.Marshal(map[string]any{"children": children})
	if err != nil {
		return nil, err
	}
	return &ExecOutcome{StepResult: models.StepResult{
		Output:     output,
		TokensUsed: tokens,
		CostUSD:    cost,
	}}, nil
}
