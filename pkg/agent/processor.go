package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/metrics"
	"github.com/agentrun/agentrun/pkg/models"
	"github.com/agentrun/agentrun/pkg/queue"
	"github.com/agentrun/agentrun/pkg/services"
)

// infraRetryDelay shortens the visibility of a message whose handling hit an
// infrastructure error (database write failed, enqueue failed). Short enough
// to recover quickly, long enough to avoid a hot redelivery loop.
const infraRetryDelay = 5 * time.Second

// RunStore is the slice of run persistence the processor drives.
// *services.RunService implements it.
type RunStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Run, error)
	Transition(ctx context.Context, id uuid.UUID, to models.RunStatus, errorMessage, currentStep string) error
	AddStepTotals(ctx context.Context, id uuid.UUID, tokens int64, cost float64, currentStep string) error
}

// StepStore is the slice of step persistence the processor drives.
// *services.StepService implements it.
type StepStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Step, error)
	MarkRunning(ctx context.Context, id uuid.UUID, attempt int) error
	MarkSuccess(ctx context.Context, id uuid.UUID, output json.RawMessage, tokens int64, cost float64) error
	MarkRetrying(ctx context.Context, id uuid.UUID, errorMessage string) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
	MarkSkipped(ctx context.Context, id uuid.UUID, reason string) error
	SkipRange(ctx context.Context, runID uuid.UUID, fromOrder, toOrder int) (int64, error)
	NextQueued(ctx context.Context, runID uuid.UUID, afterOrder int) (*models.Step, error)
	FindByName(ctx context.Context, runID uuid.UUID, name string) (*models.Step, error)
	RunState(ctx context.Context, runID uuid.UUID) (map[string]json.RawMessage, error)
}

// Processor is the per-message step orchestrator behind the worker pool. It
// validates the envelope, drives the step and run state machines, executes
// the step, and decides the message disposition. Every database write
// commits before the returned disposition acks the message, so a crash at
// any point yields redelivery into idempotent handling, never lost progress.
type Processor struct {
	runs     RunStore
	steps    StepStore
	executor *Executor
	enqueuer services.StepEnqueuer
	stepCfg  *config.StepConfig
}

// NewProcessor creates the processor.
func NewProcessor(runs RunStore, steps StepStore,
	executor *Executor, enqueuer services.StepEnqueuer, stepCfg *config.StepConfig) *Processor {
	return &Processor{
		runs:     runs,
		steps:    steps,
		executor: executor,
		enqueuer: enqueuer,
		stepCfg:  stepCfg,
	}
}

// Process implements queue.Processor.
func (p *Processor) Process(ctx context.Context, msg queue.Message) queue.Outcome {
	var stepMsg models.StepMessage
	if err := json.Unmarshal(msg.Body, &stepMsg); err != nil {
		slog.Warn("Dead-lettering malformed step message", "message_id", msg.ID, "error", err)
		return queue.DeadLetter(models.DLQReasonInvalidJSON, err.Error())
	}
	if err := stepMsg.Validate(); err != nil {
		slog.Warn("Dead-lettering incomplete step message", "message_id", msg.ID, "error", err)
		return queue.DeadLetter(models.DLQReasonMissingFields, err.Error())
	}

	log := slog.With("run_id", stepMsg.RunID, "step_id", stepMsg.StepID, "step_name", stepMsg.StepName)

	step, err := p.steps.Get(ctx, stepMsg.StepID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			log.Warn("Dead-lettering message for unknown step")
			return queue.DeadLetter(models.DLQReasonMissingFields, "step row not found")
		}
		return queue.Retry(infraRetryDelay)
	}

	// Redelivery of an already-finished step acks without re-execution.
	if step.Status.IsTerminal() {
		log.Debug("Step already terminal, acking redelivered message", "status", step.Status)
		return queue.Ack()
	}

	run, err := p.runs.Get(ctx, stepMsg.RunID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			log.Warn("Dead-lettering message for unknown run")
			return queue.DeadLetter(models.DLQReasonMissingFields, "run row not found")
		}
		return queue.Retry(infraRetryDelay)
	}

	// Cancelled/finished runs absorb their in-flight steps.
	if run.Status.IsTerminal() {
		log.Info("Run is terminal, skipping step", "run_status", run.Status)
		if err := p.steps.MarkSkipped(ctx, step.ID, "run is "+string(run.Status)); err != nil {
			return queue.Retry(infraRetryDelay)
		}
		metrics.StepOutcomes.WithLabelValues(string(stepMsg.StepType), "skipped").Inc()
		return queue.Ack()
	}

	attempt := stepMsg.Attempt
	if msg.ReceiveCount > attempt {
		attempt = msg.ReceiveCount
	}
	if attempt > step.MaxAttempts {
		return p.fail(ctx, run, step, &stepMsg,
			permanent(models.DLQReasonMaxAttempts, "attempt %d exceeds max %d", attempt, step.MaxAttempts))
	}

	if run.Status == models.RunStatusPending {
		if err := p.runs.Transition(ctx, run.ID, models.RunStatusRunning, "", step.StepName); err != nil {
			// Includes losing the race against a concurrent cancel; the
			// redelivery re-reads the run and takes the terminal path.
			return queue.Retry(infraRetryDelay)
		}
	}

	if err := p.steps.MarkRunning(ctx, step.ID, attempt); err != nil {
		return queue.Retry(infraRetryDelay)
	}

	execCtx, cancel := context.WithTimeout(ctx, p.stepCfg.DefaultTimeout)
	outcome, execErr := p.executor.Execute(execCtx, run, step, &stepMsg)
	timedOut := errors.Is(execCtx.Err(), context.DeadlineExceeded)
	cancel()

	if execErr != nil {
		// An attempt cut off by the per-step deadline surfaces as whatever
		// error the interrupted call produced; reclassify it so the step is
		// not retried against a timeout it would breach again.
		if timedOut {
			execErr = permanent(ReasonStepTimeout,
				"step exceeded its %s execution timeout: %v", p.stepCfg.DefaultTimeout, execErr)
		}
		if IsRetryable(execErr) && attempt < step.MaxAttempts {
			log.Warn("Step failed, scheduling retry",
				"attempt", attempt, "max_attempts", step.MaxAttempts, "error", execErr)
			if err := p.steps.MarkRetrying(ctx, step.ID, execErr.Error()); err != nil {
				return queue.Retry(infraRetryDelay)
			}
			metrics.StepOutcomes.WithLabelValues(string(stepMsg.StepType), "retry").Inc()
			return queue.Retry(p.stepCfg.RetryDelay(attempt))
		}
		return p.fail(ctx, run, step, &stepMsg, execErr)
	}

	return p.succeed(ctx, run, step, &stepMsg, outcome, log)
}

// succeed persists the step result, aggregates run totals, and advances the
// run: enqueue the successor (or the decision target) or complete the run.
func (p *Processor) succeed(ctx context.Context, run *models.Run, step *models.Step,
	msg *models.StepMessage, outcome *ExecOutcome, log *slog.Logger) queue.Outcome {

	// Resolve the successor before finalizing the step: an unresolvable
	// branch target must fail the step, and the step row only leaves the
	// failable statuses once MarkSuccess commits.
	var (
		next *models.Step
		err  error
	)
	if outcome.BranchTarget != "" {
		next, err = p.branchTarget(ctx, run, step, outcome.BranchTarget)
		if err != nil {
			return p.fail(ctx, run, step, msg, err)
		}
	} else {
		next, err = p.steps.NextQueued(ctx, run.ID, step.StepOrder)
		if err != nil && !errors.Is(err, services.ErrNotFound) {
			return queue.Retry(infraRetryDelay)
		}
	}

	if err := p.steps.MarkSuccess(ctx, step.ID, outcome.Output, outcome.TokensUsed, outcome.CostUSD); err != nil {
		return queue.Retry(infraRetryDelay)
	}
	if err := p.runs.AddStepTotals(ctx, run.ID, outcome.TokensUsed, outcome.CostUSD, step.StepName); err != nil {
		return queue.Retry(infraRetryDelay)
	}

	if next == nil {
		if err := p.runs.Transition(ctx, run.ID, models.RunStatusCompleted, "", ""); err != nil &&
			!errors.Is(err, services.ErrInvalidTransition) {
			return queue.Retry(infraRetryDelay)
		}
		log.Info("Run completed", "tokens_used", run.TokensUsed+outcome.TokensUsed)
	} else {
		nextMsg := &models.StepMessage{
			RunID:      run.ID,
			StepID:     next.ID,
			StepName:   next.StepName,
			StepType:   next.StepType,
			StepConfig: next.InputData,
			Attempt:    1,
		}
		if err := p.enqueuer.EnqueueStep(ctx, nextMsg); err != nil {
			// Redelivery acks at the terminal-step guard without re-enqueuing;
			// a run stalled by a lost enqueue is picked up by the run timeout
			// monitor.
			return queue.Retry(infraRetryDelay)
		}
		log.Debug("Enqueued successor step", "next_step", next.StepName)
	}

	metrics.StepOutcomes.WithLabelValues(string(msg.StepType), "ack").Inc()
	return queue.Ack()
}

// branchTarget resolves a decision branch to a later step, marking the steps
// it jumps over as skipped.
func (p *Processor) branchTarget(ctx context.Context, run *models.Run, step *models.Step, target string) (*models.Step, error) {
	next, err := p.steps.FindByName(ctx, run.ID, target)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, permanent(ReasonUnknownBranch, "branch target %q not found in run", target)
		}
		return nil, err
	}
	if next.StepOrder <= step.StepOrder {
		return nil, permanent(ReasonUnknownBranch,
			"branch target %q is not a later step (order %d <= %d)", target, next.StepOrder, step.StepOrder)
	}

	if _, err := p.steps.SkipRange(ctx, run.ID, step.StepOrder, next.StepOrder); err != nil {
		return nil, err
	}
	return next, nil
}

// fail marks the step failed, finalizes the run, and dead-letters the
// message. Budget rejections surface as run status budget_exceeded; anything
// else ends the run failed.
func (p *Processor) fail(ctx context.Context, run *models.Run, step *models.Step,
	msg *models.StepMessage, execErr error) queue.Outcome {

	if err := p.steps.MarkFailed(ctx, step.ID, execErr.Error()); err != nil {
		return queue.Retry(infraRetryDelay)
	}

	runStatus := models.RunStatusFailed
	if IsBudgetExceeded(execErr) {
		runStatus = models.RunStatusBudgetExceeded
	}
	if err := p.runs.Transition(ctx, run.ID, runStatus, execErr.Error(), step.StepName); err != nil &&
		!errors.Is(err, services.ErrInvalidTransition) {
		return queue.Retry(infraRetryDelay)
	}

	slog.Error("Step failed permanently",
		"run_id", run.ID, "step_name", step.StepName, "reason", FailureReason(execErr), "error", execErr)
	metrics.StepOutcomes.WithLabelValues(string(msg.StepType), "dead_letter").Inc()
	return queue.DeadLetter(FailureReason(execErr), execErr.Error())
}
