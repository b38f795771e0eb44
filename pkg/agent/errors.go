// Package agent executes step messages on the worker: it dispatches llm
// steps through the gateway, tool steps through the tool dispatcher, and
// decision/parallel steps inline, then reports the outcome back to the queue
// layer as ack, retry, or dead-letter.
package agent

import (
	"errors"
	"fmt"
)

// Failure reasons carried into step error messages and DLQ entries.
const (
	ReasonUnknownStepType = "unknown_step_type"
	ReasonUnknownBranch   = "unknown_branch"
	ReasonInvalidConfig   = "invalid_step_config"
	ReasonNestedParallel  = "nested_parallel"
	ReasonUnknownTool     = "unknown_tool"
	ReasonBudgetExceeded  = "budget_exceeded"
	ReasonModelRejected   = "model_not_supported"
	ReasonGatewayError    = "gateway_error"
	ReasonToolError       = "tool_error"
	ReasonStepTimeout     = "step_timeout"
)

// ExecutionError is a classified step failure. The worker is the retry
// authority: Retryable decides between redelivery and the DLQ, and Reason
// becomes the DLQ annotation when the step is given up on.
type ExecutionError struct {
	Reason    string
	Message   string
	Retryable bool
	Cause     error
}

func (e *ExecutionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Message)
	}
	return e.Reason
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// permanent builds a non-retryable execution error.
func permanent(reason, format string, args ...any) *ExecutionError {
	return &ExecutionError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// transient builds a retryable execution error wrapping its cause.
func transient(reason string, cause error) *ExecutionError {
	return &ExecutionError{Reason: reason, Message: cause.Error(), Retryable: true, Cause: cause}
}

// IsRetryable classifies an arbitrary step error. Unclassified errors
// (database failures, connection resets, serialization) are treated as
// retryable; redelivery is cheap and the attempt ceiling bounds the damage.
func IsRetryable(err error) bool {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Retryable
	}
	return true
}

// FailureReason extracts the machine reason of a step error, defaulting to a
// generic label for unclassified errors.
func FailureReason(err error) string {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Reason
	}
	return "execution_error"
}

// IsBudgetExceeded reports whether the error is a gateway budget rejection.
func IsBudgetExceeded(err error) bool {
	var execErr *ExecutionError
	return errors.As(err, &execErr) && execErr.Reason == ReasonBudgetExceeded
}
