package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/agentrun/agentrun/pkg/models"
)

// decisionCondition is the declarative predicate of a decision step.
type decisionCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// decisionStepConfig is the config shape of a decision step.
type decisionStepConfig struct {
	Condition decisionCondition `json:"condition"`
	IfTrue    string            `json:"if_true"`
	IfFalse   string            `json:"if_false"`
}

// executeDecision evaluates the predicate against accumulated run state and
// selects a branch. The branch target's existence among later steps is
// checked by the successor logic, not here.
func (e *Executor) executeDecision(ctx context.Context, run *models.Run, rawConfig json.RawMessage) (*ExecOutcome, error) {
	var cfg decisionStepConfig
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, permanent(ReasonInvalidConfig, "decision step config: %v", err)
	}
	if cfg.Condition.Field == "" || cfg.Condition.Operator == "" {
		return nil, permanent(ReasonInvalidConfig, "decision step needs condition.field and condition.operator")
	}
	if cfg.IfTrue == "" || cfg.IfFalse == "" {
		return nil, permanent(ReasonInvalidConfig, "decision step needs if_true and if_false branches")
	}

	state, err := e.steps.RunState(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	matched, err := evaluateCondition(cfg.Condition, state)
	if err != nil {
		return nil, err
	}

	branch := cfg.IfFalse
	if matched {
		branch = cfg.IfTrue
	}

	output, err := json.Marshal(map[string]any{"decision": branch, "matched": matched})
	if err != nil {
		return nil, err
	}
	return &ExecOutcome{
		StepResult:   models.StepResult{Output: output},
		BranchTarget: branch,
	}, nil
}

// evaluateCondition resolves the field path against run state and applies
// the operator. A missing field makes the condition false rather than an
// error; workflows routinely branch on outputs that may not exist.
func evaluateCondition(cond decisionCondition, state map[string]json.RawMessage) (bool, error) {
	value, found := resolveField(cond.Field, state)

	switch cond.Operator {
	case "exists":
		return found, nil
	case "equals":
		return found && jsonEqual(value, cond.Value), nil
	case "not_equals":
		return found && !jsonEqual(value, cond.Value), nil
	case "contains":
		if !found {
			return false, nil
		}
		return jsonContains(value, cond.Value), nil
	case "gt", "lt":
		if !found {
			return false, nil
		}
		left, leftOK := toFloat(value)
		right, rightOK := toFloat(cond.Value)
		if !leftOK || !rightOK {
			return false, nil
		}
		if cond.Operator == "gt" {
			return left > right, nil
		}
		return left < right, nil
	default:
		return false, permanent(ReasonInvalidConfig, "unknown decision operator %q", cond.Operator)
	}
}

// resolveField walks "<step_name>[.<key path>]" into a completed step's
// output data.
func resolveField(field string, state map[string]json.RawMessage) (any, bool) {
	parts := strings.Split(field, ".")
	raw, ok := state[parts[0]]
	if !ok {
		return nil, false
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false
	}
	for _, key := range parts[1:] {
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return value, true
}

// jsonEqual compares a resolved state value with a config value. Both sides
// came through encoding/json, so numbers are float64 and objects are maps;
// re-encoding normalizes any residual asymmetry.
func jsonEqual(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ra) == string(rb)
}

// jsonContains implements the contains operator: substring for strings,
// membership for arrays.
func jsonContains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		if s, ok := needle.(string); ok {
			return strings.Contains(h, s)
		}
		return false
	case []any:
		for _, item := range h {
			if jsonEqual(item, needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// toFloat coerces a JSON value to a number for gt/lt comparisons.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
