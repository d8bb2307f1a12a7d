// Package eval holds the runtime semantics of condition operators and branch
// selection. Every function here is total: malformed tree content degrades to a
// non-match instead of an error.
package eval

import (
	"strings"

	"github.com/agenthands/caire/internal/core/model"
)

// Evaluate compares an observed value against a threshold with operator op.
// Unknown operators never match. A null value only matches "absent".
func Evaluate(value model.Value, op string, threshold model.Value) bool {
	op = model.NormalizeOperator(op)
	if op == "" {
		op = model.OpEqual
	}

	if value.IsNull() {
		// null satisfies "absent" and nothing else, including "!=".
		return op == model.OpAbsent
	}

	switch op {
	case model.OpEqual:
		if threshold.IsNull() {
			return false
		}
		return value.Equal(threshold)
	case model.OpNotEqual:
		return !value.Equal(threshold)
	case model.OpGreater, model.OpLess, model.OpGreaterEqual, model.OpLessEqual:
		return compare(value, op, threshold)
	case model.OpContains:
		v := value.Text()
		if !threshold.IsNull() && strings.Contains(v, threshold.Text()) {
			return true
		}
		return strings.Contains(threshold.Text(), v)
	case model.OpPresent:
		return !(value.Kind == model.KindString && value.Str == "")
	case model.OpAbsent:
		return value.Kind == model.KindString && value.Str == ""
	}
	return false
}

func compare(value model.Value, op string, threshold model.Value) bool {
	if threshold.IsNull() {
		return false
	}
	v, ok := value.Float()
	if !ok {
		return false
	}
	t, ok := threshold.Float()
	if !ok {
		return false
	}
	switch op {
	case model.OpGreater:
		return v > t
	case model.OpLess:
		return v < t
	case model.OpGreaterEqual:
		return v >= t
	default:
		return v <= t
	}
}

// EvaluateCondition evaluates c against the inputs and returns the trace detail.
func EvaluateCondition(c *model.Condition, inputs model.Inputs) model.ConditionDetail {
	value := inputs.Get(c.Variable)
	return model.ConditionDetail{
		Variable:   c.Variable,
		Operator:   c.Operator,
		Threshold:  c.Threshold,
		InputValue: value,
		Result:     Evaluate(value, c.Operator, c.Threshold),
	}
}
