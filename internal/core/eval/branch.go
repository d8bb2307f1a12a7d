package eval

import "github.com/agenthands/caire/internal/core/model"

// SelectChildIndex picks the branch of a condition-bearing node: 0 for a match
// (or the only child), 1 for a miss when a second child exists. Children past
// the second are never selected.
func SelectChildIndex(n *model.Node, inputs model.Inputs) int {
	if n == nil || len(n.Children) == 0 {
		return 0
	}
	var match bool
	if n.Condition == nil {
		match = truthy(inputs.Get(n.ID))
	} else {
		match = EvaluateCondition(n.Condition, inputs).Result
	}
	return branch(match, len(n.Children))
}

func branch(match bool, children int) int {
	if match || children < 2 {
		return 0
	}
	return 1
}

// truthy mirrors the answers a bare yes/no question node accepts.
func truthy(v model.Value) bool {
	switch v.Kind {
	case model.KindBool:
		return v.Bool
	case model.KindNumber:
		return v.Num == 1
	case model.KindString:
		return v.Str == "true" || v.Str == "yes" || v.Str == "Yes"
	}
	return false
}
