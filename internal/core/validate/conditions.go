package validate

import (
	"fmt"
	"strings"

	"github.com/agenthands/caire/internal/core/model"
)

var (
	booleanOperators = map[string]bool{
		model.OpEqual: true, model.OpNotEqual: true, model.OpPresent: true, model.OpAbsent: true,
	}
	numericOperators = map[string]bool{
		model.OpGreater: true, model.OpLess: true, model.OpGreaterEqual: true, model.OpLessEqual: true,
		model.OpEqual: true, model.OpNotEqual: true, model.OpPresent: true, model.OpAbsent: true,
		model.OpIn: true, model.OpNotIn: true,
	}
)

// Conditions checks every condition against the declared variable it names:
// the variable must exist, the operator must suit its type and a threshold must
// have the variable's type. Categorical variables accept any operator.
func Conditions(tree *model.Tree) []model.Issue {
	if tree == nil {
		return nil
	}
	var issues []model.Issue
	vars := make(map[string]model.Variable, len(tree.Variables))
	for _, v := range tree.Variables {
		vars[v.Name] = v
	}

	for _, id := range tree.NodeIDs() {
		n := tree.Nodes[id]
		if n == nil || n.Condition == nil {
			continue
		}
		c := n.Condition
		v, ok := vars[c.Variable]
		if !ok {
			issues = append(issues, model.Issue{
				Code:    model.CodeUnknownVariable,
				Message: fmt.Sprintf("Condition references unknown variable '%s'", c.Variable),
				NodeID:  id,
			})
			continue
		}

		op := model.NormalizeOperator(c.Operator)
		switch v.Type {
		case model.VarBoolean:
			if !booleanOperators[op] {
				issues = append(issues, mismatch(id, "Boolean", c))
			}
			if !c.Threshold.IsNull() && !booleanThreshold(c.Threshold) {
				issues = append(issues, model.Issue{
					Code:    model.CodeThresholdType,
					Message: fmt.Sprintf("Boolean variable '%s' has non-boolean threshold %s", c.Variable, c.Threshold),
					NodeID:  id,
				})
			}
		case model.VarNumeric:
			if !numericOperators[op] {
				issues = append(issues, mismatch(id, "Numeric", c))
			}
			if !c.Threshold.IsNull() && !c.Threshold.IsNumber() {
				issues = append(issues, model.Issue{
					Code:    model.CodeThresholdType,
					Message: fmt.Sprintf("Numeric variable '%s' has non-numeric threshold %s", c.Variable, c.Threshold),
					NodeID:  id,
				})
			}
		}
	}
	return issues
}

func mismatch(nodeID, kind string, c *model.Condition) model.Issue {
	return model.Issue{
		Code:    model.CodeOperatorMismatch,
		Message: fmt.Sprintf("%s variable '%s' used with operator '%s'", kind, c.Variable, c.Operator),
		NodeID:  nodeID,
	}
}

func booleanThreshold(v model.Value) bool {
	switch v.Kind {
	case model.KindBool:
		return true
	case model.KindString:
		return strings.EqualFold(v.Str, "true") || strings.EqualFold(v.Str, "false")
	}
	return false
}
