// Package engine executes decision trees against test cases and aggregates the
// results into suites.
package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agenthands/caire/internal/core/eval"
	"github.com/agenthands/caire/internal/core/model"
)

// DefaultStepFactor bounds a walk at DefaultStepFactor*len(nodes)+1 steps.
const DefaultStepFactor = 4

// Executor walks a tree from its root. It holds no per-run state and is safe
// for concurrent use.
type Executor struct {
	StepFactor int
	Now        func() time.Time
	NewID      func() string
}

func NewExecutor() *Executor {
	return &Executor{
		StepFactor: DefaultStepFactor,
		Now:        time.Now,
		NewID:      uuid.NewString,
	}
}

// Run executes tc against tree. It always returns a result: missing nodes, an
// exhausted step budget and internal faults are reported in TestResult.Error.
func (e *Executor) Run(tree *model.Tree, tc model.TestCase) (res model.TestResult) {
	start := e.now()
	res = e.result(tc)

	defer func() {
		if r := recover(); r != nil {
			res.Error = fmt.Sprintf("internal error: %v", r)
		}
		res.Passed = passed(res)
		res.Elapsed = e.now().Sub(start)
	}()

	e.walk(tree, tc.InputValues, &res)
	return res
}

// Reject reports tc as failed with reason without walking the tree.
func (e *Executor) Reject(tc model.TestCase, reason string) model.TestResult {
	res := e.result(tc)
	res.Error = reason
	return res
}

func (e *Executor) result(tc model.TestCase) model.TestResult {
	res := model.TestResult{
		TestCaseID:      tc.ID,
		ActualPath:      []string{},
		ExpectedPath:    append([]string{}, tc.ExpectedPath...),
		ExpectedOutcome: tc.ExpectedOutcome,
		ExecutionTrace:  []model.TraceStep{},
	}
	if res.TestCaseID == "" {
		res.TestCaseID = e.newID()
	}
	return res
}

func (e *Executor) walk(tree *model.Tree, inputs model.Inputs, res *model.TestResult) {
	if tree == nil {
		res.Error = "Tree is not defined"
		return
	}
	if _, ok := tree.Node(tree.RootNodeID); !ok {
		res.Error = fmt.Sprintf("Root node '%s' not found", tree.RootNodeID)
		return
	}

	factor := e.StepFactor
	if factor <= 0 {
		factor = DefaultStepFactor
	}
	limit := factor*len(tree.Nodes) + 1

	current := tree.RootNodeID
	for steps := 0; current != ""; steps++ {
		if steps >= limit {
			res.Error = fmt.Sprintf("Step limit of %d exceeded at node '%s'", limit, current)
			return
		}
		node, ok := tree.Node(current)
		if !ok {
			res.Error = fmt.Sprintf("Node '%s' not found", current)
			return
		}
		res.ActualPath = append(res.ActualPath, current)
		step := model.TraceStep{
			NodeID:    current,
			NodeLabel: label(node),
			NodeType:  node.Type,
		}

		switch {
		case node.IsTerminal():
			outcome := node.Outcome()
			res.ActualOutcome = &outcome
			res.ExecutionTrace = append(res.ExecutionTrace, step)
			return
		case node.Condition != nil && (node.Type == model.NodeCondition || node.Type == model.NodeRoot):
			detail := eval.EvaluateCondition(node.Condition, inputs)
			step.ConditionEvaluated = &detail
			step.NextNodeID = childAt(node, eval.SelectChildIndex(node, inputs))
		default:
			step.NextNodeID = childAt(node, 0)
		}
		res.ExecutionTrace = append(res.ExecutionTrace, step)
		current = step.NextNodeID
	}
}

func passed(res model.TestResult) bool {
	if res.Error != "" {
		return false
	}
	if len(res.ExpectedPath) > 0 && !equalPath(res.ActualPath, res.ExpectedPath) {
		return false
	}
	want := strings.ToLower(strings.TrimSpace(res.ExpectedOutcome))
	if want == "" {
		return true
	}
	if res.ActualOutcome == nil {
		return false
	}
	return strings.Contains(strings.ToLower(strings.TrimSpace(*res.ActualOutcome)), want)
}

func equalPath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func childAt(n *model.Node, i int) string {
	if i < 0 || i >= len(n.Children) {
		return ""
	}
	return n.Children[i]
}

func label(n *model.Node) string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

func (e *Executor) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Executor) newID() string {
	if e.NewID == nil {
		return uuid.NewString()
	}
	return e.NewID()
}
