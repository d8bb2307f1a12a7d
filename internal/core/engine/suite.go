package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/agenthands/caire/internal/core/model"
)

// SuiteRunner runs test cases through an Executor. Cases are independent, so
// with Concurrency > 1 they run in parallel; results keep submission order.
type SuiteRunner struct {
	Executor    *Executor
	Concurrency int
}

func NewSuiteRunner(exec *Executor, concurrency int) *SuiteRunner {
	if exec == nil {
		exec = NewExecutor()
	}
	return &SuiteRunner{Executor: exec, Concurrency: concurrency}
}

// RunAll executes every case and aggregates the suite. previous, when given,
// is the baseline for breaking-change detection.
func (s *SuiteRunner) RunAll(ctx context.Context, tree *model.Tree, cases []model.TestCase, previous *model.TestSuite) (*model.TestSuite, error) {
	results := make([]model.TestResult, len(cases))

	g, gctx := errgroup.WithContext(ctx)
	if s.Concurrency > 0 {
		g.SetLimit(s.Concurrency)
	} else {
		g.SetLimit(1)
	}
	for i := range cases {
		if err := gctx.Err(); err != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.Executor.Run(tree, cases[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("suite run interrupted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("suite run interrupted: %w", err)
	}

	suite := Aggregate(tree, results, previous)
	suite.RunAt = s.Executor.now().UTC()
	suite.ID = s.Executor.newID()
	return suite, nil
}

// RejectAll fails every case with reason without executing any of them.
func (s *SuiteRunner) RejectAll(tree *model.Tree, cases []model.TestCase, previous *model.TestSuite, reason string) *model.TestSuite {
	results := make([]model.TestResult, len(cases))
	for i, tc := range cases {
		results[i] = s.Executor.Reject(tc, reason)
	}
	suite := Aggregate(tree, results, previous)
	suite.RunAt = s.Executor.now().UTC()
	suite.ID = s.Executor.newID()
	return suite
}

// Aggregate counts results and lists breaking changes: cases that passed in
// previous and fail now. Improvements and new cases are never flagged.
func Aggregate(tree *model.Tree, results []model.TestResult, previous *model.TestSuite) *model.TestSuite {
	suite := &model.TestSuite{
		Total:           len(results),
		BreakingChanges: BreakingChanges(results, previous),
		Results:         results,
	}
	if tree != nil {
		suite.TreeID = tree.ID
		suite.TreeVersion = tree.Version
	}
	for _, r := range results {
		if r.Passed {
			suite.Passed++
		}
	}
	suite.Failed = suite.Total - suite.Passed
	return suite
}

// BreakingChanges describes each failing result whose previous run passed.
func BreakingChanges(results []model.TestResult, previous *model.TestSuite) []string {
	out := []string{}
	if previous == nil {
		return out
	}
	before := make(map[string]bool, len(previous.Results))
	for _, r := range previous.Results {
		before[r.TestCaseID] = r.Passed
	}
	for _, r := range results {
		if !r.Passed && before[r.TestCaseID] {
			out = append(out, fmt.Sprintf("Test %s was passing, now failing", r.TestCaseID))
		}
	}
	return out
}
