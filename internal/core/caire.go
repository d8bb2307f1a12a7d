// Package core ties validation, execution, persistence and compilation
// together behind the Caire façade used by the HTTP server and the CLI.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agenthands/caire/internal/config"
	"github.com/agenthands/caire/internal/core/analysis"
	"github.com/agenthands/caire/internal/core/dedupe"
	"github.com/agenthands/caire/internal/core/document"
	"github.com/agenthands/caire/internal/core/engine"
	"github.com/agenthands/caire/internal/core/generation"
	"github.com/agenthands/caire/internal/core/model"
	"github.com/agenthands/caire/internal/core/validate"
	"github.com/agenthands/caire/internal/observability"
	"github.com/agenthands/caire/internal/store"
)

var (
	// ErrTreeMismatch is returned when a test case names another tree.
	ErrTreeMismatch = errors.New("test case does not belong to tree")
	// ErrTreeInvalid is returned when a tree with issues is refused.
	ErrTreeInvalid = errors.New("tree failed validation")
	// ErrCompilerUnavailable is returned when no language model is configured.
	ErrCompilerUnavailable = errors.New("compiler is not configured")
	// ErrVersionExists is returned when a derived tree would overwrite the
	// version it came from.
	ErrVersionExists = errors.New("tree version already exists")
)

type Caire struct {
	Store        store.Store
	Runner       *engine.SuiteRunner
	Generator    *generation.Generator
	Deduplicator *dedupe.Deduplicator
	Metrics      *observability.Metrics
	Jobs         *Jobs
	Logger       *slog.Logger

	Compiler config.CompilerConfig
	// RequireValid refuses to run trees with validation issues. Otherwise
	// they run in diagnostic mode and faults surface in each result.
	RequireValid bool

	wg sync.WaitGroup
}

// NewCaire wires the façade. gen and dd may be nil, which disables
// compilation and variable deduplication.
func NewCaire(st store.Store, gen *generation.Generator, dd *dedupe.Deduplicator, metrics *observability.Metrics, cfg *config.Config, logger *slog.Logger) *Caire {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	exec := engine.NewExecutor()
	exec.StepFactor = cfg.Execution.StepFactor
	return &Caire{
		Store:        st,
		Runner:       engine.NewSuiteRunner(exec, cfg.Execution.SuiteConcurrency),
		Generator:    gen,
		Deduplicator: dd,
		Metrics:      metrics,
		Jobs:         NewJobs(),
		Logger:       logger,
		Compiler:     cfg.Compiler,
		RequireValid: cfg.Execution.RequireValid,
	}
}

// Validate runs the structural and condition validators.
func (c *Caire) Validate(tree *model.Tree) model.Report {
	r := validate.Tree(tree)
	c.Metrics.RecordValidation(r)
	return r
}

func (c *Caire) checkRunnable(tree *model.Tree) error {
	if !c.RequireValid || tree == nil {
		return nil
	}
	if r := c.Validate(tree); !r.Valid {
		return fmt.Errorf("%w: %d structural and %d condition issues", ErrTreeInvalid, len(r.StructuralIssues), len(r.ConditionIssues))
	}
	return nil
}

// structuralFault returns the first structural issue of tree in diagnostic
// mode. A tree that fails it is never walked.
func (c *Caire) structuralFault(tree *model.Tree) string {
	if c.RequireValid {
		return ""
	}
	if issues := validate.Structure(tree); len(issues) > 0 {
		return issues[0].Message
	}
	return ""
}

func checkOwnership(tree *model.Tree, tc model.TestCase) error {
	if tree == nil || tc.TreeID == "" || tc.TreeID == tree.ID {
		return nil
	}
	return fmt.Errorf("%w: case '%s' targets '%s', not '%s'", ErrTreeMismatch, tc.ID, tc.TreeID, tree.ID)
}

// RunOne executes a single case. Execution faults are reported in the result;
// only a tree mismatch or a refused tree is an error.
func (c *Caire) RunOne(tree *model.Tree, tc model.TestCase) (model.TestResult, error) {
	if err := checkOwnership(tree, tc); err != nil {
		return model.TestResult{}, err
	}
	if err := c.checkRunnable(tree); err != nil {
		return model.TestResult{}, err
	}
	var r model.TestResult
	if fault := c.structuralFault(tree); fault != "" {
		r = c.Runner.Executor.Reject(tc, fault)
	} else {
		r = c.Runner.Executor.Run(tree, tc)
	}
	c.Metrics.RecordResult(r)
	return r, nil
}

// RunSuite executes cases against tree, flagging regressions against
// previous when given.
func (c *Caire) RunSuite(ctx context.Context, tree *model.Tree, cases []model.TestCase, previous *model.TestSuite) (*model.TestSuite, error) {
	for _, tc := range cases {
		if err := checkOwnership(tree, tc); err != nil {
			return nil, err
		}
	}
	if err := c.checkRunnable(tree); err != nil {
		return nil, err
	}
	var suite *model.TestSuite
	if fault := c.structuralFault(tree); fault != "" {
		c.Logger.Warn("tree is structurally invalid, cases not executed", "error", fault)
		suite = c.Runner.RejectAll(tree, cases, previous, fault)
	} else {
		var err error
		if suite, err = c.Runner.RunAll(ctx, tree, cases, previous); err != nil {
			return nil, err
		}
	}
	c.Metrics.RecordSuite(suite)
	c.Logger.Info("suite finished",
		"tree_id", suite.TreeID,
		"total", suite.Total,
		"passed", suite.Passed,
		"failed", suite.Failed,
		"breaking_changes", len(suite.BreakingChanges),
	)
	return suite, nil
}

// RunStored runs the stored cases of a tree against its latest version,
// compares with the latest stored suite and saves the new snapshot.
func (c *Caire) RunStored(ctx context.Context, treeID string) (*model.TestSuite, error) {
	tree, err := c.Store.GetTree(ctx, treeID)
	if err != nil {
		return nil, err
	}
	cases, err := c.Store.ListTestCases(ctx, treeID)
	if err != nil {
		return nil, err
	}
	previous, err := c.Store.LatestSuite(ctx, treeID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	suite, err := c.RunSuite(ctx, tree, cases, previous)
	if err != nil {
		return nil, err
	}
	if err := c.Store.SaveSuite(ctx, suite); err != nil {
		return nil, fmt.Errorf("failed to save suite: %w", err)
	}
	return suite, nil
}

// ImportTree decodes an external document, validates it and stores it. With
// RequireValid an invalid tree is returned with its report but not stored.
func (c *Caire) ImportTree(ctx context.Context, data []byte) (*model.Tree, model.Report, []document.Warning, error) {
	tree, warnings, err := document.Decode(data)
	if err != nil {
		return nil, model.Report{}, nil, err
	}
	report, err := c.SaveTree(ctx, tree)
	return tree, report, warnings, err
}

// SaveTree validates and stores an already decoded tree.
func (c *Caire) SaveTree(ctx context.Context, tree *model.Tree) (model.Report, error) {
	report := c.Validate(tree)
	if c.RequireValid && !report.Valid {
		return report, ErrTreeInvalid
	}
	if err := c.Store.SaveTree(ctx, tree); err != nil {
		return report, fmt.Errorf("failed to save tree: %w", err)
	}
	c.Logger.Info("tree saved", "tree_id", tree.ID, "version", tree.Version, "valid", report.Valid)
	return report, nil
}

// AddTestCases stores cases for an existing tree. Cases naming another tree
// are rejected.
func (c *Caire) AddTestCases(ctx context.Context, treeID string, cases []model.TestCase) error {
	tree, err := c.Store.GetTree(ctx, treeID)
	if err != nil {
		return err
	}
	for i := range cases {
		if err := checkOwnership(tree, cases[i]); err != nil {
			return err
		}
		cases[i].TreeID = treeID
	}
	return c.Store.SaveTestCases(ctx, treeID, cases)
}

// GenerateTestCases drafts count cases for a stored tree and stores them.
func (c *Caire) GenerateTestCases(ctx context.Context, treeID string, count int) ([]model.TestCase, error) {
	if c.Generator == nil {
		return nil, ErrCompilerUnavailable
	}
	tree, err := c.Store.GetTree(ctx, treeID)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = c.Compiler.TestCaseCount
	}
	cases, err := c.Generator.GenerateTestCases(ctx, tree, count)
	if err != nil {
		return nil, err
	}
	if err := c.Store.SaveTestCases(ctx, treeID, cases); err != nil {
		return nil, err
	}
	return cases, nil
}

// Coverage reports how much of a stored tree its latest suite exercised.
func (c *Caire) Coverage(ctx context.Context, treeID string) (analysis.Report, error) {
	tree, err := c.Store.GetTree(ctx, treeID)
	if err != nil {
		return analysis.Report{}, err
	}
	suite, err := c.Store.LatestSuite(ctx, treeID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return analysis.Report{}, err
	}
	return analysis.Coverage(tree, suite), nil
}

// Wait blocks until background compilations finish.
func (c *Caire) Wait() {
	c.wg.Wait()
}
