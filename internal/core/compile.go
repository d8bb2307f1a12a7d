package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/agenthands/caire/internal/core/analysis"
	"github.com/agenthands/caire/internal/core/dedupe"
	"github.com/agenthands/caire/internal/core/document"
	"github.com/agenthands/caire/internal/core/model"
)

type CompileRequest struct {
	Text   string `json:"text" binding:"required"`
	Domain string `json:"domain"`
	// TreeID overrides the id the model picked.
	TreeID string `json:"tree_id"`
	// TestCaseCount overrides the configured count. Negative skips generation.
	TestCaseCount int `json:"test_case_count"`
}

type CompileResult struct {
	Tree           *model.Tree        `json:"tree"`
	Report         model.Report       `json:"validation"`
	Warnings       []document.Warning `json:"warnings"`
	AddedVariables []string           `json:"added_variables"`
	MaxDepth       int                `json:"max_depth"`
	TestCases      []model.TestCase   `json:"test_cases"`
}

// Compile drafts a tree from guideline text, declares its variables,
// validates it and stores it. In strict mode, or when the tree asks for
// strict validation, any issue rejects the tree with ErrTreeInvalid. Trees
// deeper than the configured limit are always rejected.
func (c *Caire) Compile(ctx context.Context, req CompileRequest) (*CompileResult, error) {
	res, err := c.compile(ctx, req, func(string) {})
	c.recordCompile(err)
	return res, err
}

func (c *Caire) recordCompile(err error) {
	switch {
	case err == nil:
		c.Metrics.RecordCompilation("completed")
	case errors.Is(err, ErrTreeInvalid):
		c.Metrics.RecordCompilation("rejected")
	default:
		c.Metrics.RecordCompilation("failed")
	}
}

func (c *Caire) compile(ctx context.Context, req CompileRequest, progress func(string)) (*CompileResult, error) {
	if c.Generator == nil {
		return nil, ErrCompilerUnavailable
	}
	domain := req.Domain
	if domain == "" {
		domain = c.Compiler.TargetDomain
	}

	progress("generating tree")
	tree, warnings, err := c.Generator.GenerateTree(ctx, req.Text, domain)
	if err != nil {
		return nil, err
	}
	if req.TreeID != "" {
		tree.ID = req.TreeID
	}

	progress("extracting variables")
	extracted, err := c.Generator.ExtractVariables(ctx, req.Text)
	if err != nil {
		c.Logger.Warn("variable extraction failed", "tree_id", tree.ID, "error", err)
		extracted = nil
	}
	if c.Deduplicator != nil && len(extracted) > 0 {
		pairs, err := c.Deduplicator.ResolveDuplicates(ctx, extracted, tree.Variables)
		if err != nil {
			c.Logger.Warn("variable deduplication failed", "tree_id", tree.ID, "error", err)
		} else {
			extracted = c.Deduplicator.Drop(extracted, pairs)
		}
	}
	added := dedupe.MergeVariables(tree, extracted)

	progress("validating")
	res := &CompileResult{
		Tree:           tree,
		Report:         c.Validate(tree),
		Warnings:       warnings,
		AddedVariables: added,
		MaxDepth:       analysis.MaxDepth(tree),
		TestCases:      []model.TestCase{},
	}
	if res.Warnings == nil {
		res.Warnings = []document.Warning{}
	}
	strict := c.Compiler.Strictness == "strict" || tree.StrictValidation()
	if strict && !res.Report.Valid {
		return res, fmt.Errorf("%w: %d structural and %d condition issues", ErrTreeInvalid, len(res.Report.StructuralIssues), len(res.Report.ConditionIssues))
	}
	if limit := c.Compiler.MaxTreeDepth; limit > 0 && res.MaxDepth > limit {
		return res, fmt.Errorf("%w: depth %d exceeds limit %d", ErrTreeInvalid, res.MaxDepth, limit)
	}

	progress("saving")
	if err := c.Store.SaveTree(ctx, tree); err != nil {
		return res, fmt.Errorf("failed to save tree: %w", err)
	}

	count := req.TestCaseCount
	if count == 0 {
		count = c.Compiler.TestCaseCount
	}
	if count > 0 {
		progress("generating test cases")
		cases, err := c.Generator.GenerateTestCases(ctx, tree, count)
		if err != nil {
			c.Logger.Warn("test case generation failed", "tree_id", tree.ID, "error", err)
		} else if err := c.Store.SaveTestCases(ctx, tree.ID, cases); err != nil {
			return res, fmt.Errorf("failed to save test cases: %w", err)
		} else {
			res.TestCases = cases
		}
	}

	c.Logger.Info("tree compiled",
		"tree_id", tree.ID,
		"nodes", len(tree.Nodes),
		"valid", res.Report.Valid,
		"added_variables", len(added),
		"test_cases", len(res.TestCases),
	)
	return res, nil
}

// StartCompile runs Compile in the background and returns its job. The job
// outlives the caller's context but keeps its values.
func (c *Caire) StartCompile(ctx context.Context, req CompileRequest) Job {
	job := c.Jobs.Create()
	bg := context.WithoutCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Jobs.Update(job.ID, func(j *Job) { j.Status = JobInProgress })

		res, err := c.compile(bg, req, func(step string) {
			c.Jobs.Update(job.ID, func(j *Job) { j.Progress = step })
		})
		c.recordCompile(err)
		if err != nil {
			c.Logger.Error("compile job failed", "job_id", job.ID, "error", err)
			c.Jobs.Update(job.ID, func(j *Job) {
				j.Status = JobFailed
				j.Error = err.Error()
				if res != nil && res.Tree != nil {
					j.TreeID = res.Tree.ID
				}
			})
			return
		}
		c.Jobs.Update(job.ID, func(j *Job) {
			j.Status = JobCompleted
			j.Progress = "done"
			j.TreeID = res.Tree.ID
		})
	}()
	return job
}
