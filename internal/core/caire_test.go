package core

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/caire/internal/config"
	"github.com/agenthands/caire/internal/core/dedupe"
	"github.com/agenthands/caire/internal/core/document"
	"github.com/agenthands/caire/internal/core/generation"
	"github.com/agenthands/caire/internal/core/model"
	"github.com/agenthands/caire/internal/llm"
	"github.com/agenthands/caire/internal/observability"
	"github.com/agenthands/caire/internal/store"
)

const feverDoc = `{
  "id": "fever", "name": "Fever", "version": "1.0.0", "domain": "triage",
  "root_node_id": "root",
  "nodes": {
    "root": {"type": "condition", "label": "Fever above 38?",
             "condition": {"variable": "temp", "operator": ">", "threshold": 38},
             "children": ["er", "home"]},
    "er":   {"type": "action", "label": "ER", "action": {"recommendation": "go to ER"}},
    "home": {"type": "action", "label": "Home", "action": {"recommendation": "home care"}}
  },
  "variables": [{"name": "temp", "type": "numeric"}]
}`

const soreThroatReply = "```json\n" + `{
  "name": "Sore throat",
  "root_node_id": "q1",
  "nodes": [
    {"id": "q1", "type": "question", "label": "Centor >= 3?",
     "condition": {"variable": "centor_score", "operator": ">=", "threshold": 3},
     "children": ["swab", "home"]},
    {"id": "swab", "type": "action", "label": "Swab", "action": {"recommendation": "rapid strep test"}},
    {"id": "home", "type": "action", "label": "Home", "action": {"recommendation": "symptomatic care"}}
  ],
  "variables": [{"name": "centor_score", "type": "numeric"}]
}` + "\n```"

const variablesReply = `{"variables": [
  {"name": "centor_score", "type": "numeric"},
  {"name": "centor", "type": "number"},
  {"name": "age", "type": "integer", "units": "years"}
]}`

const testCasesReply = `{"test_cases": [
  {"id": "t1", "input_values": {"centor_score": 4}, "expected_path": ["q1", "swab"], "expected_outcome": "rapid strep test"},
  "not a case"
]}`

type harness struct {
	caire *Caire
	store *store.MemoryStore
	reg   *prometheus.Registry
}

func newHarness(t *testing.T, cfg *config.Config, model, deduper *MockLLM) harness {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	st := store.NewMemoryStore()
	reg := prometheus.NewRegistry()

	var gen *generation.Generator
	if model != nil {
		gen = generation.NewGenerator(llm.NewRouterFromClients(model, nil, nil), cfg.Prompts, nil)
	}
	var dd *dedupe.Deduplicator
	if deduper != nil {
		dd = dedupe.NewDeduplicator(deduper)
	}
	return harness{
		caire: NewCaire(st, gen, dd, observability.NewMetrics(reg), cfg, nil),
		store: st,
		reg:   reg,
	}
}

func importFever(t *testing.T, c *Caire) *model.Tree {
	t.Helper()
	tree, report, warnings, err := c.ImportTree(context.Background(), []byte(feverDoc))
	require.NoError(t, err)
	require.True(t, report.Valid)
	require.Empty(t, warnings)
	return tree
}

func TestImportTree(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	tree := importFever(t, h.caire)

	stored, err := h.store.GetTree(context.Background(), "fever")
	require.NoError(t, err)
	assert.Equal(t, tree, stored)

	_, _, _, err = h.caire.ImportTree(context.Background(), []byte(`{"name": "no id"}`))
	assert.ErrorIs(t, err, document.ErrInvalidDocument)
}

func TestImportTree_RequireValid(t *testing.T) {
	cfg := config.Default()
	cfg.Execution.RequireValid = true
	h := newHarness(t, cfg, nil, nil)

	broken := strings.Replace(feverDoc, `"children": ["er", "home"]`, `"children": ["er", "ghost"]`, 1)
	_, report, _, err := h.caire.ImportTree(context.Background(), []byte(broken))
	assert.ErrorIs(t, err, ErrTreeInvalid)
	assert.False(t, report.Valid)
	require.Len(t, report.StructuralIssues, 1)
	assert.Equal(t, model.CodeMissingNode, report.StructuralIssues[0].Code)

	_, err = h.store.GetTree(context.Background(), "fever")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunOne(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	tree := importFever(t, h.caire)

	res, err := h.caire.RunOne(tree, model.TestCase{
		ID:              "hot",
		TreeID:          "fever",
		InputValues:     model.Inputs{"temp": model.Number(39.5)},
		ExpectedOutcome: "ER",
	})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, []string{"root", "er"}, res.ActualPath)

	_, err = h.caire.RunOne(tree, model.TestCase{ID: "x", TreeID: "cough"})
	assert.ErrorIs(t, err, ErrTreeMismatch)
}

func TestRunOne_DiagnosticModeReportsFaults(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	tree := importFever(t, h.caire)
	// The dangling child sits on the branch a hot patient never takes.
	tree.Nodes["root"].Children = []string{"er", "ghost"}
	hot := model.TestCase{
		ID:              "hot",
		InputValues:     model.Inputs{"temp": model.Number(39)},
		ExpectedOutcome: "ER",
	}

	res, err := h.caire.RunOne(tree, hot)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, "Child node 'ghost' of 'root' does not exist", res.Error)
	assert.Empty(t, res.ActualPath)
	assert.Empty(t, res.ExecutionTrace)
	assert.Equal(t, "ER", res.ExpectedOutcome)

	suite, err := h.caire.RunSuite(context.Background(), tree, []model.TestCase{hot, {ID: "cool"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, suite.Total)
	assert.Equal(t, 2, suite.Failed)
	for _, r := range suite.Results {
		assert.Contains(t, r.Error, "ghost")
	}

	h.caire.RequireValid = true
	_, err = h.caire.RunOne(tree, hot)
	assert.ErrorIs(t, err, ErrTreeInvalid)
}

func TestRunSuite_RejectsForeignCases(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	tree := importFever(t, h.caire)

	_, err := h.caire.RunSuite(context.Background(), tree, []model.TestCase{
		{ID: "a", TreeID: "fever"},
		{ID: "b", TreeID: "other"},
	}, nil)
	assert.ErrorIs(t, err, ErrTreeMismatch)
}

func TestRunStored_DetectsRegressions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil, nil)
	importFever(t, h.caire)

	require.NoError(t, h.caire.AddTestCases(ctx, "fever", []model.TestCase{
		{ID: "mild", InputValues: model.Inputs{"temp": model.Number(38.5)}, ExpectedOutcome: "go to ER"},
		{ID: "normal", InputValues: model.Inputs{"temp": model.Number(37)}, ExpectedOutcome: "home care"},
	}))
	assert.ErrorIs(t, h.caire.AddTestCases(ctx, "fever", []model.TestCase{{ID: "z", TreeID: "cough"}}), ErrTreeMismatch)
	assert.ErrorIs(t, h.caire.AddTestCases(ctx, "cough", nil), store.ErrNotFound)

	first, err := h.caire.RunStored(ctx, "fever")
	require.NoError(t, err)
	assert.Equal(t, 2, first.Passed)
	assert.Empty(t, first.BreakingChanges)

	// raising the threshold sends the mild case home
	tree, err := h.store.GetTree(ctx, "fever")
	require.NoError(t, err)
	tree.Version = "1.1.0"
	tree.Nodes["root"].Condition.Threshold = model.Number(39)
	_, err = h.caire.SaveTree(ctx, tree)
	require.NoError(t, err)

	second, err := h.caire.RunStored(ctx, "fever")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", second.TreeVersion)
	assert.Equal(t, 1, second.Failed)
	assert.Equal(t, []string{"Test mild was passing, now failing"}, second.BreakingChanges)

	latest, err := h.store.LatestSuite(ctx, "fever")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	cov, err := h.caire.Coverage(ctx, "fever")
	require.NoError(t, err)
	assert.Equal(t, 3, cov.Reachable)
	assert.Equal(t, 2, cov.Visited)
	assert.Equal(t, []string{"er"}, cov.Unvisited)

	_, err = h.caire.RunStored(ctx, "cough")
	assert.ErrorIs(t, err, store.ErrNotFound)

	expected := `
# HELP caire_execution_suite_runs_total Completed suite runs
# TYPE caire_execution_suite_runs_total counter
caire_execution_suite_runs_total 2
# HELP caire_execution_breaking_changes_total Test cases that passed in the previous run and fail now
# TYPE caire_execution_breaking_changes_total counter
caire_execution_breaking_changes_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(h.reg, strings.NewReader(expected),
		"caire_execution_suite_runs_total", "caire_execution_breaking_changes_total"))
}

func TestCompile(t *testing.T) {
	m := &MockLLM{ResponseQueue: []string{soreThroatReply, variablesReply, testCasesReply}}
	deduper := &MockLLM{Response: `{"duplicates": [{"original": "centor_score", "duplicate": "centor", "confidence": 0.9}]}`}
	h := newHarness(t, nil, m, deduper)

	res, err := h.caire.Compile(context.Background(), CompileRequest{
		Text:   "Adults with sore throat and a Centor score of 3 or more get a swab.",
		Domain: "primary_care",
		TreeID: "sore-throat",
	})
	require.NoError(t, err)
	assert.Equal(t, "sore-throat", res.Tree.ID)
	assert.Equal(t, "primary_care", res.Tree.Domain)
	assert.True(t, res.Report.Valid)
	assert.Equal(t, []string{"age"}, res.AddedVariables)
	assert.Equal(t, 1, res.MaxDepth)
	require.Len(t, res.TestCases, 1)
	assert.Equal(t, "sore-throat", res.TestCases[0].TreeID)
	assert.Equal(t, 3, m.Calls())

	stored, err := h.store.GetTree(context.Background(), "sore-throat")
	require.NoError(t, err)
	_, ok := stored.Variable("age")
	assert.True(t, ok)
	_, ok = stored.Variable("centor")
	assert.False(t, ok)

	cases, err := h.store.ListTestCases(context.Background(), "sore-throat")
	require.NoError(t, err)
	assert.Len(t, cases, 1)

	expected := `
# HELP caire_compiler_compilations_total Guideline compilations by status
# TYPE caire_compiler_compilations_total counter
caire_compiler_compilations_total{status="completed"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(h.reg, strings.NewReader(expected), "caire_compiler_compilations_total"))
}

func TestCompile_ToleratesExtractionFailure(t *testing.T) {
	// an empty queued reply is a model error
	m := &MockLLM{ResponseQueue: []string{soreThroatReply, ""}, Response: `[]`}
	h := newHarness(t, nil, m, nil)

	res, err := h.caire.Compile(context.Background(), CompileRequest{Text: "guideline", Domain: "primary_care", TestCaseCount: -1})
	require.NoError(t, err)
	assert.Equal(t, "parsed-primary_care-v1", res.Tree.ID)
	assert.Empty(t, res.AddedVariables)
	assert.Empty(t, res.TestCases)
	assert.Equal(t, 2, m.Calls())
}

func TestCompile_StrictRejectsIssues(t *testing.T) {
	cfg := config.Default()
	cfg.Compiler.Strictness = "strict"
	reply := strings.Replace(soreThroatReply, `"children": ["swab", "home"]`, `"children": ["swab", "ghost"]`, 1)
	h := newHarness(t, cfg, &MockLLM{ResponseQueue: []string{reply}, Response: `{"variables": []}`}, nil)

	res, err := h.caire.Compile(context.Background(), CompileRequest{Text: "guideline"})
	assert.ErrorIs(t, err, ErrTreeInvalid)
	require.NotNil(t, res)
	assert.False(t, res.Report.Valid)

	list, err := h.store.ListTrees(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCompile_DepthLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Compiler.MaxTreeDepth = 1
	deep := "```json\n" + `{
  "root_node_id": "a",
  "nodes": [
    {"id": "a", "type": "condition", "label": "A", "condition": {"variable": "x", "operator": ">", "threshold": 1}, "children": ["b", "c"]},
    {"id": "b", "type": "condition", "label": "B", "condition": {"variable": "x", "operator": ">", "threshold": 2}, "children": ["c", "d"]},
    {"id": "c", "type": "action", "label": "C", "action": {"recommendation": "c"}},
    {"id": "d", "type": "action", "label": "D", "action": {"recommendation": "d"}}
  ],
  "variables": [{"name": "x", "type": "numeric"}]
}` + "\n```"
	h := newHarness(t, cfg, &MockLLM{ResponseQueue: []string{deep}, Response: `{"variables": []}`}, nil)

	res, err := h.caire.Compile(context.Background(), CompileRequest{Text: "guideline"})
	assert.ErrorIs(t, err, ErrTreeInvalid)
	assert.Contains(t, err.Error(), "depth 2 exceeds limit 1")
	assert.True(t, res.Report.Valid)
}

func TestCompile_Unavailable(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	_, err := h.caire.Compile(context.Background(), CompileRequest{Text: "x"})
	assert.ErrorIs(t, err, ErrCompilerUnavailable)

	_, err = h.caire.GenerateTestCases(context.Background(), "fever", 3)
	assert.ErrorIs(t, err, ErrCompilerUnavailable)
}

func TestStartCompile(t *testing.T) {
	m := &MockLLM{ResponseQueue: []string{soreThroatReply, variablesReply, testCasesReply}}
	h := newHarness(t, nil, m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	job := h.caire.StartCompile(ctx, CompileRequest{Text: "guideline", TreeID: "st"})
	cancel()
	assert.Equal(t, JobPending, job.Status)

	h.caire.Wait()
	done, ok := h.caire.Jobs.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, JobCompleted, done.Status)
	assert.Equal(t, "st", done.TreeID)
	assert.Equal(t, "done", done.Progress)
	assert.True(t, done.Done())
}

func TestStartCompile_Failure(t *testing.T) {
	h := newHarness(t, nil, &MockLLM{Response: "no json here"}, nil)

	job := h.caire.StartCompile(context.Background(), CompileRequest{Text: "guideline"})
	h.caire.Wait()

	done, ok := h.caire.Jobs.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, JobFailed, done.Status)
	assert.Contains(t, done.Error, "failed to extract tree")
	assert.Len(t, h.caire.Jobs.List(), 1)
}

func TestGenerateTestCases(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, &MockLLM{Response: `[{"input_values": {"temp": 40}, "expected_outcome": "ER"}]`}, nil)
	importFever(t, h.caire)

	cases, err := h.caire.GenerateTestCases(ctx, "fever", 0)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.NotEmpty(t, cases[0].ID)

	stored, err := h.store.ListTestCases(ctx, "fever")
	require.NoError(t, err)
	assert.Equal(t, cases, stored)
}

func TestRefineNode(t *testing.T) {
	ctx := context.Background()
	refiner := &MockLLM{Response: `{"label": "Fever at least 39.5?", "condition": {"variable": "temp", "operator": ">=", "threshold": 39.5}}`}
	h := newHarness(t, nil, refiner, nil)
	original := importFever(t, h.caire)

	tree, report, err := h.caire.RefineNode(ctx, "fever", RefineRequest{NodeID: "root", Instruction: "raise the cut-off"})
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, "1.0.1", tree.Version)
	assert.Equal(t, []string{"er", "home"}, tree.Nodes["root"].Children)

	latest, err := h.store.GetTree(ctx, "fever")
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", latest.Version)

	old, err := h.store.GetTreeVersion(ctx, "fever", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, original.Nodes["root"], old.Nodes["root"])

	res, err := h.caire.RunOne(latest, model.TestCase{ID: "t", InputValues: model.Inputs{"temp": model.Number(39)}})
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "home"}, res.ActualPath)
}

func TestRefineNode_Errors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, &MockLLM{Response: `{"label": "x"}`}, nil)
	importFever(t, h.caire)

	_, _, err := h.caire.RefineNode(ctx, "fever", RefineRequest{NodeID: "ghost", Instruction: "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, _, err = h.caire.RefineNode(ctx, "fever", RefineRequest{NodeID: "er", Instruction: "x", Version: "1.0.0"})
	assert.ErrorIs(t, err, ErrVersionExists)

	_, _, err = newHarness(t, nil, nil, nil).caire.RefineNode(ctx, "fever", RefineRequest{NodeID: "er", Instruction: "x"})
	assert.ErrorIs(t, err, ErrCompilerUnavailable)
}

func TestBumpVersion(t *testing.T) {
	for in, want := range map[string]string{
		"1.0.0": "1.0.1",
		"2.9":   "2.10",
		"v2":    "v3",
		"draft": "draft.1",
		"":      "1",
	} {
		assert.Equal(t, want, bumpVersion(in), in)
	}
}
