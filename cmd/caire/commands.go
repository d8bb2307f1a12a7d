package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agenthands/caire/internal/config"
	"github.com/agenthands/caire/internal/core"
	"github.com/agenthands/caire/internal/core/analysis"
	"github.com/agenthands/caire/internal/core/dedupe"
	"github.com/agenthands/caire/internal/core/document"
	"github.com/agenthands/caire/internal/core/generation"
	"github.com/agenthands/caire/internal/core/model"
	"github.com/agenthands/caire/internal/llm"
	"github.com/agenthands/caire/internal/observability"
	"github.com/agenthands/caire/internal/store"
)

var (
	// errInvalidTree and errFailingTests only set the exit status; the
	// report has already been printed.
	errInvalidTree  = errors.New("tree has validation issues")
	errFailingTests = errors.New("test cases failed")
)

type cliOptions struct {
	configPath string
	jsonOutput bool
	logLevel   string

	previousPath string
	outPath      string
	concurrency  int

	suitePath string

	domain    string
	treeID    string
	testCount int
	timeout   time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "caire",
		Short: "Validate, run and analyze clinical decision trees",
		Long: `caire checks decision tree documents for structural and condition
issues, runs test cases through them and reports regressions against a
previous run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config/config.toml",
		"Path to the TOML configuration (defaults apply when missing)")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false,
		"Output as JSON for scripting")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn",
		"Log level (debug, info, warn, error)")

	validateCmd := &cobra.Command{
		Use:   "validate <tree>",
		Short: "Report structural and condition issues of a tree document",
		Long: `Reads a JSON or YAML tree document (DMN or legacy edge-list shape) and
runs the structural and condition validators.

Examples:
  caire validate triage.json
  caire validate triage.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, opts, args[0])
		},
	}

	runCmd := &cobra.Command{
		Use:   "run <tree> <cases>",
		Short: "Run test cases through a tree",
		Long: `Runs every test case through the tree and prints the suite. With
--previous, cases that passed in that suite and fail now are reported as
breaking changes.

Examples:
  caire run triage.json cases.json
  caire run triage.json cases.yaml --previous last.json --out suite.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuite(cmd, opts, args[0], args[1])
		},
	}
	runCmd.Flags().StringVar(&opts.previousPath, "previous", "", "Suite JSON from an earlier run")
	runCmd.Flags().StringVarP(&opts.outPath, "out", "o", "", "Write the suite JSON to this file")
	runCmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 0, "Parallel cases (0 uses the configured value)")

	analyzeCmd := &cobra.Command{
		Use:   "analyze <tree>",
		Short: "Report depth, leaves and test coverage of a tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, opts, args[0])
		},
	}
	analyzeCmd.Flags().StringVar(&opts.suitePath, "suite", "", "Suite JSON whose paths count as covered")

	compileCmd := &cobra.Command{
		Use:   "compile <guideline.txt>",
		Short: "Draft a tree from guideline text with the configured models",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, opts, args[0])
		},
	}
	compileCmd.Flags().StringVar(&opts.domain, "domain", "", "Clinical domain (defaults to compiler.target_domain)")
	compileCmd.Flags().StringVar(&opts.treeID, "id", "", "Tree id to assign")
	compileCmd.Flags().IntVar(&opts.testCount, "tests", -1, "Test cases to generate (-1 skips)")
	compileCmd.Flags().StringVarP(&opts.outPath, "out", "o", "", "Write the tree JSON to this file")
	compileCmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Overall time limit")

	root.AddCommand(validateCmd, runCmd, analyzeCmd, compileCmd)
	return root
}

func (o *cliOptions) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadOrDefault(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := observability.NewLogger(config.LogConfig{Level: o.logLevel, Format: "text"}, cmd.ErrOrStderr())
	return cfg, logger, nil
}

// newLocalCaire runs everything in memory; nothing the CLI does is persisted.
func newLocalCaire(cfg *config.Config, gen *generation.Generator, dd *dedupe.Deduplicator, logger *slog.Logger) *core.Caire {
	cfg.Execution.RequireValid = false
	return core.NewCaire(store.NewMemoryStore(), gen, dd, nil, cfg, logger)
}

func readTree(cmd *cobra.Command, path string) (*model.Tree, error) {
	tree, warnings, err := document.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}
	return tree, nil
}

func runValidate(cmd *cobra.Command, opts *cliOptions, path string) error {
	cfg, logger, err := opts.load(cmd)
	if err != nil {
		return err
	}
	tree, err := readTree(cmd, path)
	if err != nil {
		return err
	}
	report := newLocalCaire(cfg, nil, nil, logger).Validate(tree)

	if opts.jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		printReport(cmd.OutOrStdout(), tree, report)
	}
	if !report.Valid {
		return errInvalidTree
	}
	return nil
}

func printReport(w io.Writer, tree *model.Tree, r model.Report) {
	if r.Valid {
		fmt.Fprintf(w, "%s %s: valid (%d nodes, %d variables)\n", tree.ID, tree.Version, len(tree.Nodes), len(tree.Variables))
		return
	}
	fmt.Fprintf(w, "%s %s: %d issues\n", tree.ID, tree.Version, len(r.StructuralIssues)+len(r.ConditionIssues))
	for _, is := range r.Issues() {
		loc := ""
		if is.NodeID != "" {
			loc = " [" + is.NodeID + "]"
		}
		fmt.Fprintf(w, "  %-20s%s %s\n", is.Code, loc, is.Message)
	}
}

func runSuite(cmd *cobra.Command, opts *cliOptions, treePath, casesPath string) error {
	cfg, logger, err := opts.load(cmd)
	if err != nil {
		return err
	}
	if opts.concurrency > 0 {
		cfg.Execution.SuiteConcurrency = opts.concurrency
	}
	tree, err := readTree(cmd, treePath)
	if err != nil {
		return err
	}
	cases, err := document.DecodeTestCasesFile(casesPath, tree.ID)
	if err != nil {
		return err
	}
	var previous *model.TestSuite
	if opts.previousPath != "" {
		if previous, err = document.ReadSuite(opts.previousPath); err != nil {
			return err
		}
	}

	suite, err := newLocalCaire(cfg, nil, nil, logger).RunSuite(cmd.Context(), tree, cases, previous)
	if err != nil {
		return err
	}
	if opts.outPath != "" {
		if err := writeJSONFile(opts.outPath, suite); err != nil {
			return err
		}
	}

	if opts.jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), suite); err != nil {
			return err
		}
	} else {
		printSuite(cmd.OutOrStdout(), suite)
	}
	if suite.Failed > 0 {
		return errFailingTests
	}
	return nil
}

func printSuite(w io.Writer, s *model.TestSuite) {
	for _, r := range s.Results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%s  %s  %s\n", status, r.TestCaseID, strings.Join(r.ActualPath, " -> "))
		if r.Error != "" {
			fmt.Fprintf(w, "      error: %s\n", r.Error)
		} else if !r.Passed {
			fmt.Fprintf(w, "      expected %q via %v, got %q\n", r.ExpectedOutcome, r.ExpectedPath, r.Outcome())
		}
	}
	fmt.Fprintf(w, "\n%d total, %d passed, %d failed\n", s.Total, s.Passed, s.Failed)
	for _, b := range s.BreakingChanges {
		fmt.Fprintf(w, "BREAKING: %s\n", b)
	}
}

func runAnalyze(cmd *cobra.Command, opts *cliOptions, path string) error {
	tree, err := readTree(cmd, path)
	if err != nil {
		return err
	}
	var suite *model.TestSuite
	if opts.suitePath != "" {
		if suite, err = document.ReadSuite(opts.suitePath); err != nil {
			return err
		}
	}
	report := analysis.Coverage(tree, suite)

	if opts.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "reachable nodes: %d\n", report.Reachable)
	fmt.Fprintf(w, "leaves:          %d\n", report.Leaves)
	fmt.Fprintf(w, "max depth:       %d\n", report.MaxDepth)
	if suite != nil {
		fmt.Fprintf(w, "coverage:        %d/%d (%.0f%%)\n", report.Visited, report.Reachable, report.Ratio*100)
		if len(report.Unvisited) > 0 {
			fmt.Fprintf(w, "unvisited:       %s\n", strings.Join(report.Unvisited, ", "))
		}
	}
	return nil
}

func runCompile(cmd *cobra.Command, opts *cliOptions, path string) error {
	cfg, logger, err := opts.load(cmd)
	if err != nil {
		return err
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read guideline: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	router, err := llm.NewRouter(ctx, cfg.LLM, logger)
	if err != nil {
		return err
	}
	gen := generation.NewGenerator(router, cfg.Prompts, logger)
	dd := dedupe.NewDeduplicator(router.ForRole(llm.RoleStudent))

	res, err := newLocalCaire(cfg, gen, dd, logger).Compile(ctx, core.CompileRequest{
		Text:          string(text),
		Domain:        opts.domain,
		TreeID:        opts.treeID,
		TestCaseCount: opts.testCount,
	})
	if res != nil && !opts.jsonOutput {
		printReport(cmd.OutOrStdout(), res.Tree, res.Report)
	}
	if err != nil {
		return err
	}
	if opts.outPath != "" {
		if err := writeJSONFile(opts.outPath, res.Tree); err != nil {
			return err
		}
	}
	if opts.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSONFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := writeJSON(f, v); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
