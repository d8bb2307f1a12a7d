// Package generation drafts decision trees, variables and test cases from
// guideline text with language models.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/agenthands/caire/internal/config"
	"github.com/agenthands/caire/internal/core/common"
	"github.com/agenthands/caire/internal/core/document"
	"github.com/agenthands/caire/internal/core/model"
	"github.com/agenthands/caire/internal/llm"
)

// ErrNoJSON is returned when a model reply holds no JSON payload.
var ErrNoJSON = common.ErrNoJSON

// DefaultConfidence is stored on generated nodes that report none.
const DefaultConfidence = 0.8

// Guideline text beyond these limits is cut before prompting.
const (
	maxTreeText     = 12000
	maxVariableText = 8000
)

const truncatedMarker = "\n\n[... text truncated ...]"

// Generator uses the teacher model for tree and variable drafting and the
// student model for test cases and node edits.
type Generator struct {
	Teacher llm.LLMClient
	Student llm.LLMClient
	Prompts config.Prompts
	Logger  *slog.Logger
}

func NewGenerator(router *llm.Router, prompts config.Prompts, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		Teacher: router.ForRole(llm.RoleTeacher),
		Student: router.ForRole(llm.RoleStudent),
		Prompts: prompts,
		Logger:  logger,
	}
}

func (g *Generator) prompt(custom, fallback string) string {
	if custom != "" {
		return custom
	}
	return fallback
}

// GenerateTree drafts a tree from guideline text. Missing tree fields are
// filled from domain and every node gets a confidence.
func (g *Generator) GenerateTree(ctx context.Context, text, domain string) (*model.Tree, []document.Warning, error) {
	if domain == "" {
		domain = document.DefaultDomain
	}
	prompt := fmt.Sprintf(g.prompt(g.Prompts.Tree, defaultTreePrompt), domain, truncate(text, maxTreeText))

	response, err := g.Teacher.Generate(ctx, prompt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate tree: %w", err)
	}

	raw, err := decodeObject(response)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to extract tree: %w", err)
	}
	setDefault(raw, "id", "parsed-"+domain+"-v1")
	setDefault(raw, "domain", domain)
	setDefault(raw, "version", document.DefaultVersion)
	withConfidence(raw["nodes"])

	tree, warnings, err := document.DecodeMap(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode generated tree: %w", err)
	}
	g.Logger.Info("generated tree", "tree_id", tree.ID, "nodes", len(tree.Nodes), "warnings", len(warnings))
	return tree, warnings, nil
}

// ExtractVariables lists the decision variables a guideline mentions. Items
// without a name are skipped.
func (g *Generator) ExtractVariables(ctx context.Context, text string) ([]model.Variable, error) {
	prompt := fmt.Sprintf(g.prompt(g.Prompts.Variables, defaultVariablesPrompt), truncate(text, maxVariableText))

	response, err := g.Teacher.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate variables: %w", err)
	}

	items, err := decodeList(response, "variables")
	if err != nil {
		return nil, fmt.Errorf("failed to extract variables: %w", err)
	}

	out := []model.Variable{}
	for _, item := range items {
		var ev model.ExtractedVariable
		if err := json.Unmarshal(item, &ev); err != nil || strings.TrimSpace(ev.Name) == "" {
			g.Logger.Debug("skipping unusable variable", "item", string(item))
			continue
		}
		out = append(out, ev.Variable("extracted"))
	}
	return out, nil
}

type nodeSummary struct {
	ID        string         `json:"id"`
	Type      model.NodeType `json:"type"`
	Label     string         `json:"label"`
	Variable  string         `json:"condition_variable,omitempty"`
	Operator  string         `json:"operator,omitempty"`
	Threshold *model.Value   `json:"threshold,omitempty"`
	Children  []string       `json:"children,omitempty"`
}

// GenerateTestCases asks the student model for count synthetic cases aiming
// at branch coverage. Malformed items are skipped; every case is bound to the
// tree.
func (g *Generator) GenerateTestCases(ctx context.Context, tree *model.Tree, count int) ([]model.TestCase, error) {
	if count <= 0 {
		count = 10
	}
	vars, err := json.Marshal(tree.Variables)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize variables: %w", err)
	}
	summary := make([]nodeSummary, 0, len(tree.Nodes))
	for _, id := range tree.NodeIDs() {
		n := tree.Nodes[id]
		s := nodeSummary{ID: n.ID, Type: n.Type, Label: clip(n.Label, 80), Children: n.Children}
		if n.Condition != nil {
			s.Variable = n.Condition.Variable
			s.Operator = n.Condition.Operator
			th := n.Condition.Threshold
			s.Threshold = &th
		}
		summary = append(summary, s)
	}
	nodes, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize nodes: %w", err)
	}

	prompt := fmt.Sprintf(g.prompt(g.Prompts.TestCases, defaultTestCasesPrompt), count, tree.ID, vars, nodes)
	response, err := g.Student.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate test cases: %w", err)
	}

	items, err := decodeList(response, "test_cases")
	if err != nil {
		return nil, fmt.Errorf("failed to extract test cases: %w", err)
	}

	cases := []model.TestCase{}
	for i, item := range items {
		raw, err := decodeAny(item)
		if err != nil {
			continue
		}
		tcs, err := document.TestCasesFrom([]any{raw}, tree.ID)
		if err != nil {
			g.Logger.Warn("skipping malformed test case", "tree_id", tree.ID, "index", i, "error", err)
			continue
		}
		tc := tcs[0]
		tc.TreeID = tree.ID
		if m, ok := raw.(map[string]any); ok && m["id"] == nil {
			// generated cases are stored, so they get globally unique ids
			tc.ID = uuid.NewString()
		}
		cases = append(cases, tc)
	}
	g.Logger.Info("generated test cases", "tree_id", tree.ID, "requested", count, "accepted", len(cases))
	return cases, nil
}

// RefineNode applies a free-text edit to one node with the student model. The
// node keeps its id and type unless the reply sets them.
func (g *Generator) RefineNode(ctx context.Context, node *model.Node, instruction string) (*model.Node, error) {
	current, err := json.MarshalIndent(node, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize node: %w", err)
	}
	response, err := g.Student.Generate(ctx, fmt.Sprintf(defaultRefinePrompt, current, instruction))
	if err != nil {
		return nil, fmt.Errorf("failed to refine node: %w", err)
	}

	raw, err := decodeObject(response)
	if err != nil {
		return nil, fmt.Errorf("failed to extract refined node: %w", err)
	}
	setDefault(raw, "id", node.ID)
	setDefault(raw, "type", string(node.Type))
	setDefault(raw, "label", node.Label)
	if _, ok := raw["children"]; !ok {
		children := make([]any, len(node.Children))
		for i, c := range node.Children {
			children[i] = c
		}
		raw["children"] = children
	}

	tree, _, err := document.DecodeMap(map[string]any{
		"id": "refine", "name": "refine", "version": "1", "domain": "refine",
		"nodes": []any{raw},
	})
	if err != nil {
		return nil, fmt.Errorf("refined node is invalid: %w", err)
	}
	for _, n := range tree.Nodes {
		return n, nil
	}
	return nil, fmt.Errorf("refined node is invalid: %w", document.ErrInvalidDocument)
}

func decodeObject(response string) (map[string]any, error) {
	payload, err := common.ExtractJSON(response)
	if err != nil {
		return nil, err
	}
	v, err := decodeAny([]byte(payload))
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected an object", ErrNoJSON)
	}
	return m, nil
}

// decodeList accepts a bare array, an object wrapping one under key, or a
// single object.
func decodeList(response, key string) ([]json.RawMessage, error) {
	payload, err := common.ExtractJSON(response)
	if err != nil {
		return nil, err
	}
	var list []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &list); err == nil {
		return list, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if inner, ok := obj[key]; ok {
		if err := json.Unmarshal(inner, &list); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		return list, nil
	}
	return []json.RawMessage{json.RawMessage(payload)}, nil
}

func decodeAny(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return v, nil
}

func setDefault(m map[string]any, key string, value any) {
	if v, ok := m[key]; !ok || v == nil || v == "" {
		m[key] = value
	}
}

func withConfidence(nodes any) {
	visit := func(n any) {
		node, ok := n.(map[string]any)
		if !ok {
			return
		}
		meta, ok := node["metadata"].(map[string]any)
		if !ok {
			meta = map[string]any{}
			node["metadata"] = meta
		}
		if _, ok := meta["confidence"]; !ok {
			meta["confidence"] = DefaultConfidence
		}
	}
	switch ns := nodes.(type) {
	case map[string]any:
		for _, n := range ns {
			visit(n)
		}
	case []any:
		for _, n := range ns {
			visit(n)
		}
	}
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + truncatedMarker
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
