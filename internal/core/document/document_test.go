package document

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/caire/internal/core/model"
)

const dmnTree = `{
  "id": "fever",
  "name": "Fever triage",
  "version": "2.0.0",
  "domain": "emergency_triage",
  "root_node_id": "root",
  "nodes": {
    "root": {
      "type": "condition",
      "label": "Fever above 38?",
      "condition": {"variable": "fever", "operator": " > ", "threshold": 38},
      "children": ["er", "home"]
    },
    "er": {"id": "er", "type": "action", "label": "ER",
           "action": {"recommendation": "go to ER", "urgency_level": "emergency"}},
    "home": {"id": "home", "type": "action", "label": "Home",
             "action": {"recommendation": "home care"}}
  },
  "variables": [{"name": "fever", "type": "numeric", "units": "C"}]
}`

func TestDecode_DMN(t *testing.T) {
	tree, warnings, err := Decode([]byte(dmnTree))
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, "fever", tree.ID)
	assert.Equal(t, "2.0.0", tree.Version)
	assert.Equal(t, "root", tree.RootNodeID)
	require.Len(t, tree.Nodes, 3)

	root := tree.Nodes["root"]
	assert.Equal(t, "root", root.ID)
	assert.Equal(t, model.NodeCondition, root.Type)
	assert.Equal(t, []string{"er", "home"}, root.Children)
	require.NotNil(t, root.Condition)
	assert.Equal(t, ">", root.Condition.Operator)
	assert.Equal(t, model.Number(38), root.Condition.Threshold)

	assert.Equal(t, "go to ER", tree.Nodes["er"].Action.Recommendation)
	assert.Equal(t, []string{}, tree.Nodes["er"].Children)
	assert.Equal(t, []model.Variable{{Name: "fever", Type: model.VarNumeric, Units: "C"}}, tree.Variables)
}

func TestDecode_Legacy(t *testing.T) {
	doc := `{
	  "id": "legacy",
	  "root_id": "q1",
	  "nodes": [
	    {"id": "q1", "type": "question", "label": "Chest pain?",
	     "condition": {"variable": "chest_pain", "operator": "==", "threshold": true}},
	    {"id": "o1", "type": "outcome", "label": "Call 911", "action": {"recommendation": "call 911"}},
	    {"id": "o2", "type": "outcome", "label": "Rest"}
	  ],
	  "edges": [
	    {"source": "q1", "target": "o1"},
	    {"source": "q1", "target": "o2"}
	  ]
	}`

	tree, warnings, err := Decode([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "q1", tree.RootNodeID)
	assert.Equal(t, model.NodeCondition, tree.Nodes["q1"].Type)
	assert.Equal(t, model.NodeAction, tree.Nodes["o2"].Type)
	assert.Equal(t, []string{"o1", "o2"}, tree.Nodes["q1"].Children)
	assert.Equal(t, model.Boolean(true), tree.Nodes["q1"].Condition.Threshold)

	assert.Equal(t, "legacy", tree.Name)
	assert.Equal(t, DefaultVersion, tree.Version)
	assert.Equal(t, DefaultDomain, tree.Domain)
	assert.Len(t, warnings, 3)
}

func TestDecode_LegacyEdgeIDs(t *testing.T) {
	doc := `{
	  "id": "triage",
	  "root_id": "q",
	  "nodes": [
	    {"id": "q", "type": "question", "label": "Breathing difficulty?",
	     "condition": {"variable": "dyspnea", "operator": "==", "threshold": true}},
	    {"id": "er", "type": "outcome", "label": "Emergency department"},
	    {"id": "gp", "type": "outcome", "label": "See GP"}
	  ],
	  "edges": [
	    {"source_id": "q", "target_id": "er", "label": "Yes", "value": true},
	    {"source_id": "q", "target_id": "gp", "label": "No", "value": null}
	  ]
	}`

	tree, _, err := Decode([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "q", tree.RootNodeID)
	assert.Equal(t, []string{"er", "gp"}, tree.Nodes["q"].Children)
	assert.Equal(t, []string{}, tree.Nodes["er"].Children)
}

func TestDecode_LegacySkipsEdgeFromUnknownNode(t *testing.T) {
	doc := `{
	  "id": "triage",
	  "root_id": "q",
	  "nodes": [
	    {"id": "q", "type": "question", "label": "Fever?"},
	    {"id": "o", "type": "outcome", "label": "Rest"}
	  ],
	  "edges": [
	    {"source_id": "q", "target_id": "o"},
	    {"source": "ghost", "target": "o"},
	    {"source_id": "q", "target_id": "missing"}
	  ]
	}`

	tree, warnings, err := Decode([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"o", "missing"}, tree.Nodes["q"].Children)

	var skipped []Warning
	for _, w := range warnings {
		if w.Path == "$.edges[1]" {
			skipped = append(skipped, w)
		}
	}
	require.Len(t, skipped, 1)
	assert.Contains(t, skipped[0].Message, `"ghost"`)
}

func TestDecode_RequiredFields(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		path string
	}{
		{"tree id", `{"nodes": {}}`, "$.id"},
		{"node type", `{"id": "t", "nodes": [{"id": "a", "label": "A"}]}`, "$.nodes[0].type"},
		{"node label", `{"id": "t", "nodes": {"a": {"type": "action"}}}`, "$.nodes.a.label"},
		{"bad node type", `{"id": "t", "nodes": {"a": {"type": "gate", "label": "A"}}}`, "$.nodes.a.type"},
		{"condition operator", `{"id": "t", "nodes": {"a": {"type": "condition", "label": "A", "condition": {"variable": "x"}}}}`, "$.nodes.a.condition.operator"},
		{"recommendation", `{"id": "t", "nodes": {"a": {"type": "action", "label": "A", "action": {}}}}`, "$.nodes.a.action.recommendation"},
		{"variable name", `{"id": "t", "variables": [{"type": "numeric"}]}`, "$.variables[0].name"},
		{"edge source", `{"id": "t", "nodes": [], "edges": [{"target_id": "x"}]}`, "$.edges[0].source_id"},
		{"edge target", `{"id": "t", "nodes": [{"id": "a", "type": "question", "label": "A"}], "edges": [{"source_id": "a", "target_id": ""}]}`, "$.edges[0].target_id"},
		{"mismatched key", `{"id": "t", "nodes": {"a": {"id": "b", "type": "action", "label": "A"}}}`, "$.nodes.a.id"},
		{"duplicate id", `{"id": "t", "nodes": [{"id": "a", "type": "action", "label": "A"}, {"id": "a", "type": "action", "label": "B"}]}`, "$.nodes[1].id"},
		{"not json", `[1, 2`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDocument)
			assert.Contains(t, err.Error(), tt.path)
		})
	}
}

func TestDecode_DropsMisplacedPayloads(t *testing.T) {
	doc := `{
	  "id": "t", "name": "t", "version": "1", "domain": "d", "root_node_id": "a",
	  "nodes": {
	    "a": {"type": "condition", "label": "A", "action": {"recommendation": "x"}, "children": ["b"]},
	    "b": {"type": "action", "label": "B", "condition": {"variable": "v", "operator": ">"}}
	  },
	  "variables": [{"name": "v", "type": "ordinal"}]
	}`

	tree, warnings, err := Decode([]byte(doc))
	require.NoError(t, err)
	assert.Nil(t, tree.Nodes["a"].Action)
	assert.Nil(t, tree.Nodes["b"].Condition)
	assert.Equal(t, model.VarCategorical, tree.Variables[0].Type)

	paths := []string{}
	for _, w := range warnings {
		paths = append(paths, w.Path)
	}
	assert.ElementsMatch(t, []string{"$.nodes.a.action", "$.nodes.b.condition", "$.variables[0].type"}, paths)
}

func TestDecode_RoundTripsModelJSON(t *testing.T) {
	tree, _, err := Decode([]byte(dmnTree))
	require.NoError(t, err)

	data, err := json.Marshal(tree)
	require.NoError(t, err)

	again, warnings, err := Decode(data)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, tree, again)
}

func TestDecodeFile_YAML(t *testing.T) {
	doc := `
id: cough
name: Cough
version: 1.0
domain: primary_care
root_node_id: start
nodes:
  start:
    type: root
    label: Start
    condition:
      variable: days
      operator: ">="
      threshold: 21
    children: [refer, wait]
  refer:
    type: action
    label: Refer
    action:
      recommendation: refer to clinic
  wait:
    type: action
    label: Wait
    action:
      recommendation: watchful waiting
variables:
  - name: days
    type: numeric
`
	path := filepath.Join(t.TempDir(), "cough.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	tree, warnings, err := DecodeFile(path)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "1", tree.Version)
	assert.Equal(t, model.NodeRoot, tree.Nodes["start"].Type)
	assert.Equal(t, model.Number(21), tree.Nodes["start"].Condition.Threshold)
	assert.Equal(t, []string{"refer", "wait"}, tree.Nodes["start"].Children)
}

func TestDecodeFile_Missing(t *testing.T) {
	_, _, err := DecodeFile(filepath.Join(t.TempDir(), "none.json"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidDocument)
}

func TestDecodeTestCases(t *testing.T) {
	doc := `{"test_cases": [
	  {"id": "tc1", "input_values": {"fever": 39.5, "cough": true, "note": "dry", "extra": null},
	   "expected_path": ["root", "er"], "expected_outcome": "ER"},
	  {"input_values": {}}
	]}`

	cases, err := DecodeTestCases([]byte(doc), "fever")
	require.NoError(t, err)
	require.Len(t, cases, 2)

	first := cases[0]
	assert.Equal(t, "tc1", first.ID)
	assert.Equal(t, "fever", first.TreeID)
	assert.Equal(t, model.Number(39.5), first.InputValues["fever"])
	assert.Equal(t, model.Boolean(true), first.InputValues["cough"])
	assert.Equal(t, model.String("dry"), first.InputValues["note"])
	assert.True(t, first.InputValues["extra"].IsNull())
	assert.Equal(t, []string{"root", "er"}, first.ExpectedPath)

	assert.NotEmpty(t, cases[1].ID)
	assert.Equal(t, []string{}, cases[1].ExpectedPath)
}

func TestDecodeTestCases_StableGeneratedIDs(t *testing.T) {
	doc := `[
	  {"input_values": {"fever": 39}, "expected_outcome": "ER"},
	  {"input_values": {"fever": 39}, "expected_outcome": "ER"},
	  {"input_values": {"fever": 36}, "expected_outcome": "home care"}
	]`

	first, err := DecodeTestCases([]byte(doc), "fever")
	require.NoError(t, err)
	second, err := DecodeTestCases([]byte(doc), "fever")
	require.NoError(t, err)

	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
	assert.NotEqual(t, first[0].ID, first[1].ID)
	assert.NotEqual(t, first[0].ID, first[2].ID)
	assert.Regexp(t, `^case-1-[0-9a-f]{8}$`, first[1].ID)
}

func TestDecodeTestCases_Invalid(t *testing.T) {
	_, err := DecodeTestCases([]byte(`{"cases": []}`), "t")
	assert.ErrorIs(t, err, ErrInvalidDocument)

	_, err = DecodeTestCases([]byte(`[{"input_values": {"x": [1, 2]}}]`), "t")
	assert.ErrorIs(t, err, ErrInvalidDocument)
	assert.Contains(t, err.Error(), "$[0].input_values.x")
}
