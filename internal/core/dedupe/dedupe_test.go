package dedupe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/caire/internal/core/model"
)

type MockLLMClient struct {
	Response string
	Err      error
	Prompts  []string
}

func (m *MockLLMClient) Generate(ctx context.Context, prompt string) (string, error) {
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

func treeWithConditions() *model.Tree {
	return &model.Tree{
		RootNodeID: "a",
		Nodes: map[string]*model.Node{
			"a": {ID: "a", Type: model.NodeCondition, Label: "a", Children: []string{"b"},
				Condition: &model.Condition{Variable: "fever", Operator: ">", Threshold: model.Number(38)}},
			"b": {ID: "b", Type: model.NodeCondition, Label: "b",
				Condition: &model.Condition{Variable: "rash", Operator: "present"}},
		},
		Variables: []model.Variable{{Name: "fever", Type: model.VarNumeric}},
	}
}

func TestMergeVariables(t *testing.T) {
	tree := treeWithConditions()
	added := MergeVariables(tree, []model.Variable{
		{Name: "fever", Type: model.VarBoolean},
		{Name: "age", Type: model.VarNumeric},
		{Name: ""},
	})

	assert.Equal(t, []string{"age", "rash"}, added)
	require.Len(t, tree.Variables, 3)
	assert.Equal(t, model.VarNumeric, tree.Variables[0].Type)
	assert.Equal(t, model.Variable{Name: "rash", Type: model.VarCategorical, Source: SourceInferred}, tree.Variables[2])

	assert.Empty(t, MergeVariables(tree, nil))
}

func TestResolveDuplicates(t *testing.T) {
	mockLLM := &MockLLMClient{Response: `{
		"duplicates": [
			{"original": "fever", "duplicate": "temp", "confidence": 0.95},
			{"original": "fever", "duplicate": "pyrexia", "confidence": 0.4}
		]
	}`}
	d := NewDeduplicator(mockLLM)

	extracted := []model.Variable{{Name: "temp"}, {Name: "pyrexia"}, {Name: "age"}}
	pairs, err := d.ResolveDuplicates(context.Background(), extracted, []model.Variable{{Name: "fever", Type: model.VarNumeric}})
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Contains(t, mockLLM.Prompts[0], "- Name: temp")

	kept := d.Drop(extracted, pairs)
	assert.Equal(t, []model.Variable{{Name: "pyrexia"}, {Name: "age"}}, kept)
}

func TestResolveDuplicates_NothingToCompare(t *testing.T) {
	mockLLM := &MockLLMClient{}
	pairs, err := NewDeduplicator(mockLLM).ResolveDuplicates(context.Background(), nil, []model.Variable{{Name: "x"}})
	require.NoError(t, err)
	assert.Nil(t, pairs)
	assert.Empty(t, mockLLM.Prompts)
}

func TestResolveDuplicates_LLMError(t *testing.T) {
	d := NewDeduplicator(&MockLLMClient{Err: errors.New("quota")})
	_, err := d.ResolveDuplicates(context.Background(), []model.Variable{{Name: "a"}}, []model.Variable{{Name: "b"}})
	assert.ErrorContains(t, err, "quota")
}
