package dedupe

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/caire/internal/core/common"
	"github.com/agenthands/caire/internal/core/model"
	"github.com/agenthands/caire/internal/llm"
)

// SourceInferred marks variables synthesized from condition usage.
const SourceInferred = "inferred"

// DefaultMinConfidence is the lowest duplicate confidence acted upon.
const DefaultMinConfidence = 0.7

// MergeVariables adds extracted variables the tree does not declare yet, then
// declares a categorical variable for every condition variable that is still
// unknown. It returns the names added, in order. The tree is modified in place.
func MergeVariables(tree *model.Tree, extracted []model.Variable) []string {
	added := []string{}
	declared := map[string]bool{}
	for _, v := range tree.Variables {
		declared[v.Name] = true
	}

	for _, v := range extracted {
		if v.Name == "" || declared[v.Name] {
			continue
		}
		declared[v.Name] = true
		tree.Variables = append(tree.Variables, v)
		added = append(added, v.Name)
	}

	for _, id := range tree.NodeIDs() {
		c := tree.Nodes[id].Condition
		if c == nil || c.Variable == "" || declared[c.Variable] {
			continue
		}
		declared[c.Variable] = true
		tree.Variables = append(tree.Variables, model.Variable{
			Name:   c.Variable,
			Type:   model.VarCategorical,
			Source: SourceInferred,
		})
		added = append(added, c.Variable)
	}
	return added
}

// Deduplicator asks a model which extracted variables restate declared ones
// under a different name ("temp" for "temperature").
type Deduplicator struct {
	LLM           llm.LLMClient
	MinConfidence float64
}

func NewDeduplicator(llmClient llm.LLMClient) *Deduplicator {
	return &Deduplicator{
		LLM:           llmClient,
		MinConfidence: DefaultMinConfidence,
	}
}

func (d *Deduplicator) ResolveDuplicates(ctx context.Context, extracted, declared []model.Variable) ([]model.DuplicatePair, error) {
	if len(extracted) == 0 || len(declared) == 0 {
		return nil, nil
	}

	prompt := fmt.Sprintf(`
<EXTRACTED VARIABLES>
%s
</EXTRACTED VARIABLES>

<DECLARED VARIABLES>
%s
</DECLARED VARIABLES>

Instructions:
Identify EXTRACTED VARIABLES that measure the same clinical quantity as a DECLARED VARIABLE.
Return a JSON object with key "duplicates" which is a list of objects.
Each object should have "original" (declared name), "duplicate" (extracted name), and "confidence" (float).

Example JSON:
{
  "duplicates": [
    {"original": "temperature", "duplicate": "temp_c", "confidence": 0.9}
  ]
}
`, serializeVariables(extracted), serializeVariables(declared))

	response, err := d.LLM.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate deduplication result: %w", err)
	}

	result, err := common.ParseJSON[model.DeduplicationResult](response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dedupe result: %w", err)
	}
	return result.Duplicates, nil
}

// Drop removes extracted variables named as duplicates with at least the
// configured confidence.
func (d *Deduplicator) Drop(extracted []model.Variable, pairs []model.DuplicatePair) []model.Variable {
	dup := map[string]bool{}
	for _, p := range pairs {
		if p.Confidence >= d.MinConfidence && p.Original != p.Duplicate {
			dup[p.Duplicate] = true
		}
	}
	out := make([]model.Variable, 0, len(extracted))
	for _, v := range extracted {
		if !dup[v.Name] {
			out = append(out, v)
		}
	}
	return out
}

func serializeVariables(vars []model.Variable) string {
	var b strings.Builder
	for _, v := range vars {
		fmt.Fprintf(&b, "- Name: %s, Type: %s", v.Name, v.Type)
		if v.Description != "" {
			fmt.Fprintf(&b, ", Description: %s", v.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}
