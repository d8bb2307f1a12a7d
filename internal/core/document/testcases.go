package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/agenthands/caire/internal/core/model"
)

// DecodeTestCases parses a JSON list of test cases, or an object holding the
// list under "test_cases". Cases without a tree_id get treeID; cases without
// an id get one derived from their position and content, so decoding the same
// document twice yields the same ids.
func DecodeTestCases(data []byte, treeID string) ([]model.TestCase, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return TestCasesFrom(raw, treeID)
}

// DecodeTestCasesFile reads test cases from a JSON or YAML file.
func DecodeTestCasesFile(path, treeID string) ([]model.TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test case document: %w", err)
	}
	if !isYAML(path) {
		return DecodeTestCases(data, treeID)
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return TestCasesFrom(raw, treeID)
}

// TestCasesFrom normalizes already parsed test cases.
func TestCasesFrom(raw any, treeID string) ([]model.TestCase, error) {
	if m, ok := raw.(map[string]any); ok {
		raw = m["test_cases"]
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, invalid("$", "expected a list of test cases")
	}
	out := make([]model.TestCase, 0, len(list))
	for i, item := range list {
		path := fmt.Sprintf("$[%d]", i)
		m, ok := item.(map[string]any)
		if !ok {
			return nil, invalid(path, "test case must be an object")
		}
		tc, err := testCase(m, i, path, treeID)
		if err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, nil
}

func testCase(m map[string]any, index int, path, treeID string) (model.TestCase, error) {
	tc := model.TestCase{
		ID:              optString(m, "id"),
		TreeID:          optString(m, "tree_id"),
		InputValues:     model.Inputs{},
		ExpectedOutcome: optString(m, "expected_outcome"),
	}
	if tc.ID == "" {
		tc.ID = derivedID(m, index)
	}
	if tc.TreeID == "" {
		tc.TreeID = treeID
	}

	if raw := m["input_values"]; raw != nil {
		inputs, ok := raw.(map[string]any)
		if !ok {
			return tc, invalid(path+".input_values", "must be an object")
		}
		for k, v := range inputs {
			val, err := model.ValueOf(v)
			if err != nil {
				return tc, invalid(path+".input_values."+k, "%v", err)
			}
			tc.InputValues[k] = val
		}
	}

	expected, err := stringList(m["expected_path"], path+".expected_path")
	if err != nil {
		return tc, err
	}
	if expected == nil {
		expected = []string{}
	}
	tc.ExpectedPath = expected
	return tc, nil
}

// derivedID names an id-less case by list position plus a name-based uuid of
// its fields. fmt prints map keys in sorted order.
func derivedID(m map[string]any, index int) string {
	sum := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%v", m)))
	return fmt.Sprintf("case-%d-%s", index, sum.String()[:8])
}

// ReadSuite loads a suite snapshot written by a previous run.
func ReadSuite(path string) (*model.TestSuite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite: %w", err)
	}
	var suite model.TestSuite
	if err := json.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return &suite, nil
}
