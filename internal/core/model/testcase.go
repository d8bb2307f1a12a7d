package model

import (
	"encoding/json"
	"time"
)

type TestCase struct {
	ID              string   `json:"id"`
	TreeID          string   `json:"tree_id"`
	InputValues     Inputs   `json:"input_values"`
	ExpectedPath    []string `json:"expected_path"`
	ExpectedOutcome string   `json:"expected_outcome,omitempty"`
}

// ConditionDetail records one evaluated condition in a trace.
type ConditionDetail struct {
	Variable   string `json:"variable"`
	Operator   string `json:"operator"`
	Threshold  Value  `json:"threshold"`
	InputValue Value  `json:"input_value"`
	Result     bool   `json:"result"`
}

// TraceStep is one visited node.
type TraceStep struct {
	NodeID             string           `json:"node_id"`
	NodeLabel          string           `json:"node_label"`
	NodeType           NodeType         `json:"node_type"`
	ConditionEvaluated *ConditionDetail `json:"condition_evaluated"`
	NextNodeID         string           `json:"next_node_id,omitempty"`
}

type TestResult struct {
	TestCaseID      string        `json:"test_case_id"`
	Passed          bool          `json:"passed"`
	ActualPath      []string      `json:"actual_path"`
	ExpectedPath    []string      `json:"expected_path"`
	ActualOutcome   *string       `json:"actual_outcome"`
	ExpectedOutcome string        `json:"expected_outcome,omitempty"`
	ExecutionTrace  []TraceStep   `json:"execution_trace"`
	Elapsed         time.Duration `json:"-"`
	Error           string        `json:"error_message,omitempty"`
}

// resultFields drops the JSON methods of TestResult.
type resultFields TestResult

type testResultJSON struct {
	resultFields
	ExecutionTimeMS float64 `json:"execution_time_ms"`
}

func (r TestResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(testResultJSON{
		resultFields:    resultFields(r),
		ExecutionTimeMS: float64(r.Elapsed) / float64(time.Millisecond),
	})
}

func (r *TestResult) UnmarshalJSON(data []byte) error {
	var aux testResultJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = TestResult(aux.resultFields)
	r.Elapsed = time.Duration(aux.ExecutionTimeMS * float64(time.Millisecond))
	return nil
}

// Outcome returns the actual outcome or "" when the walk produced none.
func (r TestResult) Outcome() string {
	if r.ActualOutcome == nil {
		return ""
	}
	return *r.ActualOutcome
}

type TestSuite struct {
	ID              string       `json:"id,omitempty"`
	TreeID          string       `json:"tree_id"`
	TreeVersion     string       `json:"tree_version,omitempty"`
	RunAt           time.Time    `json:"run_at"`
	Total           int          `json:"total"`
	Passed          int          `json:"passed"`
	Failed          int          `json:"failed"`
	BreakingChanges []string     `json:"breaking_changes"`
	Results         []TestResult `json:"results"`
}

// Result finds the result for a test case id.
func (s *TestSuite) Result(testCaseID string) (TestResult, bool) {
	if s == nil {
		return TestResult{}, false
	}
	for _, r := range s.Results {
		if r.TestCaseID == testCaseID {
			return r, true
		}
	}
	return TestResult{}, false
}

// PassRate is passed/total, or 0 for an empty suite.
func (s *TestSuite) PassRate() float64 {
	if s == nil || s.Total == 0 {
		return 0
	}
	return float64(s.Passed) / float64(s.Total)
}
