package model

// Structural issue codes.
const (
	CodeMissingRoot       = "missing_root"
	CodeRootNotFound      = "root_not_found"
	CodeMissingNode       = "missing_node"
	CodeCycle             = "cycle"
	CodeActionHasChildren = "action_has_children"
)

// Condition issue codes.
const (
	CodeUnknownVariable  = "unknown_variable"
	CodeOperatorMismatch = "operator_mismatch"
	CodeThresholdType    = "threshold_type"
)

// Issue is a validation finding. Findings are data, not errors.
type Issue struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	NodeID  string   `json:"node_id,omitempty"`
	Path    []string `json:"path,omitempty"`
}

// Report is the combined outcome of structural and condition validation.
type Report struct {
	StructuralIssues []Issue `json:"structural_issues"`
	ConditionIssues  []Issue `json:"condition_issues"`
	Valid            bool    `json:"valid"`
}

// Issues returns structural then condition issues.
func (r Report) Issues() []Issue {
	out := make([]Issue, 0, len(r.StructuralIssues)+len(r.ConditionIssues))
	out = append(out, r.StructuralIssues...)
	return append(out, r.ConditionIssues...)
}
