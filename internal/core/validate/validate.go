package validate

import "github.com/agenthands/caire/internal/core/model"

// Tree runs both validators. The report is valid iff neither found an issue.
func Tree(tree *model.Tree) model.Report {
	r := model.Report{
		StructuralIssues: Structure(tree),
		ConditionIssues:  Conditions(tree),
	}
	if r.StructuralIssues == nil {
		r.StructuralIssues = []model.Issue{}
	}
	if r.ConditionIssues == nil {
		r.ConditionIssues = []model.Issue{}
	}
	r.Valid = len(r.StructuralIssues) == 0 && len(r.ConditionIssues) == 0
	return r
}
