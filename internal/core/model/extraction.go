package model

import "strings"

// ExtractedVariable is a decision variable as a language model reports it.
type ExtractedVariable struct {
	Name               string              `json:"name"`
	Type               string              `json:"type"`
	Units              string              `json:"units,omitempty"`
	Description        string              `json:"description,omitempty"`
	TerminologyMapping map[string][]string `json:"terminology_mapping,omitempty"`
}

type ExtractedVariables struct {
	Variables []ExtractedVariable `json:"variables"`
}

// Variable converts e, mapping loose type names onto the closed set. Anything
// unrecognized becomes categorical.
func (e ExtractedVariable) Variable(source string) Variable {
	vt, ok := ParseVariableType(e.Type)
	if !ok {
		switch strings.ToLower(strings.TrimSpace(e.Type)) {
		case "number", "float", "integer", "int", "continuous":
			vt = VarNumeric
		case "bool", "binary", "yes/no":
			vt = VarBoolean
		default:
			vt = VarCategorical
		}
	}
	return Variable{
		Name:               strings.TrimSpace(e.Name),
		Type:               vt,
		Units:              e.Units,
		TerminologyMapping: e.TerminologyMapping,
		Source:             source,
		Description:        e.Description,
	}
}
