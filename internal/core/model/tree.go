package model

import (
	"fmt"
	"sort"
	"strings"
)

// NodeType is the closed set of node kinds a normalized tree may contain.
type NodeType string

const (
	NodeRoot      NodeType = "root"
	NodeCondition NodeType = "condition"
	NodeAction    NodeType = "action"
	NodeScore     NodeType = "score"
)

// ParseNodeType maps a document type name onto a NodeType. The legacy names
// "question" and "outcome" map to condition and action semantics.
func ParseNodeType(s string) (NodeType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "root":
		return NodeRoot, nil
	case "condition", "question":
		return NodeCondition, nil
	case "action", "outcome":
		return NodeAction, nil
	case "score":
		return NodeScore, nil
	}
	return "", fmt.Errorf("unknown node type %q", s)
}

// VariableType is the declared type of a decision variable.
type VariableType string

const (
	VarNumeric     VariableType = "numeric"
	VarBoolean     VariableType = "boolean"
	VarCategorical VariableType = "categorical"
)

// ParseVariableType returns the VariableType for s, or false when unknown.
func ParseVariableType(s string) (VariableType, bool) {
	switch VariableType(strings.ToLower(strings.TrimSpace(s))) {
	case VarNumeric:
		return VarNumeric, true
	case VarBoolean:
		return VarBoolean, true
	case VarCategorical:
		return VarCategorical, true
	}
	return "", false
}

// Urgency tiers for action recommendations.
const (
	UrgencyEmergency = "emergency"
	UrgencyUrgent    = "urgent"
	UrgencyRoutine   = "routine"
	UrgencyDeferred  = "deferred"
	UrgencyOther     = "other"
)

// Condition operators.
const (
	OpGreater      = ">"
	OpLess         = "<"
	OpGreaterEqual = ">="
	OpLessEqual    = "<="
	OpEqual        = "=="
	OpNotEqual     = "!="
	OpIn           = "in"
	OpNotIn        = "not_in"
	OpPresent      = "present"
	OpAbsent       = "absent"
	OpContains     = "contains"
)

// NormalizeOperator trims and lower-cases an operator string.
func NormalizeOperator(op string) string {
	return strings.ToLower(strings.TrimSpace(op))
}

type Variable struct {
	Name               string              `json:"name"`
	Type               VariableType        `json:"type"`
	Units              string              `json:"units,omitempty"`
	TerminologyMapping map[string][]string `json:"terminology_mapping,omitempty"`
	Source             string              `json:"source,omitempty"`
	Description        string              `json:"description,omitempty"`
}

type Condition struct {
	Variable  string `json:"variable"`
	Operator  string `json:"operator"`
	Threshold Value  `json:"threshold"`
	Unit      string `json:"unit,omitempty"`
}

type Action struct {
	Recommendation string `json:"recommendation"`
	UrgencyLevel   string `json:"urgency_level,omitempty"`
	Code           string `json:"code,omitempty"`
}

// Node is one decision point. Condition is only set on root/condition nodes and
// Action only on action nodes; the document decoder enforces this.
type Node struct {
	ID              string         `json:"id"`
	Type            NodeType       `json:"type"`
	Label           string         `json:"label"`
	Description     string         `json:"description,omitempty"`
	Condition       *Condition     `json:"condition,omitempty"`
	Action          *Action        `json:"action,omitempty"`
	ScoreExpression string         `json:"score_expression,omitempty"`
	Children        []string       `json:"children"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// IsTerminal reports whether reaching n ends an execution.
func (n *Node) IsTerminal() bool {
	return n.Type == NodeAction
}

// Outcome is the recommendation text of an action node, or its label.
func (n *Node) Outcome() string {
	if n.Action != nil && n.Action.Recommendation != "" {
		return n.Action.Recommendation
	}
	return n.Label
}

// Confidence returns the model confidence attached to the node metadata, if any.
func (n *Node) Confidence() (float64, bool) {
	if n.Metadata == nil {
		return 0, false
	}
	v, err := ValueOf(n.Metadata["confidence"])
	if err != nil {
		return 0, false
	}
	if v.Kind != KindNumber {
		return 0, false
	}
	return v.Num, true
}

type Tree struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Version    string           `json:"version"`
	Domain     string           `json:"domain"`
	RootNodeID string           `json:"root_node_id"`
	Nodes      map[string]*Node `json:"nodes"`
	Variables  []Variable       `json:"variables"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
}

// Node looks up a node by id.
func (t *Tree) Node(id string) (*Node, bool) {
	if t == nil || t.Nodes == nil {
		return nil, false
	}
	n, ok := t.Nodes[id]
	return n, ok && n != nil
}

// Root returns the root node when it exists.
func (t *Tree) Root() (*Node, bool) {
	if t == nil {
		return nil, false
	}
	return t.Node(t.RootNodeID)
}

// Children resolves the child ids of a node, skipping dangling references.
func (t *Tree) Children(id string) []*Node {
	n, ok := t.Node(id)
	if !ok {
		return nil
	}
	out := make([]*Node, 0, len(n.Children))
	for _, cid := range n.Children {
		if c, ok := t.Node(cid); ok {
			out = append(out, c)
		}
	}
	return out
}

// Variable looks up a declared variable by name.
func (t *Tree) Variable(name string) (Variable, bool) {
	for _, v := range t.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// NodeIDs returns all node ids in sorted order.
func (t *Tree) NodeIDs() []string {
	ids := make([]string, 0, len(t.Nodes))
	for id := range t.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StrictValidation reports whether the tree metadata requests strict checks.
func (t *Tree) StrictValidation() bool {
	if t.Metadata == nil {
		return false
	}
	switch v := t.Metadata["strict_validation"].(type) {
	case bool:
		return v
	case string:
		b, _ := ParseBoolLiteral(v)
		return b
	}
	return false
}
