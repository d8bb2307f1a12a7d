// Package document turns tree and test-case documents (JSON or YAML) into
// normalized model values. Two tree shapes are accepted: the DMN shape with a
// node map (or list) carrying children, and the legacy shape with a node list
// plus an edge list.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agenthands/caire/internal/core/model"
)

// ErrInvalidDocument is returned for documents that cannot be normalized.
var ErrInvalidDocument = errors.New("invalid document")

const (
	DefaultVersion = "1.0.0"
	DefaultDomain  = "general"
)

// Warning describes a value that was defaulted or dropped during decoding.
type Warning struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return w.Path + ": " + w.Message
}

func invalid(path, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidDocument, path, fmt.Sprintf(format, args...))
}

// Decode parses a JSON tree document.
func Decode(data []byte) (*model.Tree, []Warning, error) {
	raw, err := parseJSON(data)
	if err != nil {
		return nil, nil, err
	}
	return DecodeMap(raw)
}

// DecodeYAML parses a YAML tree document.
func DecodeYAML(data []byte) (*model.Tree, []Warning, error) {
	raw, err := parseYAML(data)
	if err != nil {
		return nil, nil, err
	}
	return DecodeMap(raw)
}

// DecodeFile reads a tree document, choosing YAML for .yaml/.yml files and
// JSON otherwise.
func DecodeFile(path string) (*model.Tree, []Warning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read tree document: %w", err)
	}
	if isYAML(path) {
		return DecodeYAML(data)
	}
	return Decode(data)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func parseJSON(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if raw == nil {
		return nil, invalid("$", "document must be an object")
	}
	return raw, nil
}

func parseYAML(data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if raw == nil {
		return nil, invalid("$", "document must be a mapping")
	}
	return raw, nil
}

// DecodeMap normalizes an already parsed document.
func DecodeMap(raw map[string]any) (*model.Tree, []Warning, error) {
	d := &decoder{}
	tree, err := d.tree(raw)
	if err != nil {
		return nil, nil, err
	}
	return tree, d.warnings, nil
}

type decoder struct {
	warnings []Warning
}

func (d *decoder) warn(path, format string, args ...any) {
	d.warnings = append(d.warnings, Warning{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (d *decoder) tree(raw map[string]any) (*model.Tree, error) {
	id, err := requireString(raw, "id", "$")
	if err != nil {
		return nil, err
	}
	t := &model.Tree{
		ID:       id,
		Name:     optString(raw, "name"),
		Version:  optString(raw, "version"),
		Domain:   optString(raw, "domain"),
		Nodes:    map[string]*model.Node{},
		Metadata: optMap(raw, "metadata"),
	}
	if t.Name == "" {
		t.Name = id
		d.warn("$.name", "missing, defaulted to tree id")
	}
	if t.Version == "" {
		t.Version = DefaultVersion
		d.warn("$.version", "missing, defaulted to %s", DefaultVersion)
	}
	if t.Domain == "" {
		t.Domain = DefaultDomain
		d.warn("$.domain", "missing, defaulted to %s", DefaultDomain)
	}

	t.RootNodeID = optString(raw, "root_node_id")
	if t.RootNodeID == "" {
		t.RootNodeID = optString(raw, "root_id")
	}

	if err := d.nodes(t, raw["nodes"]); err != nil {
		return nil, err
	}
	if edges, ok := raw["edges"]; ok && edges != nil {
		if err := d.edges(t, edges); err != nil {
			return nil, err
		}
	}

	vars, err := d.variables(raw["variables"])
	if err != nil {
		return nil, err
	}
	t.Variables = vars
	return t, nil
}

func (d *decoder) nodes(t *model.Tree, raw any) error {
	switch ns := raw.(type) {
	case nil:
		return nil
	case map[string]any:
		keys := make([]string, 0, len(ns))
		for k := range ns {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			m, ok := ns[k].(map[string]any)
			if !ok {
				return invalid("$.nodes."+k, "node must be an object")
			}
			if _, has := m["id"]; !has {
				m = withID(m, k)
			}
			n, err := d.node(m, "$.nodes."+k)
			if err != nil {
				return err
			}
			if n.ID != k {
				return invalid("$.nodes."+k+".id", "id %q does not match its key", n.ID)
			}
			t.Nodes[n.ID] = n
		}
	case []any:
		for i, item := range ns {
			path := fmt.Sprintf("$.nodes[%d]", i)
			m, ok := item.(map[string]any)
			if !ok {
				return invalid(path, "node must be an object")
			}
			n, err := d.node(m, path)
			if err != nil {
				return err
			}
			if _, dup := t.Nodes[n.ID]; dup {
				return invalid(path+".id", "duplicate node id %q", n.ID)
			}
			t.Nodes[n.ID] = n
		}
	default:
		return invalid("$.nodes", "must be an object or a list")
	}
	return nil
}

func withID(m map[string]any, id string) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out["id"] = id
	return out
}

func (d *decoder) node(m map[string]any, path string) (*model.Node, error) {
	id, err := requireString(m, "id", path)
	if err != nil {
		return nil, err
	}
	typeName, err := requireString(m, "type", path)
	if err != nil {
		return nil, err
	}
	nt, err := model.ParseNodeType(typeName)
	if err != nil {
		return nil, invalid(path+".type", "%v", err)
	}
	label, err := requireString(m, "label", path)
	if err != nil {
		return nil, err
	}
	n := &model.Node{
		ID:              id,
		Type:            nt,
		Label:           label,
		Description:     optString(m, "description"),
		ScoreExpression: optString(m, "score_expression"),
		Children:        []string{},
		Metadata:        optMap(m, "metadata"),
	}

	children, err := stringList(m["children"], path+".children")
	if err != nil {
		return nil, err
	}
	if children != nil {
		n.Children = children
	}

	if rc, ok := m["condition"].(map[string]any); ok {
		if nt == model.NodeCondition || nt == model.NodeRoot {
			c, err := d.condition(rc, path+".condition")
			if err != nil {
				return nil, err
			}
			n.Condition = c
		} else {
			d.warn(path+".condition", "dropped, %s nodes carry no condition", nt)
		}
	}
	if ra, ok := m["action"].(map[string]any); ok {
		if nt == model.NodeAction {
			a, err := action(ra, path+".action")
			if err != nil {
				return nil, err
			}
			n.Action = a
		} else {
			d.warn(path+".action", "dropped, %s nodes carry no action", nt)
		}
	}
	return n, nil
}

func (d *decoder) condition(m map[string]any, path string) (*model.Condition, error) {
	variable, err := requireString(m, "variable", path)
	if err != nil {
		return nil, err
	}
	op, err := requireString(m, "operator", path)
	if err != nil {
		return nil, err
	}
	threshold, err := model.ValueOf(m["threshold"])
	if err != nil {
		return nil, invalid(path+".threshold", "%v", err)
	}
	return &model.Condition{
		Variable:  variable,
		Operator:  model.NormalizeOperator(op),
		Threshold: threshold,
		Unit:      optString(m, "unit"),
	}, nil
}

func action(m map[string]any, path string) (*model.Action, error) {
	rec, err := requireString(m, "recommendation", path)
	if err != nil {
		return nil, err
	}
	return &model.Action{
		Recommendation: rec,
		UrgencyLevel:   optString(m, "urgency_level"),
		Code:           optString(m, "code"),
	}, nil
}

// edges appends legacy edges to their source's children, in edge order. Ids
// are read from source_id/target_id, with source/target accepted as aliases.
// An edge from an unknown node is skipped with a warning.
func (d *decoder) edges(t *model.Tree, raw any) error {
	list, ok := raw.([]any)
	if !ok {
		return invalid("$.edges", "must be a list")
	}
	for i, item := range list {
		path := fmt.Sprintf("$.edges[%d]", i)
		m, ok := item.(map[string]any)
		if !ok {
			return invalid(path, "edge must be an object")
		}
		src, err := edgeEnd(m, path, "source_id", "source")
		if err != nil {
			return err
		}
		dst, err := edgeEnd(m, path, "target_id", "target")
		if err != nil {
			return err
		}
		n, ok := t.Nodes[src]
		if !ok {
			d.warn(path, "edge from unknown node %q skipped", src)
			continue
		}
		n.Children = append(n.Children, dst)
	}
	return nil
}

func edgeEnd(m map[string]any, path, key, alias string) (string, error) {
	if _, ok := m[key]; !ok {
		if _, ok := m[alias]; ok {
			key = alias
		}
	}
	return requireString(m, key, path)
}

func (d *decoder) variables(raw any) ([]model.Variable, error) {
	out := []model.Variable{}
	if raw == nil {
		return out, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, invalid("$.variables", "must be a list")
	}
	for i, item := range list {
		path := fmt.Sprintf("$.variables[%d]", i)
		m, ok := item.(map[string]any)
		if !ok {
			return nil, invalid(path, "variable must be an object")
		}
		name, err := requireString(m, "name", path)
		if err != nil {
			return nil, err
		}
		vt, known := model.ParseVariableType(optString(m, "type"))
		if !known {
			d.warn(path+".type", "unknown type %q, treated as categorical", optString(m, "type"))
			vt = model.VarCategorical
		}
		mapping, err := terminology(m["terminology_mapping"], path+".terminology_mapping")
		if err != nil {
			return nil, err
		}
		out = append(out, model.Variable{
			Name:               name,
			Type:               vt,
			Units:              optString(m, "units"),
			TerminologyMapping: mapping,
			Source:             optString(m, "source"),
			Description:        optString(m, "description"),
		})
	}
	return out, nil
}

func terminology(raw any, path string) (map[string][]string, error) {
	if raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, invalid(path, "must be an object")
	}
	out := make(map[string][]string, len(m))
	for k, v := range m {
		codes, err := stringList(v, path+"."+k)
		if err != nil {
			return nil, err
		}
		out[k] = codes
	}
	return out, nil
}

func requireString(m map[string]any, key, path string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", invalid(path+"."+key, "required field is missing")
	}
	s, ok := scalarString(v)
	if !ok || strings.TrimSpace(s) == "" {
		return "", invalid(path+"."+key, "must be a non-empty string")
	}
	return s, nil
}

func optString(m map[string]any, key string) string {
	s, _ := scalarString(m[key])
	return s
}

// scalarString accepts strings and numbers, since YAML readily turns ids and
// versions such as 1.0 into numbers.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case int, int64, float64:
		val, err := model.ValueOf(t)
		if err != nil {
			return "", false
		}
		return val.Text(), true
	}
	return "", false
}

func optMap(m map[string]any, key string) map[string]any {
	out, _ := m[key].(map[string]any)
	return out
}

func stringList(v any, path string) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, invalid(path, "must be a list")
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := scalarString(item)
		if !ok {
			return nil, invalid(fmt.Sprintf("%s[%d]", path, i), "must be a string")
		}
		out = append(out, s)
	}
	return out, nil
}
