package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// Built-in node types understood by the engine.
const (
	TypeWebhook     = "webhook"
	TypeHTTPRequest = "httpRequest"
	TypeSlack       = "slack"
	TypeEmail       = "email"
	TypeDelay       = "delay"
	TypeCondition   = "condition"
	TypeCode        = "code"
	TypeCron        = "cron"
	TypeNotion      = "notion"
	TypeAirtable    = "airtable"
)

// BuiltinTypes returns the built-in node types, sorted.
func BuiltinTypes() []string {
	types := []string{
		TypeWebhook, TypeHTTPRequest, TypeSlack, TypeEmail, TypeDelay,
		TypeCondition, TypeCode, TypeCron, TypeNotion, TypeAirtable,
	}
	sort.Strings(types)
	return types
}

// Node is one typed step of a workflow. Data holds the type-specific
// configuration. Position is carried for editors and ignored by the engine.
type Node struct {
	ID       string         `json:"id" yaml:"id"`
	Type     string         `json:"type" yaml:"type"`
	Position any            `json:"position,omitempty" yaml:"position,omitempty"`
	Data     map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// String returns the configuration value for key when it is a non-empty
// string.
func (n *Node) String(key string) (string, bool) {
	if n.Data == nil {
		return "", false
	}
	s, ok := n.Data[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Value returns the raw configuration value for key.
func (n *Node) Value(key string) (any, bool) {
	if n.Data == nil {
		return nil, false
	}
	v, ok := n.Data[key]
	return v, ok && v != nil
}

// Edge is a directed connection between two nodes. A non-empty Condition
// gates whether traversal proceeds to Target.
type Edge struct {
	ID        string `json:"id" yaml:"id"`
	Source    string `json:"source" yaml:"source"`
	Target    string `json:"target" yaml:"target"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Workflow is a named graph of nodes and edges.
type Workflow struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []*Node `json:"nodes" yaml:"nodes"`
	Edges       []*Edge `json:"edges" yaml:"edges"`
}

// Validate checks the structural integrity of the workflow: node ids are
// present and unique, every node has a type, and every edge references
// existing nodes. All problems found are reported in one *ValidationError.
func (w *Workflow) Validate() error {
	return w.validate(nil)
}

// ValidateTypes runs Validate and additionally rejects node types for which
// known returns false.
func (w *Workflow) ValidateTypes(known func(nodeType string) bool) error {
	return w.validate(known)
}

func (w *Workflow) validate(known func(string) bool) error {
	var problems []string
	seen := make(map[string]struct{}, len(w.Nodes))
	for i, node := range w.Nodes {
		if node == nil {
			problems = append(problems, fmt.Sprintf("node[%d] is empty", i))
			continue
		}
		if node.ID == "" {
			problems = append(problems, fmt.Sprintf("node[%d] has no id", i))
			continue
		}
		if _, dup := seen[node.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate node id %q", node.ID))
		}
		seen[node.ID] = struct{}{}
		if strings.TrimSpace(node.Type) == "" {
			problems = append(problems, fmt.Sprintf("node %q has no type", node.ID))
		} else if known != nil && !known(node.Type) {
			problems = append(problems, fmt.Sprintf("node %q has unknown type %q", node.ID, node.Type))
		}
	}
	for i, edge := range w.Edges {
		if edge == nil {
			problems = append(problems, fmt.Sprintf("edge[%d] is empty", i))
			continue
		}
		name := edge.ID
		if name == "" {
			name = fmt.Sprintf("[%d]", i)
		}
		if _, ok := seen[edge.Source]; !ok {
			problems = append(problems, fmt.Sprintf("edge %s references unknown source node %q", name, edge.Source))
		}
		if _, ok := seen[edge.Target]; !ok {
			problems = append(problems, fmt.Sprintf("edge %s references unknown target node %q", name, edge.Target))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{WorkflowID: w.ID, Problems: problems}
	}
	return nil
}

// Triggers returns the nodes with no incoming edge, in node order.
func (w *Workflow) Triggers() []*Node {
	targets := make(map[string]struct{}, len(w.Edges))
	for _, edge := range w.Edges {
		if edge != nil {
			targets[edge.Target] = struct{}{}
		}
	}
	var triggers []*Node
	for _, node := range w.Nodes {
		if node == nil {
			continue
		}
		if _, ok := targets[node.ID]; !ok {
			triggers = append(triggers, node)
		}
	}
	return triggers
}

// Clone returns a deep copy of the workflow. Node data is copied recursively
// so the clone can be handed to a run without aliasing the caller's maps.
func (w *Workflow) Clone() *Workflow {
	clone := &Workflow{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
	}
	if w.Nodes != nil {
		clone.Nodes = make([]*Node, 0, len(w.Nodes))
		for _, node := range w.Nodes {
			if node == nil {
				clone.Nodes = append(clone.Nodes, nil)
				continue
			}
			copied := *node
			copied.Position = CopyValue(node.Position)
			if node.Data != nil {
				copied.Data = CopyValue(node.Data).(map[string]any)
			}
			clone.Nodes = append(clone.Nodes, &copied)
		}
	}
	if w.Edges != nil {
		clone.Edges = make([]*Edge, 0, len(w.Edges))
		for _, edge := range w.Edges {
			if edge == nil {
				clone.Edges = append(clone.Edges, nil)
				continue
			}
			copied := *edge
			clone.Edges = append(clone.Edges, &copied)
		}
	}
	return clone
}

// CopyValue deep-copies maps and slices built from JSON-like values. Other
// values are returned as is.
func CopyValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = CopyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = CopyValue(item)
		}
		return out
	default:
		return v
	}
}
