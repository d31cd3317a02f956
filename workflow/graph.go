package workflow

import (
	"sort"
)

// Graph is a validated, indexed view over a Workflow used during traversal.
type Graph struct {
	workflow *Workflow
	nodes    map[string]*Node
	outgoing map[string][]*Edge
	triggers []*Node
}

// NewGraph validates the workflow and indexes its nodes and edges. It fails
// with a *ValidationError for structural defects and ErrNoTrigger when no
// node is free of incoming edges.
func NewGraph(w *Workflow) (*Graph, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	g := &Graph{
		workflow: w,
		nodes:    make(map[string]*Node, len(w.Nodes)),
		outgoing: make(map[string][]*Edge, len(w.Nodes)),
	}
	for _, node := range w.Nodes {
		g.nodes[node.ID] = node
	}
	for _, edge := range w.Edges {
		g.outgoing[edge.Source] = append(g.outgoing[edge.Source], edge)
	}
	g.triggers = w.Triggers()
	if len(g.triggers) == 0 {
		return nil, ErrNoTrigger
	}
	return g, nil
}

// Workflow returns the underlying workflow.
func (g *Graph) Workflow() *Workflow {
	return g.workflow
}

// Get returns a node by id
func (g *Graph) Get(id string) (*Node, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// Outgoing returns the edges leaving the node, in definition order.
func (g *Graph) Outgoing(id string) []*Edge {
	return g.outgoing[id]
}

// Triggers returns the entry points of the graph, in node order.
func (g *Graph) Triggers() []*Node {
	return g.triggers
}

// IDs returns the ids of all nodes in the graph, sorted.
func (g *Graph) IDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasCycle reports whether any node can reach itself. Cycles are not
// rejected at load time; the engine bounds them with an edge-visit cap.
func (g *Graph) HasCycle() bool {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.nodes))
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		for _, edge := range g.outgoing[id] {
			switch color[edge.Target] {
			case grey:
				return true
			case white:
				if visit(edge.Target) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	for _, id := range g.IDs() {
		if color[id] == white && visit(id) {
			return true
		}
	}
	return false
}
