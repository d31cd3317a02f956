package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/deepnoodle-ai/runnel/workflow"
)

// Handler implements one node type. The returned value is stored as the
// node's result; a non-nil error fails the node and aborts its branch.
type Handler func(ctx context.Context, node *workflow.Node, ec *ExecutionContext) (any, error)

// Registry maps node types to handlers.
type Registry struct {
	mutex    sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register adds or replaces the handler for nodeType.
func (r *Registry) Register(nodeType string, handler Handler) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.handlers[nodeType] = handler
}

// Get returns the handler for nodeType.
func (r *Registry) Get(nodeType string) (Handler, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	handler, ok := r.handlers[nodeType]
	return handler, ok
}

// Has reports whether nodeType has a handler.
func (r *Registry) Has(nodeType string) bool {
	_, ok := r.Get(nodeType)
	return ok
}

// Types returns the registered node types, sorted.
func (r *Registry) Types() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for nodeType := range r.handlers {
		types = append(types, nodeType)
	}
	sort.Strings(types)
	return types
}
