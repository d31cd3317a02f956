package engine

import (
	"errors"
	"fmt"

	"github.com/deepnoodle-ai/runnel/workflow"
)

// ErrTraversalLimit is returned when a propagation follows more edges than
// the configured cap, which in practice means the graph contains a cycle.
var ErrTraversalLimit = errors.New("traversal limit exceeded")

// HandlerError is a failure inside a node handler. It aborts the branch
// beneath the node. Its message is the handler's own message.
type HandlerError struct {
	NodeID   string
	NodeType string
	Err      error
}

func (e *HandlerError) Error() string {
	return e.Err.Error()
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// UnknownNodeTypeError is returned for a node whose type has no handler.
type UnknownNodeTypeError struct {
	NodeID string
	Type   string
}

func (e *UnknownNodeTypeError) Error() string {
	return fmt.Sprintf("Unknown node type: %s", e.Type)
}

// branchError formats a failure the way it is reported in RunResult.Errors.
func branchError(nodeID string, err error) string {
	return fmt.Sprintf("Node %s: %s", nodeID, err.Error())
}

func errNilWorkflow() error {
	return &workflow.ValidationError{Problems: []string{"workflow is nil"}}
}
