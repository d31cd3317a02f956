package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoTrigger is returned when a workflow has no node without an incoming
// edge, so there is nowhere for a run to start.
var ErrNoTrigger = errors.New("no trigger nodes found in workflow")

// ValidationError describes every structural defect found in a workflow.
type ValidationError struct {
	WorkflowID string
	Problems   []string
}

func (e *ValidationError) Error() string {
	prefix := "invalid workflow"
	if e.WorkflowID != "" {
		prefix = fmt.Sprintf("invalid workflow %q", e.WorkflowID)
	}
	return prefix + ": " + strings.Join(e.Problems, "; ")
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
