// Package events records what happens during workflow runs: one append-only
// event log per execution plus an execution summary that can be listed and
// queried later.
package events

import (
	"context"
	"fmt"
	"time"

	"go.jetify.com/typeid"
)

// EventType represents the type of execution event
type EventType string

const (
	EventRunStarted      EventType = "run_started"
	EventRunCompleted    EventType = "run_completed"
	EventRunFailed       EventType = "run_failed"
	EventNodeStarted     EventType = "node_started"
	EventNodeSucceeded   EventType = "node_succeeded"
	EventNodeFailed      EventType = "node_failed"
	EventEdgeSkipped     EventType = "edge_skipped"
	EventConditionError  EventType = "condition_error"
	EventCronRegistered  EventType = "cron_registered"
	EventCronTick        EventType = "cron_tick"
	EventTraversalLimit  EventType = "traversal_limit"
	EventRunCancelled    EventType = "run_cancelled"
	EventHandlerRecovery EventType = "handler_recovered"
)

// Execution statuses stored on summaries.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Event is a single entry in an execution's history.
type Event struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	Sequence    int64          `json:"sequence"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        EventType      `json:"type"`
	NodeID      string         `json:"node_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// Validate validates the event
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if e.ExecutionID == "" {
		return fmt.Errorf("execution id is required")
	}
	if e.Sequence <= 0 {
		return fmt.Errorf("sequence must be positive")
	}
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// Execution summarizes one run.
type Execution struct {
	ID           string    `json:"id"`
	WorkflowID   string    `json:"workflow_id"`
	WorkflowName string    `json:"workflow_name"`
	Trigger      string    `json:"trigger"`
	Status       string    `json:"status"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time,omitempty"`
	Errors       []string  `json:"errors,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Filter specifies criteria for listing executions. Match, when set, is
// applied to the workflow name in addition to the other fields.
type Filter struct {
	Status     string
	WorkflowID string
	Match      func(workflowName string) bool
	Limit      int
	Offset     int
}

// Validate checks the filter's pagination values.
func (f Filter) Validate() error {
	if f.Limit < 0 {
		return fmt.Errorf("limit must be non-negative")
	}
	if f.Offset < 0 {
		return fmt.Errorf("offset must be non-negative")
	}
	return nil
}

func (f Filter) matches(e *Execution) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.WorkflowID != "" && e.WorkflowID != f.WorkflowID {
		return false
	}
	if f.Match != nil && !f.Match(e.WorkflowName) {
		return false
	}
	return true
}

// Store persists execution events and summaries.
type Store interface {
	AppendEvents(ctx context.Context, events []*Event) error
	GetEvents(ctx context.Context, executionID string) ([]*Event, error)
	SaveExecution(ctx context.Context, execution *Execution) error
	GetExecution(ctx context.Context, executionID string) (*Execution, error)
	ListExecutions(ctx context.Context, filter Filter) ([]*Execution, error)
	DeleteExecution(ctx context.Context, executionID string) error
	Close() error
}

// ErrNotFound is returned when an execution does not exist in a store.
type ErrNotFound struct {
	ExecutionID string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("execution %s not found", e.ExecutionID)
}

// NewExecutionID returns a new, sortable execution id.
func NewExecutionID() string {
	return newID("exec")
}

// NewEventID returns a new event id.
func NewEventID() string {
	return newID("event")
}

func newID(prefix string) string {
	value, err := typeid.WithPrefix(prefix)
	if err != nil {
		// prefixes are constants, so this only fails on a broken build
		panic(fmt.Sprintf("error creating new id: %v", err))
	}
	return value.String()
}

// paginate applies offset and limit to a sorted slice.
func paginate(executions []*Execution, filter Filter) []*Execution {
	start := filter.Offset
	if start >= len(executions) {
		return []*Execution{}
	}
	end := len(executions)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return executions[start:end]
}
