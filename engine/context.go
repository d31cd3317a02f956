package engine

import (
	"context"
	"time"

	"github.com/deepnoodle-ai/runnel/eval"
	"github.com/deepnoodle-ai/runnel/events"
	"github.com/deepnoodle-ai/runnel/log"
	"github.com/deepnoodle-ai/runnel/workflow"
)

// ExecutionContext is the mutable state of one run. It is created when the
// run starts, mutated in place as nodes complete, and discarded when the run
// returns. Handlers read from it but should not retain it.
type ExecutionContext struct {
	ExecutionID string
	Workflow    *workflow.Workflow
	Data        map[string]any
	Results     map[string]any
	Errors      []string
	Logger      log.Logger

	graph    *workflow.Graph
	recorder *events.Recorder
}

func newExecutionContext(executionID string, graph *workflow.Graph, payload map[string]any, logger log.Logger, recorder *events.Recorder) *ExecutionContext {
	data, _ := workflow.CopyValue(payload).(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	return &ExecutionContext{
		ExecutionID: executionID,
		Workflow:    graph.Workflow(),
		Data:        data,
		Results:     map[string]any{},
		Errors:      []string{},
		Logger:      logger,
		graph:       graph,
		recorder:    recorder,
	}
}

// Scope returns the object that template tokens and condition paths are
// resolved against.
func (c *ExecutionContext) Scope() map[string]any {
	wf := map[string]any{}
	if c.Workflow != nil {
		wf["id"] = c.Workflow.ID
		wf["name"] = c.Workflow.Name
	}
	return map[string]any{
		"executionId": c.ExecutionID,
		"workflow":    wf,
		"data":        c.Data,
		"results":     c.Results,
		"errors":      c.Errors,
	}
}

// Resolve substitutes {{path}} tokens in text using the current scope.
func (c *ExecutionContext) Resolve(text string) string {
	return eval.Resolve(text, c.Scope())
}

// RunResult is the outcome of a run. Results and Errors reflect everything
// accumulated, including on partial failure.
type RunResult struct {
	Success     bool           `json:"success"`
	ExecutionID string         `json:"executionId"`
	Error       string         `json:"error,omitempty"`
	Results     map[string]any `json:"results"`
	Errors      []string       `json:"errors"`
	StartedAt   time.Time      `json:"startedAt"`
	FinishedAt  time.Time      `json:"finishedAt"`
}

// Duration returns how long the run took.
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (c *ExecutionContext) record(ctx context.Context, eventType events.EventType, nodeID string, data map[string]any) {
	if c.recorder != nil {
		c.recorder.Record(ctx, eventType, nodeID, data)
	}
}
