// Package engine runs workflows. A run discovers the trigger nodes of a
// validated graph and visits each one in order, dispatching every node to the
// handler registered for its type and following outgoing edges depth-first
// while their conditions hold. A failing node aborts only the branch beneath
// it; results recorded so far are kept.
//
// Cron nodes register recurring jobs with the engine's Scheduler, which
// re-enters the graph at that node on every tick until the engine is closed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deepnoodle-ai/runnel/eval"
	"github.com/deepnoodle-ai/runnel/events"
	"github.com/deepnoodle-ai/runnel/log"
	"github.com/deepnoodle-ai/runnel/script"
	"github.com/deepnoodle-ai/runnel/workflow"
)

// DefaultMaxEdgeVisits caps the edges followed by a single propagation.
const DefaultMaxEdgeVisits = 10000

// Options configures an Engine. Zero values select defaults.
type Options struct {
	HTTPClient    *http.Client
	HTTPTimeout   time.Duration
	ScriptTimeout time.Duration
	MaxEdgeVisits int
	RunTimeout    time.Duration
	Logger        log.Logger
	EventStore    events.Store
}

// Engine executes workflows. It is safe for concurrent use; each run owns its
// own ExecutionContext.
type Engine struct {
	registry      *Registry
	scheduler     *Scheduler
	sandbox       *script.Sandbox
	httpClient    *http.Client
	httpTimeout   time.Duration
	maxEdgeVisits int
	runTimeout    time.Duration
	logger        log.Logger
	store         events.Store
}

// New returns an Engine with the built-in node types registered.
func New(opts Options) *Engine {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = DefaultHTTPTimeout
	}
	if opts.MaxEdgeVisits <= 0 {
		opts.MaxEdgeVisits = DefaultMaxEdgeVisits
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNullLogger()
	}
	if opts.EventStore == nil {
		opts.EventStore = events.NewNullStore()
	}
	e := &Engine{
		registry:      NewRegistry(),
		scheduler:     NewScheduler(opts.Logger),
		sandbox:       script.New(script.Options{Timeout: opts.ScriptTimeout}),
		httpClient:    opts.HTTPClient,
		httpTimeout:   opts.HTTPTimeout,
		maxEdgeVisits: opts.MaxEdgeVisits,
		runTimeout:    opts.RunTimeout,
		logger:        opts.Logger,
		store:         opts.EventStore,
	}
	e.registerBuiltins()
	return e
}

// Registry returns the engine's handler registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Register adds or replaces the handler for a node type.
func (e *Engine) Register(nodeType string, handler Handler) {
	e.registry.Register(nodeType, handler)
}

// Scheduler returns the scheduler that owns this engine's cron jobs.
func (e *Engine) Scheduler() *Scheduler {
	return e.scheduler
}

// Validate checks the workflow's structure and that every node type has a
// registered handler.
func (e *Engine) Validate(w *workflow.Workflow) error {
	if w == nil {
		return errNilWorkflow()
	}
	return w.ValidateTypes(e.registry.Has)
}

// Close stops every scheduled job. It does not close the event store.
func (e *Engine) Close() error {
	e.scheduler.StopAll()
	return nil
}

// Run executes the workflow with the given input payload. The returned
// RunResult is always non-nil. The error is non-nil only for fatal failures
// that abort the whole run: a *workflow.ValidationError, workflow.ErrNoTrigger
// or ErrTraversalLimit. Branch failures are reported in RunResult.Errors.
func (e *Engine) Run(ctx context.Context, w *workflow.Workflow, payload map[string]any) (*RunResult, error) {
	executionID := events.NewExecutionID()
	result := &RunResult{
		ExecutionID: executionID,
		Results:     map[string]any{},
		Errors:      []string{},
		StartedAt:   time.Now(),
	}
	if w == nil {
		err := errNilWorkflow()
		e.logger.Error("workflow rejected", "execution_id", executionID, "error", err)
		result.Error = err.Error()
		result.Errors = append(result.Errors, err.Error())
		result.FinishedAt = time.Now()
		return result, err
	}
	logger := e.logger.With("execution_id", executionID, "workflow", w.ID)

	graph, err := workflow.NewGraph(w.Clone())
	if err != nil {
		logger.Error("workflow rejected", "error", err)
		result.Error = err.Error()
		result.Errors = append(result.Errors, err.Error())
		result.FinishedAt = time.Now()
		return result, err
	}

	if e.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.runTimeout)
		defer cancel()
	}
	ctx = log.WithLogger(ctx, logger)

	triggers := graph.Triggers()
	recorder := events.NewRecorder(e.store, executionID, logger)
	recorder.Begin(ctx, &events.Execution{
		WorkflowID:   w.ID,
		WorkflowName: w.Name,
		Trigger:      triggers[0].ID,
		StartTime:    result.StartedAt,
	})
	recorder.Record(ctx, events.EventRunStarted, "", map[string]any{"triggers": len(triggers)})
	logger.Info("workflow started", "name", w.Name, "triggers", len(triggers))

	ec := newExecutionContext(executionID, graph, payload, logger, recorder)
	var fatal error
	for _, trigger := range triggers {
		if err := e.propagate(ctx, ec, trigger, true); err != nil {
			if errors.Is(err, ErrTraversalLimit) {
				fatal = err
				break
			}
		}
		if ctx.Err() != nil {
			recorder.Record(ctx, events.EventRunCancelled, "", map[string]any{"error": ctx.Err().Error()})
			break
		}
	}

	result.Results = ec.Results
	result.Errors = ec.Errors
	result.FinishedAt = time.Now()
	if fatal != nil {
		result.Error = fatal.Error()
	}
	result.Success = len(result.Errors) == 0 && fatal == nil

	status := events.StatusSucceeded
	eventType := events.EventRunCompleted
	if !result.Success {
		status = events.StatusFailed
		eventType = events.EventRunFailed
	}
	recorder.Record(ctx, eventType, "", map[string]any{"errors": len(result.Errors)})
	recorder.Finish(ctx, status, result.Errors, fatal)
	logger.Info("workflow finished",
		"success", result.Success,
		"errors", len(result.Errors),
		"duration", result.Duration())
	return result, fatal
}

// tick returns the job run by the scheduler for a cron node. Every tick gets
// a fresh ExecutionContext seeded with the payload captured at registration
// and follows the node's outgoing edges.
func (e *Engine) tick(graph *workflow.Graph, nodeID string, payload map[string]any) func(ctx context.Context) {
	captured, _ := workflow.CopyValue(payload).(map[string]any)
	return func(ctx context.Context) {
		node, ok := graph.Get(nodeID)
		if !ok {
			return
		}
		w := graph.Workflow()
		executionID := events.NewExecutionID()
		logger := e.logger.With("execution_id", executionID, "workflow", w.ID, "cron", nodeID)
		ctx = log.WithLogger(ctx, logger)

		recorder := events.NewRecorder(e.store, executionID, logger)
		recorder.Begin(ctx, &events.Execution{
			WorkflowID:   w.ID,
			WorkflowName: w.Name,
			Trigger:      nodeID,
		})
		recorder.Record(ctx, events.EventCronTick, nodeID, nil)

		ec := newExecutionContext(executionID, graph, captured, logger, recorder)
		err := e.propagate(ctx, ec, node, false)

		status := events.StatusSucceeded
		if len(ec.Errors) > 0 || errors.Is(err, ErrTraversalLimit) {
			status = events.StatusFailed
		}
		var fatal error
		if errors.Is(err, ErrTraversalLimit) {
			fatal = err
		}
		recorder.Finish(ctx, status, ec.Errors, fatal)
		if status == events.StatusFailed {
			logger.Warn("cron tick failed", "errors", ec.Errors)
		} else {
			logger.Info("cron tick finished", "results", len(ec.Results))
		}
	}
}

// propagate visits start (when execute is set) and then follows outgoing
// edges depth-first with an explicit stack. Each edge is evaluated just
// before its target is visited, so conditions observe results produced by
// earlier siblings. A node failure is recorded and aborts the propagation.
func (e *Engine) propagate(ctx context.Context, ec *ExecutionContext, start *workflow.Node, execute bool) error {
	if execute {
		if err := e.visit(ctx, ec, start); err != nil {
			return err
		}
	}

	type frame struct {
		edges []*workflow.Edge
		next  int
	}
	stack := []*frame{{edges: ec.graph.Outgoing(start.ID)}}
	visits := 0

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next >= len(top.edges) {
			stack = stack[:len(stack)-1]
			continue
		}
		edge := top.edges[top.next]
		top.next++

		visits++
		if visits > e.maxEdgeVisits {
			err := fmt.Errorf("%w: followed more than %d edges from node %s",
				ErrTraversalLimit, e.maxEdgeVisits, start.ID)
			ec.Errors = append(ec.Errors, err.Error())
			ec.Logger.Error("traversal aborted", "error", err)
			ec.record(ctx, events.EventTraversalLimit, start.ID, map[string]any{"edges": visits - 1})
			return err
		}

		if edge.Condition != "" && !e.edgeAllowed(ctx, ec, edge) {
			continue
		}
		target, ok := ec.graph.Get(edge.Target)
		if !ok {
			continue
		}
		if err := e.visit(ctx, ec, target); err != nil {
			return err
		}
		stack = append(stack, &frame{edges: ec.graph.Outgoing(target.ID)})
	}
	return nil
}

func (e *Engine) edgeAllowed(ctx context.Context, ec *ExecutionContext, edge *workflow.Edge) bool {
	ok, err := eval.EvaluateCondition(edge.Condition, ec.Scope())
	if err != nil {
		e.conditionFailed(ctx, ec, edge.Source, err)
	}
	if !ok {
		ec.Logger.Debug("edge skipped", "edge", edge.ID, "target", edge.Target, "condition", edge.Condition)
		ec.record(ctx, events.EventEdgeSkipped, edge.Target, map[string]any{
			"edge":      edge.ID,
			"condition": edge.Condition,
		})
	}
	return ok
}

// visit runs one node and stores its result. On failure the error is
// appended to the run's errors and returned.
func (e *Engine) visit(ctx context.Context, ec *ExecutionContext, node *workflow.Node) error {
	ec.record(ctx, events.EventNodeStarted, node.ID, map[string]any{"type": node.Type})
	ec.Logger.Debug("node started", "node", node.ID, "type", node.Type)

	value, err := e.invoke(ctx, ec, node)
	if err != nil {
		ec.Errors = append(ec.Errors, branchError(node.ID, err))
		ec.Logger.Error("node failed", "node", node.ID, "type", node.Type, "error", err)
		ec.record(ctx, events.EventNodeFailed, node.ID, map[string]any{"error": err.Error()})
		return err
	}
	ec.Results[node.ID] = value
	ec.record(ctx, events.EventNodeSucceeded, node.ID, nil)
	ec.Logger.Debug("node succeeded", "node", node.ID, "type", node.Type)
	return nil
}

// invoke calls the node's handler, converting panics into handler errors.
func (e *Engine) invoke(ctx context.Context, ec *ExecutionContext, node *workflow.Node) (value any, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handler, ok := e.registry.Get(node.Type)
	if !ok {
		return nil, &UnknownNodeTypeError{NodeID: node.ID, Type: node.Type}
	}
	defer func() {
		if r := recover(); r != nil {
			ec.record(ctx, events.EventHandlerRecovery, node.ID, map[string]any{"panic": fmt.Sprint(r)})
			err = &HandlerError{
				NodeID:   node.ID,
				NodeType: node.Type,
				Err:      fmt.Errorf("handler panicked: %v", r),
			}
		}
	}()
	value, err = handler(ctx, node, ec)
	if err != nil {
		return nil, &HandlerError{NodeID: node.ID, NodeType: node.Type, Err: err}
	}
	return value, nil
}
