package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/deepnoodle-ai/runnel/events"
	"github.com/deepnoodle-ai/runnel/workflow"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func stubClient(status int, body string) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    req,
		}, nil
	})}
}

// counter is a handler that counts invocations and returns the count.
type counter struct {
	calls map[string]int
}

func newCounter() *counter {
	return &counter{calls: map[string]int{}}
}

func (c *counter) handle(ctx context.Context, node *workflow.Node, ec *ExecutionContext) (any, error) {
	c.calls[node.ID]++
	return c.calls[node.ID], nil
}

func node(id, nodeType string, data map[string]any) *workflow.Node {
	return &workflow.Node{ID: id, Type: nodeType, Data: data}
}

func edge(id, source, target string) *workflow.Edge {
	return &workflow.Edge{ID: id, Source: source, Target: target}
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e := New(opts)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestRunWebhookAndHTTPRequest(t *testing.T) {
	e := newTestEngine(t, Options{HTTPClient: stubClient(200, `{"ok":true}`)})
	w := &workflow.Workflow{
		ID: "wf",
		Nodes: []*workflow.Node{
			node("t", workflow.TypeWebhook, nil),
			node("h", workflow.TypeHTTPRequest, map[string]any{"url": "https://example.com"}),
		},
		Edges: []*workflow.Edge{edge("e1", "t", "h")},
	}

	result, err := e.Run(context.Background(), w, map[string]any{})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Empty(t, result.Errors)
	require.Equal(t, "webhook", result.Results["t"].(map[string]any)["type"])

	h := result.Results["h"].(map[string]any)
	require.Equal(t, "httpRequest", h["type"])
	require.Equal(t, 200, h["status"])
	require.Equal(t, map[string]any{"ok": true}, h["data"])
	require.True(t, strings.HasPrefix(result.ExecutionID, "exec_"))
}

func TestRunMissingURL(t *testing.T) {
	e := newTestEngine(t, Options{})
	w := &workflow.Workflow{
		ID: "wf",
		Nodes: []*workflow.Node{
			node("t", workflow.TypeWebhook, nil),
			node("h", workflow.TypeHTTPRequest, nil),
		},
		Edges: []*workflow.Edge{edge("e1", "t", "h")},
	}

	result, err := e.Run(context.Background(), w, map[string]any{})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Results, "t")
	require.NotContains(t, result.Results, "h")
	require.Equal(t, []string{"Node h: HTTP Request node requires a URL"}, result.Errors)
	require.Empty(t, result.Error)
}

func TestRunNoTrigger(t *testing.T) {
	e := newTestEngine(t, Options{})
	calls := newCounter()
	e.Register("probe", calls.handle)

	w := &workflow.Workflow{
		ID: "loop",
		Nodes: []*workflow.Node{
			node("a", "probe", nil),
			node("b", "probe", nil),
		},
		Edges: []*workflow.Edge{edge("e1", "a", "b"), edge("e2", "b", "a")},
	}

	result, err := e.Run(context.Background(), w, nil)
	require.ErrorIs(t, err, workflow.ErrNoTrigger)
	require.False(t, result.Success)
	require.Equal(t, err.Error(), result.Error)
	require.Empty(t, calls.calls)
}

func TestRunDanglingEdge(t *testing.T) {
	e := newTestEngine(t, Options{})
	w := &workflow.Workflow{
		ID:    "wf",
		Nodes: []*workflow.Node{node("t", workflow.TypeWebhook, nil)},
		Edges: []*workflow.Edge{edge("e1", "t", "ghost")},
	}

	result, err := e.Run(context.Background(), w, nil)
	var validationErr *workflow.ValidationError
	require.True(t, errors.As(err, &validationErr))
	require.Contains(t, validationErr.Error(), "ghost")
	require.False(t, result.Success)
	require.Empty(t, result.Results)
}

func TestRunDiamondVisitsJoinTwice(t *testing.T) {
	e := newTestEngine(t, Options{})
	calls := newCounter()
	e.Register("count", calls.handle)

	w := &workflow.Workflow{
		ID: "diamond",
		Nodes: []*workflow.Node{
			node("T", workflow.TypeWebhook, nil),
			node("A", "count", nil),
			node("B", "count", nil),
			node("C", "count", nil),
		},
		Edges: []*workflow.Edge{
			edge("e1", "T", "A"),
			edge("e2", "T", "B"),
			edge("e3", "A", "C"),
			edge("e4", "B", "C"),
		},
	}

	result, err := e.Run(context.Background(), w, nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 2, calls.calls["C"])
	require.Equal(t, 2, result.Results["C"])
}

func TestRunDepthFirstOrder(t *testing.T) {
	e := newTestEngine(t, Options{})
	var order []string
	e.Register("trace", func(ctx context.Context, n *workflow.Node, ec *ExecutionContext) (any, error) {
		order = append(order, n.ID)
		return n.ID, nil
	})

	w := &workflow.Workflow{
		ID: "order",
		Nodes: []*workflow.Node{
			node("t", "trace", nil),
			node("a", "trace", nil),
			node("a1", "trace", nil),
			node("b", "trace", nil),
			node("t2", "trace", nil),
		},
		Edges: []*workflow.Edge{
			edge("e1", "t", "a"),
			edge("e2", "t", "b"),
			edge("e3", "a", "a1"),
		},
	}

	_, err := e.Run(context.Background(), w, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"t", "a", "a1", "b", "t2"}, order)
}

func TestRunEdgeCondition(t *testing.T) {
	build := func() *workflow.Workflow {
		return &workflow.Workflow{
			ID: "gated",
			Nodes: []*workflow.Node{
				node("t", workflow.TypeWebhook, nil),
				node("x", "count", nil),
			},
			Edges: []*workflow.Edge{
				{ID: "e1", Source: "t", Target: "x", Condition: "{{data.go}} == true"},
			},
		}
	}

	t.Run("false skips the edge", func(t *testing.T) {
		e := newTestEngine(t, Options{})
		calls := newCounter()
		e.Register("count", calls.handle)

		result, err := e.Run(context.Background(), build(), map[string]any{"go": false})
		require.NoError(t, err)
		require.True(t, result.Success)
		require.NotContains(t, result.Results, "x")
		require.Zero(t, calls.calls["x"])
	})

	t.Run("true follows the edge once", func(t *testing.T) {
		e := newTestEngine(t, Options{})
		calls := newCounter()
		e.Register("count", calls.handle)

		result, err := e.Run(context.Background(), build(), map[string]any{"go": true})
		require.NoError(t, err)
		require.True(t, result.Success)
		require.Contains(t, result.Results, "x")
		require.Equal(t, 1, calls.calls["x"])
	})
}

func TestRunConditionErrorIsNotFatal(t *testing.T) {
	e := newTestEngine(t, Options{})
	w := &workflow.Workflow{
		ID: "bad-condition",
		Nodes: []*workflow.Node{
			node("t", workflow.TypeWebhook, nil),
			node("x", workflow.TypeWebhook, nil),
		},
		Edges: []*workflow.Edge{
			{ID: "e1", Source: "t", Target: "x", Condition: "data.a.b.c >"},
		},
	}

	result, err := e.Run(context.Background(), w, nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Empty(t, result.Errors)
	require.NotContains(t, result.Results, "x")
}

func TestRunConditionSeesEarlierResults(t *testing.T) {
	e := newTestEngine(t, Options{})
	w := &workflow.Workflow{
		ID: "results",
		Nodes: []*workflow.Node{
			node("t", workflow.TypeWebhook, nil),
			node("check", workflow.TypeCondition, map[string]any{"condition": "data.amount > 100"}),
			node("big", workflow.TypeWebhook, nil),
			node("small", workflow.TypeWebhook, nil),
		},
		Edges: []*workflow.Edge{
			edge("e1", "t", "check"),
			{ID: "e2", Source: "check", Target: "big", Condition: "results.check.result === true"},
			{ID: "e3", Source: "check", Target: "small", Condition: "results.check.result === false"},
		},
	}

	result, err := e.Run(context.Background(), w, map[string]any{"amount": 250})
	require.NoError(t, err)
	require.Contains(t, result.Results, "big")
	require.NotContains(t, result.Results, "small")
	require.Equal(t, true, result.Results["check"].(map[string]any)["result"])
}

func TestRunPartialSuccess(t *testing.T) {
	e := newTestEngine(t, Options{})
	w := &workflow.Workflow{
		ID: "partial",
		Nodes: []*workflow.Node{
			node("t1", workflow.TypeWebhook, nil),
			node("bad", workflow.TypeEmail, map[string]any{"to": "a@b.c"}),
			node("after", workflow.TypeWebhook, nil),
			node("t2", workflow.TypeWebhook, nil),
		},
		Edges: []*workflow.Edge{
			edge("e1", "t1", "bad"),
			edge("e2", "bad", "after"),
		},
	}

	result, err := e.Run(context.Background(), w, nil)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, []string{"Node bad: Email node requires to, subject, and body"}, result.Errors)
	require.Contains(t, result.Results, "t1")
	require.Contains(t, result.Results, "t2")
	require.NotContains(t, result.Results, "after")
}

func TestRunUnknownNodeType(t *testing.T) {
	e := newTestEngine(t, Options{})
	w := &workflow.Workflow{
		ID: "unknown",
		Nodes: []*workflow.Node{
			node("t", workflow.TypeWebhook, nil),
			node("u", "mystery", nil),
		},
		Edges: []*workflow.Edge{edge("e1", "t", "u")},
	}

	result, err := e.Run(context.Background(), w, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"Node u: Unknown node type: mystery"}, result.Errors)
	require.Error(t, e.Validate(w))
}

func TestRunRecoversHandlerPanic(t *testing.T) {
	e := newTestEngine(t, Options{})
	e.Register("explode", func(ctx context.Context, n *workflow.Node, ec *ExecutionContext) (any, error) {
		panic("boom")
	})
	w := &workflow.Workflow{
		ID:    "panic",
		Nodes: []*workflow.Node{node("p", "explode", nil), node("ok", workflow.TypeWebhook, nil)},
	}

	result, err := e.Run(context.Background(), w, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"Node p: handler panicked: boom"}, result.Errors)
	require.Contains(t, result.Results, "ok")
}

func TestRunCycleGuard(t *testing.T) {
	e := newTestEngine(t, Options{MaxEdgeVisits: 25})
	calls := newCounter()
	e.Register("count", calls.handle)

	w := &workflow.Workflow{
		ID: "cycle",
		Nodes: []*workflow.Node{
			node("t", workflow.TypeWebhook, nil),
			node("a", "count", nil),
			node("b", "count", nil),
		},
		Edges: []*workflow.Edge{
			edge("e1", "t", "a"),
			edge("e2", "a", "b"),
			edge("e3", "b", "a"),
		},
	}

	result, err := e.Run(context.Background(), w, nil)
	require.ErrorIs(t, err, ErrTraversalLimit)
	require.False(t, result.Success)
	require.NotEmpty(t, result.Error)
	require.Len(t, result.Errors, 1)
	require.Equal(t, 25, calls.calls["a"]+calls.calls["b"])
}

func TestRunCancelledContext(t *testing.T) {
	e := newTestEngine(t, Options{})
	w := &workflow.Workflow{
		ID:    "cancelled",
		Nodes: []*workflow.Node{node("t", workflow.TypeWebhook, nil), node("t2", workflow.TypeWebhook, nil)},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := e.Run(ctx, w, nil)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, []string{"Node t: context canceled"}, result.Errors)
}

func TestRunDoesNotMutateInputs(t *testing.T) {
	e := newTestEngine(t, Options{})
	e.Register("mutate", func(ctx context.Context, n *workflow.Node, ec *ExecutionContext) (any, error) {
		n.Data["touched"] = true
		ec.Data["touched"] = true
		return nil, nil
	})
	w := &workflow.Workflow{
		ID:    "immutable",
		Nodes: []*workflow.Node{node("m", "mutate", map[string]any{})},
	}
	payload := map[string]any{}

	_, err := e.Run(context.Background(), w, payload)
	require.NoError(t, err)
	require.NotContains(t, w.Nodes[0].Data, "touched")
	require.NotContains(t, payload, "touched")
}

func TestRunRecordsEvents(t *testing.T) {
	store := events.NewFileStore(t.TempDir())
	e := newTestEngine(t, Options{EventStore: store})
	w := &workflow.Workflow{
		ID:   "recorded",
		Name: "Recorded",
		Nodes: []*workflow.Node{
			node("t", workflow.TypeWebhook, nil),
			node("x", workflow.TypeWebhook, nil),
			node("h", workflow.TypeHTTPRequest, nil),
		},
		Edges: []*workflow.Edge{
			{ID: "e1", Source: "t", Target: "x", Condition: "false"},
			edge("e2", "t", "h"),
		},
	}

	result, err := e.Run(context.Background(), w, nil)
	require.NoError(t, err)

	ctx := context.Background()
	execution, err := store.GetExecution(ctx, result.ExecutionID)
	require.NoError(t, err)
	require.Equal(t, events.StatusFailed, execution.Status)
	require.Equal(t, "Recorded", execution.WorkflowName)
	require.Equal(t, result.Errors, execution.Errors)

	history, err := store.GetEvents(ctx, result.ExecutionID)
	require.NoError(t, err)
	var types []events.EventType
	for _, event := range history {
		types = append(types, event.Type)
	}
	require.Equal(t, []events.EventType{
		events.EventRunStarted,
		events.EventNodeStarted,
		events.EventNodeSucceeded,
		events.EventEdgeSkipped,
		events.EventNodeStarted,
		events.EventNodeFailed,
		events.EventRunFailed,
	}, types)
}

func TestRunTimeout(t *testing.T) {
	e := newTestEngine(t, Options{RunTimeout: 30 * time.Millisecond})
	calls := newCounter()
	e.Register("count", calls.handle)
	w := &workflow.Workflow{
		ID: "deadline",
		Nodes: []*workflow.Node{
			node("t", workflow.TypeWebhook, nil),
			node("d", workflow.TypeDelay, map[string]any{"duration": 5000}),
			node("t2", "count", nil),
		},
		Edges: []*workflow.Edge{edge("e1", "t", "d")},
	}

	start := time.Now()
	result, err := e.Run(context.Background(), w, nil)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
	require.False(t, result.Success)
	require.Equal(t, []string{"Node d: context deadline exceeded"}, result.Errors)
	require.Zero(t, calls.calls["t2"])
	require.NotContains(t, result.Results, "t2")
}

func TestRunNilWorkflow(t *testing.T) {
	e := newTestEngine(t, Options{})
	result, err := e.Run(context.Background(), nil, nil)
	require.Error(t, err)
	require.True(t, workflow.IsValidationError(err))
	require.Contains(t, err.Error(), "workflow is nil")
	require.NotNil(t, result)
	require.False(t, result.Success)

	require.True(t, workflow.IsValidationError(e.Validate(nil)))
}
