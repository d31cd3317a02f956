package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deepnoodle-ai/runnel/events"
	"github.com/deepnoodle-ai/runnel/workflow"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRegister(t *testing.T) {
	s := NewScheduler(nil)
	defer s.StopAll()

	added, err := s.Register("c1", "@every 1h", func(ctx context.Context) {})
	require.NoError(t, err)
	require.True(t, added)

	added, err = s.Register("c1", "@every 1m", func(ctx context.Context) {})
	require.NoError(t, err)
	require.False(t, added)
	require.Equal(t, 1, s.Len())

	_, err = s.Register("c2", "not a schedule", func(ctx context.Context) {})
	require.Error(t, err)
	require.Equal(t, []string{"c1"}, s.Active())

	require.True(t, s.Unregister("c1"))
	require.False(t, s.Unregister("c1"))
	require.Zero(t, s.Len())
}

func TestSchedulerStopAll(t *testing.T) {
	s := NewScheduler(nil)
	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Register(id, "*/5 * * * *", func(ctx context.Context) {})
		require.NoError(t, err)
	}
	require.Equal(t, 3, s.Len())

	s.StopAll()
	require.Zero(t, s.Len())
	require.False(t, s.Has("a"))

	added, err := s.Register("a", "@hourly", func(ctx context.Context) {})
	require.NoError(t, err)
	require.True(t, added)
	s.StopAll()
}

func TestParseSchedule(t *testing.T) {
	for _, expr := range []string{"* * * * *", "*/10 * * * * *", "@every 30s", "@daily", "0 9 * * MON-FRI"} {
		require.NoError(t, ParseSchedule(expr), expr)
	}
	for _, expr := range []string{"", "61 * * * *", "every minute"} {
		require.Error(t, ParseSchedule(expr), expr)
	}
}

func cronWorkflow(schedule string) *workflow.Workflow {
	return &workflow.Workflow{
		ID:   "scheduled",
		Name: "Scheduled",
		Nodes: []*workflow.Node{
			node("c", workflow.TypeCron, map[string]any{"schedule": schedule}),
			node("after", "tick", nil),
		},
		Edges: []*workflow.Edge{edge("e1", "c", "after")},
	}
}

func TestCronNodeRegistersOnce(t *testing.T) {
	e := newTestEngine(t, Options{})
	e.Register("tick", func(ctx context.Context, n *workflow.Node, ec *ExecutionContext) (any, error) {
		return nil, nil
	})
	w := cronWorkflow("@every 1h")

	for i := 0; i < 2; i++ {
		result, err := e.Run(context.Background(), w, nil)
		require.NoError(t, err)
		require.True(t, result.Success)
		c := result.Results["c"].(map[string]any)
		require.Equal(t, true, c["scheduled"])
		require.Equal(t, "@every 1h", c["schedule"])
	}
	require.Equal(t, 1, e.Scheduler().Len())

	require.NoError(t, e.Close())
	require.Zero(t, e.Scheduler().Len())
}

func TestCronNodeRequiresSchedule(t *testing.T) {
	e := newTestEngine(t, Options{})
	w := &workflow.Workflow{
		ID:    "cron",
		Nodes: []*workflow.Node{node("c", workflow.TypeCron, nil)},
	}
	result, err := e.Run(context.Background(), w, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"Node c: Cron node requires a schedule expression"}, result.Errors)
	require.Zero(t, e.Scheduler().Len())

	w.Nodes[0].Data = map[string]any{"schedule": "whenever"}
	result, err = e.Run(context.Background(), w, nil)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0], `invalid cron schedule "whenever"`)
}

func TestCronTickPropagatesWithFreshContext(t *testing.T) {
	store := events.NewFileStore(t.TempDir())
	e := newTestEngine(t, Options{EventStore: store})

	var ticks atomic.Int32
	var mutex sync.Mutex
	var seen []map[string]any
	e.Register("tick", func(ctx context.Context, n *workflow.Node, ec *ExecutionContext) (any, error) {
		ticks.Add(1)
		mutex.Lock()
		seen = append(seen, map[string]any{
			"execution": ec.ExecutionID,
			"customer":  ec.Data["customer"],
			"results":   len(ec.Results),
		})
		mutex.Unlock()
		return "ticked", nil
	})

	result, err := e.Run(context.Background(), cronWorkflow("@every 1s"), map[string]any{"customer": "ada"})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "ticked", result.Results["after"])
	require.Equal(t, int32(1), ticks.Load())

	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, e.Close())

	mutex.Lock()
	defer mutex.Unlock()
	tick := seen[1]
	require.NotEqual(t, result.ExecutionID, tick["execution"])
	require.Equal(t, "ada", tick["customer"])
	require.Equal(t, 0, tick["results"])

	executions, err := store.ListExecutions(context.Background(), events.Filter{WorkflowID: "scheduled"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(executions), 2)
}
