package events

import (
	"context"
	"sync"
	"time"

	"github.com/deepnoodle-ai/runnel/log"
)

// Recorder appends events for a single execution. Store failures are logged
// and never propagated, so recording cannot fail a run.
type Recorder struct {
	store       Store
	executionID string
	logger      log.Logger
	mutex       sync.Mutex
	sequence    int64
	execution   *Execution
}

// NewRecorder returns a Recorder that writes to store. A nil store discards
// everything.
func NewRecorder(store Store, executionID string, logger log.Logger) *Recorder {
	if store == nil {
		store = NewNullStore()
	}
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &Recorder{
		store:       store,
		executionID: executionID,
		logger:      logger,
	}
}

// ExecutionID returns the execution this recorder writes to.
func (r *Recorder) ExecutionID() string {
	return r.executionID
}

// Record appends one event.
func (r *Recorder) Record(ctx context.Context, eventType EventType, nodeID string, data map[string]any) {
	r.mutex.Lock()
	r.sequence++
	event := &Event{
		ID:          NewEventID(),
		ExecutionID: r.executionID,
		Sequence:    r.sequence,
		Timestamp:   time.Now(),
		Type:        eventType,
		NodeID:      nodeID,
		Data:        data,
	}
	r.mutex.Unlock()

	// Events are still recorded after the run context is cancelled
	ctx = context.WithoutCancel(ctx)
	if err := r.store.AppendEvents(ctx, []*Event{event}); err != nil {
		r.logger.Warn("failed to record event",
			"execution_id", r.executionID,
			"event_type", string(eventType),
			"error", err)
	}
}

// Begin saves a running execution summary.
func (r *Recorder) Begin(ctx context.Context, execution *Execution) {
	r.mutex.Lock()
	execution.ID = r.executionID
	execution.Status = StatusRunning
	if execution.StartTime.IsZero() {
		execution.StartTime = time.Now()
	}
	r.execution = execution
	r.mutex.Unlock()
	r.save(ctx, execution)
}

// Finish marks the execution finished and saves the summary.
func (r *Recorder) Finish(ctx context.Context, status string, errs []string, err error) {
	r.mutex.Lock()
	execution := r.execution
	if execution == nil {
		execution = &Execution{ID: r.executionID, StartTime: time.Now()}
		r.execution = execution
	}
	execution.Status = status
	execution.EndTime = time.Now()
	execution.Errors = append([]string(nil), errs...)
	if err != nil {
		execution.Error = err.Error()
	}
	snapshot := *execution
	r.mutex.Unlock()
	r.save(ctx, &snapshot)
}

func (r *Recorder) save(ctx context.Context, execution *Execution) {
	ctx = context.WithoutCancel(ctx)
	if err := r.store.SaveExecution(ctx, execution); err != nil {
		r.logger.Warn("failed to save execution",
			"execution_id", r.executionID,
			"error", err)
	}
}
