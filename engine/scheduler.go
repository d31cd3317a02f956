package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/deepnoodle-ai/runnel/log"
	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions, 6-field expressions with
// a leading seconds field, and descriptors such as @hourly or @every 1m.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule reports whether expr is a valid cron expression.
func ParseSchedule(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

// Scheduler keeps at most one recurring job per node id. It is owned by an
// Engine and torn down with it.
type Scheduler struct {
	mutex   sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	logger  log.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewScheduler returns an idle scheduler. Its timers start with the first
// registration.
func NewScheduler(logger log.Logger) *Scheduler {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	adapter := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter)),
		),
		entries: map[string]cron.EntryID{},
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register schedules job under nodeID. Registering an id that already has a
// job is a no-op and reports false. The job's context is cancelled by
// StopAll.
func (s *Scheduler) Register(nodeID, schedule string, job func(ctx context.Context)) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.entries[nodeID]; ok {
		return false, nil
	}
	ctx := s.ctx
	id, err := s.cron.AddFunc(schedule, func() {
		s.logger.Info("cron job triggered", "node", nodeID)
		job(ctx)
	})
	if err != nil {
		return false, fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	s.entries[nodeID] = id
	if !s.running {
		s.cron.Start()
		s.running = true
	}
	s.logger.Info("cron job registered", "node", nodeID, "schedule", schedule)
	return true, nil
}

// Unregister removes the job for nodeID, reporting whether one existed.
func (s *Scheduler) Unregister(nodeID string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id, ok := s.entries[nodeID]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.entries, nodeID)
	return true
}

// Has reports whether nodeID has a registered job.
func (s *Scheduler) Has(nodeID string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.entries[nodeID]
	return ok
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.entries)
}

// Active returns the node ids with registered jobs, sorted.
func (s *Scheduler) Active() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StopAll cancels every registered job, waits for running jobs to return and
// leaves the scheduler empty and ready for new registrations.
func (s *Scheduler) StopAll() {
	s.mutex.Lock()
	for nodeID, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, nodeID)
	}
	s.cancel()
	var done context.Context
	if s.running {
		done = s.cron.Stop()
		s.running = false
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mutex.Unlock()

	if done != nil {
		<-done.Done()
	}
}

// cronLogger routes cron's own logging to a log.Logger.
type cronLogger struct {
	logger log.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
