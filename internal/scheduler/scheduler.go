// Package scheduler runs named jobs at fixed intervals on a coarse tick.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harrison/overseer/internal/logger"
)

// tickInterval bounds scheduling jitter: a due job starts within one tick.
const tickInterval = time.Second

// Job is a periodic unit of work. Errors are logged and swallowed; a
// failing job keeps its schedule.
type Job func(ctx context.Context) error

type entry struct {
	name     string
	interval time.Duration
	fn       Job
	nextRun  time.Time
	runs     int
	failures int
}

// Scheduler dispatches registered jobs when their next-run time arrives.
// Each job's first run is due immediately after registration.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	logger  logger.Logger
	now     func() time.Time
}

// New creates a stopped Scheduler. The logger may be nil.
func New(log logger.Logger) *Scheduler {
	return &Scheduler{
		entries: make(map[string]*entry),
		logger:  logger.OrNop(log),
		now:     time.Now,
	}
}

// Schedule registers a job under a unique name. The job becomes due on the
// next tick and then every interval after each completed run.
func (s *Scheduler) Schedule(name string, interval time.Duration, fn Job) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}
	if fn == nil {
		return fmt.Errorf("job %q has no function", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("job %q already scheduled", name)
	}
	s.entries[name] = &entry{
		name:     name,
		interval: interval,
		fn:       fn,
		nextRun:  s.now(),
	}
	s.logger.Debugf("scheduler: registered job %q every %s", name, interval)
	return nil
}

// Unschedule removes a job. Returns false if no such job exists.
func (s *Scheduler) Unschedule(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; !ok {
		return false
	}
	delete(s.entries, name)
	return true
}

// Start launches the tick loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	go s.loop(ctx)
	s.logger.Infof("scheduler: started")
}

// Stop halts the tick loop and waits for the in-progress tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Infof("scheduler: stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue runs every due job, synchronously and in no particular order. The
// next run is anchored to the start of this one, so a slow job does not
// drift its schedule later.
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if !e.nextRun.After(now) {
			e.nextRun = now.Add(e.interval)
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.runOne(ctx, e)
	}
}

func (s *Scheduler) runOne(ctx context.Context, e *entry) {
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			e.failures++
			s.mu.Unlock()
			s.logger.Errorf("scheduler: job %q panicked: %v", e.name, r)
		}
	}()

	err := e.fn(ctx)

	s.mu.Lock()
	e.runs++
	if err != nil {
		e.failures++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warnf("scheduler: job %q failed: %v", e.name, err)
	}
}

// JobStatus describes one registered job.
type JobStatus struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	NextRun  time.Time     `json:"next_run"`
	Runs     int           `json:"runs"`
	Failures int           `json:"failures"`
}

// Jobs returns the status of every registered job.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]JobStatus, 0, len(s.entries))
	for _, e := range s.entries {
		jobs = append(jobs, JobStatus{
			Name:     e.name,
			Interval: e.interval,
			NextRun:  e.nextRun,
			Runs:     e.runs,
			Failures: e.failures,
		})
	}
	return jobs
}
