// Package coordinator drives task execution: it pulls runnable tasks from
// the queue, dispatches them to registered handlers under a concurrency
// bound, and routes every outcome back into the queue's state machine.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/overseer/internal/breaker"
	"github.com/harrison/overseer/internal/logger"
	"github.com/harrison/overseer/internal/models"
	"github.com/harrison/overseer/internal/queue"
)

// Handler executes one attempt of a task. A non-nil error marks the attempt
// failed and retryable; a result with Success=false is a final verdict and
// is not retried.
type Handler func(ctx context.Context, task *models.Task) (*models.TaskResult, error)

// Options tunes a Coordinator.
type Options struct {
	// MaxConcurrent bounds simultaneously executing tasks.
	MaxConcurrent int
	// PollInterval is the fallback dispatch cadence when no queue event
	// wakes the loop.
	PollInterval time.Duration
	// BreakerBackoff is how long dispatch sleeps after a circuit-open
	// rejection before the attempt is recorded as failed.
	BreakerBackoff time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 4
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.BreakerBackoff <= 0 {
		o.BreakerBackoff = time.Second
	}
}

// Coordinator owns the dispatch loop. Handlers are registered per key;
// tasks are routed to the handler named at submission.
type Coordinator struct {
	queue   *queue.Queue
	breaker *breaker.Breaker
	opts    Options
	logger  logger.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	inFlight atomic.Int64
	wake     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	running  bool
	runMu    sync.Mutex

	wg sync.WaitGroup
}

// New creates a Coordinator over the given queue and breaker. The breaker
// and logger may be nil.
func New(q *queue.Queue, b *breaker.Breaker, opts Options, log logger.Logger) *Coordinator {
	opts.applyDefaults()
	c := &Coordinator{
		queue:    q,
		breaker:  b,
		opts:     opts,
		logger:   logger.OrNop(log),
		handlers: make(map[string]Handler),
		wake:     make(chan struct{}, 1),
	}
	// Any queue transition that can make a task runnable nudges the
	// dispatch loop; the buffered channel coalesces bursts.
	q.SetOnChange(c.poke)
	return c
}

func (c *Coordinator) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// RegisterHandler binds a handler to a key. Re-registering a key replaces
// the previous handler.
func (c *Coordinator) RegisterHandler(key string, h Handler) error {
	if key == "" {
		return fmt.Errorf("handler key must not be empty")
	}
	if h == nil {
		return fmt.Errorf("handler for %q must not be nil", key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[key] = h
	return nil
}

func (c *Coordinator) handler(key string) (Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[key]
	return h, ok
}

// TaskOption customizes a submission.
type TaskOption func(*models.Task)

// WithPriority sets the task priority.
func WithPriority(p models.Priority) TaskOption {
	return func(t *models.Task) { t.Priority = p }
}

// WithDependencies adds dependencies on previously submitted tasks.
func WithDependencies(deps ...models.Dependency) TaskOption {
	return func(t *models.Task) { t.Dependencies = append(t.Dependencies, deps...) }
}

// WithMetadata attaches arbitrary metadata.
func WithMetadata(md map[string]any) TaskOption {
	return func(t *models.Task) { t.Metadata = md }
}

// WithTimeout sets a per-attempt execution deadline.
func WithTimeout(d time.Duration) TaskOption {
	return func(t *models.Task) { t.Timeout = d }
}

// WithTags labels the task.
func WithTags(tags ...string) TaskOption {
	return func(t *models.Task) { t.Tags = append(t.Tags, tags...) }
}

// WithMaxRetries overrides the default retry budget.
func WithMaxRetries(n int) TaskOption {
	return func(t *models.Task) { t.MaxRetries = n }
}

// WithAgent overrides the handler key the task is dispatched to.
func WithAgent(agentID string) TaskOption {
	return func(t *models.Task) { t.AgentID = agentID }
}

// Submit enqueues a new task routed to the handler registered under
// handlerKey and returns its generated id. The key lives in the task's
// AgentID field and is resolved at dispatch time, so handlers may be
// registered after submission.
func (c *Coordinator) Submit(title, description, handlerKey string, opts ...TaskOption) (string, error) {
	if handlerKey == "" {
		return "", fmt.Errorf("handler key must not be empty")
	}

	task := &models.Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		AgentID:     handlerKey,
		Priority:    models.PriorityNormal,
		Status:      models.StatusPending,
		MaxRetries:  3,
		CreatedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(task)
	}

	if err := c.queue.Add(task); err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	c.logger.Infof("coordinator: submitted task %s (%s) for handler %q", task.ID, title, task.AgentID)
	return task.ID, nil
}

// Start launches the dispatch loop. No-op if already running.
func (c *Coordinator) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.running = true

	go c.loop(ctx)
	c.logger.Infof("coordinator: started (max %d concurrent)", c.opts.MaxConcurrent)
}

// Stop halts dispatch and waits up to grace for in-flight tasks to finish.
// Tasks still running after the grace period are left to their context
// cancellation.
func (c *Coordinator) Stop(grace time.Duration) {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	cancel := c.cancel
	done := c.done
	c.running = false
	c.runMu.Unlock()

	cancel()
	<-done

	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		c.logger.Infof("coordinator: stopped cleanly")
	case <-time.After(grace):
		c.logger.Warnf("coordinator: stop grace period elapsed with %d tasks in flight",
			c.inFlight.Load())
	}
}

func (c *Coordinator) loop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		c.dispatch(ctx)
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		case <-ticker.C:
		}
	}
}

// dispatch pulls runnable tasks until the queue is drained or the
// concurrency bound is hit.
func (c *Coordinator) dispatch(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if c.inFlight.Load() >= int64(c.opts.MaxConcurrent) {
			return
		}
		task := c.queue.NextTask()
		if task == nil {
			return
		}

		c.inFlight.Add(1)
		c.wg.Add(1)
		go func(task *models.Task) {
			defer c.wg.Done()
			defer c.inFlight.Add(-1)
			defer c.poke()
			c.execute(ctx, task)
		}(task)
	}
}

// execute runs one attempt of a task and feeds the outcome back into the
// queue.
func (c *Coordinator) execute(ctx context.Context, task *models.Task) {
	h, ok := c.handler(task.AgentID)
	if !ok {
		err := &HandlerNotFoundError{HandlerKey: task.AgentID}
		c.logger.Errorf("coordinator: %v (task %s)", err, task.ID)
		if ferr := c.queue.FailPermanent(task.ID, err.Error()); ferr != nil {
			c.logger.Errorf("coordinator: record permanent failure for %s: %v", task.ID, ferr)
		}
		return
	}

	if c.breaker != nil && !c.breaker.Allow() {
		// Downstream is unhealthy. Back off briefly so a reopened
		// circuit is not hammered, then burn this attempt as a
		// retryable failure.
		c.logger.Warnf("coordinator: circuit open, delaying task %s", task.ID)
		select {
		case <-ctx.Done():
		case <-time.After(c.opts.BreakerBackoff):
		}
		if err := c.queue.Fail(task.ID, breaker.ErrCircuitOpen.Error()); err != nil {
			c.logger.Errorf("coordinator: record breaker rejection for %s: %v", task.ID, err)
		}
		return
	}

	attemptCtx := ctx
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	result, err := c.runHandler(attemptCtx, h, task)
	if c.breaker != nil {
		c.breaker.Record(err)
	}

	switch {
	case err != nil && attemptCtx.Err() == context.DeadlineExceeded:
		terr := &TaskTimeoutError{TaskID: task.ID, Timeout: task.Timeout}
		c.logger.Warnf("coordinator: %v", terr)
		if ferr := c.queue.FailTimeout(task.ID, terr.Error()); ferr != nil {
			c.logger.Errorf("coordinator: record timeout for %s: %v", task.ID, ferr)
		}
	case err != nil:
		eerr := &TaskExecutionError{TaskID: task.ID, Err: err}
		c.logger.Warnf("coordinator: %v", eerr)
		if ferr := c.queue.Fail(task.ID, eerr.Error()); ferr != nil {
			c.logger.Errorf("coordinator: record failure for %s: %v", task.ID, ferr)
		}
	default:
		if result == nil {
			result = &models.TaskResult{TaskID: task.ID, Success: true}
		}
		result.TaskID = task.ID
		if cerr := c.queue.Complete(task.ID, result); cerr != nil {
			c.logger.Errorf("coordinator: record completion for %s: %v", task.ID, cerr)
		}
	}
}

// runHandler invokes the handler with panic containment. A panicking
// handler is treated as a failed attempt, not a crashed coordinator.
func (c *Coordinator) runHandler(ctx context.Context, h Handler, task *models.Task) (result *models.TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, task)
}

// Status is a point-in-time view of the coordinator and its queue.
type Status struct {
	Running       bool        `json:"running"`
	InFlight      int         `json:"in_flight"`
	MaxConcurrent int         `json:"max_concurrent"`
	Handlers      []string    `json:"handlers"`
	Queue         queue.Stats `json:"queue"`
	Breaker       string      `json:"breaker,omitempty"`
}

// Status reports current dispatch state.
func (c *Coordinator) Status() Status {
	c.runMu.Lock()
	running := c.running
	c.runMu.Unlock()

	c.mu.RLock()
	keys := make([]string, 0, len(c.handlers))
	for key := range c.handlers {
		keys = append(keys, key)
	}
	c.mu.RUnlock()
	sort.Strings(keys)

	st := Status{
		Running:       running,
		InFlight:      int(c.inFlight.Load()),
		MaxConcurrent: c.opts.MaxConcurrent,
		Handlers:      keys,
		Queue:         c.queue.Snapshot(),
	}
	if c.breaker != nil {
		st.Breaker = string(c.breaker.State())
	}
	return st
}

// Wait blocks until every task in the queue is terminal or ctx is done.
// Intended for batch runs where the caller submits a fixed plan.
func (c *Coordinator) Wait(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		stats := c.queue.Snapshot()
		if stats.PendingTasks == 0 && stats.RunningTasks == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cancel forces a task to CANCELLED in the queue. A currently executing
// attempt is not interrupted; its late outcome is ignored by the queue's
// terminal state.
func (c *Coordinator) Cancel(taskID string) error {
	return c.queue.Cancel(taskID)
}
