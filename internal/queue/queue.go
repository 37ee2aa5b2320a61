// Package queue implements the priority- and dependency-aware task queue.
//
// The queue owns every submitted task. Selection, completion, retry, and
// cancellation are all serialized behind a single mutex so the priority
// buckets, the running set, and the completed-task index stay consistent
// under concurrent mutation from in-flight executions.
package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/harrison/overseer/internal/logger"
	"github.com/harrison/overseer/internal/models"
)

// Fairness score weights. Priority dominates; age prevents starvation of
// old low-priority tasks; a shrinking retry budget and a configured timeout
// raise urgency; heavy dependency fan-in is penalized.
const (
	priorityWeight    = 100.0
	agePerHourWeight  = 10.0
	retryBudgetBoost  = 5.0
	timeoutBoost      = 20.0
	dependencyPenalty = 3.0
)

// Queue holds pending, running, and completed tasks and selects the next
// runnable task by priority, dependency satisfaction, and fairness score.
type Queue struct {
	mu        sync.Mutex
	tasks     map[string]*models.Task
	pending   map[models.Priority][]string
	running   map[string]struct{}
	completed map[string]*models.TaskResult
	onChange  func()
	logger    logger.Logger
	now       func() time.Time
}

// New creates an empty Queue. The logger may be nil.
func New(log logger.Logger) *Queue {
	pending := make(map[models.Priority][]string, len(models.Priorities()))
	for _, p := range models.Priorities() {
		pending[p] = nil
	}
	return &Queue{
		tasks:     make(map[string]*models.Task),
		pending:   pending,
		running:   make(map[string]struct{}),
		completed: make(map[string]*models.TaskResult),
		logger:    logger.OrNop(log),
		now:       time.Now,
	}
}

// SetOnChange registers a callback fired whenever a task becomes (or may
// become) selectable: on add, on retry requeue, and on completion (which can
// unblock dependents). The callback must not call back into the queue.
func (q *Queue) SetOnChange(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onChange = fn
}

func (q *Queue) notify() {
	if q.onChange != nil {
		q.onChange()
	}
}

// Add stores a task and places it in its priority bucket.
// The task must be PENDING and its id must be unused.
func (q *Queue) Add(task *models.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	if task.Status == "" {
		task.Status = models.StatusPending
	}
	if task.Status != models.StatusPending {
		return fmt.Errorf("task %s must be pending, got %s", task.ID, task.Status)
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = q.now()
	}

	q.tasks[task.ID] = task
	q.pending[task.Priority] = append(q.pending[task.Priority], task.ID)

	q.logger.Debugf("queue: added task %s (%s, priority %s)", task.ID, task.Title, task.Priority)
	q.notify()
	return nil
}

// NextTask selects the highest-scoring runnable task, marks it RUNNING,
// stamps StartedAt on its first start, and returns a copy. Returns nil when
// nothing is runnable. The scan and the RUNNING transition are one atomic
// operation, so no two concurrent calls can select the same task.
func (q *Queue) NextTask() *models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()

	var best *models.Task
	var bestScore float64

	// Scan every bucket; the priority term dominates the score, but the
	// global maximum (not the first match) wins so aging can promote
	// older low-priority work.
	for _, priority := range models.Priorities() {
		kept := q.pending[priority][:0]
		for _, id := range q.pending[priority] {
			task, ok := q.tasks[id]
			if !ok || task.Status != models.StatusPending {
				// Dropped lazily: cancelled or already rebucketed.
				continue
			}
			kept = append(kept, id)

			if _, isRunning := q.running[id]; isRunning {
				continue
			}
			if !q.dependenciesSatisfied(task) {
				continue
			}

			score := q.score(task, now)
			if best == nil || score > bestScore ||
				(score == bestScore && task.CreatedAt.Before(best.CreatedAt)) {
				best = task
				bestScore = score
			}
		}
		q.pending[priority] = kept
	}

	if best == nil {
		return nil
	}

	q.removePending(best.Priority, best.ID)
	q.running[best.ID] = struct{}{}
	best.Status = models.StatusRunning
	if best.StartedAt == nil {
		started := now
		best.StartedAt = &started
	}

	q.logger.Debugf("queue: selected task %s (score %.2f)", best.ID, bestScore)
	return best.Clone()
}

// score computes the fairness score for an eligible pending task.
func (q *Queue) score(task *models.Task, now time.Time) float64 {
	score := float64(task.Priority) * priorityWeight
	score += task.Age(now).Hours() * agePerHourWeight
	score += float64(task.MaxRetries-task.RetryCount) * retryBudgetBoost
	if task.Timeout > 0 {
		score += timeoutBoost
	}
	score -= float64(len(task.Dependencies)) * dependencyPenalty
	return score
}

// dependenciesSatisfied reports whether every required dependency of the
// task is satisfied by the completed-task index. Callers must hold q.mu.
func (q *Queue) dependenciesSatisfied(task *models.Task) bool {
	for _, dep := range task.Dependencies {
		if !dep.Required {
			continue
		}
		result, done := q.completed[dep.TaskID]
		if !done {
			return false
		}
		if dep.Type == models.DepSuccess && !result.Success {
			return false
		}
	}
	return true
}

// Complete records the outcome of an execution attempt. The task moves to
// COMPLETED or FAILED based on the result's success flag; either way it is
// terminal and enters the completed index, unblocking dependents.
func (q *Queue) Complete(taskID string, result *models.TaskResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("unknown task %s", taskID)
	}
	if task.Terminal() {
		// A late outcome for a task cancelled mid-flight. The first
		// terminal state wins.
		return nil
	}

	if result.Success {
		task.Status = models.StatusCompleted
	} else {
		task.Status = models.StatusFailed
	}
	q.finalizeLocked(task, result)

	q.logger.Infof("queue: task %s completed (success=%t)", taskID, result.Success)
	q.notify()
	return nil
}

// Fail reports a failed execution attempt. While the retry budget lasts the
// task is requeued as PENDING with an incremented retry count; otherwise it
// is finalized as FAILED with a synthetic failed result.
func (q *Queue) Fail(taskID, errMsg string) error {
	return q.fail(taskID, errMsg, models.StatusFailed)
}

// FailTimeout is Fail with a TIMEOUT terminal status. Timeouts consume the
// retry budget exactly like other failures.
func (q *Queue) FailTimeout(taskID, errMsg string) error {
	return q.fail(taskID, errMsg, models.StatusTimeout)
}

// FailPermanent finalizes the task as FAILED immediately, bypassing the
// retry budget. Used for fatal per-task errors such as a missing handler.
func (q *Queue) FailPermanent(taskID, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("unknown task %s", taskID)
	}
	if task.Terminal() {
		return nil
	}

	task.Status = models.StatusFailed
	q.finalizeLocked(task, models.FailedResult(taskID, errMsg))
	q.logger.Errorf("queue: task %s failed permanently: %s", taskID, errMsg)
	q.notify()
	return nil
}

func (q *Queue) fail(taskID, errMsg string, terminal models.Status) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("unknown task %s", taskID)
	}
	if task.Terminal() {
		return nil
	}

	if task.RetryCount < task.MaxRetries {
		task.RetryCount++
		task.Status = models.StatusPending
		delete(q.running, taskID)
		q.pending[task.Priority] = append(q.pending[task.Priority], taskID)

		q.logger.Warnf("queue: retrying task %s (attempt %d/%d): %s",
			taskID, task.RetryCount, task.MaxRetries, errMsg)
		q.notify()
		return nil
	}

	task.Status = terminal
	q.finalizeLocked(task, models.FailedResult(taskID, errMsg))
	q.logger.Errorf("queue: task %s failed permanently after %d attempts: %s",
		taskID, task.RetryCount+1, errMsg)
	q.notify()
	return nil
}

// Cancel forces a task to CANCELLED regardless of its current state. The
// task enters the completed index with a synthetic failed result so that
// completion-type dependents are unblocked and success-type dependents are
// not.
func (q *Queue) Cancel(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("unknown task %s", taskID)
	}
	if task.Terminal() {
		return nil
	}

	task.Status = models.StatusCancelled
	q.finalizeLocked(task, models.FailedResult(taskID, "task cancelled"))
	q.logger.Infof("queue: cancelled task %s", taskID)
	q.notify()
	return nil
}

// finalizeLocked stamps completion, clears the running set, and records the
// result in the completed index. Callers must hold q.mu and have set the
// terminal status already.
func (q *Queue) finalizeLocked(task *models.Task, result *models.TaskResult) {
	completed := q.now()
	task.CompletedAt = &completed
	delete(q.running, task.ID)
	q.completed[task.ID] = result
}

// removePending removes one occurrence of id from a priority bucket.
func (q *Queue) removePending(priority models.Priority, id string) {
	bucket := q.pending[priority]
	for i, candidate := range bucket {
		if candidate == id {
			q.pending[priority] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// Get returns a copy of the task with the given id, or nil if unknown.
func (q *Queue) Get(taskID string) *models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return nil
	}
	return task.Clone()
}

// Result returns the recorded result for a terminal task, or nil.
func (q *Queue) Result(taskID string) *models.TaskResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed[taskID]
}

// Tasks returns copies of every task in the queue.
func (q *Queue) Tasks() []*models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := make([]*models.Task, 0, len(q.tasks))
	for _, task := range q.tasks {
		tasks = append(tasks, task.Clone())
	}
	return tasks
}

// Stats summarizes queue contents for status reporting.
type Stats struct {
	TotalTasks     int            `json:"total_tasks"`
	PendingTasks   int            `json:"pending_tasks"`
	RunningTasks   int            `json:"running_tasks"`
	CompletedTasks int            `json:"completed_tasks"`
	ByPriority     map[string]int `json:"tasks_by_priority"`
	ByStatus       map[string]int `json:"tasks_by_status"`
}

// Snapshot returns current queue statistics.
func (q *Queue) Snapshot() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{
		TotalTasks:     len(q.tasks),
		RunningTasks:   len(q.running),
		CompletedTasks: len(q.completed),
		ByPriority:     make(map[string]int, len(q.pending)),
		ByStatus:       make(map[string]int),
	}
	for _, status := range models.Statuses() {
		stats.ByStatus[string(status)] = 0
	}
	for _, priority := range models.Priorities() {
		count := 0
		for _, id := range q.pending[priority] {
			if task, ok := q.tasks[id]; ok && task.Status == models.StatusPending {
				count++
			}
		}
		stats.ByPriority[priority.String()] = count
		stats.PendingTasks += count
	}
	for _, task := range q.tasks {
		stats.ByStatus[string(task.Status)]++
	}
	return stats
}
