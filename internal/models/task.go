package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Priority orders tasks for selection. Higher values are scheduled first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority converts a priority name to a Priority value.
// Matching is case-insensitive. An empty string maps to PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

// Priorities lists all priority levels from lowest to highest.
func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical}
}

// Status represents the lifecycle state of a task.
//
// State machine: PENDING -> RUNNING -> {COMPLETED, FAILED, CANCELLED, TIMEOUT}.
// A failed attempt loops back to PENDING while the retry budget lasts.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
)

// Statuses lists every task status.
func Statuses() []Status {
	return []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// DependencyType controls what counts as satisfying a dependency.
type DependencyType string

const (
	// DepCompletion is satisfied once the referenced task reaches any
	// terminal status.
	DepCompletion DependencyType = "completion"
	// DepSuccess is satisfied only if the referenced task completed
	// successfully.
	DepSuccess DependencyType = "success"
)

// Dependency references another task that must finish before this one runs.
type Dependency struct {
	TaskID   string         `json:"task_id" yaml:"task_id"`
	Type     DependencyType `json:"type" yaml:"type"`
	Required bool           `json:"required" yaml:"required"`
}

// Task is a unit of submitted work. Once submitted it is owned by the queue;
// all status and timestamp mutation goes through the queue's serialized
// methods.
type Task struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	AgentID      string         `json:"agent_id"`
	Priority     Priority       `json:"priority"`
	Status       Status         `json:"status"`
	Dependencies []Dependency   `json:"dependencies,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Timeout      time.Duration  `json:"timeout,omitempty"` // 0 means no deadline
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// Validate checks that the task has the fields required for submission.
func (t *Task) Validate() error {
	if t.Title == "" {
		return errors.New("task title is required")
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0, got %d", t.MaxRetries)
	}
	for _, dep := range t.Dependencies {
		if dep.TaskID == "" {
			return errors.New("dependency task id is required")
		}
		if dep.Type != DepCompletion && dep.Type != DepSuccess {
			return fmt.Errorf("unknown dependency type %q", dep.Type)
		}
	}
	return nil
}

// Terminal reports whether the task has reached a final status.
func (t *Task) Terminal() bool {
	return t.Status.Terminal()
}

// Age returns how long the task has been in the system relative to now.
func (t *Task) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// Duration returns the wall time from start to completion. While still
// running it measures against now; before the first start it returns 0.
func (t *Task) Duration(now time.Time) time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	if t.CompletedAt != nil {
		return t.CompletedAt.Sub(*t.StartedAt)
	}
	return now.Sub(*t.StartedAt)
}

// Clone returns a deep copy of the task. The queue hands out clones so
// callers can inspect task state without racing queue mutation.
func (t *Task) Clone() *Task {
	c := *t
	if t.Dependencies != nil {
		c.Dependencies = make([]Dependency, len(t.Dependencies))
		copy(c.Dependencies, t.Dependencies)
	}
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	if t.Tags != nil {
		c.Tags = make([]string, len(t.Tags))
		copy(c.Tags, t.Tags)
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	return &c
}

// HasCyclicDependencies detects circular dependencies in a set of tasks
// using DFS with color marking (white=unvisited, gray=visiting, black=visited).
// Dependencies referencing tasks outside the set are ignored.
func HasCyclicDependencies(tasks []*Task) bool {
	graph := make(map[string][]string)
	present := make(map[string]bool)

	for _, task := range tasks {
		present[task.ID] = true
		graph[task.ID] = nil
	}

	// Edge direction: if A depends on B, then B -> A.
	for _, task := range tasks {
		for _, dep := range task.Dependencies {
			if dep.TaskID == task.ID {
				return true
			}
			if present[dep.TaskID] {
				graph[dep.TaskID] = append(graph[dep.TaskID], task.ID)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)

	colors := make(map[string]int, len(present))

	var dfs func(string) bool
	dfs = func(node string) bool {
		colors[node] = gray
		for _, neighbor := range graph[node] {
			if colors[neighbor] == gray {
				return true
			}
			if colors[neighbor] == white && dfs(neighbor) {
				return true
			}
		}
		colors[node] = black
		return false
	}

	for id := range present {
		if colors[id] == white {
			if dfs(id) {
				return true
			}
		}
	}

	return false
}
