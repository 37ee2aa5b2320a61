package coordinator

import (
	"errors"
	"fmt"
	"time"
)

// HandlerNotFoundError indicates a submitted task named a handler key with
// no registered handler. The task fails permanently; retrying cannot help.
type HandlerNotFoundError struct {
	HandlerKey string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("no handler registered for %q", e.HandlerKey)
}

// TaskTimeoutError indicates an execution attempt exceeded the task's
// configured timeout.
type TaskTimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out after %s", e.TaskID, e.Timeout)
}

// TaskExecutionError wraps a handler failure for one attempt.
type TaskExecutionError struct {
	TaskID string
	Err    error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %s execution failed: %v", e.TaskID, e.Err)
}

func (e *TaskExecutionError) Unwrap() error {
	return e.Err
}

// RateLimitTimeoutError indicates no rate-limit slot opened within the wait
// budget.
type RateLimitTimeoutError struct {
	Waited time.Duration
}

func (e *RateLimitTimeoutError) Error() string {
	return fmt.Sprintf("no rate limit slot within %s", e.Waited)
}

// IsHandlerNotFound reports whether err is a missing-handler error.
func IsHandlerNotFound(err error) bool {
	var target *HandlerNotFoundError
	return errors.As(err, &target)
}

// IsTaskTimeout reports whether err is an attempt-timeout error.
func IsTaskTimeout(err error) bool {
	var target *TaskTimeoutError
	return errors.As(err, &target)
}
