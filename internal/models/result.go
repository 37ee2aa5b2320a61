package models

import "time"

// TaskResult captures the outcome of a single execution attempt. It is
// produced by a handler invocation and consumed by the queue to decide
// completion versus retry.
type TaskResult struct {
	TaskID   string         `json:"task_id"`
	Success  bool           `json:"success"`
	Output   string         `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
}

// FailedResult builds a synthetic failed result for a task, used when the
// failure happened outside the handler (missing handler, exhausted retries,
// cancellation).
func FailedResult(taskID, errMsg string) *TaskResult {
	return &TaskResult{
		TaskID:  taskID,
		Success: false,
		Error:   errMsg,
	}
}
