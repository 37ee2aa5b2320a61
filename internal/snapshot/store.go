// Package snapshot persists queue state to SQLite so task history and
// orchestrator health survive restarts and are inspectable from the CLI.
package snapshot

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/overseer/internal/models"
	"github.com/harrison/overseer/internal/queue"
)

//go:embed schema.sql
var schemaSQL string

// Store manages the SQLite snapshot database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (or creates) the snapshot database at dbPath and applies
// the schema. ":memory:" is accepted for tests.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// busy_timeout first so the remaining pragmas wait on locks instead
	// of failing when another overseer instance holds the file.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := execWithRetry(db, schemaSQL, 5, 10*time.Millisecond); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// execWithRetry retries a statement with exponential backoff on lock errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveTask upserts one task's current state.
func (s *Store) SaveTask(task *models.Task) error {
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, title, agent_id, priority, status, retry_count, max_retries, tags, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			retry_count = excluded.retry_count,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`,
		task.ID, task.Title, task.AgentID, int(task.Priority), string(task.Status),
		task.RetryCount, task.MaxRetries, strings.Join(task.Tags, ","),
		task.CreatedAt, nullableTime(task.StartedAt), nullableTime(task.CompletedAt))
	if err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	return nil
}

// SaveResult upserts a task's terminal result.
func (s *Store) SaveResult(result *models.TaskResult) error {
	metadata := "{}"
	if len(result.Metadata) > 0 {
		data, err := json.Marshal(result.Metadata)
		if err != nil {
			return fmt.Errorf("marshal result metadata: %w", err)
		}
		metadata = string(data)
	}

	_, err := s.db.Exec(`
		INSERT INTO results (task_id, success, output, error, duration_ms, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			success = excluded.success,
			output = excluded.output,
			error = excluded.error,
			duration_ms = excluded.duration_ms,
			metadata = excluded.metadata`,
		result.TaskID, result.Success, result.Output, result.Error,
		result.Duration.Milliseconds(), metadata)
	if err != nil {
		return fmt.Errorf("save result %s: %w", result.TaskID, err)
	}
	return nil
}

// SaveQueueStats appends one statistics row.
func (s *Store) SaveQueueStats(stats queue.Stats, inFlight int, breakerState string) error {
	_, err := s.db.Exec(`
		INSERT INTO queue_stats (total_tasks, pending_tasks, running_tasks, completed_tasks, in_flight, breaker_state)
		VALUES (?, ?, ?, ?, ?, ?)`,
		stats.TotalTasks, stats.PendingTasks, stats.RunningTasks,
		stats.CompletedTasks, inFlight, breakerState)
	if err != nil {
		return fmt.Errorf("save queue stats: %w", err)
	}
	return nil
}

// StatsRow is one persisted queue_stats record.
type StatsRow struct {
	TotalTasks     int
	PendingTasks   int
	RunningTasks   int
	CompletedTasks int
	InFlight       int
	BreakerState   string
	RecordedAt     time.Time
}

// LatestStats returns the most recent statistics row, or nil when none has
// been recorded yet.
func (s *Store) LatestStats() (*StatsRow, error) {
	row := s.db.QueryRow(`
		SELECT total_tasks, pending_tasks, running_tasks, completed_tasks, in_flight, breaker_state, recorded_at
		FROM queue_stats ORDER BY id DESC LIMIT 1`)

	var r StatsRow
	err := row.Scan(&r.TotalTasks, &r.PendingTasks, &r.RunningTasks,
		&r.CompletedTasks, &r.InFlight, &r.BreakerState, &r.RecordedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest stats: %w", err)
	}
	return &r, nil
}

// TaskRow is one persisted task record.
type TaskRow struct {
	ID         string
	Title      string
	AgentID    string
	Priority   models.Priority
	Status     models.Status
	RetryCount int
	MaxRetries int
	Tags       []string
	CreatedAt  time.Time
}

// TasksByStatus returns persisted tasks matching the given status, newest
// first.
func (s *Store) TasksByStatus(status models.Status) ([]TaskRow, error) {
	rows, err := s.db.Query(`
		SELECT id, title, agent_id, priority, status, retry_count, max_retries, tags, created_at
		FROM tasks WHERE status = ? ORDER BY created_at DESC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query tasks by status: %w", err)
	}
	defer rows.Close()

	var out []TaskRow
	for rows.Next() {
		var r TaskRow
		var priority int
		var statusStr, tags string
		if err := rows.Scan(&r.ID, &r.Title, &r.AgentID, &priority, &statusStr,
			&r.RetryCount, &r.MaxRetries, &tags, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		r.Priority = models.Priority(priority)
		r.Status = models.Status(statusStr)
		if tags != "" {
			r.Tags = strings.Split(tags, ",")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveAll persists every task and any recorded results in one pass. Used by
// the periodic snapshot job.
func (s *Store) SaveAll(tasks []*models.Task, resultFor func(string) *models.TaskResult) error {
	for _, task := range tasks {
		if err := s.SaveTask(task); err != nil {
			return err
		}
		if result := resultFor(task.ID); result != nil {
			if err := s.SaveResult(result); err != nil {
				return err
			}
		}
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
