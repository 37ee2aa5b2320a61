// Package workspace provisions per-task scratch directories. Each executing
// task gets an isolated session with conventional subdirectories; session
// records are persisted next to the workspaces so stale ones can be reaped
// after a crash.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/overseer/internal/filelock"
	"github.com/harrison/overseer/internal/logger"
)

// Subdirectories created inside every session workspace.
var sessionSubdirs = []string{"output", "drafts", "test"}

// Session is one task's scratch workspace.
type Session struct {
	SessionID     string    `json:"session_id"`
	TaskID        string    `json:"task_id"`
	WorkspacePath string    `json:"workspace_path"`
	CreatedAt     time.Time `json:"created_at"`
}

// OutputDir returns the session's output directory.
func (s *Session) OutputDir() string { return filepath.Join(s.WorkspacePath, "output") }

// DraftsDir returns the session's drafts directory.
func (s *Session) DraftsDir() string { return filepath.Join(s.WorkspacePath, "drafts") }

// TestDir returns the session's test directory.
func (s *Session) TestDir() string { return filepath.Join(s.WorkspacePath, "test") }

// Manager creates and reaps session workspaces under a root directory.
type Manager struct {
	mu       sync.Mutex
	root     string
	sessions map[string]*Session
	logger   logger.Logger
	now      func() time.Time
}

// NewManager creates a Manager rooted at root, loading any session records
// persisted by a previous run.
func NewManager(root string, log logger.Logger) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	m := &Manager{
		root:     root,
		sessions: make(map[string]*Session),
		logger:   logger.OrNop(log),
		now:      time.Now,
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) indexPath() string {
	return filepath.Join(m.root, "sessions.json")
}

// load restores the session index written by a previous process.
func (m *Manager) load() error {
	data, err := filelock.ReadLocked(m.indexPath())
	if err != nil {
		return fmt.Errorf("load session index: %w", err)
	}
	if data == nil {
		return nil
	}
	var sessions []*Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		// A corrupt index is not fatal: orphaned directories are
		// still reachable via CleanupExpired's directory scan.
		m.logger.Warnf("workspace: discarding corrupt session index: %v", err)
		return nil
	}
	for _, s := range sessions {
		m.sessions[s.SessionID] = s
	}
	return nil
}

// persist writes the session index under the file lock.
func (m *Manager) persist() error {
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}
	if err := filelock.WriteLocked(m.indexPath(), data); err != nil {
		return fmt.Errorf("persist session index: %w", err)
	}
	return nil
}

// CreateSession provisions a workspace for the given task.
func (m *Manager) CreateSession(taskID string) (*Session, error) {
	session := &Session{
		SessionID: uuid.NewString(),
		TaskID:    taskID,
		CreatedAt: m.now(),
	}
	session.WorkspacePath = filepath.Join(m.root, session.SessionID)

	for _, sub := range sessionSubdirs {
		if err := os.MkdirAll(filepath.Join(session.WorkspacePath, sub), 0o755); err != nil {
			os.RemoveAll(session.WorkspacePath)
			return nil, fmt.Errorf("create session directory: %w", err)
		}
	}

	m.mu.Lock()
	m.sessions[session.SessionID] = session
	err := m.persist()
	m.mu.Unlock()
	if err != nil {
		os.RemoveAll(session.WorkspacePath)
		return nil, err
	}

	m.logger.Debugf("workspace: created session %s for task %s", session.SessionID, taskID)
	return session, nil
}

// CleanupSession removes a session's directory and record. Returns false
// when the session is unknown.
func (m *Manager) CleanupSession(sessionID string) bool {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		if err := m.persist(); err != nil {
			m.logger.Warnf("workspace: persist after cleanup: %v", err)
		}
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	if err := os.RemoveAll(session.WorkspacePath); err != nil {
		m.logger.Warnf("workspace: remove session %s: %v", sessionID, err)
	}
	return true
}

// CleanupExpired removes sessions older than maxAge. Returns how many were
// removed.
func (m *Manager) CleanupExpired(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if s.CreatedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.CleanupSession(id)
	}
	if len(expired) > 0 {
		m.logger.Infof("workspace: reaped %d expired sessions", len(expired))
	}
	return len(expired)
}

// Stats reports the number of live sessions.
type Stats struct {
	ActiveSessions int    `json:"active_sessions"`
	Root           string `json:"root"`
}

// Snapshot returns current session counts.
func (m *Manager) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{ActiveSessions: len(m.sessions), Root: m.root}
}
