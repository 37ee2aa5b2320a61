package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLogger appends timestamped lines to a per-run log file inside a log
// directory. The file is named overseer-YYYYMMDD-HHMMSS.log and created
// lazily on the first message.
type FileLogger struct {
	mutex   sync.Mutex
	logDir  string
	file    *os.File
	failed  bool // stop retrying file creation after the first failure
	minimum int
}

// NewFileLogger creates a FileLogger writing into logDir at the given level.
// The directory is created on first use.
func NewFileLogger(logDir, logLevel string) *FileLogger {
	return &FileLogger{
		logDir:  logDir,
		minimum: levelToInt(normalizeLevel(logLevel)),
	}
}

// Path returns the path of the open log file, or empty if nothing has been
// written yet.
func (fl *FileLogger) Path() string {
	fl.mutex.Lock()
	defer fl.mutex.Unlock()
	if fl.file == nil {
		return ""
	}
	return fl.file.Name()
}

// Close closes the underlying file if one was opened.
func (fl *FileLogger) Close() error {
	fl.mutex.Lock()
	defer fl.mutex.Unlock()
	if fl.file == nil {
		return nil
	}
	err := fl.file.Close()
	fl.file = nil
	return err
}

// Debugf logs a debug-level message.
func (fl *FileLogger) Debugf(format string, args ...any) {
	fl.logWithLevel(levelDebug, "DEBUG", format, args...)
}

// Infof logs an info-level message.
func (fl *FileLogger) Infof(format string, args ...any) {
	fl.logWithLevel(levelInfo, "INFO", format, args...)
}

// Warnf logs a warning-level message.
func (fl *FileLogger) Warnf(format string, args ...any) {
	fl.logWithLevel(levelWarn, "WARN", format, args...)
}

// Errorf logs an error-level message.
func (fl *FileLogger) Errorf(format string, args ...any) {
	fl.logWithLevel(levelError, "ERROR", format, args...)
}

func (fl *FileLogger) logWithLevel(level int, label, format string, args ...any) {
	if level < fl.minimum {
		return
	}

	fl.mutex.Lock()
	defer fl.mutex.Unlock()

	if fl.file == nil {
		if fl.failed {
			return
		}
		if err := fl.open(); err != nil {
			// Logging must never take the engine down; drop silently.
			fl.failed = true
			return
		}
	}

	timestamp := time.Now().Format("15:04:05")
	fmt.Fprintf(fl.file, "[%s] [%s] %s\n", timestamp, label, fmt.Sprintf(format, args...))
}

func (fl *FileLogger) open() error {
	if err := os.MkdirAll(fl.logDir, 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	name := fmt.Sprintf("overseer-%s.log", time.Now().Format("20060102-150405"))
	file, err := os.OpenFile(filepath.Join(fl.logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	fl.file = file
	return nil
}
