// Package filelock coordinates file access between processes and provides
// atomic writes so readers never observe a partial file.
package filelock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Lock is an advisory exclusive lock backed by flock. It coordinates
// overseer instances sharing the same state directory.
type Lock struct {
	fl   *flock.Flock
	path string
}

// New creates a lock for the given path. The lock file is created on first
// acquisition.
func New(path string) *Lock {
	return &Lock{fl: flock.New(path), path: path}
}

// Acquire blocks until the exclusive lock is held.
func (l *Lock) Acquire() error {
	if err := l.fl.Lock(); err != nil {
		return fmt.Errorf("acquire lock %s: %w", l.path, err)
	}
	return nil
}

// TryAcquire attempts the lock without blocking. Returns false when another
// holder has it.
func (l *Lock) TryAcquire() (bool, error) {
	ok, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("try lock %s: %w", l.path, err)
	}
	return ok, nil
}

// AcquireContext retries the lock until it is held or ctx is done.
func (l *Lock) AcquireContext(ctx context.Context) error {
	ok, err := l.fl.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", l.path, err)
	}
	if !ok {
		return fmt.Errorf("acquire lock %s: context done", l.path)
	}
	return nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}

// AtomicWrite replaces the file at path with data via a same-directory temp
// file and rename, so a crash mid-write leaves the previous content intact.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	// The temp file must live in the target directory: rename is only
	// atomic within a filesystem.
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}
	committed = true
	return nil
}

// WriteLocked takes the sibling ".lock" file, atomically writes data, and
// releases the lock.
func WriteLocked(path string, data []byte) error {
	lock := New(path + ".lock")
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release() //nolint:errcheck

	return AtomicWrite(path, data)
}

// ReadLocked takes the sibling ".lock" file and reads the file's content.
// A missing file yields (nil, nil).
func ReadLocked(path string) ([]byte, error) {
	lock := New(path + ".lock")
	if err := lock.Acquire(); err != nil {
		return nil, err
	}
	defer lock.Release() //nolint:errcheck

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
