package filelock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")
	lock := New(path)

	require.NoError(t, lock.Acquire())
	require.NoError(t, lock.Release())
}

func TestTryAcquireContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")

	first := New(path)
	require.NoError(t, first.Acquire())
	defer first.Release() //nolint:errcheck

	// flock locks are per file handle, so a second Lock over the same
	// path models a second process.
	second := New(path)
	ok, err := second.TryAcquire()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, first.Release())
	ok, err = second.TryAcquire()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Release())
}

func TestAtomicWriteCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "state.json")

	require.NoError(t, AtomicWrite(path, []byte(`{"ok":true}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))
}

func TestAtomicWriteReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	require.NoError(t, AtomicWrite(path, []byte("first")))
	require.NoError(t, AtomicWrite(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	// No stray temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteLockedReadLockedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")

	require.NoError(t, WriteLocked(path, []byte("payload")))

	data, err := ReadLocked(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestReadLockedMissingFile(t *testing.T) {
	data, err := ReadLocked(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Nil(t, data)
}
