package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleValidation(t *testing.T) {
	s := New(nil)

	assert.Error(t, s.Schedule("bad-interval", 0, func(context.Context) error { return nil }))
	assert.Error(t, s.Schedule("nil-fn", time.Second, nil))

	require.NoError(t, s.Schedule("ok", time.Second, func(context.Context) error { return nil }))
	assert.Error(t, s.Schedule("ok", time.Second, func(context.Context) error { return nil }),
		"duplicate names are rejected")
}

func TestFirstRunIsImmediatelyDue(t *testing.T) {
	s := New(nil)

	var runs atomic.Int32
	require.NoError(t, s.Schedule("counter", time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	// Drive a tick directly rather than waiting on the real ticker.
	s.runDue(context.Background())
	assert.Equal(t, int32(1), runs.Load())

	// A long interval means the second tick does nothing.
	s.runDue(context.Background())
	assert.Equal(t, int32(1), runs.Load())
}

func TestIntervalRescheduling(t *testing.T) {
	s := New(nil)
	current := time.Now()
	s.now = func() time.Time { return current }

	var runs atomic.Int32
	require.NoError(t, s.Schedule("periodic", 10*time.Second, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.runDue(context.Background())
	require.Equal(t, int32(1), runs.Load())

	current = current.Add(5 * time.Second)
	s.runDue(context.Background())
	assert.Equal(t, int32(1), runs.Load(), "not yet due")

	current = current.Add(6 * time.Second)
	s.runDue(context.Background())
	assert.Equal(t, int32(2), runs.Load())
}

func TestErrorsAreSwallowed(t *testing.T) {
	s := New(nil)
	current := time.Now()
	s.now = func() time.Time { return current }

	require.NoError(t, s.Schedule("failing", time.Second, func(context.Context) error {
		return errors.New("persistent failure")
	}))

	s.runDue(context.Background())
	current = current.Add(2 * time.Second)
	s.runDue(context.Background())

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, 2, jobs[0].Runs)
	assert.Equal(t, 2, jobs[0].Failures)
}

func TestPanicIsRecovered(t *testing.T) {
	s := New(nil)
	current := time.Now()
	s.now = func() time.Time { return current }

	var healthyRuns atomic.Int32
	require.NoError(t, s.Schedule("panicky", time.Second, func(context.Context) error {
		panic("job blew up")
	}))
	require.NoError(t, s.Schedule("healthy", time.Second, func(context.Context) error {
		healthyRuns.Add(1)
		return nil
	}))

	s.runDue(context.Background())
	current = current.Add(2 * time.Second)
	s.runDue(context.Background())

	assert.Equal(t, int32(2), healthyRuns.Load(), "a panicking job must not starve others")
}

func TestStartStopLifecycle(t *testing.T) {
	s := New(nil)

	var runs atomic.Int32
	require.NoError(t, s.Schedule("ticker-driven", time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start(context.Background())
	s.Start(context.Background()) // idempotent

	assert.Eventually(t, func() bool { return runs.Load() == 1 },
		3*time.Second, 50*time.Millisecond)

	s.Stop()
	s.Stop() // idempotent

	after := runs.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after Stop")
}

func TestUnschedule(t *testing.T) {
	s := New(nil)

	require.NoError(t, s.Schedule("gone", time.Second, func(context.Context) error { return nil }))
	assert.True(t, s.Unschedule("gone"))
	assert.False(t, s.Unschedule("gone"))
	assert.Empty(t, s.Jobs())
}
