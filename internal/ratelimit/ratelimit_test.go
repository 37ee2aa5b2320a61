package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireMinuteWindow(t *testing.T) {
	current := time.Now()
	l := New(2, 100, nil)
	l.now = func() time.Time { return current }

	assert.True(t, l.Acquire())
	assert.True(t, l.Acquire())
	assert.False(t, l.Acquire())

	// The window slides: 61 seconds later both slots have expired.
	current = current.Add(61 * time.Second)
	assert.True(t, l.Acquire())
}

func TestAcquireHourWindow(t *testing.T) {
	current := time.Now()
	l := New(0, 3, nil)
	l.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		require.True(t, l.Acquire())
	}
	assert.False(t, l.Acquire())

	// A minute is not enough for the hourly window to recover.
	current = current.Add(2 * time.Minute)
	assert.False(t, l.Acquire())

	current = current.Add(time.Hour)
	assert.True(t, l.Acquire())
}

func TestDisabledWindows(t *testing.T) {
	l := New(0, 0, nil)
	for i := 0; i < 50; i++ {
		require.True(t, l.Acquire())
	}
}

func TestUsageReflectsPruning(t *testing.T) {
	current := time.Now()
	l := New(5, 10, nil)
	l.now = func() time.Time { return current }

	require.True(t, l.Acquire())
	require.True(t, l.Acquire())

	usage := l.Usage()
	assert.Equal(t, 2, usage.MinuteUsed)
	assert.Equal(t, 2, usage.HourUsed)
	assert.Equal(t, 5, usage.MinuteLimit)

	current = current.Add(2 * time.Minute)
	usage = l.Usage()
	assert.Equal(t, 0, usage.MinuteUsed)
	assert.Equal(t, 2, usage.HourUsed)
}

func TestWaitForSlotImmediate(t *testing.T) {
	l := New(1, 0, nil)
	assert.True(t, l.WaitForSlot(context.Background(), time.Second))
}

func TestWaitForSlotTimesOut(t *testing.T) {
	l := New(1, 0, nil)
	require.True(t, l.Acquire())

	start := time.Now()
	ok := l.WaitForSlot(context.Background(), 300*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestWaitForSlotHonorsContext(t *testing.T) {
	l := New(1, 0, nil)
	require.True(t, l.Acquire())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, l.WaitForSlot(ctx, time.Minute))
}
