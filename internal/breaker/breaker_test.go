package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(3, time.Minute, nil)

	for i := 0; i < 2; i++ {
		require.True(t, b.Allow())
		b.Record(errBoom)
	}
	assert.Equal(t, StateClosed, b.State())

	require.True(t, b.Allow())
	b.Record(errBoom)
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(3, time.Minute, nil)

	require.True(t, b.Allow())
	b.Record(errBoom)
	require.True(t, b.Allow())
	b.Record(errBoom)
	require.True(t, b.Allow())
	b.Record(nil)

	assert.Equal(t, 0, b.Failures())
	require.True(t, b.Allow())
	b.Record(errBoom)
	assert.Equal(t, StateClosed, b.State())
}

func TestStragglerSuccessDoesNotCloseOpenCircuit(t *testing.T) {
	current := time.Now()
	b := New(2, 30*time.Second, nil)
	b.now = func() time.Time { return current }

	// Two calls admitted while closed; the concurrent failures trip the
	// circuit before the third call's success lands.
	require.True(t, b.Allow())
	require.True(t, b.Allow())
	require.True(t, b.Allow())
	b.Record(errBoom)
	b.Record(errBoom)
	require.Equal(t, StateOpen, b.State())

	b.Record(nil)
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow(), "circuit stays open until the timeout elapses")

	current = current.Add(31 * time.Second)
	assert.True(t, b.Allow(), "probe admitted only after the timeout")
}

func TestHalfOpenSingleProbe(t *testing.T) {
	current := time.Now()
	b := New(1, 30*time.Second, nil)
	b.now = func() time.Time { return current }

	require.True(t, b.Allow())
	b.Record(errBoom)
	require.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	current = current.Add(31 * time.Second)

	// Exactly one caller wins the probe slot.
	assert.True(t, b.Allow())
	assert.False(t, b.Allow())
	assert.False(t, b.Allow())

	b.Record(nil)
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestFailedProbeReopens(t *testing.T) {
	current := time.Now()
	b := New(1, 30*time.Second, nil)
	b.now = func() time.Time { return current }

	require.True(t, b.Allow())
	b.Record(errBoom)

	current = current.Add(31 * time.Second)
	require.True(t, b.Allow())
	b.Record(errBoom)

	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	// A fresh cooldown window applies after the failed probe.
	current = current.Add(31 * time.Second)
	assert.True(t, b.Allow())
}

func TestCallWrapsOutcome(t *testing.T) {
	b := New(1, time.Minute, nil)

	err := b.Call(context.Background(), func(context.Context) error { return errBoom })
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)

	err = b.Call(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
