// Package breaker provides a circuit breaker guarding task execution from
// cascading downstream failures.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harrison/overseer/internal/logger"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker's admission state.
type State string

const (
	// StateClosed admits all calls.
	StateClosed State = "closed"
	// StateOpen rejects all calls until the open timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen admits exactly one probe call.
	StateHalfOpen State = "half_open"
)

// Breaker trips open after a run of consecutive failures and, after a
// cooldown, admits a single probe to decide whether to close again.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	threshold   int
	openTimeout time.Duration
	openedAt    time.Time
	probing     bool
	logger      logger.Logger
	now         func() time.Time
}

// New creates a closed Breaker that opens after threshold consecutive
// failures and stays open for openTimeout. The logger may be nil.
func New(threshold int, openTimeout time.Duration, log logger.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	return &Breaker{
		state:       StateClosed,
		threshold:   threshold,
		openTimeout: openTimeout,
		logger:      logger.OrNop(log),
		now:         time.Now,
	}
}

// Allow reports whether a call may proceed right now. In HALF_OPEN only one
// caller wins the probe slot; everyone else is rejected until the probe's
// outcome is recorded. Every admitted call must be followed by Record.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.openTimeout {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		b.logger.Infof("breaker: half-open, admitting probe")
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// Record reports the outcome of an admitted call. A nil err is a success.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		switch b.state {
		case StateHalfOpen:
			b.logger.Infof("breaker: probe succeeded, closing circuit")
			b.state = StateClosed
			b.failures = 0
		case StateClosed:
			b.failures = 0
		case StateOpen:
			// A straggler success from a call admitted before the trip.
			// The circuit stays open until the timeout elapses.
		}
		b.probing = false
		return
	}

	switch b.state {
	case StateHalfOpen:
		// Failed probe re-opens for a full timeout window.
		b.trip()
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.trip()
		}
	}
	b.probing = false
}

// trip moves to OPEN. Callers must hold b.mu.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures = 0
	b.logger.Warnf("breaker: circuit opened for %s", b.openTimeout)
}

// Call runs fn under the breaker, recording its outcome. A rejection
// returns ErrCircuitOpen without invoking fn.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	b.Record(err)
	if err != nil {
		return fmt.Errorf("call failed: %w", err)
	}
	return nil
}

// State returns the current admission state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
