// Package ratelimit implements a dual sliding-window admission limiter with
// per-minute and per-hour request budgets.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/harrison/overseer/internal/logger"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour

	// Polling granularity for WaitForSlot. Coarse enough to stay cheap,
	// fine enough that a freed slot is picked up promptly.
	pollInterval = 250 * time.Millisecond
)

// Limiter admits a request only when both the trailing-minute and
// trailing-hour windows have budget left. Timestamps are pruned lazily on
// each admission check.
type Limiter struct {
	mu            sync.Mutex
	perMinute     int
	perHour       int
	minuteEntries []time.Time
	hourEntries   []time.Time
	logger        logger.Logger
	now           func() time.Time
}

// New creates a Limiter. A non-positive limit disables that window.
// The logger may be nil.
func New(perMinute, perHour int, log logger.Logger) *Limiter {
	return &Limiter{
		perMinute: perMinute,
		perHour:   perHour,
		logger:    logger.OrNop(log),
		now:       time.Now,
	}
}

// Acquire consumes one slot if both windows have budget. It never blocks;
// a false return means the caller should back off or use WaitForSlot.
func (l *Limiter) Acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	if l.perMinute > 0 && len(l.minuteEntries) >= l.perMinute {
		return false
	}
	if l.perHour > 0 && len(l.hourEntries) >= l.perHour {
		return false
	}

	l.minuteEntries = append(l.minuteEntries, now)
	l.hourEntries = append(l.hourEntries, now)
	return true
}

// WaitForSlot polls Acquire until it succeeds, the timeout elapses, or ctx
// is done. Returns true only when a slot was acquired.
func (l *Limiter) WaitForSlot(ctx context.Context, timeout time.Duration) bool {
	if l.Acquire() {
		return true
	}

	l.logger.Debugf("ratelimit: waiting up to %s for a slot", timeout)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			l.logger.Warnf("ratelimit: timed out after %s waiting for a slot", timeout)
			return false
		case <-ticker.C:
			if l.Acquire() {
				return true
			}
		}
	}
}

// pruneLocked drops timestamps that fell out of their windows.
func (l *Limiter) pruneLocked(now time.Time) {
	l.minuteEntries = pruneBefore(l.minuteEntries, now.Add(-minuteWindow))
	l.hourEntries = pruneBefore(l.hourEntries, now.Add(-hourWindow))
}

func pruneBefore(entries []time.Time, cutoff time.Time) []time.Time {
	// Entries are appended in order, so find the first survivor.
	idx := 0
	for idx < len(entries) && !entries[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return entries
	}
	return append(entries[:0], entries[idx:]...)
}

// Usage reports current consumption of both windows.
type Usage struct {
	MinuteUsed  int `json:"minute_used"`
	MinuteLimit int `json:"minute_limit"`
	HourUsed    int `json:"hour_used"`
	HourLimit   int `json:"hour_limit"`
}

// Usage returns a point-in-time view of window consumption.
func (l *Limiter) Usage() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(l.now())
	return Usage{
		MinuteUsed:  len(l.minuteEntries),
		MinuteLimit: l.perMinute,
		HourUsed:    len(l.hourEntries),
		HourLimit:   l.perHour,
	}
}
