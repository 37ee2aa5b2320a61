// Package procpool manages a bounded pool of reusable worker subprocesses.
//
// Spawning is the caller's job: Get either hands back an idle worker or
// grants a reservation to create a new one, and Adopt registers the spawned
// process against that reservation. The reservation keeps the pool's size
// accounting correct while the spawn is in flight.
package procpool

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/overseer/internal/logger"
)

// ErrPoolExhausted is returned when the pool is at capacity with no idle
// workers and no room for another reservation.
var ErrPoolExhausted = errors.New("process pool exhausted")

// Worker is a pooled subprocess handle.
type Worker struct {
	ID        string
	Cmd       *exec.Cmd
	CreatedAt time.Time
	LastUsed  time.Time
	uses      int
	exited    atomic.Bool
}

// MarkExited flags the worker's process as gone. A worker so flagged is
// discarded instead of being returned to the idle set.
func (w *Worker) MarkExited() {
	w.exited.Store(true)
}

// Alive reports whether the worker is believed to still have a live process.
func (w *Worker) Alive() bool {
	if w.exited.Load() {
		return false
	}
	if w.Cmd == nil || w.Cmd.Process == nil {
		return false
	}
	// Signal 0 probes existence without touching the process.
	return w.Cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Uses returns how many times the worker has been checked out.
func (w *Worker) Uses() int {
	return w.uses
}

// Stats tracks pool lifecycle counters.
type Stats struct {
	Created int `json:"created"`
	Reused  int `json:"reused"`
	Killed  int `json:"killed"`
}

// ReuseRate is the fraction of checkouts served by an existing worker.
func (s Stats) ReuseRate() float64 {
	total := s.Created + s.Reused
	if total == 0 {
		return 0
	}
	return float64(s.Reused) / float64(total)
}

// Pool bounds the number of concurrently live workers, preferring reuse of
// idle ones over spawning.
type Pool struct {
	mu       sync.Mutex
	maxSize  int
	idle     []*Worker
	busy     map[string]*Worker
	reserved int
	stats    Stats
	logger   logger.Logger
	now      func() time.Time
}

// New creates a Pool capped at maxSize live workers. The logger may be nil.
func New(maxSize int, log logger.Logger) *Pool {
	if maxSize <= 0 {
		maxSize = 4
	}
	return &Pool{
		maxSize: maxSize,
		busy:    make(map[string]*Worker),
		logger:  logger.OrNop(log),
		now:     time.Now,
	}
}

// Get checks out a worker. Three outcomes:
//
//   - (worker, nil): an idle worker was reused.
//   - (nil, nil): no idle worker, but capacity remains. The pool holds a
//     reservation for the caller, who must spawn a process and call Adopt,
//     or CancelReservation if the spawn fails.
//   - (nil, ErrPoolExhausted): at capacity.
func (p *Pool) Get() (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Pop from the tail until a live worker turns up. Dead idle workers
	// are dropped on the spot.
	for len(p.idle) > 0 {
		w := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if !w.Alive() {
			p.stats.Killed++
			p.logger.Debugf("procpool: discarding dead idle worker %s", w.ID)
			continue
		}
		w.LastUsed = p.now()
		w.uses++
		p.busy[w.ID] = w
		p.stats.Reused++
		return w, nil
	}

	if len(p.busy)+p.reserved >= p.maxSize {
		return nil, ErrPoolExhausted
	}
	p.reserved++
	return nil, nil
}

// Adopt registers a freshly spawned process against an outstanding
// reservation and returns it as a busy worker.
func (p *Pool) Adopt(cmd *exec.Cmd) *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reserved > 0 {
		p.reserved--
	}
	w := &Worker{
		ID:        uuid.NewString(),
		Cmd:       cmd,
		CreatedAt: p.now(),
		LastUsed:  p.now(),
		uses:      1,
	}
	p.busy[w.ID] = w
	p.stats.Created++
	p.logger.Debugf("procpool: adopted new worker %s (pid %d)", w.ID, pid(cmd))
	return w
}

// CancelReservation releases a reservation granted by Get after a failed
// spawn.
func (p *Pool) CancelReservation() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reserved > 0 {
		p.reserved--
	}
}

// Put returns a checked-out worker. Live workers rejoin the idle set; dead
// ones are dropped.
func (p *Pool) Put(w *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.busy, w.ID)
	if !w.Alive() {
		p.stats.Killed++
		p.logger.Debugf("procpool: dropping dead worker %s on return", w.ID)
		return
	}
	w.LastUsed = p.now()
	p.idle = append(p.idle, w)
}

// Discard drops a checked-out worker the caller cannot use. The reuse
// credit taken by Get is reversed so the stats only count workers that
// actually did work after checkout.
func (p *Pool) Discard(w *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.busy, w.ID)
	if p.stats.Reused > 0 {
		p.stats.Reused--
	}
	p.stats.Killed++
	p.logger.Debugf("procpool: discarded worker %s", w.ID)
}

// Cleanup terminates every worker, idle and busy alike. Each process gets
// SIGTERM, then SIGKILL if it is still around after the grace period.
func (p *Pool) Cleanup(grace time.Duration) {
	p.mu.Lock()
	workers := make([]*Worker, 0, len(p.idle)+len(p.busy))
	workers = append(workers, p.idle...)
	for _, w := range p.busy {
		workers = append(workers, w)
	}
	p.idle = nil
	p.busy = make(map[string]*Worker)
	p.reserved = 0
	p.mu.Unlock()

	var wg sync.WaitGroup
	killed := 0
	for _, w := range workers {
		if !w.Alive() {
			continue
		}
		killed++
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			p.terminate(w, grace)
		}(w)
	}
	wg.Wait()

	p.mu.Lock()
	p.stats.Killed += killed
	p.mu.Unlock()

	if killed > 0 {
		p.logger.Infof("procpool: cleaned up %d workers", killed)
	}
}

// terminate asks the process to exit, escalating to SIGKILL after grace.
func (p *Pool) terminate(w *Worker, grace time.Duration) {
	proc := w.Cmd.Process
	if proc == nil {
		return
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return
		}
		p.logger.Warnf("procpool: SIGTERM worker %s: %v", w.ID, err)
	}

	done := make(chan struct{})
	go func() {
		w.Cmd.Wait() //nolint:errcheck // exit status is irrelevant during teardown
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		p.logger.Warnf("procpool: worker %s ignored SIGTERM, killing", w.ID)
		if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Errorf("procpool: kill worker %s: %v", w.ID, err)
		}
		<-done
	}
	w.MarkExited()
}

// Snapshot returns current counters and occupancy.
func (p *Pool) Snapshot() (stats Stats, idle, busy int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats, len(p.idle), len(p.busy)
}

func pid(cmd *exec.Cmd) int {
	if cmd == nil || cmd.Process == nil {
		return -1
	}
	return cmd.Process.Pid
}

// Describe formats occupancy for status output.
func (p *Pool) Describe() string {
	stats, idle, busy := p.Snapshot()
	return fmt.Sprintf("%d idle, %d busy of %d max (reuse %.0f%%)",
		idle, busy, p.maxSize, stats.ReuseRate()*100)
}
