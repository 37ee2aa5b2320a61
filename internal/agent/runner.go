// Package agent executes tasks by shelling out to an agent CLI. The runner
// threads every attempt through the orchestrator's shared resources: the
// response cache, the rate limiter, the worker pool, and a scratch
// workspace session.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/harrison/overseer/internal/cache"
	"github.com/harrison/overseer/internal/coordinator"
	"github.com/harrison/overseer/internal/logger"
	"github.com/harrison/overseer/internal/models"
	"github.com/harrison/overseer/internal/procpool"
	"github.com/harrison/overseer/internal/ratelimit"
	"github.com/harrison/overseer/internal/tokens"
	"github.com/harrison/overseer/internal/workspace"
)

// Config tunes the agent runner.
type Config struct {
	// Command is the agent executable.
	Command string
	// Args are prepended to every invocation; the prompt is appended
	// after them.
	Args []string
	// RateWait is how long an attempt waits for a rate-limit slot.
	RateWait time.Duration
}

// Runner turns tasks into agent CLI invocations.
type Runner struct {
	cfg       Config
	limiter   *ratelimit.Limiter
	pool      *procpool.Pool
	cache     *cache.Cache // nil disables caching
	estimator *tokens.Estimator
	ws        *workspace.Manager
	logger    logger.Logger
}

// NewRunner wires a Runner. The cache may be nil to disable response
// caching; everything else is required.
func NewRunner(cfg Config, limiter *ratelimit.Limiter, pool *procpool.Pool,
	respCache *cache.Cache, estimator *tokens.Estimator, ws *workspace.Manager,
	log logger.Logger) (*Runner, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("agent command is required")
	}
	if cfg.RateWait <= 0 {
		cfg.RateWait = 2 * time.Minute
	}
	return &Runner{
		cfg:       cfg,
		limiter:   limiter,
		pool:      pool,
		cache:     respCache,
		estimator: estimator,
		ws:        ws,
		logger:    logger.OrNop(log),
	}, nil
}

// Handler returns the coordinator handler executing tasks through this
// runner.
func (r *Runner) Handler() coordinator.Handler {
	return r.Run
}

// Run executes one attempt of a task.
func (r *Runner) Run(ctx context.Context, task *models.Task) (*models.TaskResult, error) {
	prompt := task.Description
	if prompt == "" {
		prompt = task.Title
	}

	if r.cache != nil {
		if entry, ok := r.cache.Get(prompt); ok {
			r.logger.Infof("agent: task %s served from cache", task.ID)
			return &models.TaskResult{
				TaskID:  task.ID,
				Success: true,
				Output:  entry.Response,
				Metadata: map[string]any{
					"cache_hit": true,
					"cached_at": entry.CachedAt,
				},
			}, nil
		}
	}

	if r.limiter != nil && !r.limiter.WaitForSlot(ctx, r.cfg.RateWait) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &coordinator.RateLimitTimeoutError{Waited: r.cfg.RateWait}
	}

	session, err := r.ws.CreateSession(task.ID)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer r.ws.CleanupSession(session.SessionID)

	output, duration, err := r.invoke(ctx, task, session, prompt)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			// The agent ran and said no. That is a verdict, not a
			// transient failure.
			return &models.TaskResult{
				TaskID:   task.ID,
				Success:  false,
				Output:   output,
				Error:    fmt.Sprintf("agent exited with code %d", exitErr.ExitCode()),
				Duration: duration,
				Metadata: map[string]any{"exit_code": exitErr.ExitCode()},
			}, nil
		}
		return nil, err
	}

	metadata := map[string]any{
		"session_id": session.SessionID,
		"exit_code":  0,
	}
	if r.estimator != nil {
		metadata["prompt_tokens"] = r.estimator.Estimate(prompt)
		metadata["output_tokens"] = r.estimator.Estimate(output)
	}

	if r.cache != nil {
		r.cache.Set(prompt, output, map[string]any{"task_id": task.ID})
	}

	return &models.TaskResult{
		TaskID:   task.ID,
		Success:  true,
		Output:   output,
		Duration: duration,
		Metadata: metadata,
	}, nil
}

// invoke runs the agent process inside the session workspace, streaming
// both output channels to the log while collecting stdout.
func (r *Runner) invoke(ctx context.Context, task *models.Task, session *workspace.Session, prompt string) (string, time.Duration, error) {
	reserved, err := r.acquireSlot()
	if err != nil {
		return "", 0, err
	}

	args := append(append([]string{}, r.cfg.Args...), prompt)
	cmd := exec.CommandContext(ctx, r.cfg.Command, args...)
	cmd.Dir = session.WorkspacePath

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.releaseSlot(reserved, nil)
		return "", 0, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.releaseSlot(reserved, nil)
		return "", 0, fmt.Errorf("stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		r.releaseSlot(reserved, nil)
		return "", 0, fmt.Errorf("start agent: %w", err)
	}

	var worker *procpool.Worker
	if r.pool != nil {
		worker = r.pool.Adopt(cmd)
	}

	var sb strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			sb.WriteString(line)
			sb.WriteByte('\n')
			r.logger.Debugf("agent[%s]: %s", task.ID, line)
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			r.logger.Warnf("agent[%s]: %s", task.ID, scanner.Text())
		}
	}()

	// Pipes must be drained before Wait.
	wg.Wait()
	waitErr := cmd.Wait()
	duration := time.Since(start)

	r.releaseSlot(false, worker)

	if ctx.Err() != nil {
		return strings.TrimRight(sb.String(), "\n"), duration, ctx.Err()
	}
	if waitErr != nil {
		return strings.TrimRight(sb.String(), "\n"), duration, waitErr
	}
	return strings.TrimRight(sb.String(), "\n"), duration, nil
}

// acquireSlot claims pool capacity for one process. The pool only ever
// grants reservations here: one-shot agent processes never rejoin the idle
// set alive, so there is nothing to reuse.
func (r *Runner) acquireSlot() (bool, error) {
	if r.pool == nil {
		return false, nil
	}
	for {
		w, err := r.pool.Get()
		if err != nil {
			// At capacity: surface as a retryable attempt failure.
			return false, fmt.Errorf("agent: %w", err)
		}
		if w == nil {
			return true, nil
		}
		// A live idle worker can only be a leftover from an aborted
		// attempt. Discard it and try again.
		w.MarkExited()
		r.pool.Discard(w)
	}
}

// releaseSlot returns capacity after an attempt: either the unused
// reservation or the finished worker.
func (r *Runner) releaseSlot(reserved bool, worker *procpool.Worker) {
	if r.pool == nil {
		return
	}
	if worker != nil {
		worker.MarkExited()
		r.pool.Put(worker)
		return
	}
	if reserved {
		r.pool.CancelReservation()
	}
}
