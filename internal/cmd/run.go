package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/overseer/internal/agent"
	"github.com/harrison/overseer/internal/breaker"
	"github.com/harrison/overseer/internal/cache"
	"github.com/harrison/overseer/internal/config"
	"github.com/harrison/overseer/internal/coordinator"
	"github.com/harrison/overseer/internal/logger"
	"github.com/harrison/overseer/internal/models"
	"github.com/harrison/overseer/internal/parser"
	"github.com/harrison/overseer/internal/procpool"
	"github.com/harrison/overseer/internal/queue"
	"github.com/harrison/overseer/internal/ratelimit"
	"github.com/harrison/overseer/internal/scheduler"
	"github.com/harrison/overseer/internal/snapshot"
	"github.com/harrison/overseer/internal/tokens"
	"github.com/harrison/overseer/internal/workspace"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <plan-file>",
		Short: "Execute a task plan",
		Long: `Execute a task plan by submitting its tasks to the orchestration engine.

The run command parses the plan file (Markdown or YAML), validates the
dependency graph, submits the tasks in dependency order, and dispatches
them until every task reaches a terminal state.

Configuration is loaded from .overseer/config.yaml if present.
CLI flags override configuration file settings.

Examples:
  overseer run plan.md
  overseer run --max-concurrency 8 plan.yaml
  overseer run --timeout 30m --log-level debug plan.md
  overseer run --agent-command claude plan.md`,
		Args: cobra.ExactArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .overseer/config.yaml)")
	cmd.Flags().Int("max-concurrency", -1, "Maximum number of concurrent tasks (-1 = use config)")
	cmd.Flags().String("timeout", "", "Default per-task timeout (e.g. 30m, 2h)")
	cmd.Flags().String("log-dir", "", "Directory for log files")
	cmd.Flags().String("log-level", "", "Log verbosity (debug, info, warn, error)")
	cmd.Flags().String("agent-command", "", "Agent executable for agent tasks (overrides pool.command)")

	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
	} else {
		cfg, err = config.LoadConfigFromDir(".")
	}
	if err != nil {
		return nil, err
	}

	var maxConc *int
	if v, _ := cmd.Flags().GetInt("max-concurrency"); v >= 0 {
		maxConc = &v
	}
	var timeout *time.Duration
	if raw, _ := cmd.Flags().GetString("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", raw, err)
		}
		timeout = &d
	}
	var logDir *string
	if v, _ := cmd.Flags().GetString("log-dir"); v != "" {
		logDir = &v
	}
	var logLevel *string
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		logLevel = &v
	}
	cfg.MergeWithFlags(maxConc, timeout, logDir, logLevel)

	if v, _ := cmd.Flags().GetString("agent-command"); v != "" {
		cfg.Pool.Command = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildLogger assembles the console logger plus a file logger when a log
// directory is configured.
func buildLogger(cfg *config.Config) (logger.Logger, func()) {
	console := logger.NewConsoleLogger(os.Stderr, cfg.LogLevel)
	if cfg.LogDir == "" {
		return console, func() {}
	}
	file := logger.NewFileLogger(cfg.LogDir, "debug")
	return logger.Multi(console, file), func() { file.Close() }
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, closeLog := buildLogger(cfg)
	defer closeLog()

	plan, err := parser.ParseFile(args[0])
	if err != nil {
		return err
	}
	log.Infof("loaded plan %q with %d tasks", plan.Name, len(plan.Tasks))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Shared resources.
	q := queue.New(log)
	brk := breaker.New(cfg.Breaker.FailureThreshold, cfg.Breaker.OpenTimeout, log)
	coord := coordinator.New(q, brk, coordinator.Options{
		MaxConcurrent: cfg.MaxConcurrency,
		PollInterval:  cfg.PollInterval,
	}, log)

	limiter := ratelimit.New(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.RequestsPerHour, log)
	pool := procpool.New(cfg.Pool.MaxWorkers, log)
	defer pool.Cleanup(cfg.Pool.ShutdownGrace)

	var respCache *cache.Cache
	if cfg.Cache.Enabled {
		respCache, err = cache.New(cfg.Cache.Size, log)
		if err != nil {
			return fmt.Errorf("create cache: %w", err)
		}
	}

	ws, err := workspace.NewManager(cfg.WorkspaceDir, log)
	if err != nil {
		return err
	}
	estimator := tokens.New(cfg.Model, log)

	if err := registerHandlers(coord, cfg, limiter, pool, respCache, estimator, ws, log); err != nil {
		return err
	}

	// Background maintenance: periodic snapshots and workspace reaping.
	sched := scheduler.New(log)
	var store *snapshot.Store
	if cfg.Snapshot.Enabled {
		store, err = snapshot.NewStore(cfg.Snapshot.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := sched.Schedule("snapshot", cfg.Snapshot.Interval, func(context.Context) error {
			status := coord.Status()
			if err := store.SaveQueueStats(status.Queue, status.InFlight, status.Breaker); err != nil {
				return err
			}
			return store.SaveAll(q.Tasks(), q.Result)
		}); err != nil {
			return err
		}
	}
	if err := sched.Schedule("workspace-reaper", 10*time.Minute, func(context.Context) error {
		ws.CleanupExpired(24 * time.Hour)
		return nil
	}); err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	ids, err := submitPlan(coord, cfg, plan)
	if err != nil {
		return err
	}

	start := time.Now()
	coord.Start(ctx)
	waitErr := coord.Wait(ctx)
	coord.Stop(cfg.Pool.ShutdownGrace)

	if store != nil {
		// Final snapshot regardless of the periodic job's phase.
		status := coord.Status()
		if err := store.SaveQueueStats(status.Queue, status.InFlight, status.Breaker); err != nil {
			log.Warnf("final snapshot: %v", err)
		}
		if err := store.SaveAll(q.Tasks(), q.Result); err != nil {
			log.Warnf("final snapshot: %v", err)
		}
	}

	if waitErr != nil {
		return fmt.Errorf("execution interrupted: %w", waitErr)
	}
	return printSummary(cmd, q, plan, ids, time.Since(start))
}

// registerHandlers binds the task handlers the plan can reference: "shell"
// runs descriptions as shell commands, "agent" (the default) invokes the
// configured agent CLI.
func registerHandlers(coord *coordinator.Coordinator, cfg *config.Config,
	limiter *ratelimit.Limiter, pool *procpool.Pool, respCache *cache.Cache,
	estimator *tokens.Estimator, ws *workspace.Manager, log logger.Logger) error {

	shell, err := agent.NewRunner(agent.Config{
		Command:  "sh",
		Args:     []string{"-c"},
		RateWait: cfg.RateLimit.WaitTimeout,
	}, limiter, pool, nil, estimator, ws, log)
	if err != nil {
		return err
	}
	if err := coord.RegisterHandler("shell", shell.Handler()); err != nil {
		return err
	}

	if cfg.Pool.Command == "" {
		return nil
	}
	runner, err := agent.NewRunner(agent.Config{
		Command:  cfg.Pool.Command,
		Args:     cfg.Pool.Args,
		RateWait: cfg.RateLimit.WaitTimeout,
	}, limiter, pool, respCache, estimator, ws, log)
	if err != nil {
		return err
	}
	return coord.RegisterHandler("agent", runner.Handler())
}

// submitPlan submits tasks in dependency order, mapping plan-local task
// numbers to generated task ids. Returns the number->id mapping.
func submitPlan(coord *coordinator.Coordinator, cfg *config.Config, plan *models.Plan) (map[int]string, error) {
	ordered, err := plan.ExecutionOrder()
	if err != nil {
		return nil, err
	}

	defaultHandler := "shell"
	if cfg.Pool.Command != "" {
		defaultHandler = "agent"
	}

	ids := make(map[int]string, len(ordered))
	for _, pt := range ordered {
		handlerKey := pt.Handler
		if handlerKey == "" {
			handlerKey = defaultHandler
		}

		opts := []coordinator.TaskOption{
			coordinator.WithPriority(pt.Priority),
			coordinator.WithMaxRetries(cfg.MaxRetries),
		}
		if pt.MaxRetries != nil {
			opts = append(opts, coordinator.WithMaxRetries(*pt.MaxRetries))
		}
		if pt.Agent != "" {
			// Informational for the handler; routing stays on the
			// handler key.
			opts = append(opts, coordinator.WithMetadata(map[string]any{"agent": pt.Agent}))
		}
		if len(pt.Tags) > 0 {
			opts = append(opts, coordinator.WithTags(pt.Tags...))
		}
		timeout := cfg.Timeout
		if pt.Timeout > 0 {
			timeout = pt.Timeout
		}
		if timeout > 0 {
			opts = append(opts, coordinator.WithTimeout(timeout))
		}

		depType := models.DepCompletion
		if pt.RequireSuccess {
			depType = models.DepSuccess
		}
		var deps []models.Dependency
		for _, depNum := range pt.DependsOn {
			depID, ok := ids[depNum]
			if !ok {
				return nil, fmt.Errorf("task %d depends on unsubmitted task %d", pt.Number, depNum)
			}
			deps = append(deps, models.Dependency{TaskID: depID, Type: depType, Required: true})
		}
		if len(deps) > 0 {
			opts = append(opts, coordinator.WithDependencies(deps...))
		}

		id, err := coord.Submit(pt.Title, pt.Description, handlerKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("submit task %d: %w", pt.Number, err)
		}
		ids[pt.Number] = id
	}
	return ids, nil
}

// printSummary writes the run outcome and returns an error when any task
// did not complete, so the process exit code reflects the run.
func printSummary(cmd *cobra.Command, q *queue.Queue, plan *models.Plan, ids map[int]string, elapsed time.Duration) error {
	numbers := make([]int, 0, len(ids))
	for n := range ids {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	completed, failed := 0, 0
	type failure struct {
		number int
		title  string
		status models.Status
		errMsg string
	}
	var failures []failure

	for _, n := range numbers {
		task := q.Get(ids[n])
		if task == nil {
			continue
		}
		if task.Status == models.StatusCompleted {
			completed++
			continue
		}
		failed++
		errMsg := ""
		if result := q.Result(task.ID); result != nil {
			errMsg = result.Error
		}
		failures = append(failures, failure{n, task.Title, task.Status, errMsg})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nExecution Summary:\n")
	fmt.Fprintf(out, "  Total tasks: %d\n", len(ids))
	fmt.Fprintf(out, "  Completed: %d\n", completed)
	fmt.Fprintf(out, "  Failed: %d\n", failed)
	fmt.Fprintf(out, "  Total duration: %s\n", elapsed.Round(time.Second))

	if len(failures) > 0 {
		fmt.Fprintf(out, "\nFailed Tasks:\n")
		for _, f := range failures {
			fmt.Fprintf(out, "  - Task %d: %s (%s)", f.number, f.title, f.status)
			if f.errMsg != "" {
				fmt.Fprintf(out, ": %s", f.errMsg)
			}
			fmt.Fprintln(out)
		}
		return fmt.Errorf("%d of %d tasks did not complete", failed, len(ids))
	}
	return nil
}
