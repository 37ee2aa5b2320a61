package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/overseer/internal/config"
	"github.com/harrison/overseer/internal/models"
	"github.com/harrison/overseer/internal/snapshot"
)

// NewStatusCommand creates the status command
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last persisted orchestrator state",
		Long: `Read the snapshot database and print the most recent queue statistics
along with any failed tasks from the last run.`,
		Args: cobra.NoArgs,
		RunE: statusCommand,
	}
	cmd.Flags().String("config", "", "Path to config file (default: .overseer/config.yaml)")
	cmd.Flags().String("db", "", "Snapshot database path (overrides config)")
	return cmd
}

func statusCommand(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
	} else {
		cfg, err = config.LoadConfigFromDir(".")
	}
	if err != nil {
		return err
	}

	dbPath := cfg.Snapshot.Path
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		dbPath = v
	}

	store, err := snapshot.NewStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.LatestStats()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if stats == nil {
		fmt.Fprintln(out, "No snapshots recorded yet.")
		return nil
	}

	fmt.Fprintf(out, "Last snapshot: %s\n", stats.RecordedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "  Total tasks: %d\n", stats.TotalTasks)
	fmt.Fprintf(out, "  Pending: %d\n", stats.PendingTasks)
	fmt.Fprintf(out, "  Running: %d\n", stats.RunningTasks)
	fmt.Fprintf(out, "  Completed: %d\n", stats.CompletedTasks)
	fmt.Fprintf(out, "  In flight: %d\n", stats.InFlight)
	if stats.BreakerState != "" {
		fmt.Fprintf(out, "  Breaker: %s\n", stats.BreakerState)
	}

	for _, status := range []models.Status{models.StatusFailed, models.StatusTimeout, models.StatusCancelled} {
		rows, err := store.TasksByStatus(status)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(out, "\n%s tasks:\n", status)
		for _, r := range rows {
			fmt.Fprintf(out, "  - %s (%s, retries %d/%d)\n", r.Title, r.ID, r.RetryCount, r.MaxRetries)
		}
	}
	return nil
}
