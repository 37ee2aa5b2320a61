// Package cmd wires the overseer CLI.
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for overseer
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overseer",
		Short: "Priority-aware task orchestration engine",
		Long: `Overseer executes task plans through a dependency-aware priority queue.

It parses plan files (Markdown or YAML), submits tasks with their
dependencies, and dispatches them to handlers under a concurrency bound,
with retry budgets, per-task timeouts, rate limiting, and a circuit
breaker guarding the downstream agent.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewStatusCommand())

	return cmd
}
