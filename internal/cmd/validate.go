package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/overseer/internal/parser"
)

// NewValidateCommand creates the validate command
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan-file>",
		Short: "Validate a task plan without executing it",
		Long: `Parse the plan file and check task numbering, handler references,
dependency references, and dependency-graph acyclicity.

Exits nonzero when the plan is invalid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := parser.ParseFile(args[0])
			if err != nil {
				return err
			}

			ordered, err := plan.ExecutionOrder()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Plan %q is valid: %d tasks\n", plan.Name, len(plan.Tasks))
			fmt.Fprintf(out, "Execution order:\n")
			for _, pt := range ordered {
				fmt.Fprintf(out, "  %d. %s (priority %s", pt.Number, pt.Title, pt.Priority)
				if len(pt.DependsOn) > 0 {
					fmt.Fprintf(out, ", after %v", pt.DependsOn)
				}
				fmt.Fprintln(out, ")")
			}
			return nil
		},
	}
}
