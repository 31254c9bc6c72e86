package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jklevins/permrevert/internal/ledger"
)

var planCmd = &cobra.Command{
	Use:   "plan <operation-id>",
	Short: "Preview the rollback plan for an operation",
	Long: `Compute the inverse actions needed to undo an operation, without
executing anything. Actions whose target state already holds are filtered
out and reported as warnings.`,
	Args: cobra.ExactArgs(1),
	Run:  runPlan,
}

var planJSON bool

func init() {
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Output JSON")
}

func runPlan(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initFullContext(ctx)
	defer c.Close()

	plan, err := c.Processor.Plan(ctx, args[0])
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			exitError("operation not found: %s", args[0])
		}
		exitError("failed to generate plan: %v", err)
	}

	if planJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(plan)
		return
	}

	fmt.Printf("Rollback plan for %s (%s)\n", shortID(plan.OperationID), plan.RollbackType)
	if len(plan.Actions) == 0 {
		fmt.Println("Nothing to do: no actions required")
	}
	for _, a := range plan.Actions {
		fmt.Printf("  %-7s account %s (current state: %s)\n", a.ActionType, a.AccountID, a.CurrentState)
	}
	fmt.Printf("Estimated duration: %s\n", plan.EstimatedDuration)

	if len(plan.Warnings) > 0 {
		yellow := color.New(color.FgYellow)
		yellow.Println("warnings:")
		for _, w := range plan.Warnings {
			yellow.Printf("  - %s\n", w)
		}
	}
}
