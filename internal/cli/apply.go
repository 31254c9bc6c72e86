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
	"github.com/jklevins/permrevert/internal/rollback"
	"github.com/jklevins/permrevert/internal/verify"
)

var applyCmd = &cobra.Command{
	Use:   "apply <operation-id>",
	Short: "Roll back an operation",
	Long: `Execute the rollback plan for an operation: assignments made by the
operation are revoked, revocations are re-assigned. The original operation
is marked rolled back only when every action succeeds.`,
	Args: cobra.ExactArgs(1),
	Run:  runApply,
}

var (
	applyDryRun     bool
	applyBatchSize  int
	applySkipVerify bool
	applyJSON       bool
)

func init() {
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Preview without making changes")
	applyCmd.Flags().IntVar(&applyBatchSize, "batch-size", 0, "Actions per batch (default from config)")
	applyCmd.Flags().BoolVar(&applySkipVerify, "skip-verify", false, "Skip post-rollback verification")
	applyCmd.Flags().BoolVar(&applyJSON, "json", false, "Output JSON")
}

func runApply(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initFullContext(ctx)
	defer c.Close()

	batchSize := applyBatchSize
	if batchSize <= 0 {
		batchSize = c.Config.Rollback.BatchSize
	}

	result, err := c.Processor.Apply(ctx, args[0], rollback.ApplyOptions{
		DryRun:      applyDryRun,
		BatchSize:   batchSize,
		SkipVerify:  applySkipVerify,
		VerifyLevel: verify.Level(c.Config.Rollback.VerificationLevel),
	})
	if err != nil {
		var iv *rollback.IdempotencyViolationError
		if errors.As(err, &iv) {
			exitError("already rolled back by %s", iv.ExistingRollbackID)
		}
		var ve *rollback.ValidationError
		if errors.As(err, &ve) {
			exitError("%v", ve)
		}
		if errors.Is(err, ledger.ErrNotFound) {
			exitError("operation not found: %s", args[0])
		}
		exitError("rollback failed: %v", err)
	}

	if applyJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(result)
		return
	}

	if applyDryRun {
		fmt.Printf("Dry run: %d action(s) would be executed\n", result.CompletedActions)
		return
	}

	if result.Success {
		color.New(color.FgGreen).Printf("Rollback %s completed: %d action(s)\n",
			shortID(result.RollbackOperationID), result.CompletedActions)
	} else {
		color.New(color.FgRed).Printf("Rollback %s incomplete: %d completed, %d failed\n",
			shortID(result.RollbackOperationID), result.CompletedActions, result.FailedActions)
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
		os.Exit(1)
	}
}
