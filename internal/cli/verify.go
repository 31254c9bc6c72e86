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
	"github.com/jklevins/permrevert/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <rollback-id>",
	Short: "Verify a completed rollback against live state",
	Args:  cobra.ExactArgs(1),
	Run:   runVerify,
}

var (
	verifyLevel string
	verifyJSON  bool
)

func init() {
	verifyCmd.Flags().StringVar(&verifyLevel, "level", "basic", "Verification level: basic, detailed, or comprehensive")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "Output JSON")
}

func runVerify(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initFullContext(ctx)
	defer c.Close()

	result, err := c.Processor.VerifyRollback(ctx, args[0], verify.Level(verifyLevel))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			exitError("rollback not found: %s", args[0])
		}
		exitError("verification failed: %v", err)
	}

	if verifyJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(result)
		return
	}

	if result.Verified {
		color.New(color.FgGreen).Printf("rollback %s verified\n", shortID(result.RollbackID))
	} else {
		color.New(color.FgRed).Printf("rollback %s has %d mismatch(es)\n",
			shortID(result.RollbackID), len(result.Mismatches))
		for _, m := range result.Mismatches {
			fmt.Printf("  - account %s: expected %s, found %s\n", m.AccountID, m.Expected, m.Actual)
		}
	}
	if len(result.Warnings) > 0 {
		yellow := color.New(color.FgYellow)
		for _, w := range result.Warnings {
			yellow.Printf("  - %s\n", w)
		}
	}
	if !result.Verified {
		os.Exit(1)
	}
}
