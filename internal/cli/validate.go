package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <operation-id>",
	Short: "Check whether an operation can be rolled back",
	Args:  cobra.ExactArgs(1),
	Run:   runValidate,
}

var validateJSON bool

func init() {
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Output JSON")
}

func runValidate(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initFullContext(ctx)
	defer c.Close()

	result, err := c.Processor.Validate(ctx, args[0])
	if err != nil {
		exitError("validation failed: %v", err)
	}

	if validateJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(result)
		return
	}

	if result.Valid {
		color.New(color.FgGreen).Printf("operation %s can be rolled back\n", shortID(result.OperationID))
	} else {
		color.New(color.FgRed).Printf("operation %s cannot be rolled back\n", shortID(result.OperationID))
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	if len(result.Warnings) > 0 {
		yellow := color.New(color.FgYellow)
		yellow.Println("warnings:")
		for _, w := range result.Warnings {
			yellow.Printf("  - %s\n", w)
		}
	}
	if !result.Valid {
		os.Exit(1)
	}
}
