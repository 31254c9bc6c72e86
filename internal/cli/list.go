package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jklevins/permrevert/internal/ledger"
	"github.com/jklevins/permrevert/internal/models"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded operations",
	Long:  `List operations from the ledger, newest first.`,
	Run:   runList,
}

var (
	listType          string
	listPrincipal     string
	listPermissionSet string
	listSinceDays     int
	listLimit         int
	listJSON          bool
)

func init() {
	listCmd.Flags().StringVar(&listType, "type", "", "Filter by operation type (assign or revoke)")
	listCmd.Flags().StringVar(&listPrincipal, "principal", "", "Filter by principal id or name")
	listCmd.Flags().StringVar(&listPermissionSet, "permission-set", "", "Filter by permission set ARN or name")
	listCmd.Flags().IntVar(&listSinceDays, "since-days", 0, "Only operations from the last N days")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "Limit the number of operations shown")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output JSON")
}

func runList(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	records, err := c.Processor.List(ledger.Query{
		Type:          models.OperationType(listType),
		Principal:     listPrincipal,
		PermissionSet: listPermissionSet,
		SinceDays:     listSinceDays,
		Limit:         listLimit,
	})
	if err != nil {
		exitError("failed to list operations: %v", err)
	}

	if listJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(records)
		return
	}

	if len(records) == 0 {
		fmt.Println("No operations recorded")
		return
	}

	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	for _, rec := range records {
		yellow.Printf("%s ", rec.ShortID())
		fmt.Printf("%-7s %s -> %s (%d accounts) %s",
			rec.Type, rec.PrincipalName, rec.PermissionSetName,
			len(rec.AccountIDs), rec.Timestamp.Format("2006-01-02 15:04"))
		if rec.RolledBack {
			red.Printf(" [rolled back by %s]", shortID(rec.RollbackOperationID))
		}
		failed := len(rec.Results) - len(rec.SuccessfulResults())
		if failed > 0 {
			red.Printf(" [%d failed]", failed)
		}
		fmt.Println()
	}
}
