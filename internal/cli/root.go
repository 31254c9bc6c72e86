// Package cli implements the command-line interface for permrevert.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jklevins/permrevert/internal/config"
	"github.com/jklevins/permrevert/internal/ledger"
	"github.com/jklevins/permrevert/internal/rollback"
	"github.com/jklevins/permrevert/internal/ssoapi"
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config    *config.Config
	Store     ledger.Store
	Client    ssoapi.AdminClient
	Logger    *zap.Logger
	Processor *rollback.Processor
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Store != nil {
		c.Store.Close()
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
}

// initContext initializes config, logger, and the ledger store (no client)
func initContext() *cmdContext {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}

	logger := newLogger()

	st, err := openStore(cfg)
	if err != nil {
		exitError("failed to open ledger: %v", err)
	}

	c := &cmdContext{Config: cfg, Store: st, Logger: logger}
	c.Processor = rollback.NewProcessor(st, nil, logger)
	return c
}

// initFullContext additionally connects the Identity Center client
func initFullContext(ctx context.Context) *cmdContext {
	c := initContext()

	client, err := ssoapi.NewClient(ctx, c.Config.InstanceARN, c.Config.Region)
	if err != nil {
		c.Close()
		exitError("failed to create Identity Center client: %v", err)
	}
	c.Client = client
	c.Processor = rollback.NewProcessor(c.Store, client, c.Logger)
	applyThresholds(c)
	return c
}

// applyThresholds copies configured partial-failure thresholds onto the
// recovery executor.
func applyThresholds(c *cmdContext) {
	ex := c.Processor.Executor()
	if t := c.Config.Rollback.ContinueThreshold; t > 0 {
		ex.ContinueThreshold = t
	}
	if t := c.Config.Rollback.AbortThreshold; t > 0 {
		ex.AbortThreshold = t
	}
}

// openStore selects the ledger backend from config.
func openStore(cfg *config.Config) (ledger.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		return ledger.NewSQLStore(cfg.DatabasePath())
	case config.BackendJSON, "":
		return ledger.NewFileStore(cfg.StorageRoot())
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// newLogger builds the process logger; --verbose enables debug output.
func newLogger() *zap.Logger {
	if verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			return logger
		}
	}
	return zap.NewNop()
}

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "permrevert",
	Short: "Identity Center assignment rollback",
	Long: `permrevert administers rollback of AWS Identity Center permission-set
assignment operations. It keeps an append-only ledger of executed
assign/revoke operations and can compute and apply the compensating
actions needed to undo any of them safely.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(verifyCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// shortID returns first 8 characters of an ID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
