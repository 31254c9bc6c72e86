package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jklevins/permrevert/internal/config"
	"github.com/jklevins/permrevert/internal/ssoapi"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a permrevert directory",
	Long: `Initialize permrevert in the current directory.
This creates a .permrevert directory holding the configuration and the
operation ledger.`,
	Run: runInit,
}

var (
	initInstanceARN string
	initRegion      string
	initBackend     string
	initSkipProbe   bool
)

func init() {
	initCmd.Flags().StringVar(&initInstanceARN, "instance-arn", "", "Identity Center instance ARN (required)")
	initCmd.Flags().StringVar(&initRegion, "region", "", "AWS region of the Identity Center instance")
	initCmd.Flags().StringVar(&initBackend, "backend", config.BackendJSON, "Ledger backend: json or sqlite")
	initCmd.Flags().BoolVar(&initSkipProbe, "skip-probe", false, "Skip the API access probe")
	initCmd.MarkFlagRequired("instance-arn")
}

func runInit(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	// Check if already initialized
	if _, err := config.FindRoot(); err == nil {
		exitError("permrevert directory already exists")
	}

	fmt.Printf("Initializing permrevert...\n")
	fmt.Printf("Instance ARN: %s\n", initInstanceARN)

	if !initSkipProbe {
		client, err := ssoapi.NewClient(ctx, initInstanceARN, initRegion)
		if err != nil {
			exitError("failed to create Identity Center client: %v", err)
		}
		fmt.Printf("Probing Identity Center access...\n")
		if _, err := client.ListPermissionSets(ctx); err != nil {
			exitError("access probe failed: %v", err)
		}
	}

	cfg, err := config.Initialize(initInstanceARN, initRegion)
	if err != nil {
		exitError("failed to initialize config: %v", err)
	}

	if initBackend != config.BackendJSON {
		cfg.Storage.Backend = initBackend
		if err := cfg.Save(); err != nil {
			exitError("failed to save config: %v", err)
		}
	}

	st, err := openStore(cfg)
	if err != nil {
		exitError("failed to create ledger: %v", err)
	}
	defer st.Close()

	fmt.Printf("Initialized permrevert directory at %s\n", cfg.Path())
}
