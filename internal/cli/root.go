package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-plan/internal/adapters/progress"
	"github.com/trebuchet-org/treb-plan/internal/app"
	"github.com/trebuchet-org/treb-plan/internal/config"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
)

// contextKey is the type for context keys
type contextKey string

const (
	// appKey is the context key for the app instance
	appKey contextKey = "app"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "treb-plan",
		Short: "Resumable smart contract deployment plans",
		Long: `treb-plan executes a declarative deployment plan (deploys, proxy deploys,
proxy upgrades and contract calls) step by step. Every confirmed step is
recorded in a ledger, so rerunning the same plan after a failure only
submits the steps that have not been confirmed yet.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip for help/version commands
			if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			v := config.SetupViper(config.FindProjectRoot(), cmd)
			if len(args) > 0 {
				v.Set("plan_path", args[0])
			}

			var sink usecase.ProgressSink = usecase.NopProgress{}
			if !v.GetBool("json") {
				sink = progress.NewRunProgress()
			}

			appInstance, cleanup, err := app.InitApp(v, sink)
			if err != nil {
				return fmt.Errorf("failed to initialize app: %w", err)
			}

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)

			release := cleanup
			if appInstance.Config.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, appInstance.Config.Timeout)
				release = func() {
					cancel()
					cleanup()
				}
			}
			withCleanup(cmd, release)

			cmd.SetContext(ctx)
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug output")
	rootCmd.PersistentFlags().Bool("non-interactive", false, "Disable interactive prompts")
	rootCmd.PersistentFlags().StringP("network", "n", "", "Network from foundry.toml [rpc_endpoints] (e.g., sepolia)")
	rootCmd.PersistentFlags().String("rpc-url", "", "RPC URL, overrides the network's endpoint")
	rootCmd.PersistentFlags().Uint64("chain-id", 0, "Expected chain ID, checked on connect")
	rootCmd.PersistentFlags().String("ledger", "", "Ledger location: file path, sqlite://path or postgres://dsn")

	rootCmd.AddGroup(&cobra.Group{
		ID:    "main",
		Title: "Main Commands",
	})

	runCmd := NewRunCmd()
	runCmd.GroupID = "main"
	rootCmd.AddCommand(runCmd)

	statusCmd := NewStatusCmd()
	statusCmd.GroupID = "main"
	rootCmd.AddCommand(statusCmd)

	validateCmd := NewValidateCmd()
	validateCmd.GroupID = "main"
	rootCmd.AddCommand(validateCmd)

	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// withCleanup runs cleanup once the command's RunE returns, including on
// failure. PostRun hooks are skipped when RunE fails.
func withCleanup(cmd *cobra.Command, cleanup func()) {
	run := cmd.RunE
	if run == nil {
		cmd.PostRun = func(*cobra.Command, []string) { cleanup() }
		return
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		defer cleanup()
		return run(cmd, args)
	}
}

// getApp retrieves the app instance from the command context
func getApp(cmd *cobra.Command) (*app.App, error) {
	appInstance := cmd.Context().Value(appKey)
	if appInstance == nil {
		return nil, fmt.Errorf("app not initialized")
	}

	app, ok := appInstance.(*app.App)
	if !ok {
		return nil, fmt.Errorf("invalid app instance")
	}

	return app, nil
}
