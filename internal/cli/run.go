package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-plan/internal/cli/render"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
)

// NewRunCmd creates the run command
func NewRunCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run <plan-file>",
		Short: "Execute a deployment plan, resuming from the ledger",
		Long: `Execute a deployment plan against a network.

Steps already confirmed in the ledger are skipped, so a plan that failed
halfway can simply be run again. The first failing step halts the run and
is reported with its reason; nothing after it is submitted.

Plans are YAML, TOML or JSON:

  name: token-locker
  steps:
    - deploy: { contract: ERC20Token, args: ["AOCTOKEN", "AOC"] }
    - deploy_proxy: { contract: TokenLocker, name: Locker }
    - call:
        target: Locker
        method: approve
        args: [ERC20Token.address, "1000000e18"]

Examples:
  # Preview which steps would be submitted
  treb-plan run deploy.yaml --network sepolia --dry-run

  # Run without the confirmation prompt
  treb-plan run deploy.yaml --network sepolia --yes

  # Keep progress in a shared database
  treb-plan run deploy.yaml -n mainnet --ledger postgres://deployer@db/ledger`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			result, err := app.RunPlan.Run(cmd.Context(), usecase.RunPlanParams{
				PlanPath: args[0],
				DryRun:   dryRun || app.Config.DryRun,
			})
			if err != nil {
				if errors.Is(err, usecase.ErrBroadcastDeclined) {
					return err
				}
				render.NewPlanRenderer(os.Stderr).RenderFailure(result, err)
				return errRunFailed
			}

			var renderer render.Renderer[*usecase.RunPlanResult] = render.NewPlanRenderer(cmd.OutOrStdout())
			return renderer.Render(result)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show pending steps without submitting anything")
	cmd.Flags().BoolP("yes", "y", false, "Skip the broadcast confirmation prompt")
	cmd.Flags().String("artifacts", "", "Compiled artifacts directory (default: foundry out/ or hardhat artifacts/)")
	cmd.Flags().String("metrics-file", "", "Write step metrics in Prometheus text format to this file")

	return cmd
}

// errRunFailed is returned after the failure has already been reported
var errRunFailed = errors.New("plan run failed")
