package cli

import (
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-plan/internal/cli/render"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
)

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	var planPath string

	cmd := &cobra.Command{
		Use:   "status [plan-file]",
		Short: "Show what the ledger has recorded",
		Long: `Show ledger records in the order they were written.

With a plan file, shows each step of that plan and whether it is pending,
confirmed or failed according to the ledger.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				planPath = args[0]
			}

			result, err := app.ShowStatus.Run(cmd.Context(), usecase.ShowStatusParams{PlanPath: planPath})
			if err != nil {
				return err
			}

			var renderer render.Renderer[*usecase.StatusResult] = render.NewStatusRenderer(cmd.OutOrStdout(), app.Config.JSON)
			return renderer.Render(result)
		},
	}

	cmd.Flags().Bool("json", false, "Output as JSON")

	return cmd
}
