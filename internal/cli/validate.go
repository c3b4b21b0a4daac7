package cli

import (
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-plan/internal/cli/render"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
)

// NewValidateCmd creates the validate command
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "validate <plan-file>",
		Short:        "Check a plan for errors without touching the chain",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			result, err := app.ValidatePlan.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var renderer render.Renderer[*usecase.ValidatePlanResult] = render.NewValidateRenderer(cmd.OutOrStdout())
			return renderer.Render(result)
		},
	}
}
