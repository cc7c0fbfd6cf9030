// File: cmd/dashboard.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tms-executor/internal/config"
	"github.com/xkilldash9x/tms-executor/internal/observability"
)

// newDashboardCmd creates the `dashboard` command, which reads collateral and
// trading limits from the client dashboard.
func newDashboardCmd(provider workflowProvider, cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Logs in and prints collateral and trading limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			wf, release, err := provider.Create(ctx, cfg(), logger)
			if err != nil {
				return err
			}
			defer shutdown(release, logger)

			res, runErr := wf.Dashboard(ctx)
			return report(cmd, cfg(), res, runErr, logger)
		},
	}
}
