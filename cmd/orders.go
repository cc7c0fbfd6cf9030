// File: cmd/orders.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tms-executor/internal/config"
	"github.com/xkilldash9x/tms-executor/internal/observability"
)

// newOrdersCmd creates the `orders` command, which reads today's order book.
func newOrdersCmd(provider workflowProvider, cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "Logs in and prints today's order book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			wf, release, err := provider.Create(ctx, cfg(), logger)
			if err != nil {
				return err
			}
			defer shutdown(release, logger)

			res, runErr := wf.CheckOrders(ctx)
			return report(cmd, cfg(), res, runErr, logger)
		},
	}
}
