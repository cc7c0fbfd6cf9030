// File: cmd/trade.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tms-executor/api/schemas"
	"github.com/xkilldash9x/tms-executor/internal/config"
	"github.com/xkilldash9x/tms-executor/internal/observability"
	"github.com/xkilldash9x/tms-executor/internal/orchestrator"
)

// newTradeCmd creates and configures the `trade` command.
func newTradeCmd(provider workflowProvider, cfg func() *config.Config) *cobra.Command {
	var (
		action     string
		instrument string
		symbol     string
		quantity   string
		price      string
	)

	tradeCmd := &cobra.Command{
		Use:     "trade",
		Short:   "Logs in and places a single limit order",
		Example: `  tms-executor trade --action buy --instrument MF --symbol NICFC --quantity 100 --price 8.8`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := buildOrder(action, instrument, symbol, quantity, price)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			logger := observability.GetLogger()

			wf, release, err := provider.Create(ctx, cfg(), logger)
			if err != nil {
				return err
			}
			defer shutdown(release, logger)

			res, runErr := wf.PlaceOrder(ctx, order)
			return report(cmd, cfg(), res, runErr, logger)
		},
	}

	tradeCmd.Flags().StringVarP(&action, "action", "a", "", "Order side: buy or sell")
	tradeCmd.Flags().StringVarP(&instrument, "instrument", "i", "EQ", "Instrument type as labelled in the order form (e.g. EQ, MF)")
	tradeCmd.Flags().StringVarP(&symbol, "symbol", "s", "", "Security symbol, e.g. NICFC")
	tradeCmd.Flags().StringVarP(&quantity, "quantity", "q", "", "Number of units")
	tradeCmd.Flags().StringVarP(&price, "price", "p", "", "Limit price")
	for _, name := range []string{"action", "symbol", "quantity", "price"} {
		_ = tradeCmd.MarkFlagRequired(name)
	}
	return tradeCmd
}

// buildOrder normalizes the flag values into an order.
func buildOrder(action, instrument, symbol, quantity, price string) (schemas.TradeOrder, error) {
	side, err := schemas.ParseAction(action)
	if err != nil {
		return schemas.TradeOrder{}, err
	}
	order := schemas.TradeOrder{
		Action:     side,
		Instrument: strings.ToUpper(strings.TrimSpace(instrument)),
		Symbol:     strings.ToUpper(strings.TrimSpace(symbol)),
		Quantity:   strings.TrimSpace(quantity),
		Price:      strings.TrimSpace(price),
	}
	return order, order.Validate()
}

// report writes the run report and turns the outcome into the command's
// error. A report is written even when the run failed.
func report(cmd *cobra.Command, cfg *config.Config, res *orchestrator.Result, runErr error, logger *zap.Logger) error {
	if res == nil {
		return runErr
	}
	path, err := res.WriteJSON(cfg.Output.Dir)
	if err != nil {
		logger.Error("Failed to write run report", zap.Error(err))
	} else {
		logger.Info("Run report written", zap.String("path", path))
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nRun %s: %s\n", res.RunID, res.Status)
	if res.Confirmation != "" {
		fmt.Fprintf(out, "Confirmed with %q\n", res.Confirmation)
	}
	if res.Orders != nil {
		fmt.Fprintf(out, "Orders in today's book: %d\n", len(res.Orders))
	}
	if d := res.Dashboard; d != nil {
		fmt.Fprintf(out, "Collateral available: %s of %s\n", d.Collateral.Available, d.Collateral.Amount)
		fmt.Fprintf(out, "Trading limit available: %s (utilized %s)\n", d.Limits.Available, d.Limits.Utilized)
	}
	if path != "" {
		fmt.Fprintf(out, "Report: %s\n", path)
	}

	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		return fmt.Errorf("run aborted by user signal: %w", runErr)
	case runErr != nil:
		return runErr
	case !res.OK():
		return fmt.Errorf("run finished with status %s", res.Status)
	}
	return nil
}
