package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/budgetgate/internal/cli"
)

func metricsCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "metrics <budget-id>",
		Short: "Show planned, achieved and remaining amounts per budget line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			app, err := newApplication(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			budget, err := app.services.Budgets.Get(cmd.Context(), id)
			if err != nil {
				return err
			}

			get := app.services.Metrics.Get
			if refresh {
				get = app.services.Metrics.Compute
			}
			snapshot, err := get(cmd.Context(), id)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderMetrics(budget, snapshot))
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Recompute from the ledger instead of using a cached snapshot")

	return cmd
}
