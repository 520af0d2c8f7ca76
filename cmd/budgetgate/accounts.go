package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/budgetgate/internal/cli"
	"github.com/Veraticus/budgetgate/internal/model"
)

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage analytical accounts",
	}

	cmd.AddCommand(createAccountCmd())
	cmd.AddCommand(listAccountsCmd())
	cmd.AddCommand(setAccountActiveCmd("deactivate", false))
	cmd.AddCommand(setAccountActiveCmd("activate", true))

	return cmd
}

func createAccountCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "create <code> <name>",
		Short:   "Register an analytical account",
		Example: `  budgetgate accounts create MKT "Marketing"`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			account, err := app.services.Registry.Create(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Created account %s (%s) with id %d",
				account.Code, account.Name, account.ID)))
			return nil
		},
	}
}

func listAccountsCmd() *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List analytical accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApplication(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			accounts, err := app.services.Registry.List(cmd.Context(), activeOnly)
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.SubtitleStyle.Render("No accounts found."))
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderAccounts(accounts))
			return nil
		},
	}

	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only show active accounts")

	return cmd
}

func setAccountActiveCmd(use string, active bool) *cobra.Command {
	short := "Deactivate an account so it cannot receive new allocations"
	if active {
		short = "Reactivate an account"
	}

	return &cobra.Command{
		Use:   use + " <account-id>",
		Short: short,
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

			var account *model.AnalyticalAccount
			if active {
				account, err = app.services.Registry.Activate(cmd.Context(), id)
			} else {
				account, err = app.services.Registry.Deactivate(cmd.Context(), id)
			}
			if err != nil {
				return err
			}

			state := "inactive"
			if account.IsActive {
				state = "active"
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Account %s is now %s", account.Code, state)))
			return nil
		},
	}
}
