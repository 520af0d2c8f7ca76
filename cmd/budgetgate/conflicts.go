package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/budgetgate/internal/cli"
)

func conflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Review and resolve category suggestions on vendor bills",
	}

	cmd.AddCommand(listConflictsCmd())
	cmd.AddCommand(resolveConflictCmd())

	return cmd
}

func listConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <document-id>",
		Short: "List bill lines with pending suggestions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			conflicts, err := app.services.Conflicts.ListConflicts(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderConflicts(conflicts))
			return nil
		},
	}
}

func resolveConflictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <suggestion-id>",
		Short: "Accept a suggestion and reject its competitors",
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

			resolution, err := app.services.Conflicts.Resolve(cmd.Context(), id)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Line %d categorized as %s; %d competing suggestions rejected",
				resolution.Suggestion.BillLineID, resolution.Suggestion.AccountName, resolution.Rejected)))
			return nil
		},
	}
}
