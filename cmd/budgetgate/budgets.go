package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/budgetgate/internal/cli"
	"github.com/Veraticus/budgetgate/internal/model"
	"github.com/Veraticus/budgetgate/internal/service"
)

func budgetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budgets",
		Short: "Manage budgets and their lifecycle",
		Long: `Create budgets, edit their lines while in DRAFT, and move them through
DRAFT → CONFIRMED → VALIDATED → DONE (or CANCELLED).`,
		Example: `  # Draft a budget with one expense line
  budgetgate budgets create --name FY2024 --from 2024-01-01 --to 2024-12-31 --line 1:EXPENSE:100000

  # Confirm it so it starts gating documents
  budgetgate budgets confirm 1`,
	}

	cmd.AddCommand(createBudgetCmd())
	cmd.AddCommand(listBudgetsCmd())
	cmd.AddCommand(addBudgetLineCmd())
	for _, op := range []string{"confirm", "validate", "done", "cancel", "revise"} {
		cmd.AddCommand(transitionCmd(op))
	}

	return cmd
}

func createBudgetCmd() *cobra.Command {
	var (
		name  string
		from  string
		to    string
		lines []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a DRAFT budget",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dateFrom, err := model.ParseDate(from)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			dateTo, err := model.ParseDate(to)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}

			budgetLines := make([]model.BudgetLine, 0, len(lines))
			for _, spec := range lines {
				line, err := parseLineSpec(spec)
				if err != nil {
					return err
				}
				budgetLines = append(budgetLines, line)
			}

			app, err := newApplication(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			budget, err := app.services.Budgets.Create(cmd.Context(), name, dateFrom, dateTo, budgetLines)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Created budget %q with id %d", budget.Name, budget.ID)))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Budget name")
	cmd.Flags().StringVar(&from, "from", "", "First day of the period (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Last day of the period (YYYY-MM-DD)")
	cmd.Flags().StringArrayVar(&lines, "line", nil, "Budget line as ACCOUNT_ID:TYPE:AMOUNT (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func listBudgetsCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List budgets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter service.BudgetFilter
			if status != "" {
				s := model.BudgetStatus(status)
				if !s.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
				filter.Status = &s
			}

			app, err := newApplication(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			budgets, err := app.services.Budgets.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(budgets) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.SubtitleStyle.Render("No budgets found."))
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBudgets(budgets))
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only show budgets in this status")

	return cmd
}

func addBudgetLineCmd() *cobra.Command {
	var version int

	cmd := &cobra.Command{
		Use:   "add-line <budget-id> <ACCOUNT_ID:TYPE:AMOUNT>",
		Short: "Add a line to a DRAFT budget",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			line, err := parseLineSpec(args[1])
			if err != nil {
				return err
			}

			app, err := newApplication(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			budget, err := app.services.Budgets.AddLine(cmd.Context(), id, version, line)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Budget %d now has %d lines (version %d)",
				budget.ID, len(budget.Lines), budget.Version)))
			return nil
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Expected budget version (0 skips the check)")

	return cmd
}

func transitionCmd(op string) *cobra.Command {
	var version int

	cmd := &cobra.Command{
		Use:   op + " <budget-id>",
		Short: transitionShort[op],
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

			run := map[string]func(context.Context, int64, int) (*model.Budget, error){
				"confirm":  app.services.Budgets.Confirm,
				"validate": app.services.Budgets.Validate,
				"done":     app.services.Budgets.Done,
				"cancel":   app.services.Budgets.Cancel,
				"revise":   app.services.Budgets.Revise,
			}[op]

			budget, err := run(cmd.Context(), id, version)
			if err != nil {
				return err
			}

			msg := fmt.Sprintf("Budget %d is now %s", budget.ID, budget.Status)
			if op == "revise" {
				msg = fmt.Sprintf("Created revision %d of budget %d", budget.ID, id)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(msg))
			return nil
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Expected budget version (0 skips the check)")

	return cmd
}

var transitionShort = map[string]string{
	"confirm":  "Confirm a DRAFT budget so it gates documents",
	"validate": "Mark a CONFIRMED budget as VALIDATED",
	"done":     "Close a CONFIRMED or VALIDATED budget",
	"cancel":   "Cancel a budget",
	"revise":   "Create a DRAFT revision of a CONFIRMED budget",
}
