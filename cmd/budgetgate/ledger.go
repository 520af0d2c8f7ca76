package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/budgetgate/internal/cli"
	"github.com/Veraticus/budgetgate/internal/model"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Feed posted accounting activity into the ledger",
	}

	cmd.AddCommand(importLedgerCmd())

	return cmd
}

func importLedgerCmd() *cobra.Command {
	var (
		ofxPath   string
		accountID int64
		lineType  string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import an OFX/QFX statement as ledger entries for one account",
		Long: `Import every transaction of an OFX or QFX statement as a posted ledger entry
on an analytical account. Entries are keyed by the statement's transaction ids,
so importing the same file twice records nothing new.`,
		Example: `  budgetgate ledger import --ofx card-2024-05.qfx --account 1`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind := model.LineType(strings.ToUpper(lineType))
			if !kind.Valid() {
				return fmt.Errorf("invalid --type %q: must be EXPENSE or INCOME", lineType)
			}

			file, err := os.Open(ofxPath) //nolint:gosec // path comes from the operator
			if err != nil {
				return fmt.Errorf("failed to open statement: %w", err)
			}
			defer func() { _ = file.Close() }()

			interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
			ctx := interrupts.HandleInterrupts(cmd.Context(), "Entries already recorded are kept; re-running the import skips them.")

			app, err := newApplication(ctx, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.services.Ledger.WithProgress(cmd.ErrOrStderr()).ImportOFX(ctx, file, accountID, kind)
			if err != nil {
				if interrupts.WasInterrupted() {
					return nil
				}
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderImportSummary(
				strings.Join(result.Accounts, ", "), result.Parsed, result.Inserted, result.Skipped))
			return nil
		},
	}

	cmd.Flags().StringVar(&ofxPath, "ofx", "", "Path to the OFX/QFX statement")
	cmd.Flags().Int64Var(&accountID, "account", 0, "Analytical account id the entries belong to")
	cmd.Flags().StringVar(&lineType, "type", string(model.LineExpense), "Line type of the entries (EXPENSE or INCOME)")
	_ = cmd.MarkFlagRequired("ofx")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}
