package ledgerimport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/Veraticus/budgetgate/internal/common"
	"github.com/Veraticus/budgetgate/internal/model"
	"github.com/Veraticus/budgetgate/internal/service"
)

const batchSize = 100

// Result summarizes an import.
type Result struct {
	Accounts []string
	Parsed   int
	Inserted int
	Skipped  int
}

// Importer records ledger entries and invalidates the metrics they feed.
type Importer struct {
	storage     service.Storage
	invalidator service.MetricsInvalidator
	progress    io.Writer
}

// NewImporter creates an importer. invalidator may be nil.
func NewImporter(storage service.Storage, invalidator service.MetricsInvalidator) *Importer {
	return &Importer{
		storage:     storage,
		invalidator: invalidator,
	}
}

// WithProgress renders a progress bar to w while importing statements.
func (i *Importer) WithProgress(w io.Writer) *Importer {
	i.progress = w
	return i
}

// Record validates and stores entries in one transaction. Entries repeating a
// reference already recorded for the account are skipped. It returns how many
// entries were inserted.
func (i *Importer) Record(ctx context.Context, entries []model.LedgerEntry) (int, error) {
	if len(entries) == 0 {
		return 0, common.NewValidationError("entries", "at least one entry is required")
	}
	for n, entry := range entries {
		if err := validateEntry(entry); err != nil {
			return 0, &common.ValidationError{Field: fmt.Sprintf("entries[%d]", n), Message: err.Error()}
		}
	}

	var inserted int
	err := common.WithRetry(ctx, func() error {
		tx, err := i.storage.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		known := make(map[int64]bool)
		for n, entry := range entries {
			if known[entry.AccountID] {
				continue
			}
			account, err := tx.GetAccount(ctx, entry.AccountID)
			if err != nil {
				return err
			}
			if account == nil {
				return common.NewValidationError(fmt.Sprintf("entries[%d].accountId", n),
					"analytical account %d does not exist", entry.AccountID)
			}
			known[entry.AccountID] = true
		}

		inserted, err = tx.SaveLedgerEntries(ctx, entries)
		if err != nil {
			return err
		}
		return tx.Commit()
	}, common.DefaultRetryOptions)
	if err != nil {
		return 0, err
	}

	if inserted > 0 {
		i.invalidate(entries)
	}

	slog.Debug("Recorded ledger entries", "received", len(entries), "inserted", inserted)
	return inserted, nil
}

// ImportOFX parses an OFX/QFX statement and records its transactions against one
// analytical account, in batches.
func (i *Importer) ImportOFX(ctx context.Context, r io.Reader, accountID int64, lineType model.LineType) (*Result, error) {
	if !lineType.Valid() {
		return nil, common.NewValidationError("type", "unknown line type %q", lineType)
	}

	statement, err := ParseOFX(r, accountID, lineType)
	if err != nil {
		return nil, err
	}

	result := &Result{Accounts: statement.Accounts, Parsed: len(statement.Entries)}
	if len(statement.Entries) == 0 {
		return result, nil
	}

	bar := i.newProgressBar(len(statement.Entries))
	for start := 0; start < len(statement.Entries); start += batchSize {
		end := min(start+batchSize, len(statement.Entries))

		inserted, err := i.Record(ctx, statement.Entries[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to record entries %d-%d: %w", start, end-1, err)
		}
		result.Inserted += inserted

		if bar != nil {
			if err := bar.Add(end - start); err != nil {
				slog.Warn("Failed to update progress bar", "error", err)
			}
		}
	}
	result.Skipped = result.Parsed - result.Inserted

	slog.Info("Imported OFX statement",
		"account_id", accountID,
		"parsed", result.Parsed,
		"inserted", result.Inserted,
		"skipped", result.Skipped)
	return result, nil
}

func (i *Importer) newProgressBar(total int) *progressbar.ProgressBar {
	if i.progress == nil {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(i.progress),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Importing ledger entries...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(i.progress); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}

// invalidate drops cached snapshots of budgets touched by the entries, one call per
// posting date.
func (i *Importer) invalidate(entries []model.LedgerEntry) {
	if i.invalidator == nil {
		return
	}

	byDate := make(map[time.Time]map[int64]bool)
	for _, entry := range entries {
		day := model.TruncateDay(entry.PostingDate)
		if byDate[day] == nil {
			byDate[day] = make(map[int64]bool)
		}
		byDate[day][entry.AccountID] = true
	}

	for day, accounts := range byDate {
		ids := make([]int64, 0, len(accounts))
		for id := range accounts {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
		i.invalidator.InvalidateAccountAt(ids, day)
	}
}

func validateEntry(entry model.LedgerEntry) error {
	if entry.AccountID <= 0 {
		return fmt.Errorf("analytical account is required")
	}
	if !entry.Type.Valid() {
		return fmt.Errorf("unknown line type %q", entry.Type)
	}
	if entry.PostingDate.IsZero() {
		return fmt.Errorf("posting date is required")
	}
	return nil
}
