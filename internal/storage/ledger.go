package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/budgetgate/internal/model"
	"github.com/Veraticus/budgetgate/internal/service"
	"github.com/shopspring/decimal"
)

// SaveLedgerEntries records posted ledger activity. Entries whose non-empty reference
// was already recorded for the same account are skipped; the number of rows actually
// inserted is returned.
func (s *SQLiteStorage) SaveLedgerEntries(ctx context.Context, entries []model.LedgerEntry) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateLedgerEntries(entries); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classifyError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted, err := s.saveLedgerEntriesTx(ctx, tx, entries)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, classifyError("commit ledger entries", err)
	}
	return inserted, nil
}

func (s *SQLiteStorage) saveLedgerEntriesTx(ctx context.Context, q queryable, entries []model.LedgerEntry) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	inserted := 0
	for i := range entries {
		entry := &entries[i]
		result, err := q.ExecContext(ctx, `
			INSERT INTO ledger_entries (analytical_account_id, type, amount, posting_date, reference)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, entry.AccountID, entry.Type, entry.Amount, formatDate(entry.PostingDate), strings.TrimSpace(entry.Reference))
		if err != nil {
			return 0, classifyError("insert ledger entry", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			continue
		}

		id, err := result.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("failed to get ledger entry ID: %w", err)
		}
		entry.ID = id
		inserted++
	}
	return inserted, nil
}

// GetLedgerEntries returns ledger entries matching filter ordered by posting date.
func (s *SQLiteStorage) GetLedgerEntries(ctx context.Context, filter service.LedgerFilter) ([]model.LedgerEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getLedgerEntriesTx(ctx, s.db, filter)
}

func (s *SQLiteStorage) getLedgerEntriesTx(ctx context.Context, q queryable, filter service.LedgerFilter) ([]model.LedgerEntry, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.AccountID > 0 {
		conditions = append(conditions, "analytical_account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.StartDate != nil {
		conditions = append(conditions, "posting_date >= ?")
		args = append(args, formatDate(*filter.StartDate))
	}
	if filter.EndDate != nil {
		conditions = append(conditions, "posting_date <= ?")
		args = append(args, formatDate(*filter.EndDate))
	}

	query := `SELECT id, analytical_account_id, type, amount, posting_date, reference FROM ledger_entries`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY posting_date, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError("query ledger entries", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.LedgerEntry
	for rows.Next() {
		var (
			entry  model.LedgerEntry
			posted string
		)
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.Type, &entry.Amount, &posted, &entry.Reference); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		if entry.PostingDate, err = model.ParseDate(posted); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate ledger entries", err)
	}
	return entries, nil
}

// SumLedgerAmounts totals the ledger entries for one account and type whose posting
// date falls within [from, to]. Amounts are summed as decimals, not SQL floats.
func (s *SQLiteStorage) SumLedgerAmounts(ctx context.Context, accountID int64, lineType model.LineType, from, to time.Time) (decimal.Decimal, error) {
	if err := validateContext(ctx); err != nil {
		return decimal.Zero, err
	}
	return s.sumLedgerAmountsTx(ctx, s.db, accountID, lineType, from, to)
}

func (s *SQLiteStorage) sumLedgerAmountsTx(ctx context.Context, q queryable, accountID int64, lineType model.LineType, from, to time.Time) (decimal.Decimal, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx, `
		SELECT amount FROM ledger_entries
		WHERE analytical_account_id = ? AND type = ?
		  AND posting_date >= ? AND posting_date <= ?
	`, accountID, lineType, formatDate(from), formatDate(to))
	if err != nil {
		return decimal.Zero, classifyError("sum ledger entries", err)
	}
	defer func() { _ = rows.Close() }()

	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan ledger amount: %w", err)
		}
		total = total.Add(amount)
	}

	if err := rows.Err(); err != nil {
		return decimal.Zero, classifyError("iterate ledger amounts", err)
	}
	return total, nil
}
