package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/budgetgate/internal/common"
	"github.com/Veraticus/budgetgate/internal/model"
	"github.com/Veraticus/budgetgate/internal/service"
)

const budgetColumns = `id, name, date_from, date_to, status, revision_of, version, created_at, updated_at`

// CreateBudget inserts a budget together with its lines. IDs and the initial
// version are written back into budget.
func (s *SQLiteStorage) CreateBudget(ctx context.Context, budget *model.Budget) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.createBudgetTx(ctx, tx, budget); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classifyError("commit budget", err)
	}
	return nil
}

func (s *SQLiteStorage) createBudgetTx(ctx context.Context, q queryable, budget *model.Budget) error {
	if budget == nil {
		return fmt.Errorf("%w: budget", ErrNilParameter)
	}
	if budget.Status == "" {
		budget.Status = model.BudgetDraft
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := q.ExecContext(tctx, `
		INSERT INTO budgets (name, date_from, date_to, status, revision_of, version)
		VALUES (?, ?, ?, ?, ?, 1)
	`, budget.Name, formatDate(budget.DateFrom), formatDate(budget.DateTo), budget.Status, budget.RevisionOf)
	if err != nil {
		return classifyError("insert budget", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get budget ID: %w", err)
	}
	budget.ID = id
	budget.Version = 1

	for i := range budget.Lines {
		budget.Lines[i].BudgetID = id
		if err := s.addBudgetLineTx(ctx, q, &budget.Lines[i]); err != nil {
			return fmt.Errorf("line at index %d: %w", i, err)
		}
	}
	return nil
}

// GetBudget returns a budget with its lines, or nil when it does not exist.
func (s *SQLiteStorage) GetBudget(ctx context.Context, id int64) (*model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getBudgetTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getBudgetTx(ctx context.Context, q queryable, id int64) (*model.Budget, error) {
	if err := validateID(id, "budget id"); err != nil {
		return nil, err
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	budget, err := scanBudget(q.QueryRowContext(tctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError("query budget", err)
	}

	lines, err := s.getBudgetLinesTx(ctx, q, id)
	if err != nil {
		return nil, err
	}
	budget.Lines = lines

	return budget, nil
}

func (s *SQLiteStorage) getBudgetLinesTx(ctx context.Context, q queryable, budgetID int64) ([]model.BudgetLine, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx, `
		SELECT id, budget_id, analytical_account_id, type, planned_amount, is_monetary
		FROM budget_lines
		WHERE budget_id = ?
		ORDER BY id
	`, budgetID)
	if err != nil {
		return nil, classifyError("query budget lines", err)
	}
	defer func() { _ = rows.Close() }()

	var lines []model.BudgetLine
	for rows.Next() {
		var line model.BudgetLine
		if err := rows.Scan(&line.ID, &line.BudgetID, &line.AccountID, &line.Type,
			&line.PlannedAmount, &line.IsMonetary); err != nil {
			return nil, fmt.Errorf("failed to scan budget line: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate budget lines", err)
	}
	return lines, nil
}

// ListBudgets returns budgets with their lines, newest first.
func (s *SQLiteStorage) ListBudgets(ctx context.Context, filter service.BudgetFilter) ([]model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listBudgetsTx(ctx, s.db, filter)
}

func (s *SQLiteStorage) listBudgetsTx(ctx context.Context, q queryable, filter service.BudgetFilter) ([]model.Budget, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, *filter.Status)
	}

	query := `SELECT ` + budgetColumns + ` FROM budgets`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	budgets, err := s.queryBudgets(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}

	// Lines are loaded after the budget cursor is closed: the pool has a single connection
	for i := range budgets {
		lines, err := s.getBudgetLinesTx(ctx, q, budgets[i].ID)
		if err != nil {
			return nil, err
		}
		budgets[i].Lines = lines
	}
	return budgets, nil
}

func (s *SQLiteStorage) queryBudgets(ctx context.Context, q queryable, query string, args ...any) ([]model.Budget, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError("query budgets", err)
	}
	defer func() { _ = rows.Close() }()

	var budgets []model.Budget
	for rows.Next() {
		budget, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget: %w", err)
		}
		budgets = append(budgets, *budget)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate budgets", err)
	}
	return budgets, nil
}

// FindCoveringBudget returns the CONFIRMED budget whose period contains date, or nil.
// A confirmed budget that has its own confirmed revision is superseded by it; among
// the remaining candidates the latest date_from wins, then the highest id.
func (s *SQLiteStorage) FindCoveringBudget(ctx context.Context, date time.Time) (*model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.findCoveringBudgetTx(ctx, s.db, date)
}

func (s *SQLiteStorage) findCoveringBudgetTx(ctx context.Context, q queryable, date time.Time) (*model.Budget, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("%w: date", ErrNilParameter)
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	day := formatDate(date)
	var id int64
	err := q.QueryRowContext(tctx, `
		SELECT b.id
		FROM budgets b
		WHERE b.status = 'CONFIRMED'
		  AND b.date_from <= ? AND b.date_to >= ?
		  AND NOT EXISTS (
			SELECT 1 FROM budgets r
			WHERE r.revision_of = b.id AND r.status = 'CONFIRMED'
		  )
		ORDER BY b.date_from DESC, b.id DESC
		LIMIT 1
	`, day, day).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError("find covering budget", err)
	}

	return s.getBudgetTx(ctx, q, id)
}

// UpdateBudgetStatus sets a budget's lifecycle status.
func (s *SQLiteStorage) UpdateBudgetStatus(ctx context.Context, id int64, status model.BudgetStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.updateBudgetStatusTx(ctx, s.db, id, status)
}

func (s *SQLiteStorage) updateBudgetStatusTx(ctx context.Context, q queryable, id int64, status model.BudgetStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid budget status %q", status)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := q.ExecContext(ctx,
		`UPDATE budgets SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	if err != nil {
		return classifyError("update budget status", err)
	}
	return requireAffected(result, "budget", id)
}

// BumpBudgetVersion increments a budget's version if it still equals expected.
// A mismatch yields a ConcurrencyConflictError carrying the version actually stored.
func (s *SQLiteStorage) BumpBudgetVersion(ctx context.Context, id int64, expected int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.bumpBudgetVersionTx(ctx, s.db, id, expected)
}

func (s *SQLiteStorage) bumpBudgetVersionTx(ctx context.Context, q queryable, id int64, expected int) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := q.ExecContext(ctx, `
		UPDATE budgets SET version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?
	`, id, expected)
	if err != nil {
		return classifyError("bump budget version", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var actual int
	err = q.QueryRowContext(ctx, `SELECT version FROM budgets WHERE id = ?`, id).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("budget %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return classifyError("query budget version", err)
	}

	return &common.ConcurrencyConflictError{Entity: "budget", ID: id, Expected: expected, Actual: actual}
}

// AddBudgetLine inserts a line for line.BudgetID and sets line.ID.
func (s *SQLiteStorage) AddBudgetLine(ctx context.Context, line *model.BudgetLine) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.addBudgetLineTx(ctx, s.db, line)
}

func (s *SQLiteStorage) addBudgetLineTx(ctx context.Context, q queryable, line *model.BudgetLine) error {
	if line == nil {
		return fmt.Errorf("%w: budget line", ErrNilParameter)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := q.ExecContext(ctx, `
		INSERT INTO budget_lines (budget_id, analytical_account_id, type, planned_amount, is_monetary)
		VALUES (?, ?, ?, ?, ?)
	`, line.BudgetID, line.AccountID, line.Type, line.PlannedAmount, line.IsMonetary)
	if err != nil {
		return classifyError("insert budget line", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get budget line ID: %w", err)
	}
	line.ID = id
	return nil
}

// UpdateBudgetLine rewrites a line's account, type, planned amount and monetary flag.
func (s *SQLiteStorage) UpdateBudgetLine(ctx context.Context, line *model.BudgetLine) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.updateBudgetLineTx(ctx, s.db, line)
}

func (s *SQLiteStorage) updateBudgetLineTx(ctx context.Context, q queryable, line *model.BudgetLine) error {
	if line == nil {
		return fmt.Errorf("%w: budget line", ErrNilParameter)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := q.ExecContext(ctx, `
		UPDATE budget_lines
		SET analytical_account_id = ?, type = ?, planned_amount = ?, is_monetary = ?
		WHERE id = ? AND budget_id = ?
	`, line.AccountID, line.Type, line.PlannedAmount, line.IsMonetary, line.ID, line.BudgetID)
	if err != nil {
		return classifyError("update budget line", err)
	}
	return requireAffected(result, "budget line", line.ID)
}

// DeleteBudgetLine removes a line.
func (s *SQLiteStorage) DeleteBudgetLine(ctx context.Context, lineID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.deleteBudgetLineTx(ctx, s.db, lineID)
}

func (s *SQLiteStorage) deleteBudgetLineTx(ctx context.Context, q queryable, lineID int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := q.ExecContext(ctx, `DELETE FROM budget_lines WHERE id = ?`, lineID)
	if err != nil {
		return classifyError("delete budget line", err)
	}
	return requireAffected(result, "budget line", lineID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBudget(row rowScanner) (*model.Budget, error) {
	var (
		budget     model.Budget
		dateFrom   string
		dateTo     string
		revisionOf sql.NullInt64
	)
	if err := row.Scan(&budget.ID, &budget.Name, &dateFrom, &dateTo, &budget.Status,
		&revisionOf, &budget.Version, &budget.CreatedAt, &budget.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if budget.DateFrom, err = model.ParseDate(dateFrom); err != nil {
		return nil, err
	}
	if budget.DateTo, err = model.ParseDate(dateTo); err != nil {
		return nil, err
	}
	if revisionOf.Valid {
		id := revisionOf.Int64
		budget.RevisionOf = &id
	}
	return &budget, nil
}

func formatDate(t time.Time) string {
	return model.TruncateDay(t).Format(model.DateLayout)
}
