package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/budgetgate/internal/common"
	"github.com/Veraticus/budgetgate/internal/model"
)

// CreateAccount registers a new active analytical account.
func (s *SQLiteStorage) CreateAccount(ctx context.Context, code, name string) (*model.AnalyticalAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.createAccountTx(ctx, s.db, code, name)
}

func (s *SQLiteStorage) createAccountTx(ctx context.Context, q queryable, code, name string) (*model.AnalyticalAccount, error) {
	if err := validateString(code, "code"); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := q.ExecContext(ctx,
		`INSERT INTO analytical_accounts (code, name, is_active) VALUES (?, ?, 1)`,
		strings.TrimSpace(code), strings.TrimSpace(name))
	if err != nil {
		return nil, classifyError("create analytical account", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get account ID: %w", err)
	}

	return s.getAccountTx(ctx, q, id)
}

// GetAccount returns an account by ID, or nil when it does not exist.
func (s *SQLiteStorage) GetAccount(ctx context.Context, id int64) (*model.AnalyticalAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getAccountTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getAccountTx(ctx context.Context, q queryable, id int64) (*model.AnalyticalAccount, error) {
	if err := validateID(id, "account id"); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var account model.AnalyticalAccount
	err := q.QueryRowContext(ctx, `
		SELECT id, code, name, is_active, created_at
		FROM analytical_accounts
		WHERE id = ?
	`, id).Scan(&account.ID, &account.Code, &account.Name, &account.IsActive, &account.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError("query analytical account", err)
	}

	return &account, nil
}

// ListAccounts returns accounts ordered by code.
func (s *SQLiteStorage) ListAccounts(ctx context.Context, activeOnly bool) ([]model.AnalyticalAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listAccountsTx(ctx, s.db, activeOnly)
}

func (s *SQLiteStorage) listAccountsTx(ctx context.Context, q queryable, activeOnly bool) ([]model.AnalyticalAccount, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT id, code, name, is_active, created_at FROM analytical_accounts`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY code`

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, classifyError("query analytical accounts", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.AnalyticalAccount
	for rows.Next() {
		var account model.AnalyticalAccount
		if err := rows.Scan(&account.ID, &account.Code, &account.Name, &account.IsActive, &account.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan analytical account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate analytical accounts", err)
	}
	return accounts, nil
}

// SetAccountActive activates or deactivates an account. Deactivated accounts stay
// readable for historical lookups.
func (s *SQLiteStorage) SetAccountActive(ctx context.Context, id int64, active bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.setAccountActiveTx(ctx, s.db, id, active)
}

func (s *SQLiteStorage) setAccountActiveTx(ctx context.Context, q queryable, id int64, active bool) error {
	if err := validateID(id, "account id"); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := q.ExecContext(ctx, `UPDATE analytical_accounts SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return classifyError("update analytical account", err)
	}
	return requireAffected(result, "analytical account", id)
}

// requireAffected maps an UPDATE/DELETE that touched nothing to ErrNotFound.
func requireAffected(result sql.Result, entity string, id int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %d: %w", entity, id, common.ErrNotFound)
	}
	return nil
}
