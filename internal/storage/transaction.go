package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/budgetgate/internal/model"
	"github.com/Veraticus/budgetgate/internal/service"
	"github.com/shopspring/decimal"
)

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
// Every method runs against the open transaction so reads and writes see one snapshot.
type sqliteTransaction struct {
	tx      txHandle
	storage *SQLiteStorage
}

// txHandle is the subset of *sql.Tx the transaction needs.
type txHandle interface {
	queryable
	Commit() error
	Rollback() error
}

func (t *sqliteTransaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return classifyError("commit transaction", err)
	}
	return nil
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTransaction) CreateAccount(ctx context.Context, code, name string) (*model.AnalyticalAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.createAccountTx(ctx, t.tx, code, name)
}

func (t *sqliteTransaction) GetAccount(ctx context.Context, id int64) (*model.AnalyticalAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getAccountTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) ListAccounts(ctx context.Context, activeOnly bool) ([]model.AnalyticalAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.listAccountsTx(ctx, t.tx, activeOnly)
}

func (t *sqliteTransaction) SetAccountActive(ctx context.Context, id int64, active bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.setAccountActiveTx(ctx, t.tx, id, active)
}

func (t *sqliteTransaction) CreateBudget(ctx context.Context, budget *model.Budget) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.createBudgetTx(ctx, t.tx, budget)
}

func (t *sqliteTransaction) GetBudget(ctx context.Context, id int64) (*model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getBudgetTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) ListBudgets(ctx context.Context, filter service.BudgetFilter) ([]model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.listBudgetsTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) FindCoveringBudget(ctx context.Context, date time.Time) (*model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.findCoveringBudgetTx(ctx, t.tx, date)
}

func (t *sqliteTransaction) UpdateBudgetStatus(ctx context.Context, id int64, status model.BudgetStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.updateBudgetStatusTx(ctx, t.tx, id, status)
}

func (t *sqliteTransaction) BumpBudgetVersion(ctx context.Context, id int64, expected int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.bumpBudgetVersionTx(ctx, t.tx, id, expected)
}

func (t *sqliteTransaction) AddBudgetLine(ctx context.Context, line *model.BudgetLine) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.addBudgetLineTx(ctx, t.tx, line)
}

func (t *sqliteTransaction) UpdateBudgetLine(ctx context.Context, line *model.BudgetLine) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.updateBudgetLineTx(ctx, t.tx, line)
}

func (t *sqliteTransaction) DeleteBudgetLine(ctx context.Context, lineID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.deleteBudgetLineTx(ctx, t.tx, lineID)
}

func (t *sqliteTransaction) SaveLedgerEntries(ctx context.Context, entries []model.LedgerEntry) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateLedgerEntries(entries); err != nil {
		return 0, err
	}
	return t.storage.saveLedgerEntriesTx(ctx, t.tx, entries)
}

func (t *sqliteTransaction) GetLedgerEntries(ctx context.Context, filter service.LedgerFilter) ([]model.LedgerEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getLedgerEntriesTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) SumLedgerAmounts(ctx context.Context, accountID int64, lineType model.LineType, from, to time.Time) (decimal.Decimal, error) {
	if err := validateContext(ctx); err != nil {
		return decimal.Zero, err
	}
	return t.storage.sumLedgerAmountsTx(ctx, t.tx, accountID, lineType, from, to)
}

func (t *sqliteTransaction) SaveDocument(ctx context.Context, doc *model.Document) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.saveDocumentTx(ctx, t.tx, doc)
}

func (t *sqliteTransaction) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getDocumentTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetDocumentLine(ctx context.Context, lineID int64) (*model.DocumentLine, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getDocumentLineTx(ctx, t.tx, lineID)
}

func (t *sqliteTransaction) UpdateDocumentLineAccount(ctx context.Context, lineID, accountID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.updateDocumentLineAccountTx(ctx, t.tx, lineID, accountID)
}

func (t *sqliteTransaction) SaveSuggestion(ctx context.Context, suggestion *model.CategorySuggestion) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.saveSuggestionTx(ctx, t.tx, suggestion)
}

func (t *sqliteTransaction) GetSuggestion(ctx context.Context, id int64) (*model.CategorySuggestion, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getSuggestionTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetSuggestionsByLine(ctx context.Context, lineID int64) (model.CategorySuggestions, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getSuggestionsByLineTx(ctx, t.tx, lineID)
}

func (t *sqliteTransaction) GetSuggestionsByDocument(ctx context.Context, documentID string) (model.CategorySuggestions, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getSuggestionsByDocumentTx(ctx, t.tx, documentID)
}

func (t *sqliteTransaction) AcceptSuggestion(ctx context.Context, id int64, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.acceptSuggestionTx(ctx, t.tx, id, at)
}

func (t *sqliteTransaction) RejectPendingSiblings(ctx context.Context, lineID, exceptID int64, at time.Time) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return t.storage.rejectPendingSiblingsTx(ctx, t.tx, lineID, exceptID, at)
}

func (t *sqliteTransaction) Migrate(_ context.Context) error {
	return fmt.Errorf("migrations cannot run inside a transaction")
}

func (t *sqliteTransaction) BeginTx(_ context.Context) (service.Transaction, error) {
	// Nested transactions not supported
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTransaction) Close() error {
	// Transactions should be committed or rolled back, not closed
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}
