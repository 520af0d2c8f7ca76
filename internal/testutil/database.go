// Package testutil provides shared test fixtures for budgetgate packages.
// It wires a migrated in-memory SQLite store and offers helpers that seed
// accounts, budgets and ledger activity in a few lines.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/budgetgate/internal/model"
	"github.com/Veraticus/budgetgate/internal/storage"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a new in-memory test database.
// It automatically handles migrations and cleanup.
//
// Example:
//
//	db := testutil.SetupTestDB(t)
//	mkt := db.Account("MKT", "Marketing")
//	db.ConfirmedBudget("FY2024", "2024-01-01", "2024-12-31",
//		testutil.ExpenseLine(mkt.ID, "100000"))
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{
		Storage: store,
		t:       t,
	}
}

// Account creates an active analytical account.
func (db *TestDB) Account(code, name string) *model.AnalyticalAccount {
	db.t.Helper()
	account, err := db.Storage.CreateAccount(context.Background(), code, name)
	if err != nil {
		db.t.Fatalf("failed to create account %q: %v", code, err)
	}
	return account
}

// DraftBudget creates a DRAFT budget with the given lines.
func (db *TestDB) DraftBudget(name, from, to string, lines ...model.BudgetLine) *model.Budget {
	db.t.Helper()
	budget := &model.Budget{
		Name:     name,
		DateFrom: Date(db.t, from),
		DateTo:   Date(db.t, to),
		Lines:    lines,
	}
	if err := db.Storage.CreateBudget(context.Background(), budget); err != nil {
		db.t.Fatalf("failed to create budget %q: %v", name, err)
	}
	return budget
}

// ConfirmedBudget creates a budget and moves it straight to CONFIRMED.
func (db *TestDB) ConfirmedBudget(name, from, to string, lines ...model.BudgetLine) *model.Budget {
	db.t.Helper()
	budget := db.DraftBudget(name, from, to, lines...)
	if err := db.Storage.UpdateBudgetStatus(context.Background(), budget.ID, model.BudgetConfirmed); err != nil {
		db.t.Fatalf("failed to confirm budget %q: %v", name, err)
	}
	budget.Status = model.BudgetConfirmed
	return budget
}

// Post records a ledger entry for an account.
func (db *TestDB) Post(accountID int64, lineType model.LineType, amount, date string) {
	db.t.Helper()
	entry := model.LedgerEntry{
		AccountID:   accountID,
		Type:        lineType,
		Amount:      decimal.RequireFromString(amount),
		PostingDate: Date(db.t, date),
	}
	if _, err := db.Storage.SaveLedgerEntries(context.Background(), []model.LedgerEntry{entry}); err != nil {
		db.t.Fatalf("failed to post ledger entry: %v", err)
	}
}

// ExpenseLine builds an EXPENSE budget line.
func ExpenseLine(accountID int64, planned string) model.BudgetLine {
	return model.BudgetLine{
		AccountID:     accountID,
		Type:          model.LineExpense,
		PlannedAmount: decimal.RequireFromString(planned),
		IsMonetary:    true,
	}
}

// IncomeLine builds an INCOME budget line.
func IncomeLine(accountID int64, planned string) model.BudgetLine {
	line := ExpenseLine(accountID, planned)
	line.Type = model.LineIncome
	return line
}

// Date parses a YYYY-MM-DD date or fails the test.
func Date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := model.ParseDate(s)
	if err != nil {
		t.Fatalf("bad test date %q: %v", s, err)
	}
	return d
}

// Amount parses a decimal literal.
func Amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
