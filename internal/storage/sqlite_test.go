package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/budgetgate/internal/common"
	"github.com/Veraticus/budgetgate/internal/model"
	"github.com/Veraticus/budgetgate/internal/service"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := model.ParseDate(s)
	require.NoError(t, err)
	return d
}

func createConfirmedBudget(t *testing.T, store *SQLiteStorage, name, from, to string, lines ...model.BudgetLine) *model.Budget {
	t.Helper()
	ctx := context.Background()
	budget := &model.Budget{Name: name, DateFrom: mustDate(t, from), DateTo: mustDate(t, to), Lines: lines}
	require.NoError(t, store.CreateBudget(ctx, budget))
	require.NoError(t, store.UpdateBudgetStatus(ctx, budget.ID, model.BudgetConfirmed))
	return budget
}

func TestMigrate_Idempotent(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.Migrate(ctx))

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, version)

	var indexCount int
	err = store.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'index' AND name = 'idx_category_suggestions_one_accepted'
	`).Scan(&indexCount)
	require.NoError(t, err)
	assert.Equal(t, 1, indexCount)
}

func TestAccounts(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	mkt, err := store.CreateAccount(ctx, "MKT", "Marketing")
	require.NoError(t, err)
	assert.True(t, mkt.IsActive)

	_, err = store.CreateAccount(ctx, "OPS", "Operations")
	require.NoError(t, err)

	_, err = store.CreateAccount(ctx, "MKT", "Marketing again")
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)

	require.NoError(t, store.SetAccountActive(ctx, mkt.ID, false))

	active, err := store.ListAccounts(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "OPS", active[0].Code)

	all, err := store.ListAccounts(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Inactive accounts stay readable
	got, err := store.GetAccount(ctx, mkt.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.IsActive)

	missing, err := store.GetAccount(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.ErrorIs(t, store.SetAccountActive(ctx, 999, true), common.ErrNotFound)
}

func TestBudgets_CreateAndGet(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	mkt, err := store.CreateAccount(ctx, "MKT", "Marketing")
	require.NoError(t, err)

	budget := &model.Budget{
		Name:     "FY2024",
		DateFrom: mustDate(t, "2024-01-01"),
		DateTo:   mustDate(t, "2024-12-31"),
		Lines: []model.BudgetLine{
			{AccountID: mkt.ID, Type: model.LineExpense, PlannedAmount: decimal.RequireFromString("100000.50"), IsMonetary: true},
			{AccountID: mkt.ID, Type: model.LineIncome, PlannedAmount: decimal.NewFromInt(5000)},
		},
	}
	require.NoError(t, store.CreateBudget(ctx, budget))
	assert.Positive(t, budget.ID)
	assert.Equal(t, 1, budget.Version)
	assert.Equal(t, model.BudgetDraft, budget.Status)

	got, err := store.GetBudget(ctx, budget.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "FY2024", got.Name)
	assert.True(t, got.DateFrom.Equal(budget.DateFrom))
	assert.True(t, got.DateTo.Equal(budget.DateTo))
	require.Len(t, got.Lines, 2)
	assert.True(t, got.Lines[0].PlannedAmount.Equal(decimal.RequireFromString("100000.50")))
	assert.True(t, got.Lines[0].IsMonetary)
	assert.Nil(t, got.RevisionOf)

	t.Run("duplicate account and type is rejected", func(t *testing.T) {
		dup := &model.Budget{
			Name:     "dup",
			DateFrom: mustDate(t, "2024-01-01"),
			DateTo:   mustDate(t, "2024-12-31"),
			Lines: []model.BudgetLine{
				{AccountID: mkt.ID, Type: model.LineExpense, PlannedAmount: decimal.NewFromInt(1)},
				{AccountID: mkt.ID, Type: model.LineExpense, PlannedAmount: decimal.NewFromInt(2)},
			},
		}
		assert.ErrorIs(t, store.CreateBudget(ctx, dup), common.ErrDuplicateEntry)

		budgets, err := store.ListBudgets(ctx, service.BudgetFilter{})
		require.NoError(t, err)
		assert.Len(t, budgets, 1, "failed create must not leave a partial budget")
	})

	t.Run("inverted range violates check constraint", func(t *testing.T) {
		bad := &model.Budget{Name: "bad", DateFrom: mustDate(t, "2024-12-31"), DateTo: mustDate(t, "2024-01-01")}
		assert.Error(t, store.CreateBudget(ctx, bad))
	})
}

func TestBudgets_LineMutations(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	mkt, err := store.CreateAccount(ctx, "MKT", "Marketing")
	require.NoError(t, err)
	ops, err := store.CreateAccount(ctx, "OPS", "Operations")
	require.NoError(t, err)

	budget := &model.Budget{Name: "Q1", DateFrom: mustDate(t, "2024-01-01"), DateTo: mustDate(t, "2024-03-31")}
	require.NoError(t, store.CreateBudget(ctx, budget))

	line := &model.BudgetLine{BudgetID: budget.ID, AccountID: mkt.ID, Type: model.LineExpense, PlannedAmount: decimal.NewFromInt(10)}
	require.NoError(t, store.AddBudgetLine(ctx, line))

	line.AccountID = ops.ID
	line.PlannedAmount = decimal.NewFromInt(20)
	require.NoError(t, store.UpdateBudgetLine(ctx, line))

	got, err := store.GetBudget(ctx, budget.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, ops.ID, got.Lines[0].AccountID)
	assert.True(t, got.Lines[0].PlannedAmount.Equal(decimal.NewFromInt(20)))

	require.NoError(t, store.DeleteBudgetLine(ctx, line.ID))
	assert.ErrorIs(t, store.DeleteBudgetLine(ctx, line.ID), common.ErrNotFound)
}

func TestBudgets_BumpVersion(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	budget := &model.Budget{Name: "Q1", DateFrom: mustDate(t, "2024-01-01"), DateTo: mustDate(t, "2024-03-31")}
	require.NoError(t, store.CreateBudget(ctx, budget))

	require.NoError(t, store.BumpBudgetVersion(ctx, budget.ID, 1))

	err := store.BumpBudgetVersion(ctx, budget.ID, 1)
	var conflict *common.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 1, conflict.Expected)
	assert.Equal(t, 2, conflict.Actual)

	assert.ErrorIs(t, store.BumpBudgetVersion(ctx, 999, 1), common.ErrNotFound)
}

func TestBudgets_FindCoveringBudget(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	draft := &model.Budget{Name: "draft", DateFrom: mustDate(t, "2024-01-01"), DateTo: mustDate(t, "2024-12-31")}
	require.NoError(t, store.CreateBudget(ctx, draft))

	got, err := store.FindCoveringBudget(ctx, mustDate(t, "2024-06-01"))
	require.NoError(t, err)
	assert.Nil(t, got, "drafts never cover a date")

	original := createConfirmedBudget(t, store, "FY2024", "2024-01-01", "2024-12-31")

	tests := []struct {
		name   string
		date   string
		wantID int64
	}{
		{name: "first day inclusive", date: "2024-01-01", wantID: original.ID},
		{name: "last day inclusive", date: "2024-12-31", wantID: original.ID},
		{name: "before range", date: "2023-12-31", wantID: 0},
		{name: "after range", date: "2025-01-01", wantID: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.FindCoveringBudget(ctx, mustDate(t, tt.date))
			require.NoError(t, err)
			if tt.wantID == 0 {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}

	t.Run("draft revision does not supersede", func(t *testing.T) {
		revision := &model.Budget{
			Name: "FY2024 rev", DateFrom: mustDate(t, "2024-01-01"), DateTo: mustDate(t, "2024-12-31"),
			RevisionOf: &original.ID,
		}
		require.NoError(t, store.CreateBudget(ctx, revision))

		got, err := store.FindCoveringBudget(ctx, mustDate(t, "2024-06-01"))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, original.ID, got.ID)

		t.Run("confirmed revision supersedes", func(t *testing.T) {
			require.NoError(t, store.UpdateBudgetStatus(ctx, revision.ID, model.BudgetConfirmed))

			got, err := store.FindCoveringBudget(ctx, mustDate(t, "2024-06-01"))
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, revision.ID, got.ID)

			source, err := store.GetBudget(ctx, original.ID)
			require.NoError(t, err)
			assert.Equal(t, model.BudgetConfirmed, source.Status, "source status is not mutated")
		})
	})
}

func TestBudgets_FindCoveringBudget_Overlapping(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	quarter := createConfirmedBudget(t, store, "Q2", "2024-04-01", "2024-06-30")
	createConfirmedBudget(t, store, "FY2024", "2024-01-01", "2024-12-31")
	sameStart := createConfirmedBudget(t, store, "FY2024 alt", "2024-01-01", "2024-12-31")

	tests := []struct {
		name   string
		date   string
		wantID int64
	}{
		{name: "latest start wins over newer budget", date: "2024-05-15", wantID: quarter.ID},
		{name: "equal starts fall back to highest id", date: "2024-02-01", wantID: sameStart.ID},
		{name: "only the long budgets cover", date: "2024-09-01", wantID: sameStart.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.FindCoveringBudget(ctx, mustDate(t, tt.date))
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestLedger_SaveAndSum(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	mkt, err := store.CreateAccount(ctx, "MKT", "Marketing")
	require.NoError(t, err)

	entries := []model.LedgerEntry{
		{AccountID: mkt.ID, Type: model.LineExpense, Amount: decimal.RequireFromString("100.10"), PostingDate: mustDate(t, "2024-01-01"), Reference: "INV-1"},
		{AccountID: mkt.ID, Type: model.LineExpense, Amount: decimal.RequireFromString("0.20"), PostingDate: mustDate(t, "2024-06-30")},
		{AccountID: mkt.ID, Type: model.LineExpense, Amount: decimal.RequireFromString("-50"), PostingDate: mustDate(t, "2024-12-31")},
		{AccountID: mkt.ID, Type: model.LineExpense, Amount: decimal.NewFromInt(999), PostingDate: mustDate(t, "2025-01-01")},
		{AccountID: mkt.ID, Type: model.LineIncome, Amount: decimal.NewFromInt(400), PostingDate: mustDate(t, "2024-03-01")},
	}
	inserted, err := store.SaveLedgerEntries(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 5, inserted)

	// Same reference for the same account is skipped
	inserted, err = store.SaveLedgerEntries(ctx, entries[:1])
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	total, err := store.SumLedgerAmounts(ctx, mkt.ID, model.LineExpense, mustDate(t, "2024-01-01"), mustDate(t, "2024-12-31"))
	require.NoError(t, err)
	assert.Equal(t, "50.3", total.String())

	income, err := store.SumLedgerAmounts(ctx, mkt.ID, model.LineIncome, mustDate(t, "2024-01-01"), mustDate(t, "2024-12-31"))
	require.NoError(t, err)
	assert.True(t, income.Equal(decimal.NewFromInt(400)))

	start := mustDate(t, "2024-06-01")
	listed, err := store.GetLedgerEntries(ctx, service.LedgerFilter{AccountID: mkt.ID, StartDate: &start})
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func createBillWithSuggestions(t *testing.T, store *SQLiteStorage) (*model.Document, *model.AnalyticalAccount, *model.AnalyticalAccount) {
	t.Helper()
	ctx := context.Background()

	a, err := store.CreateAccount(ctx, "A", "Advertising")
	require.NoError(t, err)
	b, err := store.CreateAccount(ctx, "B", "Brand")
	require.NoError(t, err)

	doc := &model.Document{
		ID:   "doc-1",
		Kind: model.DocumentVendorBill,
		Date: mustDate(t, "2024-05-01"),
		Lines: []model.DocumentLine{
			{ProductName: "Billboard", Amount: decimal.NewFromInt(1000)},
			{ProductName: "Flyers", Amount: decimal.NewFromInt(200), AccountID: &a.ID},
		},
	}
	require.NoError(t, store.SaveDocument(ctx, doc))

	for _, s := range []model.CategorySuggestion{
		{BillLineID: doc.Lines[0].ID, AccountID: a.ID, Confidence: 0.9, ParametersUsed: []string{"vendor", "description"}},
		{BillLineID: doc.Lines[0].ID, AccountID: b.ID, Confidence: 0.6, ParametersUsed: []string{"amount"}},
	} {
		suggestion := s
		require.NoError(t, store.SaveSuggestion(ctx, &suggestion))
	}
	return doc, a, b
}

func TestDocuments(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	doc, a, b := createBillWithSuggestions(t, store)

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Lines, 2)
	assert.Nil(t, got.Lines[0].AccountID)
	require.NotNil(t, got.Lines[1].AccountID)
	assert.Equal(t, a.ID, *got.Lines[1].AccountID)

	require.NoError(t, store.UpdateDocumentLineAccount(ctx, got.Lines[0].ID, b.ID))
	line, err := store.GetDocumentLine(ctx, got.Lines[0].ID)
	require.NoError(t, err)
	require.NotNil(t, line.AccountID)
	assert.Equal(t, b.ID, *line.AccountID)

	missing, err := store.GetDocument(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSuggestions_AcceptAndReject(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	doc, _, _ := createBillWithSuggestions(t, store)

	suggestions, err := store.GetSuggestionsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, suggestions, 2)
	assert.Equal(t, "Advertising", suggestions[0].AccountName)
	assert.Equal(t, []string{"vendor", "description"}, suggestions[0].ParametersUsed)

	winner, loser := suggestions[0], suggestions[1]
	now := time.Now()

	require.NoError(t, store.AcceptSuggestion(ctx, winner.ID, now))
	rejected, err := store.RejectPendingSiblings(ctx, winner.BillLineID, winner.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, rejected)

	got, err := store.GetSuggestion(ctx, winner.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SuggestionAccepted, got.Status)
	assert.NotNil(t, got.ResolvedAt)

	got, err = store.GetSuggestion(ctx, loser.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SuggestionRejected, got.Status)

	var already *common.AlreadyResolvedError
	require.ErrorAs(t, store.AcceptSuggestion(ctx, winner.ID, now), &already)
	assert.Equal(t, "ACCEPTED", already.Status)

	require.ErrorAs(t, store.AcceptSuggestion(ctx, loser.ID, now), &already)
	assert.Equal(t, "REJECTED", already.Status)

	assert.ErrorIs(t, store.AcceptSuggestion(ctx, 999, now), common.ErrNotFound)
}

func TestSuggestions_UniqueAcceptedIndex(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	doc, _, _ := createBillWithSuggestions(t, store)
	suggestions, err := store.GetSuggestionsByLine(ctx, doc.Lines[0].ID)
	require.NoError(t, err)
	require.Len(t, suggestions, 2)

	// Two resolvers that both skipped sibling rejection: the index lets only one win
	require.NoError(t, store.AcceptSuggestion(ctx, suggestions[0].ID, time.Now()))

	err = store.AcceptSuggestion(ctx, suggestions[1].ID, time.Now())
	var already *common.AlreadyResolvedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, suggestions[1].ID, already.SuggestionID)
}

func TestSuggestions_Validation(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	doc, a, _ := createBillWithSuggestions(t, store)

	err := store.SaveSuggestion(ctx, &model.CategorySuggestion{BillLineID: doc.Lines[0].ID, AccountID: a.ID, Confidence: 1.5})
	assert.Error(t, err)

	err = store.SaveSuggestion(ctx, &model.CategorySuggestion{BillLineID: doc.Lines[0].ID, AccountID: a.ID, Confidence: 0.5})
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err           error
		name          string
		wantTransient bool
		wantDuplicate bool
	}{
		{name: "deadline", err: context.DeadlineExceeded, wantTransient: true},
		{name: "busy", err: sqlite3.Error{Code: sqlite3.ErrBusy}, wantTransient: true},
		{name: "locked", err: sqlite3.Error{Code: sqlite3.ErrLocked}, wantTransient: true},
		{name: "unique", err: sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, wantDuplicate: true},
		{name: "check", err: sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintCheck}},
		{name: "other", err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyError("op", tt.err)
			var transient *common.TransientError
			assert.Equal(t, tt.wantTransient, errors.As(err, &transient))
			assert.Equal(t, tt.wantDuplicate, errors.Is(err, common.ErrDuplicateEntry))
			assert.Equal(t, tt.wantTransient, common.IsRetryable(err))
		})
	}
}

func TestQueryTimeoutSurfacesTransient(t *testing.T) {
	store, err := NewSQLiteStorage(":memory:", WithQueryTimeout(time.Nanosecond))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err = store.ListAccounts(ctx, false)
	require.Error(t, err)
	var transient *common.TransientError
	assert.ErrorAs(t, err, &transient)
}
