package metrics

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/budgetgate/internal/common"
	"github.com/Veraticus/budgetgate/internal/model"
	"github.com/Veraticus/budgetgate/internal/service"
	"github.com/Veraticus/budgetgate/internal/testutil"
)

func setupComputer(t *testing.T) (*Computer, *testutil.TestDB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	computer := NewComputer(db.Storage, time.Hour)
	t.Cleanup(computer.Close)
	return computer, db
}

func TestComputer_Compute(t *testing.T) {
	computer, db := setupComputer(t)
	ctx := context.Background()

	mkt := db.Account("MKT", "Marketing")
	ops := db.Account("OPS", "Operations")
	sales := db.Account("SAL", "Sales")

	budget := db.DraftBudget("FY2024", "2024-01-01", "2024-12-31",
		testutil.ExpenseLine(mkt.ID, "100000"),
		testutil.ExpenseLine(ops.ID, "0"),
		testutil.IncomeLine(sales.ID, "50000"),
	)

	db.Post(mkt.ID, model.LineExpense, "30000", "2024-01-01")
	db.Post(mkt.ID, model.LineExpense, "50000", "2024-12-31")
	db.Post(mkt.ID, model.LineExpense, "7777", "2023-12-31") // outside period
	db.Post(mkt.ID, model.LineIncome, "123", "2024-06-01")   // wrong type
	db.Post(ops.ID, model.LineExpense, "400", "2024-03-03")
	db.Post(sales.ID, model.LineIncome, "60000", "2024-04-04")
	db.Post(sales.ID, model.LineIncome, "-5000", "2024-05-05") // reversal

	snapshot, err := computer.Compute(ctx, budget.ID)
	require.NoError(t, err)
	require.Len(t, snapshot.Lines, 3)

	tests := []struct {
		accountID     int64
		lineType      model.LineType
		name          string
		wantAchieved  string
		wantRemaining string
		wantPercent   string
	}{
		{name: "marketing", accountID: mkt.ID, lineType: model.LineExpense, wantAchieved: "80000", wantRemaining: "20000", wantPercent: "80"},
		{name: "zero planned", accountID: ops.ID, lineType: model.LineExpense, wantAchieved: "400", wantRemaining: "-400", wantPercent: "0"},
		{name: "over achieved income", accountID: sales.ID, lineType: model.LineIncome, wantAchieved: "55000", wantRemaining: "-5000", wantPercent: "110"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := snapshot.Line(tt.accountID, tt.lineType)
			require.NotNil(t, line)
			assert.Equal(t, tt.wantAchieved, line.Achieved.String())
			assert.Equal(t, tt.wantRemaining, line.Remaining.String())
			assert.Equal(t, tt.wantPercent, line.Percent.String())
		})
	}

	assert.Equal(t, "Marketing", snapshot.Lines[0].AccountName)
	assert.Equal(t, "150000", snapshot.Totals.Planned.String())
	assert.Equal(t, "135400", snapshot.Totals.Achieved.String())
	assert.Equal(t, "14600", snapshot.Totals.Remaining.String())
	assert.Equal(t, "90.27", snapshot.Totals.Percent.String())
}

func TestComputer_ComputeIsIdempotent(t *testing.T) {
	computer, db := setupComputer(t)
	ctx := context.Background()

	mkt := db.Account("MKT", "Marketing")
	budget := db.ConfirmedBudget("FY2024", "2024-01-01", "2024-12-31", testutil.ExpenseLine(mkt.ID, "333.33"))
	db.Post(mkt.ID, model.LineExpense, "111.11", "2024-02-02")

	first, err := computer.Compute(ctx, budget.ID)
	require.NoError(t, err)
	second, err := computer.Compute(ctx, budget.ID)
	require.NoError(t, err)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(firstJSON), string(secondJSON))
	assert.Equal(t, first, second)
}

func TestComputer_ComputeRegardlessOfStatus(t *testing.T) {
	computer, db := setupComputer(t)
	ctx := context.Background()

	mkt := db.Account("MKT", "Marketing")
	budget := db.DraftBudget("draft", "2024-01-01", "2024-12-31", testutil.ExpenseLine(mkt.ID, "10"))
	require.NoError(t, db.Storage.UpdateBudgetStatus(ctx, budget.ID, model.BudgetCancelled))

	_, err := computer.Compute(ctx, budget.ID)
	assert.NoError(t, err)

	_, err = computer.Compute(ctx, 999)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestComputer_GetUsesCacheUntilInvalidated(t *testing.T) {
	computer, db := setupComputer(t)
	ctx := context.Background()

	mkt := db.Account("MKT", "Marketing")
	ops := db.Account("OPS", "Operations")
	budget := db.ConfirmedBudget("FY2024", "2024-01-01", "2024-12-31", testutil.ExpenseLine(mkt.ID, "1000"))

	var dropped [][]int64
	computer.OnInvalidate(func(ids []int64) { dropped = append(dropped, ids) })

	snapshot, err := computer.Get(ctx, budget.ID)
	require.NoError(t, err)
	assert.True(t, snapshot.Totals.Achieved.IsZero())

	db.Post(mkt.ID, model.LineExpense, "250", "2024-04-01")

	cached, err := computer.Get(ctx, budget.ID)
	require.NoError(t, err)
	assert.True(t, cached.Totals.Achieved.IsZero(), "snapshot is served from cache until invalidated")

	// Unrelated account and out-of-period dates leave the snapshot alone
	computer.InvalidateAccountAt([]int64{ops.ID}, testutil.Date(t, "2024-04-01"))
	computer.InvalidateAccountAt([]int64{mkt.ID}, testutil.Date(t, "2025-04-01"))
	assert.Equal(t, 1, computer.cache.size())
	assert.Empty(t, dropped)

	computer.InvalidateAccountAt([]int64{ops.ID, mkt.ID}, testutil.Date(t, "2024-04-01"))
	assert.Equal(t, 0, computer.cache.size())
	assert.Equal(t, [][]int64{{budget.ID}}, dropped)

	fresh, err := computer.Get(ctx, budget.ID)
	require.NoError(t, err)
	assert.Equal(t, "250", fresh.Totals.Achieved.String())

	computer.InvalidateAccounts([]int64{mkt.ID})
	assert.Equal(t, 0, computer.cache.size())

	_, err = computer.Get(ctx, budget.ID)
	require.NoError(t, err)
	computer.InvalidateBudget(budget.ID)
	assert.Equal(t, 0, computer.cache.size())
}

// hookedStorage runs afterRollback once a read transaction has been rolled back.
type hookedStorage struct {
	service.Storage
	afterRollback func()
}

func (s *hookedStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	tx, err := s.Storage.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return &hookedTx{Transaction: tx, afterRollback: s.afterRollback}, nil
}

type hookedTx struct {
	service.Transaction
	afterRollback func()
}

func (tx *hookedTx) Rollback() error {
	err := tx.Transaction.Rollback()
	tx.afterRollback()
	return err
}

func TestComputer_InvalidationDuringComputeIsNotLost(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	mkt := db.Account("MKT", "Marketing")
	budget := db.ConfirmedBudget("FY2024", "2024-01-01", "2024-12-31", testutil.ExpenseLine(mkt.ID, "100"))

	var (
		computer *Computer
		once     sync.Once
	)
	store := &hookedStorage{
		Storage: db.Storage,
		afterRollback: func() {
			once.Do(func() {
				db.Post(mkt.ID, model.LineExpense, "90", "2024-06-01")
				computer.InvalidateAccountAt([]int64{mkt.ID}, testutil.Date(t, "2024-06-01"))
			})
		},
	}
	computer = NewComputer(store, time.Hour)
	t.Cleanup(computer.Close)

	stale, err := computer.Compute(ctx, budget.ID)
	require.NoError(t, err)
	assert.True(t, stale.Totals.Achieved.IsZero())
	assert.Equal(t, 0, computer.cache.size(), "snapshot computed before the invalidation is not cached")

	fresh, err := computer.Get(ctx, budget.ID)
	require.NoError(t, err)
	assert.Equal(t, "90", fresh.Totals.Achieved.String())
	assert.Equal(t, 1, computer.cache.size())
}

func TestComputer_GetReturnsIndependentCopies(t *testing.T) {
	computer, db := setupComputer(t)
	ctx := context.Background()

	mkt := db.Account("MKT", "Marketing")
	budget := db.ConfirmedBudget("FY2024", "2024-01-01", "2024-12-31", testutil.ExpenseLine(mkt.ID, "100"))

	computed, err := computer.Compute(ctx, budget.ID)
	require.NoError(t, err)
	computed.Lines[0].AccountName = "changed by caller"

	first, err := computer.Get(ctx, budget.ID)
	require.NoError(t, err)
	require.Len(t, first.Lines, 1)
	assert.Equal(t, "Marketing", first.Lines[0].AccountName)
	first.Lines[0].Achieved = testutil.Amount("999")

	second, err := computer.Get(ctx, budget.ID)
	require.NoError(t, err)
	assert.True(t, second.Lines[0].Achieved.IsZero())
}

func TestComputer_ComputeAll(t *testing.T) {
	computer, db := setupComputer(t)
	ctx := context.Background()

	mkt := db.Account("MKT", "Marketing")
	q1 := db.ConfirmedBudget("Q1", "2024-01-01", "2024-03-31", testutil.ExpenseLine(mkt.ID, "100"))
	q2 := db.ConfirmedBudget("Q2", "2024-04-01", "2024-06-30", testutil.ExpenseLine(mkt.ID, "100"))
	db.Post(mkt.ID, model.LineExpense, "10", "2024-02-01")
	db.Post(mkt.ID, model.LineExpense, "20", "2024-05-01")

	snapshots, err := computer.ComputeAll(ctx, []int64{q1.ID, q2.ID})
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, "10", snapshots[0].Totals.Achieved.String())
	assert.Equal(t, "20", snapshots[1].Totals.Achieved.String())

	_, err = computer.ComputeAll(ctx, []int64{q1.ID, 999})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSnapshotCache_Expiry(t *testing.T) {
	cache := newSnapshotCache(time.Millisecond)
	defer cache.close()

	budget := &model.Budget{ID: 1, DateFrom: time.Now(), DateTo: time.Now()}
	require.True(t, cache.set(budget, model.MetricsSnapshot{BudgetID: 1}, cache.currentGeneration()))

	time.Sleep(5 * time.Millisecond)
	_, ok := cache.get(1)
	assert.False(t, ok)
}

func TestSnapshotCache_StaleGenerationIsDropped(t *testing.T) {
	cache := newSnapshotCache(time.Hour)
	defer cache.close()

	budget := &model.Budget{ID: 1, DateFrom: time.Now(), DateTo: time.Now()}
	generation := cache.currentGeneration()
	cache.invalidateBudget(2)

	assert.False(t, cache.set(budget, model.MetricsSnapshot{BudgetID: 1}, generation))
	_, ok := cache.get(1)
	assert.False(t, ok)

	assert.True(t, cache.set(budget, model.MetricsSnapshot{BudgetID: 1}, cache.currentGeneration()))
	_, ok = cache.get(1)
	assert.True(t, ok)
}
