package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/budgetgate/internal/model"
)

func setupCheckpointStorage(t *testing.T) (*SQLiteStorage, *CheckpointManager) {
	t.Helper()

	store, cleanup := createTestStorage(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	account, err := store.CreateAccount(ctx, "MKT", "Marketing")
	require.NoError(t, err)

	budget := &model.Budget{
		Name:     "FY2024",
		DateFrom: mustDate(t, "2024-01-01"),
		DateTo:   mustDate(t, "2024-12-31"),
		Lines: []model.BudgetLine{
			{AccountID: account.ID, Type: model.LineExpense, PlannedAmount: decimal.NewFromInt(100000)},
		},
	}
	require.NoError(t, store.CreateBudget(ctx, budget))

	_, err = store.SaveLedgerEntries(ctx, []model.LedgerEntry{
		{AccountID: account.ID, Type: model.LineExpense, Amount: decimal.NewFromInt(500), PostingDate: mustDate(t, "2024-02-01")},
		{AccountID: account.ID, Type: model.LineExpense, Amount: decimal.NewFromInt(700), PostingDate: mustDate(t, "2024-02-02")},
	})
	require.NoError(t, err)

	manager, err := store.NewCheckpointManager()
	require.NoError(t, err)
	return store, manager
}

func TestCheckpointManager_Create(t *testing.T) {
	_, manager := setupCheckpointStorage(t)
	ctx := context.Background()

	tests := []struct {
		wantErr error
		name    string
		tag     string
	}{
		{name: "named checkpoint", tag: "before-import"},
		{name: "generated name", tag: ""},
		{name: "path traversal", tag: "../escape", wantErr: ErrInvalidCheckpointID},
		{name: "path separator", tag: "a/b", wantErr: ErrInvalidCheckpointID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := manager.Create(ctx, tt.tag, "test checkpoint")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, info.ID)
			assert.Equal(t, 1, info.Budgets)
			assert.Equal(t, 2, info.LedgerEntries)
			assert.Equal(t, ExpectedSchemaVersion, info.SchemaVersion)
			assert.False(t, info.IsAuto)
			assert.FileExists(t, manager.checkpointPath(info.ID))
			assert.FileExists(t, manager.metadataPath(info.ID))
		})
	}

	t.Run("duplicate tag", func(t *testing.T) {
		_, err := manager.Create(ctx, "before-import", "again")
		assert.ErrorIs(t, err, ErrCheckpointExists)
	})
}

func TestCheckpointManager_ListAndDelete(t *testing.T) {
	_, manager := setupCheckpointStorage(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := manager.Create(ctx, fmt.Sprintf("cp-%d", i), "")
		require.NoError(t, err)
	}

	list, err := manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i := 1; i < len(list); i++ {
		assert.False(t, list[i].CreatedAt.After(list[i-1].CreatedAt), "list must be newest first")
	}

	require.NoError(t, manager.Delete(ctx, "cp-2"))
	assert.ErrorIs(t, manager.Delete(ctx, "cp-2"), ErrCheckpointNotFound)

	list, err = manager.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestCheckpointManager_Restore(t *testing.T) {
	store, manager := setupCheckpointStorage(t)
	ctx := context.Background()

	_, err := manager.Create(ctx, "baseline", "")
	require.NoError(t, err)

	accounts, err := store.ListAccounts(ctx, false)
	require.NoError(t, err)
	_, err = store.SaveLedgerEntries(ctx, []model.LedgerEntry{
		{AccountID: accounts[0].ID, Type: model.LineExpense, Amount: decimal.NewFromInt(9000), PostingDate: mustDate(t, "2024-03-01")},
	})
	require.NoError(t, err)

	require.NoError(t, manager.Restore(ctx, "baseline"))

	reopened, err := NewSQLiteStorage(manager.dbPath)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	total, err := reopened.SumLedgerAmounts(ctx, accounts[0].ID, model.LineExpense,
		mustDate(t, "2024-01-01"), mustDate(t, "2024-12-31"))
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(1200)), "restored total = %s", total)

	assert.ErrorIs(t, manager.Restore(ctx, "missing"), ErrCheckpointNotFound)
}

func TestCheckpointManager_CleanupOldAutoCheckpoints(t *testing.T) {
	_, manager := setupCheckpointStorage(t)
	ctx := context.Background()

	for i := 0; i < maxAutoCheckpoints+2; i++ {
		_, err := manager.create(ctx, fmt.Sprintf("auto-migrate-%d", i), "", true)
		require.NoError(t, err)
	}
	_, err := manager.Create(ctx, "manual", "")
	require.NoError(t, err)

	require.NoError(t, manager.cleanupOldAutoCheckpoints(ctx))

	list, err := manager.List(ctx)
	require.NoError(t, err)

	autoCount := 0
	for _, cp := range list {
		if cp.IsAuto {
			autoCount++
		}
	}
	assert.Equal(t, maxAutoCheckpoints, autoCount)
	assert.Len(t, list, maxAutoCheckpoints+1)
}

func TestCheckpointManager_IntegrityCheck(t *testing.T) {
	_, manager := setupCheckpointStorage(t)
	ctx := context.Background()

	_, err := manager.Create(ctx, "corrupt-me", "")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(manager.checkpointPath("corrupt-me"), []byte("not a database"), 0600))

	err = manager.Restore(ctx, "corrupt-me")
	assert.ErrorIs(t, err, ErrCheckpointCorrupted)
}

func TestNewCheckpointManager_InMemory(t *testing.T) {
	_, err := NewCheckpointManager(nil, ":memory:")
	assert.ErrorIs(t, err, ErrInMemoryDatabase)

	dir := t.TempDir()
	manager, err := NewCheckpointManager(nil, filepath.Join(dir, "db.sqlite"))
	require.NoError(t, err)
	assert.DirExists(t, manager.checkpointsDir)
}
