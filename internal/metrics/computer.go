// Package metrics derives achieved, remaining and percent figures for budgets
// from posted ledger activity and caches the resulting snapshots.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/budgetgate/internal/common"
	"github.com/Veraticus/budgetgate/internal/model"
	"github.com/Veraticus/budgetgate/internal/service"
)

// InvalidationHook is notified with the budget IDs whose cached snapshots were dropped.
type InvalidationHook func(budgetIDs []int64)

// Computer computes and caches metrics snapshots. It implements service.MetricsInvalidator.
type Computer struct {
	storage service.Storage
	cache   *snapshotCache
	onDrop  InvalidationHook
}

// NewComputer creates a metrics computer whose cached snapshots live for ttl.
func NewComputer(storage service.Storage, ttl time.Duration) *Computer {
	return &Computer{
		storage: storage,
		cache:   newSnapshotCache(ttl),
	}
}

// OnInvalidate registers a hook called after snapshots are invalidated.
func (c *Computer) OnInvalidate(hook InvalidationHook) {
	c.onDrop = hook
}

// Close stops the cache's background cleanup.
func (c *Computer) Close() {
	c.cache.close()
}

// Compute re-derives a budget's snapshot from the ledger and refreshes the cache.
// All reads happen inside one transaction, so entries posted mid-computation are
// either fully included or not at all. A snapshot is not cached when an
// invalidation arrived while it was being computed.
func (c *Computer) Compute(ctx context.Context, budgetID int64) (*model.MetricsSnapshot, error) {
	var (
		budget   *model.Budget
		snapshot *model.MetricsSnapshot
	)
	generation := c.cache.currentGeneration()
	err := common.WithRetry(ctx, func() error {
		tx, err := c.storage.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		budget, err = tx.GetBudget(ctx, budgetID)
		if err != nil {
			return err
		}
		if budget == nil {
			return fmt.Errorf("budget %d: %w", budgetID, common.ErrNotFound)
		}

		snapshot, err = computeSnapshot(ctx, tx, budget)
		return err
	}, common.DefaultRetryOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to compute metrics: %w", err)
	}

	cached := c.cache.set(budget, *snapshot, generation)

	slog.Debug("Computed budget metrics",
		"budget_id", budgetID,
		"cached", cached,
		"lines", len(snapshot.Lines),
		"achieved", snapshot.Totals.Achieved.String())
	return snapshot, nil
}

// Get returns the cached snapshot for a budget, computing it when absent or expired.
func (c *Computer) Get(ctx context.Context, budgetID int64) (*model.MetricsSnapshot, error) {
	if snapshot, ok := c.cache.get(budgetID); ok {
		return &snapshot, nil
	}
	return c.Compute(ctx, budgetID)
}

// ComputeAll recomputes several budgets concurrently.
func (c *Computer) ComputeAll(ctx context.Context, budgetIDs []int64) ([]*model.MetricsSnapshot, error) {
	snapshots := make([]*model.MetricsSnapshot, len(budgetIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range budgetIDs {
		g.Go(func() error {
			snapshot, err := c.Compute(gctx, id)
			if err != nil {
				return fmt.Errorf("budget %d: %w", id, err)
			}
			snapshots[i] = snapshot
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snapshots, nil
}

// InvalidateBudget drops the cached snapshot of one budget.
func (c *Computer) InvalidateBudget(budgetID int64) {
	c.dropped(c.cache.invalidateBudget(budgetID), "budget_id", budgetID)
}

// InvalidateAccountAt drops snapshots of budgets that include any of the accounts
// and whose period contains date.
func (c *Computer) InvalidateAccountAt(accountIDs []int64, date time.Time) {
	c.dropped(c.cache.invalidateAccounts(accountIDs, date), "account_ids", accountIDs, "date", date.Format(model.DateLayout))
}

// InvalidateAccounts drops snapshots of every budget that includes any of the accounts.
func (c *Computer) InvalidateAccounts(accountIDs []int64) {
	c.dropped(c.cache.invalidateAccounts(accountIDs, time.Time{}), "account_ids", accountIDs)
}

func (c *Computer) dropped(budgetIDs []int64, args ...any) {
	if len(budgetIDs) == 0 {
		return
	}
	slog.Debug("Invalidated metrics snapshots", append(args, "budget_ids", budgetIDs)...)
	if c.onDrop != nil {
		c.onDrop(budgetIDs)
	}
}

// ledgerReader is the storage needed to derive a snapshot.
type ledgerReader interface {
	GetAccount(ctx context.Context, id int64) (*model.AnalyticalAccount, error)
	SumLedgerAmounts(ctx context.Context, accountID int64, lineType model.LineType, from, to time.Time) (decimal.Decimal, error)
}

// computeSnapshot sums matching ledger entries over the budget period for every line.
func computeSnapshot(ctx context.Context, reader ledgerReader, budget *model.Budget) (*model.MetricsSnapshot, error) {
	snapshot := &model.MetricsSnapshot{
		BudgetID: budget.ID,
		Lines:    make([]model.LineMetrics, 0, len(budget.Lines)),
	}

	totals := model.MetricsTotals{
		Planned:  decimal.Zero,
		Achieved: decimal.Zero,
	}

	for _, line := range budget.Lines {
		achieved, err := reader.SumLedgerAmounts(ctx, line.AccountID, line.Type, budget.DateFrom, budget.DateTo)
		if err != nil {
			return nil, fmt.Errorf("failed to sum ledger for line %d: %w", line.ID, err)
		}

		accountName := ""
		account, err := reader.GetAccount(ctx, line.AccountID)
		if err != nil {
			return nil, err
		}
		if account != nil {
			accountName = account.Name
		}

		snapshot.Lines = append(snapshot.Lines, model.LineMetrics{
			LineID:      line.ID,
			AccountID:   line.AccountID,
			AccountName: accountName,
			Type:        line.Type,
			Planned:     line.PlannedAmount,
			Achieved:    achieved,
			Remaining:   line.PlannedAmount.Sub(achieved),
			Percent:     model.AchievementPercent(achieved, line.PlannedAmount),
		})

		totals.Planned = totals.Planned.Add(line.PlannedAmount)
		totals.Achieved = totals.Achieved.Add(achieved)
	}

	totals.Remaining = totals.Planned.Sub(totals.Achieved)
	totals.Percent = model.AchievementPercent(totals.Achieved, totals.Planned)
	snapshot.Totals = totals

	return snapshot, nil
}
