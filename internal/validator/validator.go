package validator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/budgetgate/internal/common"
	"github.com/Veraticus/budgetgate/internal/model"
	"github.com/Veraticus/budgetgate/internal/service"
)

// MetricsSource provides the latest metrics snapshot of a budget.
type MetricsSource interface {
	Get(ctx context.Context, budgetID int64) (*model.MetricsSnapshot, error)
}

// Service runs both validation modes against storage.
type Service struct {
	storage service.Storage
	metrics MetricsSource
	policy  Policy
}

// NewService creates a validator service.
func NewService(storage service.Storage, metrics MetricsSource, policy Policy) *Service {
	return &Service{
		storage: storage,
		metrics: metrics,
		policy:  policy,
	}
}

// Policy returns the advisory policy in effect.
func (s *Service) Policy() Policy {
	return s.policy
}

// Preview loads the budget covering asOf and its cached metrics, then evaluates
// PreviewWarnings. It never fails: storage problems are logged and yield no warnings.
func (s *Service) Preview(ctx context.Context, lines []model.CandidateLine, asOf time.Time, originalExpenses map[int64]decimal.Decimal) []model.Warning {
	snapshot, err := s.loadSnapshot(ctx, asOf)
	if err != nil {
		slog.Warn("Budget preview unavailable", "date", asOf.Format(model.DateLayout), "error", err)
		return []model.Warning{}
	}

	warnings := PreviewWarnings(lines, snapshot, originalExpenses, s.policy)
	s.fillAccountNames(ctx, warnings)
	return warnings
}

func (s *Service) loadSnapshot(ctx context.Context, asOf time.Time) (*BudgetSnapshot, error) {
	budget, err := s.storage.FindCoveringBudget(ctx, asOf)
	if err != nil {
		return nil, err
	}
	if budget == nil {
		return &BudgetSnapshot{}, nil
	}

	metrics, err := s.metrics.Get(ctx, budget.ID)
	if err != nil {
		return nil, err
	}
	return &BudgetSnapshot{Budget: budget, Metrics: metrics}, nil
}

func (s *Service) fillAccountNames(ctx context.Context, warnings []model.Warning) {
	for i := range warnings {
		if warnings[i].AccountName != "" {
			continue
		}
		account, err := s.storage.GetAccount(ctx, warnings[i].AccountID)
		if err != nil || account == nil {
			continue
		}
		warnings[i].AccountName = account.Name
	}
}

// ValidateCommit is the authoritative gate. It must run inside the transaction that
// persists the document, so the ledger totals it checks cannot change underneath it.
// Lines without an account are not gated; INCOME lines only need a matching budget line.
func ValidateCommit(ctx context.Context, tx service.Transaction, lineType model.LineType, lines []model.CandidateLine, asOf time.Time) error {
	totals := aggregateAllocated(lines)
	if len(totals) == 0 {
		return nil
	}

	budget, err := tx.FindCoveringBudget(ctx, asOf)
	if err != nil {
		return fmt.Errorf("failed to find covering budget: %w", err)
	}
	if budget == nil {
		return &common.NoBudgetFoundError{Date: model.TruncateDay(asOf)}
	}

	budgetLines := make(map[int64]*model.BudgetLine, len(totals))
	for _, total := range totals {
		line := budget.LineFor(total.accountID, lineType)
		if line == nil {
			return &common.NoBudgetLineError{
				AccountID:   total.accountID,
				AccountName: accountName(ctx, tx, total.accountID),
				BudgetID:    budget.ID,
				BudgetName:  budget.Name,
				LineType:    string(lineType),
			}
		}
		budgetLines[total.accountID] = line
	}

	if lineType != model.LineExpense {
		return nil
	}

	for _, total := range totals {
		line := budgetLines[total.accountID]

		// Recomputed from the ledger inside the transaction, never from a cached snapshot
		achieved, err := tx.SumLedgerAmounts(ctx, total.accountID, lineType, budget.DateFrom, budget.DateTo)
		if err != nil {
			return fmt.Errorf("failed to compute achieved amount: %w", err)
		}

		remaining := line.PlannedAmount.Sub(achieved)
		if total.amount.GreaterThan(remaining) {
			return &common.BudgetExceededError{
				AccountID:   total.accountID,
				AccountName: accountName(ctx, tx, total.accountID),
				BudgetID:    budget.ID,
				BudgetName:  budget.Name,
				Requested:   total.amount,
				Planned:     line.PlannedAmount,
				Spent:       achieved,
				Remaining:   remaining,
			}
		}
	}

	return nil
}

func accountName(ctx context.Context, tx service.Transaction, id int64) string {
	account, err := tx.GetAccount(ctx, id)
	if err != nil || account == nil {
		return fmt.Sprintf("#%d", id)
	}
	return account.Name
}
