// Package budget implements the budget ledger: budgets, their lines, and the
// DRAFT → CONFIRMED → VALIDATED → DONE lifecycle. Every mutation is serialized
// per budget through an optimistic version check.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/budgetgate/internal/common"
	"github.com/Veraticus/budgetgate/internal/model"
	"github.com/Veraticus/budgetgate/internal/registry"
	"github.com/Veraticus/budgetgate/internal/service"
)

// Ledger owns Budget and BudgetLine entities.
type Ledger struct {
	storage     service.Storage
	invalidator service.MetricsInvalidator
}

// NewLedger creates a budget ledger. invalidator may be nil.
func NewLedger(storage service.Storage, invalidator service.MetricsInvalidator) *Ledger {
	return &Ledger{
		storage:     storage,
		invalidator: invalidator,
	}
}

// Create validates the period and line set and stores a new DRAFT budget.
func (l *Ledger) Create(ctx context.Context, name string, dateFrom, dateTo time.Time, lines []model.BudgetLine) (*model.Budget, error) {
	budget := &model.Budget{
		Name:     strings.TrimSpace(name),
		DateFrom: model.TruncateDay(dateFrom),
		DateTo:   model.TruncateDay(dateTo),
		Status:   model.BudgetDraft,
		Lines:    append([]model.BudgetLine(nil), lines...),
	}
	if err := budget.Validate(); err != nil {
		return nil, &common.ValidationError{Field: "budget", Message: err.Error()}
	}

	err := l.inTx(ctx, func(tx service.Transaction) error {
		for i, line := range budget.Lines {
			if _, err := registry.RequireActive(ctx, tx, line.AccountID, fmt.Sprintf("lines[%d].accountId", i)); err != nil {
				return err
			}
		}
		return tx.CreateBudget(ctx, budget)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create budget: %w", err)
	}

	slog.Info("Created budget",
		"budget_id", budget.ID,
		"name", budget.Name,
		"lines", len(budget.Lines))
	return budget, nil
}

// Get returns a budget with its lines.
func (l *Ledger) Get(ctx context.Context, id int64) (*model.Budget, error) {
	var budget *model.Budget
	err := common.WithRetry(ctx, func() error {
		var err error
		budget, err = l.storage.GetBudget(ctx, id)
		return err
	}, common.DefaultRetryOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}
	if budget == nil {
		return nil, fmt.Errorf("budget %d: %w", id, common.ErrNotFound)
	}
	return budget, nil
}

// List returns budgets newest first.
func (l *Ledger) List(ctx context.Context, filter service.BudgetFilter) ([]model.Budget, error) {
	var budgets []model.Budget
	err := common.WithRetry(ctx, func() error {
		var err error
		budgets, err = l.storage.ListBudgets(ctx, filter)
		return err
	}, common.DefaultRetryOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to list budgets: %w", err)
	}
	return budgets, nil
}

// AddLine appends a line to a DRAFT budget.
func (l *Ledger) AddLine(ctx context.Context, budgetID int64, version int, line model.BudgetLine) (*model.Budget, error) {
	return l.editLines(ctx, budgetID, version, "add a line to", func(tx service.Transaction, budget *model.Budget) error {
		line.BudgetID = budgetID
		if err := checkLine(ctx, tx, budget, &line, 0); err != nil {
			return err
		}
		return tx.AddBudgetLine(ctx, &line)
	})
}

// UpdateLine rewrites an existing line of a DRAFT budget.
func (l *Ledger) UpdateLine(ctx context.Context, budgetID int64, version int, line model.BudgetLine) (*model.Budget, error) {
	return l.editLines(ctx, budgetID, version, "update a line of", func(tx service.Transaction, budget *model.Budget) error {
		if budget.Line(line.ID) == nil {
			return fmt.Errorf("budget line %d: %w", line.ID, common.ErrNotFound)
		}
		line.BudgetID = budgetID
		if err := checkLine(ctx, tx, budget, &line, line.ID); err != nil {
			return err
		}
		return tx.UpdateBudgetLine(ctx, &line)
	})
}

// DeleteLine removes a line from a DRAFT budget.
func (l *Ledger) DeleteLine(ctx context.Context, budgetID int64, version int, lineID int64) (*model.Budget, error) {
	return l.editLines(ctx, budgetID, version, "delete a line of", func(tx service.Transaction, budget *model.Budget) error {
		if budget.Line(lineID) == nil {
			return fmt.Errorf("budget line %d: %w", lineID, common.ErrNotFound)
		}
		return tx.DeleteBudgetLine(ctx, lineID)
	})
}

// Confirm freezes a DRAFT budget's planned amounts.
func (l *Ledger) Confirm(ctx context.Context, id int64, version int) (*model.Budget, error) {
	return l.transition(ctx, id, version, confirmTransition)
}

// Validate marks a CONFIRMED budget as VALIDATED.
func (l *Ledger) Validate(ctx context.Context, id int64, version int) (*model.Budget, error) {
	return l.transition(ctx, id, version, validateTransition)
}

// Done closes a CONFIRMED or VALIDATED budget.
func (l *Ledger) Done(ctx context.Context, id int64, version int) (*model.Budget, error) {
	return l.transition(ctx, id, version, doneTransition)
}

// Cancel moves any budget that is not DONE to the terminal CANCELLED state.
func (l *Ledger) Cancel(ctx context.Context, id int64, version int) (*model.Budget, error) {
	return l.transition(ctx, id, version, cancelTransition)
}

// Revise spawns a new DRAFT budget from a CONFIRMED one, carrying the current planned
// amounts forward and linking it through RevisionOf. The source keeps its status;
// once the revision is confirmed it supersedes the source for date lookups.
func (l *Ledger) Revise(ctx context.Context, id int64, version int) (*model.Budget, error) {
	var revision *model.Budget
	_, err := l.mutate(ctx, id, version, func(tx service.Transaction, source *model.Budget) error {
		if source.Status != model.BudgetConfirmed {
			return &common.InvalidStateError{Operation: "revise", Status: string(source.Status), BudgetID: id}
		}

		revision = &model.Budget{
			Name:       source.Name,
			DateFrom:   source.DateFrom,
			DateTo:     source.DateTo,
			Status:     model.BudgetDraft,
			RevisionOf: &source.ID,
			Lines:      make([]model.BudgetLine, 0, len(source.Lines)),
		}
		for _, line := range source.Lines {
			revision.Lines = append(revision.Lines, model.BudgetLine{
				AccountID:     line.AccountID,
				Type:          line.Type,
				PlannedAmount: line.PlannedAmount,
				IsMonetary:    line.IsMonetary,
			})
		}
		return tx.CreateBudget(ctx, revision)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Revised budget", "budget_id", id, "revision_id", revision.ID)
	return revision, nil
}

func (l *Ledger) transition(ctx context.Context, id int64, version int, t transition) (*model.Budget, error) {
	budget, err := l.mutate(ctx, id, version, func(tx service.Transaction, budget *model.Budget) error {
		if !t.allowed(budget.Status) {
			return &common.InvalidStateError{Operation: t.name, Status: string(budget.Status), BudgetID: id}
		}
		return tx.UpdateBudgetStatus(ctx, id, t.to)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Budget status changed",
		"budget_id", id,
		"operation", t.name,
		"status", budget.Status,
		"version", budget.Version)
	return budget, nil
}

func (l *Ledger) editLines(ctx context.Context, id int64, version int, op string, fn func(service.Transaction, *model.Budget) error) (*model.Budget, error) {
	budget, err := l.mutate(ctx, id, version, func(tx service.Transaction, budget *model.Budget) error {
		if budget.Status != model.BudgetDraft {
			return &common.InvalidStateError{Operation: op, Status: string(budget.Status), BudgetID: id}
		}
		return fn(tx, budget)
	})
	if err != nil {
		return nil, err
	}

	if l.invalidator != nil {
		l.invalidator.InvalidateBudget(id)
	}
	return budget, nil
}

// mutate runs fn against the current state of a budget inside a transaction and
// bumps the budget's version. A non-zero version must match the stored one.
func (l *Ledger) mutate(ctx context.Context, id int64, version int, fn func(service.Transaction, *model.Budget) error) (*model.Budget, error) {
	var result *model.Budget
	err := l.inTx(ctx, func(tx service.Transaction) error {
		budget, err := tx.GetBudget(ctx, id)
		if err != nil {
			return err
		}
		if budget == nil {
			return fmt.Errorf("budget %d: %w", id, common.ErrNotFound)
		}
		if version > 0 && budget.Version != version {
			return &common.ConcurrencyConflictError{Entity: "budget", ID: id, Expected: version, Actual: budget.Version}
		}

		if err := fn(tx, budget); err != nil {
			return err
		}

		if err := tx.BumpBudgetVersion(ctx, id, budget.Version); err != nil {
			return err
		}

		result, err = tx.GetBudget(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// inTx runs fn in a storage transaction, retrying once when storage reports a
// transient failure.
func (l *Ledger) inTx(ctx context.Context, fn func(service.Transaction) error) error {
	return common.WithRetry(ctx, func() error {
		tx, err := l.storage.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	}, common.DefaultRetryOptions)
}

// checkLine validates a new or edited line against the rest of the budget.
// exceptID excludes the line being edited from the uniqueness check.
func checkLine(ctx context.Context, tx service.Transaction, budget *model.Budget, line *model.BudgetLine, exceptID int64) error {
	if err := line.Validate(); err != nil {
		return &common.ValidationError{Field: "line", Message: err.Error()}
	}

	if existing := budget.LineFor(line.AccountID, line.Type); existing != nil && existing.ID != exceptID {
		return common.NewValidationError("line", "budget already has a %s line for account %d", line.Type, line.AccountID)
	}

	if exceptID != 0 {
		// Editing a line that keeps its account does not require the account to still be active
		if current := budget.Line(exceptID); current != nil && current.AccountID == line.AccountID {
			return nil
		}
	}

	if _, err := registry.RequireActive(ctx, tx, line.AccountID, "accountId"); err != nil {
		return err
	}
	return nil
}
