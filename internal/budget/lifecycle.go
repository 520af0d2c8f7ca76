package budget

import (
	"slices"

	"github.com/Veraticus/budgetgate/internal/model"
)

// transition describes one administrative lifecycle step.
type transition struct {
	name string
	from []model.BudgetStatus
	to   model.BudgetStatus
}

var (
	confirmTransition = transition{
		name: "confirm",
		from: []model.BudgetStatus{model.BudgetDraft},
		to:   model.BudgetConfirmed,
	}
	validateTransition = transition{
		name: "validate",
		from: []model.BudgetStatus{model.BudgetConfirmed},
		to:   model.BudgetValidated,
	}
	doneTransition = transition{
		name: "close",
		from: []model.BudgetStatus{model.BudgetConfirmed, model.BudgetValidated},
		to:   model.BudgetDone,
	}
	// CANCELLED is reachable from every state except DONE and is itself terminal
	cancelTransition = transition{
		name: "cancel",
		from: []model.BudgetStatus{model.BudgetDraft, model.BudgetConfirmed, model.BudgetValidated},
		to:   model.BudgetCancelled,
	}
)

func (t transition) allowed(status model.BudgetStatus) bool {
	return slices.Contains(t.from, status)
}
