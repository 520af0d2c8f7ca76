package model

import "github.com/shopspring/decimal"

// CandidateLine is a draft document line submitted for budget checking.
type CandidateLine struct {
	Amount      decimal.Decimal
	AccountID   *int64
	ProductName string
}

// WarningKind classifies advisory warnings.
type WarningKind string

// Warning kinds.
const (
	WarningBudgetExceeded WarningKind = "BUDGET_EXCEEDED"
	WarningNoBudget       WarningKind = "NO_BUDGET_FOUND"
	WarningNoBudgetLine   WarningKind = "NO_BUDGET_LINE"
)

// Warning is an advisory finding about a set of candidate lines. It never blocks anything.
type Warning struct {
	Requested   decimal.Decimal
	Planned     decimal.Decimal
	Spent       decimal.Decimal
	Remaining   decimal.Decimal
	Kind        WarningKind
	AccountName string
	BudgetName  string
	LineIndices []int
	AccountID   int64
	BudgetID    int64
}
