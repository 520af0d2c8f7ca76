// Package validator gates expense commitments against confirmed budgets.
//
// PreviewWarnings is advisory: a pure function over a budget snapshot, cheap
// enough to call after every line edit, that only ever returns warnings.
// ValidateCommit is authoritative: it runs inside the transaction that
// confirms a document and fails with a typed error.
package validator

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/budgetgate/internal/model"
)

// Policy decides what the advisory path reports when no budget applies.
type Policy string

// Preview policies.
const (
	// PolicyFailOpen treats a missing budget or budget line as "no restriction".
	PolicyFailOpen Policy = "fail-open"
	// PolicyFailClosed reports a missing budget or budget line as a warning, mirroring
	// the errors the commit path would raise.
	PolicyFailClosed Policy = "fail-closed"
)

// ParsePolicy parses a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyFailOpen, "":
		return PolicyFailOpen, nil
	case PolicyFailClosed:
		return PolicyFailClosed, nil
	default:
		return "", fmt.Errorf("unknown preview policy %q (want %s or %s)", s, PolicyFailOpen, PolicyFailClosed)
	}
}

// BudgetSnapshot is the state PreviewWarnings evaluates against: the covering
// budget and its most recent metrics. A nil Budget means no budget covers the date.
type BudgetSnapshot struct {
	Budget  *model.Budget
	Metrics *model.MetricsSnapshot
}

// accountTotal is the candidate amount aggregated for one analytical account.
type accountTotal struct {
	amount    decimal.Decimal
	indices   []int
	accountID int64
}

// aggregate sums candidate lines by account, keeping only lines that carry both a
// product and an account. Results are ordered by account ID.
func aggregate(lines []model.CandidateLine) []accountTotal {
	return aggregateBy(lines, func(line model.CandidateLine) bool {
		return line.ProductName != "" && line.AccountID != nil
	})
}

// aggregateAllocated sums every line that carries an account, with or without a product.
func aggregateAllocated(lines []model.CandidateLine) []accountTotal {
	return aggregateBy(lines, func(line model.CandidateLine) bool {
		return line.AccountID != nil
	})
}

func aggregateBy(lines []model.CandidateLine, keep func(model.CandidateLine) bool) []accountTotal {
	byAccount := make(map[int64]*accountTotal)
	for i, line := range lines {
		if !keep(line) {
			continue
		}
		total, ok := byAccount[*line.AccountID]
		if !ok {
			total = &accountTotal{accountID: *line.AccountID, amount: decimal.Zero}
			byAccount[*line.AccountID] = total
		}
		total.amount = total.amount.Add(line.Amount)
		total.indices = append(total.indices, i)
	}

	totals := make([]accountTotal, 0, len(byAccount))
	for _, total := range byAccount {
		totals = append(totals, *total)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].accountID < totals[j].accountID })
	return totals
}

// PreviewWarnings reports which aggregated accounts would exceed what remains on their
// EXPENSE budget line. originalExpenses holds, per account, what the document being
// edited already contributed to the achieved amount, so it is not counted twice.
// Identical inputs always produce identical outputs; the result is never nil.
func PreviewWarnings(lines []model.CandidateLine, snapshot *BudgetSnapshot, originalExpenses map[int64]decimal.Decimal, policy Policy) []model.Warning {
	warnings := []model.Warning{}

	totals := aggregate(lines)
	if len(totals) == 0 {
		return warnings
	}

	if snapshot == nil || snapshot.Budget == nil {
		if policy != PolicyFailClosed {
			return warnings
		}
		for _, total := range totals {
			warnings = append(warnings, model.Warning{
				Kind:        model.WarningNoBudget,
				AccountID:   total.accountID,
				LineIndices: total.indices,
				Requested:   total.amount,
			})
		}
		return warnings
	}

	budget := snapshot.Budget
	for _, total := range totals {
		line := budget.LineFor(total.accountID, model.LineExpense)
		if line == nil {
			if policy == PolicyFailClosed {
				warnings = append(warnings, model.Warning{
					Kind:        model.WarningNoBudgetLine,
					AccountID:   total.accountID,
					LineIndices: total.indices,
					Requested:   total.amount,
					BudgetID:    budget.ID,
					BudgetName:  budget.Name,
				})
			}
			continue
		}

		achieved := decimal.Zero
		accountName := ""
		if snapshot.Metrics != nil {
			if metrics := snapshot.Metrics.Line(total.accountID, model.LineExpense); metrics != nil {
				achieved = metrics.Achieved
				accountName = metrics.AccountName
			}
		}

		spent := achieved
		if original, ok := originalExpenses[total.accountID]; ok {
			spent = spent.Sub(original)
		}
		remaining := line.PlannedAmount.Sub(spent)

		if total.amount.GreaterThan(remaining) {
			warnings = append(warnings, model.Warning{
				Kind:        model.WarningBudgetExceeded,
				AccountID:   total.accountID,
				AccountName: accountName,
				LineIndices: total.indices,
				Requested:   total.amount,
				Planned:     line.PlannedAmount,
				Spent:       spent,
				Remaining:   remaining,
				BudgetID:    budget.ID,
				BudgetName:  budget.Name,
			})
		}
	}

	return warnings
}
