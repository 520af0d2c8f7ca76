package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// BudgetStatus is the lifecycle state of a budget.
type BudgetStatus string

// Budget status constants.
const (
	BudgetDraft     BudgetStatus = "DRAFT"
	BudgetConfirmed BudgetStatus = "CONFIRMED"
	BudgetValidated BudgetStatus = "VALIDATED"
	BudgetDone      BudgetStatus = "DONE"
	BudgetCancelled BudgetStatus = "CANCELLED"
)

// Valid reports whether s is a known budget status.
func (s BudgetStatus) Valid() bool {
	switch s {
	case BudgetDraft, BudgetConfirmed, BudgetValidated, BudgetDone, BudgetCancelled:
		return true
	}
	return false
}

// LineType separates expense allocations from income allocations.
type LineType string

// Line type constants.
const (
	LineExpense LineType = "EXPENSE"
	LineIncome  LineType = "INCOME"
)

// Valid reports whether t is a known line type.
func (t LineType) Valid() bool {
	return t == LineExpense || t == LineIncome
}

// Budget is a named allocation plan over a closed date range.
type Budget struct {
	DateFrom   time.Time
	DateTo     time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
	RevisionOf *int64
	Name       string
	Status     BudgetStatus
	Lines      []BudgetLine
	ID         int64
	Version    int
}

// BudgetLine is one planned allocation of a budget against an (account, type) pair.
type BudgetLine struct {
	PlannedAmount decimal.Decimal
	Type          LineType
	ID            int64
	BudgetID      int64
	AccountID     int64
	IsMonetary    bool
}

// Covers reports whether date falls inside [DateFrom, DateTo], compared by calendar day.
func (b *Budget) Covers(date time.Time) bool {
	day := TruncateDay(date)
	return !day.Before(TruncateDay(b.DateFrom)) && !day.After(TruncateDay(b.DateTo))
}

// LineFor returns the line for the given account and type, or nil.
func (b *Budget) LineFor(accountID int64, lineType LineType) *BudgetLine {
	for i := range b.Lines {
		if b.Lines[i].AccountID == accountID && b.Lines[i].Type == lineType {
			return &b.Lines[i]
		}
	}
	return nil
}

// Line returns the line with the given ID, or nil.
func (b *Budget) Line(lineID int64) *BudgetLine {
	for i := range b.Lines {
		if b.Lines[i].ID == lineID {
			return &b.Lines[i]
		}
	}
	return nil
}

// Validate checks the budget header and the uniqueness of its lines.
func (b *Budget) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("budget name is required")
	}
	if b.DateFrom.IsZero() || b.DateTo.IsZero() {
		return fmt.Errorf("budget date range is required")
	}
	if TruncateDay(b.DateFrom).After(TruncateDay(b.DateTo)) {
		return fmt.Errorf("date from %s is after date to %s",
			b.DateFrom.Format(DateLayout), b.DateTo.Format(DateLayout))
	}

	seen := make(map[lineKey]bool, len(b.Lines))
	for i, line := range b.Lines {
		if err := line.Validate(); err != nil {
			return fmt.Errorf("invalid line at index %d: %w", i, err)
		}
		key := lineKey{accountID: line.AccountID, lineType: line.Type}
		if seen[key] {
			return fmt.Errorf("duplicate line for account %d and type %s", line.AccountID, line.Type)
		}
		seen[key] = true
	}
	return nil
}

// Validate checks a single line in isolation.
func (l *BudgetLine) Validate() error {
	if l.AccountID <= 0 {
		return fmt.Errorf("analytical account is required")
	}
	if !l.Type.Valid() {
		return fmt.Errorf("invalid line type %q", l.Type)
	}
	if l.PlannedAmount.IsNegative() {
		return fmt.Errorf("planned amount must not be negative, got %s", l.PlannedAmount.String())
	}
	return nil
}

type lineKey struct {
	lineType  LineType
	accountID int64
}

// TruncateDay drops the time of day, keeping the calendar date in UTC.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a calendar date in DateLayout.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}
