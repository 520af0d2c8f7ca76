package model

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// LineMetrics holds the derived figures for one budget line.
type LineMetrics struct {
	Planned     decimal.Decimal
	Achieved    decimal.Decimal
	Remaining   decimal.Decimal
	Percent     decimal.Decimal
	AccountName string
	Type        LineType
	LineID      int64
	AccountID   int64
}

// MetricsTotals aggregates every line of a budget.
type MetricsTotals struct {
	Planned   decimal.Decimal
	Achieved  decimal.Decimal
	Remaining decimal.Decimal
	Percent   decimal.Decimal
}

// MetricsSnapshot is a derived view of a budget's progress. It is never a source of truth.
type MetricsSnapshot struct {
	Lines    []LineMetrics
	Totals   MetricsTotals
	BudgetID int64
}

// Line returns the metrics of the line for the given account and type, or nil.
func (s *MetricsSnapshot) Line(accountID int64, lineType LineType) *LineMetrics {
	for i := range s.Lines {
		if s.Lines[i].AccountID == accountID && s.Lines[i].Type == lineType {
			return &s.Lines[i]
		}
	}
	return nil
}

// AchievementPercent returns achieved/planned*100 rounded to two places, or zero when
// nothing was planned. The result is not capped.
func AchievementPercent(achieved, planned decimal.Decimal) decimal.Decimal {
	if planned.IsZero() {
		return decimal.Zero
	}
	return achieved.Mul(hundred).Div(planned).Round(2)
}
