package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/budgetgate/internal/model"
	"github.com/Veraticus/budgetgate/internal/storage"
)

// Achievement thresholds used to color metrics rows.
var (
	nearLimitPercent = decimal.NewFromInt(80)
	overLimitPercent = decimal.NewFromInt(100)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(BorderColor)).
		Headers(headers...)
}

// RenderAccounts renders the analytical account registry.
func RenderAccounts(accounts []model.AnalyticalAccount) string {
	t := newTable("ID", "CODE", "NAME", "STATUS")
	for _, a := range accounts {
		status := "active"
		if !a.IsActive {
			status = "inactive"
		}
		t.Row(strconv.FormatInt(a.ID, 10), a.Code, a.Name, status)
	}
	return t.StyleFunc(func(row, _ int) lipgloss.Style {
		if row == table.HeaderRow {
			return TableHeaderStyle
		}
		if !accounts[row].IsActive {
			return TableCellStyle.Foreground(SubtleColor)
		}
		return TableCellStyle
	}).String()
}

// RenderBudgets renders a budget list.
func RenderBudgets(budgets []model.Budget) string {
	t := newTable("ID", "NAME", "PERIOD", "STATUS", "LINES", "VERSION", "REVISION OF")
	for _, b := range budgets {
		revisionOf := ""
		if b.RevisionOf != nil {
			revisionOf = strconv.FormatInt(*b.RevisionOf, 10)
		}
		t.Row(
			strconv.FormatInt(b.ID, 10),
			b.Name,
			b.DateFrom.Format(model.DateLayout)+" → "+b.DateTo.Format(model.DateLayout),
			string(b.Status),
			strconv.Itoa(len(b.Lines)),
			strconv.Itoa(b.Version),
			revisionOf,
		)
	}
	return t.StyleFunc(func(row, _ int) lipgloss.Style {
		if row == table.HeaderRow {
			return TableHeaderStyle
		}
		return TableCellStyle.Foreground(statusColor(budgets[row].Status))
	}).String()
}

func statusColor(status model.BudgetStatus) lipgloss.Color {
	switch status {
	case model.BudgetConfirmed, model.BudgetValidated:
		return SuccessColor
	case model.BudgetDraft:
		return InfoColor
	default:
		return SubtleColor
	}
}

// RenderMetrics renders per-line planned, achieved and remaining amounts followed
// by the budget totals.
func RenderMetrics(budget *model.Budget, snapshot *model.MetricsSnapshot) string {
	t := newTable("ACCOUNT", "TYPE", "PLANNED", "ACHIEVED", "REMAINING", "%")
	for _, line := range snapshot.Lines {
		t.Row(
			line.AccountName,
			string(line.Type),
			line.Planned.StringFixed(2),
			line.Achieved.StringFixed(2),
			line.Remaining.StringFixed(2),
			line.Percent.StringFixed(2),
		)
	}
	t.Row(
		"TOTAL", "",
		snapshot.Totals.Planned.StringFixed(2),
		snapshot.Totals.Achieved.StringFixed(2),
		snapshot.Totals.Remaining.StringFixed(2),
		snapshot.Totals.Percent.StringFixed(2),
	)

	totalRow := len(snapshot.Lines)
	body := t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return TableHeaderStyle
		}
		style := TableCellStyle
		if col >= 2 {
			style = NumericCellStyle
		}
		if row == totalRow {
			return style.Bold(true)
		}
		line := snapshot.Lines[row]
		if line.Type == model.LineExpense {
			switch {
			case line.Percent.GreaterThanOrEqual(overLimitPercent):
				style = style.Foreground(ErrorColor)
			case line.Percent.GreaterThanOrEqual(nearLimitPercent):
				style = style.Foreground(WarningColor)
			}
		}
		return style
	}).String()

	title := fmt.Sprintf("%s %s (%s → %s, %s)", ChartIcon, budget.Name,
		budget.DateFrom.Format(model.DateLayout), budget.DateTo.Format(model.DateLayout), budget.Status)
	return lipgloss.JoinVertical(lipgloss.Left, FormatTitle(title), body)
}

// RenderConflicts renders bill lines awaiting a category decision with their
// candidate accounts, most confident first.
func RenderConflicts(conflicts []model.Conflict) string {
	if len(conflicts) == 0 {
		return SubtitleStyle.Render("No pending conflicts.")
	}

	t := newTable("LINE", "PRODUCT", "AMOUNT", "SUGGESTION", "ACCOUNT", "CONFIDENCE", "BASED ON")
	var pending []bool
	for _, c := range conflicts {
		for i, s := range c.Suggestions {
			line, product, amount := "", "", ""
			if i == 0 {
				line = strconv.FormatInt(c.LineID, 10)
				product = c.ProductName
				amount = c.Amount.StringFixed(2)
			}
			t.Row(line, product, amount,
				strconv.FormatInt(s.ID, 10),
				s.AccountName,
				fmt.Sprintf("%.0f%%", s.Confidence*100),
				strings.Join(s.ParametersUsed, ", "),
			)
			pending = append(pending, s.Status == model.SuggestionPending)
		}
	}

	return t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return TableHeaderStyle
		}
		style := TableCellStyle
		if col == 2 || col == 5 {
			style = NumericCellStyle
		}
		if !pending[row] {
			style = style.Foreground(SubtleColor)
		}
		return style
	}).String()
}

// RenderCheckpoints renders database checkpoints, newest first.
func RenderCheckpoints(checkpoints []storage.CheckpointInfo, now time.Time) string {
	if len(checkpoints) == 0 {
		return SubtitleStyle.Render("No checkpoints found.")
	}

	t := newTable("NAME", "CREATED", "SIZE", "SCHEMA", "BUDGETS", "LEDGER ENTRIES", "SUGGESTIONS", "TYPE")
	for _, cp := range checkpoints {
		typeLabel := "manual"
		if cp.IsAuto {
			typeLabel = "auto"
		}
		t.Row(
			cp.ID,
			FormatRelativeTime(cp.CreatedAt, now),
			FormatFileSize(cp.FileSize),
			strconv.Itoa(cp.SchemaVersion),
			strconv.Itoa(cp.Budgets),
			strconv.Itoa(cp.LedgerEntries),
			strconv.Itoa(cp.Suggestions),
			typeLabel,
		)
	}
	return t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return TableHeaderStyle
		case col == 0:
			return TableCellStyle.Foreground(InfoColor)
		case col == 7:
			return TableCellStyle.Foreground(SubtleColor)
		default:
			return TableCellStyle
		}
	}).String()
}

// FormatFileSize renders a byte count with a binary unit.
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

// FormatRelativeTime describes t relative to now.
func FormatRelativeTime(t, now time.Time) string {
	duration := now.Sub(t)

	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		if minutes := int(duration.Minutes()); minutes != 1 {
			return fmt.Sprintf("%d minutes ago", minutes)
		}
		return "1 minute ago"
	case duration < 24*time.Hour:
		if hours := int(duration.Hours()); hours != 1 {
			return fmt.Sprintf("%d hours ago", hours)
		}
		return "1 hour ago"
	case duration < 7*24*time.Hour:
		if days := int(duration.Hours() / 24); days != 1 {
			return fmt.Sprintf("%d days ago", days)
		}
		return "yesterday"
	default:
		return t.Format("2006-01-02 15:04")
	}
}
