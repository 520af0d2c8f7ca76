package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/budgetgate/internal/common"
	"github.com/Veraticus/budgetgate/internal/conflict"
	"github.com/Veraticus/budgetgate/internal/model"
)

// Account is the wire form of an analytical account.
type Account struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	ID       int64  `json:"id"`
	IsActive bool   `json:"isActive"`
}

// CreateAccountRequest is the body of POST /api/accounts.
type CreateAccountRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// BudgetLine is the wire form of a budget line.
type BudgetLine struct {
	PlannedAmount decimal.Decimal `json:"plannedAmount"`
	Type          model.LineType  `json:"type"`
	ID            int64           `json:"id,omitempty"`
	AccountID     int64           `json:"accountId"`
	IsMonetary    bool            `json:"isMonetary"`
}

// Budget is the wire form of a budget.
type Budget struct {
	RevisionOf *int64             `json:"revisionOf,omitempty"`
	Name       string             `json:"name"`
	DateFrom   string             `json:"dateFrom"`
	DateTo     string             `json:"dateTo"`
	Status     model.BudgetStatus `json:"status"`
	Lines      []BudgetLine       `json:"lines"`
	ID         int64              `json:"id"`
	Version    int                `json:"version"`
}

// CreateBudgetRequest is the body of POST /api/budgets.
type CreateBudgetRequest struct {
	Name     string       `json:"name"`
	DateFrom string       `json:"dateFrom"`
	DateTo   string       `json:"dateTo"`
	Lines    []BudgetLine `json:"lines"`
}

// LineRequest is the body of the budget line endpoints. Version is the budget
// version the edit was based on; zero skips the check.
type LineRequest struct {
	Line    BudgetLine `json:"line"`
	Version int        `json:"version"`
}

// VersionRequest is the optional body of lifecycle transitions.
type VersionRequest struct {
	Version int `json:"version"`
}

// LineMetrics is the wire form of one line's metrics.
type LineMetrics struct {
	Planned            decimal.Decimal `json:"plannedAmount"`
	Achieved           decimal.Decimal `json:"achievedAmount"`
	Remaining          decimal.Decimal `json:"remainingAmount"`
	AchievementPercent decimal.Decimal `json:"achievementPercent"`
	AccountName        string          `json:"accountName"`
	Type               model.LineType  `json:"type"`
	LineID             int64           `json:"lineId"`
	AccountID          int64           `json:"accountId"`
}

// MetricsTotals is the wire form of budget-level totals.
type MetricsTotals struct {
	Planned            decimal.Decimal `json:"plannedAmount"`
	Achieved           decimal.Decimal `json:"achievedAmount"`
	Remaining          decimal.Decimal `json:"remainingAmount"`
	AchievementPercent decimal.Decimal `json:"achievementPercent"`
}

// Metrics is the wire form of a metrics snapshot.
type Metrics struct {
	Lines    []LineMetrics `json:"lines"`
	Totals   MetricsTotals `json:"totals"`
	BudgetID int64         `json:"budgetId"`
}

// CandidateLine is one draft line submitted for preview.
type CandidateLine struct {
	Amount      decimal.Decimal `json:"amount"`
	AccountID   *int64          `json:"accountId,omitempty"`
	ProductName string          `json:"productName"`
}

// AccountAmount pairs an account with an amount.
type AccountAmount struct {
	Amount    decimal.Decimal `json:"amount"`
	AccountID int64           `json:"accountId"`
}

// PreviewRequest is the body of POST /api/validation/preview. When EditingDocumentID
// is set, the stored document's per-account totals are used as the original expenses.
type PreviewRequest struct {
	Date              string          `json:"date"`
	EditingDocumentID string          `json:"editingDocumentId,omitempty"`
	Lines             []CandidateLine `json:"lines"`
	OriginalExpenses  []AccountAmount `json:"originalExpenses,omitempty"`
}

// Warning is the wire form of an advisory warning.
type Warning struct {
	Requested   decimal.Decimal   `json:"requested"`
	Planned     decimal.Decimal   `json:"planned"`
	Spent       decimal.Decimal   `json:"spent"`
	Remaining   decimal.Decimal   `json:"remaining"`
	Kind        model.WarningKind `json:"kind"`
	AccountName string            `json:"accountName,omitempty"`
	BudgetName  string            `json:"budgetName,omitempty"`
	LineIndices []int             `json:"lineIndices"`
	AccountID   int64             `json:"accountId"`
	BudgetID    int64             `json:"budgetId,omitempty"`
}

// PreviewResponse is returned by the preview endpoint.
type PreviewResponse struct {
	Policy   string    `json:"policy"`
	Warnings []Warning `json:"warnings"`
}

// DocumentLine is the wire form of a document line.
type DocumentLine struct {
	Amount      decimal.Decimal `json:"amount"`
	AccountID   *int64          `json:"accountId,omitempty"`
	ProductName string          `json:"productName"`
	ID          int64           `json:"id,omitempty"`
}

// Document is the wire form of a committed document.
type Document struct {
	ID      string             `json:"id"`
	Kind    model.DocumentKind `json:"kind"`
	Date    string             `json:"date"`
	Number  string             `json:"number,omitempty"`
	Partner string             `json:"partner,omitempty"`
	Lines   []DocumentLine     `json:"lines"`
}

// CommitDocumentRequest is the body of POST /api/documents.
type CommitDocumentRequest struct {
	Kind    model.DocumentKind `json:"kind"`
	Date    string             `json:"date"`
	Number  string             `json:"number"`
	Partner string             `json:"partner"`
	Lines   []DocumentLine     `json:"lines"`
}

// Suggestion is the wire form of a category suggestion.
type Suggestion struct {
	ParametersUsed []string `json:"parametersUsed"`
	AccountName    string   `json:"accountName"`
	Status         string   `json:"status"`
	ID             int64    `json:"id"`
	BillLineID     int64    `json:"billLineId"`
	AccountID      int64    `json:"accountId"`
	Confidence     float64  `json:"confidenceScore"`
}

// Conflict is the wire form of a line awaiting resolution.
type Conflict struct {
	Amount      decimal.Decimal `json:"amount"`
	ProductName string          `json:"productName"`
	Suggestions []Suggestion    `json:"suggestions"`
	LineID      int64           `json:"lineId"`
}

// ConflictsResponse is returned by GET /api/documents/:id/conflicts.
type ConflictsResponse struct {
	Conflicts []Conflict `json:"conflicts"`
}

// Resolution is returned by POST /api/suggestions/:id/resolve.
type Resolution struct {
	PreviousAccountID *int64     `json:"previousAccountId,omitempty"`
	DocumentID        string     `json:"documentId"`
	Suggestion        Suggestion `json:"suggestion"`
	Rejected          int        `json:"rejected"`
}

// IngestRequest is the body of POST /api/suggestions.
type IngestRequest struct {
	Suggestions []Suggestion `json:"suggestions"`
}

// IngestResponse lists the stored suggestions.
type IngestResponse struct {
	Suggestions []Suggestion `json:"suggestions"`
}

// LedgerEntry is the wire form of a posted ledger entry.
type LedgerEntry struct {
	Amount      decimal.Decimal `json:"amount"`
	Type        model.LineType  `json:"type"`
	PostingDate string          `json:"postingDate"`
	Reference   string          `json:"reference,omitempty"`
	AccountID   int64           `json:"accountId"`
}

// RecordLedgerRequest is the body of POST /api/ledger-entries.
type RecordLedgerRequest struct {
	Entries []LedgerEntry `json:"entries"`
}

// RecordLedgerResponse reports how many entries were new.
type RecordLedgerResponse struct {
	Received int `json:"received"`
	Inserted int `json:"inserted"`
}

func parseDate(field, value string) (time.Time, error) {
	t, err := model.ParseDate(value)
	if err != nil {
		return time.Time{}, &common.ValidationError{Field: field, Message: err.Error()}
	}
	return t, nil
}

func toAccount(a *model.AnalyticalAccount) Account {
	return Account{ID: a.ID, Code: a.Code, Name: a.Name, IsActive: a.IsActive}
}

func toBudget(b *model.Budget) Budget {
	out := Budget{
		ID:         b.ID,
		Name:       b.Name,
		DateFrom:   b.DateFrom.Format(model.DateLayout),
		DateTo:     b.DateTo.Format(model.DateLayout),
		Status:     b.Status,
		RevisionOf: b.RevisionOf,
		Version:    b.Version,
		Lines:      make([]BudgetLine, 0, len(b.Lines)),
	}
	for _, line := range b.Lines {
		out.Lines = append(out.Lines, BudgetLine{
			ID:            line.ID,
			AccountID:     line.AccountID,
			Type:          line.Type,
			PlannedAmount: line.PlannedAmount,
			IsMonetary:    line.IsMonetary,
		})
	}
	return out
}

func fromBudgetLine(line BudgetLine) model.BudgetLine {
	return model.BudgetLine{
		ID:            line.ID,
		AccountID:     line.AccountID,
		Type:          line.Type,
		PlannedAmount: line.PlannedAmount,
		IsMonetary:    line.IsMonetary,
	}
}

func toMetrics(s *model.MetricsSnapshot) Metrics {
	out := Metrics{
		BudgetID: s.BudgetID,
		Lines:    make([]LineMetrics, 0, len(s.Lines)),
		Totals: MetricsTotals{
			Planned:            s.Totals.Planned,
			Achieved:           s.Totals.Achieved,
			Remaining:          s.Totals.Remaining,
			AchievementPercent: s.Totals.Percent,
		},
	}
	for _, line := range s.Lines {
		out.Lines = append(out.Lines, LineMetrics{
			LineID:             line.LineID,
			AccountID:          line.AccountID,
			AccountName:        line.AccountName,
			Type:               line.Type,
			Planned:            line.Planned,
			Achieved:           line.Achieved,
			Remaining:          line.Remaining,
			AchievementPercent: line.Percent,
		})
	}
	return out
}

func toWarnings(warnings []model.Warning) []Warning {
	out := make([]Warning, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, Warning{
			Kind:        w.Kind,
			AccountID:   w.AccountID,
			AccountName: w.AccountName,
			LineIndices: w.LineIndices,
			Requested:   w.Requested,
			Planned:     w.Planned,
			Spent:       w.Spent,
			Remaining:   w.Remaining,
			BudgetID:    w.BudgetID,
			BudgetName:  w.BudgetName,
		})
	}
	return out
}

func toDocument(d *model.Document) Document {
	out := Document{
		ID:      d.ID,
		Kind:    d.Kind,
		Date:    d.Date.Format(model.DateLayout),
		Number:  d.Number,
		Partner: d.Partner,
		Lines:   make([]DocumentLine, 0, len(d.Lines)),
	}
	for _, line := range d.Lines {
		out.Lines = append(out.Lines, DocumentLine{
			ID:          line.ID,
			ProductName: line.ProductName,
			Amount:      line.Amount,
			AccountID:   line.AccountID,
		})
	}
	return out
}

func toSuggestion(s *model.CategorySuggestion) Suggestion {
	params := s.ParametersUsed
	if params == nil {
		params = []string{}
	}
	return Suggestion{
		ID:             s.ID,
		BillLineID:     s.BillLineID,
		AccountID:      s.AccountID,
		AccountName:    s.AccountName,
		Confidence:     s.Confidence,
		ParametersUsed: params,
		Status:         string(s.Status),
	}
}

func toConflicts(conflicts []model.Conflict) ConflictsResponse {
	out := ConflictsResponse{Conflicts: make([]Conflict, 0, len(conflicts))}
	for _, c := range conflicts {
		wire := Conflict{
			LineID:      c.LineID,
			ProductName: c.ProductName,
			Amount:      c.Amount,
			Suggestions: make([]Suggestion, 0, len(c.Suggestions)),
		}
		for i := range c.Suggestions {
			wire.Suggestions = append(wire.Suggestions, toSuggestion(&c.Suggestions[i]))
		}
		out.Conflicts = append(out.Conflicts, wire)
	}
	return out
}

func toResolution(r *conflict.Resolution) Resolution {
	return Resolution{
		Suggestion:        toSuggestion(&r.Suggestion),
		PreviousAccountID: r.PreviousAccountID,
		DocumentID:        r.DocumentID,
		Rejected:          r.Rejected,
	}
}

func fromLedgerEntries(entries []LedgerEntry) ([]model.LedgerEntry, error) {
	out := make([]model.LedgerEntry, 0, len(entries))
	for i, entry := range entries {
		date, err := parseDate(fmt.Sprintf("entries[%d].postingDate", i), entry.PostingDate)
		if err != nil {
			return nil, err
		}
		out = append(out, model.LedgerEntry{
			AccountID:   entry.AccountID,
			Type:        entry.Type,
			Amount:      entry.Amount,
			PostingDate: date,
			Reference:   entry.Reference,
		})
	}
	return out, nil
}
