package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// SuggestionStatus tracks whether a category suggestion is still open.
type SuggestionStatus string

// Suggestion status constants.
const (
	SuggestionPending  SuggestionStatus = "PENDING"
	SuggestionAccepted SuggestionStatus = "ACCEPTED"
	SuggestionRejected SuggestionStatus = "REJECTED"
)

// CategorySuggestion is a classifier's proposal to attribute a bill line to an analytical account.
type CategorySuggestion struct {
	CreatedAt      time.Time
	ResolvedAt     *time.Time
	AccountName    string
	Status         SuggestionStatus
	ParametersUsed []string
	ID             int64
	BillLineID     int64
	AccountID      int64
	Confidence     float64
}

// Validate ensures the suggestion has valid data.
func (s *CategorySuggestion) Validate() error {
	if s.BillLineID <= 0 {
		return fmt.Errorf("bill line is required")
	}

	if s.AccountID <= 0 {
		return fmt.Errorf("analytical account is required")
	}

	if s.Confidence < 0.0 || s.Confidence > 1.0 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0, got %.2f", s.Confidence)
	}

	switch s.Status {
	case SuggestionPending, SuggestionAccepted, SuggestionRejected:
	default:
		return fmt.Errorf("invalid suggestion status %q", s.Status)
	}

	return nil
}

// CategorySuggestions is a slice of CategorySuggestion ordered for display.
type CategorySuggestions []CategorySuggestion

// Len implements sort.Interface.
func (s CategorySuggestions) Len() int {
	return len(s)
}

// Less implements sort.Interface - higher confidence comes first.
func (s CategorySuggestions) Less(i, j int) bool {
	if s[i].Confidence != s[j].Confidence {
		return s[i].Confidence > s[j].Confidence
	}
	// Ties fall back to account name, then ID, so the order is stable across calls
	if s[i].AccountName != s[j].AccountName {
		return s[i].AccountName < s[j].AccountName
	}
	return s[i].ID < s[j].ID
}

// Swap implements sort.Interface.
func (s CategorySuggestions) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

// Sort sorts the suggestions by confidence in descending order.
func (s CategorySuggestions) Sort() {
	sort.Sort(s)
}

// Top returns the most confident suggestion, or nil if empty.
func (s CategorySuggestions) Top() *CategorySuggestion {
	if len(s) == 0 {
		return nil
	}
	s.Sort()
	return &s[0]
}

// HasPending reports whether any suggestion is still pending.
func (s CategorySuggestions) HasPending() bool {
	for _, suggestion := range s {
		if suggestion.Status == SuggestionPending {
			return true
		}
	}
	return false
}

// Accepted returns the accepted suggestion, or nil.
func (s CategorySuggestions) Accepted() *CategorySuggestion {
	for i := range s {
		if s[i].Status == SuggestionAccepted {
			return &s[i]
		}
	}
	return nil
}

// Validate ensures all suggestions are valid and name distinct accounts per bill line.
func (s CategorySuggestions) Validate() error {
	type key struct{ line, account int64 }
	seen := make(map[key]bool)

	for i, suggestion := range s {
		if err := suggestion.Validate(); err != nil {
			return fmt.Errorf("invalid suggestion at index %d: %w", i, err)
		}

		k := key{line: suggestion.BillLineID, account: suggestion.AccountID}
		if seen[k] {
			return fmt.Errorf("duplicate account %d for bill line %d", suggestion.AccountID, suggestion.BillLineID)
		}
		seen[k] = true
	}

	return nil
}

// Conflict is a document line awaiting a choice among pending suggestions.
type Conflict struct {
	Amount      decimal.Decimal
	ProductName string
	Suggestions CategorySuggestions
	LineID      int64
}
