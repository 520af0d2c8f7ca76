package model

import (
	"testing"
)

func TestCategorySuggestion_Validate(t *testing.T) {
	tests := []struct {
		name       string
		errMsg     string
		suggestion CategorySuggestion
		wantErr    bool
	}{
		{
			name: "valid pending suggestion",
			suggestion: CategorySuggestion{
				BillLineID: 1,
				AccountID:  7,
				Confidence: 0.85,
				Status:     SuggestionPending,
			},
		},
		{
			name: "missing bill line",
			suggestion: CategorySuggestion{
				AccountID:  7,
				Confidence: 0.5,
				Status:     SuggestionPending,
			},
			wantErr: true,
			errMsg:  "bill line is required",
		},
		{
			name: "missing account",
			suggestion: CategorySuggestion{
				BillLineID: 1,
				Confidence: 0.5,
				Status:     SuggestionPending,
			},
			wantErr: true,
			errMsg:  "analytical account is required",
		},
		{
			name: "confidence too low",
			suggestion: CategorySuggestion{
				BillLineID: 1,
				AccountID:  7,
				Confidence: -0.1,
				Status:     SuggestionPending,
			},
			wantErr: true,
			errMsg:  "confidence must be between 0.0 and 1.0, got -0.10",
		},
		{
			name: "confidence too high",
			suggestion: CategorySuggestion{
				BillLineID: 1,
				AccountID:  7,
				Confidence: 1.1,
				Status:     SuggestionPending,
			},
			wantErr: true,
			errMsg:  "confidence must be between 0.0 and 1.0, got 1.10",
		},
		{
			name: "unknown status",
			suggestion: CategorySuggestion{
				BillLineID: 1,
				AccountID:  7,
				Confidence: 0.4,
				Status:     "MAYBE",
			},
			wantErr: true,
			errMsg:  `invalid suggestion status "MAYBE"`,
		},
		{
			name: "edge case - confidence 0.0",
			suggestion: CategorySuggestion{
				BillLineID: 1,
				AccountID:  7,
				Status:     SuggestionPending,
			},
		},
		{
			name: "edge case - confidence 1.0",
			suggestion: CategorySuggestion{
				BillLineID: 1,
				AccountID:  7,
				Confidence: 1.0,
				Status:     SuggestionAccepted,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.suggestion.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil && tt.errMsg != "" && err.Error() != tt.errMsg {
				t.Errorf("Validate() error = %v, want %v", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestCategorySuggestions_Sort(t *testing.T) {
	suggestions := CategorySuggestions{
		{ID: 1, AccountName: "Travel", Confidence: 0.6},
		{ID: 2, AccountName: "Marketing", Confidence: 0.9},
		{ID: 3, AccountName: "Facilities", Confidence: 0.3},
		{ID: 4, AccountName: "Events", Confidence: 0.9},
	}

	suggestions.Sort()

	expected := []int64{4, 2, 1, 3}
	for i, id := range expected {
		if suggestions[i].ID != id {
			t.Errorf("position %d: got suggestion %d, want %d", i, suggestions[i].ID, id)
		}
	}
}

func TestCategorySuggestions_Top(t *testing.T) {
	var empty CategorySuggestions
	if empty.Top() != nil {
		t.Error("Top() on empty slice should be nil")
	}

	suggestions := CategorySuggestions{
		{ID: 1, AccountName: "Travel", Confidence: 0.6},
		{ID: 2, AccountName: "Marketing", Confidence: 0.9},
	}
	top := suggestions.Top()
	if top == nil || top.ID != 2 {
		t.Errorf("Top() = %+v, want suggestion 2", top)
	}
}

func TestCategorySuggestions_StatusHelpers(t *testing.T) {
	open := CategorySuggestions{
		{ID: 1, Status: SuggestionPending},
		{ID: 2, Status: SuggestionPending},
	}
	if !open.HasPending() {
		t.Error("expected pending suggestions")
	}
	if open.Accepted() != nil {
		t.Error("expected no accepted suggestion")
	}

	resolved := CategorySuggestions{
		{ID: 1, Status: SuggestionRejected},
		{ID: 2, Status: SuggestionAccepted},
	}
	if resolved.HasPending() {
		t.Error("expected no pending suggestions")
	}
	if accepted := resolved.Accepted(); accepted == nil || accepted.ID != 2 {
		t.Errorf("Accepted() = %+v, want suggestion 2", accepted)
	}
}

func TestCategorySuggestions_Validate(t *testing.T) {
	valid := CategorySuggestions{
		{BillLineID: 1, AccountID: 1, Confidence: 0.9, Status: SuggestionPending},
		{BillLineID: 1, AccountID: 2, Confidence: 0.6, Status: SuggestionPending},
		{BillLineID: 2, AccountID: 1, Confidence: 0.6, Status: SuggestionPending},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}

	duplicate := CategorySuggestions{
		{BillLineID: 1, AccountID: 1, Confidence: 0.9, Status: SuggestionPending},
		{BillLineID: 1, AccountID: 1, Confidence: 0.6, Status: SuggestionPending},
	}
	if err := duplicate.Validate(); err == nil {
		t.Error("Validate() expected duplicate account error")
	}
}
