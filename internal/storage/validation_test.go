package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Veraticus/budgetgate/internal/model"
	"github.com/shopspring/decimal"
)

func TestValidateContext(t *testing.T) {
	tests := []struct {
		ctx     context.Context
		name    string
		wantErr bool
	}{
		{
			name:    "valid context",
			ctx:     context.Background(),
			wantErr: false,
		},
		{
			name:    "nil context",
			ctx:     nil,
			wantErr: true,
		},
		{
			name: "canceled context still valid",
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			}(),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateContext(tt.ctx)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateContext() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateString(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{name: "non-empty", value: "budget.db", wantErr: false},
		{name: "empty", value: "", wantErr: true},
		{name: "whitespace only", value: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateString(tt.value, "param")
			if (err != nil) != tt.wantErr {
				t.Errorf("validateString(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrEmptyString) {
				t.Errorf("validateString(%q) error = %v, want ErrEmptyString", tt.value, err)
			}
		})
	}
}

func TestValidateLedgerEntries(t *testing.T) {
	valid := model.LedgerEntry{
		AccountID:   1,
		Type:        model.LineExpense,
		Amount:      decimal.NewFromInt(100),
		PostingDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		wantErr error
		name    string
		entries []model.LedgerEntry
	}{
		{name: "nil slice", entries: nil, wantErr: ErrNilParameter},
		{name: "empty slice", entries: []model.LedgerEntry{}, wantErr: ErrEmptySlice},
		{name: "valid", entries: []model.LedgerEntry{valid}},
		{
			name: "missing account",
			entries: []model.LedgerEntry{func() model.LedgerEntry {
				e := valid
				e.AccountID = 0
				return e
			}()},
			wantErr: ErrInvalidLedgerEntry,
		},
		{
			name: "bad type",
			entries: []model.LedgerEntry{func() model.LedgerEntry {
				e := valid
				e.Type = "TRANSFER"
				return e
			}()},
			wantErr: ErrInvalidLedgerEntry,
		},
		{
			name: "missing date",
			entries: []model.LedgerEntry{valid, func() model.LedgerEntry {
				e := valid
				e.PostingDate = time.Time{}
				return e
			}()},
			wantErr: ErrInvalidLedgerEntry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateLedgerEntries(tt.entries)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("validateLedgerEntries() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validateLedgerEntries() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
