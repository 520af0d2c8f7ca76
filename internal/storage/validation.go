package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/budgetgate/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrEmptySlice         = errors.New("slice cannot be empty")
	ErrInvalidID          = errors.New("identifier must be positive")
	ErrInvalidLedgerEntry = errors.New("invalid ledger entry")
	ErrInvalidDocument    = errors.New("invalid document")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateID(id int64, paramName string) error {
	if id <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidID, paramName)
	}
	return nil
}

// validateLedgerEntries validates a slice of ledger entries.
func validateLedgerEntries(entries []model.LedgerEntry) error {
	if entries == nil {
		return fmt.Errorf("%w: entries", ErrNilParameter)
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: entries", ErrEmptySlice)
	}

	for i := range entries {
		if err := validateLedgerEntry(&entries[i]); err != nil {
			return fmt.Errorf("ledger entry at index %d: %w", i, err)
		}
	}
	return nil
}

func validateLedgerEntry(entry *model.LedgerEntry) error {
	if entry.AccountID <= 0 {
		return fmt.Errorf("%w: missing analytical account", ErrInvalidLedgerEntry)
	}
	if !entry.Type.Valid() {
		return fmt.Errorf("%w: invalid type %q", ErrInvalidLedgerEntry, entry.Type)
	}
	if entry.PostingDate.IsZero() {
		return fmt.Errorf("%w: missing posting date", ErrInvalidLedgerEntry)
	}
	return nil
}

func validateDocument(doc *model.Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document", ErrNilParameter)
	}
	if err := validateString(doc.ID, "document id"); err != nil {
		return err
	}
	if !doc.Kind.Valid() {
		return fmt.Errorf("%w: invalid kind %q", ErrInvalidDocument, doc.Kind)
	}
	if doc.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidDocument)
	}
	if len(doc.Lines) == 0 {
		return fmt.Errorf("%w: no lines", ErrInvalidDocument)
	}
	return nil
}
