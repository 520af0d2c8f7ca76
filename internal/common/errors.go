// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Stable error codes returned to callers.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeInvalidState        = "INVALID_STATE"
	CodeNoBudgetFound       = "NO_BUDGET_FOUND"
	CodeNoBudgetLine        = "NO_BUDGET_LINE"
	CodeBudgetExceeded      = "BUDGET_EXCEEDED"
	CodeAlreadyResolved     = "ALREADY_RESOLVED"
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	CodeTransient           = "TRANSIENT"
	CodeNotFound            = "NOT_FOUND"
	CodeInternal            = "INTERNAL"
)

// Coder is implemented by errors that carry a stable error code.
type Coder interface {
	Code() string
}

// ErrorCode returns the code of the first coded error in err's chain.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var coder Coder
	if errors.As(err, &coder) {
		return coder.Code()
	}
	if errors.Is(err, ErrNotFound) {
		return CodeNotFound
	}
	return CodeInternal
}

// ValidationError reports malformed create or update input.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return e.Message
}

// Code implements Coder.
func (e *ValidationError) Code() string { return CodeValidation }

// InvalidStateError reports an illegal lifecycle transition.
type InvalidStateError struct {
	Operation string
	Status    string
	BudgetID  int64
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s budget %d in status %s", e.Operation, e.BudgetID, e.Status)
}

// Code implements Coder.
func (e *InvalidStateError) Code() string { return CodeInvalidState }

// NoBudgetFoundError reports that no confirmed budget covers a date.
type NoBudgetFoundError struct {
	Date time.Time
}

func (e *NoBudgetFoundError) Error() string {
	return fmt.Sprintf("no confirmed budget covers %s", e.Date.Format("2006-01-02"))
}

// Code implements Coder.
func (e *NoBudgetFoundError) Code() string { return CodeNoBudgetFound }

// NoBudgetLineError reports an account without a matching line in the covering budget.
type NoBudgetLineError struct {
	AccountName string
	BudgetName  string
	LineType    string
	AccountID   int64
	BudgetID    int64
}

func (e *NoBudgetLineError) Error() string {
	return fmt.Sprintf("budget %q has no %s line for account %q",
		e.BudgetName, e.LineType, e.AccountName)
}

// Code implements Coder.
func (e *NoBudgetLineError) Code() string { return CodeNoBudgetLine }

// BudgetExceededError reports a commitment larger than what remains on a budget line.
type BudgetExceededError struct {
	Requested   decimal.Decimal
	Planned     decimal.Decimal
	Spent       decimal.Decimal
	Remaining   decimal.Decimal
	AccountName string
	BudgetName  string
	AccountID   int64
	BudgetID    int64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget %q exceeded for account %q: requested %s, planned %s, spent %s, remaining %s",
		e.BudgetName, e.AccountName,
		e.Requested.String(), e.Planned.String(), e.Spent.String(), e.Remaining.String())
}

// Code implements Coder.
func (e *BudgetExceededError) Code() string { return CodeBudgetExceeded }

// AlreadyResolvedError reports a resolution attempt on a suggestion that is no longer pending.
type AlreadyResolvedError struct {
	Status       string
	SuggestionID int64
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("suggestion %d is already resolved (status %s)", e.SuggestionID, e.Status)
}

// Code implements Coder.
func (e *AlreadyResolvedError) Code() string { return CodeAlreadyResolved }

// ConcurrencyConflictError reports a lost optimistic-lock race.
type ConcurrencyConflictError struct {
	Entity   string
	ID       int64
	Expected int
	Actual   int
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("%s %d was modified concurrently: expected version %d, found %d",
		e.Entity, e.ID, e.Expected, e.Actual)
}

// Code implements Coder.
func (e *ConcurrencyConflictError) Code() string { return CodeConcurrencyConflict }

// TransientError wraps a storage failure that is safe to retry.
type TransientError struct {
	Err error
	Op  string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Code implements Coder.
func (e *TransientError) Code() string { return CodeTransient }

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
