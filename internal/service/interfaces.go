// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/budgetgate/internal/model"
	"github.com/shopspring/decimal"
)

// BudgetFilter defines filtering options for budget queries.
type BudgetFilter struct {
	Status *model.BudgetStatus
	Limit  int
	Offset int
}

// LedgerFilter defines filtering options for ledger entry queries.
type LedgerFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	AccountID int64
	Limit     int
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Analytical account operations
	CreateAccount(ctx context.Context, code, name string) (*model.AnalyticalAccount, error)
	GetAccount(ctx context.Context, id int64) (*model.AnalyticalAccount, error)
	ListAccounts(ctx context.Context, activeOnly bool) ([]model.AnalyticalAccount, error)
	SetAccountActive(ctx context.Context, id int64, active bool) error

	// Budget operations
	CreateBudget(ctx context.Context, budget *model.Budget) error
	GetBudget(ctx context.Context, id int64) (*model.Budget, error)
	ListBudgets(ctx context.Context, filter BudgetFilter) ([]model.Budget, error)
	FindCoveringBudget(ctx context.Context, date time.Time) (*model.Budget, error)
	UpdateBudgetStatus(ctx context.Context, id int64, status model.BudgetStatus) error
	BumpBudgetVersion(ctx context.Context, id int64, expected int) error
	AddBudgetLine(ctx context.Context, line *model.BudgetLine) error
	UpdateBudgetLine(ctx context.Context, line *model.BudgetLine) error
	DeleteBudgetLine(ctx context.Context, lineID int64) error

	// Ledger operations
	SaveLedgerEntries(ctx context.Context, entries []model.LedgerEntry) (int, error)
	GetLedgerEntries(ctx context.Context, filter LedgerFilter) ([]model.LedgerEntry, error)
	SumLedgerAmounts(ctx context.Context, accountID int64, lineType model.LineType, from, to time.Time) (decimal.Decimal, error)

	// Document operations
	SaveDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	GetDocumentLine(ctx context.Context, lineID int64) (*model.DocumentLine, error)
	UpdateDocumentLineAccount(ctx context.Context, lineID, accountID int64) error

	// Category suggestion operations
	SaveSuggestion(ctx context.Context, suggestion *model.CategorySuggestion) error
	GetSuggestion(ctx context.Context, id int64) (*model.CategorySuggestion, error)
	GetSuggestionsByLine(ctx context.Context, lineID int64) (model.CategorySuggestions, error)
	GetSuggestionsByDocument(ctx context.Context, documentID string) (model.CategorySuggestions, error)
	AcceptSuggestion(ctx context.Context, id int64, at time.Time) error
	RejectPendingSiblings(ctx context.Context, lineID, exceptID int64, at time.Time) (int, error)

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}

// RetryOptions configures retry behavior.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// MetricsInvalidator drops cached metrics snapshots when the inputs they were derived from change.
type MetricsInvalidator interface {
	InvalidateBudget(budgetID int64)
	InvalidateAccountAt(accountIDs []int64, date time.Time)
	InvalidateAccounts(accountIDs []int64)
}

// EventPublisher publishes domain events to interested consumers.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}
