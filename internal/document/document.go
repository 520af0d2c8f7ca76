// Package document commits purchase orders, vendor bills and their sales
// counterparts. A commit is gated by the authoritative budget check, which runs
// in the same transaction as the insert.
package document

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/budgetgate/internal/common"
	"github.com/Veraticus/budgetgate/internal/model"
	"github.com/Veraticus/budgetgate/internal/registry"
	"github.com/Veraticus/budgetgate/internal/service"
	"github.com/Veraticus/budgetgate/internal/validator"
)

// CommitRequest describes a document to confirm.
type CommitRequest struct {
	Date    time.Time
	Kind    model.DocumentKind
	Number  string
	Partner string
	Lines   []model.DocumentLine
}

// Service commits and reads documents.
type Service struct {
	storage service.Storage
	newID   func() string
}

// NewService creates a document service.
func NewService(storage service.Storage) *Service {
	return &Service{
		storage: storage,
		newID:   uuid.NewString,
	}
}

// Commit validates the request, runs the budget gate and stores the document, all in
// one transaction. Budget gate failures are returned unwrapped so callers can match
// them with errors.As.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (*model.Document, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	doc := &model.Document{
		Date:    model.TruncateDay(req.Date),
		Kind:    req.Kind,
		Number:  strings.TrimSpace(req.Number),
		Partner: strings.TrimSpace(req.Partner),
		Lines:   append([]model.DocumentLine(nil), req.Lines...),
	}

	err := common.WithRetry(ctx, func() error {
		tx, err := s.storage.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for i, line := range doc.Lines {
			if line.AccountID == nil {
				continue
			}
			if _, err := registry.RequireActive(ctx, tx, *line.AccountID, fmt.Sprintf("lines[%d].accountId", i)); err != nil {
				return err
			}
		}

		if err := validator.ValidateCommit(ctx, tx, doc.Kind.LineType(), CandidateLines(doc.Lines), doc.Date); err != nil {
			return err
		}

		doc.ID = s.newID()
		if err := tx.SaveDocument(ctx, doc); err != nil {
			return err
		}
		return tx.Commit()
	}, common.DefaultRetryOptions)
	if err != nil {
		return nil, err
	}

	slog.Info("Committed document",
		"document_id", doc.ID,
		"kind", doc.Kind,
		"date", doc.Date.Format(model.DateLayout),
		"lines", len(doc.Lines))
	return doc, nil
}

// Get returns a committed document.
func (s *Service) Get(ctx context.Context, id string) (*model.Document, error) {
	doc, err := s.storage.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	return doc, nil
}

// CandidateLines converts document lines into the shape the budget validator checks.
func CandidateLines(lines []model.DocumentLine) []model.CandidateLine {
	candidates := make([]model.CandidateLine, len(lines))
	for i, line := range lines {
		candidates[i] = model.CandidateLine{
			Amount:      line.Amount,
			AccountID:   line.AccountID,
			ProductName: line.ProductName,
		}
	}
	return candidates
}

// ExpensesByAccount sums a committed document's lines per account. The result is what
// the document already contributes to achieved amounts when it is being edited.
func ExpensesByAccount(doc *model.Document) map[int64]decimal.Decimal {
	totals := make(map[int64]decimal.Decimal)
	for _, line := range doc.Lines {
		if line.AccountID == nil {
			continue
		}
		totals[*line.AccountID] = totals[*line.AccountID].Add(line.Amount)
	}
	return totals
}

func validateRequest(req CommitRequest) error {
	if !req.Kind.Valid() {
		return common.NewValidationError("kind", "unknown document kind %q", req.Kind)
	}
	if req.Date.IsZero() {
		return common.NewValidationError("date", "is required")
	}
	if len(req.Lines) == 0 {
		return common.NewValidationError("lines", "at least one line is required")
	}
	for i, line := range req.Lines {
		if line.Amount.IsNegative() {
			return common.NewValidationError(fmt.Sprintf("lines[%d].amount", i), "must not be negative, got %s", line.Amount)
		}
		if line.AccountID != nil && *line.AccountID <= 0 {
			return common.NewValidationError(fmt.Sprintf("lines[%d].accountId", i), "must be positive")
		}
	}
	return nil
}
