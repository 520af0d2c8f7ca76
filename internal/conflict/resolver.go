// Package conflict stores classifier suggestions for bill lines and resolves
// lines that have more than one candidate account.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Veraticus/budgetgate/internal/common"
	"github.com/Veraticus/budgetgate/internal/model"
	"github.com/Veraticus/budgetgate/internal/registry"
	"github.com/Veraticus/budgetgate/internal/service"
)

// EventSuggestionResolved is the routing key published after a resolution commits.
const EventSuggestionResolved = "suggestion.resolved"

// ResolvedEvent is the payload of EventSuggestionResolved.
type ResolvedEvent struct {
	ResolvedAt        time.Time `json:"resolvedAt"`
	PreviousAccountID *int64    `json:"previousAccountId,omitempty"`
	DocumentID        string    `json:"documentId"`
	SuggestionID      int64     `json:"suggestionId"`
	BillLineID        int64     `json:"billLineId"`
	AccountID         int64     `json:"accountId"`
	Rejected          int       `json:"rejected"`
}

// Resolution is the outcome of a successful resolve.
type Resolution struct {
	Suggestion        model.CategorySuggestion
	PreviousAccountID *int64
	DocumentID        string
	Rejected          int
}

// Resolver lists and resolves categorization conflicts.
type Resolver struct {
	storage     service.Storage
	invalidator service.MetricsInvalidator
	publisher   service.EventPublisher
	now         func() time.Time
}

// NewResolver creates a resolver. invalidator and publisher may be nil.
func NewResolver(storage service.Storage, invalidator service.MetricsInvalidator, publisher service.EventPublisher) *Resolver {
	return &Resolver{
		storage:     storage,
		invalidator: invalidator,
		publisher:   publisher,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ListConflicts returns the lines of a document that still have pending suggestions,
// in line order, each with all its suggestions ranked by confidence.
func (r *Resolver) ListConflicts(ctx context.Context, documentID string) ([]model.Conflict, error) {
	var (
		doc         *model.Document
		suggestions model.CategorySuggestions
	)
	err := common.WithRetry(ctx, func() error {
		tx, err := r.storage.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		doc, err = tx.GetDocument(ctx, documentID)
		if err != nil || doc == nil {
			return err
		}
		suggestions, err = tx.GetSuggestionsByDocument(ctx, documentID)
		return err
	}, common.DefaultRetryOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s: %w", documentID, common.ErrNotFound)
	}

	byLine := make(map[int64]model.CategorySuggestions)
	for _, suggestion := range suggestions {
		byLine[suggestion.BillLineID] = append(byLine[suggestion.BillLineID], suggestion)
	}

	conflicts := []model.Conflict{}
	for _, line := range doc.Lines {
		lineSuggestions := byLine[line.ID]
		if !lineSuggestions.HasPending() {
			continue
		}
		lineSuggestions.Sort()
		conflicts = append(conflicts, model.Conflict{
			LineID:      line.ID,
			ProductName: line.ProductName,
			Amount:      line.Amount,
			Suggestions: lineSuggestions,
		})
	}
	return conflicts, nil
}

// Resolve accepts a suggestion, rejects its pending siblings and moves the bill line
// to the accepted account, atomically. A suggestion that is no longer pending, or
// whose line was resolved concurrently, fails with AlreadyResolvedError.
func (r *Resolver) Resolve(ctx context.Context, suggestionID int64) (*Resolution, error) {
	var (
		resolution *Resolution
		docDate    time.Time
	)
	err := common.WithRetry(ctx, func() error {
		tx, err := r.storage.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		suggestion, err := tx.GetSuggestion(ctx, suggestionID)
		if err != nil {
			return err
		}
		if suggestion == nil {
			return fmt.Errorf("category suggestion %d: %w", suggestionID, common.ErrNotFound)
		}
		if suggestion.Status != model.SuggestionPending {
			return &common.AlreadyResolvedError{SuggestionID: suggestionID, Status: string(suggestion.Status)}
		}

		line, err := tx.GetDocumentLine(ctx, suggestion.BillLineID)
		if err != nil {
			return err
		}
		if line == nil {
			return fmt.Errorf("bill line %d: %w", suggestion.BillLineID, common.ErrNotFound)
		}
		doc, err := tx.GetDocument(ctx, line.DocumentID)
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("document %s: %w", line.DocumentID, common.ErrNotFound)
		}

		at := r.now()
		if err := tx.AcceptSuggestion(ctx, suggestionID, at); err != nil {
			return err
		}
		rejected, err := tx.RejectPendingSiblings(ctx, suggestion.BillLineID, suggestionID, at)
		if err != nil {
			return err
		}
		if err := tx.UpdateDocumentLineAccount(ctx, line.ID, suggestion.AccountID); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		suggestion.Status = model.SuggestionAccepted
		suggestion.ResolvedAt = &at
		resolution = &Resolution{
			Suggestion:        *suggestion,
			PreviousAccountID: line.AccountID,
			DocumentID:        doc.ID,
			Rejected:          rejected,
		}
		docDate = doc.Date
		return nil
	}, common.DefaultRetryOptions)
	if err != nil {
		return nil, err
	}

	accounts := []int64{resolution.Suggestion.AccountID}
	if prev := resolution.PreviousAccountID; prev != nil && *prev != resolution.Suggestion.AccountID {
		accounts = append(accounts, *prev)
	}
	if r.invalidator != nil {
		r.invalidator.InvalidateAccountAt(accounts, docDate)
	}

	slog.Info("Resolved categorization conflict",
		"suggestion_id", suggestionID,
		"bill_line_id", resolution.Suggestion.BillLineID,
		"account_id", resolution.Suggestion.AccountID,
		"rejected", resolution.Rejected)

	r.publish(ctx, ResolvedEvent{
		ResolvedAt:        *resolution.Suggestion.ResolvedAt,
		PreviousAccountID: resolution.PreviousAccountID,
		DocumentID:        resolution.DocumentID,
		SuggestionID:      suggestionID,
		BillLineID:        resolution.Suggestion.BillLineID,
		AccountID:         resolution.Suggestion.AccountID,
		Rejected:          resolution.Rejected,
	})
	return resolution, nil
}

// publish delivers the event on a best-effort basis. The resolution is already
// committed, so a broker failure is logged and not returned.
func (r *Resolver) publish(ctx context.Context, event ResolvedEvent) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, EventSuggestionResolved, event); err != nil {
		slog.Warn("Failed to publish resolution event",
			"suggestion_id", event.SuggestionID,
			"error", err)
	}
}

// Ingest stores a batch of classifier suggestions as PENDING, all or nothing.
// Each suggestion must name an existing bill line with no accepted suggestion yet
// and an active account.
func (r *Resolver) Ingest(ctx context.Context, batch []model.CategorySuggestion) ([]model.CategorySuggestion, error) {
	if len(batch) == 0 {
		return nil, common.NewValidationError("suggestions", "at least one suggestion is required")
	}

	stored := make([]model.CategorySuggestion, len(batch))
	copy(stored, batch)
	for i := range stored {
		stored[i].ID = 0
		stored[i].Status = model.SuggestionPending
		stored[i].ResolvedAt = nil
	}
	if err := model.CategorySuggestions(stored).Validate(); err != nil {
		return nil, &common.ValidationError{Field: "suggestions", Message: err.Error()}
	}

	err := common.WithRetry(ctx, func() error {
		tx, err := r.storage.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for i := range stored {
			if err := ingestOne(ctx, tx, &stored[i], i); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, common.DefaultRetryOptions)
	if err != nil {
		return nil, err
	}

	lines := make(map[int64]bool)
	for _, suggestion := range stored {
		lines[suggestion.BillLineID] = true
	}
	lineIDs := make([]int64, 0, len(lines))
	for id := range lines {
		lineIDs = append(lineIDs, id)
	}
	sort.Slice(lineIDs, func(i, j int) bool { return lineIDs[i] < lineIDs[j] })

	slog.Info("Ingested category suggestions",
		"count", len(stored),
		"bill_line_ids", lineIDs)
	return stored, nil
}

func ingestOne(ctx context.Context, tx service.Transaction, suggestion *model.CategorySuggestion, index int) error {
	field := fmt.Sprintf("suggestions[%d]", index)

	line, err := tx.GetDocumentLine(ctx, suggestion.BillLineID)
	if err != nil {
		return err
	}
	if line == nil {
		return common.NewValidationError(field+".billLineId", "bill line %d does not exist", suggestion.BillLineID)
	}
	doc, err := tx.GetDocument(ctx, line.DocumentID)
	if err != nil {
		return err
	}
	if doc == nil || doc.Kind != model.DocumentVendorBill {
		return common.NewValidationError(field+".billLineId", "line %d is not a vendor bill line", suggestion.BillLineID)
	}

	account, err := registry.RequireActive(ctx, tx, suggestion.AccountID, field+".accountId")
	if err != nil {
		return err
	}

	existing, err := tx.GetSuggestionsByLine(ctx, suggestion.BillLineID)
	if err != nil {
		return err
	}
	if accepted := existing.Accepted(); accepted != nil {
		return &common.AlreadyResolvedError{SuggestionID: accepted.ID, Status: string(accepted.Status)}
	}

	if err := tx.SaveSuggestion(ctx, suggestion); err != nil {
		if errors.Is(err, common.ErrDuplicateEntry) {
			return common.NewValidationError(field, "bill line %d already has a suggestion for account %s",
				suggestion.BillLineID, account.Code)
		}
		return err
	}
	suggestion.AccountName = account.Name
	return nil
}
