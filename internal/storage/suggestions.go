package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/budgetgate/internal/common"
	"github.com/Veraticus/budgetgate/internal/model"
)

const suggestionColumns = `
	s.id, s.bill_line_id, s.analytical_account_id, a.name, s.confidence,
	s.parameters_used, s.status, s.created_at, s.resolved_at`

const suggestionFrom = `
	FROM category_suggestions s
	JOIN analytical_accounts a ON a.id = s.analytical_account_id`

// SaveSuggestion stores a classifier suggestion and sets its ID.
func (s *SQLiteStorage) SaveSuggestion(ctx context.Context, suggestion *model.CategorySuggestion) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.saveSuggestionTx(ctx, s.db, suggestion)
}

func (s *SQLiteStorage) saveSuggestionTx(ctx context.Context, q queryable, suggestion *model.CategorySuggestion) error {
	if suggestion == nil {
		return fmt.Errorf("%w: suggestion", ErrNilParameter)
	}
	if suggestion.Status == "" {
		suggestion.Status = model.SuggestionPending
	}
	if err := suggestion.Validate(); err != nil {
		return err
	}

	params := suggestion.ParametersUsed
	if params == nil {
		params = []string{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters used: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := q.ExecContext(ctx, `
		INSERT INTO category_suggestions (bill_line_id, analytical_account_id, confidence, parameters_used, status)
		VALUES (?, ?, ?, ?, ?)
	`, suggestion.BillLineID, suggestion.AccountID, suggestion.Confidence, string(paramsJSON), suggestion.Status)
	if err != nil {
		return classifyError("insert category suggestion", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get suggestion ID: %w", err)
	}
	suggestion.ID = id
	return nil
}

// GetSuggestion returns a suggestion by ID, or nil when it does not exist.
func (s *SQLiteStorage) GetSuggestion(ctx context.Context, id int64) (*model.CategorySuggestion, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getSuggestionTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getSuggestionTx(ctx context.Context, q queryable, id int64) (*model.CategorySuggestion, error) {
	if err := validateID(id, "suggestion id"); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	suggestion, err := scanSuggestion(q.QueryRowContext(ctx,
		`SELECT `+suggestionColumns+suggestionFrom+` WHERE s.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError("query category suggestion", err)
	}
	return suggestion, nil
}

// GetSuggestionsByLine returns every suggestion for a bill line, ranked for display.
func (s *SQLiteStorage) GetSuggestionsByLine(ctx context.Context, lineID int64) (model.CategorySuggestions, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getSuggestionsByLineTx(ctx, s.db, lineID)
}

func (s *SQLiteStorage) getSuggestionsByLineTx(ctx context.Context, q queryable, lineID int64) (model.CategorySuggestions, error) {
	return s.querySuggestions(ctx, q,
		`SELECT `+suggestionColumns+suggestionFrom+` WHERE s.bill_line_id = ?`, lineID)
}

// GetSuggestionsByDocument returns the suggestions for every line of a document,
// grouped by line and ranked within each line.
func (s *SQLiteStorage) GetSuggestionsByDocument(ctx context.Context, documentID string) (model.CategorySuggestions, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(documentID, "document id"); err != nil {
		return nil, err
	}
	return s.getSuggestionsByDocumentTx(ctx, s.db, documentID)
}

func (s *SQLiteStorage) getSuggestionsByDocumentTx(ctx context.Context, q queryable, documentID string) (model.CategorySuggestions, error) {
	return s.querySuggestions(ctx, q, `SELECT `+suggestionColumns+suggestionFrom+`
		JOIN document_lines l ON l.id = s.bill_line_id
		WHERE l.document_id = ?`, documentID)
}

func (s *SQLiteStorage) querySuggestions(ctx context.Context, q queryable, query string, args ...any) (model.CategorySuggestions, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx,
		query+` ORDER BY s.bill_line_id, s.confidence DESC, a.name, s.id`, args...)
	if err != nil {
		return nil, classifyError("query category suggestions", err)
	}
	defer func() { _ = rows.Close() }()

	var suggestions model.CategorySuggestions
	for rows.Next() {
		suggestion, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category suggestion: %w", err)
		}
		suggestions = append(suggestions, *suggestion)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate category suggestions", err)
	}
	return suggestions, nil
}

// AcceptSuggestion marks a PENDING suggestion ACCEPTED. If the suggestion is no longer
// pending, or a sibling on the same bill line was accepted first, it fails with
// AlreadyResolvedError; the partial unique index is the final arbiter of that race.
func (s *SQLiteStorage) AcceptSuggestion(ctx context.Context, id int64, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.acceptSuggestionTx(ctx, s.db, id, at)
}

func (s *SQLiteStorage) acceptSuggestionTx(ctx context.Context, q queryable, id int64, at time.Time) error {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := q.ExecContext(tctx, `
		UPDATE category_suggestions SET status = 'ACCEPTED', resolved_at = ?
		WHERE id = ? AND status = 'PENDING'
	`, at, id)
	if err != nil {
		classified := classifyError("accept category suggestion", err)
		if errors.Is(classified, common.ErrDuplicateEntry) {
			return &common.AlreadyResolvedError{SuggestionID: id, Status: string(model.SuggestionAccepted)}
		}
		return classified
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	current, err := s.getSuggestionTx(ctx, q, id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("category suggestion %d: %w", id, common.ErrNotFound)
	}
	return &common.AlreadyResolvedError{SuggestionID: id, Status: string(current.Status)}
}

// RejectPendingSiblings rejects every other PENDING suggestion of a bill line and
// returns how many were rejected.
func (s *SQLiteStorage) RejectPendingSiblings(ctx context.Context, lineID, exceptID int64, at time.Time) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return s.rejectPendingSiblingsTx(ctx, s.db, lineID, exceptID, at)
}

func (s *SQLiteStorage) rejectPendingSiblingsTx(ctx context.Context, q queryable, lineID, exceptID int64, at time.Time) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := q.ExecContext(ctx, `
		UPDATE category_suggestions SET status = 'REJECTED', resolved_at = ?
		WHERE bill_line_id = ? AND id <> ? AND status = 'PENDING'
	`, at, lineID, exceptID)
	if err != nil {
		return 0, classifyError("reject sibling suggestions", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(affected), nil
}

func scanSuggestion(row rowScanner) (*model.CategorySuggestion, error) {
	var (
		suggestion model.CategorySuggestion
		paramsJSON string
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&suggestion.ID, &suggestion.BillLineID, &suggestion.AccountID, &suggestion.AccountName,
		&suggestion.Confidence, &paramsJSON, &suggestion.Status, &suggestion.CreatedAt, &resolvedAt); err != nil {
		return nil, err
	}

	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &suggestion.ParametersUsed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parameters used: %w", err)
		}
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		suggestion.ResolvedAt = &t
	}
	return &suggestion, nil
}
