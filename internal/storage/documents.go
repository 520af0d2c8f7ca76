package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/budgetgate/internal/model"
)

// SaveDocument inserts a committed document and its lines. Line IDs are written back.
func (s *SQLiteStorage) SaveDocument(ctx context.Context, doc *model.Document) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveDocumentTx(ctx, tx, doc); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classifyError("commit document", err)
	}
	return nil
}

func (s *SQLiteStorage) saveDocumentTx(ctx context.Context, q queryable, doc *model.Document) error {
	if err := validateDocument(doc); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := q.ExecContext(ctx, `
		INSERT INTO documents (id, kind, number, partner, document_date)
		VALUES (?, ?, ?, ?, ?)
	`, doc.ID, doc.Kind, doc.Number, doc.Partner, formatDate(doc.Date)); err != nil {
		return classifyError("insert document", err)
	}

	for i := range doc.Lines {
		line := &doc.Lines[i]
		line.DocumentID = doc.ID
		line.Index = i

		result, err := q.ExecContext(ctx, `
			INSERT INTO document_lines (document_id, line_index, product_name, amount, analytical_account_id)
			VALUES (?, ?, ?, ?, ?)
		`, doc.ID, i, line.ProductName, line.Amount, line.AccountID)
		if err != nil {
			return classifyError("insert document line", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get document line ID: %w", err)
		}
		line.ID = id
	}
	return nil
}

// GetDocument returns a document with its lines, or nil when it does not exist.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getDocumentTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getDocumentTx(ctx context.Context, q queryable, id string) (*model.Document, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		doc  model.Document
		date string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, kind, number, partner, document_date, created_at
		FROM documents
		WHERE id = ?
	`, id).Scan(&doc.ID, &doc.Kind, &doc.Number, &doc.Partner, &date, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError("query document", err)
	}
	if doc.Date, err = model.ParseDate(date); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, document_id, line_index, product_name, amount, analytical_account_id
		FROM document_lines
		WHERE document_id = ?
		ORDER BY line_index
	`, id)
	if err != nil {
		return nil, classifyError("query document lines", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		line, err := scanDocumentLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document line: %w", err)
		}
		doc.Lines = append(doc.Lines, *line)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate document lines", err)
	}
	return &doc, nil
}

// GetDocumentLine returns a single document line, or nil when it does not exist.
func (s *SQLiteStorage) GetDocumentLine(ctx context.Context, lineID int64) (*model.DocumentLine, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getDocumentLineTx(ctx, s.db, lineID)
}

func (s *SQLiteStorage) getDocumentLineTx(ctx context.Context, q queryable, lineID int64) (*model.DocumentLine, error) {
	if err := validateID(lineID, "line id"); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	line, err := scanDocumentLine(q.QueryRowContext(ctx, `
		SELECT id, document_id, line_index, product_name, amount, analytical_account_id
		FROM document_lines
		WHERE id = ?
	`, lineID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError("query document line", err)
	}
	return line, nil
}

// UpdateDocumentLineAccount changes the analytical account a document line is attributed to.
func (s *SQLiteStorage) UpdateDocumentLineAccount(ctx context.Context, lineID, accountID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.updateDocumentLineAccountTx(ctx, s.db, lineID, accountID)
}

func (s *SQLiteStorage) updateDocumentLineAccountTx(ctx context.Context, q queryable, lineID, accountID int64) error {
	if err := validateID(accountID, "account id"); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := q.ExecContext(ctx,
		`UPDATE document_lines SET analytical_account_id = ? WHERE id = ?`, accountID, lineID)
	if err != nil {
		return classifyError("update document line account", err)
	}
	return requireAffected(result, "document line", lineID)
}

func scanDocumentLine(row rowScanner) (*model.DocumentLine, error) {
	var (
		line      model.DocumentLine
		accountID sql.NullInt64
	)
	if err := row.Scan(&line.ID, &line.DocumentID, &line.Index, &line.ProductName, &line.Amount, &accountID); err != nil {
		return nil, err
	}
	if accountID.Valid {
		id := accountID.Int64
		line.AccountID = &id
	}
	return &line, nil
}
