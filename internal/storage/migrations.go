package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Accounts, budgets and ledger entries",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS analytical_accounts (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					code TEXT NOT NULL UNIQUE,
					name TEXT NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				// Dates are stored as YYYY-MM-DD text so range comparisons are lexical
				`CREATE TABLE IF NOT EXISTS budgets (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					date_from TEXT NOT NULL,
					date_to TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'DRAFT'
						CHECK (status IN ('DRAFT', 'CONFIRMED', 'VALIDATED', 'DONE', 'CANCELLED')),
					revision_of INTEGER REFERENCES budgets(id),
					version INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					CHECK (date_from <= date_to)
				)`,
				`CREATE INDEX idx_budgets_status_dates ON budgets(status, date_from, date_to)`,
				`CREATE INDEX idx_budgets_revision_of ON budgets(revision_of)`,

				`CREATE TABLE IF NOT EXISTS budget_lines (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					budget_id INTEGER NOT NULL REFERENCES budgets(id) ON DELETE CASCADE,
					analytical_account_id INTEGER NOT NULL REFERENCES analytical_accounts(id),
					type TEXT NOT NULL CHECK (type IN ('EXPENSE', 'INCOME')),
					planned_amount TEXT NOT NULL DEFAULT '0',
					is_monetary BOOLEAN NOT NULL DEFAULT 1,
					UNIQUE (budget_id, analytical_account_id, type)
				)`,

				`CREATE TABLE IF NOT EXISTS ledger_entries (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					analytical_account_id INTEGER NOT NULL REFERENCES analytical_accounts(id),
					type TEXT NOT NULL CHECK (type IN ('EXPENSE', 'INCOME')),
					amount TEXT NOT NULL,
					posting_date TEXT NOT NULL,
					reference TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_ledger_entries_lookup ON ledger_entries(analytical_account_id, type, posting_date)`,
				`CREATE UNIQUE INDEX idx_ledger_entries_reference ON ledger_entries(analytical_account_id, reference)
					WHERE reference <> ''`,
			)
		},
	},
	{
		Version:     2,
		Description: "Documents and category suggestions",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS documents (
					id TEXT PRIMARY KEY,
					kind TEXT NOT NULL,
					number TEXT NOT NULL DEFAULT '',
					partner TEXT NOT NULL DEFAULT '',
					document_date TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS document_lines (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
					line_index INTEGER NOT NULL,
					product_name TEXT NOT NULL DEFAULT '',
					amount TEXT NOT NULL,
					analytical_account_id INTEGER REFERENCES analytical_accounts(id),
					UNIQUE (document_id, line_index)
				)`,

				`CREATE TABLE IF NOT EXISTS category_suggestions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					bill_line_id INTEGER NOT NULL REFERENCES document_lines(id) ON DELETE CASCADE,
					analytical_account_id INTEGER NOT NULL REFERENCES analytical_accounts(id),
					confidence REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
					parameters_used TEXT NOT NULL DEFAULT '[]',
					status TEXT NOT NULL DEFAULT 'PENDING'
						CHECK (status IN ('PENDING', 'ACCEPTED', 'REJECTED')),
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					resolved_at DATETIME,
					UNIQUE (bill_line_id, analytical_account_id)
				)`,
				`CREATE INDEX idx_category_suggestions_line ON category_suggestions(bill_line_id, status)`,
				// At most one accepted suggestion per bill line, even under concurrent resolution
				`CREATE UNIQUE INDEX idx_category_suggestions_one_accepted ON category_suggestions(bill_line_id)
					WHERE status = 'ACCEPTED'`,
			)
		},
	},
	{
		Version:     3,
		Description: "Add checkpoint metadata table",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS checkpoint_metadata (
					id TEXT PRIMARY KEY,
					created_at DATETIME NOT NULL,
					description TEXT,
					file_size INTEGER,
					row_counts TEXT,
					schema_version INTEGER,
					is_auto BOOLEAN DEFAULT 0
				)`,
				`CREATE INDEX idx_checkpoint_metadata_created_at ON checkpoint_metadata(created_at)`,
			)
		},
	},
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Migrate brings the schema up to ExpectedSchemaVersion.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion reports the schema version currently applied to the database.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
