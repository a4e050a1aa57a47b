package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial receipt corpus and extraction cache",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS receipts (
					id TEXT PRIMARY KEY,
					content_hash TEXT UNIQUE NOT NULL,
					provider TEXT NOT NULL,
					merchant_raw TEXT NOT NULL DEFAULT '',
					merchant_canonical TEXT NOT NULL DEFAULT '',
					amount TEXT,
					kind TEXT NOT NULL,
					currency TEXT NOT NULL DEFAULT '',
					order_number TEXT NOT NULL DEFAULT '',
					receipt_date TEXT NOT NULL DEFAULT '',
					body_text TEXT NOT NULL DEFAULT '',
					confidence REAL NOT NULL DEFAULT 0,
					perceptual_hash INTEGER,
					extracted_at DATETIME NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_receipts_date ON receipts(receipt_date)`,
				`CREATE INDEX idx_receipts_merchant ON receipts(merchant_canonical)`,
				`CREATE INDEX idx_receipts_order_number ON receipts(order_number)`,

				`CREATE TABLE IF NOT EXISTS receipt_line_items (
					receipt_id TEXT NOT NULL,
					position INTEGER NOT NULL,
					description TEXT NOT NULL,
					quantity TEXT NOT NULL,
					unit_price TEXT NOT NULL,
					PRIMARY KEY (receipt_id, position),
					FOREIGN KEY (receipt_id) REFERENCES receipts(id) ON DELETE CASCADE
				)`,

				`CREATE TABLE IF NOT EXISTS extraction_cache (
					content_hash TEXT PRIMARY KEY,
					provider TEXT NOT NULL,
					confidence REAL NOT NULL,
					payload TEXT NOT NULL,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Add ledger transactions",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					hash TEXT UNIQUE NOT NULL,
					date TEXT NOT NULL,
					merchant_raw TEXT NOT NULL DEFAULT '',
					amount TEXT NOT NULL,
					account_id TEXT NOT NULL DEFAULT '',
					source TEXT NOT NULL DEFAULT '',
					category TEXT NOT NULL DEFAULT 'other',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_date ON transactions(date)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Add append-only learning logs",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS merchant_aliases (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					alias TEXT NOT NULL,
					canonical TEXT NOT NULL,
					source TEXT NOT NULL,
					created_at DATETIME NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS corrections (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					kind TEXT NOT NULL,
					raw_input TEXT NOT NULL,
					corrected_output TEXT NOT NULL,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_corrections_kind ON corrections(kind)`,
				`CREATE TABLE IF NOT EXISTS business_mappings (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					merchant_key TEXT NOT NULL,
					business_type TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
			})
		},
	},
	{
		Version:     4,
		Description: "Add decision records",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS match_results (
					seq INTEGER PRIMARY KEY AUTOINCREMENT,
					id TEXT UNIQUE NOT NULL,
					receipt_id TEXT NOT NULL,
					best_candidate_id TEXT NOT NULL DEFAULT '',
					decision TEXT NOT NULL,
					score REAL NOT NULL,
					weight_set TEXT NOT NULL DEFAULT '',
					collision BOOLEAN NOT NULL DEFAULT 0,
					breakdown TEXT NOT NULL DEFAULT '[]',
					alternates TEXT NOT NULL DEFAULT '[]',
					created_at DATETIME NOT NULL,
					FOREIGN KEY (receipt_id) REFERENCES receipts(id)
				)`,
				`CREATE INDEX idx_match_results_receipt ON match_results(receipt_id)`,

				`CREATE TABLE IF NOT EXISTS duplicate_verdicts (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					content_hash TEXT NOT NULL,
					receipt_id TEXT NOT NULL DEFAULT '',
					duplicate_of_id TEXT NOT NULL DEFAULT '',
					is_duplicate BOOLEAN NOT NULL,
					needs_review BOOLEAN NOT NULL,
					confidence REAL NOT NULL,
					payload TEXT NOT NULL,
					checked_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_duplicate_verdicts_hash ON duplicate_verdicts(content_hash)`,

				`CREATE TABLE IF NOT EXISTS classifications (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					receipt_id TEXT NOT NULL,
					business_type TEXT NOT NULL,
					confidence REAL NOT NULL,
					needs_review BOOLEAN NOT NULL,
					payload TEXT NOT NULL,
					classified_at DATETIME NOT NULL,
					FOREIGN KEY (receipt_id) REFERENCES receipts(id)
				)`,
				`CREATE INDEX idx_classifications_receipt ON classifications(receipt_id)`,
			})
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Get current version
	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	// Apply migrations
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

		// Update version
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

	// Verify we're at the expected schema version
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
