package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

// SaveTransactions imports ledger transactions and returns how many were new.
// Transactions already present (same hash) are skipped.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, candidates []model.TransactionCandidate) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateCandidates(candidates); err != nil {
		return 0, err
	}

	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO transactions (
				id, hash, date, merchant_raw, amount, account_id, source, category
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, c := range candidates {
			category := c.Category
			if category == "" {
				category = model.CategoryOther
			}
			result, err := stmt.ExecContext(ctx,
				c.ID,
				c.GenerateHash(),
				c.Date.String(),
				c.MerchantRaw,
				c.Amount,
				c.AccountID,
				c.Source,
				string(category),
			)
			if err != nil {
				return fmt.Errorf("failed to insert transaction %s: %w", c.ID, err)
			}
			if n, err := result.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.Debug("Saved transactions", "received", len(candidates), "inserted", inserted)
	return inserted, nil
}

const transactionColumns = `id, date, merchant_raw, amount, account_id, source, category`

func scanTransaction(row rowScanner) (*model.TransactionCandidate, error) {
	var (
		c        model.TransactionCandidate
		date     string
		category string
	)
	if err := row.Scan(&c.ID, &date, &c.MerchantRaw, &c.Amount, &c.AccountID, &c.Source, &category); err != nil {
		return nil, err
	}
	parsed, err := model.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", c.ID, err)
	}
	c.Date = parsed
	c.Category = model.ParseTransactionCategory(category)
	return &c, nil
}

// GetTransaction loads one ledger transaction.
func (s *SQLiteStorage) GetTransaction(ctx context.Context, id string) (*model.TransactionCandidate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	c, err := scanTransaction(s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return c, nil
}

// CandidatesInWindow returns transactions dated within days of center, inclusive.
func (s *SQLiteStorage) CandidatesInWindow(ctx context.Context, center model.Date, days int) ([]model.TransactionCandidate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if days < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDateRange, days)
	}
	if center.IsZero() {
		return nil, nil
	}

	// YYYY-MM-DD strings sort chronologically.
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE date BETWEEN ? AND ?
		ORDER BY date, id`,
		center.AddDays(-days).String(), center.AddDays(days).String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.TransactionCandidate
	for rows.Next() {
		c, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return out, nil
}
