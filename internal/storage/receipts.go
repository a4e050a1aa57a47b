package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"github.com/Veraticus/the-receipts-must-match/internal/service"
)

// SaveReceipt adds a receipt to the corpus and returns its ID. A receipt whose
// content hash is already stored is not inserted again; the existing ID is
// returned together with common.ErrDuplicateEntry.
func (s *SQLiteStorage) SaveReceipt(ctx context.Context, record *service.ReceiptRecord) (string, error) {
	if err := validateContext(ctx); err != nil {
		return "", err
	}
	if err := validateReceiptRecord(record); err != nil {
		return "", err
	}

	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	r := record.Receipt

	var phash sql.NullInt64
	if record.PerceptualHash != nil {
		phash = sql.NullInt64{Int64: int64(*record.PerceptualHash), Valid: true} // #nosec G115 bit pattern round-trips
	}

	var existing string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO receipts (
				id, content_hash, provider, merchant_raw, merchant_canonical, amount,
				kind, currency, order_number, receipt_date, body_text, confidence,
				perceptual_hash, extracted_at, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(content_hash) DO NOTHING`,
			id, r.ContentHash, r.Provider, r.MerchantRaw, record.MerchantCanonical, r.Amount,
			string(r.Kind), r.Currency, r.OrderNumber, r.Date.String(), r.Text, r.Confidence,
			phash, r.ExtractedAt, createdAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert receipt: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to check insert: %w", err)
		} else if n == 0 {
			if err := tx.QueryRowContext(ctx,
				"SELECT id FROM receipts WHERE content_hash = ?", r.ContentHash).Scan(&existing); err != nil {
				return fmt.Errorf("failed to load existing receipt: %w", err)
			}
			return common.ErrDuplicateEntry
		}

		if len(r.LineItems) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO receipt_line_items (receipt_id, position, description, quantity, unit_price)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i, item := range r.LineItems {
			if _, err := stmt.ExecContext(ctx, id, i, item.Description, item.Quantity, item.UnitPrice); err != nil {
				return fmt.Errorf("failed to insert line item %d: %w", i, err)
			}
		}
		return nil
	})
	if errors.Is(err, common.ErrDuplicateEntry) {
		return existing, fmt.Errorf("%w: receipt %s", common.ErrDuplicateEntry, existing)
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetReceiptIDByHash returns the ID of the stored receipt with the given content hash.
func (s *SQLiteStorage) GetReceiptIDByHash(ctx context.Context, contentHash string) (string, error) {
	if err := validateContext(ctx); err != nil {
		return "", err
	}
	if err := validateString(contentHash, "contentHash"); err != nil {
		return "", err
	}

	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM receipts WHERE content_hash = ?`, contentHash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: receipt with hash %s", common.ErrNotFound, contentHash)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query receipt: %w", err)
	}
	return id, nil
}

const receiptColumns = `
	id, content_hash, provider, merchant_raw, merchant_canonical, amount,
	kind, currency, order_number, receipt_date, body_text, confidence,
	perceptual_hash, extracted_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*service.ReceiptRecord, error) {
	var (
		record service.ReceiptRecord
		r      model.ExtractedReceipt
		kind   string
		date   string
		phash  sql.NullInt64
	)
	err := row.Scan(
		&record.ID, &r.ContentHash, &r.Provider, &r.MerchantRaw, &record.MerchantCanonical, &r.Amount,
		&kind, &r.Currency, &r.OrderNumber, &date, &r.Text, &r.Confidence,
		&phash, &r.ExtractedAt, &record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Kind = model.ReceiptKind(kind)
	if r.Date, err = model.ParseDate(date); err != nil {
		return nil, err
	}
	if phash.Valid {
		v := uint64(phash.Int64) // #nosec G115 bit pattern round-trips
		record.PerceptualHash = &v
	}
	record.Receipt = r
	return &record, nil
}

// GetReceipt loads one receipt with its line items.
func (s *SQLiteStorage) GetReceipt(ctx context.Context, id string) (*service.ReceiptRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	record, err := scanReceipt(s.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: receipt %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT description, quantity, unit_price
		FROM receipt_line_items
		WHERE receipt_id = ?
		ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item model.LineItem
		if err := rows.Scan(&item.Description, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		record.Receipt.LineItems = append(record.Receipt.LineItems, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating line items: %w", err)
	}
	return record, nil
}

// StoredReceipts returns the duplicate-scan view of every stored receipt,
// carrying the most recent business type assigned to each.
func (s *SQLiteStorage) StoredReceipts(ctx context.Context) ([]model.StoredReceipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.content_hash, r.merchant_raw, r.merchant_canonical, r.amount, r.kind,
			r.order_number, r.receipt_date, r.body_text, r.perceptual_hash, r.created_at,
			COALESCE((
				SELECT c.business_type FROM classifications c
				WHERE c.receipt_id = r.id
				ORDER BY c.id DESC LIMIT 1
			), '')
		FROM receipts r
		ORDER BY r.created_at, r.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.StoredReceipt
	for rows.Next() {
		var (
			sr    model.StoredReceipt
			date  string
			kind  string
			phash sql.NullInt64
		)
		if err := rows.Scan(
			&sr.ID, &sr.ContentHash, &sr.MerchantRaw, &sr.MerchantCanonical, &sr.Amount, &kind,
			&sr.OrderNumber, &date, &sr.Text, &phash, &sr.CreatedAt, &sr.BusinessType,
		); err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		if sr.Date, err = model.ParseDate(date); err != nil {
			return nil, fmt.Errorf("receipt %s: %w", sr.ID, err)
		}
		sr.Kind = model.ReceiptKind(kind)
		if phash.Valid {
			sr.PerceptualHash = uint64(phash.Int64) // #nosec G115 bit pattern round-trips
			sr.HasPerceptualHash = true
		}
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating receipts: %w", err)
	}
	return out, nil
}
