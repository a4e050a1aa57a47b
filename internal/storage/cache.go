package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

// LoadExtraction returns the cached extraction for a content hash.
func (s *SQLiteStorage) LoadExtraction(ctx context.Context, contentHash string) (*model.ExtractedReceipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(contentHash, "contentHash"); err != nil {
		return nil, err
	}

	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM extraction_cache WHERE content_hash = ?`, contentHash).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: cached extraction %s", common.ErrNotFound, contentHash)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query extraction cache: %w", err)
	}

	var receipt model.ExtractedReceipt
	if err := json.Unmarshal([]byte(payload), &receipt); err != nil {
		return nil, fmt.Errorf("failed to decode cached extraction: %w", err)
	}
	return &receipt, nil
}

// StoreExtraction caches an extraction. An existing entry is only replaced by
// one with equal or higher confidence.
func (s *SQLiteStorage) StoreExtraction(ctx context.Context, receipt *model.ExtractedReceipt) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if receipt == nil {
		return fmt.Errorf("%w: receipt", ErrNilParameter)
	}
	if err := validateString(receipt.ContentHash, "contentHash"); err != nil {
		return err
	}

	payload, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("failed to encode extraction: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO extraction_cache (content_hash, provider, confidence, payload, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(content_hash) DO UPDATE SET
			provider = excluded.provider,
			confidence = excluded.confidence,
			payload = excluded.payload,
			updated_at = excluded.updated_at
		WHERE excluded.confidence >= extraction_cache.confidence`,
		receipt.ContentHash, receipt.Provider, receipt.Confidence, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to store extraction: %w", err)
	}
	return nil
}
