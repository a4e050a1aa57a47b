package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

// SaveMatchResult appends a match result. Earlier results for the same
// receipt stay in place and are superseded by this one.
func (s *SQLiteStorage) SaveMatchResult(ctx context.Context, result *model.MatchResult) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateMatchResult(result); err != nil {
		return err
	}

	breakdown, err := json.Marshal(result.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to encode breakdown: %w", err)
	}
	alternates, err := json.Marshal(result.Alternates)
	if err != nil {
		return fmt.Errorf("failed to encode alternates: %w", err)
	}
	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO match_results (
			id, receipt_id, best_candidate_id, decision, score, weight_set,
			collision, breakdown, alternates, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.ReceiptID, result.BestCandidateID, string(result.Decision), result.Score,
		result.WeightSet, result.Collision, string(breakdown), string(alternates), createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save match result: %w", err)
	}
	return nil
}

// LatestMatchResult returns the most recent match result for a receipt.
func (s *SQLiteStorage) LatestMatchResult(ctx context.Context, receiptID string) (*model.MatchResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(receiptID, "receiptID"); err != nil {
		return nil, err
	}

	var (
		result     model.MatchResult
		decision   string
		breakdown  string
		alternates string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, receipt_id, best_candidate_id, decision, score, weight_set,
			collision, breakdown, alternates, created_at
		FROM match_results
		WHERE receipt_id = ?
		ORDER BY seq DESC
		LIMIT 1`, receiptID).Scan(
		&result.ID, &result.ReceiptID, &result.BestCandidateID, &decision, &result.Score, &result.WeightSet,
		&result.Collision, &breakdown, &alternates, &result.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: match result for receipt %s", common.ErrNotFound, receiptID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match result: %w", err)
	}

	result.Decision = model.Decision(decision)
	if err := json.Unmarshal([]byte(breakdown), &result.Breakdown); err != nil {
		return nil, fmt.Errorf("failed to decode breakdown: %w", err)
	}
	if err := json.Unmarshal([]byte(alternates), &result.Alternates); err != nil {
		return nil, fmt.Errorf("failed to decode alternates: %w", err)
	}
	return &result, nil
}

// SaveDuplicateVerdict records the duplicate check for a document. receiptID
// is empty when the document was not stored.
func (s *SQLiteStorage) SaveDuplicateVerdict(ctx context.Context, contentHash, receiptID string, verdict *model.DuplicateVerdict) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(contentHash, "contentHash"); err != nil {
		return err
	}
	if verdict == nil {
		return fmt.Errorf("%w: verdict", ErrNilParameter)
	}

	payload, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("failed to encode verdict: %w", err)
	}
	checkedAt := verdict.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO duplicate_verdicts (
			content_hash, receipt_id, duplicate_of_id, is_duplicate, needs_review,
			confidence, payload, checked_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		contentHash, receiptID, verdict.DuplicateOfID, verdict.IsDuplicate, verdict.NeedsReview,
		verdict.Confidence, string(payload), checkedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save duplicate verdict: %w", err)
	}
	return nil
}

// SaveClassification appends a classification for a receipt.
func (s *SQLiteStorage) SaveClassification(ctx context.Context, receiptID string, result *model.ClassificationResult) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(receiptID, "receiptID"); err != nil {
		return err
	}
	if err := validateClassification(result); err != nil {
		return err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode classification: %w", err)
	}
	classifiedAt := result.ClassifiedAt
	if classifiedAt.IsZero() {
		classifiedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO classifications (
			receipt_id, business_type, confidence, needs_review, payload, classified_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		receiptID, result.BusinessType, result.Confidence, result.NeedsReview, string(payload), classifiedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save classification: %w", err)
	}
	return nil
}

// LatestClassification returns the most recent classification for a receipt.
func (s *SQLiteStorage) LatestClassification(ctx context.Context, receiptID string) (*model.ClassificationResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(receiptID, "receiptID"); err != nil {
		return nil, err
	}

	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM classifications
		WHERE receipt_id = ?
		ORDER BY id DESC
		LIMIT 1`, receiptID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: classification for receipt %s", common.ErrNotFound, receiptID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get classification: %w", err)
	}

	var result model.ClassificationResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to decode classification: %w", err)
	}
	return &result, nil
}
