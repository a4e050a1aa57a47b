package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

// AppendMerchantAlias adds an entry to the merchant alias log.
func (s *SQLiteStorage) AppendMerchantAlias(ctx context.Context, alias model.MerchantAlias) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(alias.Alias, "alias"); err != nil {
		return err
	}
	if err := validateString(alias.Canonical, "canonical"); err != nil {
		return err
	}
	if alias.CreatedAt.IsZero() {
		alias.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merchant_aliases (alias, canonical, source, created_at)
		VALUES (?, ?, ?, ?)`,
		alias.Alias, alias.Canonical, alias.Source, alias.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append merchant alias: %w", err)
	}
	return nil
}

// MerchantAliases returns the alias log in insertion order.
func (s *SQLiteStorage) MerchantAliases(ctx context.Context) ([]model.MerchantAlias, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT alias, canonical, source, created_at
		FROM merchant_aliases
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query merchant aliases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.MerchantAlias
	for rows.Next() {
		var a model.MerchantAlias
		if err := rows.Scan(&a.Alias, &a.Canonical, &a.Source, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan merchant alias: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating merchant aliases: %w", err)
	}
	return out, nil
}

// AppendBusinessMapping records that a merchant belongs to a business type.
func (s *SQLiteStorage) AppendBusinessMapping(ctx context.Context, merchantKey, businessType string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(merchantKey, "merchantKey"); err != nil {
		return err
	}
	if err := validateString(businessType, "businessType"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO business_mappings (merchant_key, business_type) VALUES (?, ?)`,
		merchantKey, businessType,
	)
	if err != nil {
		return fmt.Errorf("failed to append business mapping: %w", err)
	}
	return nil
}

// BusinessMappings folds the mapping log into its current state; later
// entries for the same merchant win.
func (s *SQLiteStorage) BusinessMappings(ctx context.Context) (map[string]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT merchant_key, business_type FROM business_mappings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query business mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var key, businessType string
		if err := rows.Scan(&key, &businessType); err != nil {
			return nil, fmt.Errorf("failed to scan business mapping: %w", err)
		}
		out[key] = businessType
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating business mappings: %w", err)
	}
	return out, nil
}

// AppendCorrection adds an entry to the correction log and sets its ID.
func (s *SQLiteStorage) AppendCorrection(ctx context.Context, correction *model.Correction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if correction == nil {
		return fmt.Errorf("%w: correction", ErrNilParameter)
	}
	if err := validateString(correction.RawInput, "rawInput"); err != nil {
		return err
	}
	if correction.CreatedAt.IsZero() {
		correction.CreatedAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO corrections (kind, raw_input, corrected_output, created_at)
		VALUES (?, ?, ?, ?)`,
		string(correction.Kind), correction.RawInput, correction.CorrectedOutput, correction.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append correction: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		correction.ID = id
	}
	return nil
}

// Corrections returns the correction log, optionally filtered by kind.
func (s *SQLiteStorage) Corrections(ctx context.Context, kind model.CorrectionKind) ([]model.Correction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, raw_input, corrected_output, created_at
		FROM corrections
		WHERE ? = '' OR kind = ?
		ORDER BY id`, string(kind), string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query corrections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Correction
	for rows.Next() {
		var c model.Correction
		var k string
		if err := rows.Scan(&c.ID, &k, &c.RawInput, &c.CorrectedOutput, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan correction: %w", err)
		}
		c.Kind = model.CorrectionKind(k)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating corrections: %w", err)
	}
	return out, nil
}
