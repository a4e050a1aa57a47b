// Package storage provides the SQLite persistence layer for receipts, the
// ledger, learning logs and decision records.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"github.com/Veraticus/the-receipts-must-match/internal/service"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrEmptySlice         = errors.New("slice cannot be empty")
	ErrInvalidReceipt     = errors.New("invalid receipt")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidDecision    = errors.New("invalid decision record")
	ErrInvalidDateRange   = errors.New("window must not be negative")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateReceiptRecord(record *service.ReceiptRecord) error {
	if record == nil {
		return fmt.Errorf("%w: receipt", ErrNilParameter)
	}
	if err := record.Receipt.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidReceipt, err)
	}
	return nil
}

// validateCandidates validates a slice of ledger transactions.
func validateCandidates(candidates []model.TransactionCandidate) error {
	if candidates == nil {
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	}
	if len(candidates) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}
	for i := range candidates {
		if err := candidates[i].Validate(); err != nil {
			return fmt.Errorf("transaction at index %d: %w: %w", i, ErrInvalidTransaction, err)
		}
		if candidates[i].Date.IsZero() {
			return fmt.Errorf("transaction at index %d: %w: missing date", i, ErrInvalidTransaction)
		}
	}
	return nil
}

func validateMatchResult(result *model.MatchResult) error {
	if result == nil {
		return fmt.Errorf("%w: match result", ErrNilParameter)
	}
	if result.ID == "" || result.ReceiptID == "" {
		return fmt.Errorf("%w: match result needs an id and receipt id", ErrInvalidDecision)
	}
	switch result.Decision {
	case model.DecisionAutoMatch, model.DecisionNeedsReview, model.DecisionNoMatch:
	default:
		return fmt.Errorf("%w: unknown decision %q", ErrInvalidDecision, result.Decision)
	}
	return nil
}

func validateClassification(result *model.ClassificationResult) error {
	if result == nil {
		return fmt.Errorf("%w: classification", ErrNilParameter)
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidDecision)
	}
	return nil
}
