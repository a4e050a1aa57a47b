package model

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TransactionCategory drives the date tolerance used when matching.
type TransactionCategory string

// Transaction categories.
const (
	CategoryRetail       TransactionCategory = "retail"
	CategorySubscription TransactionCategory = "subscription"
	CategoryDelivery     TransactionCategory = "delivery"
	CategoryRestaurant   TransactionCategory = "restaurant"
	CategoryOther        TransactionCategory = "other"
)

// ParseTransactionCategory maps a string to a category, defaulting to other.
func ParseTransactionCategory(s string) TransactionCategory {
	switch c := TransactionCategory(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryRetail, CategorySubscription, CategoryDelivery, CategoryRestaurant:
		return c
	default:
		return CategoryOther
	}
}

// DateToleranceDays returns how many days a receipt may drift from the
// ledger date before the date signal starts losing weight.
func (c TransactionCategory) DateToleranceDays() int {
	switch c {
	case CategorySubscription:
		return 7
	case CategoryDelivery:
		return 14
	default:
		return 3
	}
}

// TransactionCandidate is a ledger entry eligible for matching.
// Negative amounts are refunds or credits.
type TransactionCandidate struct {
	Date        Date                `json:"date"`
	Amount      decimal.Decimal     `json:"amount"`
	ID          string              `json:"id"`
	MerchantRaw string              `json:"merchant_raw"`
	AccountID   string              `json:"account_id,omitempty"`
	Source      string              `json:"source,omitempty"`
	Category    TransactionCategory `json:"category"`
}

// ErrMissingCandidateID is returned when a candidate has no identifier.
var ErrMissingCandidateID = errors.New("transaction candidate id is required")

// Validate checks the fields the matcher relies on. Zero amounts and empty
// merchants are degenerate but valid; they score poorly instead of failing.
func (t *TransactionCandidate) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrMissingCandidateID
	}
	return nil
}

// GenerateHash creates a stable hash used to dedupe ledger imports.
func (t *TransactionCandidate) GenerateHash() string {
	data := fmt.Sprintf("%s:%s:%s:%s",
		t.Date.String(),
		t.Amount.StringFixed(2),
		strings.ToLower(t.MerchantRaw),
		t.AccountID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// IsRefund reports whether the candidate moves money back to the account holder.
func (t *TransactionCandidate) IsRefund() bool {
	return t.Amount.IsNegative()
}
