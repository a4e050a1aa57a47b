// Package model defines the core domain models used throughout the application.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ReceiptKind tells whether a receipt documents a purchase or a refund.
// Receipt amounts are always non-negative; the kind is the only sign carrier.
type ReceiptKind string

// Receipt kinds.
const (
	KindPurchase ReceiptKind = "purchase"
	KindRefund   ReceiptKind = "refund"
)

// LineItem is a single purchased item on a receipt.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Total returns quantity * unit price.
func (l LineItem) Total() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// ExtractedReceipt is the structured output of one extraction attempt.
// It is never mutated after creation; re-extraction produces a new value.
type ExtractedReceipt struct {
	ExtractedAt time.Time           `json:"extracted_at"`
	Date        Date                `json:"date"`
	Amount      decimal.NullDecimal `json:"amount"`
	MerchantRaw string              `json:"merchant_raw"`
	Kind        ReceiptKind         `json:"kind"`
	OrderNumber string              `json:"order_number,omitempty"`
	Currency    string              `json:"currency,omitempty"`
	Text        string              `json:"text,omitempty"`
	Provider    string              `json:"provider"`
	ContentHash string              `json:"content_hash"`
	LineItems   []LineItem          `json:"line_items,omitempty"`
	Confidence  float64             `json:"confidence"`
}

// Errors returned by ExtractedReceipt.Validate.
var (
	ErrNegativeAmount     = errors.New("receipt amount must not be negative")
	ErrConfidenceRange    = errors.New("confidence must be between 0 and 1")
	ErrMissingHash        = errors.New("content hash is required")
	ErrUnknownReceiptKind = errors.New("unknown receipt kind")
)

// Validate checks the receipt invariants.
func (r *ExtractedReceipt) Validate() error {
	if r.Amount.Valid && r.Amount.Decimal.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativeAmount, r.Amount.Decimal.StringFixed(2))
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: %.2f", ErrConfidenceRange, r.Confidence)
	}
	if r.ContentHash == "" {
		return ErrMissingHash
	}
	switch r.Kind {
	case KindPurchase, KindRefund:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownReceiptKind, r.Kind)
	}
	return nil
}

// HasAmount reports whether an amount was extracted.
func (r *ExtractedReceipt) HasAmount() bool {
	return r.Amount.Valid
}

// SignedAmount returns the amount with refund receipts negated.
// The second value is false when no amount was extracted.
func (r *ExtractedReceipt) SignedAmount() (decimal.Decimal, bool) {
	if !r.Amount.Valid {
		return decimal.Zero, false
	}
	if r.Kind == KindRefund {
		return r.Amount.Decimal.Neg(), true
	}
	return r.Amount.Decimal, true
}

// Clone returns a deep copy so callers cannot alias cached state.
func (r ExtractedReceipt) Clone() ExtractedReceipt {
	if r.LineItems != nil {
		items := make([]LineItem, len(r.LineItems))
		copy(items, r.LineItems)
		r.LineItems = items
	}
	return r
}

// StoredReceipt is the corpus view of a persisted receipt used for duplicate scanning.
type StoredReceipt struct {
	CreatedAt         time.Time
	Date              Date
	Amount            decimal.NullDecimal
	ID                string
	Kind              ReceiptKind
	ContentHash       string
	MerchantRaw       string
	MerchantCanonical string
	OrderNumber       string
	Text              string
	BusinessType      string
	PerceptualHash    uint64
	HasPerceptualHash bool
}
