package model

import "time"

// CorrectionKind says which learning loop a correction feeds.
type CorrectionKind string

// Correction kinds.
const (
	CorrectionMerchantAlias CorrectionKind = "merchant_alias"
	CorrectionBusinessType  CorrectionKind = "business_type"
)

// Correction is an append-only record of a user overriding an automated decision.
type Correction struct {
	CreatedAt       time.Time      `json:"created_at"`
	Kind            CorrectionKind `json:"kind"`
	RawInput        string         `json:"raw_input"`
	CorrectedOutput string         `json:"corrected_output"`
	ID              int64          `json:"id,omitempty"`
}

// DecisionRecord is the full outcome of ingesting one document.
type DecisionRecord struct {
	CreatedAt      time.Time             `json:"created_at"`
	Receipt        ExtractedReceipt      `json:"receipt"`
	Match          *MatchResult          `json:"match,omitempty"`
	Classification *ClassificationResult `json:"classification,omitempty"`
	Verdict        DuplicateVerdict      `json:"verdict"`
	ReceiptID      string                `json:"receipt_id"`
	Merchant       NormalizedMerchant    `json:"merchant"`
	Stored         bool                  `json:"stored"`
}
