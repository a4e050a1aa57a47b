package model

import "time"

// DuplicateSignal names an independent duplicate-detection signal.
type DuplicateSignal string

// Duplicate signals.
const (
	DupContentHash    DuplicateSignal = "ContentHash"
	DupPerceptualHash DuplicateSignal = "PerceptualHash"
	DupMetadata       DuplicateSignal = "Metadata"
	DupOrderNumber    DuplicateSignal = "OrderNumber"
	DupTextSimilarity DuplicateSignal = "TextSimilarity"
)

// DuplicateMatch records the signals one stored receipt fired.
type DuplicateMatch struct {
	ReceiptID  string            `json:"receipt_id"`
	Signals    []DuplicateSignal `json:"signals"`
	Confidence float64           `json:"confidence"`
}

// DuplicateVerdict is the aggregated answer to "is this receipt already on file?".
type DuplicateVerdict struct {
	CheckedAt     time.Time         `json:"checked_at"`
	DuplicateOfID string            `json:"duplicate_of_id,omitempty"`
	SignalsFired  []DuplicateSignal `json:"signals_fired,omitempty"`
	Matches       []DuplicateMatch  `json:"matches,omitempty"`
	Confidence    float64           `json:"confidence"`
	IsDuplicate   bool              `json:"is_duplicate"`
	NeedsReview   bool              `json:"needs_review"`
}

// Fired reports whether the given signal contributed to the verdict.
func (v *DuplicateVerdict) Fired(signal DuplicateSignal) bool {
	for _, s := range v.SignalsFired {
		if s == signal {
			return true
		}
	}
	return false
}
