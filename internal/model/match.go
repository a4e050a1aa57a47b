package model

import "time"

// Decision is the outcome tier of a match attempt.
type Decision string

// Match decisions.
const (
	DecisionAutoMatch   Decision = "AUTO_MATCH"
	DecisionNeedsReview Decision = "NEEDS_REVIEW"
	DecisionNoMatch     Decision = "NO_MATCH"
)

// MatchSignal names one scored dimension of a receipt/transaction pair.
type MatchSignal string

// Match signals.
const (
	SignalAmount   MatchSignal = "amount"
	SignalMerchant MatchSignal = "merchant"
	SignalDate     MatchSignal = "date"
)

// SignalScore is one row of a match breakdown.
type SignalScore struct {
	Signal MatchSignal `json:"signal"`
	Reason string      `json:"reason"`
	Score  float64     `json:"score"`
	Weight float64     `json:"weight"`
}

// Alternate is a ranked candidate disclosed alongside the best match.
type Alternate struct {
	CandidateID string   `json:"candidate_id"`
	Decision    Decision `json:"decision"`
	Score       float64  `json:"score"`
}

// MatchResult is the outcome of matching one receipt against a candidate set.
// A new result supersedes an old one; results are never edited in place.
type MatchResult struct {
	CreatedAt       time.Time     `json:"created_at"`
	ID              string        `json:"id"`
	ReceiptID       string        `json:"receipt_id,omitempty"`
	BestCandidateID string        `json:"best_candidate_id,omitempty"`
	WeightSet       string        `json:"weight_set,omitempty"`
	Decision        Decision      `json:"decision"`
	Breakdown       []SignalScore `json:"breakdown,omitempty"`
	Alternates      []Alternate   `json:"alternates,omitempty"`
	Score           float64       `json:"score"`
	Collision       bool          `json:"collision,omitempty"`
}

// HasBest reports whether a candidate was selected. NoMatch results have none.
func (m *MatchResult) HasBest() bool {
	return m.BestCandidateID != ""
}

// SignalScoreFor returns the breakdown entry for a signal, if present.
func (m *MatchResult) SignalScoreFor(signal MatchSignal) (SignalScore, bool) {
	for _, s := range m.Breakdown {
		if s.Signal == signal {
			return s, true
		}
	}
	return SignalScore{}, false
}
