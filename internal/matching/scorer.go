// Package matching scores receipts against ledger transactions and decides
// which, if any, transaction a receipt documents.
package matching

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-receipts-must-match/internal/merchant"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

// Normalizer resolves merchant strings to canonical names.
type Normalizer interface {
	Normalize(raw string) model.NormalizedMerchant
}

// WeightSet is one row of the weight decision table.
type WeightSet struct {
	Name     string
	Amount   float64
	Merchant float64
	Date     float64
}

// Named weight sets.
var (
	WeightsExactAmount    = WeightSet{Name: "exact-amount", Amount: 0.60, Merchant: 0.30, Date: 0.10}
	WeightsStrongMerchant = WeightSet{Name: "strong-merchant", Amount: 0.45, Merchant: 0.40, Date: 0.15}
	WeightsBalanced       = WeightSet{Name: "balanced", Amount: 0.50, Merchant: 0.35, Date: 0.15}
)

// StrongMerchantSimilarity selects the strong-merchant weights.
const StrongMerchantSimilarity = 0.80

type weightRule struct {
	applies func(amountExact bool, merchantSimilarity float64) bool
	weights WeightSet
}

// weightTable is evaluated top to bottom; the first matching row wins.
var weightTable = []weightRule{
	{
		applies: func(amountExact bool, _ float64) bool { return amountExact },
		weights: WeightsExactAmount,
	},
	{
		applies: func(_ bool, sim float64) bool { return sim >= StrongMerchantSimilarity },
		weights: WeightsStrongMerchant,
	},
	{
		applies: func(bool, float64) bool { return true },
		weights: WeightsBalanced,
	},
}

func selectWeights(amountExact bool, merchantSimilarity float64) WeightSet {
	for _, rule := range weightTable {
		if rule.applies(amountExact, merchantSimilarity) {
			return rule.weights
		}
	}
	return WeightsBalanced
}

var (
	penny          = decimal.RequireFromString("0.01")
	closeBand      = decimal.NewFromInt(2)
	exactRelative  = 0.01
	tailRelative   = 0.05
	restaurantBand = 0.25
)

// Scored is one candidate with its weighted score and breakdown.
type Scored struct {
	Candidate model.TransactionCandidate
	Weights   WeightSet
	Breakdown []model.SignalScore
	Score     float64
}

// Scorer computes weighted match scores. It holds no mutable state.
type Scorer struct {
	normalizer Normalizer
}

// NewScorer creates a scorer. A nil normalizer uses the default chain table.
func NewScorer(normalizer Normalizer) *Scorer {
	if normalizer == nil {
		normalizer = merchant.NewNormalizer(nil, merchant.Options{})
	}
	return &Scorer{normalizer: normalizer}
}

// ScoreAll scores every candidate against the receipt, in input order.
func (s *Scorer) ScoreAll(receipt *model.ExtractedReceipt, candidates []model.TransactionCandidate) []Scored {
	receiptMerchant := s.normalizer.Normalize(receipt.MerchantRaw).CanonicalName
	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		out[i] = s.score(receipt, receiptMerchant, c)
	}
	return out
}

// Score scores a single candidate.
func (s *Scorer) Score(receipt *model.ExtractedReceipt, candidate model.TransactionCandidate) Scored {
	return s.score(receipt, s.normalizer.Normalize(receipt.MerchantRaw).CanonicalName, candidate)
}

func (s *Scorer) score(receipt *model.ExtractedReceipt, receiptMerchant string, c model.TransactionCandidate) Scored {
	amount, exact := AmountScore(receipt, c)
	merchantScore := s.merchantScore(receiptMerchant, c)
	date := DateScore(receipt.Date, c)

	weights := selectWeights(exact, merchantScore.Score)
	amount.Weight = weights.Amount
	merchantScore.Weight = weights.Merchant
	date.Weight = weights.Date

	total := amount.Score*amount.Weight + merchantScore.Score*merchantScore.Weight + date.Score*date.Weight
	return Scored{
		Candidate: c,
		Weights:   weights,
		Breakdown: []model.SignalScore{amount, merchantScore, date},
		Score:     clamp01(total),
	}
}

func (s *Scorer) merchantScore(receiptMerchant string, c model.TransactionCandidate) model.SignalScore {
	candidateMerchant := s.normalizer.Normalize(c.MerchantRaw).CanonicalName
	if receiptMerchant == "" || candidateMerchant == "" {
		return model.SignalScore{Signal: model.SignalMerchant, Reason: "merchant missing"}
	}
	sim := merchant.Similarity(receiptMerchant, candidateMerchant)
	return model.SignalScore{
		Signal: model.SignalMerchant,
		Score:  sim,
		Reason: fmt.Sprintf("%q vs %q (%.2f)", receiptMerchant, candidateMerchant, sim),
	}
}

// AmountScore scores the amount signal. The second result reports whether
// the amounts agree within a cent, which selects the exact-amount weights.
func AmountScore(receipt *model.ExtractedReceipt, c model.TransactionCandidate) (model.SignalScore, bool) {
	out := model.SignalScore{Signal: model.SignalAmount}

	r, ok := receipt.SignedAmount()
	switch {
	case !ok:
		out.Reason = "receipt has no amount"
		return out, false
	case c.Amount.IsZero():
		out.Reason = "transaction amount is zero"
		return out, false
	case r.IsZero():
		out.Reason = "receipt amount is zero"
		return out, false
	case r.Sign() != c.Amount.Sign():
		out.Reason = fmt.Sprintf("opposite signs (%s vs %s)", r.StringFixed(2), c.Amount.StringFixed(2))
		return out, false
	}

	diff := r.Abs().Sub(c.Amount.Abs()).Abs()
	rel, _ := diff.Div(c.Amount.Abs()).Float64()
	pair := fmt.Sprintf("$%s vs $%s", r.Abs().StringFixed(2), c.Amount.Abs().StringFixed(2))
	exact := diff.LessThanOrEqual(penny)

	if exact || rel <= exactRelative {
		out.Score = 1
		out.Reason = "amounts within 1% (" + pair + ")"
		return out, exact
	}

	best, reason := 0.0, "amounts differ by more than every band ("+pair+")"
	if diff.LessThanOrEqual(closeBand) {
		d, _ := diff.Float64()
		if v := 0.9 - 0.3*(d/2); v > best {
			best, reason = v, "amounts within $2 ("+pair+")"
		}
	}
	if c.Category == model.CategoryRestaurant && rel <= restaurantBand {
		if v := 0.85 - 0.35*(rel/restaurantBand); v > best {
			best, reason = v, "restaurant amount within 25%, tip likely ("+pair+")"
		}
	}
	if rel <= tailRelative {
		if v := 0.5 * (1 - rel/tailRelative); v > best {
			best, reason = v, "amounts within 5% ("+pair+")"
		}
	}

	out.Score = clamp01(best)
	out.Reason = reason
	return out, false
}

// DateScore decays linearly from 1 on the same day to 0 at twice the
// candidate category's tolerance.
func DateScore(receiptDate model.Date, c model.TransactionCandidate) model.SignalScore {
	out := model.SignalScore{Signal: model.SignalDate}
	if receiptDate.IsZero() || c.Date.IsZero() {
		out.Reason = "date missing"
		return out
	}

	days := model.DaysBetween(receiptDate, c.Date)
	if days < 0 {
		days = -days
	}
	tolerance := c.Category.DateToleranceDays()
	out.Score = math.Max(0, 1-float64(days)/float64(2*tolerance))
	out.Reason = fmt.Sprintf("%d day(s) apart, %s tolerance %d day(s)", days, c.Category, tolerance)
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
