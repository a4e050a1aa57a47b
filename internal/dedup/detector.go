// Package dedup decides whether a newly ingested receipt re-submits one that
// is already on file.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/merchant"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

// Signal confidences.
const (
	contentHashConfidence = 1.0
	metadataConfidence    = 0.90
	longOrderConfidence   = 0.95
	shortOrderConfidence  = 0.90
	longOrderLength       = 8
	metadataDateDays      = 3
	minTextTokens         = 5
)

var metadataAmountTolerance = decimal.RequireFromString("0.01")

// Thresholds tune the detector.
type Thresholds struct {
	Acceptance         float64
	MaxHammingDistance int
	TextSimilarity     float64
}

// DefaultThresholds returns the standard thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Acceptance: 0.85, MaxHammingDistance: 8, TextSimilarity: 0.85}
}

// Probe is the receipt being checked.
type Probe struct {
	PerceptualHash    *uint64
	ID                string
	MerchantCanonical string
	Receipt           model.ExtractedReceipt
}

// Corpus lists the receipts already on file.
type Corpus interface {
	StoredReceipts(ctx context.Context) ([]model.StoredReceipt, error)
}

// Detector combines independent duplicate signals by taking their maximum.
type Detector struct {
	logger     *slog.Logger
	now        func() time.Time
	thresholds Thresholds
}

// NewDetector creates a detector. Zero thresholds fall back to defaults.
func NewDetector(thresholds Thresholds, logger *slog.Logger) *Detector {
	def := DefaultThresholds()
	if thresholds.Acceptance <= 0 {
		thresholds.Acceptance = def.Acceptance
	}
	if thresholds.MaxHammingDistance <= 0 {
		thresholds.MaxHammingDistance = def.MaxHammingDistance
	}
	if thresholds.TextSimilarity <= 0 {
		thresholds.TextSimilarity = def.TextSimilarity
	}
	return &Detector{
		logger:     common.ComponentLogger(logger, "dedup"),
		now:        time.Now,
		thresholds: thresholds,
	}
}

// FindDuplicates loads the corpus and checks probe against it.
func (d *Detector) FindDuplicates(ctx context.Context, probe Probe, corpus Corpus) (model.DuplicateVerdict, error) {
	stored, err := corpus.StoredReceipts(ctx)
	if err != nil {
		return model.DuplicateVerdict{}, fmt.Errorf("failed to load receipt corpus: %w", err)
	}
	return d.Check(probe, stored), nil
}

// Check compares probe with every stored receipt except itself.
func (d *Detector) Check(probe Probe, stored []model.StoredReceipt) model.DuplicateVerdict {
	verdict := model.DuplicateVerdict{CheckedAt: d.now()}

	probeText := tokens(probe.Receipt.Text)
	probeOrder := NormalizeOrderNumber(probe.Receipt.OrderNumber)

	for i := range stored {
		s := &stored[i]
		if probe.ID != "" && s.ID == probe.ID {
			continue
		}
		if m, ok := d.compare(probe, probeText, probeOrder, s); ok {
			verdict.Matches = append(verdict.Matches, m)
		}
	}
	if len(verdict.Matches) == 0 {
		return verdict
	}

	sort.SliceStable(verdict.Matches, func(i, j int) bool {
		a, b := verdict.Matches[i], verdict.Matches[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.ReceiptID < b.ReceiptID
	})

	top := verdict.Matches[0]
	verdict.Confidence = top.Confidence
	verdict.SignalsFired = top.Signals
	if top.Confidence >= d.thresholds.Acceptance {
		verdict.IsDuplicate = true
		verdict.DuplicateOfID = top.ReceiptID
	} else {
		verdict.NeedsReview = true
	}

	d.logger.Debug("duplicate check",
		"receipt_id", probe.ID,
		"content_hash", probe.Receipt.ContentHash,
		"is_duplicate", verdict.IsDuplicate,
		"confidence", verdict.Confidence,
		"matches", len(verdict.Matches))
	return verdict
}

func (d *Detector) compare(probe Probe, probeText []string, probeOrder string, s *model.StoredReceipt) (model.DuplicateMatch, bool) {
	m := model.DuplicateMatch{ReceiptID: s.ID}
	fire := func(signal model.DuplicateSignal, confidence float64) {
		m.Signals = append(m.Signals, signal)
		m.Confidence = math.Max(m.Confidence, confidence)
	}

	if probe.Receipt.ContentHash != "" && probe.Receipt.ContentHash == s.ContentHash {
		fire(model.DupContentHash, contentHashConfidence)
	}

	if probe.PerceptualHash != nil && s.HasPerceptualHash {
		if dist := HammingDistance(*probe.PerceptualHash, s.PerceptualHash); dist <= d.thresholds.MaxHammingDistance {
			fire(model.DupPerceptualHash, perceptualConfidence(dist, d.thresholds.MaxHammingDistance))
		}
	}

	if metadataMatches(probe, s) {
		fire(model.DupMetadata, metadataConfidence)
	}

	if probeOrder != "" && probeOrder == NormalizeOrderNumber(s.OrderNumber) {
		if len(probeOrder) >= longOrderLength {
			fire(model.DupOrderNumber, longOrderConfidence)
		} else {
			fire(model.DupOrderNumber, shortOrderConfidence)
		}
	}

	if len(probeText) >= minTextTokens {
		storedText := tokens(s.Text)
		if len(storedText) >= minTextTokens {
			if ratio := difflib.NewMatcher(probeText, storedText).Ratio(); ratio >= d.thresholds.TextSimilarity {
				fire(model.DupTextSimilarity, ratio)
			}
		}
	}

	return m, len(m.Signals) > 0
}

// perceptualConfidence scales from 0.98 at distance 0 down to 0.80 at the
// maximum accepted distance.
func perceptualConfidence(distance, maxDistance int) float64 {
	return 0.98 - 0.18*float64(distance)/float64(maxDistance)
}

// metadataMatches never pairs a refund with a purchase: both carry the same
// merchant and amount by construction.
func metadataMatches(probe Probe, s *model.StoredReceipt) bool {
	if kindOf(probe.Receipt.Kind) != kindOf(s.Kind) {
		return false
	}
	pm, sm := merchant.Key(probe.MerchantCanonical), merchant.Key(s.MerchantCanonical)
	if pm == "" || pm != sm {
		return false
	}
	if !probe.Receipt.Amount.Valid || !s.Amount.Valid {
		return false
	}
	if probe.Receipt.Date.IsZero() || s.Date.IsZero() {
		return false
	}

	a, b := probe.Receipt.Amount.Decimal, s.Amount.Decimal
	larger := decimal.Max(a.Abs(), b.Abs())
	if !larger.IsZero() && a.Sub(b).Abs().GreaterThan(larger.Mul(metadataAmountTolerance)) {
		return false
	}

	days := model.DaysBetween(probe.Receipt.Date, s.Date)
	return days <= metadataDateDays && days >= -metadataDateDays
}

func kindOf(k model.ReceiptKind) model.ReceiptKind {
	if k == "" {
		return model.KindPurchase
	}
	return k
}

// NormalizeOrderNumber upper-cases an order number and drops separators.
func NormalizeOrderNumber(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func tokens(text string) []string {
	return strings.Fields(strings.ToLower(text))
}
