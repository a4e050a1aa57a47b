package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"github.com/Veraticus/the-receipts-must-match/internal/service"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		name    string
		receipt model.ExtractedReceipt
		want    string
	}{
		{
			name:    "purchase",
			receipt: model.ExtractedReceipt{Kind: model.KindPurchase, Amount: decimal.NewNullDecimal(decimal.RequireFromString("52.13"))},
			want:    "$52.13",
		},
		{
			name:    "refund",
			receipt: model.ExtractedReceipt{Kind: model.KindRefund, Amount: decimal.NewNullDecimal(decimal.RequireFromString("4.5"))},
			want:    "-$4.50",
		},
		{
			name:    "missing",
			receipt: model.ExtractedReceipt{Kind: model.KindPurchase},
			want:    notAvailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, FormatAmount(&tt.receipt), tt.want)
		})
	}
}

func TestRenderMatch(t *testing.T) {
	out := RenderMatch(&model.MatchResult{
		Decision:        model.DecisionAutoMatch,
		Score:           0.97,
		BestCandidateID: "txn-1",
		WeightSet:       "exact-amount",
		Breakdown: []model.SignalScore{
			{Signal: model.SignalAmount, Score: 1, Weight: 0.6, Reason: "exact"},
		},
		Alternates: []model.Alternate{{CandidateID: "txn-2", Score: 0.4, Decision: model.DecisionNoMatch}},
	})

	for _, want := range []string{"AUTO_MATCH", "97%", "txn-1", "exact-amount", "amount", "0.60", "txn-2", "NO_MATCH"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "collision margin")
}

func TestRenderVerdict(t *testing.T) {
	dup := RenderVerdict(model.DuplicateVerdict{
		IsDuplicate:   true,
		DuplicateOfID: "r-1",
		Confidence:    1,
		SignalsFired:  []model.DuplicateSignal{model.DupContentHash},
		Matches:       []model.DuplicateMatch{{ReceiptID: "r-1", Confidence: 1, Signals: []model.DuplicateSignal{model.DupContentHash}}},
	})
	assert.Contains(t, dup, "duplicate of r-1")
	assert.Contains(t, dup, "ContentHash")

	review := RenderVerdict(model.DuplicateVerdict{
		NeedsReview:  true,
		Confidence:   0.6,
		SignalsFired: []model.DuplicateSignal{model.DupTextSimilarity},
		Matches:      []model.DuplicateMatch{{ReceiptID: "r-9", Confidence: 0.6, Signals: []model.DuplicateSignal{model.DupTextSimilarity}}},
	})
	assert.Contains(t, review, "possible duplicate")
	assert.Contains(t, review, "r-9")

	assert.Contains(t, RenderVerdict(model.DuplicateVerdict{}), "new receipt")
}

func TestRenderClassification(t *testing.T) {
	out := RenderClassification(&model.ClassificationResult{
		BusinessType: "software",
		Confidence:   0.98,
		Signals: []model.ClassificationSignal{
			{Type: model.SignalMerchantRule, BusinessType: "software", Weight: 0.98, Rationale: "merchant github"},
		},
	})
	assert.Contains(t, out, "software")
	assert.Contains(t, out, "98%")
	assert.Contains(t, out, "merchant_rule")
	assert.NotContains(t, out, "Needs review")

	empty := RenderClassification(&model.ClassificationResult{NeedsReview: true})
	assert.Contains(t, empty, "unclassified")
	assert.Contains(t, empty, "Needs review")
}

func TestRenderStats(t *testing.T) {
	out := RenderStats(service.IngestStats{Processed: 3, Stored: 2, Duplicates: 1, Duration: 1500 * time.Millisecond})
	assert.Contains(t, out, "Processed")
	assert.Contains(t, out, "1.5s")
	assert.NotContains(t, out, "Failed")

	assert.Contains(t, RenderStats(service.IngestStats{Failed: 2}), "Failed")
}

func TestRenderTable(t *testing.T) {
	out := RenderTable([]string{"Alias", "Merchant"}, [][]string{
		{"amzn mktp us", "Amazon"},
		{"sbux", "Starbucks"},
	})
	assert.Contains(t, out, "Alias")
	assert.Contains(t, out, "amzn mktp us")
	assert.Contains(t, out, "Starbucks")

	var rows []string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "Amazon") || strings.Contains(line, "Starbucks") {
			rows = append(rows, line)
		}
	}
	if assert.Len(t, rows, 2) {
		assert.Equal(t, strings.Index(rows[0], "Amazon"), strings.Index(rows[1], "Starbucks"), "columns align")
	}
}
