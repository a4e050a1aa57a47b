package classification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

type identityNormalizer struct{}

func (identityNormalizer) Normalize(raw string) model.NormalizedMerchant {
	return model.NormalizedMerchant{CanonicalName: raw, Method: model.MethodCleaned, Confidence: 0.5}
}

type memoryStore struct {
	mappings    map[string]string
	corrections []*model.Correction
	mu          sync.Mutex
}

func newMemoryStore() *memoryStore {
	return &memoryStore{mappings: make(map[string]string)}
}

func (m *memoryStore) AppendBusinessMapping(_ context.Context, key, businessType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings[key] = businessType
	return nil
}

func (m *memoryStore) BusinessMappings(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.mappings))
	for k, v := range m.mappings {
		out[k] = v
	}
	return out, nil
}

func (m *memoryStore) AppendCorrection(_ context.Context, c *model.Correction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrections = append(m.corrections, c)
	return nil
}

func newTestClassifier(t *testing.T, rules RuleSet, store *memoryStore) *Classifier {
	t.Helper()
	opts := Options{
		Normalizer: identityNormalizer{},
		Now:        func() time.Time { return time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC) },
	}
	if store != nil {
		opts.Store = store
		opts.Corrections = store
	}
	c, err := NewClassifier(rules, opts)
	require.NoError(t, err)
	return c
}

func receiptFor(merchant string, amount string, date model.Date) *model.ExtractedReceipt {
	r := &model.ExtractedReceipt{
		MerchantRaw: merchant,
		Date:        date,
		Kind:        model.KindPurchase,
		ContentHash: "hash",
	}
	if amount != "" {
		r.Amount = decimal.NewNullDecimal(decimal.RequireFromString(amount))
	}
	return r
}

func TestClassify_ExactMerchantRule(t *testing.T) {
	c := newTestClassifier(t, RuleSet{Merchants: map[string]string{"Acme Supply": "consulting"}}, nil)

	result := c.Classify(receiptFor("ACME SUPPLY", "12.00", model.NewDate(2024, 3, 1)), model.ClassificationContext{})

	assert.Equal(t, "consulting", result.BusinessType)
	assert.GreaterOrEqual(t, result.Confidence, 0.98)
	assert.False(t, result.NeedsReview)
	require.Len(t, result.Signals, 1)
	assert.Equal(t, model.SignalMerchantRule, result.Signals[0].Type)
}

func TestClassify_NoEvidence(t *testing.T) {
	c := newTestClassifier(t, RuleSet{}, nil)

	result := c.Classify(receiptFor("Unknown Place", "5.00", model.NewDate(2024, 3, 1)), model.ClassificationContext{})

	assert.Empty(t, result.BusinessType)
	assert.Zero(t, result.Confidence)
	assert.True(t, result.NeedsReview)
	assert.Empty(t, result.Signals)
}

func TestClassify_Review(t *testing.T) {
	tests := []struct {
		name        string
		rules       RuleSet
		sender      string
		wantType    string
		needsReview bool
	}{
		{
			name: "top two within margin",
			rules: RuleSet{
				Merchants: map[string]string{"Acme": "consulting"},
				Domains:   map[string]string{"acme.com": "rental"},
			},
			sender:      "acme.com",
			wantType:    "consulting",
			needsReview: true,
		},
		{
			name: "agreeing signals",
			rules: RuleSet{
				Merchants: map[string]string{"Acme": "consulting"},
				Domains:   map[string]string{"acme.com": "consulting"},
			},
			sender:      "acme.com",
			wantType:    "consulting",
			needsReview: false,
		},
		{
			name: "below review floor",
			rules: RuleSet{
				Keywords: []KeywordRule{{Name: "Weak", BusinessType: "rental", Pattern: `acme`, Confidence: 0.5}},
			},
			wantType:    "rental",
			needsReview: true,
		},
		{
			name: "amount range alone clears the floor",
			rules: RuleSet{
				AmountRanges: []AmountRule{{
					BusinessType: "equipment",
					Amount:       model.AmountCondition{Condition: model.AmountGreaterEqual, Value: decPtr("10")},
				}},
			},
			wantType:    "equipment",
			needsReview: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClassifier(t, tt.rules, nil)
			result := c.Classify(receiptFor("Acme", "25.00", model.NewDate(2024, 3, 1)), model.ClassificationContext{SenderDomain: tt.sender})

			assert.Equal(t, tt.wantType, result.BusinessType)
			assert.Equal(t, tt.needsReview, result.NeedsReview)
		})
	}
}

func TestClassify_SenderDomain(t *testing.T) {
	c := newTestClassifier(t, RuleSet{Domains: map[string]string{"uber.com": "travel"}}, nil)

	for _, sender := range []string{"uber.com", "www.uber.com", "receipts@mail.uber.com", "MAIL.UBER.COM"} {
		result := c.Classify(receiptFor("", "", model.Date{}), model.ClassificationContext{SenderDomain: sender})
		assert.Equal(t, "travel", result.BusinessType, sender)
		assert.InDelta(t, DomainConfidence, result.Confidence, 1e-9, sender)
	}

	result := c.Classify(receiptFor("", "", model.Date{}), model.ClassificationContext{SenderDomain: "notuber.com"})
	assert.Empty(t, result.BusinessType)
}

func TestClassify_Boosts(t *testing.T) {
	rules := RuleSet{
		AmountRanges: []AmountRule{{
			BusinessType: "consulting",
			Amount:       model.AmountCondition{Condition: model.AmountAny},
		}},
	}
	date := model.NewDate(2024, 3, 10)

	tests := []struct {
		name  string
		cctx  model.ClassificationContext
		text  string
		score float64
	}{
		{
			name:  "no context",
			score: AmountConfidence,
		},
		{
			name: "calendar event next day",
			cctx: model.ClassificationContext{CalendarEvents: []model.CalendarEvent{
				{Date: date.AddDays(1), Title: "Client workshop", BusinessType: "consulting"},
			}},
			score: AmountConfidence + CalendarBoost,
		},
		{
			name: "calendar event too far",
			cctx: model.ClassificationContext{CalendarEvents: []model.CalendarEvent{
				{Date: date.AddDays(3), Title: "Client workshop", BusinessType: "consulting"},
			}},
			score: AmountConfidence,
		},
		{
			name: "duplicate events boost once",
			cctx: model.ClassificationContext{CalendarEvents: []model.CalendarEvent{
				{Date: date, Title: "Morning", BusinessType: "consulting"},
				{Date: date, Title: "Evening", BusinessType: "consulting"},
			}},
			score: AmountConfidence + CalendarBoost,
		},
		{
			name: "contact named in text",
			cctx: model.ClassificationContext{Contacts: []model.Contact{
				{Name: "Jane Client", BusinessType: "consulting"},
			}},
			text:  "Lunch with JANE CLIENT",
			score: AmountConfidence + ContactBoost,
		},
		{
			name: "contact domain matches sender",
			cctx: model.ClassificationContext{
				SenderDomain: "billing.client.example",
				Contacts:     []model.Contact{{Name: "Client Co", Domain: "client.example", BusinessType: "consulting"}},
			},
			score: AmountConfidence + ContactBoost,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClassifier(t, rules, nil)
			receipt := receiptFor("Cafe", "30.00", date)
			receipt.Text = tt.text

			result := c.Classify(receipt, tt.cctx)

			assert.Equal(t, "consulting", result.BusinessType)
			assert.InDelta(t, tt.score, result.Confidence, 1e-9)
		})
	}
}

func TestClassify_BoostsCapped(t *testing.T) {
	c := newTestClassifier(t, RuleSet{Merchants: map[string]string{"Acme": "consulting"}}, nil)
	date := model.NewDate(2024, 3, 10)

	result := c.Classify(receiptFor("Acme", "30.00", date), model.ClassificationContext{
		CalendarEvents: []model.CalendarEvent{{Date: date, Title: "Site visit", BusinessType: "consulting"}},
		Contacts:       []model.Contact{{Name: "Acme", BusinessType: "consulting"}},
	})

	assert.Equal(t, 1.0, result.Confidence)
	require.Len(t, result.Signals, 3)
	assert.Equal(t, model.SignalMerchantRule, result.Signals[0].Type)
	for i := 1; i < len(result.Signals); i++ {
		assert.GreaterOrEqual(t, result.Signals[i-1].Weight, result.Signals[i].Weight)
		assert.True(t, result.Signals[i].Type.IsBoost())
	}
}

func TestRecordCorrection(t *testing.T) {
	store := newMemoryStore()
	c := newTestClassifier(t, RuleSet{Merchants: map[string]string{"Acme Supply": "consulting"}}, store)
	ctx := context.Background()

	require.NoError(t, c.RecordCorrection(ctx, "Acme Supply", "rental"))

	result := c.Classify(receiptFor("acme supply", "12.00", model.NewDate(2024, 3, 1)), model.ClassificationContext{})
	assert.Equal(t, "rental", result.BusinessType)
	assert.Equal(t, LearnedConfidence, result.Confidence)
	assert.False(t, result.NeedsReview)
	require.Len(t, result.Signals, 1)
	assert.Equal(t, model.SignalLearned, result.Signals[0].Type)

	assert.Equal(t, map[string]string{"acme supply": "rental"}, store.mappings)
	require.Len(t, store.corrections, 1)
	assert.Equal(t, model.CorrectionBusinessType, store.corrections[0].Kind)
	assert.Equal(t, "Acme Supply", store.corrections[0].RawInput)
	assert.Equal(t, "rental", store.corrections[0].CorrectedOutput)

	// A fresh classifier over the same store picks the mapping up on Load.
	reloaded := newTestClassifier(t, RuleSet{}, store)
	require.NoError(t, reloaded.Load(ctx))
	result = reloaded.Classify(receiptFor("Acme Supply", "", model.Date{}), model.ClassificationContext{})
	assert.Equal(t, "rental", result.BusinessType)

	assert.Error(t, c.RecordCorrection(ctx, "  ", "rental"))
	assert.Error(t, c.RecordCorrection(ctx, "Acme", ""))
}

func TestParseRules(t *testing.T) {
	data := []byte(`
merchants:
  Acme Supply: consulting
domains:
  acme.com: consulting
keywords:
  - name: Hardware
    business_type: equipment
    pattern: '\bthinkpad\b'
    priority: 5
amount_ranges:
  - business_type: equipment
    amount:
      condition: range
      min: "1000"
      max: "5000"
`)
	rules, err := ParseRules(data)
	require.NoError(t, err)
	assert.Equal(t, "consulting", rules.Merchants["Acme Supply"])
	require.Len(t, rules.AmountRanges, 1)
	require.NotNil(t, rules.AmountRanges[0].Amount.Min)
	assert.True(t, rules.AmountRanges[0].Amount.Min.Equal(decimal.NewFromInt(1000)))

	c := newTestClassifier(t, rules, nil)
	receipt := receiptFor("Best Buy", "1499.00", model.NewDate(2024, 3, 1))
	receipt.LineItems = []model.LineItem{{Description: "Lenovo ThinkPad X1", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("1499.00")}}

	result := c.Classify(receipt, model.ClassificationContext{})
	assert.Equal(t, "equipment", result.BusinessType)
	assert.InDelta(t, KeywordConfidence, result.Confidence, 1e-9)
	require.Len(t, result.Signals, 2)
	assert.Equal(t, model.SignalKeyword, result.Signals[0].Type)
	assert.Equal(t, model.SignalAmountRange, result.Signals[1].Type)
}

func TestNewClassifier_InvalidRules(t *testing.T) {
	_, err := NewClassifier(RuleSet{Keywords: []KeywordRule{{Name: "Broken", BusinessType: "x", Pattern: `(unclosed`}}}, Options{Normalizer: identityNormalizer{}})
	assert.Error(t, err)

	_, err = NewClassifier(RuleSet{Merchants: map[string]string{"Acme": ""}}, Options{Normalizer: identityNormalizer{}})
	assert.Error(t, err)
}

func TestDefaultRules(t *testing.T) {
	c, err := NewClassifier(DefaultRules().Merge(RuleSet{Merchants: map[string]string{"Delta": "consulting"}}), Options{Normalizer: identityNormalizer{}})
	require.NoError(t, err)

	result := c.Classify(receiptFor("GitHub", "21.00", model.NewDate(2024, 3, 1)), model.ClassificationContext{})
	assert.Equal(t, "software", result.BusinessType)

	result = c.Classify(receiptFor("Delta", "420.00", model.NewDate(2024, 3, 1)), model.ClassificationContext{})
	assert.Equal(t, "consulting", result.BusinessType)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
