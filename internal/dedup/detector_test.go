package dedup

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

const receiptText = "blue bottle coffee 300 webster st oakland latte 5.50 croissant 4.25 subtotal 9.75 tax 0.85 total 10.60 thank you"

func stored(id string, mutate func(*model.StoredReceipt)) model.StoredReceipt {
	s := model.StoredReceipt{
		ID:                id,
		ContentHash:       "hash-" + id,
		MerchantCanonical: "Blue Bottle",
		Kind:              model.KindPurchase,
		Amount:            decimal.NewNullDecimal(decimal.RequireFromString("10.60")),
		Date:              model.NewDate(2024, 6, 10),
	}
	if mutate != nil {
		mutate(&s)
	}
	return s
}

func probe(mutate func(*Probe)) Probe {
	p := Probe{
		ID:                "new",
		MerchantCanonical: "Blue Bottle",
		Receipt: model.ExtractedReceipt{
			ContentHash: "hash-new",
			Amount:      decimal.NewNullDecimal(decimal.RequireFromString("10.60")),
			Date:        model.NewDate(2024, 6, 10),
			Kind:        model.KindPurchase,
		},
	}
	if mutate != nil {
		mutate(&p)
	}
	return p
}

func TestCheck_ContentHashIsConclusive(t *testing.T) {
	d := NewDetector(DefaultThresholds(), nil)

	v := d.Check(
		probe(func(p *Probe) { p.Receipt.ContentHash = "abc"; p.MerchantCanonical = "" }),
		[]model.StoredReceipt{stored("old", func(s *model.StoredReceipt) { s.ContentHash = "abc" })},
	)

	assert.True(t, v.IsDuplicate)
	assert.Equal(t, "old", v.DuplicateOfID)
	assert.InDelta(t, 1.0, v.Confidence, 1e-9)
	assert.True(t, v.Fired(model.DupContentHash))
	assert.False(t, v.NeedsReview)
}

func TestCheck_Signals(t *testing.T) {
	near := uint64(0xF0F0F0F0F0F0F0F0)
	threeBitsOff := near ^ 0b111
	farHash := ^near

	tests := []struct {
		name          string
		probe         Probe
		stored        model.StoredReceipt
		wantSignal    model.DuplicateSignal
		wantDuplicate bool
		wantReview    bool
		wantConf      float64
	}{
		{
			name:          "metadata",
			probe:         probe(nil),
			stored:        stored("old", nil),
			wantSignal:    model.DupMetadata,
			wantDuplicate: true,
			wantConf:      0.90,
		},
		{
			name:          "metadata needs the same merchant",
			probe:         probe(func(p *Probe) { p.MerchantCanonical = "Starbucks" }),
			stored:        stored("old", nil),
			wantSignal:    "",
			wantDuplicate: false,
		},
		{
			name:          "metadata tolerates three days",
			probe:         probe(func(p *Probe) { p.Receipt.Date = model.NewDate(2024, 6, 13) }),
			stored:        stored("old", nil),
			wantSignal:    model.DupMetadata,
			wantDuplicate: true,
			wantConf:      0.90,
		},
		{
			name: "refund is not a metadata duplicate of its purchase",
			probe: probe(func(p *Probe) {
				p.Receipt.Kind = model.KindRefund
				p.Receipt.Date = model.NewDate(2024, 6, 12)
			}),
			stored:        stored("old", nil),
			wantSignal:    "",
			wantDuplicate: false,
		},
		{
			name:          "refund resubmitted",
			probe:         probe(func(p *Probe) { p.Receipt.Kind = model.KindRefund }),
			stored:        stored("old", func(s *model.StoredReceipt) { s.Kind = model.KindRefund }),
			wantSignal:    model.DupMetadata,
			wantDuplicate: true,
			wantConf:      0.90,
		},
		{
			name:          "stored receipt without a kind counts as a purchase",
			probe:         probe(nil),
			stored:        stored("old", func(s *model.StoredReceipt) { s.Kind = "" }),
			wantSignal:    model.DupMetadata,
			wantDuplicate: true,
			wantConf:      0.90,
		},
		{
			name: "same file is a duplicate whatever the kind",
			probe: probe(func(p *Probe) {
				p.Receipt.Kind = model.KindRefund
				p.Receipt.ContentHash = "hash-old"
			}),
			stored:        stored("old", nil),
			wantSignal:    model.DupContentHash,
			wantDuplicate: true,
			wantConf:      1.0,
		},
		{
			name: "long order number",
			probe: probe(func(p *Probe) {
				p.MerchantCanonical = ""
				p.Receipt.OrderNumber = "112-5551234-0001"
			}),
			stored:        stored("old", func(s *model.StoredReceipt) { s.OrderNumber = "1125551234 0001" }),
			wantSignal:    model.DupOrderNumber,
			wantDuplicate: true,
			wantConf:      0.95,
		},
		{
			name: "short order number",
			probe: probe(func(p *Probe) {
				p.MerchantCanonical = ""
				p.Receipt.OrderNumber = "a-991"
			}),
			stored:        stored("old", func(s *model.StoredReceipt) { s.OrderNumber = "A991" }),
			wantSignal:    model.DupOrderNumber,
			wantDuplicate: true,
			wantConf:      0.90,
		},
		{
			name: "perceptual hash",
			probe: probe(func(p *Probe) {
				p.MerchantCanonical = ""
				p.PerceptualHash = &threeBitsOff
			}),
			stored: stored("old", func(s *model.StoredReceipt) {
				s.PerceptualHash = near
				s.HasPerceptualHash = true
			}),
			wantSignal:    model.DupPerceptualHash,
			wantDuplicate: true,
			wantConf:      0.98 - 0.18*3.0/8.0,
		},
		{
			name: "perceptual hash too far",
			probe: probe(func(p *Probe) {
				p.MerchantCanonical = ""
				p.PerceptualHash = &farHash
			}),
			stored: stored("old", func(s *model.StoredReceipt) {
				s.PerceptualHash = near
				s.HasPerceptualHash = true
			}),
			wantDuplicate: false,
		},
		{
			name: "text similarity",
			probe: probe(func(p *Probe) {
				p.MerchantCanonical = ""
				p.Receipt.Text = receiptText
			}),
			stored: stored("old", func(s *model.StoredReceipt) {
				s.Text = receiptText + " visit again"
			}),
			wantSignal:    model.DupTextSimilarity,
			wantDuplicate: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(DefaultThresholds(), nil)
			v := d.Check(tt.probe, []model.StoredReceipt{tt.stored})

			assert.Equal(t, tt.wantDuplicate, v.IsDuplicate)
			if tt.wantSignal == "" {
				assert.Empty(t, v.SignalsFired)
				assert.False(t, v.NeedsReview)
				return
			}
			assert.True(t, v.Fired(tt.wantSignal), "signals: %v", v.SignalsFired)
			if tt.wantConf > 0 {
				assert.InDelta(t, tt.wantConf, v.Confidence, 1e-9)
			}
		})
	}
}

func TestCheck_MaxAggregationAndReview(t *testing.T) {
	d := NewDetector(DefaultThresholds(), nil)
	p := probe(func(p *Probe) { p.Receipt.OrderNumber = "A991" })

	v := d.Check(p, []model.StoredReceipt{
		stored("b", nil),
		stored("a", func(s *model.StoredReceipt) { s.OrderNumber = "A991" }),
	})

	require.Len(t, v.Matches, 2)
	assert.Equal(t, "a", v.Matches[0].ReceiptID, "ties ordered by id")
	assert.ElementsMatch(t, []model.DuplicateSignal{model.DupMetadata, model.DupOrderNumber}, v.Matches[0].Signals)
	assert.InDelta(t, 0.90, v.Confidence, 1e-9, "signals never average or add")

	strict := NewDetector(Thresholds{Acceptance: 0.99}, nil)
	v = strict.Check(p, []model.StoredReceipt{stored("b", nil)})
	assert.False(t, v.IsDuplicate)
	assert.True(t, v.NeedsReview)
	assert.Empty(t, v.DuplicateOfID)
}

func TestCheck_SkipsItself(t *testing.T) {
	d := NewDetector(DefaultThresholds(), nil)
	p := probe(nil)

	v := d.Check(p, []model.StoredReceipt{stored("new", func(s *model.StoredReceipt) { s.ContentHash = "hash-new" })})
	assert.False(t, v.IsDuplicate)
	assert.Empty(t, v.Matches)
}

type corpusFunc func(context.Context) ([]model.StoredReceipt, error)

func (f corpusFunc) StoredReceipts(ctx context.Context) ([]model.StoredReceipt, error) {
	return f(ctx)
}

func TestFindDuplicates(t *testing.T) {
	d := NewDetector(DefaultThresholds(), nil)

	v, err := d.FindDuplicates(context.Background(), probe(nil), corpusFunc(func(context.Context) ([]model.StoredReceipt, error) {
		return []model.StoredReceipt{stored("old", nil)}, nil
	}))
	require.NoError(t, err)
	assert.True(t, v.IsDuplicate)

	boom := errors.New("boom")
	_, err = d.FindDuplicates(context.Background(), probe(nil), corpusFunc(func(context.Context) ([]model.StoredReceipt, error) {
		return nil, boom
	}))
	assert.ErrorIs(t, err, boom)
}

func TestPerceptualHash(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(0)
			if (x/16+y/16)%2 == 0 {
				v = 255
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}

	encode := func(level png.CompressionLevel) []byte {
		var buf bytes.Buffer
		enc := png.Encoder{CompressionLevel: level}
		require.NoError(t, enc.Encode(&buf, img))
		return buf.Bytes()
	}
	a, b := encode(png.NoCompression), encode(png.BestCompression)
	require.NotEqual(t, a, b)

	ha, err := PerceptualHash(a)
	require.NoError(t, err)
	hb, err := PerceptualHash(b)
	require.NoError(t, err)
	assert.Equal(t, 0, HammingDistance(ha, hb))

	_, err = PerceptualHash([]byte("%PDF-1.4"))
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestHammingDistance(t *testing.T) {
	assert.Equal(t, 0, HammingDistance(42, 42))
	assert.Equal(t, 8, HammingDistance(0, 0xFF))
	assert.Equal(t, 64, HammingDistance(0, ^uint64(0)))
}

func TestNormalizeOrderNumber(t *testing.T) {
	assert.Equal(t, "1125551234", NormalizeOrderNumber(" 112-555 1234 "))
	assert.Equal(t, "W123", NormalizeOrderNumber("#w-123"))
	assert.Empty(t, NormalizeOrderNumber("--"))
}
