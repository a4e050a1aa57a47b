package merchant

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

type memoryStore struct {
	aliases     []model.MerchantAlias
	corrections []*model.Correction
	mu          sync.Mutex
}

func (m *memoryStore) AppendMerchantAlias(_ context.Context, a model.MerchantAlias) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliases = append(m.aliases, a)
	return nil
}

func (m *memoryStore) MerchantAliases(_ context.Context) ([]model.MerchantAlias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.MerchantAlias(nil), m.aliases...), nil
}

func (m *memoryStore) AppendCorrection(_ context.Context, c *model.Correction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrections = append(m.corrections, c)
	return nil
}

func TestNormalize(t *testing.T) {
	n := NewNormalizer(nil, Options{})

	tests := []struct {
		name       string
		raw        string
		wantName   string
		wantMethod model.NormalizeMethod
		minConf    float64
	}{
		{name: "exact alias", raw: "SBUX", wantName: "Starbucks", wantMethod: model.MethodExactChainMatch, minConf: 1},
		{name: "store number stripped", raw: "STARBUCKS #4471", wantName: "Starbucks", wantMethod: model.MethodExactChainMatch, minConf: 1},
		{name: "processor prefix", raw: "SQ *STARBUCKS", wantName: "Starbucks", wantMethod: model.MethodExactChainMatch, minConf: 1},
		{name: "location suffix", raw: "WHOLEFDS 10234 SEATTLE WA", wantName: "Whole Foods", wantMethod: model.MethodFuzzyMatch, minConf: 0.8},
		{name: "typo", raw: "Starbuks", wantName: "Starbucks", wantMethod: model.MethodFuzzyMatch, minConf: 0.8},
		{name: "unknown merchant", raw: "TST* Joe's Taqueria #12", wantName: "Joe's Taqueria", wantMethod: model.MethodCleaned, minConf: 0.5},
		{name: "empty", raw: "   ", wantName: "", wantMethod: model.MethodCleaned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(tt.raw)
			assert.Equal(t, tt.wantName, got.CanonicalName)
			assert.Equal(t, tt.wantMethod, got.Method)
			assert.GreaterOrEqual(t, got.Confidence, tt.minConf)
			assert.LessOrEqual(t, got.Confidence, 1.0)
		})
	}
}

func TestNormalize_CaseInsensitive(t *testing.T) {
	n := NewNormalizer(nil, Options{})
	inputs := []string{"STARBUCKS", "starbucks", "StarBucks", "  starbucks  "}
	for _, in := range inputs {
		assert.Equal(t, n.Normalize("Starbucks"), n.Normalize(in), in)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	n := NewNormalizer(nil, Options{})
	inputs := []string{
		"STARBUCKS #4471",
		"AMZN Mktp US*2K3",
		"TST* Joe's Taqueria #12",
		"PURCHASE AUTHORIZED ON 06/10 BLUE BOTTLE COFFEE OAKLAND CA",
		"#1234",
		"Starbuks",
		"uber   eats",
	}
	for _, in := range inputs {
		first := n.Normalize(in)
		second := n.Normalize(first.CanonicalName)
		assert.Equal(t, first.CanonicalName, second.CanonicalName, in)

		// A chain name is an alias of itself, so a fuzzy hit settles into
		// an exact one on the second pass. Everything else is a fixed point.
		if first.Method == model.MethodFuzzyMatch {
			assert.Equal(t, model.MethodExactChainMatch, second.Method, in)
			assert.InDelta(t, exactConfidence, second.Confidence, 1e-9, in)
			continue
		}
		assert.Equal(t, first, second, in)
	}

	fuzzy := n.Normalize("Starbuks")
	require.Equal(t, model.MethodFuzzyMatch, fuzzy.Method)
	assert.Less(t, fuzzy.Confidence, exactConfidence)
	cleaned := n.Normalize("TST* Joe's Taqueria #12")
	assert.Equal(t, model.NormalizedMerchant{CanonicalName: "Joe's Taqueria", Method: model.MethodCleaned, Confidence: cleanedConfidence}, cleaned)
	assert.Equal(t, cleaned, n.Normalize(cleaned.CanonicalName))
}

func TestNormalize_Concurrent(t *testing.T) {
	n := NewNormalizer(nil, Options{})
	inputs := []string{"TST* Joe's Taqueria #12", "sq *número uno cafe", "Starbuks", "CHEVRON 0093414 OAKLAND CA"}
	want := make([]model.NormalizedMerchant, len(inputs))
	for i, in := range inputs {
		want[i] = n.Normalize(in)
	}

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				k := (g + i) % len(inputs)
				assert.Equal(t, want[k], n.Normalize(inputs[k]))
			}
		}()
	}
	wg.Wait()
}

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SQ *BLUE BOTTLE", "blue bottle"},
		{"POS PURCHASE SHELL OIL 57442", "shell oil"},
		{"CHECKCARD 0610 TARGET T-1234", "target t"},
		{"CHEVRON 0093414 OAKLAND CA", "chevron oakland"},
		{"DUNKIN #349871 Q35 (555)123-4567", "dunkin q35"},
		{"joe's diner store #12 austin tx usa", "joe's diner austin"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Clean(tt.in), tt.in)
		assert.Equal(t, Clean(tt.in), Clean(Clean(tt.in)), "fixpoint %s", tt.in)
	}
}

func TestLearnAndCorrect(t *testing.T) {
	store := &memoryStore{}
	n := NewNormalizer(nil, Options{Store: store, Corrections: store})
	ctx := context.Background()

	require.NoError(t, n.Learn(ctx, "Blue Bottle Coffee Co", "Blue Bottle"))
	got := n.Normalize("BLUE BOTTLE COFFEE CO")
	assert.Equal(t, "Blue Bottle", got.CanonicalName)
	assert.Equal(t, model.MethodExactChainMatch, got.Method)

	t.Run("learning the same mapping twice is a no-op", func(t *testing.T) {
		require.NoError(t, n.Learn(ctx, "blue bottle coffee co", "BLUE BOTTLE"))
	})

	t.Run("remap without correction is refused", func(t *testing.T) {
		err := n.Learn(ctx, "sbux", "Seattle's Best")
		require.Error(t, err)
		assert.True(t, errors.Is(err, common.ErrAliasConflict))
		assert.Equal(t, "Starbucks", n.Normalize("sbux").CanonicalName)
	})

	t.Run("correction overrides", func(t *testing.T) {
		require.NoError(t, n.RecordCorrection(ctx, "sbux", "Seattle's Best"))
		assert.Equal(t, "Seattle's Best", n.Normalize("SBUX").CanonicalName)
		require.Len(t, store.corrections, 1)
		assert.Equal(t, model.CorrectionMerchantAlias, store.corrections[0].Kind)
	})

	t.Run("log replays into a fresh table", func(t *testing.T) {
		fresh := NewNormalizer(nil, Options{Store: store})
		require.NoError(t, fresh.Load(ctx))
		assert.Equal(t, "Blue Bottle", fresh.Normalize("blue bottle coffee co").CanonicalName)
		assert.Equal(t, "Seattle's Best", fresh.Normalize("sbux").CanonicalName)
	})
}

func TestParseChains(t *testing.T) {
	table := NewChainTable()
	require.NoError(t, table.ParseChains([]byte(`
chains:
  - canonical: Philz Coffee
    aliases: [philz, "PHILZ COFFEE INC"]
`)))

	got, ok := table.Lookup("philz coffee inc")
	require.True(t, ok)
	assert.Equal(t, "Philz Coffee", got)

	got, ok = table.Lookup("PHILZ COFFEE")
	require.True(t, ok)
	assert.Equal(t, "Philz Coffee", got)

	err := table.ParseChains([]byte("chains:\n  - aliases: [x]\n"))
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity("Starbucks", "STARBUCKS"), 1e-9)
	assert.InDelta(t, 0.0, Similarity("", "Starbucks"), 1e-9)
	assert.GreaterOrEqual(t, Similarity("Starbucks", "Starbucks Reserve"), 0.9)
	assert.Less(t, Similarity("Starbucks", "Home Depot"), 0.6)
	assert.InDelta(t, Similarity("a b", "b c"), Similarity("b c", "a b"), 1e-9)
}
