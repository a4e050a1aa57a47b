// Package merchant maps raw merchant strings from receipts and bank feeds to
// stable canonical identities.
package merchant

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

// DefaultFuzzyThreshold is the minimum similarity accepted as a fuzzy match.
const DefaultFuzzyThreshold = 0.8

// Confidence levels per method.
const (
	exactConfidence   = 1.0
	cleanedConfidence = 0.5
	// prefixPenalty scales matches found on the leading tokens only, such as
	// "starbucks seattle" against "starbucks".
	prefixPenalty = 0.95
)

// Alias sources recorded in the alias log.
const (
	SourceLearned    = "learned"
	SourceCorrection = "correction"
)

var (
	processorPrefix = regexp.MustCompile(`^(?:sq|tst|sp|pp|paypal|py|dd|ic|toast|gglpay|cke|bt|eb|pos|sumup|zettle|clv|par)\s*\*\s*`)
	purchasePrefix  = regexp.MustCompile(`^(?:pos(?:\s+purchase)?|checkcard\s+\d{4}|checkcard|debit(?:\s+card)?(?:\s+purchase)?|purchase(?:\s+authorized\s+on\s+\d{1,2}/\d{1,2})?|recurring(?:\s+payment)?|visa|mc)\s+`)
	storeNumber     = regexp.MustCompile(`(?:\s*#\s*\d+|\s+(?:store|str|no\.?|unit)\s*#?\s*\d+|[\s-]+\d{3,}\b)`)
	phoneNumber     = regexp.MustCompile(`\s+\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)
	stateCode       = regexp.MustCompile(`\s+(?:al|ak|az|ar|ca|co|ct|de|fl|ga|hi|id|il|in|ia|ks|ky|la|me|md|ma|mi|mn|ms|mo|mt|ne|nv|nh|nj|nm|ny|nc|nd|oh|ok|or|pa|ri|sc|sd|tn|tx|ut|vt|va|wa|wv|wi|wy|dc)(?:\s+(?:us|usa))?$`)
	countryCode     = regexp.MustCompile(`\s+(?:us|usa)$`)
	trailingJunk    = regexp.MustCompile(`[\s*#:,.\-/]+$`)
	leadingJunk     = regexp.MustCompile(`^[\s*#:,.\-/]+`)
)

// Key is the single casing transform applied to every alias, both when the
// table is populated and when it is queried.
func Key(s string) string {
	return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
}

// Clean strips processor prefixes, store numbers and trailing location codes
// from a key. It is applied until nothing changes so Clean(Clean(s)) == Clean(s).
func Clean(s string) string {
	cleaned := Key(s)
	for {
		next := cleanOnce(cleaned)
		if next == cleaned {
			return cleaned
		}
		cleaned = next
	}
}

func cleanOnce(s string) string {
	s = processorPrefix.ReplaceAllString(s, "")
	s = purchasePrefix.ReplaceAllString(s, "")
	s = phoneNumber.ReplaceAllString(s, "")
	s = storeNumber.ReplaceAllString(s, "")
	if stripped := stateCode.ReplaceAllString(s, ""); strings.TrimSpace(stripped) != "" {
		s = stripped
	}
	if stripped := countryCode.ReplaceAllString(s, ""); strings.TrimSpace(stripped) != "" {
		s = stripped
	}
	s = trailingJunk.ReplaceAllString(s, "")
	s = leadingJunk.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// AliasStore persists learned aliases.
type AliasStore interface {
	AppendMerchantAlias(ctx context.Context, alias model.MerchantAlias) error
	MerchantAliases(ctx context.Context) ([]model.MerchantAlias, error)
}

// CorrectionSink receives user correction events.
type CorrectionSink interface {
	AppendCorrection(ctx context.Context, correction *model.Correction) error
}

// Options configures a Normalizer.
type Options struct {
	Store          AliasStore
	Corrections    CorrectionSink
	Logger         *slog.Logger
	Now            func() time.Time
	FuzzyThreshold float64
}

// Normalizer resolves raw merchant strings against a chain table.
// It is safe for concurrent use.
type Normalizer struct {
	table          *ChainTable
	store          AliasStore
	corrections    CorrectionSink
	logger         *slog.Logger
	now            func() time.Time
	levenshtein    *metrics.Levenshtein
	fuzzyThreshold float64
}

// NewNormalizer creates a normalizer over table. A nil table uses the defaults.
func NewNormalizer(table *ChainTable, opts Options) *Normalizer {
	if table == nil {
		table = DefaultChainTable()
	}
	if opts.FuzzyThreshold <= 0 {
		opts.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	lev := metrics.NewLevenshtein()
	lev.CaseSensitive = false

	return &Normalizer{
		table:          table,
		store:          opts.Store,
		corrections:    opts.Corrections,
		logger:         common.ComponentLogger(opts.Logger, "merchant"),
		now:            opts.Now,
		levenshtein:    lev,
		fuzzyThreshold: opts.FuzzyThreshold,
	}
}

// Table returns the underlying chain table.
func (n *Normalizer) Table() *ChainTable {
	return n.table
}

// Normalize maps raw to its canonical identity. It never fails: an unknown
// merchant comes back Cleaned with confidence 0.5, and an empty one with 0.
func (n *Normalizer) Normalize(raw string) model.NormalizedMerchant {
	key := Key(raw)
	if key == "" {
		return model.NormalizedMerchant{Method: model.MethodCleaned}
	}

	if canonical, ok := n.table.Lookup(key); ok {
		return model.NormalizedMerchant{CanonicalName: canonical, Method: model.MethodExactChainMatch, Confidence: exactConfidence}
	}

	cleaned := Clean(key)
	if cleaned == "" {
		cleaned = key
	}
	if canonical, ok := n.table.Lookup(cleaned); ok {
		return model.NormalizedMerchant{CanonicalName: canonical, Method: model.MethodExactChainMatch, Confidence: exactConfidence}
	}

	if canonical, score, ok := n.fuzzy(cleaned); ok {
		return model.NormalizedMerchant{CanonicalName: canonical, Method: model.MethodFuzzyMatch, Confidence: score}
	}

	// Casers hold state; a shared one races under ResolveBatch.
	return model.NormalizedMerchant{
		CanonicalName: cases.Title(language.English).String(cleaned),
		Method:        model.MethodCleaned,
		Confidence:    cleanedConfidence,
	}
}

// fuzzy finds the best alias at or above the threshold. Ties go to the
// alphabetically first key so results are deterministic.
func (n *Normalizer) fuzzy(cleaned string) (string, float64, bool) {
	tokens := strings.Fields(cleaned)
	entries := n.table.Entries()

	var bestKey string
	var best float64
	for _, key := range n.table.Keys() {
		score := strutil.Similarity(cleaned, key, n.levenshtein)

		keyTokens := strings.Count(key, " ") + 1
		if keyTokens < len(tokens) && len(key) >= 4 {
			prefix := strings.Join(tokens[:keyTokens], " ")
			if p := strutil.Similarity(prefix, key, n.levenshtein) * prefixPenalty; p > score {
				score = p
			}
		}

		if score > best {
			best = score
			bestKey = key
		}
	}

	if bestKey == "" || best < n.fuzzyThreshold {
		return "", 0, false
	}
	return entries[bestKey], best, true
}

// Load replays the persisted alias log into the table. Corrections
// override; learned aliases that conflict are skipped with a warning.
func (n *Normalizer) Load(ctx context.Context) error {
	if n.store == nil {
		return nil
	}
	aliases, err := n.store.MerchantAliases(ctx)
	if err != nil {
		return fmt.Errorf("failed to load merchant aliases: %w", err)
	}
	for _, a := range aliases {
		if a.Source == SourceCorrection {
			n.table.Correct(a.Alias, a.Canonical)
			continue
		}
		if err := n.table.Learn(a.Alias, a.Canonical); err != nil {
			n.logger.Warn("skipping conflicting alias", "alias", a.Alias, "canonical", a.Canonical, "error", err)
		}
	}
	n.logger.Debug("loaded merchant aliases", "count", len(aliases))
	return nil
}

// Learn records a new alias. Existing aliases are never remapped here.
func (n *Normalizer) Learn(ctx context.Context, alias, canonical string) error {
	if err := n.table.Learn(alias, canonical); err != nil {
		return err
	}
	if n.store == nil {
		return nil
	}
	return n.store.AppendMerchantAlias(ctx, model.MerchantAlias{
		CreatedAt: n.now(),
		Alias:     Key(alias),
		Canonical: canonical,
		Source:    SourceLearned,
	})
}

// RecordCorrection is the explicit correction event: raw now maps to
// canonical even if it previously mapped elsewhere.
func (n *Normalizer) RecordCorrection(ctx context.Context, raw, canonical string) error {
	if Key(raw) == "" || Key(canonical) == "" {
		return fmt.Errorf("raw merchant and canonical name are required")
	}

	if n.corrections != nil {
		if err := n.corrections.AppendCorrection(ctx, &model.Correction{
			CreatedAt:       n.now(),
			Kind:            model.CorrectionMerchantAlias,
			RawInput:        raw,
			CorrectedOutput: canonical,
		}); err != nil {
			return fmt.Errorf("failed to record correction: %w", err)
		}
	}
	if n.store != nil {
		if err := n.store.AppendMerchantAlias(ctx, model.MerchantAlias{
			CreatedAt: n.now(),
			Alias:     Key(raw),
			Canonical: canonical,
			Source:    SourceCorrection,
		}); err != nil {
			return fmt.Errorf("failed to persist alias: %w", err)
		}
	}

	n.table.Correct(raw, canonical)
	n.logger.Info("merchant alias corrected", "raw", raw, "canonical", canonical)
	return nil
}
