package classification

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/merchant"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

// Default review thresholds.
const (
	DefaultReviewFloor     = 0.60
	DefaultAmbiguityMargin = 0.05

	CalendarBoost = 0.15
	ContactBoost  = 0.10

	calendarWindowDays = 1
)

// Normalizer resolves raw merchant names to canonical identities.
type Normalizer interface {
	Normalize(raw string) model.NormalizedMerchant
}

// MappingStore persists learned merchant to business type mappings.
type MappingStore interface {
	AppendBusinessMapping(ctx context.Context, merchantKey, businessType string) error
	BusinessMappings(ctx context.Context) (map[string]string, error)
}

// CorrectionSink receives user correction events.
type CorrectionSink interface {
	AppendCorrection(ctx context.Context, correction *model.Correction) error
}

// Options configures a Classifier.
type Options struct {
	Normalizer      Normalizer
	Store           MappingStore
	Corrections     CorrectionSink
	Logger          *slog.Logger
	Now             func() time.Time
	ReviewFloor     float64
	AmbiguityMargin float64
}

// Classifier assigns business types to receipts. It is safe for concurrent use.
type Classifier struct {
	rules       *compiledRules
	normalizer  Normalizer
	store       MappingStore
	corrections CorrectionSink
	logger      *slog.Logger
	now         func() time.Time
	learned     map[string]string
	reviewFloor float64
	margin      float64
	mu          sync.RWMutex
}

// NewClassifier compiles rules and returns a classifier.
func NewClassifier(rules RuleSet, opts Options) (*Classifier, error) {
	compiled, err := compile(rules)
	if err != nil {
		return nil, err
	}
	if opts.Normalizer == nil {
		opts.Normalizer = merchant.NewNormalizer(nil, merchant.Options{Logger: opts.Logger})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReviewFloor <= 0 {
		opts.ReviewFloor = DefaultReviewFloor
	}
	if opts.AmbiguityMargin <= 0 {
		opts.AmbiguityMargin = DefaultAmbiguityMargin
	}

	return &Classifier{
		rules:       compiled,
		normalizer:  opts.Normalizer,
		store:       opts.Store,
		corrections: opts.Corrections,
		logger:      common.ComponentLogger(opts.Logger, "classifier"),
		now:         opts.Now,
		learned:     make(map[string]string),
		reviewFloor: opts.ReviewFloor,
		margin:      opts.AmbiguityMargin,
	}, nil
}

// Load reads learned mappings from the store.
func (c *Classifier) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	mappings, err := c.store.BusinessMappings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load business mappings: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, businessType := range mappings {
		c.learned[key] = businessType
	}
	c.logger.Debug("loaded business mappings", "count", len(mappings))
	return nil
}

// RecordCorrection logs that receipts from merchantRaw belong to businessType.
// Subsequent receipts from the same merchant classify to it with confidence 1.0.
func (c *Classifier) RecordCorrection(ctx context.Context, merchantRaw, businessType string) error {
	businessType = strings.TrimSpace(businessType)
	key := c.merchantKey(merchantRaw)
	if key == "" || businessType == "" {
		return fmt.Errorf("merchant and business type are required")
	}

	if c.corrections != nil {
		if err := c.corrections.AppendCorrection(ctx, &model.Correction{
			CreatedAt:       c.now(),
			Kind:            model.CorrectionBusinessType,
			RawInput:        merchantRaw,
			CorrectedOutput: businessType,
		}); err != nil {
			return fmt.Errorf("failed to record correction: %w", err)
		}
	}
	if c.store != nil {
		if err := c.store.AppendBusinessMapping(ctx, key, businessType); err != nil {
			return fmt.Errorf("failed to persist business mapping: %w", err)
		}
	}

	c.mu.Lock()
	c.learned[key] = businessType
	c.mu.Unlock()

	c.logger.Info("recorded business type correction", "merchant", key, "business_type", businessType)
	return nil
}

func (c *Classifier) merchantKey(raw string) string {
	if merchant.Key(raw) == "" {
		return ""
	}
	if canonical := c.normalizer.Normalize(raw).CanonicalName; canonical != "" {
		return merchant.Key(canonical)
	}
	return merchant.Key(raw)
}

// Classify scores every business type with evidence and picks the highest.
// A receipt with no evidence at all comes back with an empty type and NeedsReview set.
func (c *Classifier) Classify(receipt *model.ExtractedReceipt, cctx model.ClassificationContext) *model.ClassificationResult {
	key := c.merchantKey(receipt.MerchantRaw)

	var signals []model.ClassificationSignal
	add := func(t model.SignalType, businessType string, weight float64, rationale string) {
		signals = append(signals, model.ClassificationSignal{
			Type:         t,
			BusinessType: businessType,
			Weight:       weight,
			Rationale:    rationale,
		})
	}

	c.mu.RLock()
	learned, isLearned := c.learned[key]
	c.mu.RUnlock()
	switch {
	case key == "":
	case isLearned:
		add(model.SignalLearned, learned, LearnedConfidence, fmt.Sprintf("merchant %q was corrected to %s", key, learned))
	default:
		if businessType, ok := c.rules.merchants[key]; ok {
			add(model.SignalMerchantRule, businessType, MerchantConfidence, fmt.Sprintf("merchant %q is mapped to %s", key, businessType))
		}
	}

	if sender := normalizeDomain(cctx.SenderDomain); sender != "" {
		for domain, businessType := range c.rules.domains {
			if domainMatches(sender, domain) {
				add(model.SignalDomain, businessType, DomainConfidence, fmt.Sprintf("sender domain %s matches %s", sender, domain))
			}
		}
	}

	text := searchText(receipt, key)
	for _, k := range c.rules.keywords {
		if match := k.regex.FindString(text); match != "" {
			add(model.SignalKeyword, k.BusinessType, k.Confidence, fmt.Sprintf("%s keyword %q", k.Name, match))
		}
	}

	if receipt.Amount.Valid {
		for _, a := range c.rules.amounts {
			if a.Amount.Matches(receipt.Amount.Decimal) {
				add(model.SignalAmountRange, a.BusinessType, AmountConfidence, a.Amount.String())
			}
		}
	}

	scores := make(map[string]float64)
	for _, s := range signals {
		if s.Weight > scores[s.BusinessType] {
			scores[s.BusinessType] = s.Weight
		}
	}

	for businessType, title := range calendarMatches(receipt.Date, cctx.CalendarEvents) {
		add(model.SignalCalendar, businessType, CalendarBoost, fmt.Sprintf("calendar event %q within %d day", title, calendarWindowDays))
		scores[businessType] += CalendarBoost
	}
	for businessType, name := range contactMatches(text, normalizeDomain(cctx.SenderDomain), cctx.Contacts) {
		add(model.SignalContact, businessType, ContactBoost, fmt.Sprintf("known contact %s", name))
		scores[businessType] += ContactBoost
	}
	for businessType, score := range scores {
		scores[businessType] = math.Min(score, 1)
	}

	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].Weight != signals[j].Weight {
			return signals[i].Weight > signals[j].Weight
		}
		return signals[i].BusinessType < signals[j].BusinessType
	})

	result := &model.ClassificationResult{
		ClassifiedAt: c.now(),
		Signals:      signals,
		Scores:       scores,
		NeedsReview:  true,
	}
	if len(scores) == 0 {
		return result
	}

	ranked := make([]string, 0, len(scores))
	for businessType := range scores {
		ranked = append(ranked, businessType)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if scores[ranked[i]] != scores[ranked[j]] {
			return scores[ranked[i]] > scores[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})

	top := scores[ranked[0]]
	result.BusinessType = ranked[0]
	result.Confidence = top
	result.NeedsReview = top < c.reviewFloor
	if len(ranked) > 1 && top-scores[ranked[1]] <= c.margin {
		result.NeedsReview = true
	}

	c.logger.Debug("classified receipt",
		"merchant", key,
		"business_type", result.BusinessType,
		"confidence", result.Confidence,
		"needs_review", result.NeedsReview)
	return result
}

func searchText(receipt *model.ExtractedReceipt, key string) string {
	parts := []string{key, receipt.MerchantRaw, receipt.Text}
	for _, item := range receipt.LineItems {
		parts = append(parts, item.Description)
	}
	return strings.Join(parts, "\n")
}

// calendarMatches returns one event title per business type whose event lies
// within the calendar window of date.
func calendarMatches(date model.Date, events []model.CalendarEvent) map[string]string {
	out := make(map[string]string)
	if date.IsZero() {
		return out
	}
	for _, e := range events {
		if e.BusinessType == "" || e.Date.IsZero() {
			continue
		}
		if _, seen := out[e.BusinessType]; seen {
			continue
		}
		if model.DaysBetween(date, e.Date) <= calendarWindowDays {
			out[e.BusinessType] = e.Title
		}
	}
	return out
}

func contactMatches(text, sender string, contacts []model.Contact) map[string]string {
	out := make(map[string]string)
	folded := merchant.Key(text)
	for _, contact := range contacts {
		if contact.BusinessType == "" {
			continue
		}
		if _, seen := out[contact.BusinessType]; seen {
			continue
		}
		name := merchant.Key(contact.Name)
		domain := normalizeDomain(contact.Domain)
		switch {
		case name != "" && strings.Contains(folded, name):
			out[contact.BusinessType] = contact.Name
		case domain != "" && sender != "" && domainMatches(sender, domain):
			out[contact.BusinessType] = contact.Name
		}
	}
	return out
}
