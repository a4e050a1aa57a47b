// Package engine runs receipts through extraction, duplicate detection,
// matching and classification, and persists the decision record.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/dedup"
	"github.com/Veraticus/the-receipts-must-match/internal/extraction"
	"github.com/Veraticus/the-receipts-must-match/internal/ledger"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"github.com/Veraticus/the-receipts-must-match/internal/service"
)

// Config holds configuration options for the engine.
type Config struct {
	WindowDays  int // ledger days queried on each side of the receipt date
	Concurrency int // documents ingested in parallel by IngestBatch
}

// DefaultConfig returns the default configuration. The window covers the
// widest category tolerance.
func DefaultConfig() Config {
	return Config{
		WindowDays:  model.CategoryDelivery.DateToleranceDays(),
		Concurrency: 4,
	}
}

// Components are the collaborators an Engine wires together.
type Components struct {
	Extractor  Extractor
	Store      Store
	Ledger     ledger.Source // defaults to Store when it implements ledger.Source
	Normalizer Normalizer
	Matcher    Matcher
	Detector   DuplicateFinder
	Classifier Classifier
	Logger     *slog.Logger
	Now        func() time.Time
}

// Engine orchestrates the receipt pipeline.
type Engine struct {
	extractor  Extractor
	store      Store
	ledger     ledger.Source
	normalizer Normalizer
	matcher    Matcher
	detector   DuplicateFinder
	classifier Classifier
	logger     *slog.Logger
	now        func() time.Time
	config     Config
}

// New creates an engine. Every component is required.
func New(c Components, cfg Config) (*Engine, error) {
	if c.Ledger == nil {
		if src, ok := c.Store.(ledger.Source); ok {
			c.Ledger = src
		}
	}
	switch {
	case c.Extractor == nil:
		return nil, fmt.Errorf("%w: extractor", common.ErrMissingConfig)
	case c.Store == nil:
		return nil, fmt.Errorf("%w: store", common.ErrMissingConfig)
	case c.Ledger == nil:
		return nil, fmt.Errorf("%w: ledger source", common.ErrMissingConfig)
	case c.Normalizer == nil:
		return nil, fmt.Errorf("%w: normalizer", common.ErrMissingConfig)
	case c.Matcher == nil:
		return nil, fmt.Errorf("%w: matcher", common.ErrMissingConfig)
	case c.Detector == nil:
		return nil, fmt.Errorf("%w: duplicate detector", common.ErrMissingConfig)
	case c.Classifier == nil:
		return nil, fmt.Errorf("%w: classifier", common.ErrMissingConfig)
	}

	def := DefaultConfig()
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = def.WindowDays
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Engine{
		extractor:  c.Extractor,
		store:      c.Store,
		ledger:     c.Ledger,
		normalizer: c.Normalizer,
		matcher:    c.Matcher,
		detector:   c.Detector,
		classifier: c.Classifier,
		logger:     common.ComponentLogger(c.Logger, "engine"),
		now:        c.Now,
		config:     cfg,
	}, nil
}

// Extract runs the provider chain for one document.
func (e *Engine) Extract(ctx context.Context, doc extraction.Document) (*model.ExtractedReceipt, error) {
	return e.extractor.Extract(ctx, doc)
}

// Match resolves a receipt against an explicit candidate set.
func (e *Engine) Match(receipt *model.ExtractedReceipt, candidates []model.TransactionCandidate) (*model.MatchResult, error) {
	return e.matcher.Resolve(receipt, candidates)
}

// FindDuplicates checks a receipt against the stored corpus. phash may be nil.
func (e *Engine) FindDuplicates(ctx context.Context, receipt *model.ExtractedReceipt, phash *uint64) (model.DuplicateVerdict, error) {
	probe := dedup.Probe{
		Receipt:           *receipt,
		MerchantCanonical: e.normalizer.Normalize(receipt.MerchantRaw).CanonicalName,
		PerceptualHash:    phash,
	}
	return e.detector.FindDuplicates(ctx, probe, e.store)
}

// Classify assigns a business type to a receipt.
func (e *Engine) Classify(receipt *model.ExtractedReceipt, cctx model.ClassificationContext) *model.ClassificationResult {
	return e.classifier.Classify(receipt, cctx)
}

// Ingest takes one document through the whole pipeline. A document the
// detector calls a duplicate is recorded but not stored again; its record
// points at the receipt already on file.
func (e *Engine) Ingest(ctx context.Context, doc extraction.Document, cctx model.ClassificationContext) (*model.DecisionRecord, error) {
	receipt, err := e.Extract(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", docName(doc), err)
	}
	log := e.logger.With("content_hash", receipt.ContentHash)

	phash := e.perceptualHash(doc)
	merchant := e.normalizer.Normalize(receipt.MerchantRaw)

	verdict, err := e.detector.FindDuplicates(ctx, dedup.Probe{
		Receipt:           *receipt,
		MerchantCanonical: merchant.CanonicalName,
		PerceptualHash:    phash,
	}, e.store)
	if err != nil {
		return nil, fmt.Errorf("failed to check duplicates: %w", err)
	}

	record := &model.DecisionRecord{
		CreatedAt: e.now(),
		Receipt:   *receipt,
		Merchant:  merchant,
		Verdict:   verdict,
	}

	if verdict.IsDuplicate {
		return e.recordDuplicate(ctx, record, log)
	}

	id, err := e.store.SaveReceipt(ctx, &service.ReceiptRecord{
		CreatedAt:         record.CreatedAt,
		PerceptualHash:    phash,
		MerchantCanonical: merchant.CanonicalName,
		Receipt:           *receipt,
	})
	if errors.Is(err, common.ErrDuplicateEntry) {
		// Another ingest of the same bytes stored first.
		record.Verdict = contentHashVerdict(id, record.CreatedAt)
		return e.recordDuplicate(ctx, record, log)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save receipt: %w", err)
	}
	record.ReceiptID = id
	record.Stored = true
	log = log.With("receipt_id", id)

	if err := e.store.SaveDuplicateVerdict(ctx, receipt.ContentHash, id, &record.Verdict); err != nil {
		return nil, err
	}

	match, err := e.matchStored(ctx, id, receipt)
	if err != nil {
		return nil, err
	}
	record.Match = match

	record.Classification = e.classifier.Classify(receipt, cctx)
	if err := e.store.SaveClassification(ctx, id, record.Classification); err != nil {
		return nil, err
	}

	log.Info("receipt ingested",
		"merchant", merchant.CanonicalName,
		"decision", match.Decision,
		"score", match.Score,
		"candidate_id", match.BestCandidateID,
		"business_type", record.Classification.BusinessType,
		"duplicate_review", verdict.NeedsReview)
	return record, nil
}

// Rematch re-runs matching for a stored receipt against the current ledger.
// The new result supersedes the previous one.
func (e *Engine) Rematch(ctx context.Context, receiptID string) (*model.MatchResult, error) {
	stored, err := e.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, fmt.Errorf("failed to load receipt %s: %w", receiptID, err)
	}
	return e.matchStored(ctx, stored.ID, &stored.Receipt)
}

// Candidates returns the ledger window around the receipt date. A receipt
// without a date has no window.
func (e *Engine) Candidates(ctx context.Context, receipt *model.ExtractedReceipt) ([]model.TransactionCandidate, error) {
	if receipt.Date.IsZero() {
		return nil, nil
	}
	candidates, err := e.ledger.CandidatesInWindow(ctx, receipt.Date, e.config.WindowDays)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	return candidates, nil
}

func (e *Engine) matchStored(ctx context.Context, receiptID string, receipt *model.ExtractedReceipt) (*model.MatchResult, error) {
	candidates, err := e.Candidates(ctx, receipt)
	if err != nil {
		return nil, err
	}
	result, err := e.matcher.Resolve(receipt, candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to match receipt %s: %w", receiptID, err)
	}
	result.ReceiptID = receiptID
	if err := e.store.SaveMatchResult(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) recordDuplicate(ctx context.Context, record *model.DecisionRecord, log *slog.Logger) (*model.DecisionRecord, error) {
	record.ReceiptID = record.Verdict.DuplicateOfID
	if err := e.store.SaveDuplicateVerdict(ctx, record.Receipt.ContentHash, "", &record.Verdict); err != nil {
		return nil, err
	}
	log.Info("duplicate receipt skipped",
		"duplicate_of", record.Verdict.DuplicateOfID,
		"confidence", record.Verdict.Confidence,
		"signals", record.Verdict.SignalsFired)
	return record, nil
}

func (e *Engine) perceptualHash(doc extraction.Document) *uint64 {
	contentType := extraction.NormalizeContentType(doc.ContentType)
	if contentType == "" {
		contentType = extraction.DetectContentType(doc.Name, doc.Data)
	}
	if !extraction.IsImage(contentType) {
		return nil
	}
	hash, err := dedup.PerceptualHash(doc.Data)
	if err != nil {
		e.logger.Debug("no perceptual hash", "document", docName(doc), "error", err)
		return nil
	}
	return &hash
}

func contentHashVerdict(receiptID string, at time.Time) model.DuplicateVerdict {
	signals := []model.DuplicateSignal{model.DupContentHash}
	return model.DuplicateVerdict{
		CheckedAt:     at,
		IsDuplicate:   true,
		DuplicateOfID: receiptID,
		Confidence:    1.0,
		SignalsFired:  signals,
		Matches:       []model.DuplicateMatch{{ReceiptID: receiptID, Signals: signals, Confidence: 1.0}},
	}
}

func docName(doc extraction.Document) string {
	if doc.Name != "" {
		return doc.Name
	}
	return "document"
}
