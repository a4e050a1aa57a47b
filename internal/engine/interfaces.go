package engine

import (
	"context"

	"github.com/Veraticus/the-receipts-must-match/internal/dedup"
	"github.com/Veraticus/the-receipts-must-match/internal/extraction"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"github.com/Veraticus/the-receipts-must-match/internal/service"
)

// Extractor turns a document into a receipt.
type Extractor interface {
	Extract(ctx context.Context, doc extraction.Document) (*model.ExtractedReceipt, error)
}

// Normalizer resolves raw merchant strings.
type Normalizer interface {
	Normalize(raw string) model.NormalizedMerchant
}

// Matcher picks the ledger transaction a receipt documents.
type Matcher interface {
	Resolve(receipt *model.ExtractedReceipt, candidates []model.TransactionCandidate) (*model.MatchResult, error)
}

// DuplicateFinder checks a receipt against the stored corpus.
type DuplicateFinder interface {
	FindDuplicates(ctx context.Context, probe dedup.Probe, corpus dedup.Corpus) (model.DuplicateVerdict, error)
}

// Classifier assigns a business type.
type Classifier interface {
	Classify(receipt *model.ExtractedReceipt, cctx model.ClassificationContext) *model.ClassificationResult
}

// Store is the persistence the engine writes decision records to.
type Store interface {
	dedup.Corpus
	SaveReceipt(ctx context.Context, record *service.ReceiptRecord) (string, error)
	GetReceipt(ctx context.Context, id string) (*service.ReceiptRecord, error)
	SaveMatchResult(ctx context.Context, result *model.MatchResult) error
	SaveDuplicateVerdict(ctx context.Context, contentHash, receiptID string, verdict *model.DuplicateVerdict) error
	SaveClassification(ctx context.Context, receiptID string, result *model.ClassificationResult) error
}
