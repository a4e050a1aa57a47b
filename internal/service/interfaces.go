// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Receipt corpus
	SaveReceipt(ctx context.Context, receipt *ReceiptRecord) (string, error)
	GetReceipt(ctx context.Context, id string) (*ReceiptRecord, error)
	GetReceiptIDByHash(ctx context.Context, contentHash string) (string, error)
	StoredReceipts(ctx context.Context) ([]model.StoredReceipt, error)

	// Extraction cache backing
	LoadExtraction(ctx context.Context, contentHash string) (*model.ExtractedReceipt, error)
	StoreExtraction(ctx context.Context, receipt *model.ExtractedReceipt) error

	// Ledger
	SaveTransactions(ctx context.Context, candidates []model.TransactionCandidate) (int, error)
	GetTransaction(ctx context.Context, id string) (*model.TransactionCandidate, error)
	CandidatesInWindow(ctx context.Context, center model.Date, days int) ([]model.TransactionCandidate, error)

	// Learning loops
	AppendMerchantAlias(ctx context.Context, alias model.MerchantAlias) error
	MerchantAliases(ctx context.Context) ([]model.MerchantAlias, error)
	AppendBusinessMapping(ctx context.Context, merchantKey, businessType string) error
	BusinessMappings(ctx context.Context) (map[string]string, error)
	AppendCorrection(ctx context.Context, correction *model.Correction) error
	Corrections(ctx context.Context, kind model.CorrectionKind) ([]model.Correction, error)

	// Decision records
	SaveMatchResult(ctx context.Context, result *model.MatchResult) error
	LatestMatchResult(ctx context.Context, receiptID string) (*model.MatchResult, error)
	SaveDuplicateVerdict(ctx context.Context, contentHash, receiptID string, verdict *model.DuplicateVerdict) error
	SaveClassification(ctx context.Context, receiptID string, result *model.ClassificationResult) error
	LatestClassification(ctx context.Context, receiptID string) (*model.ClassificationResult, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// ReceiptRecord is a receipt as persisted in the corpus.
type ReceiptRecord struct {
	CreatedAt         time.Time
	PerceptualHash    *uint64
	ID                string
	MerchantCanonical string
	Receipt           model.ExtractedReceipt
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	Operation    string // named in logs and the final error
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Retryable decides whether a failure is worth another attempt. Nil
	// retries everything not marked non-retryable.
	Retryable func(error) bool
}

// DateRange represents a time period with start and end dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// IngestStats shows the results of an ingest run.
type IngestStats struct {
	Processed   int
	Stored      int
	Duplicates  int
	AutoMatched int
	NeedsReview int
	Failed      int
	Duration    time.Duration
}
