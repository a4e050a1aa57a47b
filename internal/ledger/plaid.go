package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/plaid/plaid-go/v20/plaid"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"github.com/Veraticus/the-receipts-must-match/internal/service"
)

// SourcePlaid tags transactions synced from Plaid.
const SourcePlaid = "plaid"

// PlaidConfig holds Plaid API configuration.
type PlaidConfig struct {
	ClientID    string
	Secret      string
	Environment string // sandbox or production
	AccessToken string
}

// Validate ensures all required fields are present.
func (c *PlaidConfig) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("%w: plaid client ID is required", common.ErrMissingConfig)
	}
	if c.Secret == "" {
		return fmt.Errorf("%w: plaid secret is required", common.ErrMissingConfig)
	}
	if c.AccessToken == "" {
		return fmt.Errorf("%w: plaid access token is required", common.ErrMissingConfig)
	}
	switch c.Environment {
	case "sandbox", "production":
	case "":
		return fmt.Errorf("%w: plaid environment is required", common.ErrMissingConfig)
	default:
		return fmt.Errorf("%w: plaid environment must be sandbox or production", common.ErrInvalidConfig)
	}
	return nil
}

// TransactionFetcher fetches ledger transactions for a date range.
type TransactionFetcher interface {
	Transactions(ctx context.Context, start, end time.Time) ([]model.TransactionCandidate, error)
}

// PlaidClient fetches transactions from the Plaid API.
type PlaidClient struct {
	client      *plaid.APIClient
	logger      *slog.Logger
	retryOpts   service.RetryOptions
	accessToken string
}

var _ TransactionFetcher = (*PlaidClient)(nil)

// NewPlaidClient creates a Plaid client.
func NewPlaidClient(cfg PlaidConfig, logger *slog.Logger) (*PlaidClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)
	switch cfg.Environment {
	case "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case "production":
		configuration.UseEnvironment(plaid.Production)
	}

	return &PlaidClient{
		client:      plaid.NewAPIClient(configuration),
		accessToken: cfg.AccessToken,
		logger:      common.ComponentLogger(logger, "plaid"),
		retryOpts: service.RetryOptions{
			Operation:    "plaid transactions",
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			Retryable:    common.IsRetryable,
		},
	}, nil
}

// Transactions fetches every transaction in [start, end], paging through the API.
func (c *PlaidClient) Transactions(ctx context.Context, start, end time.Time) ([]model.TransactionCandidate, error) {
	if start.After(end) {
		return nil, fmt.Errorf("start date must be before end date")
	}

	c.logger.Info("Fetching transactions from Plaid",
		"start_date", start.Format(model.DateLayout),
		"end_date", end.Format(model.DateLayout))

	var all []plaid.Transaction
	offset := int32(0)
	const pageSize = int32(500) // Plaid's max page size

	for {
		var page []plaid.Transaction

		retryErr := common.WithRetry(ctx, func() error {
			request := plaid.NewTransactionsGetRequest(
				c.accessToken,
				start.Format(model.DateLayout),
				end.Format(model.DateLayout),
			)
			request.SetOptions(plaid.TransactionsGetRequestOptions{
				Count:  plaid.PtrInt32(pageSize),
				Offset: plaid.PtrInt32(offset),
			})

			resp, _, err := c.client.PlaidApi.TransactionsGet(ctx).TransactionsGetRequest(*request).Execute()
			if err != nil {
				return c.classifyError(err)
			}

			page = resp.GetTransactions()
			c.logger.Debug("Fetched transaction batch",
				"count", len(page),
				"offset", offset,
				"total", resp.GetTotalTransactions())
			return nil
		}, c.retryOpts)
		if retryErr != nil {
			return nil, retryErr
		}

		all = append(all, page...)
		if len(page) < int(pageSize) {
			break
		}
		offset += pageSize
	}

	c.logger.Info("Fetched all transactions", "count", len(all))

	candidates := make([]model.TransactionCandidate, 0, len(all))
	for _, pt := range all {
		candidate, err := convertPlaidTransaction(pt)
		if err != nil {
			c.logger.Warn("Skipping transaction", "transaction_id", pt.GetTransactionId(), "error", err)
			continue
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

func (c *PlaidClient) classifyError(err error) error {
	plaidErr, convErr := plaid.ToPlaidError(err)
	if convErr != nil {
		return fmt.Errorf("%w: %w", common.ErrPlaidConnection, err)
	}
	if plaidErr.ErrorCode == "RATE_LIMIT_EXCEEDED" {
		c.logger.Warn("Rate limit hit, will retry", "error", plaidErr.ErrorMessage)
		return &common.RetryableError{Err: fmt.Errorf("%w: %s", common.ErrPlaidRateLimit, plaidErr.ErrorMessage), Retryable: true}
	}
	return &common.RetryableError{
		Err:       fmt.Errorf("plaid API error: %s - %s", plaidErr.ErrorCode, plaidErr.ErrorMessage),
		Retryable: false,
	}
}

// convertPlaidTransaction maps a Plaid transaction to a candidate. Plaid
// reports money leaving the account as positive, which is already the
// candidate convention.
func convertPlaidTransaction(pt plaid.Transaction) (model.TransactionCandidate, error) {
	date, err := model.ParseDate(pt.GetDate())
	if err != nil {
		return model.TransactionCandidate{}, err
	}
	if date.IsZero() {
		return model.TransactionCandidate{}, fmt.Errorf("transaction has no date")
	}

	merchant := pt.GetMerchantName()
	if merchant == "" {
		merchant = pt.GetName()
	}

	hints := append([]string{pt.GetPaymentChannel()}, pt.GetCategory()...)

	return model.TransactionCandidate{
		ID:          pt.GetTransactionId(),
		Date:        date,
		Amount:      decimal.NewFromFloat(pt.GetAmount()).Round(2),
		MerchantRaw: merchant,
		AccountID:   pt.GetAccountId(),
		Source:      SourcePlaid,
		Category:    InferCategory(merchant, hints...),
	}, nil
}

// Sync fetches transactions for a date range and saves them, returning
// fetched and inserted counts.
func Sync(ctx context.Context, fetcher TransactionFetcher, importer Importer, start, end time.Time) (int, int, error) {
	candidates, err := fetcher.Transactions(ctx, start, end)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	if len(candidates) == 0 {
		return 0, 0, nil
	}
	inserted, err := importer.SaveTransactions(ctx, candidates)
	if err != nil {
		return len(candidates), 0, fmt.Errorf("failed to save transactions: %w", err)
	}
	return len(candidates), inserted, nil
}
