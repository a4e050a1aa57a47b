package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

// Querier is the subset of pgxpool.Pool used by PostgresSource.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// windowQuery reads from an external ledger table:
//
//	ledger_transactions(id text, posted_on date, merchant text, amount numeric,
//	                    account_id text, category text)
//
// Amounts follow the candidate convention: purchases positive, refunds negative.
const windowQuery = `
	SELECT id, to_char(posted_on, 'YYYY-MM-DD'), merchant, amount::text,
		COALESCE(account_id, ''), COALESCE(category, '')
	FROM ledger_transactions
	WHERE posted_on BETWEEN $1::date AND $2::date
	ORDER BY posted_on, id`

// PostgresSource reads candidates from a shared Postgres ledger.
type PostgresSource struct {
	db     Querier
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Source = (*PostgresSource)(nil)

// NewPostgresSource connects a pool to dsn.
func NewPostgresSource(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresSource, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: ledger.postgres_dsn", common.ErrMissingConfig)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping ledger database: %w", err)
	}
	s := NewPostgresSourceWithQuerier(pool, logger)
	s.pool = pool
	return s, nil
}

// NewPostgresSourceWithQuerier wraps an existing connection.
func NewPostgresSourceWithQuerier(db Querier, logger *slog.Logger) *PostgresSource {
	return &PostgresSource{db: db, logger: common.ComponentLogger(logger, "ledger_postgres")}
}

// Close releases the pool if this source owns one.
func (s *PostgresSource) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CandidatesInWindow implements Source.
func (s *PostgresSource) CandidatesInWindow(ctx context.Context, center model.Date, days int) ([]model.TransactionCandidate, error) {
	if center.IsZero() {
		return nil, nil
	}
	if days < 0 {
		return nil, fmt.Errorf("window must not be negative: %d", days)
	}

	rows, err := s.db.Query(ctx, windowQuery, center.AddDays(-days).String(), center.AddDays(days).String())
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var out []model.TransactionCandidate
	for rows.Next() {
		var (
			c        model.TransactionCandidate
			date     string
			amount   string
			category string
		)
		if err := rows.Scan(&c.ID, &date, &c.MerchantRaw, &amount, &c.AccountID, &category); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		if c.Date, err = model.ParseDate(date); err != nil {
			return nil, fmt.Errorf("ledger row %s: %w", c.ID, err)
		}
		if c.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("ledger row %s: invalid amount %q: %w", c.ID, amount, err)
		}
		c.Source = "postgres"
		if category == "" {
			c.Category = InferCategory(c.MerchantRaw)
		} else {
			c.Category = model.ParseTransactionCategory(category)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger rows: %w", err)
	}

	s.logger.Debug("loaded ledger window", "center", center.String(), "days", days, "count", len(out))
	return out, nil
}
