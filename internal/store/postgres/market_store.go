package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civicpulse/marketd/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, question, slug, yes_liquidity, no_liquidity,
	fee_rate, accumulated_fees, resolved, resolved_outcome, resolved_at,
	created_at, updated_at`

// Create inserts a new market. It returns domain.ErrAlreadyExists when the
// ID or slug is taken.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, question, slug, yes_liquidity, no_liquidity,
			fee_rate, accumulated_fees, resolved, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, NOW())`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Question, m.Slug,
		m.Pool.YesLiquidity, m.Pool.NoLiquidity,
		m.Pool.FeeRate, m.Pool.AccumulatedFees,
		m.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: create market %s: %w", m.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var outcome *string
	err := row.Scan(
		&m.ID, &m.Question, &m.Slug,
		&m.Pool.YesLiquidity, &m.Pool.NoLiquidity,
		&m.Pool.FeeRate, &m.Pool.AccumulatedFees,
		&m.Resolved, &outcome, &m.ResolvedAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	if outcome != nil {
		o := domain.Outcome(*outcome)
		m.ResolvedOutcome = &o
	}
	return m, nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// UpdatePool replaces a market's pool state in one statement.
func (s *MarketStore) UpdatePool(ctx context.Context, id string, pool domain.PoolState) error {
	const query = `
		UPDATE markets SET
			yes_liquidity    = $2,
			no_liquidity     = $3,
			fee_rate         = $4,
			accumulated_fees = $5,
			updated_at       = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		id, pool.YesLiquidity, pool.NoLiquidity, pool.FeeRate, pool.AccumulatedFees)
	if err != nil {
		return fmt.Errorf("postgres: update pool %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update pool %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// MarkResolved records the final outcome. The WHERE clause refuses to touch
// an already-resolved market, so the first resolution wins.
func (s *MarketStore) MarkResolved(ctx context.Context, id string, outcome domain.Outcome, at time.Time) error {
	const query = `
		UPDATE markets SET
			resolved         = TRUE,
			resolved_outcome = $2,
			resolved_at      = $3,
			updated_at       = NOW()
		WHERE id = $1 AND resolved = FALSE`

	tag, err := s.pool.Exec(ctx, query, id, string(outcome), at)
	if err != nil {
		return fmt.Errorf("postgres: mark resolved %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if checkErr := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM markets WHERE id = $1)", id,
		).Scan(&exists); checkErr == nil && !exists {
			return fmt.Errorf("postgres: mark resolved %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("postgres: mark resolved %s: %w", id, domain.ErrMarketFrozen)
	}
	return nil
}

// ListActive returns unresolved markets with pagination.
func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE resolved = FALSE ORDER BY created_at DESC`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
