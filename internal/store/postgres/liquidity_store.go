package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civicpulse/marketd/internal/domain"
)

// LiquidityPositionStore implements domain.LiquidityPositionStore using
// PostgreSQL.
type LiquidityPositionStore struct {
	pool *pgxpool.Pool
}

// NewLiquidityPositionStore creates a store backed by the given pool.
func NewLiquidityPositionStore(pool *pgxpool.Pool) *LiquidityPositionStore {
	return &LiquidityPositionStore{pool: pool}
}

const positionCols = `provider_id, market_id, lp_shares, total_rewards, created_at, updated_at`

// Upsert inserts or replaces a provider's position on a market.
func (s *LiquidityPositionStore) Upsert(ctx context.Context, pos domain.LiquidityPosition) error {
	const query = `
		INSERT INTO liquidity_positions (
			provider_id, market_id, lp_shares, total_rewards, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider_id, market_id) DO UPDATE SET
			lp_shares     = EXCLUDED.lp_shares,
			total_rewards = EXCLUDED.total_rewards,
			updated_at    = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		pos.ProviderID, pos.MarketID, pos.LPShares, pos.TotalRewards,
		pos.CreatedAt, pos.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", pos.ProviderID, pos.MarketID, err)
	}
	return nil
}

// Get retrieves a provider's position on a market.
func (s *LiquidityPositionStore) Get(ctx context.Context, providerID, marketID string) (domain.LiquidityPosition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM liquidity_positions
		 WHERE provider_id = $1 AND market_id = $2`, providerID, marketID)

	var pos domain.LiquidityPosition
	err := row.Scan(
		&pos.ProviderID, &pos.MarketID, &pos.LPShares, &pos.TotalRewards,
		&pos.CreatedAt, &pos.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LiquidityPosition{}, domain.ErrNotFound
		}
		return domain.LiquidityPosition{}, fmt.Errorf("postgres: get position %s/%s: %w", providerID, marketID, err)
	}
	return pos, nil
}

// ListByMarket returns every LP position on a market.
func (s *LiquidityPositionStore) ListByMarket(ctx context.Context, marketID string) ([]domain.LiquidityPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM liquidity_positions
		 WHERE market_id = $1 ORDER BY created_at ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions %s: %w", marketID, err)
	}
	defer rows.Close()

	var positions []domain.LiquidityPosition
	for rows.Next() {
		var pos domain.LiquidityPosition
		if err := rows.Scan(
			&pos.ProviderID, &pos.MarketID, &pos.LPShares, &pos.TotalRewards,
			&pos.CreatedAt, &pos.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}

// Delete removes a provider's position after a full exit.
func (s *LiquidityPositionStore) Delete(ctx context.Context, providerID, marketID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM liquidity_positions WHERE provider_id = $1 AND market_id = $2`,
		providerID, marketID)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s/%s: %w", providerID, marketID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.LiquidityPositionStore = (*LiquidityPositionStore)(nil)
