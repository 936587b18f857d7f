// Package service contains the engine's business logic: trade execution,
// liquidity operations, and the prediction settlement lifecycle. Services
// depend only on domain interfaces so stores, caches, and collaborators can
// be swapped in tests.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/civicpulse/marketd/internal/amm"
	"github.com/civicpulse/marketd/internal/domain"
)

// OddsService answers pure pricing queries. Reads are lock-free: they work
// against the cached snapshot when it is fresh enough and fall back to the
// stored pool state.
type OddsService struct {
	markets domain.MarketStore
	cache   domain.OddsCache
	ttl     time.Duration
	logger  *slog.Logger
}

// NewOddsService creates an OddsService. cache may be nil, in which case
// every query reads the store.
func NewOddsService(markets domain.MarketStore, cache domain.OddsCache, ttl time.Duration, logger *slog.Logger) *OddsService {
	return &OddsService{
		markets: markets,
		cache:   cache,
		ttl:     ttl,
		logger:  logger.With(slog.String("component", "odds_service")),
	}
}

// CurrentOdds returns the pool-implied odds for a market.
func (s *OddsService) CurrentOdds(ctx context.Context, marketID string) (domain.Odds, error) {
	if s.cache != nil {
		if odds, ts, err := s.cache.Get(ctx, marketID); err == nil && time.Since(ts) <= s.ttl {
			return odds, nil
		}
	}

	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Odds{}, fmt.Errorf("odds_service: get market %q: %w", marketID, err)
	}

	odds, err := amm.CurrentOdds(market.Pool)
	if err != nil {
		return domain.Odds{}, fmt.Errorf("odds_service: market %q: %w", marketID, err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, marketID, odds, time.Now().UTC()); cacheErr != nil {
			s.logger.WarnContext(ctx, "odds_service: cache set failed",
				slog.String("market_id", marketID),
				slog.String("error", cacheErr.Error()),
			)
		}
	}

	return odds, nil
}

// PreviewTrade simulates a trade without mutating anything. It returns the
// same quote Place would use against the current snapshot of the pool.
func (s *OddsService) PreviewTrade(ctx context.Context, marketID string, stake float64, outcome domain.Outcome) (amm.Quote, error) {
	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return amm.Quote{}, fmt.Errorf("odds_service: get market %q: %w", marketID, err)
	}
	if market.Frozen() {
		return amm.Quote{}, fmt.Errorf("odds_service: market %q: %w", marketID, domain.ErrMarketFrozen)
	}

	quote, err := amm.ShareAllocation(market.Pool, stake, outcome)
	if err != nil {
		return amm.Quote{}, fmt.Errorf("odds_service: preview market %q: %w", marketID, err)
	}
	return quote, nil
}

// GetMarket returns a market by ID.
func (s *OddsService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	market, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("odds_service: get market %q: %w", id, err)
	}
	return market, nil
}

// ListActive returns active markets with pagination.
func (s *OddsService) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListActive(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("odds_service: list markets: %w", err)
	}
	return markets, nil
}

// Count returns the number of markets.
func (s *OddsService) Count(ctx context.Context) (int64, error) {
	n, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("odds_service: count markets: %w", err)
	}
	return n, nil
}
