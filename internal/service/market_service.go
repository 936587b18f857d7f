package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/civicpulse/marketd/internal/domain"
)

// CreateMarketRequest carries the parameters for opening a new market.
type CreateMarketRequest struct {
	Question string
	Slug     string
	// InitialLiquidity seeds the pool, split evenly across both sides so
	// the market opens at even odds.
	InitialLiquidity float64
	FeeRate          float64
}

// MarketService opens new markets with seeded pools.
type MarketService struct {
	markets    domain.MarketStore
	audit      domain.AuditStore
	defaultFee float64
	logger     *slog.Logger
}

// NewMarketService creates a MarketService. defaultFee is applied to markets
// created without an explicit fee rate.
func NewMarketService(markets domain.MarketStore, audit domain.AuditStore, defaultFee float64, logger *slog.Logger) *MarketService {
	return &MarketService{
		markets:    markets,
		audit:      audit,
		defaultFee: defaultFee,
		logger:     logger.With(slog.String("component", "market_service")),
	}
}

// Create opens a market at even odds. The whole initial deposit goes into
// the pool, half per side.
func (s *MarketService) Create(ctx context.Context, req CreateMarketRequest) (domain.Market, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return domain.Market{}, fmt.Errorf("market_service: question is required")
	}
	if req.InitialLiquidity <= 0 {
		return domain.Market{}, fmt.Errorf("market_service: %w: initial liquidity %g",
			domain.ErrInvalidStake, req.InitialLiquidity)
	}
	feeRate := req.FeeRate
	if feeRate == 0 {
		feeRate = s.defaultFee
	}
	if feeRate < 0 || feeRate >= 1 {
		return domain.Market{}, fmt.Errorf("market_service: %w: fee rate %g",
			domain.ErrInvalidPoolState, feeRate)
	}

	slug := strings.TrimSpace(req.Slug)
	if slug == "" {
		slug = slugify(question)
	}

	market := domain.Market{
		ID:       uuid.New().String(),
		Question: question,
		Slug:     slug,
		Pool: domain.PoolState{
			YesLiquidity: req.InitialLiquidity / 2,
			NoLiquidity:  req.InitialLiquidity / 2,
			FeeRate:      feeRate,
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := s.markets.Create(ctx, market); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create market: %w", err)
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, "market_created", map[string]any{
			"market_id":         market.ID,
			"slug":              market.Slug,
			"initial_liquidity": req.InitialLiquidity,
			"fee_rate":          feeRate,
		}); err != nil {
			s.logger.WarnContext(ctx, "market_service: audit log failed",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "market_service: market created",
		slog.String("market_id", market.ID),
		slog.String("slug", market.Slug),
	)

	return market, nil
}

// slugify turns a question into a URL-safe identifier.
func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
