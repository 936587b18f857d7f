package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/civicpulse/marketd/internal/amm"
	"github.com/civicpulse/marketd/internal/domain"
)

// BufferParams bounds liquidity buffer deposits and time-locks withdrawals.
type BufferParams struct {
	MinDeposit      float64
	MaxDeposit      float64
	WithdrawLockout time.Duration
}

// WithdrawResult reports the proportional amounts removed from the pool by a
// liquidity withdrawal.
type WithdrawResult struct {
	YesAmount float64 `json:"yes_amount"`
	NoAmount  float64 `json:"no_amount"`
	Credited  float64 `json:"credited"`
}

// LiquidityService tracks proportional LP ownership and keeps every deposit
// and withdrawal price-neutral. It also manages the user-level liquidity
// buffer accounts that can fund bonus-earning predictions.
type LiquidityService struct {
	markets   domain.MarketStore
	positions domain.LiquidityPositionStore
	ledger    domain.BalanceLedger
	locks     domain.LockManager
	odds      domain.OddsCache
	audit     domain.AuditStore
	buffer    BufferParams
	lockTTL   time.Duration
	logger    *slog.Logger
}

// NewLiquidityService creates a LiquidityService with all dependencies.
func NewLiquidityService(
	markets domain.MarketStore,
	positions domain.LiquidityPositionStore,
	ledger domain.BalanceLedger,
	locks domain.LockManager,
	odds domain.OddsCache,
	audit domain.AuditStore,
	buffer BufferParams,
	lockTTL time.Duration,
	logger *slog.Logger,
) *LiquidityService {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &LiquidityService{
		markets:   markets,
		positions: positions,
		ledger:    ledger,
		locks:     locks,
		odds:      odds,
		audit:     audit,
		buffer:    buffer,
		lockTTL:   lockTTL,
		logger:    logger.With(slog.String("component", "liquidity_service")),
	}
}

// Provide deposits amount into a market's pool, growing both sides in the
// current ratio so the odds are unchanged, and mints proportional LP shares.
func (s *LiquidityService) Provide(ctx context.Context, marketID, providerID string, amount float64) (domain.LiquidityPosition, error) {
	unlock, err := s.locks.Acquire(ctx, marketLockKey(marketID), s.lockTTL)
	if err != nil {
		return domain.LiquidityPosition{}, fmt.Errorf("liquidity_service: lock market %q: %w", marketID, err)
	}
	defer unlock()

	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.LiquidityPosition{}, fmt.Errorf("liquidity_service: get market %q: %w", marketID, err)
	}
	if market.Frozen() {
		return domain.LiquidityPosition{}, fmt.Errorf("liquidity_service: market %q: %w", marketID, domain.ErrMarketFrozen)
	}

	totalLP, positions, err := s.marketShares(ctx, marketID)
	if err != nil {
		return domain.LiquidityPosition{}, err
	}

	plan, err := amm.PlanDeposit(market.Pool, totalLP, amount)
	if err != nil {
		return domain.LiquidityPosition{}, fmt.Errorf("liquidity_service: plan deposit: %w", err)
	}

	if err := s.ledger.Debit(ctx, providerID, domain.BalancePrimary, amount); err != nil {
		return domain.LiquidityPosition{}, fmt.Errorf("liquidity_service: debit provider: %w", err)
	}

	pool := market.Pool
	pool.YesLiquidity = plan.NewYesLiquidity
	pool.NoLiquidity = plan.NewNoLiquidity

	if err := s.markets.UpdatePool(ctx, marketID, pool); err != nil {
		s.compensate(ctx, providerID, amount)
		return domain.LiquidityPosition{}, fmt.Errorf("liquidity_service: commit pool: %w", err)
	}

	now := time.Now().UTC()
	pos := findPosition(positions, providerID)
	if pos == nil {
		pos = &domain.LiquidityPosition{
			ProviderID: providerID,
			MarketID:   marketID,
			CreatedAt:  now,
		}
	}
	pos.LPShares += plan.LPShares
	pos.UpdatedAt = now

	if err := s.positions.Upsert(ctx, *pos); err != nil {
		if revertErr := s.markets.UpdatePool(ctx, marketID, market.Pool); revertErr != nil {
			s.logger.ErrorContext(ctx, "liquidity_service: pool revert failed",
				slog.String("market_id", marketID),
				slog.String("error", revertErr.Error()),
			)
		}
		s.compensate(ctx, providerID, amount)
		return domain.LiquidityPosition{}, fmt.Errorf("liquidity_service: upsert position: %w", err)
	}

	s.auditLog(ctx, "liquidity_provided", map[string]any{
		"market_id":   marketID,
		"provider_id": providerID,
		"amount":      amount,
		"lp_shares":   plan.LPShares,
	})

	s.logger.InfoContext(ctx, "liquidity_service: liquidity provided",
		slog.String("market_id", marketID),
		slog.String("provider_id", providerID),
		slog.Float64("amount", amount),
		slog.Float64("lp_shares", plan.LPShares),
	)

	return *pos, nil
}

// Withdraw burns lpShares of the provider's position and returns the
// proportional yes/no amounts, credited to the provider's primary balance.
// The withdrawal holds the pool ratio, and therefore the odds, constant.
func (s *LiquidityService) Withdraw(ctx context.Context, marketID, providerID string, lpShares float64) (WithdrawResult, error) {
	unlock, err := s.locks.Acquire(ctx, marketLockKey(marketID), s.lockTTL)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("liquidity_service: lock market %q: %w", marketID, err)
	}
	defer unlock()

	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("liquidity_service: get market %q: %w", marketID, err)
	}
	if market.Frozen() {
		return WithdrawResult{}, fmt.Errorf("liquidity_service: market %q: %w", marketID, domain.ErrMarketFrozen)
	}

	totalLP, positions, err := s.marketShares(ctx, marketID)
	if err != nil {
		return WithdrawResult{}, err
	}

	pos := findPosition(positions, providerID)
	if pos == nil || lpShares > pos.LPShares {
		return WithdrawResult{}, fmt.Errorf("liquidity_service: provider %q: %w", providerID, domain.ErrInsufficientShares)
	}

	plan, err := amm.PlanWithdrawal(market.Pool, totalLP, lpShares)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("liquidity_service: plan withdrawal: %w", err)
	}

	pool := market.Pool
	pool.YesLiquidity = plan.NewYesLiquidity
	pool.NoLiquidity = plan.NewNoLiquidity

	if err := s.markets.UpdatePool(ctx, marketID, pool); err != nil {
		return WithdrawResult{}, fmt.Errorf("liquidity_service: commit pool: %w", err)
	}

	pos.LPShares -= lpShares
	pos.UpdatedAt = time.Now().UTC()
	if amm.Exhausted(pos.LPShares) {
		err = s.positions.Delete(ctx, providerID, marketID)
	} else {
		err = s.positions.Upsert(ctx, *pos)
	}
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("liquidity_service: update position: %w", err)
	}

	credited := plan.YesAmount + plan.NoAmount
	if err := s.ledger.Credit(ctx, providerID, domain.BalancePrimary, credited); err != nil {
		return WithdrawResult{}, fmt.Errorf("liquidity_service: credit provider: %w", err)
	}

	s.auditLog(ctx, "liquidity_withdrawn", map[string]any{
		"market_id":   marketID,
		"provider_id": providerID,
		"lp_shares":   lpShares,
		"yes_amount":  plan.YesAmount,
		"no_amount":   plan.NoAmount,
	})

	return WithdrawResult{
		YesAmount: plan.YesAmount,
		NoAmount:  plan.NoAmount,
		Credited:  credited,
	}, nil
}

// SharePercentage recomputes a provider's ownership of a market's pool from
// the current ledger state.
func (s *LiquidityService) SharePercentage(ctx context.Context, marketID, providerID string) (float64, error) {
	totalLP, positions, err := s.marketShares(ctx, marketID)
	if err != nil {
		return 0, err
	}
	pos := findPosition(positions, providerID)
	if pos == nil {
		return 0, nil
	}
	return amm.SharePercentage(pos.LPShares, totalLP), nil
}

// PositionsByMarket returns all LP positions for a market.
func (s *LiquidityService) PositionsByMarket(ctx context.Context, marketID string) ([]domain.LiquidityPosition, error) {
	positions, err := s.positions.ListByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("liquidity_service: list positions for %q: %w", marketID, err)
	}
	return positions, nil
}

// DistributeFees pays a market's accumulated trading fees out to its LPs in
// proportion to their share ownership, and zeroes the pool's fee bucket. It
// returns the total distributed.
func (s *LiquidityService) DistributeFees(ctx context.Context, marketID string) (float64, error) {
	unlock, err := s.locks.Acquire(ctx, marketLockKey(marketID), s.lockTTL)
	if err != nil {
		return 0, fmt.Errorf("liquidity_service: lock market %q: %w", marketID, err)
	}
	defer unlock()

	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("liquidity_service: get market %q: %w", marketID, err)
	}

	fees := market.Pool.AccumulatedFees
	if fees <= 0 {
		return 0, nil
	}

	totalLP, positions, err := s.marketShares(ctx, marketID)
	if err != nil {
		return 0, err
	}
	if totalLP <= 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	for i := range positions {
		cut := fees * positions[i].LPShares / totalLP
		if cut <= 0 {
			continue
		}
		if err := s.ledger.Credit(ctx, positions[i].ProviderID, domain.BalancePrimary, cut); err != nil {
			return 0, fmt.Errorf("liquidity_service: credit fee share to %q: %w", positions[i].ProviderID, err)
		}
		positions[i].TotalRewards += cut
		positions[i].UpdatedAt = now
		if err := s.positions.Upsert(ctx, positions[i]); err != nil {
			return 0, fmt.Errorf("liquidity_service: record fee share for %q: %w", positions[i].ProviderID, err)
		}
	}

	pool := market.Pool
	pool.AccumulatedFees = 0
	if err := s.markets.UpdatePool(ctx, marketID, pool); err != nil {
		return 0, fmt.Errorf("liquidity_service: clear fee bucket: %w", err)
	}

	s.auditLog(ctx, "fees_distributed", map[string]any{
		"market_id": marketID,
		"total":     fees,
	})

	return fees, nil
}

// DepositBuffer moves funds from the user's primary balance into the
// liquidity buffer, subject to the configured min/max bounds.
func (s *LiquidityService) DepositBuffer(ctx context.Context, userID string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("liquidity_service: %w: %g", domain.ErrInvalidStake, amount)
	}
	if s.buffer.MinDeposit > 0 && amount < s.buffer.MinDeposit {
		return fmt.Errorf("liquidity_service: %w: minimum buffer deposit is %g", domain.ErrInvalidStake, s.buffer.MinDeposit)
	}
	if s.buffer.MaxDeposit > 0 && amount > s.buffer.MaxDeposit {
		return fmt.Errorf("liquidity_service: %w: maximum buffer deposit is %g", domain.ErrInvalidStake, s.buffer.MaxDeposit)
	}

	if err := s.ledger.TransferToBuffer(ctx, userID, amount); err != nil {
		return fmt.Errorf("liquidity_service: buffer deposit: %w", err)
	}

	s.auditLog(ctx, "buffer_deposit", map[string]any{
		"user_id": userID,
		"amount":  amount,
	})
	return nil
}

// WithdrawBuffer moves funds from the buffer back to the primary balance.
// Withdrawals are refused inside the lockout window after the last deposit.
func (s *LiquidityService) WithdrawBuffer(ctx context.Context, userID string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("liquidity_service: %w: %g", domain.ErrInvalidStake, amount)
	}

	balances, err := s.ledger.Balances(ctx, userID)
	if err != nil {
		return fmt.Errorf("liquidity_service: balances for %q: %w", userID, err)
	}
	if s.buffer.WithdrawLockout > 0 && balances.LastBufferDeposit != nil {
		if elapsed := time.Since(*balances.LastBufferDeposit); elapsed < s.buffer.WithdrawLockout {
			return fmt.Errorf("liquidity_service: %w: %s remaining",
				domain.ErrWithdrawLocked, (s.buffer.WithdrawLockout - elapsed).Round(time.Hour))
		}
	}
	if balances.Buffer < amount {
		return fmt.Errorf("liquidity_service: buffer withdrawal: %w", domain.ErrInsufficientBalance)
	}

	if err := s.ledger.TransferFromBuffer(ctx, userID, amount); err != nil {
		return fmt.Errorf("liquidity_service: buffer withdrawal: %w", err)
	}

	s.auditLog(ctx, "buffer_withdraw", map[string]any{
		"user_id": userID,
		"amount":  amount,
	})
	return nil
}

// marketShares loads a market's LP positions and sums their shares.
func (s *LiquidityService) marketShares(ctx context.Context, marketID string) (float64, []domain.LiquidityPosition, error) {
	positions, err := s.positions.ListByMarket(ctx, marketID)
	if err != nil {
		return 0, nil, fmt.Errorf("liquidity_service: list positions for %q: %w", marketID, err)
	}
	total := 0.0
	for _, pos := range positions {
		total += pos.LPShares
	}
	return total, positions, nil
}

func (s *LiquidityService) compensate(ctx context.Context, providerID string, amount float64) {
	if err := s.ledger.Credit(ctx, providerID, domain.BalancePrimary, amount); err != nil {
		s.logger.ErrorContext(ctx, "liquidity_service: refund failed",
			slog.String("provider_id", providerID),
			slog.Float64("amount", amount),
			slog.String("error", err.Error()),
		)
	}
}

func (s *LiquidityService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "liquidity_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func findPosition(positions []domain.LiquidityPosition, providerID string) *domain.LiquidityPosition {
	for i := range positions {
		if positions[i].ProviderID == providerID {
			return &positions[i]
		}
	}
	return nil
}
