package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/civicpulse/marketd/internal/amm"
	"github.com/civicpulse/marketd/internal/domain"
)

// marketLockKey builds the lock key that serializes every pricing-affecting
// operation on a market.
func marketLockKey(marketID string) string {
	return "market:" + marketID
}

// PlaceRequest carries a validated trade request into the engine.
type PlaceRequest struct {
	MarketID         string
	UserID           string
	Stake            float64
	Outcome          domain.Outcome
	FundedFromBuffer bool
}

// PredictionService executes trades: it prices a stake through the AMM,
// debits the funding balance, commits the new pool state, and persists the
// resulting prediction. All of that happens under the market's lock.
type PredictionService struct {
	markets     domain.MarketStore
	predictions domain.PredictionStore
	ledger      domain.BalanceLedger
	locks       domain.LockManager
	odds        domain.OddsCache
	bus         domain.SignalBus
	audit       domain.AuditStore
	lockTTL     time.Duration
	logger      *slog.Logger
}

// NewPredictionService creates a PredictionService with all dependencies.
func NewPredictionService(
	markets domain.MarketStore,
	predictions domain.PredictionStore,
	ledger domain.BalanceLedger,
	locks domain.LockManager,
	odds domain.OddsCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	lockTTL time.Duration,
	logger *slog.Logger,
) *PredictionService {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &PredictionService{
		markets:     markets,
		predictions: predictions,
		ledger:      ledger,
		locks:       locks,
		odds:        odds,
		bus:         bus,
		audit:       audit,
		lockTTL:     lockTTL,
		logger:      logger.With(slog.String("component", "prediction_service")),
	}
}

// Place executes a trade. Validation happens before any mutation; on a
// partial failure after the debit, the debit is compensated so the operation
// has no observable effect.
func (s *PredictionService) Place(ctx context.Context, req PlaceRequest) (domain.Prediction, error) {
	if !req.Outcome.Valid() {
		return domain.Prediction{}, fmt.Errorf("prediction_service: %w: %q", domain.ErrInvalidOutcome, req.Outcome)
	}
	if req.Stake <= 0 {
		return domain.Prediction{}, fmt.Errorf("prediction_service: %w: %g", domain.ErrInvalidStake, req.Stake)
	}

	unlock, err := s.locks.Acquire(ctx, marketLockKey(req.MarketID), s.lockTTL)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: lock market %q: %w", req.MarketID, err)
	}
	defer unlock()

	market, err := s.markets.GetByID(ctx, req.MarketID)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: get market %q: %w", req.MarketID, err)
	}
	if market.Frozen() {
		return domain.Prediction{}, fmt.Errorf("prediction_service: market %q: %w", req.MarketID, domain.ErrMarketFrozen)
	}

	quote, err := amm.ShareAllocation(market.Pool, req.Stake, req.Outcome)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: price stake: %w", err)
	}

	kind := domain.BalancePrimary
	if req.FundedFromBuffer {
		kind = domain.BalanceBuffer
	}
	if err := s.ledger.Debit(ctx, req.UserID, kind, req.Stake); err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: debit %s balance: %w", kind, err)
	}

	pool := market.Pool
	pool.YesLiquidity = quote.NewYesLiquidity
	pool.NoLiquidity = quote.NewNoLiquidity
	pool.AccumulatedFees += quote.Fee

	if err := s.markets.UpdatePool(ctx, req.MarketID, pool); err != nil {
		s.refund(ctx, req.UserID, kind, req.Stake)
		return domain.Prediction{}, fmt.Errorf("prediction_service: commit pool: %w", err)
	}

	pred := domain.Prediction{
		ID:               uuid.New().String(),
		UserID:           req.UserID,
		MarketID:         req.MarketID,
		Outcome:          req.Outcome,
		Stake:            req.Stake,
		Shares:           quote.Shares,
		EntryPrice:       quote.Price,
		FundedFromBuffer: req.FundedFromBuffer,
		State:            domain.PredictionOpen,
		PlacedAt:         time.Now().UTC(),
	}

	if err := s.predictions.Create(ctx, pred); err != nil {
		// Roll the pool back and refund before surfacing the error.
		if revertErr := s.markets.UpdatePool(ctx, req.MarketID, market.Pool); revertErr != nil {
			s.logger.ErrorContext(ctx, "prediction_service: pool revert failed",
				slog.String("market_id", req.MarketID),
				slog.String("error", revertErr.Error()),
			)
		}
		s.refund(ctx, req.UserID, kind, req.Stake)
		return domain.Prediction{}, fmt.Errorf("prediction_service: create prediction: %w", err)
	}

	s.afterPlace(ctx, pred, quote)

	return pred, nil
}

// refund compensates a debit after a downstream failure.
func (s *PredictionService) refund(ctx context.Context, userID string, kind domain.BalanceKind, amount float64) {
	if err := s.ledger.Credit(ctx, userID, kind, amount); err != nil {
		s.logger.ErrorContext(ctx, "prediction_service: refund failed",
			slog.String("user_id", userID),
			slog.String("kind", string(kind)),
			slog.Float64("amount", amount),
			slog.String("error", err.Error()),
		)
	}
}

// afterPlace handles the best-effort side effects of a committed trade:
// odds cache invalidation, the trade event, and the audit row. None of these
// can fail the trade.
func (s *PredictionService) afterPlace(ctx context.Context, pred domain.Prediction, quote amm.Quote) {
	if s.odds != nil {
		if err := s.odds.Invalidate(ctx, pred.MarketID); err != nil {
			s.logger.WarnContext(ctx, "prediction_service: odds invalidate failed",
				slog.String("market_id", pred.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":         "prediction_placed",
			"prediction_id": pred.ID,
			"market_id":     pred.MarketID,
			"outcome":       string(pred.Outcome),
			"stake":         pred.Stake,
			"shares":        pred.Shares,
			"entry_price":   pred.EntryPrice,
		})
		if err := s.bus.Publish(ctx, "predictions", evt); err != nil {
			s.logger.WarnContext(ctx, "prediction_service: publish event failed",
				slog.String("prediction_id", pred.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, "prediction_placed", map[string]any{
			"prediction_id": pred.ID,
			"market_id":     pred.MarketID,
			"user_id":       pred.UserID,
			"outcome":       string(pred.Outcome),
			"stake":         pred.Stake,
			"shares":        pred.Shares,
			"fee":           quote.Fee,
			"buffer_funded": pred.FundedFromBuffer,
		}); err != nil {
			s.logger.WarnContext(ctx, "prediction_service: audit log failed",
				slog.String("prediction_id", pred.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "prediction_service: prediction placed",
		slog.String("prediction_id", pred.ID),
		slog.String("market_id", pred.MarketID),
		slog.String("outcome", string(pred.Outcome)),
		slog.Float64("stake", pred.Stake),
		slog.Float64("shares", pred.Shares),
	)
}

// GetByID returns a prediction by ID.
func (s *PredictionService) GetByID(ctx context.Context, id string) (domain.Prediction, error) {
	pred, err := s.predictions.GetByID(ctx, id)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: get prediction %q: %w", id, err)
	}
	return pred, nil
}

// ListByUser returns a user's predictions with pagination.
func (s *PredictionService) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Prediction, error) {
	preds, err := s.predictions.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("prediction_service: list predictions for %q: %w", userID, err)
	}
	return preds, nil
}
