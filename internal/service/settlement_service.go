package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/civicpulse/marketd/internal/domain"
)

// SettlementParams configures payout behavior. The buffer bonus and payout
// rate are deployment parameters, not constants.
type SettlementParams struct {
	// PayoutPerShare is the points credited per share on a correct prediction.
	PayoutPerShare float64
	// BufferBonus is the extra payout fraction for buffer-funded stakes.
	BufferBonus float64
	LockTTL     time.Duration
}

// SettlementSummary reports the outcome of a market resolution fan-out.
type SettlementSummary struct {
	MarketID    string  `json:"market_id"`
	Outcome     string  `json:"outcome"`
	Settled     int     `json:"settled"`
	Correct     int     `json:"correct"`
	TotalPayout float64 `json:"total_payout"`
	Failed      int     `json:"failed"`
}

// ReportSink archives a settlement report after a market resolves. It is
// best-effort: failures are logged and never affect settlement.
type ReportSink interface {
	ArchiveSettlement(ctx context.Context, market domain.Market, settled []domain.Prediction) (string, error)
}

// EventNotifier pushes operator-facing notifications. It matches the notify
// package's Notifier without importing it.
type EventNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SettlementService drives the prediction lifecycle from resolution to
// payout. Settlement is two-phase: the points settlement and state
// transition commit atomically under the market lock; the XP award is handed
// to the retry worker after the lock is released, so a slow or failing
// scoring collaborator can never block trading on other markets.
type SettlementService struct {
	markets     domain.MarketStore
	predictions domain.PredictionStore
	ledger      domain.BalanceLedger
	locks       domain.LockManager
	bus         domain.SignalBus
	audit       domain.AuditStore
	xp          *XPWorker
	reports     ReportSink
	notifier    EventNotifier
	params      SettlementParams
	logger      *slog.Logger
}

// NewSettlementService creates a SettlementService. reports and notifier may
// be nil.
func NewSettlementService(
	markets domain.MarketStore,
	predictions domain.PredictionStore,
	ledger domain.BalanceLedger,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	xp *XPWorker,
	reports ReportSink,
	notifier EventNotifier,
	params SettlementParams,
	logger *slog.Logger,
) *SettlementService {
	if params.PayoutPerShare <= 0 {
		params.PayoutPerShare = 1.0
	}
	if params.LockTTL <= 0 {
		params.LockTTL = 30 * time.Second
	}
	return &SettlementService{
		markets:     markets,
		predictions: predictions,
		ledger:      ledger,
		locks:       locks,
		bus:         bus,
		audit:       audit,
		xp:          xp,
		reports:     reports,
		notifier:    notifier,
		params:      params,
		logger:      logger.With(slog.String("component", "settlement_service")),
	}
}

// ResolveMarket records the final outcome, freezes the pool, and settles
// every open prediction on the market. Calling it again with the same
// outcome settles any predictions a previous attempt missed and pays nothing
// twice; calling it with a different outcome is rejected.
func (s *SettlementService) ResolveMarket(ctx context.Context, marketID string, outcome domain.Outcome) (SettlementSummary, error) {
	if !outcome.Valid() {
		return SettlementSummary{}, fmt.Errorf("settlement_service: %w: %q", domain.ErrInvalidOutcome, outcome)
	}

	unlock, err := s.locks.Acquire(ctx, marketLockKey(marketID), s.params.LockTTL)
	if err != nil {
		return SettlementSummary{}, fmt.Errorf("settlement_service: lock market %q: %w", marketID, err)
	}
	locked := true
	defer func() {
		if locked {
			unlock()
		}
	}()

	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return SettlementSummary{}, fmt.Errorf("settlement_service: get market %q: %w", marketID, err)
	}

	if market.Resolved {
		if market.ResolvedOutcome == nil || *market.ResolvedOutcome != outcome {
			return SettlementSummary{}, fmt.Errorf("settlement_service: market %q already resolved: %w",
				marketID, domain.ErrMarketFrozen)
		}
		// Idempotent retry: fall through and settle whatever is still open.
	} else {
		now := time.Now().UTC()
		if err := s.markets.MarkResolved(ctx, marketID, outcome, now); err != nil {
			return SettlementSummary{}, fmt.Errorf("settlement_service: mark resolved: %w", err)
		}
		market.Resolved = true
		market.ResolvedOutcome = &outcome
		market.ResolvedAt = &now
	}

	open, err := s.predictions.ListOpenByMarket(ctx, marketID)
	if err != nil {
		return SettlementSummary{}, fmt.Errorf("settlement_service: list open predictions: %w", err)
	}

	summary := SettlementSummary{MarketID: marketID, Outcome: string(outcome)}
	settled := make([]domain.Prediction, 0, len(open))

	for _, pred := range open {
		payout, correct, settleErr := s.settle(ctx, &pred, market)
		if settleErr != nil {
			if errors.Is(settleErr, domain.ErrAlreadySettled) {
				continue
			}
			summary.Failed++
			s.logger.ErrorContext(ctx, "settlement_service: settle failed",
				slog.String("prediction_id", pred.ID),
				slog.String("error", settleErr.Error()),
			)
			continue
		}
		summary.Settled++
		summary.TotalPayout += payout
		if correct {
			summary.Correct++
		}
		settled = append(settled, pred)
	}

	// Phase 1 is committed; release the lock before any external call.
	locked = false
	unlock()

	for _, pred := range settled {
		s.submitXP(ctx, pred)
	}
	s.afterResolve(ctx, market, settled, summary)

	return summary, nil
}

// ResolvePrediction settles a single prediction against its already-resolved
// market. It returns ErrMarketNotResolved when the market is still open and
// ErrAlreadySettled once the prediction is terminal; repeated calls never
// produce an additional payout. For predictions whose points phase committed
// but whose XP is still pending, it re-submits the XP request.
func (s *SettlementService) ResolvePrediction(ctx context.Context, predictionID string) error {
	pred, err := s.predictions.GetByID(ctx, predictionID)
	if err != nil {
		return fmt.Errorf("settlement_service: get prediction %q: %w", predictionID, err)
	}

	market, err := s.markets.GetByID(ctx, pred.MarketID)
	if err != nil {
		return fmt.Errorf("settlement_service: get market %q: %w", pred.MarketID, err)
	}
	if !market.Resolved || market.ResolvedOutcome == nil {
		return fmt.Errorf("settlement_service: market %q: %w", pred.MarketID, domain.ErrMarketNotResolved)
	}
	if pred.State == domain.PredictionSettled {
		return fmt.Errorf("settlement_service: prediction %q: %w", predictionID, domain.ErrAlreadySettled)
	}

	if pred.State == domain.PredictionOpen {
		unlock, err := s.locks.Acquire(ctx, marketLockKey(pred.MarketID), s.params.LockTTL)
		if err != nil {
			return fmt.Errorf("settlement_service: lock market %q: %w", pred.MarketID, err)
		}

		// Re-read under the lock; another settle may have won the race.
		pred, err = s.predictions.GetByID(ctx, predictionID)
		if err == nil && pred.State == domain.PredictionOpen {
			_, _, err = s.settle(ctx, &pred, market)
		}
		unlock()
		if err != nil {
			return fmt.Errorf("settlement_service: settle prediction %q: %w", predictionID, err)
		}
	}

	// Points are committed but XP is pending: hand it back to the worker.
	s.submitXP(ctx, pred)
	return nil
}

// settle runs the atomic points phase for one prediction. The caller holds
// the market lock. pred is updated in place with the committed state.
func (s *SettlementService) settle(ctx context.Context, pred *domain.Prediction, market domain.Market) (payout float64, correct bool, err error) {
	if pred.State != domain.PredictionOpen {
		return 0, false, domain.ErrAlreadySettled
	}

	correct = pred.Outcome == *market.ResolvedOutcome

	if correct {
		payout = pred.Shares * s.params.PayoutPerShare
		if pred.FundedFromBuffer {
			payout *= 1 + s.params.BufferBonus
		}
		if err := s.ledger.Credit(ctx, pred.UserID, domain.BalancePrimary, payout); err != nil {
			return 0, false, fmt.Errorf("credit payout: %w", err)
		}
		pred.State = domain.PredictionResolvedCorrect
	} else {
		pred.State = domain.PredictionResolvedIncorrect
	}
	pred.AwardedPoints = &payout

	if err := s.predictions.Update(ctx, *pred); err != nil {
		if correct && payout > 0 {
			// Undo the credit so a retried settlement cannot double-pay.
			if debitErr := s.ledger.Debit(ctx, pred.UserID, domain.BalancePrimary, payout); debitErr != nil {
				s.logger.ErrorContext(ctx, "settlement_service: payout rollback failed",
					slog.String("prediction_id", pred.ID),
					slog.Float64("payout", payout),
					slog.String("error", debitErr.Error()),
				)
			}
		}
		return 0, false, fmt.Errorf("commit state: %w", err)
	}

	s.auditLog(ctx, "points_settled", map[string]any{
		"prediction_id": pred.ID,
		"market_id":     pred.MarketID,
		"user_id":       pred.UserID,
		"correct":       correct,
		"payout":        payout,
		"buffer_funded": pred.FundedFromBuffer,
	})

	return payout, correct, nil
}

// submitXP queues the best-effort phase 2 of settlement.
func (s *SettlementService) submitXP(ctx context.Context, pred domain.Prediction) {
	if s.xp == nil {
		return
	}
	if !s.xp.Submit(pred) {
		s.logger.WarnContext(ctx, "settlement_service: xp queue full, award stays pending",
			slog.String("prediction_id", pred.ID),
		)
	}
}

// afterResolve handles the best-effort follow-ups of a resolution: the
// settlement event, audit row, archived report, and operator notification.
func (s *SettlementService) afterResolve(ctx context.Context, market domain.Market, settled []domain.Prediction, summary SettlementSummary) {
	if s.bus != nil {
		evt, _ := json.Marshal(summary)
		if err := s.bus.Publish(ctx, "settlements", evt); err != nil {
			s.logger.WarnContext(ctx, "settlement_service: publish event failed",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
		}
		// Durable copy for the reconciler, which re-checks pending XP awards.
		if err := s.bus.StreamAppend(ctx, "settlements:log", evt); err != nil {
			s.logger.WarnContext(ctx, "settlement_service: stream append failed",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.auditLog(ctx, "market_resolved", map[string]any{
		"market_id":    market.ID,
		"outcome":      summary.Outcome,
		"settled":      summary.Settled,
		"total_payout": summary.TotalPayout,
	})

	if s.reports != nil {
		if key, err := s.reports.ArchiveSettlement(ctx, market, settled); err != nil {
			s.logger.WarnContext(ctx, "settlement_service: report archive failed",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.InfoContext(ctx, "settlement_service: report archived",
				slog.String("market_id", market.ID),
				slog.String("key", key),
			)
		}
	}

	if s.notifier != nil {
		msg := fmt.Sprintf("%s resolved %s: %d predictions settled, %.2f points paid",
			market.Question, summary.Outcome, summary.Settled, summary.TotalPayout)
		if err := s.notifier.Notify(ctx, "market_resolved", "Market resolved", msg); err != nil {
			s.logger.WarnContext(ctx, "settlement_service: notify failed",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "settlement_service: market settled",
		slog.String("market_id", market.ID),
		slog.String("outcome", summary.Outcome),
		slog.Int("settled", summary.Settled),
		slog.Int("correct", summary.Correct),
		slog.Float64("total_payout", summary.TotalPayout),
	)
}

func (s *SettlementService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
