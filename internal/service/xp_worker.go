package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/civicpulse/marketd/internal/domain"
)

// XPWorkerParams configures the retry loop for XP awards.
type XPWorkerParams struct {
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
	QueueSize   int
}

// XPWorker runs the second phase of settlement: asking the scoring
// collaborator for an XP award and recording it. The phase is decoupled from
// the points settlement so scoring outages delay the XP award instead of the
// payout. A prediction stays in its resolved state, XP pending, until an
// award is recorded.
type XPWorker struct {
	predictions domain.PredictionStore
	scorer      domain.Scorer
	bus         domain.SignalBus
	params      XPWorkerParams
	jobs        chan domain.Prediction
	logger      *slog.Logger
}

// NewXPWorker creates an XPWorker. Run must be called for submitted jobs to
// be processed.
func NewXPWorker(predictions domain.PredictionStore, scorer domain.Scorer, bus domain.SignalBus, params XPWorkerParams, logger *slog.Logger) *XPWorker {
	if params.MaxAttempts <= 0 {
		params.MaxAttempts = 5
	}
	if params.Backoff <= 0 {
		params.Backoff = 2 * time.Second
	}
	if params.Timeout <= 0 {
		params.Timeout = 10 * time.Second
	}
	if params.QueueSize <= 0 {
		params.QueueSize = 256
	}
	return &XPWorker{
		predictions: predictions,
		scorer:      scorer,
		bus:         bus,
		params:      params,
		jobs:        make(chan domain.Prediction, params.QueueSize),
		logger:      logger.With(slog.String("component", "xp_worker")),
	}
}

// Submit queues a prediction for XP processing without blocking. It reports
// whether the job was accepted; a full queue drops the job, leaving the
// award pending for a later ResolvePrediction retry.
func (w *XPWorker) Submit(pred domain.Prediction) bool {
	select {
	case w.jobs <- pred:
		return true
	default:
		return false
	}
}

// Run consumes the queue until ctx is canceled.
func (w *XPWorker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "xp_worker: started",
		slog.Int("max_attempts", w.params.MaxAttempts),
		slog.Duration("backoff", w.params.Backoff),
	)
	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "xp_worker: stopped")
			return ctx.Err()
		case pred := <-w.jobs:
			w.process(ctx, pred)
		}
	}
}

// process retries the scoring call with linear backoff. Success records the
// award and moves the prediction to its settled state; exhausting the
// attempts leaves the award pending.
func (w *XPWorker) process(ctx context.Context, pred domain.Prediction) {
	var lastErr error

	for attempt := 1; attempt <= w.params.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt-1) * w.params.Backoff):
			}
		}

		xp, err := w.award(ctx, pred)
		if err == nil {
			w.record(ctx, pred, xp)
			return
		}
		lastErr = err
		w.logger.WarnContext(ctx, "xp_worker: award attempt failed",
			slog.String("prediction_id", pred.ID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}

	w.logger.ErrorContext(ctx, "xp_worker: attempts exhausted, award stays pending",
		slog.String("prediction_id", pred.ID),
		slog.Int("attempts", w.params.MaxAttempts),
		slog.String("error", lastErr.Error()),
	)
	w.publish(ctx, "xp_pending", pred, 0)
}

func (w *XPWorker) award(ctx context.Context, pred domain.Prediction) (int64, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.params.Timeout)
	defer cancel()

	xp, err := w.scorer.AwardPredictionXP(callCtx, pred.UserID, pred)
	if err != nil {
		return 0, fmt.Errorf("xp_worker: award xp: %w", err)
	}
	return xp, nil
}

func (w *XPWorker) record(ctx context.Context, pred domain.Prediction, xp int64) {
	if err := w.predictions.SetAwardedXP(ctx, pred.ID, xp, time.Now().UTC()); err != nil {
		w.logger.ErrorContext(ctx, "xp_worker: record award failed",
			slog.String("prediction_id", pred.ID),
			slog.Int64("xp", xp),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.InfoContext(ctx, "xp_worker: xp awarded",
		slog.String("prediction_id", pred.ID),
		slog.String("user_id", pred.UserID),
		slog.Int64("xp", xp),
	)
	w.publish(ctx, "xp_awarded", pred, xp)
}

func (w *XPWorker) publish(ctx context.Context, event string, pred domain.Prediction, xp int64) {
	if w.bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"event":         event,
		"prediction_id": pred.ID,
		"user_id":       pred.UserID,
		"xp":            xp,
	})
	if err := w.bus.Publish(ctx, "settlements", evt); err != nil {
		w.logger.WarnContext(ctx, "xp_worker: publish event failed",
			slog.String("prediction_id", pred.ID),
			slog.String("error", err.Error()),
		)
	}
}
