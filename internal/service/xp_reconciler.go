package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/civicpulse/marketd/internal/domain"
)

// XPReconciler tails the durable settlement stream and re-submits XP awards
// that are still pending, so predictions stranded by a scoring outage or a
// process restart eventually reach their terminal state.
type XPReconciler struct {
	predictions domain.PredictionStore
	bus         domain.SignalBus
	xp          *XPWorker
	interval    time.Duration
	lastID      string
	logger      *slog.Logger
}

// NewXPReconciler creates an XPReconciler polling at the given interval.
func NewXPReconciler(predictions domain.PredictionStore, bus domain.SignalBus, xp *XPWorker, interval time.Duration, logger *slog.Logger) *XPReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &XPReconciler{
		predictions: predictions,
		bus:         bus,
		xp:          xp,
		interval:    interval,
		lastID:      "0",
		logger:      logger.With(slog.String("component", "xp_reconciler")),
	}
}

// Run polls the settlement stream until the context is cancelled. It runs one
// sweep immediately on start.
func (r *XPReconciler) Run(ctx context.Context) error {
	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep reads new settlement entries and re-queues every prediction on those
// markets whose XP award is still missing.
func (r *XPReconciler) sweep(ctx context.Context) {
	msgs, err := r.bus.StreamRead(ctx, "settlements:log", r.lastID, 100)
	if err != nil {
		r.logger.WarnContext(ctx, "xp_reconciler: stream read failed",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, msg := range msgs {
		var evt struct {
			MarketID string `json:"market_id"`
		}
		if err := json.Unmarshal(msg.Payload, &evt); err != nil || evt.MarketID == "" {
			r.lastID = msg.ID
			continue
		}

		pending, err := r.predictions.ListPendingXPByMarket(ctx, evt.MarketID)
		if err != nil {
			r.logger.WarnContext(ctx, "xp_reconciler: list pending failed",
				slog.String("market_id", evt.MarketID),
				slog.String("error", err.Error()),
			)
			// Leave lastID untouched so the entry is retried next sweep.
			return
		}

		resubmitted := 0
		for _, pred := range pending {
			if r.xp.Submit(pred) {
				resubmitted++
			}
		}
		if resubmitted > 0 {
			r.logger.InfoContext(ctx, "xp_reconciler: re-queued pending awards",
				slog.String("market_id", evt.MarketID),
				slog.Int("count", resubmitted),
			)
		}
		r.lastID = msg.ID
	}
}
