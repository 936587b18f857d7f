package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/civicpulse/marketd/internal/server"
	"github.com/civicpulse/marketd/internal/server/handler"
	"github.com/civicpulse/marketd/internal/server/ws"
	"github.com/civicpulse/marketd/internal/service"
)

// services bundles the engine services shared by the operating modes.
type services struct {
	markets    *service.MarketService
	odds       *service.OddsService
	prediction *service.PredictionService
	liquidity  *service.LiquidityService
	settlement *service.SettlementService
	xpWorker   *service.XPWorker
	reconciler *service.XPReconciler
}

// buildServices constructs the service layer on top of the wired
// dependencies. The XP worker and reconciler are only built when a scoring
// client is configured; without one, settlements still commit and awards
// stay pending.
func (a *App) buildServices(deps *Dependencies) *services {
	eng := a.cfg.Engine

	s := &services{
		markets: service.NewMarketService(deps.Markets, deps.Audit, eng.DefaultFeeRate, a.logger),
		odds:    service.NewOddsService(deps.Markets, deps.Odds, eng.OddsCacheTTL.Duration, a.logger),
		prediction: service.NewPredictionService(
			deps.Markets, deps.Predictions, deps.Ledger, deps.Locks,
			deps.Odds, deps.Bus, deps.Audit, eng.TradeLockTTL.Duration, a.logger,
		),
		liquidity: service.NewLiquidityService(
			deps.Markets, deps.Positions, deps.Ledger, deps.Locks,
			deps.Odds, deps.Audit,
			service.BufferParams{
				MinDeposit:      a.cfg.Buffer.MinDeposit,
				MaxDeposit:      a.cfg.Buffer.MaxDeposit,
				WithdrawLockout: a.cfg.Buffer.WithdrawLockout.Duration,
			},
			eng.TradeLockTTL.Duration, a.logger,
		),
	}

	if deps.Scorer != nil {
		s.xpWorker = service.NewXPWorker(deps.Predictions, deps.Scorer, deps.Bus, service.XPWorkerParams{
			MaxAttempts: eng.XPMaxAttempts,
			Backoff:     eng.XPBackoff.Duration,
			Timeout:     eng.XPTimeout.Duration,
			QueueSize:   eng.XPQueueSize,
		}, a.logger)
		s.reconciler = service.NewXPReconciler(deps.Predictions, deps.Bus, s.xpWorker, time.Minute, a.logger)
	}

	var reports service.ReportSink
	if deps.Archiver != nil {
		reports = deps.Archiver
	}
	var notifier service.EventNotifier
	if deps.Notifier != nil {
		notifier = deps.Notifier
	}

	s.settlement = service.NewSettlementService(
		deps.Markets, deps.Predictions, deps.Ledger, deps.Locks,
		deps.Bus, deps.Audit, s.xpWorker, reports, notifier,
		service.SettlementParams{
			PayoutPerShare: eng.PayoutPerShare,
			BufferBonus:    eng.BufferBonus,
			LockTTL:        eng.SettleLockTTL.Duration,
		},
		a.logger,
	)

	return s
}

// ServerMode runs the HTTP + WebSocket API plus the in-process XP worker.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	a.startWorkers(ctx, g, svcs, false)
	a.startHTTPServer(ctx, g, deps, svcs)

	return g.Wait()
}

// WorkerMode runs only the settlement follow-up workers: the XP award worker
// and the reconciler that re-queues stranded awards. It is meant to run next
// to a separate server-mode process.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	if deps.Scorer == nil {
		return fmt.Errorf("worker mode: scoring.base_url is not configured")
	}

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	a.startWorkers(ctx, g, svcs, true)

	return g.Wait()
}

// FullMode runs everything in one process: the API server, the XP worker,
// and the reconciler.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	a.startWorkers(ctx, g, svcs, true)
	a.startHTTPServer(ctx, g, deps, svcs)

	return g.Wait()
}

// startWorkers adds the XP worker, and optionally the reconciler, to the
// errgroup when a scoring client is configured.
func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, svcs *services, withReconciler bool) {
	if svcs.xpWorker == nil {
		a.logger.WarnContext(ctx, "no scoring client configured, xp awards will stay pending")
		return
	}

	g.Go(func() error {
		return svcs.xpWorker.Run(ctx)
	})
	if withReconciler && svcs.reconciler != nil {
		g.Go(func() error {
			return svcs.reconciler.Run(ctx)
		})
	}
}

// pinger adapts a plain health-check function to the handler.Pinger
// interface.
type pinger func(ctx context.Context) error

func (p pinger) Ping(ctx context.Context) error { return p(ctx) }

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "http server disabled")
		return
	}

	hub := ws.NewHub(deps.Bus, a.logger, a.cfg.Mode)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	health := map[string]handler.Pinger{
		"postgres": pinger(deps.PGClient.Ping),
		"redis":    pinger(deps.RedisClient.Ping),
	}
	if deps.Archiver != nil {
		health["s3"] = pinger(deps.Archiver.Health)
	}

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(health, a.logger),
		Markets:     handler.NewMarketHandler(svcs.markets, svcs.odds, a.logger),
		Predictions: handler.NewPredictionHandler(svcs.prediction, svcs.settlement, a.logger),
		Liquidity:   handler.NewLiquidityHandler(svcs.liquidity, a.logger),
		Resolution:  handler.NewResolutionHandler(svcs.settlement, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
