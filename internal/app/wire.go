package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/civicpulse/marketd/internal/cache/redis"
	"github.com/civicpulse/marketd/internal/config"
	"github.com/civicpulse/marketd/internal/domain"
	"github.com/civicpulse/marketd/internal/notify"
	"github.com/civicpulse/marketd/internal/report"
	"github.com/civicpulse/marketd/internal/scoring"
	"github.com/civicpulse/marketd/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	Markets     domain.MarketStore
	Predictions domain.PredictionStore
	Positions   domain.LiquidityPositionStore
	Ledger      domain.BalanceLedger
	Audit       domain.AuditStore

	// Caches
	Odds        domain.OddsCache
	Locks       domain.LockManager
	RateLimiter domain.RateLimiter
	Bus         domain.SignalBus

	// Settlement follow-ups
	Archiver *report.S3Archiver
	Scorer   domain.Scorer
	Notifier *notify.Notifier

	// Clients exposed for health checks.
	PGClient    *postgres.Client
	RedisClient *redis.Client
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.PGClient = pgClient
	deps.Markets = postgres.NewMarketStore(pool)
	deps.Predictions = postgres.NewPredictionStore(pool)
	deps.Positions = postgres.NewLiquidityPositionStore(pool)
	deps.Ledger = postgres.NewBalanceStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RedisClient = redisClient
	deps.Odds = redis.NewOddsCache(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Bus = redis.NewSignalBus(redisClient)

	// --- Settlement report archival (optional) ---
	if cfg.S3.Enabled {
		archiver, err := report.NewS3Archiver(ctx, report.S3Config{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3 archiver: %w", err)
		}
		deps.Archiver = archiver
	}

	// --- Scoring service ---
	if cfg.Scoring.BaseURL != "" {
		deps.Scorer = scoring.NewClient(cfg.Scoring.BaseURL, cfg.Scoring.APIKey, cfg.Scoring.Timeout.Duration)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
