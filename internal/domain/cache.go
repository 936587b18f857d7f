package domain

import (
	"context"
	"time"
)

// OddsCache provides lock-free snapshot reads of a market's current odds.
type OddsCache interface {
	Set(ctx context.Context, marketID string, odds Odds, ts time.Time) error
	Get(ctx context.Context, marketID string) (Odds, time.Time, error)
	Invalidate(ctx context.Context, marketID string) error
}

// LockManager provides per-market exclusive serialization. Acquire returns
// ErrLockHeld when another holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter provides distributed request rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage is a single entry read from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out plus durable streams for the decoupled
// settlement follow-ups (XP awards, report archival).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
