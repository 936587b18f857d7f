package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/civicpulse/marketd/internal/domain"
)

// oddsExpiry bounds how long a snapshot can linger after writes stop. The
// freshness window is enforced by the reader; this only reclaims keys for
// markets that went quiet.
const oddsExpiry = time.Hour

// OddsCache implements domain.OddsCache using Redis hashes. Each market's
// snapshot lives at "odds:{marketID}" with fields "yes", "no", and "ts"
// (Unix nanoseconds).
type OddsCache struct {
	rdb *redis.Client
}

// NewOddsCache creates an OddsCache backed by the given Client.
func NewOddsCache(c *Client) *OddsCache {
	return &OddsCache{rdb: c.Underlying()}
}

func oddsKey(marketID string) string {
	return "odds:" + marketID
}

// Set stores a market's odds snapshot.
func (oc *OddsCache) Set(ctx context.Context, marketID string, odds domain.Odds, ts time.Time) error {
	key := oddsKey(marketID)
	fields := map[string]interface{}{
		"yes": strconv.FormatFloat(odds.Yes, 'f', -1, 64),
		"no":  strconv.FormatFloat(odds.No, 'f', -1, 64),
		"ts":  strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := oc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, oddsExpiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set odds %s: %w", marketID, err)
	}
	return nil
}

// Get retrieves a market's odds snapshot and its write timestamp. It returns
// domain.ErrNotFound when no snapshot exists.
func (oc *OddsCache) Get(ctx context.Context, marketID string) (domain.Odds, time.Time, error) {
	vals, err := oc.rdb.HGetAll(ctx, oddsKey(marketID)).Result()
	if err != nil {
		return domain.Odds{}, time.Time{}, fmt.Errorf("redis: get odds %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return domain.Odds{}, time.Time{}, domain.ErrNotFound
	}

	yes, err := parseFloatField(vals, "yes")
	if err != nil {
		return domain.Odds{}, time.Time{}, fmt.Errorf("redis: odds %s: %w", marketID, err)
	}
	no, err := parseFloatField(vals, "no")
	if err != nil {
		return domain.Odds{}, time.Time{}, fmt.Errorf("redis: odds %s: %w", marketID, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Odds{}, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Odds{}, time.Time{}, fmt.Errorf("redis: odds %s: parse ts: %w", marketID, err)
	}

	return domain.Odds{Yes: yes, No: no}, time.Unix(0, tsNano), nil
}

// Invalidate drops a market's snapshot. Missing keys are not an error.
func (oc *OddsCache) Invalidate(ctx context.Context, marketID string) error {
	if err := oc.rdb.Del(ctx, oddsKey(marketID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate odds %s: %w", marketID, err)
	}
	return nil
}

func parseFloatField(vals map[string]string, field string) (float64, error) {
	s, ok := vals[field]
	if !ok {
		return 0, domain.ErrNotFound
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return v, nil
}

// Compile-time interface check.
var _ domain.OddsCache = (*OddsCache)(nil)
