package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore persists markets and their pool state.
type MarketStore interface {
	Create(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	UpdatePool(ctx context.Context, id string, pool PoolState) error
	MarkResolved(ctx context.Context, id string, outcome Outcome, at time.Time) error
	ListActive(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// PredictionStore persists predictions.
type PredictionStore interface {
	Create(ctx context.Context, p Prediction) error
	Update(ctx context.Context, p Prediction) error
	GetByID(ctx context.Context, id string) (Prediction, error)
	ListOpenByMarket(ctx context.Context, marketID string) ([]Prediction, error)
	// ListPendingXPByMarket returns predictions whose points phase committed
	// but whose XP award has not been recorded yet.
	ListPendingXPByMarket(ctx context.Context, marketID string) ([]Prediction, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Prediction, error)
	// SetAwardedXP records the scoring result and, for predictions whose
	// points phase has already committed, advances them to Settled.
	SetAwardedXP(ctx context.Context, id string, xp int64, at time.Time) error
}

// LiquidityPositionStore persists LP ownership rows.
type LiquidityPositionStore interface {
	Upsert(ctx context.Context, pos LiquidityPosition) error
	Get(ctx context.Context, providerID, marketID string) (LiquidityPosition, error)
	ListByMarket(ctx context.Context, marketID string) ([]LiquidityPosition, error)
	Delete(ctx context.Context, providerID, marketID string) error
}

// AuditEntry is a single append-only event row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists the append-only market event log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
