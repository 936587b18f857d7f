package domain

import "time"

// Market is a binary prediction market backed by one liquidity pool. Once
// resolved the pool is frozen: no trades or liquidity changes are accepted.
type Market struct {
	ID              string     `json:"id"`
	Question        string     `json:"question"`
	Slug            string     `json:"slug"`
	Pool            PoolState  `json:"pool"`
	Resolved        bool       `json:"resolved"`
	ResolvedOutcome *Outcome   `json:"resolved_outcome,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Frozen reports whether the market no longer accepts pool mutations.
func (m Market) Frozen() bool {
	return m.Resolved
}
