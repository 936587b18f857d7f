package domain

import "time"

// LiquidityPosition records a provider's proportional ownership of one
// market's pool. Ownership percentage is always recomputed from the set of
// positions for the market, never cached on the row.
type LiquidityPosition struct {
	ProviderID   string    `json:"provider_id"`
	MarketID     string    `json:"market_id"`
	LPShares     float64   `json:"lp_shares"`
	TotalRewards float64   `json:"total_rewards"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
