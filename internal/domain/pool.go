package domain

import "fmt"

// PoolState is the per-market numeric state of the constant-product pool.
// It is owned by its market and mutated only through the pricing engine and
// the liquidity ledger, always under the market's lock.
type PoolState struct {
	YesLiquidity    float64
	NoLiquidity     float64
	FeeRate         float64 // fraction of each stake diverted to AccumulatedFees, [0,1)
	AccumulatedFees float64
}

// K returns the constant product of the two pool sides.
func (p PoolState) K() float64 {
	return p.YesLiquidity * p.NoLiquidity
}

// Validate checks that the pool is in a tradable state. Zero or negative
// liquidity is rejected here so it can never reach raw division downstream.
func (p PoolState) Validate() error {
	if p.YesLiquidity <= 0 || p.NoLiquidity <= 0 {
		return fmt.Errorf("%w: yes=%g no=%g", ErrInvalidPoolState, p.YesLiquidity, p.NoLiquidity)
	}
	if p.FeeRate < 0 || p.FeeRate >= 1 {
		return fmt.Errorf("%w: fee_rate=%g outside [0,1)", ErrInvalidPoolState, p.FeeRate)
	}
	if p.AccumulatedFees < 0 {
		return fmt.Errorf("%w: accumulated_fees=%g negative", ErrInvalidPoolState, p.AccumulatedFees)
	}
	return nil
}

// Odds is the pool-implied probability of each outcome. Yes and No always
// sum to 1 for a valid pool.
type Odds struct {
	Yes float64 `json:"yes"`
	No  float64 `json:"no"`
}
