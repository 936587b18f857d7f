// Package amm implements the constant-product pricing core for binary
// markets. All functions are pure: they validate their inputs, never touch
// shared state, and leave it to the caller to commit results under the
// market's lock.
package amm

import (
	"fmt"
	"math"

	"github.com/civicpulse/marketd/internal/domain"
)

// ShareEpsilon is the smallest share quantity a trade may mint. Stakes that
// would mint fewer shares against the current pool depth are rejected with
// ErrInsufficientStake instead of producing a near-infinite entry price.
const ShareEpsilon = 1e-9

// kTolerance is the maximum relative drift of the constant product allowed
// between pool state before and after a trade.
const kTolerance = 1e-9

// Quote is the outcome of pricing a stake against a pool. Callers apply
// NewYesLiquidity/NewNoLiquidity to the pool and credit Fee to its
// accumulated fees.
type Quote struct {
	Shares          float64 `json:"shares"`
	NewYesLiquidity float64 `json:"new_yes_liquidity"`
	NewNoLiquidity  float64 `json:"new_no_liquidity"`
	Price           float64 `json:"price"`
	Fee             float64 `json:"fee"`
}

// CurrentOdds derives the pool-implied probability of each outcome. The two
// values always sum to 1. Pools with a non-positive side are rejected before
// any division happens.
func CurrentOdds(pool domain.PoolState) (domain.Odds, error) {
	if pool.YesLiquidity <= 0 || pool.NoLiquidity <= 0 {
		return domain.Odds{}, fmt.Errorf("%w: yes=%g no=%g",
			domain.ErrInvalidPoolState, pool.YesLiquidity, pool.NoLiquidity)
	}
	total := pool.YesLiquidity + pool.NoLiquidity
	return domain.Odds{
		Yes: pool.NoLiquidity / total,
		No:  pool.YesLiquidity / total,
	}, nil
}

// ShareAllocation prices a stake on the given outcome against the pool. The
// net stake (after the pool's fee) is added to the chosen side and the
// opposing side is reduced so that the constant product is preserved; the
// shares minted are the opposing-side reduction. The gross stake funds the
// entry price, so price = stake / shares.
func ShareAllocation(pool domain.PoolState, stake float64, outcome domain.Outcome) (Quote, error) {
	if stake <= 0 || math.IsNaN(stake) || math.IsInf(stake, 0) {
		return Quote{}, fmt.Errorf("%w: %g", domain.ErrInvalidStake, stake)
	}
	if !outcome.Valid() {
		return Quote{}, fmt.Errorf("%w: %q", domain.ErrInvalidOutcome, outcome)
	}
	if err := pool.Validate(); err != nil {
		return Quote{}, err
	}

	k := pool.K()
	fee := stake * pool.FeeRate
	netStake := stake - fee

	// The fee lives in AccumulatedFees, outside the pool sides, so the
	// product of the sides is preserved exactly by the trade itself.
	var newYes, newNo, shares float64
	switch outcome {
	case domain.OutcomeYes:
		newYes = pool.YesLiquidity + netStake
		newNo = k / newYes
		shares = pool.NoLiquidity - newNo
	case domain.OutcomeNo:
		newNo = pool.NoLiquidity + netStake
		newYes = k / newNo
		shares = pool.YesLiquidity - newYes
	}

	if shares <= ShareEpsilon {
		return Quote{}, fmt.Errorf("%w: stake %g mints %g shares against pool (%g, %g)",
			domain.ErrInsufficientStake, stake, shares, pool.YesLiquidity, pool.NoLiquidity)
	}

	// Minted shares come out of the opposing side and can never exhaust it:
	// the reduced side stays strictly positive because k > 0.
	opposing := pool.NoLiquidity
	if outcome == domain.OutcomeNo {
		opposing = pool.YesLiquidity
	}
	if shares >= opposing || newYes <= 0 || newNo <= 0 {
		return Quote{}, fmt.Errorf("%w: allocation would exhaust the %s side",
			domain.ErrInvalidPoolState, outcome.Opposite())
	}

	if drift := math.Abs(newYes*newNo-k) / k; drift > kTolerance {
		return Quote{}, fmt.Errorf("%w: constant product drift %g exceeds tolerance",
			domain.ErrInvalidPoolState, drift)
	}

	return Quote{
		Shares:          shares,
		NewYesLiquidity: newYes,
		NewNoLiquidity:  newNo,
		Price:           stake / shares,
		Fee:             fee,
	}, nil
}
