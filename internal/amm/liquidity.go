package amm

import (
	"fmt"
	"math"

	"github.com/civicpulse/marketd/internal/domain"
)

// shareDust is the LP share balance below which a position is considered
// fully withdrawn.
const shareDust = 1e-9

// DepositPlan describes how a liquidity deposit changes the pool and how
// many LP shares it mints. Both sides grow by the same factor, so the
// yes:no ratio, and therefore the odds, are unchanged.
type DepositPlan struct {
	LPShares        float64
	NewYesLiquidity float64
	NewNoLiquidity  float64
}

// WithdrawalPlan describes a proportional liquidity withdrawal. Like
// deposits, withdrawals scale both sides equally and hold price constant.
type WithdrawalPlan struct {
	YesAmount       float64
	NoAmount        float64
	NewYesLiquidity float64
	NewNoLiquidity  float64
}

// PlanDeposit computes the LP shares minted for a deposit and the resulting
// pool sides. The first provider into an empty pool seeds both sides 1:1 and
// receives LP shares equal to the amount; later deposits mint shares in
// proportion to the pool value they add.
func PlanDeposit(pool domain.PoolState, totalLPShares, amount float64) (DepositPlan, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return DepositPlan{}, fmt.Errorf("%w: %g", domain.ErrInvalidStake, amount)
	}
	if totalLPShares < 0 || pool.YesLiquidity < 0 || pool.NoLiquidity < 0 {
		return DepositPlan{}, fmt.Errorf("%w: negative liquidity", domain.ErrInvalidPoolState)
	}

	// Empty pool: seed both sides 1:1.
	if pool.YesLiquidity == 0 || pool.NoLiquidity == 0 {
		return DepositPlan{
			LPShares:        amount,
			NewYesLiquidity: pool.YesLiquidity + amount/2,
			NewNoLiquidity:  pool.NoLiquidity + amount/2,
		}, nil
	}

	poolValue := pool.YesLiquidity + pool.NoLiquidity
	growth := amount / poolValue

	minted := amount
	if totalLPShares > 0 {
		minted = amount * totalLPShares / poolValue
	}

	return DepositPlan{
		LPShares:        minted,
		NewYesLiquidity: pool.YesLiquidity * (1 + growth),
		NewNoLiquidity:  pool.NoLiquidity * (1 + growth),
	}, nil
}

// PlanWithdrawal computes the proportional yes/no amounts removed when a
// provider burns lpShares, and the resulting pool sides. The caller is
// responsible for checking the provider's own balance; this function only
// rejects burns that exceed the market total.
func PlanWithdrawal(pool domain.PoolState, totalLPShares, lpShares float64) (WithdrawalPlan, error) {
	if lpShares <= 0 || math.IsNaN(lpShares) || math.IsInf(lpShares, 0) {
		return WithdrawalPlan{}, fmt.Errorf("%w: %g", domain.ErrInvalidStake, lpShares)
	}
	if totalLPShares <= 0 {
		return WithdrawalPlan{}, fmt.Errorf("%w: market has no lp shares", domain.ErrInsufficientShares)
	}
	if lpShares > totalLPShares*(1+shareDust) {
		return WithdrawalPlan{}, fmt.Errorf("%w: burn %g exceeds total %g",
			domain.ErrInsufficientShares, lpShares, totalLPShares)
	}
	if err := pool.Validate(); err != nil {
		return WithdrawalPlan{}, err
	}

	frac := lpShares / totalLPShares
	if frac > 1 {
		frac = 1
	}

	return WithdrawalPlan{
		YesAmount:       pool.YesLiquidity * frac,
		NoAmount:        pool.NoLiquidity * frac,
		NewYesLiquidity: pool.YesLiquidity * (1 - frac),
		NewNoLiquidity:  pool.NoLiquidity * (1 - frac),
	}, nil
}

// SharePercentage returns a provider's ownership of a market's pool as a
// percentage, recomputed from current balances.
func SharePercentage(lpShares, totalLPShares float64) float64 {
	if totalLPShares <= 0 || lpShares <= 0 {
		return 0
	}
	return lpShares / totalLPShares * 100
}

// Exhausted reports whether an LP share balance is effectively zero.
func Exhausted(lpShares float64) bool {
	return lpShares <= shareDust
}
