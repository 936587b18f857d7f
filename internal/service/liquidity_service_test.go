package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicpulse/marketd/internal/domain"
)

type liquidityFixture struct {
	svc       *LiquidityService
	markets   *fakeMarketStore
	positions *fakePositionStore
	ledger    *fakeLedger
	locks     *fakeLocks
	audit     *fakeAudit
}

func newLiquidityFixture(buffer BufferParams, markets ...domain.Market) *liquidityFixture {
	f := &liquidityFixture{
		markets:   newFakeMarketStore(markets...),
		positions: newFakePositionStore(),
		ledger:    newFakeLedger(),
		locks:     newFakeLocks(),
		audit:     newFakeAudit(),
	}
	f.svc = NewLiquidityService(
		f.markets, f.positions, f.ledger, f.locks, newFakeOddsCache(), f.audit,
		buffer, time.Second, testLogger(),
	)
	return f
}

func TestProvide_MintsSharesAndPreservesOdds(t *testing.T) {
	f := newLiquidityFixture(BufferParams{}, testMarket("m1", 60, 140))
	f.ledger.fund("alice", 1000, 0)

	pos, err := f.svc.Provide(context.Background(), "m1", "alice", 100)
	require.NoError(t, err)
	assert.Greater(t, pos.LPShares, 0.0)

	market, err := f.markets.GetByID(context.Background(), "m1")
	require.NoError(t, err)
	// Ratio 60:140 must survive the deposit.
	assert.InDelta(t, 60.0/140.0, market.Pool.YesLiquidity/market.Pool.NoLiquidity, 1e-9)
	assert.InDelta(t, 300.0, market.Pool.YesLiquidity+market.Pool.NoLiquidity, 1e-9)

	balances, err := f.ledger.Balances(context.Background(), "alice")
	require.NoError(t, err)
	assert.InDelta(t, 900.0, balances.Primary, 1e-9)
}

func TestProvide_AccumulatesExistingPosition(t *testing.T) {
	f := newLiquidityFixture(BufferParams{}, testMarket("m1", 100, 100))
	f.ledger.fund("alice", 1000, 0)

	first, err := f.svc.Provide(context.Background(), "m1", "alice", 100)
	require.NoError(t, err)
	second, err := f.svc.Provide(context.Background(), "m1", "alice", 50)
	require.NoError(t, err)

	assert.Greater(t, second.LPShares, first.LPShares)

	stored, err := f.positions.Get(context.Background(), "alice", "m1")
	require.NoError(t, err)
	assert.InDelta(t, second.LPShares, stored.LPShares, 1e-9)
}

func TestProvide_FrozenMarket(t *testing.T) {
	market := testMarket("m1", 100, 100)
	outcome := domain.OutcomeNo
	market.Resolved = true
	market.ResolvedOutcome = &outcome

	f := newLiquidityFixture(BufferParams{}, market)
	f.ledger.fund("alice", 100, 0)

	_, err := f.svc.Provide(context.Background(), "m1", "alice", 50)
	assert.ErrorIs(t, err, domain.ErrMarketFrozen)
}

func TestProvide_RefundsOnPoolCommitFailure(t *testing.T) {
	f := newLiquidityFixture(BufferParams{}, testMarket("m1", 100, 100))
	f.ledger.fund("alice", 100, 0)
	f.markets.failUpdatePool = true

	_, err := f.svc.Provide(context.Background(), "m1", "alice", 50)
	require.Error(t, err)

	balances, err := f.ledger.Balances(context.Background(), "alice")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, balances.Primary, 1e-9)
}

func TestWithdraw_ProportionalAndCredited(t *testing.T) {
	f := newLiquidityFixture(BufferParams{}, testMarket("m1", 150, 50))
	f.ledger.fund("alice", 1000, 0)

	pos, err := f.svc.Provide(context.Background(), "m1", "alice", 100)
	require.NoError(t, err)

	before, err := f.ledger.Balances(context.Background(), "alice")
	require.NoError(t, err)

	res, err := f.svc.Withdraw(context.Background(), "m1", "alice", pos.LPShares/2)
	require.NoError(t, err)

	assert.Greater(t, res.YesAmount, res.NoAmount)
	assert.InDelta(t, res.YesAmount+res.NoAmount, res.Credited, 1e-9)

	after, err := f.ledger.Balances(context.Background(), "alice")
	require.NoError(t, err)
	assert.InDelta(t, before.Primary+res.Credited, after.Primary, 1e-9)

	market, err := f.markets.GetByID(context.Background(), "m1")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, market.Pool.YesLiquidity/market.Pool.NoLiquidity, 1e-9)
}

func TestWithdraw_FullExitDeletesPosition(t *testing.T) {
	f := newLiquidityFixture(BufferParams{}, testMarket("m1", 100, 100))
	f.ledger.fund("alice", 1000, 0)

	pos, err := f.svc.Provide(context.Background(), "m1", "alice", 100)
	require.NoError(t, err)

	_, err = f.svc.Withdraw(context.Background(), "m1", "alice", pos.LPShares)
	require.NoError(t, err)

	_, err = f.positions.Get(context.Background(), "alice", "m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWithdraw_InsufficientShares(t *testing.T) {
	f := newLiquidityFixture(BufferParams{}, testMarket("m1", 100, 100))
	f.ledger.fund("alice", 1000, 0)

	pos, err := f.svc.Provide(context.Background(), "m1", "alice", 100)
	require.NoError(t, err)

	_, err = f.svc.Withdraw(context.Background(), "m1", "alice", pos.LPShares*2)
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)

	_, err = f.svc.Withdraw(context.Background(), "m1", "stranger", 10)
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)
}

func TestWithdraw_FrozenMarket(t *testing.T) {
	f := newLiquidityFixture(BufferParams{}, testMarket("m1", 100, 100))
	f.ledger.fund("alice", 1000, 0)

	pos, err := f.svc.Provide(context.Background(), "m1", "alice", 100)
	require.NoError(t, err)

	outcome := domain.OutcomeYes
	require.NoError(t, f.markets.MarkResolved(context.Background(), "m1", outcome, time.Now().UTC()))

	_, err = f.svc.Withdraw(context.Background(), "m1", "alice", pos.LPShares)
	assert.ErrorIs(t, err, domain.ErrMarketFrozen)
}

func TestSharePercentage_TracksOwnership(t *testing.T) {
	f := newLiquidityFixture(BufferParams{}, testMarket("m1", 100, 100))
	f.ledger.fund("alice", 1000, 0)
	f.ledger.fund("bob", 1000, 0)

	_, err := f.svc.Provide(context.Background(), "m1", "alice", 300)
	require.NoError(t, err)
	_, err = f.svc.Provide(context.Background(), "m1", "bob", 100)
	require.NoError(t, err)

	alice, err := f.svc.SharePercentage(context.Background(), "m1", "alice")
	require.NoError(t, err)
	bob, err := f.svc.SharePercentage(context.Background(), "m1", "bob")
	require.NoError(t, err)

	assert.InDelta(t, 100.0, alice+bob, 1e-9)
	assert.Greater(t, alice, bob)

	none, err := f.svc.SharePercentage(context.Background(), "m1", "stranger")
	require.NoError(t, err)
	assert.Equal(t, 0.0, none)
}

func TestDistributeFees_Proportional(t *testing.T) {
	market := testMarket("m1", 100, 100)
	market.Pool.AccumulatedFees = 40
	f := newLiquidityFixture(BufferParams{}, market)
	f.ledger.fund("alice", 1000, 0)
	f.ledger.fund("bob", 1000, 0)

	_, err := f.svc.Provide(context.Background(), "m1", "alice", 300)
	require.NoError(t, err)
	_, err = f.svc.Provide(context.Background(), "m1", "bob", 100)
	require.NoError(t, err)

	aliceBefore, _ := f.ledger.Balances(context.Background(), "alice")
	bobBefore, _ := f.ledger.Balances(context.Background(), "bob")

	total, err := f.svc.DistributeFees(context.Background(), "m1")
	require.NoError(t, err)
	assert.InDelta(t, 40.0, total, 1e-9)

	aliceAfter, _ := f.ledger.Balances(context.Background(), "alice")
	bobAfter, _ := f.ledger.Balances(context.Background(), "bob")
	assert.InDelta(t, 30.0, aliceAfter.Primary-aliceBefore.Primary, 1e-6)
	assert.InDelta(t, 10.0, bobAfter.Primary-bobBefore.Primary, 1e-6)

	// The fee bucket must be empty afterwards and TotalRewards recorded.
	updated, err := f.markets.GetByID(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, updated.Pool.AccumulatedFees)

	pos, err := f.positions.Get(context.Background(), "alice", "m1")
	require.NoError(t, err)
	assert.InDelta(t, 30.0, pos.TotalRewards, 1e-6)

	// A second distribution is a no-op.
	total, err = f.svc.DistributeFees(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, total)
}

func TestDepositBuffer_Bounds(t *testing.T) {
	f := newLiquidityFixture(BufferParams{MinDeposit: 20, MaxDeposit: 100})
	f.ledger.fund("alice", 500, 0)

	tests := []struct {
		name   string
		amount float64
		ok     bool
	}{
		{"below minimum", 10, false},
		{"at minimum", 20, true},
		{"at maximum", 100, true},
		{"above maximum", 101, false},
		{"zero", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.DepositBuffer(context.Background(), "alice", tt.amount)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalidStake)
			}
		})
	}
}

func TestWithdrawBuffer_LockoutWindow(t *testing.T) {
	f := newLiquidityFixture(BufferParams{MinDeposit: 20, MaxDeposit: 100, WithdrawLockout: 90 * 24 * time.Hour})
	f.ledger.fund("alice", 500, 0)

	require.NoError(t, f.svc.DepositBuffer(context.Background(), "alice", 50))

	err := f.svc.WithdrawBuffer(context.Background(), "alice", 50)
	assert.ErrorIs(t, err, domain.ErrWithdrawLocked)

	// Age the deposit past the lockout window.
	f.ledger.mu.Lock()
	b := f.ledger.accounts["alice"]
	old := time.Now().UTC().Add(-91 * 24 * time.Hour)
	b.LastBufferDeposit = &old
	f.ledger.accounts["alice"] = b
	f.ledger.mu.Unlock()

	require.NoError(t, f.svc.WithdrawBuffer(context.Background(), "alice", 50))

	balances, err := f.ledger.Balances(context.Background(), "alice")
	require.NoError(t, err)
	assert.InDelta(t, 500.0, balances.Primary, 1e-9)
	assert.Equal(t, 0.0, balances.Buffer)
}

func TestWithdrawBuffer_InsufficientBalance(t *testing.T) {
	f := newLiquidityFixture(BufferParams{})
	f.ledger.fund("alice", 100, 10)

	err := f.svc.WithdrawBuffer(context.Background(), "alice", 50)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}
