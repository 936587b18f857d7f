package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicpulse/marketd/internal/domain"
)

func testMarket(id string, yes, no float64) domain.Market {
	return domain.Market{
		ID:       id,
		Question: "Will it happen?",
		Slug:     id,
		Pool: domain.PoolState{
			YesLiquidity: yes,
			NoLiquidity:  no,
			FeeRate:      0.003,
		},
		CreatedAt: time.Now().UTC(),
	}
}

type predictionFixture struct {
	svc         *PredictionService
	markets     *fakeMarketStore
	predictions *fakePredictionStore
	ledger      *fakeLedger
	locks       *fakeLocks
	odds        *fakeOddsCache
	bus         *fakeBus
	audit       *fakeAudit
}

func newPredictionFixture(markets ...domain.Market) *predictionFixture {
	f := &predictionFixture{
		markets:     newFakeMarketStore(markets...),
		predictions: newFakePredictionStore(),
		ledger:      newFakeLedger(),
		locks:       newFakeLocks(),
		odds:        newFakeOddsCache(),
		bus:         newFakeBus(),
		audit:       newFakeAudit(),
	}
	f.svc = NewPredictionService(
		f.markets, f.predictions, f.ledger, f.locks, f.odds, f.bus, f.audit,
		time.Second, testLogger(),
	)
	return f
}

func TestPlace_DebitsStakeAndMovesPool(t *testing.T) {
	f := newPredictionFixture(testMarket("m1", 100, 100))
	f.ledger.fund("alice", 500, 0)

	pred, err := f.svc.Place(context.Background(), PlaceRequest{
		MarketID: "m1",
		UserID:   "alice",
		Stake:    10,
		Outcome:  domain.OutcomeYes,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PredictionOpen, pred.State)
	assert.Greater(t, pred.Shares, 0.0)
	assert.Greater(t, pred.EntryPrice, 0.0)

	balances, err := f.ledger.Balances(context.Background(), "alice")
	require.NoError(t, err)
	assert.InDelta(t, 490.0, balances.Primary, 1e-9)

	market, err := f.markets.GetByID(context.Background(), "m1")
	require.NoError(t, err)
	assert.Greater(t, market.Pool.YesLiquidity, 100.0)
	assert.Less(t, market.Pool.NoLiquidity, 100.0)
	assert.InDelta(t, 10*0.003, market.Pool.AccumulatedFees, 1e-12)

	stored, err := f.predictions.GetByID(context.Background(), pred.ID)
	require.NoError(t, err)
	assert.Equal(t, pred, stored)
}

func TestPlace_BufferFundedDebitsBuffer(t *testing.T) {
	f := newPredictionFixture(testMarket("m1", 100, 100))
	f.ledger.fund("bob", 100, 50)

	pred, err := f.svc.Place(context.Background(), PlaceRequest{
		MarketID:         "m1",
		UserID:           "bob",
		Stake:            20,
		Outcome:          domain.OutcomeNo,
		FundedFromBuffer: true,
	})
	require.NoError(t, err)
	assert.True(t, pred.FundedFromBuffer)

	balances, err := f.ledger.Balances(context.Background(), "bob")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, balances.Primary, 1e-9)
	assert.InDelta(t, 30.0, balances.Buffer, 1e-9)
}

func TestPlace_InsufficientBalance(t *testing.T) {
	f := newPredictionFixture(testMarket("m1", 100, 100))
	f.ledger.fund("carol", 5, 0)

	_, err := f.svc.Place(context.Background(), PlaceRequest{
		MarketID: "m1",
		UserID:   "carol",
		Stake:    10,
		Outcome:  domain.OutcomeYes,
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Pool must be untouched after a rejected debit.
	market, err := f.markets.GetByID(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, market.Pool.YesLiquidity)
	assert.Equal(t, 100.0, market.Pool.NoLiquidity)
}

func TestPlace_FrozenMarket(t *testing.T) {
	market := testMarket("m1", 100, 100)
	outcome := domain.OutcomeYes
	market.Resolved = true
	market.ResolvedOutcome = &outcome

	f := newPredictionFixture(market)
	f.ledger.fund("alice", 100, 0)

	_, err := f.svc.Place(context.Background(), PlaceRequest{
		MarketID: "m1",
		UserID:   "alice",
		Stake:    10,
		Outcome:  domain.OutcomeYes,
	})
	assert.ErrorIs(t, err, domain.ErrMarketFrozen)
}

func TestPlace_ValidationRejects(t *testing.T) {
	f := newPredictionFixture(testMarket("m1", 100, 100))

	tests := []struct {
		name    string
		req     PlaceRequest
		wantErr error
	}{
		{"bad outcome", PlaceRequest{MarketID: "m1", UserID: "u", Stake: 10, Outcome: "maybe"}, domain.ErrInvalidOutcome},
		{"zero stake", PlaceRequest{MarketID: "m1", UserID: "u", Stake: 0, Outcome: domain.OutcomeYes}, domain.ErrInvalidStake},
		{"negative stake", PlaceRequest{MarketID: "m1", UserID: "u", Stake: -4, Outcome: domain.OutcomeNo}, domain.ErrInvalidStake},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Place(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPlace_UnknownMarket(t *testing.T) {
	f := newPredictionFixture()
	f.ledger.fund("alice", 100, 0)

	_, err := f.svc.Place(context.Background(), PlaceRequest{
		MarketID: "ghost",
		UserID:   "alice",
		Stake:    10,
		Outcome:  domain.OutcomeYes,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlace_RefundsOnPoolCommitFailure(t *testing.T) {
	f := newPredictionFixture(testMarket("m1", 100, 100))
	f.ledger.fund("alice", 100, 0)
	f.markets.failUpdatePool = true

	_, err := f.svc.Place(context.Background(), PlaceRequest{
		MarketID: "m1",
		UserID:   "alice",
		Stake:    10,
		Outcome:  domain.OutcomeYes,
	})
	require.Error(t, err)

	balances, err := f.ledger.Balances(context.Background(), "alice")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, balances.Primary, 1e-9)
}

func TestPlace_RevertsPoolOnCreateFailure(t *testing.T) {
	f := newPredictionFixture(testMarket("m1", 100, 100))
	f.ledger.fund("alice", 100, 0)
	f.predictions.failCreate = true

	_, err := f.svc.Place(context.Background(), PlaceRequest{
		MarketID: "m1",
		UserID:   "alice",
		Stake:    10,
		Outcome:  domain.OutcomeYes,
	})
	require.Error(t, err)

	market, err := f.markets.GetByID(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, market.Pool.YesLiquidity)
	assert.Equal(t, 100.0, market.Pool.NoLiquidity)
	assert.Equal(t, 0.0, market.Pool.AccumulatedFees)

	balances, err := f.ledger.Balances(context.Background(), "alice")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, balances.Primary, 1e-9)
}

func TestPlace_LockHeld(t *testing.T) {
	f := newPredictionFixture(testMarket("m1", 100, 100))
	f.ledger.fund("alice", 100, 0)

	unlock, err := f.locks.Acquire(context.Background(), marketLockKey("m1"), time.Second)
	require.NoError(t, err)
	defer unlock()

	_, err = f.svc.Place(context.Background(), PlaceRequest{
		MarketID: "m1",
		UserID:   "alice",
		Stake:    10,
		Outcome:  domain.OutcomeYes,
	})
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestPlace_SideEffects(t *testing.T) {
	f := newPredictionFixture(testMarket("m1", 100, 100))
	f.ledger.fund("alice", 100, 0)

	// Seed a cached snapshot so the invalidation is observable.
	require.NoError(t, f.odds.Set(context.Background(), "m1", domain.Odds{Yes: 0.5, No: 0.5}, time.Now()))

	_, err := f.svc.Place(context.Background(), PlaceRequest{
		MarketID: "m1",
		UserID:   "alice",
		Stake:    10,
		Outcome:  domain.OutcomeYes,
	})
	require.NoError(t, err)

	assert.Contains(t, f.odds.invalidated, "m1")
	assert.Equal(t, 1, f.bus.count("predictions"))
	assert.Contains(t, f.audit.events(), "prediction_placed")
}
