package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicpulse/marketd/internal/domain"
)

type settlementFixture struct {
	svc         *SettlementService
	worker      *XPWorker
	markets     *fakeMarketStore
	predictions *fakePredictionStore
	ledger      *fakeLedger
	locks       *fakeLocks
	bus         *fakeBus
	audit       *fakeAudit
	scorer      *fakeScorer
	reports     *fakeReportSink
	notifier    *fakeNotifier
}

type fakeReportSink struct {
	archived int
	fail     bool
}

func (r *fakeReportSink) ArchiveSettlement(_ context.Context, market domain.Market, _ []domain.Prediction) (string, error) {
	if r.fail {
		return "", fmt.Errorf("fake: archive rejected")
	}
	r.archived++
	return "settlements/" + market.ID + ".json", nil
}

type fakeNotifier struct {
	events []string
}

func (n *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.events = append(n.events, event)
	return nil
}

func newSettlementFixture(t *testing.T, scorer *fakeScorer, markets ...domain.Market) *settlementFixture {
	t.Helper()
	f := &settlementFixture{
		markets:     newFakeMarketStore(markets...),
		predictions: newFakePredictionStore(),
		ledger:      newFakeLedger(),
		locks:       newFakeLocks(),
		bus:         newFakeBus(),
		audit:       newFakeAudit(),
		scorer:      scorer,
		reports:     &fakeReportSink{},
		notifier:    &fakeNotifier{},
	}
	f.worker = NewXPWorker(f.predictions, scorer, f.bus, XPWorkerParams{
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		Timeout:     time.Second,
	}, testLogger())
	f.svc = NewSettlementService(
		f.markets, f.predictions, f.ledger, f.locks, f.bus, f.audit,
		f.worker, f.reports, f.notifier,
		SettlementParams{PayoutPerShare: 1.0, BufferBonus: 0.10},
		testLogger(),
	)
	return f
}

func (f *settlementFixture) runWorker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.worker.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (f *settlementFixture) addPrediction(p domain.Prediction) {
	f.predictions.predictions[p.ID] = p
}

func openPrediction(id, userID, marketID string, outcome domain.Outcome, shares float64, buffer bool) domain.Prediction {
	return domain.Prediction{
		ID:               id,
		UserID:           userID,
		MarketID:         marketID,
		Outcome:          outcome,
		Stake:            shares,
		Shares:           shares,
		EntryPrice:       1,
		FundedFromBuffer: buffer,
		State:            domain.PredictionOpen,
		PlacedAt:         time.Now().UTC(),
	}
}

func TestResolveMarket_PaysCorrectPredictions(t *testing.T) {
	f := newSettlementFixture(t, &fakeScorer{xpPerCall: 25}, testMarket("m1", 100, 100))
	f.runWorker(t)

	f.addPrediction(openPrediction("p1", "alice", "m1", domain.OutcomeYes, 50, false))
	f.addPrediction(openPrediction("p2", "bob", "m1", domain.OutcomeNo, 30, false))

	summary, err := f.svc.ResolveMarket(context.Background(), "m1", domain.OutcomeYes)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Settled)
	assert.Equal(t, 1, summary.Correct)
	assert.Equal(t, 0, summary.Failed)
	assert.InDelta(t, 50.0, summary.TotalPayout, 1e-9)

	alice, _ := f.ledger.Balances(context.Background(), "alice")
	bob, _ := f.ledger.Balances(context.Background(), "bob")
	assert.InDelta(t, 50.0, alice.Primary, 1e-9)
	assert.Equal(t, 0.0, bob.Primary)

	p1, err := f.predictions.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, p1.AwardedPoints)
	assert.InDelta(t, 50.0, *p1.AwardedPoints, 1e-9)

	p2, err := f.predictions.GetByID(context.Background(), "p2")
	require.NoError(t, err)
	require.NotNil(t, p2.AwardedPoints)
	assert.Equal(t, 0.0, *p2.AwardedPoints)

	// The XP phase settles both predictions shortly after.
	assert.Eventually(t, func() bool {
		p1, err := f.predictions.GetByID(context.Background(), "p1")
		if err != nil {
			return false
		}
		p2, err := f.predictions.GetByID(context.Background(), "p2")
		if err != nil {
			return false
		}
		return p1.State == domain.PredictionSettled && p2.State == domain.PredictionSettled
	}, 2*time.Second, 5*time.Millisecond)

	p1, _ = f.predictions.GetByID(context.Background(), "p1")
	require.NotNil(t, p1.AwardedXP)
	assert.Equal(t, int64(25), *p1.AwardedXP)
}

func TestResolveMarket_BufferBonus(t *testing.T) {
	f := newSettlementFixture(t, &fakeScorer{xpPerCall: 10}, testMarket("m1", 100, 100))

	f.addPrediction(openPrediction("p1", "alice", "m1", domain.OutcomeYes, 100, true))

	summary, err := f.svc.ResolveMarket(context.Background(), "m1", domain.OutcomeYes)
	require.NoError(t, err)
	assert.InDelta(t, 110.0, summary.TotalPayout, 1e-9)

	alice, _ := f.ledger.Balances(context.Background(), "alice")
	assert.InDelta(t, 110.0, alice.Primary, 1e-9)
}

func TestResolveMarket_IdempotentRetry(t *testing.T) {
	f := newSettlementFixture(t, &fakeScorer{xpPerCall: 10}, testMarket("m1", 100, 100))

	f.addPrediction(openPrediction("p1", "alice", "m1", domain.OutcomeYes, 40, false))

	_, err := f.svc.ResolveMarket(context.Background(), "m1", domain.OutcomeYes)
	require.NoError(t, err)

	alice, _ := f.ledger.Balances(context.Background(), "alice")
	require.InDelta(t, 40.0, alice.Primary, 1e-9)

	// A retry with the same outcome settles nothing further and pays nothing.
	summary, err := f.svc.ResolveMarket(context.Background(), "m1", domain.OutcomeYes)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Settled)
	assert.Equal(t, 0.0, summary.TotalPayout)

	alice, _ = f.ledger.Balances(context.Background(), "alice")
	assert.InDelta(t, 40.0, alice.Primary, 1e-9)

	p1, _ := f.predictions.GetByID(context.Background(), "p1")
	require.NotNil(t, p1.AwardedPoints)
	assert.InDelta(t, 40.0, *p1.AwardedPoints, 1e-9)
}

func TestResolveMarket_ConflictingOutcome(t *testing.T) {
	f := newSettlementFixture(t, &fakeScorer{}, testMarket("m1", 100, 100))

	_, err := f.svc.ResolveMarket(context.Background(), "m1", domain.OutcomeYes)
	require.NoError(t, err)

	_, err = f.svc.ResolveMarket(context.Background(), "m1", domain.OutcomeNo)
	assert.ErrorIs(t, err, domain.ErrMarketFrozen)
}

func TestResolveMarket_InvalidOutcome(t *testing.T) {
	f := newSettlementFixture(t, &fakeScorer{}, testMarket("m1", 100, 100))

	_, err := f.svc.ResolveMarket(context.Background(), "m1", "maybe")
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
}

func TestResolveMarket_XPFailureLeavesPointsSettled(t *testing.T) {
	f := newSettlementFixture(t, &fakeScorer{alwaysFail: true}, testMarket("m1", 100, 100))
	f.runWorker(t)

	f.addPrediction(openPrediction("p1", "alice", "m1", domain.OutcomeYes, 60, false))

	_, err := f.svc.ResolveMarket(context.Background(), "m1", domain.OutcomeYes)
	require.NoError(t, err)

	// The scorer fails every attempt; the points payout stays committed and
	// the prediction stays in its resolved state with XP pending.
	assert.Eventually(t, func() bool {
		f.scorer.mu.Lock()
		defer f.scorer.mu.Unlock()
		return f.scorer.calls >= 3
	}, 2*time.Second, 5*time.Millisecond)

	p1, err := f.predictions.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PredictionResolvedCorrect, p1.State)
	assert.Nil(t, p1.AwardedXP)
	require.NotNil(t, p1.AwardedPoints)
	assert.InDelta(t, 60.0, *p1.AwardedPoints, 1e-9)

	alice, _ := f.ledger.Balances(context.Background(), "alice")
	assert.InDelta(t, 60.0, alice.Primary, 1e-9)
}

func TestResolveMarket_SideEffects(t *testing.T) {
	f := newSettlementFixture(t, &fakeScorer{xpPerCall: 5}, testMarket("m1", 100, 100))

	f.addPrediction(openPrediction("p1", "alice", "m1", domain.OutcomeNo, 10, false))

	_, err := f.svc.ResolveMarket(context.Background(), "m1", domain.OutcomeNo)
	require.NoError(t, err)

	assert.Equal(t, 1, f.bus.count("settlements"))
	assert.Contains(t, f.audit.events(), "market_resolved")
	assert.Contains(t, f.audit.events(), "points_settled")
	assert.Equal(t, 1, f.reports.archived)
	assert.Equal(t, []string{"market_resolved"}, f.notifier.events)
}

func TestResolvePrediction_MarketNotResolved(t *testing.T) {
	f := newSettlementFixture(t, &fakeScorer{}, testMarket("m1", 100, 100))
	f.addPrediction(openPrediction("p1", "alice", "m1", domain.OutcomeYes, 10, false))

	err := f.svc.ResolvePrediction(context.Background(), "p1")
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)
}

func TestResolvePrediction_AlreadySettled(t *testing.T) {
	f := newSettlementFixture(t, &fakeScorer{}, testMarket("m1", 100, 100))

	outcome := domain.OutcomeYes
	require.NoError(t, f.markets.MarkResolved(context.Background(), "m1", outcome, time.Now().UTC()))

	settled := openPrediction("p1", "alice", "m1", domain.OutcomeYes, 10, false)
	settled.State = domain.PredictionSettled
	f.addPrediction(settled)

	err := f.svc.ResolvePrediction(context.Background(), "p1")
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
}

func TestResolvePrediction_SettlesLateOpenPrediction(t *testing.T) {
	f := newSettlementFixture(t, &fakeScorer{xpPerCall: 7}, testMarket("m1", 100, 100))
	f.runWorker(t)

	require.NoError(t, f.markets.MarkResolved(context.Background(), "m1", domain.OutcomeNo, time.Now().UTC()))
	f.addPrediction(openPrediction("p1", "alice", "m1", domain.OutcomeNo, 20, false))

	require.NoError(t, f.svc.ResolvePrediction(context.Background(), "p1"))

	alice, _ := f.ledger.Balances(context.Background(), "alice")
	assert.InDelta(t, 20.0, alice.Primary, 1e-9)

	assert.Eventually(t, func() bool {
		p, err := f.predictions.GetByID(context.Background(), "p1")
		return err == nil && p.State == domain.PredictionSettled
	}, 2*time.Second, 5*time.Millisecond)
}

func TestResolvePrediction_ResubmitsPendingXP(t *testing.T) {
	// Points already committed, XP missing: a retry hands the prediction back
	// to the worker without paying again.
	f := newSettlementFixture(t, &fakeScorer{xpPerCall: 9}, testMarket("m1", 100, 100))
	f.runWorker(t)

	require.NoError(t, f.markets.MarkResolved(context.Background(), "m1", domain.OutcomeYes, time.Now().UTC()))

	points := 15.0
	pending := openPrediction("p1", "alice", "m1", domain.OutcomeYes, 15, false)
	pending.State = domain.PredictionResolvedCorrect
	pending.AwardedPoints = &points
	f.addPrediction(pending)

	require.NoError(t, f.svc.ResolvePrediction(context.Background(), "p1"))

	assert.Eventually(t, func() bool {
		p, err := f.predictions.GetByID(context.Background(), "p1")
		return err == nil && p.State == domain.PredictionSettled && p.AwardedXP != nil
	}, 2*time.Second, 5*time.Millisecond)

	// No payout happened during the retry.
	alice, _ := f.ledger.Balances(context.Background(), "alice")
	assert.Equal(t, 0.0, alice.Primary)
}
