package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/civicpulse/marketd/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// In-memory doubles for the domain interfaces. They hold real state so the
// tests exercise the services' compensation and idempotency paths, and they
// expose failure switches for the error branches.

type fakeMarketStore struct {
	mu             sync.Mutex
	markets        map[string]domain.Market
	failUpdatePool bool
}

func newFakeMarketStore(markets ...domain.Market) *fakeMarketStore {
	s := &fakeMarketStore{markets: map[string]domain.Market{}}
	for _, m := range markets {
		s.markets[m.ID] = m
	}
	return s
}

func (s *fakeMarketStore) Create(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.markets[m.ID] = m
	return nil
}

func (s *fakeMarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *fakeMarketStore) UpdatePool(_ context.Context, id string, pool domain.PoolState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdatePool {
		return fmt.Errorf("fake: pool update rejected")
	}
	m, ok := s.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.Pool = pool
	s.markets[id] = m
	return nil
}

func (s *fakeMarketStore) MarkResolved(_ context.Context, id string, outcome domain.Outcome, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.Resolved = true
	m.ResolvedOutcome = &outcome
	m.ResolvedAt = &at
	s.markets[id] = m
	return nil
}

func (s *fakeMarketStore) ListActive(_ context.Context, _ domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if !m.Resolved {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeMarketStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.markets)), nil
}

type fakePredictionStore struct {
	mu          sync.Mutex
	predictions map[string]domain.Prediction
	failCreate  bool
	failUpdate  bool
}

func newFakePredictionStore(preds ...domain.Prediction) *fakePredictionStore {
	s := &fakePredictionStore{predictions: map[string]domain.Prediction{}}
	for _, p := range preds {
		s.predictions[p.ID] = p
	}
	return s
}

func (s *fakePredictionStore) Create(_ context.Context, p domain.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate {
		return fmt.Errorf("fake: insert rejected")
	}
	if _, ok := s.predictions[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.predictions[p.ID] = p
	return nil
}

func (s *fakePredictionStore) Update(_ context.Context, p domain.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate {
		return fmt.Errorf("fake: update rejected")
	}
	if _, ok := s.predictions[p.ID]; !ok {
		return domain.ErrNotFound
	}
	s.predictions[p.ID] = p
	return nil
}

func (s *fakePredictionStore) GetByID(_ context.Context, id string) (domain.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.predictions[id]
	if !ok {
		return domain.Prediction{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *fakePredictionStore) ListOpenByMarket(_ context.Context, marketID string) ([]domain.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Prediction
	for _, p := range s.predictions {
		if p.MarketID == marketID && p.State == domain.PredictionOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePredictionStore) ListPendingXPByMarket(_ context.Context, marketID string) ([]domain.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Prediction
	for _, p := range s.predictions {
		settled := p.State == domain.PredictionResolvedCorrect || p.State == domain.PredictionResolvedIncorrect
		if p.MarketID == marketID && settled && p.AwardedXP == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePredictionStore) ListByUser(_ context.Context, userID string, _ domain.ListOpts) ([]domain.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Prediction
	for _, p := range s.predictions {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePredictionStore) SetAwardedXP(_ context.Context, id string, xp int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.predictions[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.AwardedXP = &xp
	if p.State == domain.PredictionResolvedCorrect || p.State == domain.PredictionResolvedIncorrect {
		p.State = domain.PredictionSettled
		p.SettledAt = &at
	}
	s.predictions[id] = p
	return nil
}

type fakePositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.LiquidityPosition
}

func posKey(providerID, marketID string) string { return providerID + "|" + marketID }

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{positions: map[string]domain.LiquidityPosition{}}
}

func (s *fakePositionStore) Upsert(_ context.Context, pos domain.LiquidityPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[posKey(pos.ProviderID, pos.MarketID)] = pos
	return nil
}

func (s *fakePositionStore) Get(_ context.Context, providerID, marketID string) (domain.LiquidityPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[posKey(providerID, marketID)]
	if !ok {
		return domain.LiquidityPosition{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *fakePositionStore) ListByMarket(_ context.Context, marketID string) ([]domain.LiquidityPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LiquidityPosition
	for _, pos := range s.positions {
		if pos.MarketID == marketID {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *fakePositionStore) Delete(_ context.Context, providerID, marketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, posKey(providerID, marketID))
	return nil
}

type fakeLedger struct {
	mu       sync.Mutex
	accounts map[string]domain.Balances
	now      func() time.Time
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts: map[string]domain.Balances{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (l *fakeLedger) fund(userID string, primary, buffer float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.accounts[userID]
	b.Primary = primary
	b.Buffer = buffer
	l.accounts[userID] = b
}

func (l *fakeLedger) Debit(_ context.Context, userID string, kind domain.BalanceKind, amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.accounts[userID]
	switch kind {
	case domain.BalanceBuffer:
		if b.Buffer < amount {
			return domain.ErrInsufficientBalance
		}
		b.Buffer -= amount
	default:
		if b.Primary < amount {
			return domain.ErrInsufficientBalance
		}
		b.Primary -= amount
	}
	l.accounts[userID] = b
	return nil
}

func (l *fakeLedger) Credit(_ context.Context, userID string, kind domain.BalanceKind, amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.accounts[userID]
	if kind == domain.BalanceBuffer {
		b.Buffer += amount
	} else {
		b.Primary += amount
	}
	l.accounts[userID] = b
	return nil
}

func (l *fakeLedger) Balances(_ context.Context, userID string) (domain.Balances, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[userID], nil
}

func (l *fakeLedger) TransferToBuffer(_ context.Context, userID string, amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.accounts[userID]
	if b.Primary < amount {
		return domain.ErrInsufficientBalance
	}
	b.Primary -= amount
	b.Buffer += amount
	ts := l.now()
	b.LastBufferDeposit = &ts
	l.accounts[userID] = b
	return nil
}

func (l *fakeLedger) TransferFromBuffer(_ context.Context, userID string, amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.accounts[userID]
	if b.Buffer < amount {
		return domain.ErrInsufficientBalance
	}
	b.Buffer -= amount
	b.Primary += amount
	l.accounts[userID] = b
	return nil
}

// fakeLocks enforces real mutual exclusion per key so the lock discipline of
// the services is exercised, not just stubbed out.
type fakeLocks struct {
	mu       sync.Mutex
	held     map[string]bool
	acquires int
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: map[string]bool{}}
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	l.acquires++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type fakeOddsCache struct {
	mu          sync.Mutex
	odds        map[string]domain.Odds
	stamps      map[string]time.Time
	invalidated []string
}

func newFakeOddsCache() *fakeOddsCache {
	return &fakeOddsCache{odds: map[string]domain.Odds{}, stamps: map[string]time.Time{}}
}

func (c *fakeOddsCache) Set(_ context.Context, marketID string, odds domain.Odds, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.odds[marketID] = odds
	c.stamps[marketID] = ts
	return nil
}

func (c *fakeOddsCache) Get(_ context.Context, marketID string) (domain.Odds, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	odds, ok := c.odds[marketID]
	if !ok {
		return domain.Odds{}, time.Time{}, domain.ErrNotFound
	}
	return odds, c.stamps[marketID], nil
}

func (c *fakeOddsCache) Invalidate(_ context.Context, marketID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.odds, marketID)
	delete(c.stamps, marketID)
	c.invalidated = append(c.invalidated, marketID)
	return nil
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streams   map[string][]domain.StreamMessage
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		published: map[string][][]byte{},
		streams:   map[string][]domain.StreamMessage{},
	}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.Itoa(len(b.streams[stream]) + 1),
		Payload: payload,
	})
	return nil
}

func (b *fakeBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	after, _ := strconv.Atoi(lastID)
	var out []domain.StreamMessage
	for _, msg := range b.streams[stream] {
		id, _ := strconv.Atoi(msg.ID)
		if id > after {
			out = append(out, msg)
			if count > 0 && len(out) >= count {
				break
			}
		}
	}
	return out, nil
}

func (b *fakeBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func newFakeAudit() *fakeAudit { return &fakeAudit{} }

func (a *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{
		ID:        int64(len(a.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (a *fakeAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AuditEntry(nil), a.entries...), nil
}

func (a *fakeAudit) events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Event
	}
	return out
}

// fakeScorer can fail a configurable number of times before succeeding, or
// fail every call.
type fakeScorer struct {
	mu         sync.Mutex
	xpPerCall  int64
	failCount  int
	alwaysFail bool
	calls      int
}

func (s *fakeScorer) AwardPredictionXP(_ context.Context, _ string, _ domain.Prediction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.alwaysFail {
		return 0, fmt.Errorf("fake: scoring unavailable")
	}
	if s.failCount > 0 {
		s.failCount--
		return 0, fmt.Errorf("fake: transient scoring failure")
	}
	return s.xpPerCall, nil
}
