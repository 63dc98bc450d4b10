// Package memory is a single-process implementation of the market stores. All state
// sits behind one RWMutex so a tick is observed either entirely or not at all.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"cryptobot/internal/market"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	_ market.AssetStore      = (*Store)(nil)
	_ market.HistoryStore    = (*Store)(nil)
	_ market.TickStore       = (*Store)(nil)
	_ market.IntervalClaimer = (*Store)(nil)
	_ market.LedgerStore     = (*Store)(nil)
)

type sampleKey struct {
	assetID int64
	tickID  uuid.UUID
}

type Store struct {
	mu              sync.RWMutex
	nextID          int64
	assets          map[string]market.Asset // by tag
	history         map[int64][]market.PriceSample
	recorded        map[sampleKey]struct{}
	accounts        map[string]market.Account
	startingBalance int64
	lastSlot        time.Time
	now             func() time.Time
}

func New(startingBalance int64) *Store {
	return &Store{
		assets:          map[string]market.Asset{},
		history:         map[int64][]market.PriceSample{},
		recorded:        map[sampleKey]struct{}{},
		accounts:        map[string]market.Account{},
		startingBalance: startingBalance,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) CreateAsset(_ context.Context, a market.Asset) (market.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Tag = market.NormalizeTag(a.Tag)
	if _, ok := s.assets[a.Tag]; ok {
		return market.Asset{}, market.ErrDuplicateAsset
	}
	s.nextID++
	now := s.now()
	a.ID = s.nextID
	a.CreatedAt = now
	a.UpdatedAt = now
	s.assets[a.Tag] = a
	return a, nil
}

func (s *Store) RemoveAsset(_ context.Context, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag = market.NormalizeTag(tag)
	if _, ok := s.assets[tag]; !ok {
		return market.ErrNotFound
	}
	delete(s.assets, tag)
	return nil
}

func (s *Store) GetAsset(_ context.Context, tag string) (market.Asset, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[market.NormalizeTag(tag)]
	return a, ok, nil
}

func (s *Store) ListAssets(_ context.Context) ([]market.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]market.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out, nil
}

func (s *Store) ApplyDelta(_ context.Context, assetID, delta int64) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tag, a := range s.assets {
		if a.ID != assetID {
			continue
		}
		a.Price = market.ClampPrice(a.Price, delta)
		a.UpdatedAt = s.now()
		s.assets[tag] = a
		return a.Price, nil
	}
	return decimal.Zero, market.ErrNotFound
}

func (s *Store) RecordSample(_ context.Context, sample market.PriceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordLocked(sample)
	return nil
}

func (s *Store) recordLocked(sample market.PriceSample) {
	key := sampleKey{assetID: sample.AssetID, tickID: sample.TickID}
	if sample.TickID != uuid.Nil {
		if _, dup := s.recorded[key]; dup {
			return
		}
		s.recorded[key] = struct{}{}
	}
	s.history[sample.AssetID] = append(s.history[sample.AssetID], sample)
}

func (s *Store) QuerySamples(_ context.Context, assetID int64, since time.Time) ([]market.PriceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []market.PriceSample
	for _, sample := range s.history[assetID] {
		if !sample.RecordedAt.Before(since) {
			out = append(out, sample)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	return out, nil
}

func (s *Store) RunTick(ctx context.Context, tickID uuid.UUID, at time.Time, step market.StepFunc) ([]market.PriceChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags := make([]string, 0, len(s.assets))
	for tag := range s.assets {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	staged := make([]market.Asset, 0, len(tags))
	changes := make([]market.PriceChange, 0, len(tags))
	for _, tag := range tags {
		a := s.assets[tag]
		next := market.ClampPrice(a.Price, step(a))
		changes = append(changes, market.PriceChange{AssetID: a.ID, Tag: a.Tag, Old: a.Price, New: next})
		a.Price = next
		a.UpdatedAt = at
		staged = append(staged, a)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, a := range staged {
		s.recordLocked(market.PriceSample{AssetID: a.ID, TickID: tickID, Price: changes[i].Old, RecordedAt: at})
		s.assets[a.Tag] = a
	}
	return changes, nil
}

func (s *Store) ClaimInterval(_ context.Context, slot time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slot.After(s.lastSlot) {
		return false, nil
	}
	s.lastSlot = slot
	return true, nil
}

func (s *Store) GetOrCreate(_ context.Context, userID string) (market.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[userID]
	if !ok {
		acct = market.NewAccount(userID, s.startingBalance, s.now())
		s.accounts[userID] = acct
	}
	return acct.Clone(), nil
}

func (s *Store) Get(_ context.Context, userID string) (market.Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[userID]
	if !ok {
		return market.Account{}, false, nil
	}
	return acct.Clone(), true, nil
}

func (s *Store) Commit(_ context.Context, acct market.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.accounts[acct.UserID]
	if ok && current.Version != acct.Version {
		return market.ErrConflict
	}
	if !ok && acct.Version != 0 {
		return market.ErrConflict
	}
	next := acct.Clone()
	for tag, qty := range next.Holdings {
		if qty == 0 {
			delete(next.Holdings, tag)
		}
	}
	next.Version++
	next.UpdatedAt = s.now()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = next.UpdatedAt
	}
	s.accounts[acct.UserID] = next
	return nil
}
