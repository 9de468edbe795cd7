package usecase_test

import (
	"context"
	"errors"
	"sync"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]domain.StoredOutcome
	failGet bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]domain.StoredOutcome{}}
}

func (c *fakeCache) Get(ctx context.Context, key string) (*domain.StoredOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return nil, errors.New("cache down")
	}
	o, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (c *fakeCache) Put(ctx context.Context, outcome domain.StoredOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[outcome.Key] = outcome
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.LedgerEvent
}

func (p *fakePublisher) Publish(ctx context.Context, event domain.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) Events() []domain.LedgerEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.LedgerEvent(nil), p.events...)
}

// conflictingStore 前 n 次 Atomic 回傳併發衝突
type conflictingStore struct {
	usecase.Store
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (s *conflictingStore) Atomic(ctx context.Context, scope domain.LockScope, fn func(context.Context, usecase.UnitOfWork) error) error {
	s.mu.Lock()
	s.calls++
	conflict := s.conflicts > 0
	if conflict {
		s.conflicts--
	}
	s.mu.Unlock()
	if conflict {
		return domain.ErrConcurrencyConflict
	}
	return s.Store.Atomic(ctx, scope, fn)
}

type fakeChain struct {
	confirmed  map[string]bool
	balances   map[string]int64
	err        error
	balanceErr error
	calls      int
}

func (c *fakeChain) MintConfirmed(ctx context.Context, txHash string) (bool, error) {
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	return c.confirmed[txHash], nil
}

func (c *fakeChain) BalanceOf(ctx context.Context, wallet string) (int64, error) {
	if c.balanceErr != nil {
		return 0, c.balanceErr
	}
	return c.balances[wallet], nil
}
