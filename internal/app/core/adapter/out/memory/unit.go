package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
)

// unit 一次 Atomic 呼叫的交易單位
// 直接改記憶體內的 row，同時記下 undo，失敗時倒序執行還原
type unit struct {
	s     *Store
	scope map[string]struct{}
	undo  []func()

	listings []string
	accounts []domain.PartyID
	records  []domain.TransactionRecord
	outcome  *domain.StoredOutcome
}

func newUnit(s *Store, keys []string) *unit {
	scope := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		scope[k] = struct{}{}
	}
	return &unit{s: s, scope: scope}
}

func (u *unit) Listings() usecase.ListingStore { return unitListings{u} }
func (u *unit) Accounts() usecase.AccountStore { return unitAccounts{u} }
func (u *unit) Outcomes() usecase.OutcomeStore { return unitOutcomes{u} }

// inScope 單位只能碰自己鎖住的資源
func (u *unit) inScope(key string) error {
	if _, ok := u.scope[key]; !ok {
		return fmt.Errorf("resource %s is outside the locked scope", key)
	}
	return nil
}

func (u *unit) hook(op, key string) error {
	if u.s.beforeWrite == nil {
		return nil
	}
	return u.s.beforeWrite(op, key)
}

func (u *unit) rollback() {
	for i := len(u.undo) - 1; i >= 0; i-- {
		u.undo[i]()
	}
	u.undo = nil
}

func (u *unit) touchListing(id string) {
	for _, v := range u.listings {
		if v == id {
			return
		}
	}
	u.listings = append(u.listings, id)
}

func (u *unit) touchAccount(id domain.PartyID) {
	for _, v := range u.accounts {
		if v == id {
			return
		}
	}
	u.accounts = append(u.accounts, id)
}

// commit 把這個單位的最終狀態寫進 WAL
// 只有重放 (沒有任何寫入) 的單位不寫
func (u *unit) commit() error {
	if len(u.undo) == 0 {
		return nil
	}
	entry := walEntry{Records: u.records, Outcome: u.outcome}

	u.s.mu.Lock()
	u.s.seq++
	entry.Seq = u.s.seq
	for _, id := range u.listings {
		if l, ok := u.s.listings[id]; ok {
			entry.Listings = append(entry.Listings, *l)
		}
	}
	for _, id := range u.accounts {
		if a, ok := u.s.accounts[id]; ok {
			entry.Accounts = append(entry.Accounts, *a)
		}
	}
	u.s.mu.Unlock()

	if u.s.wal == nil {
		return nil
	}
	return u.s.wal.Write(entry)
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

type unitListings struct{ u *unit }

func (v unitListings) lookup(id string) (*domain.Listing, error) {
	if err := v.u.inScope(domain.ListingLockKey(id)); err != nil {
		return nil, err
	}
	v.u.s.mu.RLock()
	l, ok := v.u.s.listings[id]
	v.u.s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrListingNotFound
	}
	return l, nil
}

func (v unitListings) Get(ctx context.Context, listingID string) (domain.Listing, error) {
	l, err := v.lookup(listingID)
	if err != nil {
		return domain.Listing{}, err
	}
	return *l, nil
}

func (v unitListings) Create(ctx context.Context, listing domain.Listing) error {
	u := v.u
	if err := u.inScope(domain.ListingLockKey(listing.ID)); err != nil {
		return err
	}
	if err := u.hook("listings.create", listing.ID); err != nil {
		return err
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if _, ok := u.s.listings[listing.ID]; ok {
		return fmt.Errorf("%w: listing %s already exists", domain.ErrConcurrencyConflict, listing.ID)
	}
	l := listing
	u.s.listings[listing.ID] = &l
	u.undo = append(u.undo, func() {
		u.s.mu.Lock()
		delete(u.s.listings, listing.ID)
		u.s.mu.Unlock()
	})
	u.touchListing(listing.ID)
	return nil
}

// mutate 在 row 上套用 fn，fn 失敗時 row 不變
func (v unitListings) mutate(op, listingID string, fn func(l *domain.Listing) error) (domain.Listing, error) {
	l, err := v.lookup(listingID)
	if err != nil {
		return domain.Listing{}, err
	}
	if err := v.u.hook(op, listingID); err != nil {
		return domain.Listing{}, err
	}
	prev := *l
	if err := fn(l); err != nil {
		*l = prev
		return domain.Listing{}, err
	}
	v.u.undo = append(v.u.undo, func() { *l = prev })
	v.u.touchListing(listingID)
	return *l, nil
}

func (v unitListings) TryReserve(ctx context.Context, listingID string, quantity int64) (domain.Listing, error) {
	return v.mutate("listings.reserve", listingID, func(l *domain.Listing) error {
		return l.Reserve(quantity, now())
	})
}

func (v unitListings) Release(ctx context.Context, listingID string, quantity int64) (domain.Listing, error) {
	return v.mutate("listings.release", listingID, func(l *domain.Listing) error {
		return l.Release(quantity, now())
	})
}

func (v unitListings) Cancel(ctx context.Context, listingID string) (domain.Listing, error) {
	return v.mutate("listings.cancel", listingID, func(l *domain.Listing) error {
		return l.Cancel(now())
	})
}

type unitAccounts struct{ u *unit }

// lookup create 為 true 時帳戶不存在就建立 (lazy)
func (v unitAccounts) lookup(partyID domain.PartyID, create bool, at time.Time) (*domain.HolderAccount, error) {
	u := v.u
	if err := u.inScope(domain.PartyLockKey(partyID)); err != nil {
		return nil, err
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	a, ok := u.s.accounts[partyID]
	if ok {
		return a, nil
	}
	if !create {
		return nil, domain.ErrPartyNotFound
	}
	acc := domain.NewHolderAccount(partyID, at)
	u.s.accounts[partyID] = &acc
	u.undo = append(u.undo, func() {
		u.s.mu.Lock()
		delete(u.s.accounts, partyID)
		u.s.mu.Unlock()
	})
	return &acc, nil
}

func (v unitAccounts) Get(ctx context.Context, partyID domain.PartyID) (domain.HolderAccount, error) {
	a, err := v.lookup(partyID, false, time.Time{})
	if err != nil {
		return domain.HolderAccount{}, err
	}
	return *a, nil
}

// apply 套用帳戶異動並附加紀錄，fn 回傳這次的 delta
func (v unitAccounts) apply(op string, partyID domain.PartyID, create bool, rec domain.TransactionRecord, fn func(a *domain.HolderAccount, at time.Time) (int64, error)) (domain.HolderAccount, domain.TransactionRecord, error) {
	u := v.u
	if err := u.hook(op, string(partyID)); err != nil {
		return domain.HolderAccount{}, domain.TransactionRecord{}, err
	}
	at := rec.CreatedAt
	if at.IsZero() {
		at = now()
	}
	a, err := v.lookup(partyID, create, at)
	if err != nil {
		return domain.HolderAccount{}, domain.TransactionRecord{}, err
	}
	prev := *a
	delta, err := fn(a, at)
	if err != nil {
		*a = prev
		return domain.HolderAccount{}, domain.TransactionRecord{}, err
	}
	u.undo = append(u.undo, func() { *a = prev })

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.PartyID = partyID
	rec.Delta = delta
	rec.CreatedAt = at

	u.s.mu.Lock()
	n := len(u.s.records[partyID])
	u.s.records[partyID] = append(u.s.records[partyID], rec)
	u.s.mu.Unlock()
	u.undo = append(u.undo, func() {
		u.s.mu.Lock()
		u.s.records[partyID] = u.s.records[partyID][:n]
		u.s.mu.Unlock()
	})

	u.records = append(u.records, rec)
	u.touchAccount(partyID)
	return *a, rec, nil
}

func (v unitAccounts) Credit(ctx context.Context, partyID domain.PartyID, quantity int64, rec domain.TransactionRecord) (domain.HolderAccount, domain.TransactionRecord, error) {
	return v.apply("accounts.credit", partyID, true, rec, func(a *domain.HolderAccount, at time.Time) (int64, error) {
		return quantity, a.Credit(quantity, at)
	})
}

func (v unitAccounts) Debit(ctx context.Context, partyID domain.PartyID, quantity int64, rec domain.TransactionRecord) (domain.HolderAccount, domain.TransactionRecord, error) {
	return v.apply("accounts.debit", partyID, false, rec, func(a *domain.HolderAccount, at time.Time) (int64, error) {
		return -quantity, a.Debit(quantity, at)
	})
}

func (v unitAccounts) ReconcileTo(ctx context.Context, partyID domain.PartyID, absoluteBalance int64, rec domain.TransactionRecord) (domain.HolderAccount, domain.TransactionRecord, error) {
	return v.apply("accounts.reconcile", partyID, true, rec, func(a *domain.HolderAccount, at time.Time) (int64, error) {
		return a.ReconcileTo(absoluteBalance, at)
	})
}

func (v unitAccounts) BindWallet(ctx context.Context, partyID domain.PartyID, walletRef string) (domain.HolderAccount, error) {
	u := v.u
	if err := u.hook("accounts.wallet", string(partyID)); err != nil {
		return domain.HolderAccount{}, err
	}
	at := now()
	a, err := v.lookup(partyID, true, at)
	if err != nil {
		return domain.HolderAccount{}, err
	}
	prev := *a
	a.WalletRef = walletRef
	a.UpdatedAt = at
	u.undo = append(u.undo, func() { *a = prev })
	u.touchAccount(partyID)
	return *a, nil
}

type unitOutcomes struct{ u *unit }

func (v unitOutcomes) Lookup(ctx context.Context, key string) (*domain.StoredOutcome, error) {
	if err := v.u.inScope(domain.IdempotencyLockKey(key)); err != nil {
		return nil, err
	}
	v.u.s.mu.RLock()
	defer v.u.s.mu.RUnlock()
	o, ok := v.u.s.outcomes[key]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (v unitOutcomes) Save(ctx context.Context, outcome domain.StoredOutcome) error {
	u := v.u
	if err := u.inScope(domain.IdempotencyLockKey(outcome.Key)); err != nil {
		return err
	}
	if err := u.hook("outcomes.save", outcome.Key); err != nil {
		return err
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if _, ok := u.s.outcomes[outcome.Key]; ok {
		return fmt.Errorf("%w: idempotency key %s already stored", domain.ErrConcurrencyConflict, outcome.Key)
	}
	u.s.outcomes[outcome.Key] = outcome
	u.undo = append(u.undo, func() {
		u.s.mu.Lock()
		delete(u.s.outcomes, outcome.Key)
		u.s.mu.Unlock()
	})
	u.outcome = &outcome
	return nil
}
