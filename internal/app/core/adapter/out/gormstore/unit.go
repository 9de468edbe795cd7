package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
)

// unit 綁在一個 DB transaction 上的交易單位
type unit struct {
	tx *gorm.DB
}

func (u *unit) Listings() usecase.ListingStore { return listingRepo{u.tx} }
func (u *unit) Accounts() usecase.AccountStore { return accountRepo{u.tx} }
func (u *unit) Outcomes() usecase.OutcomeStore { return outcomeRepo{u.tx} }

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

type listingRepo struct{ tx *gorm.DB }

func (r listingRepo) Get(ctx context.Context, listingID string) (domain.Listing, error) {
	var m sqlListing
	err := r.tx.WithContext(ctx).Where("id = ?", listingID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Listing{}, domain.ErrListingNotFound
	}
	if err != nil {
		return domain.Listing{}, err
	}
	return m.toDomain(), nil
}

func (r listingRepo) Create(ctx context.Context, listing domain.Listing) error {
	return r.tx.WithContext(ctx).Create(listingFromDomain(listing)).Error
}

// save 以條件式 update 寫回，where 內再驗證一次讀到的狀態
func (r listingRepo) save(ctx context.Context, before, after domain.Listing) error {
	res := r.tx.WithContext(ctx).Model(&sqlListing{}).
		Where("id = ? AND quantity_available = ? AND status = ?", before.ID, before.QuantityAvailable, string(before.Status)).
		Updates(map[string]any{
			"quantity_available": after.QuantityAvailable,
			"status":             string(after.Status),
			"updated_at":         after.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("%w: listing %s changed concurrently", domain.ErrConcurrencyConflict, before.ID)
	}
	return nil
}

// mutate 讀取、套用 fn、條件式寫回，全程使用呼叫端的 ctx
func (r listingRepo) mutate(ctx context.Context, listingID string, fn func(l *domain.Listing) error) (domain.Listing, error) {
	before, err := r.Get(ctx, listingID)
	if err != nil {
		return domain.Listing{}, err
	}
	after := before
	if err := fn(&after); err != nil {
		return domain.Listing{}, err
	}
	if err := r.save(ctx, before, after); err != nil {
		return domain.Listing{}, err
	}
	return after, nil
}

func (r listingRepo) TryReserve(ctx context.Context, listingID string, quantity int64) (domain.Listing, error) {
	return r.mutate(ctx, listingID, func(l *domain.Listing) error {
		return l.Reserve(quantity, now())
	})
}

func (r listingRepo) Release(ctx context.Context, listingID string, quantity int64) (domain.Listing, error) {
	return r.mutate(ctx, listingID, func(l *domain.Listing) error {
		return l.Release(quantity, now())
	})
}

func (r listingRepo) Cancel(ctx context.Context, listingID string) (domain.Listing, error) {
	return r.mutate(ctx, listingID, func(l *domain.Listing) error {
		return l.Cancel(now())
	})
}

type accountRepo struct{ tx *gorm.DB }

func (r accountRepo) find(ctx context.Context, partyID domain.PartyID) (*sqlAccount, error) {
	var m sqlAccount
	err := r.tx.WithContext(ctx).Where("party_id = ?", string(partyID)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r accountRepo) Get(ctx context.Context, partyID domain.PartyID) (domain.HolderAccount, error) {
	m, err := r.find(ctx, partyID)
	if err != nil {
		return domain.HolderAccount{}, err
	}
	if m == nil {
		return domain.HolderAccount{}, domain.ErrPartyNotFound
	}
	return m.toDomain(), nil
}

// apply 讀取 (必要時建立) 帳戶、套用 fn、寫回並附加紀錄
func (r accountRepo) apply(ctx context.Context, partyID domain.PartyID, create bool, rec domain.TransactionRecord, fn func(a *domain.HolderAccount, at time.Time) (int64, error)) (domain.HolderAccount, domain.TransactionRecord, error) {
	at := rec.CreatedAt
	if at.IsZero() {
		at = now()
	}
	m, err := r.find(ctx, partyID)
	if err != nil {
		return domain.HolderAccount{}, domain.TransactionRecord{}, err
	}
	exists := m != nil
	var account domain.HolderAccount
	if exists {
		account = m.toDomain()
	} else if create {
		account = domain.NewHolderAccount(partyID, at)
	} else {
		return domain.HolderAccount{}, domain.TransactionRecord{}, domain.ErrPartyNotFound
	}

	before := account.Balance
	delta, err := fn(&account, at)
	if err != nil {
		return domain.HolderAccount{}, domain.TransactionRecord{}, err
	}
	if err := r.write(ctx, account, exists, before); err != nil {
		return domain.HolderAccount{}, domain.TransactionRecord{}, err
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.PartyID = partyID
	rec.Delta = delta
	rec.CreatedAt = at
	if err := r.tx.WithContext(ctx).Create(recordFromDomain(rec)).Error; err != nil {
		return domain.HolderAccount{}, domain.TransactionRecord{}, err
	}
	return account, rec, nil
}

// write 新帳戶用 insert (撞 primary key 代表併發建立)，舊帳戶用條件式 update
func (r accountRepo) write(ctx context.Context, account domain.HolderAccount, exists bool, balanceBefore int64) error {
	tx := r.tx.WithContext(ctx)
	if !exists {
		return tx.Create(&sqlAccount{
			PartyID:   string(account.PartyID),
			Balance:   account.Balance,
			WalletRef: account.WalletRef,
			UpdatedAt: account.UpdatedAt,
		}).Error
	}
	res := tx.Model(&sqlAccount{}).
		Where("party_id = ? AND balance = ?", string(account.PartyID), balanceBefore).
		Updates(map[string]any{
			"balance":    account.Balance,
			"wallet_ref": account.WalletRef,
			"updated_at": account.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("%w: account %s changed concurrently", domain.ErrConcurrencyConflict, account.PartyID)
	}
	return nil
}

func (r accountRepo) Credit(ctx context.Context, partyID domain.PartyID, quantity int64, rec domain.TransactionRecord) (domain.HolderAccount, domain.TransactionRecord, error) {
	return r.apply(ctx, partyID, true, rec, func(a *domain.HolderAccount, at time.Time) (int64, error) {
		return quantity, a.Credit(quantity, at)
	})
}

func (r accountRepo) Debit(ctx context.Context, partyID domain.PartyID, quantity int64, rec domain.TransactionRecord) (domain.HolderAccount, domain.TransactionRecord, error) {
	return r.apply(ctx, partyID, false, rec, func(a *domain.HolderAccount, at time.Time) (int64, error) {
		return -quantity, a.Debit(quantity, at)
	})
}

func (r accountRepo) ReconcileTo(ctx context.Context, partyID domain.PartyID, absoluteBalance int64, rec domain.TransactionRecord) (domain.HolderAccount, domain.TransactionRecord, error) {
	return r.apply(ctx, partyID, true, rec, func(a *domain.HolderAccount, at time.Time) (int64, error) {
		return a.ReconcileTo(absoluteBalance, at)
	})
}

func (r accountRepo) BindWallet(ctx context.Context, partyID domain.PartyID, walletRef string) (domain.HolderAccount, error) {
	at := now()
	m, err := r.find(ctx, partyID)
	if err != nil {
		return domain.HolderAccount{}, err
	}
	account := domain.NewHolderAccount(partyID, at)
	if m != nil {
		account = m.toDomain()
	}
	account.WalletRef = walletRef
	account.UpdatedAt = at
	if err := r.write(ctx, account, m != nil, account.Balance); err != nil {
		return domain.HolderAccount{}, err
	}
	return account, nil
}

type outcomeRepo struct{ tx *gorm.DB }

func (r outcomeRepo) Lookup(ctx context.Context, key string) (*domain.StoredOutcome, error) {
	return lookupOutcome(r.tx.WithContext(ctx), key)
}

func (r outcomeRepo) Save(ctx context.Context, outcome domain.StoredOutcome) error {
	m, err := outcomeFromDomain(outcome)
	if err != nil {
		return err
	}
	return r.tx.WithContext(ctx).Create(m).Error
}
