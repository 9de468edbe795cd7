package gormstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-credit-ledger/pkg/log"
	"github.com/JoeShih716/go-credit-ledger/pkg/sqldb"
)

// Store 是以 GORM 實作的帳本 store (MySQL / PostgreSQL / SQLite)
//
// 每個交易單位是一個 DB transaction，開始時依排序先鎖 listing 再鎖 party (悲觀鎖)。
// SQLite 不支援 FOR UPDATE，靠單一連線序列化。
type Store struct {
	client *sqldb.Client
}

func NewStore(client *sqldb.Client) *Store {
	return &Store{
		client: client,
	}
}

// Migrate 建立或更新資料表
func (s *Store) Migrate(ctx context.Context) error {
	err := s.client.DB().WithContext(ctx).AutoMigrate(&sqlListing{}, &sqlAccount{}, &sqlRecord{}, &sqlOutcome{})
	if err != nil {
		return fmt.Errorf("failed to migrate ledger tables: %w", err)
	}
	return nil
}

// Atomic 在一個 DB transaction 內執行 fn
func (s *Store) Atomic(ctx context.Context, scope domain.LockScope, fn func(ctx context.Context, uow usecase.UnitOfWork) error) error {
	err := s.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockScope(tx, scope); err != nil {
			return err
		}
		return fn(ctx, &unit{tx: tx})
	})
	if err != nil {
		log.L(ctx).WithError(err).Debug("ledger transaction rolled back")
	}
	return translateError(err)
}

// lockScope 依排序鎖住 scope 內已存在的 row
// 還不存在的帳戶由 insert 的 primary key 保護 (撞到就是併發衝突)
func (s *Store) lockScope(tx *gorm.DB, scope domain.LockScope) error {
	if s.client.Dialect() == sqldb.TypeSQLite {
		return nil
	}
	if ids := scope.SortedListingIDs(); len(ids) > 0 {
		var rows []sqlListing
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", ids).
			Order("id").
			Find(&rows).Error; err != nil {
			return err
		}
	}
	if ids := scope.SortedPartyIDs(); len(ids) > 0 {
		parties := make([]string, len(ids))
		for i, id := range ids {
			parties[i] = string(id)
		}
		var rows []sqlAccount
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("party_id IN ?", parties).
			Order("party_id").
			Find(&rows).Error; err != nil {
			return err
		}
	}
	return nil
}

// translateError 把 GORM / driver 錯誤對應到 domain 的錯誤分類
// domain 錯誤原樣回傳，其他一律視為持久層不可用 (transaction 已 rollback)
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrPreconditionFailed),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConcurrencyConflict),
		errors.Is(err, domain.ErrStoreUnavailable):
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
}

func (s *Store) GetListing(ctx context.Context, listingID string) (domain.Listing, error) {
	var m sqlListing
	err := s.client.DB().WithContext(ctx).Where("id = ?", listingID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Listing{}, domain.ErrListingNotFound
	}
	if err != nil {
		return domain.Listing{}, translateError(err)
	}
	return m.toDomain(), nil
}

func (s *Store) ListListings(ctx context.Context, status domain.ListingStatus) ([]domain.Listing, error) {
	q := s.client.DB().WithContext(ctx).Order("created_at, id")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var rows []sqlListing
	if err := q.Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	out := make([]domain.Listing, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (s *Store) GetAccount(ctx context.Context, partyID domain.PartyID) (domain.HolderAccount, error) {
	var m sqlAccount
	err := s.client.DB().WithContext(ctx).Where("party_id = ?", string(partyID)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.HolderAccount{}, domain.ErrPartyNotFound
	}
	if err != nil {
		return domain.HolderAccount{}, translateError(err)
	}
	return m.toDomain(), nil
}

func (s *Store) ListRecords(ctx context.Context, partyID domain.PartyID) ([]domain.TransactionRecord, error) {
	var rows []sqlRecord
	err := s.client.DB().WithContext(ctx).
		Where("party_id = ?", string(partyID)).
		Order("seq").
		Find(&rows).Error
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]domain.TransactionRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (s *Store) GetOutcome(ctx context.Context, key string) (*domain.StoredOutcome, error) {
	return lookupOutcome(s.client.DB().WithContext(ctx), key)
}

func lookupOutcome(db *gorm.DB, key string) (*domain.StoredOutcome, error) {
	var m sqlOutcome
	err := db.Where("idempotency_key = ?", key).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err)
	}
	o, err := m.toDomain()
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt outcome %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	return o, nil
}

var _ usecase.Store = (*Store)(nil)
