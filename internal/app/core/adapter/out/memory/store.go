package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-credit-ledger/pkg/log"
	"github.com/JoeShih716/go-credit-ledger/pkg/wal"
)

// Store 是一個記憶體內的帳本 store
//
// 結構:
//
//	mu: 只保護 map 本身的結構 (新增/查找)，時間很短
//	locks: 每個 listing / party / 冪等鍵一把鎖，保護 row 的內容
//	wal: 已提交單位的 Write-Ahead Log，重啟時重放
type Store struct {
	mu       sync.RWMutex
	listings map[string]*domain.Listing
	accounts map[domain.PartyID]*domain.HolderAccount
	records  map[domain.PartyID][]domain.TransactionRecord
	outcomes map[string]domain.StoredOutcome

	locks *lockTable
	wal   *wal.WAL
	seq   uint64 // 受 mu 保護

	beforeWrite func(op, key string) error
}

// Option 設定 Store
type Option func(*Store)

// WithBeforeWrite 每次寫入 row 之前呼叫，回傳錯誤會讓該次寫入失敗 (測試用的故障注入)
func WithBeforeWrite(hook func(op, key string) error) Option {
	return func(s *Store) {
		s.beforeWrite = hook
	}
}

// NewStore 建立 Store，w 不為 nil 時會先從 WAL 恢復狀態
//
// 參數:
//
//	w: *wal.WAL - Write-Ahead Log，nil 代表純記憶體 (重啟即遺失)
//
// 回傳:
//
//	*Store: Store 實例
//	error: WAL 恢復失敗
func NewStore(w *wal.WAL, opts ...Option) (*Store, error) {
	s := &Store{
		listings: make(map[string]*domain.Listing),
		accounts: make(map[domain.PartyID]*domain.HolderAccount),
		records:  make(map[domain.PartyID][]domain.TransactionRecord),
		outcomes: make(map[string]domain.StoredOutcome),
		locks:    newLockTable(),
		wal:      w,
	}
	for _, opt := range opts {
		opt(s)
	}
	if w != nil {
		if err := s.recoverFromWAL(); err != nil {
			return nil, fmt.Errorf("failed to recover from wal: %w", err)
		}
	}
	return s, nil
}

// Atomic 鎖住 scope 內所有鍵後執行 fn，失敗時依相反順序還原所有寫入
func (s *Store) Atomic(ctx context.Context, scope domain.LockScope, fn func(ctx context.Context, uow usecase.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	keys := scope.Keys()
	unlock := s.locks.lockAll(keys)
	defer unlock()

	u := newUnit(s, keys)
	if err := fn(ctx, u); err != nil {
		u.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		u.rollback()
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if err := u.commit(); err != nil {
		u.rollback()
		log.L(ctx).WithError(err).Error("wal write failed, unit rolled back")
		return fmt.Errorf("%w: %v", domain.ErrWALWriteFailed, err)
	}
	return nil
}

// GetListing 顯示用讀取
func (s *Store) GetListing(ctx context.Context, listingID string) (domain.Listing, error) {
	defer s.locks.rlock(domain.ListingLockKey(listingID))()
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[listingID]
	if !ok {
		return domain.Listing{}, domain.ErrListingNotFound
	}
	return *l, nil
}

// ListListings 依建立時間排序
func (s *Store) ListListings(ctx context.Context, status domain.ListingStatus) ([]domain.Listing, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.listings))
	for id := range s.listings {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make([]domain.Listing, 0, len(ids))
	for _, id := range ids {
		l, err := s.GetListing(ctx, id)
		if err != nil {
			continue
		}
		if status == "" || l.Status == status {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetAccount(ctx context.Context, partyID domain.PartyID) (domain.HolderAccount, error) {
	defer s.locks.rlock(domain.PartyLockKey(partyID))()
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[partyID]
	if !ok {
		return domain.HolderAccount{}, domain.ErrPartyNotFound
	}
	return *a, nil
}

func (s *Store) ListRecords(ctx context.Context, partyID domain.PartyID) ([]domain.TransactionRecord, error) {
	defer s.locks.rlock(domain.PartyLockKey(partyID))()
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.records[partyID]
	out := make([]domain.TransactionRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (s *Store) GetOutcome(ctx context.Context, key string) (*domain.StoredOutcome, error) {
	defer s.locks.rlock(domain.IdempotencyLockKey(key))()
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.outcomes[key]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

// Close 關閉 WAL
func (s *Store) Close() error {
	if s.wal == nil {
		return nil
	}
	return s.wal.Close()
}

var _ usecase.Store = (*Store)(nil)
