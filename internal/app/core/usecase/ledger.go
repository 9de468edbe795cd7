package usecase

import (
	"context"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
)

// Store 持久層的介面
//
// Atomic 在一個交易單位內執行 fn:
//   - 依 scope.Keys() 的順序鎖住所有資源 (listing / party / 冪等鍵)
//   - fn 回傳錯誤時，單位內所有寫入都必須還原，不能留下任何痕跡
//   - fn 成功後才提交；提交失敗回傳 domain.ErrStoreUnavailable 類錯誤
//   - 輸給併發交易時回傳 domain.ErrConcurrencyConflict
type Store interface {
	Atomic(ctx context.Context, scope domain.LockScope, fn func(ctx context.Context, uow UnitOfWork) error) error
	Reader
}

// UnitOfWork 交易單位內可以使用的三個子 store
// 只在 Atomic 的 fn 內有效
type UnitOfWork interface {
	Listings() ListingStore
	Accounts() AccountStore
	Outcomes() OutcomeStore
}

// ListingStore 掛單的可售數量
type ListingStore interface {
	// Get 找不到回傳 domain.ErrListingNotFound
	Get(ctx context.Context, listingID string) (domain.Listing, error)
	Create(ctx context.Context, listing domain.Listing) error
	// TryReserve 重新檢查狀態與數量後扣減，只異動 listing 本身
	TryReserve(ctx context.Context, listingID string, quantity int64) (domain.Listing, error)
	// Release 歸還同一單位內 TryReserve 的數量
	Release(ctx context.Context, listingID string, quantity int64) (domain.Listing, error)
	Cancel(ctx context.Context, listingID string) (domain.Listing, error)
}

// AccountStore 參與者餘額與交易紀錄
// Credit/Debit/ReconcileTo 會同時寫入 rec (補上 Delta/PartyID/ID)，回傳最終的帳戶與紀錄
type AccountStore interface {
	// Get 找不到回傳 domain.ErrPartyNotFound
	Get(ctx context.Context, partyID domain.PartyID) (domain.HolderAccount, error)
	Credit(ctx context.Context, partyID domain.PartyID, quantity int64, rec domain.TransactionRecord) (domain.HolderAccount, domain.TransactionRecord, error)
	// Debit 餘額不足回傳 domain.ErrInsufficientBalance
	Debit(ctx context.Context, partyID domain.PartyID, quantity int64, rec domain.TransactionRecord) (domain.HolderAccount, domain.TransactionRecord, error)
	ReconcileTo(ctx context.Context, partyID domain.PartyID, absoluteBalance int64, rec domain.TransactionRecord) (domain.HolderAccount, domain.TransactionRecord, error)
	BindWallet(ctx context.Context, partyID domain.PartyID, walletRef string) (domain.HolderAccount, error)
}

// OutcomeStore 冪等鍵與結果
type OutcomeStore interface {
	// Lookup 不存在時回傳 (nil, nil)
	Lookup(ctx context.Context, key string) (*domain.StoredOutcome, error)
	Save(ctx context.Context, outcome domain.StoredOutcome) error
}

// Reader 顯示用的讀取，不經過交易單位
type Reader interface {
	GetListing(ctx context.Context, listingID string) (domain.Listing, error)
	// ListListings status 為空字串時回傳全部
	ListListings(ctx context.Context, status domain.ListingStatus) ([]domain.Listing, error)
	GetAccount(ctx context.Context, partyID domain.PartyID) (domain.HolderAccount, error)
	// ListRecords 依寫入順序回傳
	ListRecords(ctx context.Context, partyID domain.PartyID) ([]domain.TransactionRecord, error)
	GetOutcome(ctx context.Context, key string) (*domain.StoredOutcome, error)
}

// OutcomeCache 冪等結果的快取，只是加速，權威資料在 Store
type OutcomeCache interface {
	Get(ctx context.Context, key string) (*domain.StoredOutcome, error)
	Put(ctx context.Context, outcome domain.StoredOutcome) error
}

// EventPublisher 提交後發布事件，失敗不影響已提交的狀態
type EventPublisher interface {
	Publish(ctx context.Context, event domain.LedgerEvent) error
}

// ExternalLedger 外部帳本 (鏈上) 的唯讀介面
type ExternalLedger interface {
	// MintConfirmed mint 交易已上鏈且成功
	MintConfirmed(ctx context.Context, txHash string) (bool, error)
	// BalanceOf 錢包目前的碳權數量
	BalanceOf(ctx context.Context, walletRef string) (int64, error)
}
