package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/pkg/log"
)

// CoreUseCase 是核心業務邏輯層
//
// 所有異動都經過 runIdempotent:
//  1. 先查快取，命中且請求相同就直接重放
//  2. 在 Store.Atomic 內再查一次冪等鍵 (權威)，沒有才真正異動並保存結果
//  3. 輸給併發交易 (ErrConcurrencyConflict) 時重新讀取並重試一次
//  4. 提交後才寫快取、發布事件，兩者失敗都只記 log
type CoreUseCase struct {
	store     Store
	cache     OutcomeCache
	publisher EventPublisher
	now       func() time.Time
	newID     func() uuid.UUID
}

// Option 設定 CoreUseCase 的選項
type Option func(*CoreUseCase)

// WithOutcomeCache 在 Store 前面加一層冪等結果快取
func WithOutcomeCache(cache OutcomeCache) Option {
	return func(c *CoreUseCase) {
		c.cache = cache
	}
}

// WithEventPublisher 提交後發布事件
func WithEventPublisher(p EventPublisher) Option {
	return func(c *CoreUseCase) {
		c.publisher = p
	}
}

// WithClock 測試用，固定時間
func WithClock(now func() time.Time) Option {
	return func(c *CoreUseCase) {
		c.now = now
	}
}

// WithIDGenerator 測試用，固定 id
func WithIDGenerator(gen func() uuid.UUID) Option {
	return func(c *CoreUseCase) {
		c.newID = gen
	}
}

func NewCoreUseCase(store Store, opts ...Option) *CoreUseCase {
	c := &CoreUseCase{
		store: store,
		now:   time.Now,
		newID: uuid.New,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// timestamp 統一用 UTC 並截到微秒，SQL 存回來才會一致
func (c *CoreUseCase) timestamp() time.Time {
	return c.now().UTC().Truncate(time.Microsecond)
}

type applyFunc func(ctx context.Context, uow UnitOfWork, transferID uuid.UUID, now time.Time) (domain.TransferResult, error)

// ExecuteTransfer 執行一次碳權轉移 (市場購買或外部發行)
//
// 參數:
//
//	intent: domain.TransferIntent - 轉移意圖，IdempotencyKey 通常是付款 ID
//
// 回傳值:
//
//	domain.Outcome: 結果，Replayed=true 代表是重放
//	error: 驗證/前置條件/併發/持久層錯誤，失敗時不會有任何部分寫入
func (c *CoreUseCase) ExecuteTransfer(ctx context.Context, intent domain.TransferIntent) (domain.Outcome, error) {
	if err := intent.Validate(); err != nil {
		return domain.Outcome{}, err
	}
	hash, err := requestHash("transfer", intent)
	if err != nil {
		return domain.Outcome{}, err
	}
	ctx = log.WithLogField(ctx, "idempotency_key", intent.IdempotencyKey)

	if intent.ExternalIssuance {
		scope := domain.LockScope{
			PartyIDs:       []domain.PartyID{intent.BuyerPartyID},
			IdempotencyKey: intent.IdempotencyKey,
		}
		return c.runIdempotent(ctx, domain.OperationIssuance, intent.IdempotencyKey, hash, scope, c.applyIssuance(intent))
	}

	seller := intent.SellerPartyID
	if seller == "" {
		// 只為了決定要鎖哪個賣方，owner 建立後不會變，單位內還會再檢查一次
		listing, err := c.store.GetListing(ctx, intent.ListingID)
		if err != nil {
			return domain.Outcome{}, err
		}
		seller = listing.OwnerID
		if seller == intent.BuyerPartyID {
			return domain.Outcome{}, domain.ErrSelfTrade
		}
	}
	scope := domain.LockScope{
		ListingIDs:     []string{intent.ListingID},
		PartyIDs:       []domain.PartyID{intent.BuyerPartyID, seller},
		IdempotencyKey: intent.IdempotencyKey,
	}
	return c.runIdempotent(ctx, domain.OperationPurchase, intent.IdempotencyKey, hash, scope, c.applyPurchase(intent, seller))
}

func (c *CoreUseCase) applyPurchase(intent domain.TransferIntent, seller domain.PartyID) applyFunc {
	return func(ctx context.Context, uow UnitOfWork, transferID uuid.UUID, now time.Time) (domain.TransferResult, error) {
		q := intent.Quantity
		listing, err := uow.Listings().Get(ctx, intent.ListingID)
		if err != nil {
			return domain.TransferResult{}, err
		}
		if listing.OwnerID != seller {
			return domain.TransferResult{}, domain.ErrSellerMismatch
		}
		if err := listing.CheckReserve(q); err != nil {
			return domain.TransferResult{}, err
		}
		sellerAccount, err := uow.Accounts().Get(ctx, seller)
		if err != nil {
			return domain.TransferResult{}, err
		}
		if sellerAccount.Balance < q {
			return domain.TransferResult{}, domain.ErrInsufficientSellerBalance
		}

		listing, err = uow.Listings().TryReserve(ctx, intent.ListingID, q)
		if err != nil {
			return domain.TransferResult{}, err
		}
		buyerAccount, buyerRec, err := uow.Accounts().Credit(ctx, intent.BuyerPartyID, q, domain.TransactionRecord{
			TransferID:     transferID,
			CounterpartyID: seller,
			ListingID:      listing.ID,
			UnitPrice:      listing.UnitPrice,
			Type:           domain.RecordTypePurchased,
			Reference:      intent.IdempotencyKey,
			CreatedAt:      now,
		})
		if err != nil {
			return domain.TransferResult{}, err
		}
		sellerAccount, sellerRec, err := uow.Accounts().Debit(ctx, seller, q, domain.TransactionRecord{
			TransferID:     transferID,
			CounterpartyID: intent.BuyerPartyID,
			ListingID:      listing.ID,
			UnitPrice:      listing.UnitPrice,
			Type:           domain.RecordTypeSold,
			Reference:      intent.IdempotencyKey,
			CreatedAt:      now,
		})
		if errors.Is(err, domain.ErrInsufficientBalance) {
			return domain.TransferResult{}, domain.ErrInsufficientSellerBalance
		}
		if err != nil {
			return domain.TransferResult{}, err
		}

		sellerBalance := sellerAccount.Balance
		remaining := listing.QuantityAvailable
		return domain.TransferResult{
			TransferID:      transferID,
			Kind:            domain.OperationPurchase,
			PartyID:         buyerAccount.PartyID,
			Balance:         buyerAccount.Balance,
			SellerID:        seller,
			SellerBalance:   &sellerBalance,
			ListingID:       listing.ID,
			ListingQuantity: &remaining,
			ListingStatus:   listing.Status,
			Records:         []domain.TransactionRecord{buyerRec, sellerRec},
			CompletedAt:     now,
		}, nil
	}
}

func (c *CoreUseCase) applyIssuance(intent domain.TransferIntent) applyFunc {
	return func(ctx context.Context, uow UnitOfWork, transferID uuid.UUID, now time.Time) (domain.TransferResult, error) {
		account, rec, err := uow.Accounts().Credit(ctx, intent.BuyerPartyID, intent.Quantity, domain.TransactionRecord{
			TransferID: transferID,
			UnitPrice:  decimal.Zero,
			Type:       domain.RecordTypeIssued,
			Reference:  intent.IdempotencyKey,
			CreatedAt:  now,
		})
		if err != nil {
			return domain.TransferResult{}, err
		}
		return domain.TransferResult{
			TransferID:  transferID,
			Kind:        domain.OperationIssuance,
			PartyID:     account.PartyID,
			Balance:     account.Balance,
			Records:     []domain.TransactionRecord{rec},
			CompletedAt: now,
		}, nil
	}
}

// Retire 註銷碳權，持有者餘額必須足夠
func (c *CoreUseCase) Retire(ctx context.Context, intent domain.RetireIntent) (domain.Outcome, error) {
	if err := intent.Validate(); err != nil {
		return domain.Outcome{}, err
	}
	hash, err := requestHash("retire", intent)
	if err != nil {
		return domain.Outcome{}, err
	}
	ctx = log.WithLogField(ctx, "idempotency_key", intent.IdempotencyKey)
	scope := domain.LockScope{
		PartyIDs:       []domain.PartyID{intent.PartyID},
		IdempotencyKey: intent.IdempotencyKey,
	}
	return c.runIdempotent(ctx, domain.OperationRetirement, intent.IdempotencyKey, hash, scope,
		func(ctx context.Context, uow UnitOfWork, transferID uuid.UUID, now time.Time) (domain.TransferResult, error) {
			account, err := uow.Accounts().Get(ctx, intent.PartyID)
			if err != nil {
				return domain.TransferResult{}, err
			}
			if account.Balance < intent.Quantity {
				return domain.TransferResult{}, domain.ErrInsufficientBalance
			}
			account, rec, err := uow.Accounts().Debit(ctx, intent.PartyID, intent.Quantity, domain.TransactionRecord{
				TransferID: transferID,
				UnitPrice:  decimal.Zero,
				Type:       domain.RecordTypeRetired,
				Reference:  intent.IdempotencyKey,
				CreatedAt:  now,
			})
			if err != nil {
				return domain.TransferResult{}, err
			}
			return domain.TransferResult{
				TransferID:  transferID,
				Kind:        domain.OperationRetirement,
				PartyID:     account.PartyID,
				Balance:     account.Balance,
				Records:     []domain.TransactionRecord{rec},
				CompletedAt: now,
			}, nil
		})
}

// ReconcileTo 把本地餘額設成外部帳本的絕對值，附一筆 ISSUED 紀錄 (delta 為差額，可能為 0)
func (c *CoreUseCase) ReconcileTo(ctx context.Context, intent domain.ReconcileIntent) (domain.Outcome, error) {
	if err := intent.Validate(); err != nil {
		return domain.Outcome{}, err
	}
	hash, err := requestHash("reconcile", intent)
	if err != nil {
		return domain.Outcome{}, err
	}
	return c.reconcile(ctx, intent, hash)
}

func (c *CoreUseCase) reconcile(ctx context.Context, intent domain.ReconcileIntent, hash string) (domain.Outcome, error) {
	ctx = log.WithLogField(ctx, "idempotency_key", intent.IdempotencyKey)
	scope := domain.LockScope{
		PartyIDs:       []domain.PartyID{intent.PartyID},
		IdempotencyKey: intent.IdempotencyKey,
	}
	return c.runIdempotent(ctx, domain.OperationReconciliation, intent.IdempotencyKey, hash, scope,
		func(ctx context.Context, uow UnitOfWork, transferID uuid.UUID, now time.Time) (domain.TransferResult, error) {
			account, rec, err := uow.Accounts().ReconcileTo(ctx, intent.PartyID, intent.AbsoluteBalance, domain.TransactionRecord{
				TransferID: transferID,
				UnitPrice:  decimal.Zero,
				Type:       domain.RecordTypeIssued,
				Reference:  intent.IdempotencyKey,
				CreatedAt:  now,
			})
			if err != nil {
				return domain.TransferResult{}, err
			}
			return domain.TransferResult{
				TransferID:  transferID,
				Kind:        domain.OperationReconciliation,
				PartyID:     account.PartyID,
				Balance:     account.Balance,
				Records:     []domain.TransactionRecord{rec},
				CompletedAt: now,
			}, nil
		})
}

func (c *CoreUseCase) runIdempotent(ctx context.Context, kind domain.OperationKind, key, hash string, scope domain.LockScope, apply applyFunc) (domain.Outcome, error) {
	logger := log.L(ctx).WithField("op", string(kind))

	if out, ok, err := c.cachedOutcome(ctx, key, hash); err != nil || ok {
		if ok {
			logger.Debug("replayed from cache")
		}
		return out, err
	}

	var outcome domain.Outcome
	attempt := func() error {
		return c.store.Atomic(ctx, scope, func(ctx context.Context, uow UnitOfWork) error {
			prior, err := uow.Outcomes().Lookup(ctx, key)
			if err != nil {
				return err
			}
			if prior != nil {
				if prior.RequestHash != hash {
					return domain.ErrIdempotencyConflict
				}
				outcome = domain.Outcome{Result: prior.Result, Replayed: true}
				return nil
			}
			now := c.timestamp()
			result, err := apply(ctx, uow, c.newID(), now)
			if err != nil {
				return err
			}
			if err := uow.Outcomes().Save(ctx, domain.StoredOutcome{
				Key:         key,
				RequestHash: hash,
				Result:      result,
				CreatedAt:   now,
			}); err != nil {
				return err
			}
			outcome = domain.Outcome{Result: result}
			return nil
		})
	}

	err := attempt()
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		logger.WithError(err).Warn("concurrency conflict, retrying once")
		outcome = domain.Outcome{}
		err = attempt()
	}
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) || errors.Is(err, domain.ErrConcurrencyConflict) {
			logger.WithError(err).Error("transfer failed")
		} else {
			logger.WithError(err).Info("transfer rejected")
		}
		return domain.Outcome{}, err
	}

	stored := domain.StoredOutcome{Key: key, RequestHash: hash, Result: outcome.Result, CreatedAt: outcome.Result.CompletedAt}
	c.cacheOutcome(ctx, stored)
	if outcome.Replayed {
		logger.Info("request already processed, returning cached result")
		return outcome, nil
	}

	logger.WithField("transfer_id", outcome.Result.TransferID.String()).
		WithField("party_id", outcome.Result.PartyID.String()).
		WithField("balance", outcome.Result.Balance).
		Info("transfer committed")
	c.publish(ctx, kind, key, outcome.Result)
	return outcome, nil
}

// cachedOutcome 快取命中時回傳 ok=true，快取壞掉視同沒命中
func (c *CoreUseCase) cachedOutcome(ctx context.Context, key, hash string) (domain.Outcome, bool, error) {
	if c.cache == nil {
		return domain.Outcome{}, false, nil
	}
	stored, err := c.cache.Get(ctx, key)
	if err != nil {
		log.L(ctx).WithError(err).Warn("outcome cache read failed")
		return domain.Outcome{}, false, nil
	}
	if stored == nil {
		return domain.Outcome{}, false, nil
	}
	if stored.RequestHash != hash {
		return domain.Outcome{}, false, domain.ErrIdempotencyConflict
	}
	return domain.Outcome{Result: stored.Result, Replayed: true}, true, nil
}

func (c *CoreUseCase) cacheOutcome(ctx context.Context, stored domain.StoredOutcome) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Put(ctx, stored); err != nil {
		log.L(ctx).WithError(err).Warn("outcome cache write failed")
	}
}

func (c *CoreUseCase) publish(ctx context.Context, kind domain.OperationKind, key string, result domain.TransferResult) {
	if c.publisher == nil {
		return
	}
	event := domain.LedgerEvent{
		ID:             c.newID(),
		Type:           domain.EventTypeFor(kind),
		IdempotencyKey: key,
		Result:         result,
		OccurredAt:     result.CompletedAt,
	}
	if err := c.publisher.Publish(ctx, event); err != nil {
		log.L(ctx).WithError(err).WithField("event", string(event.Type)).Warn("event publish failed")
	}
}

// CreateListing 賣方上架一筆掛單
func (c *CoreUseCase) CreateListing(ctx context.Context, owner domain.PartyID, quantity int64, unitPrice decimal.Decimal) (domain.Listing, error) {
	listing, err := domain.NewListing(c.newID().String(), owner, quantity, unitPrice, c.timestamp())
	if err != nil {
		return domain.Listing{}, err
	}
	scope := domain.LockScope{ListingIDs: []string{listing.ID}}
	err = c.store.Atomic(ctx, scope, func(ctx context.Context, uow UnitOfWork) error {
		return uow.Listings().Create(ctx, listing)
	})
	if err != nil {
		return domain.Listing{}, err
	}
	log.L(ctx).WithField("listing_id", listing.ID).WithField("owner", owner.String()).Info("listing created")
	return listing, nil
}

// CancelListing 下架，只有擁有者可以操作
func (c *CoreUseCase) CancelListing(ctx context.Context, listingID string, requestedBy domain.PartyID) (domain.Listing, error) {
	if strings.TrimSpace(listingID) == "" {
		return domain.Listing{}, domain.ErrInvalidListingID
	}
	if err := requestedBy.Validate(); err != nil {
		return domain.Listing{}, err
	}
	var cancelled domain.Listing
	err := c.store.Atomic(ctx, domain.LockScope{ListingIDs: []string{listingID}}, func(ctx context.Context, uow UnitOfWork) error {
		listing, err := uow.Listings().Get(ctx, listingID)
		if err != nil {
			return err
		}
		if listing.OwnerID != requestedBy {
			return domain.ErrNotListingOwner
		}
		cancelled, err = uow.Listings().Cancel(ctx, listingID)
		return err
	})
	if err != nil {
		return domain.Listing{}, err
	}
	log.L(ctx).WithField("listing_id", listingID).Info("listing cancelled")
	return cancelled, nil
}

// BindWallet 綁定參與者在外部帳本上的錢包，帳戶不存在時會建立
func (c *CoreUseCase) BindWallet(ctx context.Context, partyID domain.PartyID, walletRef string) (domain.HolderAccount, error) {
	if err := partyID.Validate(); err != nil {
		return domain.HolderAccount{}, err
	}
	walletRef, err := domain.ParseWalletRef(walletRef)
	if err != nil {
		return domain.HolderAccount{}, err
	}
	var account domain.HolderAccount
	err = c.store.Atomic(ctx, domain.LockScope{PartyIDs: []domain.PartyID{partyID}}, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		account, err = uow.Accounts().BindWallet(ctx, partyID, walletRef)
		return err
	})
	if err != nil {
		return domain.HolderAccount{}, err
	}
	return account, nil
}

func (c *CoreUseCase) GetListing(ctx context.Context, listingID string) (domain.Listing, error) {
	return c.store.GetListing(ctx, listingID)
}

func (c *CoreUseCase) ListListings(ctx context.Context, status domain.ListingStatus) ([]domain.Listing, error) {
	return c.store.ListListings(ctx, status)
}

func (c *CoreUseCase) GetAccount(ctx context.Context, partyID domain.PartyID) (domain.HolderAccount, error) {
	if err := partyID.Validate(); err != nil {
		return domain.HolderAccount{}, err
	}
	return c.store.GetAccount(ctx, partyID)
}

func (c *CoreUseCase) ListRecords(ctx context.Context, partyID domain.PartyID) ([]domain.TransactionRecord, error) {
	if err := partyID.Validate(); err != nil {
		return nil, err
	}
	return c.store.ListRecords(ctx, partyID)
}

// requestHash 同一把冪等鍵只能對應同一個請求內容
func requestHash(op string, intent any) (string, error) {
	raw, err := json.Marshal(struct {
		Op     string `json:"op"`
		Intent any    `json:"intent"`
	}{op, intent})
	if err != nil {
		return "", fmt.Errorf("failed to hash request: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
