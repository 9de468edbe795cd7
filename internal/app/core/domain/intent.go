package domain

import (
	"sort"
	"strings"
)

const maxIdempotencyKeyLength = 256

// TransferIntent 一次轉移的意圖，是原子性的最小單位
//
// ListingID 與 ExternalIssuance 必須剛好設定一個:
//   - 市場交易: 從 listing 扣數量，賣方扣帳，買方入帳
//   - 外部發行: 只替買方入帳，沒有 listing 也沒有賣方
//
// SellerPartyID 可以留空，此時以 listing 的擁有者為賣方
type TransferIntent struct {
	ListingID        string  `json:"listing_id,omitempty"`
	SellerPartyID    PartyID `json:"seller_party_id,omitempty"`
	BuyerPartyID     PartyID `json:"buyer_party_id"`
	Quantity         int64   `json:"quantity"`
	IdempotencyKey   string  `json:"idempotency_key"`
	ExternalIssuance bool    `json:"external_issuance,omitempty"`
}

func (t TransferIntent) Validate() error {
	if err := validateIdempotencyKey(t.IdempotencyKey); err != nil {
		return err
	}
	if (strings.TrimSpace(t.ListingID) == "") == !t.ExternalIssuance {
		return ErrAmbiguousSource
	}
	if t.Quantity <= 0 {
		return ErrQuantityMustBePositive
	}
	if err := t.BuyerPartyID.Validate(); err != nil {
		return err
	}
	if t.ExternalIssuance {
		if t.SellerPartyID != "" {
			return ErrAmbiguousSource
		}
		return nil
	}
	if t.SellerPartyID != "" {
		if err := t.SellerPartyID.Validate(); err != nil {
			return err
		}
		if t.SellerPartyID == t.BuyerPartyID {
			return ErrSelfTrade
		}
	}
	return nil
}

// RetireIntent 註銷碳權: 只扣帳，不會替任何人入帳
type RetireIntent struct {
	PartyID        PartyID `json:"party_id"`
	Quantity       int64   `json:"quantity"`
	IdempotencyKey string  `json:"idempotency_key"`
}

func (r RetireIntent) Validate() error {
	if err := validateIdempotencyKey(r.IdempotencyKey); err != nil {
		return err
	}
	if r.Quantity <= 0 {
		return ErrQuantityMustBePositive
	}
	return r.PartyID.Validate()
}

// ReconcileIntent 把本地餘額對齊外部帳本觀察到的絕對值
// IdempotencyKey 通常就是鏈上 mint 的 tx hash
type ReconcileIntent struct {
	PartyID         PartyID `json:"party_id"`
	AbsoluteBalance int64   `json:"absolute_balance"`
	IdempotencyKey  string  `json:"idempotency_key"`
}

func (r ReconcileIntent) Validate() error {
	if err := validateIdempotencyKey(r.IdempotencyKey); err != nil {
		return err
	}
	if r.AbsoluteBalance < 0 {
		return ErrNegativeBalance
	}
	return r.PartyID.Validate()
}

func validateIdempotencyKey(key string) error {
	if strings.TrimSpace(key) == "" || len(key) > maxIdempotencyKeyLength {
		return ErrIdempotencyKeyRequired
	}
	return nil
}

// LockScope 一個交易單位會動到的所有資源
// 所有實作都必須依 Keys() 的順序取得鎖，避免死結
type LockScope struct {
	ListingIDs     []string
	PartyIDs       []PartyID
	IdempotencyKey string
}

// ListingLockKey / PartyLockKey / IdempotencyLockKey 單一資源的鎖鍵
func ListingLockKey(id string) string { return "listing:" + id }

func PartyLockKey(id PartyID) string { return "party:" + string(id) }

func IdempotencyLockKey(key string) string { return "idem:" + key }

// Keys 回傳排序且去重後的鎖鍵
func (s LockScope) Keys() []string {
	seen := make(map[string]struct{}, len(s.ListingIDs)+len(s.PartyIDs)+1)
	keys := make([]string, 0, len(s.ListingIDs)+len(s.PartyIDs)+1)
	add := func(k string) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for _, id := range s.ListingIDs {
		add(ListingLockKey(id))
	}
	for _, id := range s.PartyIDs {
		add(PartyLockKey(id))
	}
	if s.IdempotencyKey != "" {
		add(IdempotencyLockKey(s.IdempotencyKey))
	}
	sort.Strings(keys)
	return keys
}

// SortedListingIDs 去重排序後的 listing id
func (s LockScope) SortedListingIDs() []string {
	out := make([]string, 0, len(s.ListingIDs))
	seen := map[string]struct{}{}
	for _, id := range s.ListingIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// SortedPartyIDs 去重排序後的 party id
func (s LockScope) SortedPartyIDs() []PartyID {
	out := make([]PartyID, 0, len(s.PartyIDs))
	seen := map[PartyID]struct{}{}
	for _, id := range s.PartyIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
