package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ListingStatus 掛單狀態
type ListingStatus string

const (
	ListingStatusForSale   ListingStatus = "FOR_SALE"
	ListingStatusSoldOut   ListingStatus = "SOLD_OUT"
	ListingStatusCancelled ListingStatus = "CANCELLED"
)

// ParseListingStatus 解析狀態字串，空字串代表不篩選
func ParseListingStatus(raw string) (ListingStatus, error) {
	switch s := ListingStatus(strings.ToUpper(strings.TrimSpace(raw))); s {
	case "", ListingStatusForSale, ListingStatusSoldOut, ListingStatusCancelled:
		return s, nil
	default:
		return "", ErrValidation
	}
}

// Listing 市場上的一筆碳權掛單
//
// 狀態機: FOR_SALE -> SOLD_OUT (數量歸零), FOR_SALE -> CANCELLED (賣方取消)
// 沒有任何終態回到 FOR_SALE 的轉換
type Listing struct {
	ID                string          `json:"id"`
	OwnerID           PartyID         `json:"owner_id"`
	QuantityAvailable int64           `json:"quantity_available"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Status            ListingStatus   `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewListing 建立一筆 FOR_SALE 掛單
func NewListing(id string, owner PartyID, quantity int64, unitPrice decimal.Decimal, now time.Time) (Listing, error) {
	if strings.TrimSpace(id) == "" {
		return Listing{}, ErrInvalidListingID
	}
	if err := owner.Validate(); err != nil {
		return Listing{}, err
	}
	if quantity <= 0 {
		return Listing{}, ErrQuantityMustBePositive
	}
	if !unitPrice.IsPositive() {
		return Listing{}, ErrPriceMustBePositive
	}
	return Listing{
		ID:                id,
		OwnerID:           owner,
		QuantityAvailable: quantity,
		UnitPrice:         unitPrice,
		Status:            ListingStatusForSale,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func (l *Listing) ForSale() bool {
	return l.Status == ListingStatusForSale
}

// CheckReserve 只檢查不修改
func (l *Listing) CheckReserve(quantity int64) error {
	if quantity <= 0 {
		return ErrQuantityMustBePositive
	}
	if !l.ForSale() {
		return ErrListingNotForSale
	}
	if l.QuantityAvailable < quantity {
		return ErrInsufficientListingQuantity
	}
	return nil
}

// Reserve 扣減可售數量，歸零時轉為 SOLD_OUT
func (l *Listing) Reserve(quantity int64, now time.Time) error {
	if err := l.CheckReserve(quantity); err != nil {
		return err
	}
	l.QuantityAvailable -= quantity
	if l.QuantityAvailable == 0 {
		l.Status = ListingStatusSoldOut
	}
	l.UpdatedAt = now
	return nil
}

// Release 歸還同一個交易單位內先前 Reserve 的數量
// 只在單位回滾時使用，提交後的 SOLD_OUT 不會經過這裡回到 FOR_SALE
func (l *Listing) Release(quantity int64, now time.Time) error {
	if quantity <= 0 {
		return ErrQuantityMustBePositive
	}
	if l.Status == ListingStatusCancelled {
		return ErrListingNotForSale
	}
	if !canAdd(l.QuantityAvailable, quantity) {
		return ErrQuantityOverflow
	}
	l.QuantityAvailable += quantity
	l.Status = ListingStatusForSale
	l.UpdatedAt = now
	return nil
}

// Cancel 賣方下架，只有 FOR_SALE 可以取消
func (l *Listing) Cancel(now time.Time) error {
	if !l.ForSale() {
		return ErrListingNotForSale
	}
	l.Status = ListingStatusCancelled
	l.UpdatedAt = now
	return nil
}
