package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RecordType 交易紀錄類型
type RecordType string

const (
	RecordTypePurchased RecordType = "PURCHASED"
	RecordTypeSold      RecordType = "SOLD"
	RecordTypeRetired   RecordType = "RETIRED"
	RecordTypeIssued    RecordType = "ISSUED"
)

// TransactionRecord 一筆交易在單一參與者帳上的紀錄，只能新增不能修改
//
// 同一筆市場交易買賣雙方各一筆，共用 TransferID；
// ISSUED 與 RETIRED 是單邊紀錄。
type TransactionRecord struct {
	ID             uuid.UUID       `json:"id"`
	TransferID     uuid.UUID       `json:"transfer_id"`
	PartyID        PartyID         `json:"party_id"`
	CounterpartyID PartyID         `json:"counterparty_id,omitempty"`
	ListingID      string          `json:"listing_id,omitempty"`
	Delta          int64           `json:"delta"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Type           RecordType      `json:"type"`
	Reference      string          `json:"reference,omitempty"` // 冪等鍵 / 付款 ID / 鏈上交易 hash
	CreatedAt      time.Time       `json:"created_at"`
}
