package domain

import (
	"time"

	"github.com/google/uuid"
)

// OperationKind 產生結果的操作種類
type OperationKind string

const (
	OperationPurchase       OperationKind = "purchase"
	OperationIssuance       OperationKind = "issuance"
	OperationRetirement     OperationKind = "retirement"
	OperationReconciliation OperationKind = "reconciliation"
)

// TransferResult 一次成功提交的結果，會跟冪等鍵一起保存
type TransferResult struct {
	TransferID      uuid.UUID           `json:"transfer_id"`
	Kind            OperationKind       `json:"kind"`
	PartyID         PartyID             `json:"party_id"`
	Balance         int64               `json:"balance"`
	SellerID        PartyID             `json:"seller_id,omitempty"`
	SellerBalance   *int64              `json:"seller_balance,omitempty"`
	ListingID       string              `json:"listing_id,omitempty"`
	ListingQuantity *int64              `json:"listing_quantity,omitempty"`
	ListingStatus   ListingStatus       `json:"listing_status,omitempty"`
	Records         []TransactionRecord `json:"records"`
	CompletedAt     time.Time           `json:"completed_at"`
}

// Outcome 回給呼叫端的結果
// Replayed 為 true 表示冪等鍵已經處理過，回傳的是當初的結果，沒有再次異動
type Outcome struct {
	Result   TransferResult `json:"result"`
	Replayed bool           `json:"replayed"`
}

// StoredOutcome 持久化的冪等紀錄
// RequestHash 用來辨識同一把鍵是否被拿去送不同的請求
type StoredOutcome struct {
	Key         string         `json:"key"`
	RequestHash string         `json:"request_hash"`
	Result      TransferResult `json:"result"`
	CreatedAt   time.Time      `json:"created_at"`
}
