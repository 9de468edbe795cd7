package gormstore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
)

// 時間欄位都由 domain 決定，關掉 GORM 的自動時間

// sqlListing 對應資料庫的 listings 表
type sqlListing struct {
	ID                string          `gorm:"primaryKey;size:64"`
	OwnerID           string          `gorm:"size:128;index"`
	QuantityAvailable int64           `gorm:"not null"`
	UnitPrice         decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	Status            string          `gorm:"size:16;index;not null"`
	CreatedAt         time.Time       `gorm:"autoCreateTime:false;index"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime:false"`
}

func (*sqlListing) TableName() string {
	return "listings"
}

func (m *sqlListing) toDomain() domain.Listing {
	return domain.Listing{
		ID:                m.ID,
		OwnerID:           domain.PartyID(m.OwnerID),
		QuantityAvailable: m.QuantityAvailable,
		UnitPrice:         m.UnitPrice,
		Status:            domain.ListingStatus(m.Status),
		CreatedAt:         m.CreatedAt.UTC(),
		UpdatedAt:         m.UpdatedAt.UTC(),
	}
}

func listingFromDomain(l domain.Listing) *sqlListing {
	return &sqlListing{
		ID:                l.ID,
		OwnerID:           string(l.OwnerID),
		QuantityAvailable: l.QuantityAvailable,
		UnitPrice:         l.UnitPrice,
		Status:            string(l.Status),
		CreatedAt:         l.CreatedAt,
		UpdatedAt:         l.UpdatedAt,
	}
}

// sqlAccount 對應資料庫的 holder_accounts 表
type sqlAccount struct {
	PartyID   string    `gorm:"primaryKey;size:128"`
	Balance   int64     `gorm:"not null"`
	WalletRef string    `gorm:"size:128"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (*sqlAccount) TableName() string {
	return "holder_accounts"
}

func (m *sqlAccount) toDomain() domain.HolderAccount {
	return domain.HolderAccount{
		PartyID:   domain.PartyID(m.PartyID),
		Balance:   m.Balance,
		WalletRef: m.WalletRef,
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

// sqlRecord 對應資料庫的 transaction_records 表
// Seq 自增，用來保持同一參與者紀錄的寫入順序
type sqlRecord struct {
	Seq            uint64          `gorm:"primaryKey;autoIncrement"`
	RefID          string          `gorm:"column:ref_id;size:36;uniqueIndex"`
	TransferID     string          `gorm:"size:36;index"`
	PartyID        string          `gorm:"size:128;index"`
	CounterpartyID string          `gorm:"size:128"`
	ListingID      string          `gorm:"size:64"`
	Delta          int64           `gorm:"not null"`
	UnitPrice      decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	Type           string          `gorm:"size:16;not null"`
	Reference      string          `gorm:"size:256"`
	CreatedAt      time.Time       `gorm:"autoCreateTime:false"`
}

func (*sqlRecord) TableName() string {
	return "transaction_records"
}

func (m *sqlRecord) toDomain() domain.TransactionRecord {
	return domain.TransactionRecord{
		ID:             parseUUID(m.RefID),
		TransferID:     parseUUID(m.TransferID),
		PartyID:        domain.PartyID(m.PartyID),
		CounterpartyID: domain.PartyID(m.CounterpartyID),
		ListingID:      m.ListingID,
		Delta:          m.Delta,
		UnitPrice:      m.UnitPrice,
		Type:           domain.RecordType(m.Type),
		Reference:      m.Reference,
		CreatedAt:      m.CreatedAt.UTC(),
	}
}

// parseUUID 壞掉的值回傳 uuid.Nil，不讓單筆資料讓整個查詢失敗
func parseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func recordFromDomain(r domain.TransactionRecord) *sqlRecord {
	return &sqlRecord{
		RefID:          r.ID.String(),
		TransferID:     r.TransferID.String(),
		PartyID:        string(r.PartyID),
		CounterpartyID: string(r.CounterpartyID),
		ListingID:      r.ListingID,
		Delta:          r.Delta,
		UnitPrice:      r.UnitPrice,
		Type:           string(r.Type),
		Reference:      r.Reference,
		CreatedAt:      r.CreatedAt,
	}
}

// sqlOutcome 對應資料庫的 idempotency_outcomes 表
// Key 是 primary key，併發寫入同一把鍵時第二筆會撞 duplicate key
type sqlOutcome struct {
	Key         string    `gorm:"column:idempotency_key;primaryKey;size:256"`
	RequestHash string    `gorm:"size:64;not null"`
	Result      string    `gorm:"type:text;not null"` // domain.TransferResult JSON
	CreatedAt   time.Time `gorm:"autoCreateTime:false"`
}

func (*sqlOutcome) TableName() string {
	return "idempotency_outcomes"
}

func (m *sqlOutcome) toDomain() (*domain.StoredOutcome, error) {
	var result domain.TransferResult
	if err := json.Unmarshal([]byte(m.Result), &result); err != nil {
		return nil, err
	}
	return &domain.StoredOutcome{
		Key:         m.Key,
		RequestHash: m.RequestHash,
		Result:      result,
		CreatedAt:   m.CreatedAt.UTC(),
	}, nil
}

func outcomeFromDomain(o domain.StoredOutcome) (*sqlOutcome, error) {
	raw, err := json.Marshal(o.Result)
	if err != nil {
		return nil, err
	}
	return &sqlOutcome{
		Key:         o.Key,
		RequestHash: o.RequestHash,
		Result:      string(raw),
		CreatedAt:   o.CreatedAt,
	}, nil
}
