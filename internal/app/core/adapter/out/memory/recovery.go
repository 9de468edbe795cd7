package memory

import (
	"encoding/json"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
)

// walEntry 一個已提交單位在 WAL 裡的樣子
// 存的是提交後的 row 快照 (不是操作)，重放時直接覆蓋即可
type walEntry struct {
	Seq      uint64                     `json:"seq"`
	Listings []domain.Listing           `json:"listings,omitempty"`
	Accounts []domain.HolderAccount     `json:"accounts,omitempty"`
	Records  []domain.TransactionRecord `json:"records,omitempty"`
	Outcome  *domain.StoredOutcome      `json:"outcome,omitempty"`
}

// recoverFromWAL 從 WAL 檔案恢復帳本狀態
// 只有 NewStore 呼叫，無需 Lock (單執行緒)
func (s *Store) recoverFromWAL() error {
	return s.wal.ReadAll(func(jsonRaw []byte) error {
		var entry walEntry
		if err := json.Unmarshal(jsonRaw, &entry); err != nil {
			return err
		}
		s.applyRecoveredEntry(entry)
		return nil
	})
}

func (s *Store) applyRecoveredEntry(entry walEntry) {
	for i := range entry.Listings {
		l := entry.Listings[i]
		s.listings[l.ID] = &l
	}
	for i := range entry.Accounts {
		a := entry.Accounts[i]
		s.accounts[a.PartyID] = &a
	}
	for _, rec := range entry.Records {
		s.records[rec.PartyID] = append(s.records[rec.PartyID], rec)
	}
	if entry.Outcome != nil {
		s.outcomes[entry.Outcome.Key] = *entry.Outcome
	}
	if entry.Seq > s.seq {
		s.seq = entry.Seq
	}
}
