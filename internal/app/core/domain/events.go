package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType 帳本事件類型
type EventType string

const (
	EventCreditsTransferred EventType = "credits.transferred"
	EventCreditsIssued      EventType = "credits.issued"
	EventCreditsRetired     EventType = "credits.retired"
	EventCreditsReconciled  EventType = "credits.reconciled"
)

// LedgerEvent 交易單位提交之後對外發布的事件
// 重放 (replay) 不會再發一次
type LedgerEvent struct {
	ID             uuid.UUID      `json:"id"`
	Type           EventType      `json:"type"`
	IdempotencyKey string         `json:"idempotency_key"`
	Result         TransferResult `json:"result"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// EventTypeFor 依操作種類決定事件類型
func EventTypeFor(kind OperationKind) EventType {
	switch kind {
	case OperationIssuance:
		return EventCreditsIssued
	case OperationRetirement:
		return EventCreditsRetired
	case OperationReconciliation:
		return EventCreditsReconciled
	default:
		return EventCreditsTransferred
	}
}

// PartitionKey 同一個參與者的事件進同一個 partition，保持順序
func (e LedgerEvent) PartitionKey() string {
	return string(e.Result.PartyID)
}
