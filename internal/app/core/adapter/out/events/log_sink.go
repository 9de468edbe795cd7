package events

import (
	"context"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/pkg/log"
)

// LogSink 沒有設定 Kafka 時使用，事件只寫進 log
type LogSink struct{}

func (LogSink) Deliver(ctx context.Context, event domain.LedgerEvent) error {
	log.L(ctx).WithField("event", string(event.Type)).
		WithField("transfer_id", event.Result.TransferID.String()).
		WithField("party_id", event.Result.PartyID.String()).
		WithField("balance", event.Result.Balance).
		Info("ledger event")
	return nil
}
