package events

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-credit-ledger/pkg/log"
)

// ErrDispatcherStopped 已停止的 Dispatcher 不再收事件
var ErrDispatcherStopped = errors.New("event dispatcher stopped")

const deliverTimeout = 10 * time.Second

// Sink 事件的最終去處 (Kafka / log)
type Sink interface {
	Deliver(ctx context.Context, event domain.LedgerEvent) error
}

// Dispatcher 單一 goroutine 依提交順序把事件交給 Sink
//
// Publish(放入輸送帶) -> Channel -> run loop -> Sink.Deliver
// 投遞失敗只記 log，不會回頭影響已提交的帳本
type Dispatcher struct {
	sink Sink
	// 輸送帶
	eventChan chan domain.LedgerEvent
	stopped   chan struct{}

	delivered atomic.Int64
	failed    atomic.Int64
}

// NewDispatcher 建立 Dispatcher
//
// 參數:
//
//	sink: Sink - 事件去處
//	bufferSize: int - 輸送帶容量，<= 0 時使用 1000
//
// 回傳:
//
//	*Dispatcher: 尚未啟動，需呼叫 Start
func NewDispatcher(sink Sink, bufferSize int) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Dispatcher{
		sink:      sink,
		eventChan: make(chan domain.LedgerEvent, bufferSize),
		stopped:   make(chan struct{}),
	}
}

// Publish 把事件放上輸送帶，滿了會等到有空位或 ctx 結束
func (d *Dispatcher) Publish(ctx context.Context, event domain.LedgerEvent) error {
	select {
	case <-d.stopped:
		return ErrDispatcherStopped
	default:
	}
	select {
	case d.eventChan <- event:
		return nil
	case <-d.stopped:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start 啟動投遞迴圈 (非同步)，ctx 結束時把剩下的事件送完再停止
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

// Stopped 投遞迴圈結束 (含 drain) 後關閉
func (d *Dispatcher) Stopped() <-chan struct{} {
	return d.stopped
}

// Stats 已投遞 / 失敗的事件數
func (d *Dispatcher) Stats() (delivered, failed int64) {
	return d.delivered.Load(), d.failed.Load()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.stopped)
	for {
		select {
		case <-ctx.Done():
			// 收到關閉信號，把剩下的事件送完
			d.drain()
			return
		case event := <-d.eventChan:
			d.deliver(event)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.eventChan:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(event domain.LedgerEvent) {
	// 不用 run 的 ctx，關閉中也要能把 drain 出來的事件送出去
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	ctx = log.WithLogField(ctx, "event_id", event.ID.String())
	if err := d.sink.Deliver(ctx, event); err != nil {
		d.failed.Add(1)
		log.L(ctx).WithError(err).WithField("event", string(event.Type)).Error("event delivery failed")
		return
	}
	d.delivered.Add(1)
}

var _ usecase.EventPublisher = (*Dispatcher)(nil)
