package broker

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/model"
)

// Flusher drains the broker's write-behind buffer on a fixed interval. A
// tick that fires while the previous flush is still running is skipped; the
// messages just wait for the next one.
type Flusher struct {
	broker   *Broker
	persist  Persistence
	interval time.Duration
	log      *zap.Logger

	inFlight atomic.Bool
}

func NewFlusher(b *Broker, persist Persistence, interval time.Duration, log *zap.Logger) *Flusher {
	return &Flusher{broker: b, persist: persist, interval: interval, log: log}
}

func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.Flush(context.Background())
			return
		case <-ticker.C:
			f.Flush(ctx)
		}
	}
}

// Flush writes out the current buffer. Messages that fail to persist go back
// in front of the buffer and keep their assigned ids.
func (f *Flusher) Flush(ctx context.Context) {
	if !f.inFlight.CompareAndSwap(false, true) {
		f.log.Debug("flush already in flight, skipping tick")
		return
	}
	defer f.inFlight.Store(false)

	batch := f.broker.SwapBuffer()
	if len(batch.messages) == 0 {
		return
	}

	var failed []model.Message
	for _, m := range batch.messages {
		if _, _, err := f.persist.SaveMessage(ctx, m); err != nil {
			f.log.Error("persist message", zap.String("clientRef", m.ClientRef), zap.Error(err))
			failed = append(failed, m)
		}
	}

	if len(failed) > 0 {
		f.broker.Requeue(flushBatch{messages: failed})
	}
	f.log.Debug("flushed message buffer",
		zap.Int("written", len(batch.messages)-len(failed)), zap.Int("requeued", len(failed)))
}
