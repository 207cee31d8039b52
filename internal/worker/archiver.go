package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/mailplane/mailplane/internal/kafka"
	"github.com/mailplane/mailplane/internal/model"
	"github.com/mailplane/mailplane/internal/repository"
)

// Archiver:
// - fetches audit events from Kafka (relayed off the outbox by Debezium),
// - batches them into ClickHouse with size/time-based flush.
//
// Delivery is at-least-once; the archive table's ReplacingMergeTree keyed on
// the event id collapses redelivered rows.
type Archiver struct {
	// Dependencies
	Consumer *kafka.Consumer
	Archive  repository.CHAuditRepository
	Log      *zap.Logger

	// Behavior
	BatchSize int           // max buffered events per flush
	BatchWait time.Duration // max time to wait before flush
}

// NewArchiver builds an archiver with sane defaults.
func NewArchiver(consumer *kafka.Consumer, archive repository.CHAuditRepository, log *zap.Logger) *Archiver {
	return &Archiver{
		Consumer:  consumer,
		Archive:   archive,
		Log:       log,
		BatchSize: 500,
		BatchWait: 2 * time.Second,
	}
}

// Run starts the archiver and blocks until ctx is cancelled.
func (w *Archiver) Run(ctx context.Context) error {
	if w.BatchSize <= 0 {
		w.BatchSize = 500
	}
	if w.BatchWait <= 0 {
		w.BatchWait = 2 * time.Second
	}

	events := make(chan model.AuditEvent, w.BatchSize*2)

	go w.runBatchWriter(ctx, events)

	for {
		select {
		case <-ctx.Done():
			close(events)
			return nil
		default:
			m, err := w.Consumer.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					close(events)
					return nil
				}
				w.Log.Error("kafka fetch failed", zap.Error(err))
				time.Sleep(200 * time.Millisecond)
				continue
			}
			w.processOne(ctx, m, events)
		}
	}
}

// processOne decodes the relayed payload, enqueues it, commits Kafka. Poison
// messages are committed and skipped.
func (w *Archiver) processOne(ctx context.Context, m kafka.Message, out chan<- model.AuditEvent) {
	var ev model.AuditEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil || ev.ID == "" {
		if err != nil {
			w.Log.Warn("bad audit payload", zap.Error(err))
		} else {
			w.Log.Warn("audit payload missing id")
		}
		_ = w.Consumer.Commit(ctx, m)
		return
	}

	out <- ev

	if err := w.Consumer.Commit(ctx, m); err != nil {
		w.Log.Error("kafka commit failed", zap.Error(err))
	}
}

// runBatchWriter does size/time-based flush of buffered events into
// ClickHouse. A failed flush keeps the batch for the next attempt.
func (w *Archiver) runBatchWriter(ctx context.Context, in <-chan model.AuditEvent) {
	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	var batch []model.AuditEvent

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.Archive.InsertBatch(ctx, batch); err != nil {
			w.Log.Error("archive batch insert failed", zap.Int("events", len(batch)), zap.Error(err))
			return
		}
		w.Log.Info("audit events archived", zap.Int("events", len(batch)))
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case ev, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= w.BatchSize {
				flush()
			}

		case <-tick.C:
			flush()
		}
	}
}
