// Package audit records verification events to ClickHouse for offline
// analysis. Events are buffered and flushed in batches; the request path
// never blocks on the sink and overflow is dropped, not queued.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/client"
	"verification-service/internal/models"
	"verification-service/internal/util"
)

const insertQuery = `INSERT INTO verification_events
    (event_time, subject_hash, channel, operation, outcome, remote_addr)`

const (
	bufferSize    = 4096
	flushBatch    = 256
	flushInterval = 5 * time.Second
)

// ClickHouseSink implements models.AuditSink.
type ClickHouseSink struct {
	ch     *client.ClickHouseClient
	events chan models.AuditEvent

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewClickHouseSink(ch *client.ClickHouseClient) *ClickHouseSink {
	s := &ClickHouseSink{
		ch:     ch,
		events: make(chan models.AuditEvent, bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Record enqueues an event, dropping it when the buffer is full.
func (s *ClickHouseSink) Record(event models.AuditEvent) {
	select {
	case s.events <- event:
	default:
		util.Warn("Audit buffer full, event dropped",
			zap.String("operation", event.Operation))
	}
}

// Close flushes what is buffered and stops the flusher.
func (s *ClickHouseSink) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
}

func (s *ClickHouseSink) run() {
	defer close(s.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]models.AuditEvent, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.insert(batch)
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-s.events:
			batch = append(batch, ev)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stop:
			// Drain whatever arrived before the stop signal.
			for {
				select {
				case ev := <-s.events:
					batch = append(batch, ev)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *ClickHouseSink) insert(batch []models.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows := make([][]interface{}, 0, len(batch))
	for _, ev := range batch {
		rows = append(rows, []interface{}{
			ev.At, ev.SubjectHash, ev.Channel, ev.Operation, ev.Outcome, ev.RemoteAddr,
		})
	}

	if err := s.ch.BatchInsert(ctx, insertQuery, rows); err != nil {
		util.Error("Failed to flush audit batch",
			zap.Int("events", len(batch)),
			zap.Error(err))
		return
	}

	util.Debug("Audit batch flushed", zap.Int("events", len(batch)))
}

// NopSink discards events. Used when ClickHouse is disabled.
type NopSink struct{}

func (NopSink) Record(models.AuditEvent) {}
