package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"stakepool/core/events"
	"stakepool/services/stakingd/storage"
)

const recorderQueueSize = 256

type eventCounter interface {
	RecordEvent(eventType string)
	RecordDrop(sink string)
}

// JournalRecorder persists engine events to the journal off the engine's
// critical section and republishes each stored record on the hub.
type JournalRecorder struct {
	journal *storage.Journal
	hub     *Hub
	metrics eventCounter
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan events.Event
	wg     sync.WaitGroup
}

// NewJournalRecorder starts the journaling worker. hub and metrics may be nil.
func NewJournalRecorder(journal *storage.Journal, hub *Hub, metrics eventCounter, logger *slog.Logger) *JournalRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	rec := &JournalRecorder{
		journal: journal,
		hub:     hub,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		queue:   make(chan events.Event, recorderQueueSize),
	}
	rec.wg.Add(1)
	go rec.run()
	return rec
}

// Emit implements events.Emitter.
func (r *JournalRecorder) Emit(evt events.Event) {
	if r == nil || evt == nil {
		return
	}
	if r.metrics != nil {
		r.metrics.RecordEvent(evt.EventType())
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(evt, "recorder closed")
		return
	}
	select {
	case r.queue <- evt:
	default:
		r.drop(evt, "queue full")
	}
}

// Close stops accepting events and waits for queued ones to be journaled.
func (r *JournalRecorder) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *JournalRecorder) run() {
	defer r.wg.Done()
	for evt := range r.queue {
		record, err := r.journal.Append(context.Background(), evt.Event(), r.now())
		if err != nil {
			if r.metrics != nil {
				r.metrics.RecordDrop("journal")
			}
			r.logger.Error("stakingd: journal append failed",
				slog.String("type", evt.EventType()),
				slog.Any("error", err))
			continue
		}
		if r.hub != nil {
			r.hub.Publish(record)
		}
	}
}

func (r *JournalRecorder) drop(evt events.Event, reason string) {
	if r.metrics != nil {
		r.metrics.RecordDrop("journal")
	}
	r.logger.Warn("stakingd: event dropped",
		slog.String("type", evt.EventType()),
		slog.String("reason", reason))
}
