package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"stakepool/services/stakingd/storage"
)

const (
	wsWriteTimeout     = 10 * time.Second
	subscriberCapacity = 64
)

type dropRecorder interface {
	RecordDrop(sink string)
}

// Hub fans journaled events out to websocket subscribers. Slow subscribers
// lose events rather than stall the journal.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan storage.Record]struct{}
	closed bool
	drops  dropRecorder
}

// NewHub constructs an empty hub. drops may be nil.
func NewHub(drops dropRecorder) *Hub {
	return &Hub{subs: make(map[chan storage.Record]struct{}), drops: drops}
}

// Subscribe registers a listener. The returned cancel function must be called
// to release it.
func (h *Hub) Subscribe() (<-chan storage.Record, func()) {
	ch := make(chan storage.Record, subscriberCapacity)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

// Publish delivers record to every subscriber without blocking.
func (h *Hub) Publish(record storage.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- record:
		default:
			if h.drops != nil {
				h.drops.RecordDrop("websocket")
			}
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	var after int64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid after")
			return
		}
		after = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns()})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	// Clients only listen; CloseRead cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, after); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, after int64) error {
	// Subscribe before replaying so nothing journaled in between is missed.
	updates, cancel := s.hub.Subscribe()
	defer cancel()

	last := after
	for {
		backlog, err := s.journal.List(ctx, last, storage.MaxListLimit)
		if err != nil {
			return err
		}
		for _, record := range backlog {
			if err := writeRecord(ctx, conn, record); err != nil {
				return err
			}
			last = record.Seq
		}
		if len(backlog) < storage.MaxListLimit {
			break
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case record, ok := <-updates:
			if !ok {
				return nil
			}
			if record.Seq <= last {
				continue
			}
			if err := writeRecord(ctx, conn, record); err != nil {
				return err
			}
			last = record.Seq
		}
	}
}

// originPatterns lists the cross-origin hosts allowed to open the stream. An
// empty list leaves only same-origin and non-browser clients.
func (s *Server) originPatterns() []string {
	if len(s.cfg.CORSOrigins) == 0 {
		return nil
	}
	patterns := make([]string, 0, len(s.cfg.CORSOrigins))
	for _, origin := range s.cfg.CORSOrigins {
		origin = strings.TrimSpace(origin)
		origin = strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
		if origin != "" {
			patterns = append(patterns, origin)
		}
	}
	return patterns
}

func writeRecord(ctx context.Context, conn *websocket.Conn, record storage.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
