// Package events streams engine audit entries to connected operators over
// server-sent events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"VersotechFeeEngine/internal/logger"
	"VersotechFeeEngine/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// clientBuffer bounds the events queued for one slow client before it is
// dropped.
const clientBuffer = 64

type client struct {
	id     string
	entity string
	send   chan model.AuditEntry
	done   chan struct{}
}

// Hub fans audit entries out to SSE subscribers.
type Hub struct {
	mu           sync.RWMutex
	clients      map[string]*client
	pingInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
	log          zerolog.Logger
}

func NewHub(pingInterval time.Duration) *Hub {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Hub{
		clients:      make(map[string]*client),
		pingInterval: pingInterval,
		stopCh:       make(chan struct{}),
		log:          logger.WithComponent("events"),
	}
}

// Publish queues e for every subscriber whose entity filter matches. A client
// whose buffer is full is disconnected rather than blocking the publisher.
func (h *Hub) Publish(e model.AuditEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		if c.entity != "" && c.entity != e.Entity {
			continue
		}
		select {
		case c.send <- e:
		default:
			h.log.Warn().Str("client", id).Msg("event buffer full, dropping client")
			delete(h.clients, id)
			close(c.done)
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) subscribe(entity string) *client {
	c := &client{
		id:     uuid.NewString(),
		entity: entity,
		send:   make(chan model.AuditEntry, clientBuffer),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) unsubscribe(c *client) {
	h.mu.Lock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
		close(c.done)
	}
	h.mu.Unlock()
}

func writeEvent(w http.ResponseWriter, f http.Flusher, kind string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, payload); err != nil {
		return err
	}
	f.Flush()
	return nil
}

// ServeHTTP streams events until the client disconnects or the hub stops.
// The optional entity query parameter narrows the stream, e.g.
// ?entity=reconciliation_match.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := h.subscribe(r.URL.Query().Get("entity"))
	defer h.unsubscribe(c)
	h.log.Debug().Str("client", c.id).Str("remote", r.RemoteAddr).Msg("subscriber connected")

	if err := writeEvent(w, flusher, "connected", map[string]string{"client_id": c.id}); err != nil {
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case e := <-c.send:
			if err := writeEvent(w, flusher, "audit", e); err != nil {
				return
			}
		case t := <-ticker.C:
			if err := writeEvent(w, flusher, "ping", map[string]string{"time": t.UTC().Format(time.RFC3339)}); err != nil {
				return
			}
		case <-c.done:
			return
		case <-r.Context().Done():
			return
		case <-h.stopCh:
			return
		}
	}
}

// Stop disconnects every subscriber.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// Sink records audit entries to the next sink and publishes them on the hub.
type Sink struct {
	Next model.AuditSink
	Hub  *Hub
}

func (s Sink) Record(ctx context.Context, e model.AuditEntry) {
	if s.Next != nil {
		s.Next.Record(ctx, e)
	}
	if s.Hub != nil {
		s.Hub.Publish(e)
	}
}
