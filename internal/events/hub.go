// Package events broadcasts fleet state changes to WebSocket subscribers.
package events

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/probelabs/fleet-master/internal/models"
)

// StatusChange is one node status transition pushed to subscribers.
type StatusChange struct {
	NodeID string            `json:"nodeId"`
	From   models.NodeStatus `json:"from"`
	To     models.NodeStatus `json:"to"`
	At     time.Time         `json:"at"`
}

// sendBuffer is the per-subscriber queue depth. A subscriber that falls this
// far behind is disconnected rather than allowed to stall the hub.
const sendBuffer = 64

// writeWait bounds a single WebSocket write.
const writeWait = 10 * time.Second

type subscriber struct {
	conn *websocket.Conn
	send chan StatusChange
}

// Hub fans status transitions out to connected WebSocket clients. Broadcast
// never blocks: slow subscribers are dropped.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
	}
}

// Broadcast queues a transition for every subscriber. Subscribers whose
// queue is full are disconnected.
func (h *Hub) Broadcast(change StatusChange) {
	h.mu.RLock()
	var stalled []*subscriber
	for sub := range h.subs {
		select {
		case sub.send <- change:
		default:
			stalled = append(stalled, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range stalled {
		h.logger.Warn("dropping slow event subscriber", "remote", sub.conn.RemoteAddr())
		h.remove(sub)
	}
}

// ServeWS upgrades the request and streams transitions until the client
// disconnects or the hub shuts down.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan StatusChange, sendBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.subs[sub] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug("event subscriber connected", "remote", conn.RemoteAddr(), "subscribers", count)

	go h.writeLoop(sub)
	h.readLoop(sub)
}

// SubscriberCount returns the number of connected clients.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for _, sub := range subs {
		close(sub.send)
		_ = sub.conn.Close()
	}
}

// writeLoop drains the subscriber's queue onto the wire.
func (h *Hub) writeLoop(sub *subscriber) {
	for change := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sub.conn.WriteJSON(change); err != nil {
			h.logger.Debug("event write failed", "remote", sub.conn.RemoteAddr(), "error", err)
			h.remove(sub)
			return
		}
	}
}

// readLoop discards client frames; its job is to notice disconnects.
func (h *Hub) readLoop(sub *subscriber) {
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			h.remove(sub)
			return
		}
	}
}

// remove unregisters a subscriber and closes its connection. Safe to call
// more than once for the same subscriber.
func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	if ok {
		delete(h.subs, sub)
	}
	h.mu.Unlock()

	if ok {
		close(sub.send)
		_ = sub.conn.Close()
	}
}
