// Package realtime pushes live dashboard updates to connected browsers over
// WebSocket.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/agentwatch/agentwatch/internal/metrics"
)

// Hub is the registry of open connections
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool
	logger  *slog.Logger
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client. It reports false once the hub has been closed.
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
	metrics.SetRealtimeConnections(n)
	h.logger.Info("live client connected",
		slog.String("client_id", c.id),
		slog.Int("connections", n))
	return true
}

// Unregister removes a client if present
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		metrics.SetRealtimeConnections(n)
		h.logger.Info("live client disconnected",
			slog.String("client_id", c.id),
			slog.Int("connections", n))
	}
}

// Count returns the number of open connections
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues msg for every open connection and returns how many
// accepted it. A connection whose queue is full is closed; the others are
// unaffected.
func (h *Hub) Broadcast(msg Message) int {
	out, err := encode(msg)
	if err != nil {
		h.logger.Error("failed to encode broadcast",
			slog.String("type", string(msg.Type)),
			slog.String("error", err.Error()))
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(out) {
			delivered++
			continue
		}
		h.logger.Warn("client cannot keep up, closing connection",
			slog.String("client_id", c.id),
			slog.String("type", string(msg.Type)))
		c.close()
	}
	return delivered
}

// Close closes every connection and rejects new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.close()
	}
}
