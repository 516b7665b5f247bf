// Package stream relays engine deltas from the broadcast channel to the live
// WebSocket connections subscribed to each delta's symbol.
package stream

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/Aidin1998/tradebus/pkg/metrics"
)

// Server to client events.
const (
	EventMessage      = "message"
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventError        = "error"
)

// Client to server events.
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
)

// Drop reasons reported on the dropped-deltas counter.
const (
	DropNoSymbol   = "no_symbol"
	DropMalformed  = "malformed"
	DropSlowClient = "slow_client"
)

type outbound struct {
	Event  string          `json:"event"`
	Symbol string          `json:"symbol,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Hub owns the symbol groups. A single lock guards the groups and every client's
// joined set, and a client's send channel is only written under the read lock
// and only closed under the write lock.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	groups  map[string]map[*Client]struct{}
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		groups:  make(map[string]map[*Client]struct{}),
		logger:  logger,
	}
}

// Register admits c. It must be called before Join.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.StreamConnections.Inc()
	h.logger.Debug("Client connected", zap.String("client_id", c.id), zap.Int("clients", n))
}

// Join adds c to the symbol's group, creating the group on first use. It returns
// false if c is no longer registered.
func (h *Hub) Join(c *Client, symbol string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	group, ok := h.groups[symbol]
	if !ok {
		group = make(map[*Client]struct{})
		h.groups[symbol] = group
		metrics.StreamGroups.Set(float64(len(h.groups)))
	}
	group[c] = struct{}{}
	c.symbols[symbol] = struct{}{}
	return true
}

// Leave removes c from one group. Empty groups are dropped.
func (h *Hub) Leave(c *Client, symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, symbol)
}

func (h *Hub) leaveLocked(c *Client, symbol string) {
	delete(c.symbols, symbol)
	group, ok := h.groups[symbol]
	if !ok {
		return
	}
	delete(group, c)
	if len(group) == 0 {
		delete(h.groups, symbol)
		metrics.StreamGroups.Set(float64(len(h.groups)))
	}
}

// Remove drops c from every group it joined and closes its send channel. Safe to
// call more than once.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	for symbol := range c.symbols {
		h.leaveLocked(c, symbol)
	}
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()

	metrics.StreamConnections.Dec()
	h.logger.Debug("Client disconnected", zap.String("client_id", c.id))
}

// Publish queues delta, wrapped as a message event, for every client in the
// symbol's group and returns how many accepted it. A client whose buffer is full
// misses this delta; nobody else waits for it.
func (h *Hub) Publish(symbol string, delta []byte) int {
	frame, err := json.Marshal(outbound{Event: EventMessage, Data: delta})
	if err != nil {
		metrics.StreamDropped.WithLabelValues(DropMalformed).Inc()
		h.logger.Error("Failed to encode delta", zap.String("symbol", symbol), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for c := range h.groups[symbol] {
		select {
		case c.send <- frame:
			delivered++
		default:
			metrics.StreamDropped.WithLabelValues(DropSlowClient).Inc()
			h.logger.Warn("Dropping delta for slow client",
				zap.String("client_id", c.id),
				zap.String("symbol", symbol))
		}
	}
	metrics.StreamDeliveries.Add(float64(delivered))
	return delivered
}

// reply queues a control frame for one client.
func (h *Hub) reply(c *Client, msg outbound) {
	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// Subscribers reports the size of a symbol's group.
func (h *Hub) Subscribers(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[symbol])
}

// Groups reports how many symbols have at least one subscriber.
func (h *Hub) Groups() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups)
}

// Clients reports the number of registered connections.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
