package hub

import (
	"context"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/openbms/devicebus/internal/metrics"
	"github.com/openbms/devicebus/internal/models"
	"github.com/openbms/devicebus/internal/state"
)

var jsonFast = jsoniter.ConfigFastest

// Hub fans session state out to every connected editor client. There
// is a single broadcast group: all editors observe the same session.
type Hub struct {
	store  *state.Store
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub creates a hub bound to the session state store.
func NewHub(store *state.Store, logger zerolog.Logger) *Hub {
	return &Hub{
		store:   store,
		logger:  logger,
		clients: make(map[*Client]bool),
	}
}

// Run streams state updates to all clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	id, states := h.store.Subscribe()
	defer h.store.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			h.broadcastState(st)
		}
	}
}

// Register adds a client and immediately sends it the current state
// snapshot so a freshly connected editor is never blank.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	metrics.EditorClients.Set(float64(count))

	if msg, err := jsonFast.Marshal(stateEnvelope{Type: messageTypeState, State: h.store.Snapshot()}); err == nil {
		c.enqueue(msg)
	}
}

// Unregister removes a client and closes its outbound queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	metrics.EditorClients.Set(float64(count))
}

// Broadcast queues msg for every connected client. Slow clients are
// skipped rather than allowed to stall the bus.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- msg:
			// delivered
		default:
			h.logger.Warn().Msg("Skipping state push to slow editor client")
		}
	}
}

// deliver queues msg for one client if it is still registered. The
// membership check under the lock keeps replies from racing a
// concurrent Unregister.
func (h *Hub) deliver(c *Client, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.logger.Warn().Str("user", c.user).Msg("Dropping frame for slow editor client")
	}
}

func (h *Hub) broadcastState(st models.SessionState) {
	msg, err := jsonFast.Marshal(stateEnvelope{Type: messageTypeState, State: st})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode state update")
		return
	}
	h.Broadcast(msg)
}
