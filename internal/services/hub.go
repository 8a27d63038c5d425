package services

import (
	"encoding/json"
	"sync"

	"github.com/charmbracelet/log"

	"styler/types"
)

// WSEvent is pushed to the websocket of the session it belongs to.
type WSEvent struct {
	Type      string            `json:"type"` // job.updated, notice or session.reset
	SessionID string            `json:"sessionId"`
	Job       *types.JobView    `json:"job,omitempty"`
	Notice    *types.NoticeView `json:"notice,omitempty"`
}

// Hub holds one websocket per session. A new connection for the same session
// replaces the old one.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*WSClient
	logger  *log.Logger
}

func NewHub() *Hub {
	return &Hub{
		clients: map[string]*WSClient{},
		logger:  log.With("component", "hub"),
	}
}

func (h *Hub) Add(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.clients[c.id]; ok {
		h.logger.Debug("replacing websocket", "session", c.id)
		old.close()
	}

	h.clients[c.id] = c
}

// Remove drops c if it is still the registered client for its session.
func (h *Hub) Remove(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
		c.close()
	}
}

func (h *Hub) Connected(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[sessionID]
	return ok
}

func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := h.clients
	h.clients = map[string]*WSClient{}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// SendTo never blocks; a client whose buffer is full is dropped. It is safe
// to race with Add and Remove for the same session: an event aimed at a
// client that was just replaced or closed is discarded.
func (h *Hub) SendTo(sessionID string, event WSEvent) {
	h.mu.RLock()
	c := h.clients[sessionID]
	h.mu.RUnlock()

	if c == nil {
		return
	}

	b, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event", "session", sessionID, "type", event.Type, "err", err)
		return
	}
	switch c.trySend(b) {
	case bufferFull:
		h.logger.Warn("websocket too slow, dropping", "session", sessionID)
		h.Remove(c)
	case clientClosed:
		h.logger.Debug("event for closed websocket discarded", "session", sessionID, "type", event.Type)
	}
}
