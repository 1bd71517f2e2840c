package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub is the registry of live sessions keyed by session handle.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	now     func() time.Time
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Register adds c under its handle.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.handle] = c
	h.mu.Unlock()
}

// Unregister removes c if it is still the client registered under its handle.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.handle]; ok && cur == c {
		delete(h.clients, c.handle)
	}
	h.mu.Unlock()
}

func (h *Hub) get(handle string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[handle]
	return c, ok
}

// Len returns the number of registered sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Emit queues event for the session behind handle.
func (h *Hub) Emit(handle, event string, payload any) error {
	c, ok := h.get(handle)
	if !ok {
		return ErrSessionClosed
	}
	frame, err := encode(event, payload, h.now())
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

// Broadcast queues event for every session except exceptHandle and returns
// how many sessions accepted it.
func (h *Hub) Broadcast(event string, payload any, exceptHandle string) int {
	frame, err := encode(event, payload, h.now())
	if err != nil {
		return 0
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for handle, c := range h.clients {
		if handle != exceptHandle {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range targets {
		if c.enqueue(frame) == nil {
			n++
		}
	}
	return n
}

// Close ends the session behind handle with a policy close frame. It reports
// whether such a session was registered.
func (h *Hub) Close(handle, reason string) bool {
	c, ok := h.get(handle)
	if !ok {
		return false
	}
	c.Close(websocket.ClosePolicyViolation, reason)
	return true
}

// CloseAll ends every session, used on shutdown.
func (h *Hub) CloseAll(reason string) {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.Close(websocket.CloseGoingAway, reason)
	}
}
