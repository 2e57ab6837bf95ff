package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// MessageAttemptValidated tells a waiting page that its login link was
// redeemed and the flow can continue.
const MessageAttemptValidated = "attempt_validated"

// Message is a status notification for the pages waiting on one attempt.
type Message struct {
	Type      string `json:"type"`
	AttemptID string `json:"attempt_id"`
}

// Hub tracks the browser tabs waiting on each login attempt.
type Hub struct {
	mu       sync.RWMutex
	attempts map[string]map[*Client]struct{}
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		attempts: make(map[string]map[*Client]struct{}),
		logger:   logger,
	}
}

// Register adds a client under its attempt.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.attempts[c.attemptID]
	if !ok {
		set = make(map[*Client]struct{})
		h.attempts[c.attemptID] = set
	}
	set[c] = struct{}{}
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.attempts[c.attemptID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.attempts, c.attemptID)
	}
}

// Notify sends a message to every client waiting on attemptID and returns
// how many were reached.
func (h *Hub) Notify(attemptID, msgType string) int {
	data, err := json.Marshal(Message{Type: msgType, AttemptID: attemptID})
	if err != nil {
		h.logger.Error("marshal notification", "error", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for c := range h.attempts[attemptID] {
		select {
		case c.send <- data:
			sent++
		default:
			// buffer full, drop
		}
	}
	h.logger.Debug("notified waiting clients", "attempt_id", attemptID, "type", msgType, "clients", sent)
	return sent
}

// ClientCount returns the number of connected clients across all attempts.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.attempts {
		n += len(set)
	}
	return n
}
