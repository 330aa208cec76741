package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"rtclient/internal/domain"
)

const sendBuffer = 64

// Event is one state-change notification as written to subscribers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	send   chan []byte
	topics map[string]struct{}
}

func (c *client) wants(topic string) bool {
	if len(c.topics) == 0 {
		return true
	}
	_, ok := c.topics[topic]
	return ok
}

// Hub fans state changes out to UI subscribers. It remembers the latest
// event per topic so a new subscriber starts from current state.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	last    map[string][]byte
	order   []string
}

var _ domain.Notifier = (*Hub)(nil)

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log:     logger.With("component", "ws-hub"),
		clients: make(map[*client]struct{}),
		last:    make(map[string][]byte),
	}
}

// Notify encodes the payload once and queues it for every subscriber of
// the topic. A subscriber whose buffer is full is disconnected rather
// than allowed to block the caller.
func (h *Hub) Notify(topic string, payload any) {
	data, err := json.Marshal(Event{Type: topic, Data: payload})
	if err != nil {
		h.log.Error("encode event", "topic", topic, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.last[topic]; !ok {
		h.order = append(h.order, topic)
	}
	h.last[topic] = data
	for c := range h.clients {
		if !c.wants(topic) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.log.Warn("subscriber too slow, dropping it")
			h.removeLocked(c)
		}
	}
}

// register adds a subscriber and queues the latest event of each topic it wants.
func (h *Hub) register(topics []string) *client {
	c := &client{send: make(chan []byte, sendBuffer)}
	if len(topics) > 0 {
		c.topics = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			c.topics[t] = struct{}{}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	for _, topic := range h.order {
		if !c.wants(topic) {
			continue
		}
		select {
		case c.send <- h.last[topic]:
		default:
		}
	}
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
