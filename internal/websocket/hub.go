package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dukerupert/mimitask/internal/docstore"
)

// Event tells listeners of a path that documents under it changed. Origin
// is the client id that made the write.
type Event struct {
	Path    string            `json:"path"`
	Origin  string            `json:"origin,omitempty"`
	Changes []docstore.Change `json:"changes"`
}

// Hub maintains the set of active WebSocket clients, grouped by the path
// they listen to, and fans change events out to them.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Client]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[*Client]struct{}),
		logger: logger,
	}
}

// Register adds a client to its topic.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.topics[c.topic]
	if !ok {
		set = make(map[*Client]struct{})
		h.topics[c.topic] = set
	}
	set[c] = struct{}{}
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.topics[c.topic]
	if !ok {
		return
	}
	if _, ok := set[c]; ok {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(h.topics, c.topic)
	}
}

// Broadcast sends ev to every client listening on ev.Path. Clients whose
// buffer is full miss the event.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.topics[ev.Path] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping event for slow client", "path", ev.Path)
		}
	}
}

// Publish groups changes by the document path and its parent collection
// and broadcasts one event per topic.
func (h *Hub) Publish(origin string, changes []docstore.Change) {
	byTopic := make(map[string][]docstore.Change)
	var order []string
	add := func(topic string, ch docstore.Change) {
		if _, ok := byTopic[topic]; !ok {
			order = append(order, topic)
		}
		byTopic[topic] = append(byTopic[topic], ch)
	}
	for _, ch := range changes {
		add(ch.Doc.Path, ch)
		add(docstore.Parent(ch.Doc.Path), ch)
	}
	for _, topic := range order {
		h.Broadcast(Event{Path: topic, Origin: origin, Changes: byTopic[topic]})
	}
}

// Fail sends an error event to every client listening at or below prefix
// and disconnects them.
func (h *Hub) Fail(prefix string, code int, reason string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for topic, set := range h.topics {
		if topic != prefix && !hasPathPrefix(topic, prefix) {
			continue
		}
		for c := range set {
			c.fail(code, reason)
		}
	}
}

func hasPathPrefix(path, prefix string) bool {
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.topics {
		n += len(set)
	}
	return n
}

// TopicCount returns the number of clients listening on path.
func (h *Hub) TopicCount(path string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[path])
}
