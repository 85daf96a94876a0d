package relay

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/realtime"
	"github.com/sirupsen/logrus"
)

// Hub fans frames out to every client subscribed to a topic and keeps the
// presence announced on each topic.
type Hub struct {
	logger *logrus.Logger

	mu       sync.Mutex
	topics   map[string]map[*client]struct{}
	presence map[string]map[uuid.UUID]realtime.Presence
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		logger:   logger,
		topics:   make(map[string]map[*client]struct{}),
		presence: make(map[string]map[uuid.UUID]realtime.Presence),
	}
}

func (h *Hub) join(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[c.topic] == nil {
		h.topics[c.topic] = make(map[*client]struct{})
	}
	h.topics[c.topic][c] = struct{}{}
}

// leave removes c and reports whether the user has no other connection on the topic.
func (h *Hub) leave(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.topics[c.topic], c)
	for other := range h.topics[c.topic] {
		if other.id.UserID == c.id.UserID {
			return false
		}
	}
	if len(h.topics[c.topic]) == 0 {
		delete(h.topics, c.topic)
	}
	return true
}

func (h *Hub) setPresence(topic string, p realtime.Presence, joined bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !joined {
		delete(h.presence[topic], p.UserID)
		if len(h.presence[topic]) == 0 {
			delete(h.presence, topic)
		}
		return
	}
	if h.presence[topic] == nil {
		h.presence[topic] = make(map[uuid.UUID]realtime.Presence)
	}
	h.presence[topic][p.UserID] = p
}

// Members returns the presences announced on topic, sorted by user id.
func (h *Hub) Members(topic string) []realtime.Presence {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]realtime.Presence, 0, len(h.presence[topic]))
	for _, p := range h.presence[topic] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out
}

// Clients returns the number of connections on topic.
func (h *Hub) Clients(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

func (h *Hub) broadcast(topic string, data []byte) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.write(data, h.logger)
	}
}

// Publish lets server-side producers, such as the store change bridge, send on a topic.
func (h *Hub) Publish(ctx context.Context, topic string, data []byte) error {
	h.broadcast(topic, data)
	return nil
}
