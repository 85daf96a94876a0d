package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var ErrJoinRefused = errors.New("join refused")

// MemoryBus is an in-process Transport. Publish delivers synchronously to every
// subscriber of the topic, the publisher included. It supports fault injection
// for exercising reconnect paths.
type MemoryBus struct {
	mu         sync.Mutex
	topics     map[string]map[*memorySub]struct{}
	presence   map[string]map[uuid.UUID]Presence
	failJoins  int
	publishErr error
	joins      int
}

// NewMemoryBus returns an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		topics:   make(map[string]map[*memorySub]struct{}),
		presence: make(map[string]map[uuid.UUID]Presence),
	}
}

// FailNextJoins makes the next n Join calls fail.
func (b *MemoryBus) FailNextJoins(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failJoins = n
}

// FailPublish makes every Publish return err until called with nil.
func (b *MemoryBus) FailPublish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// JoinAttempts returns how many times Join was called.
func (b *MemoryBus) JoinAttempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.joins
}

// Subscribers returns the live subscription count for topic.
func (b *MemoryBus) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

// Members returns the tracked presences on topic.
func (b *MemoryBus) Members(topic string) []Presence {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Presence, 0, len(b.presence[topic]))
	for _, p := range b.presence[topic] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out
}

// Drop ends every subscription on topic as if the network failed.
func (b *MemoryBus) Drop(topic string) {
	b.mu.Lock()
	subs := b.topics[topic]
	delete(b.topics, topic)
	b.mu.Unlock()

	for s := range subs {
		s.end(errors.New("connection reset"))
	}
}

func (b *MemoryBus) Join(ctx context.Context, topic string, deliver func([]byte)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.joins++
	if b.failJoins > 0 {
		b.failJoins--
		return nil, ErrJoinRefused
	}
	s := &memorySub{bus: b, topic: topic, deliver: deliver, done: make(chan struct{})}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*memorySub]struct{})
	}
	b.topics[topic][s] = struct{}{}
	return s, nil
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, data []byte) error {
	b.mu.Lock()
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return err
	}
	subs := make([]*memorySub, 0, len(b.topics[topic]))
	for s := range b.topics[topic] {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.deliver(append([]byte(nil), data...))
	}
	return nil
}

func (b *MemoryBus) Track(ctx context.Context, topic string, p Presence) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.presence[topic] == nil {
		b.presence[topic] = make(map[uuid.UUID]Presence)
	}
	b.presence[topic][p.UserID] = p
	return nil
}

func (b *MemoryBus) Untrack(ctx context.Context, topic string, userID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.presence[topic], userID)
	return nil
}

type memorySub struct {
	bus     *MemoryBus
	topic   string
	deliver func([]byte)
	done    chan struct{}
	once    sync.Once
	err     error
}

func (s *memorySub) Done() <-chan struct{} { return s.done }

func (s *memorySub) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *memorySub) Close() error {
	s.bus.mu.Lock()
	delete(s.bus.topics[s.topic], s)
	s.bus.mu.Unlock()
	s.end(nil)
	return nil
}

func (s *memorySub) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}
