// Package redisbus implements the room channel transport over Redis pub/sub,
// with presence kept in a per-topic hash.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/realtime"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Bus is a realtime.Transport backed by a Redis client.
type Bus struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

// New wraps rdb. The caller owns the client.
func New(rdb *redis.Client, logger *logrus.Logger) *Bus {
	return &Bus{rdb: rdb, logger: logger}
}

func presenceKey(topic string) string {
	return "presence:" + topic
}

// Join subscribes to topic and waits for the subscription confirmation.
func (b *Bus) Join(ctx context.Context, topic string, deliver func([]byte)) (realtime.Subscription, error) {
	ps := b.rdb.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &subscription{ps: ps, cancel: cancel, done: make(chan struct{})}
	go s.loop(runCtx, deliver, b.logger.WithField("topic", topic))
	return s, nil
}

func (b *Bus) Publish(ctx context.Context, topic string, data []byte) error {
	if err := b.rdb.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) Track(ctx context.Context, topic string, p realtime.Presence) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return b.rdb.HSet(ctx, presenceKey(topic), p.UserID.String(), data).Err()
}

func (b *Bus) Untrack(ctx context.Context, topic string, userID uuid.UUID) error {
	return b.rdb.HDel(ctx, presenceKey(topic), userID.String()).Err()
}

// Members returns the presences tracked on topic, sorted by user id.
func (b *Bus) Members(ctx context.Context, topic string) ([]realtime.Presence, error) {
	all, err := b.rdb.HGetAll(ctx, presenceKey(topic)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]realtime.Presence, 0, len(all))
	for field, raw := range all {
		var p realtime.Presence
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			b.logger.Warnf("Invalid presence entry %s on %s: %v", field, topic, err)
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out, nil
}

type subscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

// loop reads until Close or the first connection error. It does not let the
// client reconnect on its own; the owning channel decides whether to retry.
func (s *subscription) loop(ctx context.Context, deliver func([]byte), log *logrus.Entry) {
	defer close(s.done)
	for {
		msg, err := s.ps.ReceiveMessage(ctx)
		if err != nil {
			s.mu.Lock()
			if !s.closed && ctx.Err() == nil && !errors.Is(err, redis.ErrClosed) {
				s.err = err
				log.WithError(err).Warn("Redis subscription ended")
			}
			s.mu.Unlock()
			return
		}
		deliver([]byte(msg.Payload))
	}
}

func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	return s.ps.Close()
}
