// Package wsbus implements the room channel transport as a websocket client of
// the relay server. Each joined topic holds its own connection.
package wsbus

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/realtime"
	"github.com/sirupsen/logrus"
)

const subprotocol = "drawguess"

var ErrNotJoined = errors.New("topic not joined")

// Bus is a realtime.Transport talking to a relay at baseURL (http(s) or ws(s)).
type Bus struct {
	baseURL string
	token   string
	logger  *logrus.Logger

	mu    sync.Mutex
	conns map[string]*subscription
}

func New(baseURL, token string, logger *logrus.Logger) *Bus {
	return &Bus{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		logger:  logger,
		conns:   make(map[string]*subscription),
	}
}

func (b *Bus) topicURL(topic string) (string, error) {
	u, err := url.Parse(b.baseURL + "/ws/" + url.PathEscape(topic))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("token", b.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Join dials the relay for topic. ctx bounds the handshake only.
func (b *Bus) Join(ctx context.Context, topic string, deliver func([]byte)) (realtime.Subscription, error) {
	u, err := b.topicURL(topic)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{Subprotocols: []string{subprotocol}})
	if err != nil {
		return nil, fmt.Errorf("dial relay for %s: %w", topic, err)
	}
	if conn.Subprotocol() != subprotocol {
		conn.Close(websocket.StatusPolicyViolation, "subprotocol not negotiated")
		return nil, fmt.Errorf("relay did not negotiate %q", subprotocol)
	}
	conn.SetReadLimit(1 << 20)

	runCtx, cancel := context.WithCancel(context.Background())
	s := &subscription{bus: b, topic: topic, conn: conn, cancel: cancel, done: make(chan struct{})}

	b.mu.Lock()
	if old := b.conns[topic]; old != nil {
		go old.Close()
	}
	b.conns[topic] = s
	b.mu.Unlock()

	go s.readLoop(runCtx, deliver)
	return s, nil
}

func (b *Bus) Publish(ctx context.Context, topic string, data []byte) error {
	b.mu.Lock()
	s := b.conns[topic]
	b.mu.Unlock()
	if s == nil {
		return ErrNotJoined
	}
	return s.conn.Write(ctx, websocket.MessageBinary, data)
}

// Track is satisfied by the presence envelope the channel broadcasts; the relay
// records presence from it and clears it when the connection ends.
func (b *Bus) Track(ctx context.Context, topic string, p realtime.Presence) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conns[topic] == nil {
		return ErrNotJoined
	}
	return nil
}

func (b *Bus) Untrack(ctx context.Context, topic string, userID uuid.UUID) error {
	return nil
}

type subscription struct {
	bus    *Bus
	topic  string
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *subscription) readLoop(ctx context.Context, deliver func([]byte)) {
	defer close(s.done)
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			if !s.closed {
				s.err = fmt.Errorf("relay connection for %s ended: %w", s.topic, err)
				s.bus.logger.Warnf("Relay connection for %s ended: %v", s.topic, err)
			}
			s.mu.Unlock()
			s.bus.forget(s)
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		deliver(data)
	}
}

func (b *Bus) forget(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conns[s.topic] == s {
		delete(b.conns, s.topic)
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

	s.bus.forget(s)
	err := s.conn.Close(websocket.StatusNormalClosure, "client close")
	s.cancel()
	return err
}
