package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/clock"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotConnected = errors.New("channel not connected")
	ErrReleased     = errors.New("channel released")
)

// Handler consumes envelopes of one kind. Handlers of a channel run serially on
// its dispatch goroutine.
type Handler func(Envelope)

// Channel is the shared handle for one room's pub/sub topic. It is created by a
// Manager and shared by every local consumer of the room.
type Channel struct {
	code      string
	topic     string
	transport Transport
	cfg       Config
	log       *logrus.Entry

	mu              sync.Mutex
	status          Status
	identity        uuid.UUID
	subscribed      bool
	connecting      bool
	released        bool
	exhausted       bool
	retries         int
	retryTimer      clock.Timer
	retryGen        uint64
	sub             Subscription
	subGen          uint64
	listeners       map[Kind]Handler
	presence        *Presence
	presenceTracked bool
	members         map[uuid.UUID]Presence
	outbox          [][]byte
	observers       []func(Status)

	inbox chan Envelope
	done  chan struct{}
}

func newChannel(code string, transport Transport, cfg Config) *Channel {
	c := &Channel{
		code:      code,
		topic:     Topic(code),
		transport: transport,
		cfg:       cfg,
		log:       cfg.Logger.WithField("room", code),
		status:    StatusDisconnected,
		listeners: make(map[Kind]Handler),
		members:   make(map[uuid.UUID]Presence),
		inbox:     make(chan Envelope, cfg.InboxSize),
		done:      make(chan struct{}),
	}
	go c.dispatch()
	return c
}

func (c *Channel) Code() string  { return c.code }
func (c *Channel) Topic() string { return c.topic }

func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Retries returns the number of retries since the last successful connect.
func (c *Channel) Retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

// Exhausted reports whether the retry budget is spent. The channel stays
// disconnected and callers should fall back to polling.
func (c *Channel) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

// OnStatus registers an observer called on every status change.
func (c *Channel) OnStatus(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Members returns the presences known on this channel, sorted by user id.
func (c *Channel) Members() []Presence {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Presence, 0, len(c.members))
	for _, p := range c.members {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out
}

// AttachListener binds h to kind. Only the first call per kind binds; later
// calls return false and are ignored.
func (c *Channel) AttachListener(kind Kind, h Handler) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.listeners[kind]; ok {
		return false
	}
	c.listeners[kind] = h
	return true
}

// Subscribe performs the network handshake for identity. It runs at most once
// per channel lifetime; afterwards reconnects are driven by the retry policy.
// A failed handshake schedules a retry and is returned for logging only.
func (c *Channel) Subscribe(ctx context.Context, identity uuid.UUID) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return ErrReleased
	}
	if c.subscribed {
		c.mu.Unlock()
		return nil
	}
	c.subscribed = true
	c.identity = identity
	c.mu.Unlock()

	return c.connect(ctx)
}

func (c *Channel) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.released || c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.mu.Unlock()
	c.setStatus(StatusConnecting)

	hctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	sub, err := c.transport.Join(hctx, c.topic, c.receive)
	cancel()

	c.mu.Lock()
	c.connecting = false
	if err != nil {
		c.mu.Unlock()
		c.log.WithError(err).Warn("Channel subscribe failed")
		c.scheduleRetry()
		return fmt.Errorf("subscribe %s: %w", c.topic, err)
	}
	if c.released {
		c.mu.Unlock()
		_ = sub.Close()
		return ErrReleased
	}
	c.sub = sub
	c.subGen++
	gen := c.subGen
	c.retries = 0
	c.exhausted = false
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.retryGen++
	c.presenceTracked = false
	presence := c.presence
	c.mu.Unlock()

	c.log.Info("Channel connected")
	c.setStatus(StatusConnected)
	go c.watch(sub, gen)

	if presence != nil {
		if err := c.track(ctx, *presence); err != nil {
			c.log.WithError(err).Warn("Presence tracking failed")
		}
	}
	c.flushOutbox(ctx)
	return nil
}

// watch waits for the subscription to end. An end while the channel is still
// referenced is a drop and triggers a retry; after release it is a clean close.
func (c *Channel) watch(sub Subscription, gen uint64) {
	<-sub.Done()

	c.mu.Lock()
	if c.released || gen != c.subGen {
		c.mu.Unlock()
		return
	}
	c.sub = nil
	c.presenceTracked = false
	c.mu.Unlock()

	c.log.WithError(sub.Err()).Warn("Channel dropped unexpectedly")
	c.scheduleRetry()
}

func (c *Channel) scheduleRetry() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	if c.retries >= c.cfg.Retry.MaxRetries {
		c.exhausted = true
		retries := c.retries
		c.mu.Unlock()
		c.log.Errorf("Channel gave up after %d retries", retries)
		c.setStatus(StatusDisconnected)
		return
	}
	c.retries++
	attempt := c.retries
	delay := c.cfg.Retry.Backoff(attempt)
	c.retryGen++
	gen := c.retryGen
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.retryTimer = c.cfg.Clock.AfterFunc(delay, func() { c.retry(gen) })
	c.mu.Unlock()

	c.log.Infof("Channel retry %d/%d scheduled in %s", attempt, c.cfg.Retry.MaxRetries, delay)
	c.setStatus(StatusDisconnected)
}

func (c *Channel) retry(gen uint64) {
	c.mu.Lock()
	if c.released || gen != c.retryGen {
		c.mu.Unlock()
		return
	}
	c.retryTimer = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()
	_ = c.connect(ctx)
}

func (c *Channel) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	observers := append([]func(Status){}, c.observers...)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(s)
	}
}

// TrackPresence records the local presence once. If the channel is not yet
// connected it is applied on connect, and it is re-applied after reconnects.
func (c *Channel) TrackPresence(ctx context.Context, p Presence) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return ErrReleased
	}
	if c.presence != nil {
		c.mu.Unlock()
		return nil
	}
	c.presence = &p
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.track(ctx, p)
}

func (c *Channel) track(ctx context.Context, p Presence) error {
	c.mu.Lock()
	if c.presenceTracked {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.transport.Track(ctx, c.topic, p); err != nil {
		return fmt.Errorf("track presence: %w", err)
	}

	c.mu.Lock()
	c.presenceTracked = true
	c.members[p.UserID] = p
	c.mu.Unlock()

	return c.Broadcast(ctx, PresenceMessage{UserID: p.UserID, Name: p.Name, Joined: true})
}

// Broadcast publishes msg to every subscriber of the room, including this
// process. While disconnected, non-drawing messages are queued in a bounded
// outbox and sent on the next connect or successful send; drawing messages are
// dropped since the next flush carries the full stroke.
func (c *Channel) Broadcast(ctx context.Context, msg Message) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return ErrReleased
	}
	env := Envelope{Room: c.code, Author: c.identity, SentAt: c.cfg.Clock.Now(), Message: msg}
	connected := c.status == StatusConnected
	c.mu.Unlock()

	data, err := Encode(env)
	if err != nil {
		return err
	}
	if !connected {
		c.enqueue(msg.Kind(), data)
		return ErrNotConnected
	}

	c.flushOutbox(ctx)
	if err := c.transport.Publish(ctx, c.topic, data); err != nil {
		c.log.WithError(err).Warnf("Broadcast of %s failed", msg.Kind())
		c.enqueue(msg.Kind(), data)
		return fmt.Errorf("broadcast %s: %w", msg.Kind(), err)
	}
	return nil
}

func (c *Channel) enqueue(kind Kind, data []byte) {
	if kind == KindDrawing {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outbox = append(c.outbox, data)
	if over := len(c.outbox) - c.cfg.OutboxSize; over > 0 {
		c.log.Warnf("Outbox full, dropped %d queued message(s)", over)
		c.outbox = c.outbox[over:]
	}
}

// Pending returns the number of queued outbound messages.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbox)
}

func (c *Channel) flushOutbox(ctx context.Context) {
	c.mu.Lock()
	queue := c.outbox
	c.outbox = nil
	c.mu.Unlock()

	for i, data := range queue {
		if err := c.transport.Publish(ctx, c.topic, data); err != nil {
			c.log.WithError(err).Warnf("Outbox flush stopped with %d message(s) left", len(queue)-i)
			c.mu.Lock()
			c.outbox = append(append([][]byte{}, queue[i:]...), c.outbox...)
			c.mu.Unlock()
			return
		}
	}
}

func (c *Channel) receive(data []byte) {
	env, err := Decode(data)
	if err != nil {
		c.log.WithError(err).Warn("Dropping undecodable frame")
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.inbox <- env:
	default:
		c.log.Warnf("Inbox full, dropped %s message", env.Message.Kind())
	}
}

func (c *Channel) dispatch() {
	for {
		select {
		case <-c.done:
			return
		case env := <-c.inbox:
			c.deliver(env)
		}
	}
}

func (c *Channel) deliver(env Envelope) {
	switch m := env.Message.(type) {
	case PresenceMessage:
		c.observePresence(m)
	case DrawingMessage, ClearMessage, ChangeMessage, StateMessage:
	default:
		c.log.Warnf("Unhandled message type %T", env.Message)
		return
	}

	c.mu.Lock()
	h := c.listeners[env.Message.Kind()]
	c.mu.Unlock()
	if h != nil {
		h(env)
	}
}

// observePresence updates the member set and answers a newcomer with our own
// presence so it learns who is already here.
func (c *Channel) observePresence(m PresenceMessage) {
	c.mu.Lock()
	_, known := c.members[m.UserID]
	if m.Joined {
		c.members[m.UserID] = Presence{UserID: m.UserID, Name: m.Name}
	} else {
		delete(c.members, m.UserID)
	}
	self := c.presence
	announce := m.Joined && !known && self != nil && c.presenceTracked && m.UserID != self.UserID
	c.mu.Unlock()

	if announce {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		defer cancel()
		if err := c.Broadcast(ctx, PresenceMessage{UserID: self.UserID, Name: self.Name, Joined: true}); err != nil {
			c.log.WithError(err).Debug("Presence announce failed")
		}
	}
}

// close tears the channel down: pending retry cancelled, presence untracked,
// subscription closed, dispatch stopped.
func (c *Channel) close() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.retryGen++
	sub := c.sub
	c.sub = nil
	tracked := c.presenceTracked
	presence := c.presence
	identity := c.identity
	c.mu.Unlock()

	if tracked && presence != nil && sub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		leave := Envelope{Room: c.code, Author: identity, SentAt: c.cfg.Clock.Now(), Message: PresenceMessage{UserID: presence.UserID, Name: presence.Name}}
		if data, err := Encode(leave); err == nil {
			_ = c.transport.Publish(ctx, c.topic, data)
		}
		if err := c.transport.Untrack(ctx, c.topic, presence.UserID); err != nil {
			c.log.WithError(err).Warn("Presence untrack failed")
		}
		cancel()
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			c.log.WithError(err).Debug("Subscription close")
		}
	}
	close(c.done)
	c.setStatus(StatusDisconnected)
	c.log.Info("Channel released")
}
