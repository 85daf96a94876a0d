package realtime

import (
	"context"

	"github.com/google/uuid"
)

// Presence identifies a participant connected to a room channel.
type Presence struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
}

// Subscription is a live transport subscription to one topic.
type Subscription interface {
	// Done is closed when the subscription ends, by Close or by the network.
	Done() <-chan struct{}
	// Err reports why the subscription ended; nil after Close.
	Err() error
	Close() error
}

// Transport is the pub/sub primitive a Channel runs on. Fan-out includes the
// publisher's own subscriptions.
type Transport interface {
	// Join performs the subscribe handshake. ctx bounds the handshake only;
	// deliver is called for every frame until the subscription ends.
	Join(ctx context.Context, topic string, deliver func([]byte)) (Subscription, error)
	Publish(ctx context.Context, topic string, data []byte) error
	Track(ctx context.Context, topic string, p Presence) error
	Untrack(ctx context.Context, topic string, userID uuid.UUID) error
}
