package realtime

import (
	"time"

	"github.com/jason-s-yu/drawguess/internal/clock"
	"github.com/sirupsen/logrus"
)

// Status is the connection state of a Channel.
type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// RetryPolicy bounds reconnect attempts after a failed subscribe or a drop.
type RetryPolicy struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Exponential bool
}

// Backoff returns the delay before retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay * time.Duration(attempt)
	if p.Exponential {
		d = p.BaseDelay << (attempt - 1)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Config configures a Manager and the channels it creates.
type Config struct {
	Clock  clock.Clock
	Logger *logrus.Logger
	Retry  RetryPolicy

	// ConnectTimeout bounds each subscribe handshake, including retries.
	ConnectTimeout time.Duration

	// InboxSize is the per-channel buffer between the transport and dispatch.
	InboxSize int

	// OutboxSize bounds the messages queued while the channel is not connected.
	OutboxSize int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Clock:  clock.Real{},
		Logger: logrus.StandardLogger(),
		Retry: RetryPolicy{
			MaxRetries: 3,
			BaseDelay:  time.Second,
			MaxDelay:   10 * time.Second,
		},
		ConnectTimeout: 10 * time.Second,
		InboxSize:      1024,
		OutboxSize:     64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry = d.Retry
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.InboxSize <= 0 {
		c.InboxSize = d.InboxSize
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = d.OutboxSize
	}
	return c
}
