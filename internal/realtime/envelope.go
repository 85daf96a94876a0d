// Package realtime manages one pub/sub channel per room: subscription lifecycle,
// listener and presence registration, reconnect with backoff, and the typed
// envelope exchanged on the wire.
package realtime

import (
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/models"
)

// Kind discriminates envelope payloads on the wire.
type Kind uint8

const (
	KindDrawing Kind = iota + 1
	KindClear
	KindChange
	KindState
	KindPresence
)

func (k Kind) String() string {
	switch k {
	case KindDrawing:
		return "drawing"
	case KindClear:
		return "clear"
	case KindChange:
		return "change"
	case KindState:
		return "state"
	case KindPresence:
		return "presence"
	default:
		return "unknown"
	}
}

// Message is the closed set of payloads carried by an Envelope. Only types in
// this package implement it.
type Message interface {
	Kind() Kind
	isMessage()
}

// DrawingMessage carries the latest accumulated state of one stroke.
type DrawingMessage struct {
	Stroke models.Stroke
}

// ClearMessage tells receivers to wipe their canvas.
type ClearMessage struct {
	UserID uuid.UUID `json:"user_id"`
}

// ChangeMessage signals that durable rows changed and must be re-fetched.
type ChangeMessage struct {
	Change models.Change `json:"change"`
}

// StateMessage announces the ephemeral selection phase: who draws next and the
// options offered to them.
type StateMessage struct {
	Phase         string    `json:"phase"`
	RoundNumber   int       `json:"round_number"`
	DrawerID      uuid.UUID `json:"drawer_id"`
	Options       []string  `json:"options,omitempty"`
	SelectSeconds int       `json:"select_seconds"`
}

// PresenceMessage announces a participant joining or leaving the channel.
type PresenceMessage struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
	Joined bool      `json:"joined"`
}

func (DrawingMessage) Kind() Kind  { return KindDrawing }
func (ClearMessage) Kind() Kind    { return KindClear }
func (ChangeMessage) Kind() Kind   { return KindChange }
func (StateMessage) Kind() Kind    { return KindState }
func (PresenceMessage) Kind() Kind { return KindPresence }

func (DrawingMessage) isMessage()  {}
func (ClearMessage) isMessage()    {}
func (ChangeMessage) isMessage()   {}
func (StateMessage) isMessage()    {}
func (PresenceMessage) isMessage() {}

// Envelope is one message on a room channel. Author is the sender's identity
// and is what receivers use for self-echo suppression.
type Envelope struct {
	Room    string
	Author  uuid.UUID
	SentAt  time.Time
	Message Message
}

// Topic returns the channel name for a room code.
func Topic(code string) string {
	return "room:" + code
}
