// internal/models/room.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	RoomWaiting  RoomStatus = "waiting"
	RoomPlaying  RoomStatus = "playing"
	RoomFinished RoomStatus = "finished"
)

// Room represents a row in the rooms table. The host owns the phase and round
// fields; any participant may write their own join/leave.
type Room struct {
	ID              uuid.UUID  `json:"id"`
	Code            string     `json:"code"`
	HostID          uuid.UUID  `json:"host_id"`
	Status          RoomStatus `json:"status"`
	CurrentRound    int        `json:"current_round"`
	CurrentDrawerID uuid.UUID  `json:"current_drawer_id"`
	Settings        Settings   `json:"settings"`
	Words           []string   `json:"words"`
	CreatedAt       time.Time  `json:"created_at"`

	// SelectionRound is the round whose word is being chosen, and
	// SelectionOptions the words offered for it. A selection is open while
	// SelectionRound is past CurrentRound.
	SelectionRound   int      `json:"selection_round"`
	SelectionOptions []string `json:"selection_options"`
}

// HasDrawer reports whether a drawer is currently assigned.
func (r Room) HasDrawer() bool {
	return r.CurrentDrawerID != uuid.Nil
}

// SelectionOpen reports whether a drawer is choosing the word of the next round.
func (r Room) SelectionOpen() bool {
	return r.SelectionRound > r.CurrentRound
}

// Participant is a member of a room. Score only grows through applied score events.
type Participant struct {
	RoomID   uuid.UUID `json:"room_id"`
	UserID   uuid.UUID `json:"user_id"`
	Name     string    `json:"name"`
	Score    int       `json:"score"`
	JoinedAt time.Time `json:"joined_at"`
}
