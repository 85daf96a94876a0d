// internal/models/change.go
package models

import "github.com/google/uuid"

// Table names that emit change notifications.
const (
	TableRooms        = "rooms"
	TableParticipants = "participants"
	TableRounds       = "rounds"
	TableGuesses      = "guesses"
	TableRatings      = "ratings"
)

// Change signals that a row in Table changed for the given room. It carries no
// delta; consumers re-fetch the authoritative rows.
type Change struct {
	Table    string    `json:"table"`
	RoomID   uuid.UUID `json:"room_id"`
	RoomCode string    `json:"room_code"`
	RowID    string    `json:"row_id,omitempty"`
}
