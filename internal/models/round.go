// internal/models/round.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// RoundStatus is the persisted phase of a round.
type RoundStatus string

const (
	RoundSelecting RoundStatus = "selecting"
	RoundDrawing   RoundStatus = "drawing"
	RoundSummary   RoundStatus = "summary"
)

// Round represents a row in the rounds table. Only the host mutates it after creation.
type Round struct {
	ID        uuid.UUID   `json:"id"`
	RoomID    uuid.UUID   `json:"room_id"`
	Number    int         `json:"round_number"`
	DrawerID  uuid.UUID   `json:"drawer_id"`
	Word      string      `json:"word"`
	Status    RoundStatus `json:"status"`
	Skipped   bool        `json:"skipped"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
}

// Active reports whether the round has not been ended yet.
func (r Round) Active() bool {
	return r.EndedAt == nil
}

// Guess is an immutable guess row. Insertion order is ranking order.
type Guess struct {
	ID          uuid.UUID `json:"id"`
	RoundID     uuid.UUID `json:"round_id"`
	UserID      uuid.UUID `json:"user_id"`
	Text        string    `json:"text"`
	IsCorrect   bool      `json:"is_correct"`
	ScoreEarned int       `json:"score_earned"`
	GuessedAt   time.Time `json:"guessed_at"`
}

// Rating is a star rating of a drawing, at most one per (round, rater).
type Rating struct {
	RoundID  uuid.UUID `json:"round_id"`
	RaterID  uuid.UUID `json:"rater_id"`
	DrawerID uuid.UUID `json:"drawer_id"`
	Stars    int       `json:"stars"`
}
