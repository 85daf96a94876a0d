// Package store defines the durable-store contract the round coordinator writes
// through, plus an in-memory implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique key (room code, participant) already exists.
	ErrConflict = errors.New("conflict")
	// ErrActiveRound is returned when creating a round while another is still active.
	ErrActiveRound = errors.New("room already has an active round")
	// ErrStaleTransition is returned when a compare-and-set on a phase field loses.
	ErrStaleTransition = errors.New("stale transition")
	// ErrDuplicateCorrectGuess is returned for a second correct guess by the same user in a round.
	ErrDuplicateCorrectGuess = errors.New("user already guessed correctly")
	// ErrRoundClosed is returned when guessing or rating a round that is not in the drawing phase.
	ErrRoundClosed = errors.New("round is not accepting guesses")
)

// Scorer maps the 0-indexed rank of a correct guess to the points it earns.
type Scorer func(rank int) int

// Store is the shared durable store. Every method is safe for concurrent use.
type Store interface {
	CreateRoom(ctx context.Context, room models.Room) (models.Room, error)
	GetRoom(ctx context.Context, id uuid.UUID) (models.Room, error)
	GetRoomByCode(ctx context.Context, code string) (models.Room, error)
	// SetRoomStatus moves the room from one status to another, failing with
	// ErrStaleTransition if the current status is not from.
	SetRoomStatus(ctx context.Context, roomID uuid.UUID, from, to models.RoomStatus) error
	// SetSelection opens, or re-rolls, the word selection of round number
	// round: it assigns the drawer and stores the offered options. It fails
	// with ErrStaleTransition unless the room is playing and round directly
	// follows its current round.
	SetSelection(ctx context.Context, roomID uuid.UUID, round int, drawerID uuid.UUID, options []string) error

	AddParticipant(ctx context.Context, p models.Participant) (models.Participant, error)
	RemoveParticipant(ctx context.Context, roomID, userID uuid.UUID) error
	// ListParticipants returns participants in join order.
	ListParticipants(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error)

	// CreateRound inserts a round numbered room.CurrentRound+1 and bumps the
	// room's round number and drawer in the same transaction.
	CreateRound(ctx context.Context, round models.Round) (models.Round, error)
	GetRound(ctx context.Context, id uuid.UUID) (models.Round, error)
	LatestRound(ctx context.Context, roomID uuid.UUID) (models.Round, error)
	ListRounds(ctx context.Context, roomID uuid.UUID) ([]models.Round, error)
	// EndRound sets the round's status and end time if it is still active.
	EndRound(ctx context.Context, roundID uuid.UUID, status models.RoundStatus, skipped bool, endedAt time.Time) (models.Round, error)

	// AddGuess appends a guess. For a correct guess the store ranks it among the
	// round's correct guesses and stores scorer(rank) as its score, atomically.
	AddGuess(ctx context.Context, g models.Guess, scorer Scorer) (models.Guess, error)
	// ListGuesses returns guesses in insertion order.
	ListGuesses(ctx context.Context, roundID uuid.UUID) ([]models.Guess, error)

	UpsertRating(ctx context.Context, r models.Rating) error
	ListRatings(ctx context.Context, roundID uuid.UUID) ([]models.Rating, error)

	// ApplyScore adds points to a participant at most once per key. It reports
	// whether the points were applied by this call.
	ApplyScore(ctx context.Context, key string, roomID, userID uuid.UUID, points int) (bool, error)
}

// ChangeSource emits a signal for every committed row change.
type ChangeSource interface {
	Watch(ctx context.Context) <-chan models.Change
}
