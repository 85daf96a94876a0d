package game

import (
	"errors"

	"github.com/jason-s-yu/drawguess/internal/store"
)

// Validation errors. None of them leave shared state modified.
var (
	ErrNotHost                 = errors.New("only the host may do that")
	ErrNotDrawer               = errors.New("only the current drawer may do that")
	ErrWrongPhase              = errors.New("not allowed in the current phase")
	ErrInvalidOption           = errors.New("word is not one of the offered options")
	ErrNoWordsAvailable        = errors.New("no words left to offer")
	ErrEmptyGuess              = errors.New("guess is empty")
	ErrGuessTooLong            = errors.New("guess is too long")
	ErrAlreadyGuessedCorrectly = errors.New("already guessed correctly this round")
	ErrDrawerCannotGuess       = errors.New("the drawer cannot guess")
	ErrDrawerCannotRate        = errors.New("the drawer cannot rate their own drawing")
	ErrInvalidRating           = errors.New("rating must be between 1 and 5")
	ErrNotEnoughPlayers        = errors.New("at least 2 players are needed")
	ErrNotInRoom               = errors.New("not in a room")
	ErrAlreadyInRoom           = errors.New("already in a room")
	ErrRoomNotJoinable         = errors.New("room is not accepting players")

	// ErrStaleTransition means another client committed the transition first.
	ErrStaleTransition = store.ErrStaleTransition
)
