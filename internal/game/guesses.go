package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/models"
	"github.com/jason-s-yu/drawguess/internal/store"
)

// SubmitGuess records the local participant's guess for the round being drawn.
// A correct guess is ranked by the store and scored once.
func (s *Session) SubmitGuess(ctx context.Context, text string) (models.Guess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return models.Guess{}, ErrNotInRoom
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return models.Guess{}, ErrEmptyGuess
	}
	if limit := s.room.Settings.MaxGuessLength; utf8.RuneCountInString(text) > limit {
		return models.Guess{}, fmt.Errorf("%w: at most %d characters", ErrGuessTooLong, limit)
	}
	if s.pos.Phase != PhaseDrawing || s.round == nil || !s.round.Active() {
		return models.Guess{}, fmt.Errorf("%w: no round is being drawn", ErrWrongPhase)
	}
	if s.round.DrawerID == s.self {
		return models.Guess{}, ErrDrawerCannotGuess
	}
	if s.guessedCorrectlyLocked(s.self) {
		return models.Guess{}, ErrAlreadyGuessedCorrectly
	}

	rd := *s.round
	saved, err := s.store.AddGuess(ctx, models.Guess{
		RoundID:   rd.ID,
		UserID:    s.self,
		Text:      text,
		IsCorrect: isCorrectGuess(text, rd.Word),
	}, GuessScore)
	switch {
	case errors.Is(err, store.ErrDuplicateCorrectGuess):
		return models.Guess{}, ErrAlreadyGuessedCorrectly
	case errors.Is(err, store.ErrRoundClosed):
		if rerr := s.refreshLocked(ctx); rerr != nil {
			s.log.Warnf("Room %s: refresh after closed round failed: %v", s.room.Code, rerr)
		}
		return models.Guess{}, fmt.Errorf("%w: round %d is over", ErrWrongPhase, rd.Number)
	case err != nil:
		return models.Guess{}, fmt.Errorf("submit guess: %w", err)
	}

	s.guesses = append(s.guesses, saved)
	if saved.IsCorrect {
		s.log.Infof("Room %s: correct guess in round %d for %d points", s.room.Code, rd.Number, saved.ScoreEarned)
		if _, err := s.store.ApplyScore(ctx, guessScoreKey(saved.ID.String()), s.room.ID, s.self, saved.ScoreEarned); err != nil {
			return saved, fmt.Errorf("apply guess score: %w", err)
		}
	}
	s.broadcastChangeLocked(ctx, models.TableGuesses, saved.ID.String())
	s.logActionLocked("guess", map[string]interface{}{"round": rd.Number, "correct": saved.IsCorrect, "score": saved.ScoreEarned})
	s.checkAllGuessedLocked(ctx)
	return saved, nil
}

// RateDrawing stores the local participant's star rating of the current drawing.
func (s *Session) RateDrawing(ctx context.Context, stars int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return ErrNotInRoom
	}
	if stars < 1 || stars > 5 {
		return ErrInvalidRating
	}
	if s.pos.Phase != PhaseDrawing || s.round == nil || !s.round.Active() {
		return fmt.Errorf("%w: no round is being drawn", ErrWrongPhase)
	}
	if s.round.DrawerID == s.self {
		return ErrDrawerCannotRate
	}

	rd := *s.round
	err := s.store.UpsertRating(ctx, models.Rating{RoundID: rd.ID, RaterID: s.self, DrawerID: rd.DrawerID, Stars: stars})
	if errors.Is(err, store.ErrRoundClosed) {
		return fmt.Errorf("%w: round %d is over", ErrWrongPhase, rd.Number)
	}
	if err != nil {
		return fmt.Errorf("rate drawing: %w", err)
	}
	s.broadcastChangeLocked(ctx, models.TableRatings, rd.ID.String())
	s.logActionLocked("rating", map[string]interface{}{"round": rd.Number, "stars": stars})
	return nil
}

// guessedCorrectlyLocked assumes lock is held.
func (s *Session) guessedCorrectlyLocked(userID uuid.UUID) bool {
	for _, g := range s.guesses {
		if g.IsCorrect && g.UserID == userID {
			return true
		}
	}
	return false
}

// checkAllGuessedLocked ends the round early once every participant other than
// the drawer has guessed correctly. Only the host acts on it. Assumes lock is held.
func (s *Session) checkAllGuessedLocked(ctx context.Context) {
	if !s.arbiter.IsHost() {
		return
	}
	if s.pos.Phase != PhaseDrawing || s.round == nil || !s.round.Active() {
		return
	}
	guessers := 0
	for _, p := range s.participants {
		if p.UserID == s.round.DrawerID {
			continue
		}
		guessers++
		if !s.guessedCorrectlyLocked(p.UserID) {
			return
		}
	}
	if guessers == 0 {
		return
	}
	s.log.Infof("Room %s: everyone guessed round %d, ending it early", s.room.Code, s.round.Number)
	if err := s.endRoundLocked(ctx); err != nil && !errors.Is(err, ErrStaleTransition) {
		s.log.Warnf("Room %s: early end of round failed: %v", s.room.Code, err)
	}
}
