package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/jason-s-yu/drawguess/internal/countdown"
	"github.com/jason-s-yu/drawguess/internal/models"
	"github.com/jason-s-yu/drawguess/internal/realtime"
	"github.com/jason-s-yu/drawguess/internal/store"
	"golang.org/x/sync/errgroup"
)

// StartGame moves a waiting room into play and opens the first selection.
func (s *Session) StartGame(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return ErrNotInRoom
	}
	if err := s.arbiter.Authorize(ScopeLifecycle); err != nil {
		return err
	}
	if s.room.Status != models.RoomWaiting {
		return fmt.Errorf("%w: room is %s", ErrWrongPhase, s.room.Status)
	}
	parts, err := s.store.ListParticipants(ctx, s.room.ID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	s.participants = parts
	if len(parts) < 2 {
		return ErrNotEnoughPlayers
	}
	if err := s.store.SetRoomStatus(ctx, s.room.ID, models.RoomWaiting, models.RoomPlaying); err != nil {
		return fmt.Errorf("start game: %w", err)
	}
	s.room.Status = models.RoomPlaying
	s.used = make(map[string]struct{})
	s.log.Infof("Room %s: game started with %d players", s.room.Code, len(parts))
	s.logActionLocked("game_start", map[string]interface{}{"players": len(parts)})
	s.broadcastChangeLocked(ctx, models.TableRooms, s.room.ID.String())

	return s.startSelectionLocked(ctx)
}

// StartSelectionPhase offers the next drawer a fresh set of words. Calling it
// again during the same selection re-rolls the options.
func (s *Session) StartSelectionPhase(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return ErrNotInRoom
	}
	if err := s.arbiter.Authorize(ScopeLifecycle); err != nil {
		return err
	}
	if s.room.Status != models.RoomPlaying || s.pos.Phase == PhaseDrawing {
		return fmt.Errorf("%w: cannot start a selection while %s", ErrWrongPhase, s.pos.Phase)
	}
	return s.startSelectionLocked(ctx)
}

// startSelectionLocked picks the drawer by rotation and draws the word options.
// Running out of words finishes the game. Assumes lock is held.
func (s *Session) startSelectionLocked(ctx context.Context) error {
	var (
		room   models.Room
		parts  []models.Participant
		rounds []models.Round
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		room, err = s.store.GetRoom(gctx, s.room.ID)
		return err
	})
	g.Go(func() error {
		var err error
		parts, err = s.store.ListParticipants(gctx, s.room.ID)
		return err
	})
	g.Go(func() error {
		var err error
		rounds, err = s.store.ListRounds(gctx, s.room.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("prepare selection: %w", err)
	}
	room.Settings = room.Settings.WithDefaults()
	s.room = room
	s.participants = parts
	if len(parts) == 0 {
		return ErrNotEnoughPlayers
	}

	for _, rd := range rounds {
		s.used[normalizeWord(rd.Word)] = struct{}{}
	}
	next := room.CurrentRound + 1
	drawer := parts[room.CurrentRound%len(parts)].UserID
	options := pickOptions(s.rng, room.Words, room.CurrentRound, s.used, room.Settings.OptionsPerRound)
	if len(options) == 0 {
		s.log.Infof("Room %s: %v for round %d, ending game", room.Code, ErrNoWordsAvailable, next)
		return s.endGameLocked(ctx)
	}

	if err := s.store.SetSelection(ctx, room.ID, next, drawer, options); err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			if rerr := s.refreshLocked(ctx); rerr != nil {
				s.log.Warnf("Room %s: refresh after lost selection start failed: %v", room.Code, rerr)
			}
			return fmt.Errorf("open selection for round %d: %w", next, ErrStaleTransition)
		}
		return fmt.Errorf("open selection: %w", err)
	}
	s.room.CurrentDrawerID = drawer
	s.room.SelectionRound = next
	s.room.SelectionOptions = options
	s.options = options
	s.selectDrawer = drawer

	pos := Position{Round: next, Phase: PhaseSelecting}
	if !s.enterLocked(pos) {
		// Re-roll within the same selection.
		s.timers.Start(countdown.Selection, room.Settings.SelectSeconds, func() { s.onSelectionTimeout(pos) })
	}
	s.broadcastLocked(ctx, realtime.StateMessage{
		Phase:         PhaseSelecting.String(),
		RoundNumber:   next,
		DrawerID:      drawer,
		Options:       options,
		SelectSeconds: room.Settings.SelectSeconds,
	})
	s.broadcastChangeLocked(ctx, models.TableRooms, room.ID.String())
	if s.replicator != nil {
		s.replicator.Clear(ctx)
	}
	s.logActionLocked("selection_start", map[string]interface{}{"round": next, "drawer": drawer.String(), "options": len(options)})
	return nil
}

// SelectWord is the drawer's choice of one of the offered words. It creates
// the round and starts drawing.
func (s *Session) SelectWord(ctx context.Context, option string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return ErrNotInRoom
	}
	if s.pos.Phase != PhaseSelecting {
		return fmt.Errorf("%w: cannot select a word while %s", ErrWrongPhase, s.pos.Phase)
	}
	if s.selectDrawer != s.self {
		return ErrNotDrawer
	}
	return s.selectWordLocked(ctx, option)
}

// selectWordLocked assumes lock is held and the session is selecting.
func (s *Session) selectWordLocked(ctx context.Context, option string) error {
	word := ""
	for _, o := range s.options {
		if o == option {
			word = o
			break
		}
	}
	if word == "" {
		return fmt.Errorf("%w: %q", ErrInvalidOption, option)
	}

	rd, err := s.store.CreateRound(ctx, models.Round{
		RoomID:   s.room.ID,
		Number:   s.pos.Round,
		DrawerID: s.selectDrawer,
		Word:     word,
		Status:   models.RoundDrawing,
	})
	if err != nil {
		if errors.Is(err, store.ErrActiveRound) || errors.Is(err, store.ErrStaleTransition) {
			s.log.Warnf("Room %s: round %d was started by another client", s.room.Code, s.pos.Round)
			if rerr := s.refreshLocked(ctx); rerr != nil {
				s.log.Warnf("Room %s: refresh after lost selection failed: %v", s.room.Code, rerr)
			}
			return fmt.Errorf("select word for round %d: %w", s.pos.Round, ErrStaleTransition)
		}
		return fmt.Errorf("create round: %w", err)
	}
	s.timers.Stop(countdown.Selection)

	s.used[normalizeWord(word)] = struct{}{}
	s.room.CurrentRound = rd.Number
	s.room.CurrentDrawerID = rd.DrawerID
	s.round = &rd
	s.guesses = nil
	s.options = nil
	s.enterLocked(Position{Round: rd.Number, Phase: PhaseDrawing})
	s.broadcastChangeLocked(ctx, models.TableRounds, rd.ID.String())
	s.logActionLocked("word_selected", map[string]interface{}{"round": rd.Number, "word": word})
	return nil
}

// EndRound closes the drawing phase, scores the drawer and shows the summary.
func (s *Session) EndRound(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return ErrNotInRoom
	}
	if err := s.arbiter.Authorize(ScopeLifecycle); err != nil {
		return err
	}
	return s.endRoundLocked(ctx)
}

// endRoundLocked ends the active round with a compare-and-set, so of two racing
// callers only one scores. Assumes lock is held.
func (s *Session) endRoundLocked(ctx context.Context) error {
	if s.pos.Phase != PhaseDrawing || s.round == nil {
		return fmt.Errorf("%w: no round is being drawn", ErrWrongPhase)
	}
	rd := *s.round

	ended, err := s.store.EndRound(ctx, rd.ID, models.RoundSummary, false, s.clk.Now())
	if err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			if rerr := s.refreshLocked(ctx); rerr != nil {
				s.log.Warnf("Room %s: refresh after lost end of round failed: %v", s.room.Code, rerr)
			}
			return fmt.Errorf("end round %d: %w", rd.Number, ErrStaleTransition)
		}
		return fmt.Errorf("end round %d: %w", rd.Number, err)
	}
	s.timers.Stop(countdown.Drawing)
	s.round = &ended

	points, scoreErr := s.scoreDrawerLocked(ctx, ended)
	s.enterLocked(Position{Round: ended.Number, Phase: PhaseSummary})
	s.broadcastChangeLocked(ctx, models.TableRounds, ended.ID.String())
	s.logActionLocked("round_end", map[string]interface{}{"round": ended.Number, "drawer_points": points})
	if scoreErr != nil {
		return fmt.Errorf("score round %d: %w", ended.Number, scoreErr)
	}
	return nil
}

// scoreDrawerLocked applies the drawer's points once per round. Assumes lock is held.
func (s *Session) scoreDrawerLocked(ctx context.Context, rd models.Round) (int, error) {
	var (
		guesses []models.Guess
		ratings []models.Rating
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		guesses, err = s.store.ListGuesses(gctx, rd.ID)
		return err
	})
	g.Go(func() error {
		var err error
		ratings, err = s.store.ListRatings(gctx, rd.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}
	s.guesses = guesses

	correct := countCorrect(guesses)
	avg := AverageRating(ratings)
	points := DrawerScore(correct, avg)
	if points > 0 {
		applied, err := s.store.ApplyScore(ctx, drawerScoreKey(rd.ID.String()), s.room.ID, rd.DrawerID, points)
		if err != nil {
			return 0, err
		}
		if !applied {
			s.log.Warnf("Room %s: drawer score for round %d was already applied", s.room.Code, rd.Number)
		}
	}
	s.log.Infof("Room %s: round %d ended, drawer %s earns %d (%d correct, rating %.2f)",
		s.room.Code, rd.Number, rd.DrawerID, points, correct, avg)
	return points, nil
}

// ContinueToNextRound leaves the summary for the next selection, or finishes
// the game after the last round.
func (s *Session) ContinueToNextRound(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return ErrNotInRoom
	}
	if err := s.arbiter.Authorize(ScopeLifecycle); err != nil {
		return err
	}
	return s.continueLocked(ctx)
}

// continueLocked assumes lock is held.
func (s *Session) continueLocked(ctx context.Context) error {
	if s.pos.Phase != PhaseSummary {
		return fmt.Errorf("%w: not in a summary", ErrWrongPhase)
	}
	s.timers.Stop(countdown.Summary)
	if s.room.CurrentRound < s.room.Settings.Rounds {
		return s.startSelectionLocked(ctx)
	}
	return s.endGameLocked(ctx)
}

// EndGame finishes the room.
func (s *Session) EndGame(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return ErrNotInRoom
	}
	if err := s.arbiter.Authorize(ScopeLifecycle); err != nil {
		return err
	}
	if s.room.Status != models.RoomPlaying {
		return fmt.Errorf("%w: room is %s", ErrWrongPhase, s.room.Status)
	}
	return s.endGameLocked(ctx)
}

// endGameLocked closes any active round unscored and moves the room from
// playing to finished. Assumes lock is held.
func (s *Session) endGameLocked(ctx context.Context) error {
	if s.round != nil && s.round.Active() {
		ended, err := s.store.EndRound(ctx, s.round.ID, models.RoundSummary, true, s.clk.Now())
		switch {
		case err == nil:
			s.round = &ended
		case errors.Is(err, store.ErrStaleTransition):
		default:
			return fmt.Errorf("close round %d: %w", s.round.Number, err)
		}
	}
	if err := s.store.SetRoomStatus(ctx, s.room.ID, models.RoomPlaying, models.RoomFinished); err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			if rerr := s.refreshLocked(ctx); rerr != nil {
				s.log.Warnf("Room %s: refresh after lost end of game failed: %v", s.room.Code, rerr)
			}
		}
		return fmt.Errorf("end game: %w", err)
	}
	s.markFinishedLocked(ctx)
	return nil
}

// finishRoomLocked finishes the room from whatever status it is in. Assumes lock is held.
func (s *Session) finishRoomLocked(ctx context.Context) error {
	if s.room.Status == models.RoomPlaying {
		return s.endGameLocked(ctx)
	}
	if err := s.store.SetRoomStatus(ctx, s.room.ID, s.room.Status, models.RoomFinished); err != nil {
		return fmt.Errorf("close room: %w", err)
	}
	s.markFinishedLocked(ctx)
	return nil
}

// markFinishedLocked assumes lock is held.
func (s *Session) markFinishedLocked(ctx context.Context) {
	s.room.Status = models.RoomFinished
	s.timers.StopAll()
	s.enterLocked(Position{Round: s.room.CurrentRound, Phase: PhaseFinished})
	s.broadcastChangeLocked(ctx, models.TableRooms, s.room.ID.String())
	s.logActionLocked("game_end", map[string]interface{}{"rounds": s.room.CurrentRound})
	s.log.Infof("Room %s: game finished after %d round(s)", s.room.Code, s.room.CurrentRound)
}

// SkipWord lets the drawer pass. While selecting it re-rolls the options; while
// drawing it abandons the round unscored and moves straight to the next
// selection.
func (s *Session) SkipWord(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return ErrNotInRoom
	}

	switch s.pos.Phase {
	case PhaseSelecting:
		if s.selectDrawer != s.self {
			return ErrNotDrawer
		}
		s.log.Infof("Room %s: drawer re-rolled the options for round %d", s.room.Code, s.pos.Round)
		return s.startSelectionLocked(ctx)

	case PhaseDrawing:
		if s.round == nil || s.round.DrawerID != s.self {
			return ErrNotDrawer
		}
		rd := *s.round
		ended, err := s.store.EndRound(ctx, rd.ID, models.RoundSummary, true, s.clk.Now())
		if err != nil {
			if errors.Is(err, store.ErrStaleTransition) {
				if rerr := s.refreshLocked(ctx); rerr != nil {
					s.log.Warnf("Room %s: refresh after lost skip failed: %v", s.room.Code, rerr)
				}
				return fmt.Errorf("skip round %d: %w", rd.Number, ErrStaleTransition)
			}
			return fmt.Errorf("skip round %d: %w", rd.Number, err)
		}
		s.timers.Stop(countdown.Drawing)
		s.round = &ended
		s.broadcastChangeLocked(ctx, models.TableRounds, rd.ID.String())
		s.logActionLocked("word_skipped", map[string]interface{}{"round": rd.Number})
		s.log.Infof("Room %s: drawer skipped round %d", s.room.Code, rd.Number)

		if rd.Number >= s.room.Settings.Rounds {
			return s.endGameLocked(ctx)
		}
		return s.startSelectionLocked(ctx)

	default:
		return fmt.Errorf("%w: nothing to skip while %s", ErrWrongPhase, s.pos.Phase)
	}
}

// onSelectionTimeout picks the first option on the drawer's behalf.
func (s *Session) onSelectionTimeout(pos Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.arbiter.IsHost() {
		return
	}
	if !s.joined || s.pos != pos {
		return
	}
	ctx, cancel := s.opContext()
	defer cancel()

	if len(s.options) == 0 {
		s.log.Warnf("Room %s: selection for round %d timed out without options, drawing new ones", s.room.Code, pos.Round)
		if err := s.startSelectionLocked(ctx); err != nil {
			s.log.Warnf("Room %s: restarting selection failed: %v", s.room.Code, err)
		}
		return
	}
	s.log.Infof("Room %s: selection for round %d timed out, choosing %q", s.room.Code, pos.Round, s.options[0])
	if err := s.selectWordLocked(ctx, s.options[0]); err != nil && !errors.Is(err, ErrStaleTransition) {
		s.log.Warnf("Room %s: automatic word selection failed: %v", s.room.Code, err)
	}
}

func (s *Session) onDrawingTimeout(pos Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.arbiter.IsHost() {
		return
	}
	if !s.joined || s.pos != pos {
		return
	}
	ctx, cancel := s.opContext()
	defer cancel()

	s.log.Infof("Room %s: drawing time for round %d is up", s.room.Code, pos.Round)
	if err := s.endRoundLocked(ctx); err != nil && !errors.Is(err, ErrStaleTransition) {
		s.log.Warnf("Room %s: automatic end of round failed: %v", s.room.Code, err)
	}
}

func (s *Session) onSummaryTimeout(pos Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.arbiter.IsHost() {
		return
	}
	if !s.joined || s.pos != pos {
		return
	}
	ctx, cancel := s.opContext()
	defer cancel()

	if err := s.continueLocked(ctx); err != nil {
		s.log.Warnf("Room %s: automatic continue after round %d failed: %v", s.room.Code, pos.Round, err)
	}
}
