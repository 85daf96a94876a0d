package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/jason-s-yu/drawguess/internal/countdown"
	"github.com/jason-s-yu/drawguess/internal/drawing"
	"github.com/jason-s-yu/drawguess/internal/models"
	"github.com/jason-s-yu/drawguess/internal/realtime"
	"github.com/jason-s-yu/drawguess/internal/store"
	"golang.org/x/sync/errgroup"
)

// openChannelLocked acquires the room channel, binds listeners and presence and
// starts the stroke replicator. Subscribe failures are retried in the
// background by the channel. Assumes lock is held.
func (s *Session) openChannelLocked(ctx context.Context) {
	ch := s.channels.Acquire(s.room.Code)
	s.channel = ch

	s.replicator = drawing.NewReplicator(ch, drawing.NewCanvas(), drawing.Config{
		Identity: s.self,
		Clock:    s.clk,
		Logger:   s.logger,
		Throttle: s.throttle,
	})
	s.replicator.Attach()
	ch.AttachListener(realtime.KindChange, s.handleChange)
	ch.AttachListener(realtime.KindState, s.handleState)
	ch.OnStatus(func(st realtime.Status) { s.onChannelStatus(ch, st) })

	if err := ch.Subscribe(ctx, s.self); err != nil {
		s.log.Warnf("Room %s: channel subscribe failed, retrying in background: %v", s.room.Code, err)
	}
	if err := ch.TrackPresence(ctx, realtime.Presence{UserID: s.self, Name: s.name}); err != nil {
		s.log.Warnf("Room %s: presence tracking failed: %v", s.room.Code, err)
	}
}

// broadcastLocked sends msg on the room channel. Failures are transient and
// only logged; queued messages go out on reconnect. Assumes lock is held.
func (s *Session) broadcastLocked(ctx context.Context, msg realtime.Message) {
	if s.channel == nil {
		return
	}
	err := s.channel.Broadcast(ctx, msg)
	switch {
	case err == nil:
	case errors.Is(err, realtime.ErrNotConnected):
		s.log.Debugf("Room %s: %s message queued until reconnect", s.room.Code, msg.Kind())
	default:
		s.log.Warnf("Room %s: %s broadcast failed: %v", s.room.Code, msg.Kind(), err)
	}
}

// broadcastChangeLocked assumes lock is held.
func (s *Session) broadcastChangeLocked(ctx context.Context, table, rowID string) {
	s.broadcastLocked(ctx, realtime.ChangeMessage{Change: models.Change{
		Table:    table,
		RoomID:   s.room.ID,
		RoomCode: s.room.Code,
		RowID:    rowID,
	}})
}

func (s *Session) handleChange(env realtime.Envelope) {
	if env.Author == s.self {
		return
	}
	if m, ok := env.Message.(realtime.ChangeMessage); ok {
		s.resync(m.Change.Table)
	}
}

// handleState applies a selection announced by the host, or a re-roll by the
// drawer of the selection in progress. Other selections are picked up from the
// room row on the next refresh.
func (s *Session) handleState(env realtime.Envelope) {
	if env.Author == s.self {
		return
	}
	m, ok := env.Message.(realtime.StateMessage)
	if !ok || m.Phase != PhaseSelecting.String() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined || s.room.Status == models.RoomFinished {
		return
	}
	pos := Position{Round: m.RoundNumber, Phase: PhaseSelecting}
	reroll := env.Author == m.DrawerID && m.DrawerID == s.selectDrawer && pos == s.pos
	if env.Author != s.room.HostID && !reroll {
		s.log.Warnf("Room %s: ignoring selection state from %s", s.room.Code, env.Author)
		return
	}
	switch {
	case pos.After(s.pos):
		s.options = m.Options
		s.selectDrawer = m.DrawerID
		s.room.Status = models.RoomPlaying
		s.enterLocked(pos)
	case pos == s.pos:
		s.options = m.Options
		s.selectDrawer = m.DrawerID
		s.timers.Start(countdown.Selection, s.room.Settings.SelectSeconds, func() { s.onSelectionTimeout(pos) })
	}
}

// onChannelStatus runs on status changes without the session lock. After the
// channel has exhausted its retries the session falls back to polling; after
// a reconnect it re-fetches what it may have missed.
func (s *Session) onChannelStatus(ch *realtime.Channel, st realtime.Status) {
	switch st {
	case realtime.StatusConnected:
		s.pollMu.Lock()
		reconnect := s.connectedOnce
		s.connectedOnce = true
		s.pollMu.Unlock()
		s.stopPolling()
		if reconnect {
			go s.resync("reconnect")
		}
	case realtime.StatusDisconnected:
		if ch.Exhausted() {
			s.startPolling()
		}
	}
}

func (s *Session) startPolling() {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	if s.polling {
		return
	}
	s.polling = true
	s.pollGen++
	s.log.Warnf("Channel gave up, polling every %s", s.pollInterval)
	s.schedulePollLocked(s.pollGen)
}

// schedulePollLocked assumes pollMu is held.
func (s *Session) schedulePollLocked(gen uint64) {
	s.pollTimer = s.clk.AfterFunc(s.pollInterval, func() { s.poll(gen) })
}

func (s *Session) poll(gen uint64) {
	s.pollMu.Lock()
	if !s.polling || gen != s.pollGen {
		s.pollMu.Unlock()
		return
	}
	s.pollMu.Unlock()

	s.resync("poll")

	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	if s.polling && gen == s.pollGen {
		s.schedulePollLocked(gen)
	}
}

func (s *Session) stopPolling() {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	if !s.polling {
		return
	}
	s.polling = false
	s.pollGen++
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
}

// Polling reports whether the session is refreshing on a timer instead of
// following the channel.
func (s *Session) Polling() bool {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	return s.polling
}

func (s *Session) resync(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return
	}
	ctx, cancel := s.opContext()
	defer cancel()
	if err := s.refreshLocked(ctx); err != nil {
		s.log.Warnf("Room %s: refresh on %s failed: %v", s.room.Code, reason, err)
	}
}

// Refresh re-fetches the room's authoritative rows and re-derives the phase
// and countdowns from them.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return ErrNotInRoom
	}
	return s.refreshLocked(ctx)
}

// refreshLocked assumes lock is held.
func (s *Session) refreshLocked(ctx context.Context) error {
	var (
		room   models.Room
		parts  []models.Participant
		latest *models.Round
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
		rd, err := s.store.LatestRound(gctx, s.room.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		latest = &rd
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("refresh room %s: %w", s.room.Code, err)
	}

	var guesses []models.Guess
	if latest != nil {
		var err error
		if guesses, err = s.store.ListGuesses(ctx, latest.ID); err != nil {
			return fmt.Errorf("refresh guesses of round %d: %w", latest.Number, err)
		}
	}

	s.applyLocked(room, parts, latest, guesses)
	s.checkAllGuessedLocked(ctx)
	return nil
}

// applyLocked replaces the mirrored rows and moves forward to the position
// they imply. Assumes lock is held.
func (s *Session) applyLocked(room models.Room, parts []models.Participant, latest *models.Round, guesses []models.Guess) {
	room.Settings = room.Settings.WithDefaults()
	s.room = room
	s.participants = parts
	s.round = latest
	s.guesses = guesses
	s.arbiter = NewArbiter(room.HostID, s.self)
	if latest != nil {
		s.used[normalizeWord(latest.Word)] = struct{}{}
	}

	pos := derivePosition(room, latest)
	if pos.Phase == PhaseSelecting && (pos == s.pos || pos.After(s.pos)) {
		if room.SelectionRound == pos.Round {
			s.options = append([]string(nil), room.SelectionOptions...)
		} else if pos.After(s.pos) {
			// Not opened yet; options arrive with the selection.
			s.options = nil
		}
		s.selectDrawer = room.CurrentDrawerID
	}
	s.enterLocked(pos)
}

// derivePosition maps durable rows to a position.
func derivePosition(room models.Room, latest *models.Round) Position {
	switch room.Status {
	case models.RoomWaiting:
		return Position{Phase: PhaseWaiting}
	case models.RoomFinished:
		return Position{Round: room.CurrentRound, Phase: PhaseFinished}
	}
	switch {
	case latest == nil:
		return Position{Round: room.CurrentRound + 1, Phase: PhaseSelecting}
	case latest.Active():
		return Position{Round: latest.Number, Phase: PhaseDrawing}
	case room.SelectionOpen():
		return Position{Round: room.SelectionRound, Phase: PhaseSelecting}
	case latest.Skipped:
		return Position{Round: latest.Number + 1, Phase: PhaseSelecting}
	default:
		return Position{Round: latest.Number, Phase: PhaseSummary}
	}
}
