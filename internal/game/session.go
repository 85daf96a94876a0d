// Package game is the client-side round coordinator. A Session mirrors one
// room from the shared store, commits the transitions its participant is
// authorized for, and follows everything else by re-fetching rows whenever the
// room channel signals a change.
package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/clock"
	"github.com/jason-s-yu/drawguess/internal/countdown"
	"github.com/jason-s-yu/drawguess/internal/drawing"
	"github.com/jason-s-yu/drawguess/internal/models"
	"github.com/jason-s-yu/drawguess/internal/realtime"
	"github.com/jason-s-yu/drawguess/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	defaultPollInterval = 3 * time.Second
	defaultOpTimeout    = 10 * time.Second
	maxCodeAttempts     = 5
)

// Config wires a Session to its collaborators.
type Config struct {
	Identity uuid.UUID
	Name     string

	Store    store.Store
	Channels *realtime.Manager
	Clock    clock.Clock
	Logger   *logrus.Logger

	// Actions receives the action log. Optional.
	Actions ActionLogger

	// PollInterval is the refresh period once the channel has given up reconnecting.
	PollInterval time.Duration

	// OpTimeout bounds store calls made from timers and channel handlers.
	OpTimeout time.Duration

	// Throttle is the stroke replication window.
	Throttle time.Duration

	// Rand drives word options and room codes. Seeded from the clock when nil.
	Rand *rand.Rand
}

// Session is one participant's handle on one room at a time.
type Session struct {
	self     uuid.UUID
	name     string
	store    store.Store
	channels *realtime.Manager
	clk      clock.Clock
	logger   *logrus.Logger
	log      *logrus.Entry
	actions  ActionLogger
	timers   *countdown.Scheduler
	rng      *rand.Rand

	pollInterval time.Duration
	opTimeout    time.Duration
	throttle     time.Duration

	mu           sync.Mutex
	joined       bool
	room         models.Room
	participants []models.Participant
	round        *models.Round
	guesses      []models.Guess
	arbiter      Arbiter
	pos          Position
	options      []string
	selectDrawer uuid.UUID
	used         map[string]struct{}
	history      []Transition
	actionIndex  map[uuid.UUID]int // per room; never reset so rejoins keep counting
	channel      *realtime.Channel
	replicator   *drawing.Replicator

	pollMu        sync.Mutex
	polling       bool
	pollGen       uint64
	pollTimer     clock.Timer
	connectedOnce bool
}

// NewSession returns a Session that is not in any room yet.
func NewSession(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	if cfg.Rand == nil {
		seed := uint64(cfg.Clock.Now().UnixNano())
		cfg.Rand = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	if cfg.Name == "" {
		cfg.Name = "Guest"
	}
	return &Session{
		self:         cfg.Identity,
		name:         cfg.Name,
		store:        cfg.Store,
		channels:     cfg.Channels,
		clk:          cfg.Clock,
		logger:       cfg.Logger,
		log:          cfg.Logger.WithField("user", cfg.Identity),
		actions:      cfg.Actions,
		timers:       countdown.NewScheduler(cfg.Clock),
		rng:          cfg.Rand,
		pollInterval: cfg.PollInterval,
		opTimeout:    cfg.OpTimeout,
		throttle:     cfg.Throttle,
		used:         make(map[string]struct{}),
		actionIndex:  make(map[uuid.UUID]int),
	}
}

func (s *Session) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}

// CreateRoom creates a room hosted by the local participant and joins it.
func (s *Session) CreateRoom(ctx context.Context, settings models.Settings, words []string) (models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joined {
		return models.Room{}, ErrAlreadyInRoom
	}

	settings = settings.WithDefaults()
	var (
		room models.Room
		err  error
	)
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		room, err = s.store.CreateRoom(ctx, models.Room{
			Code:     newRoomCode(s.rng),
			HostID:   s.self,
			Status:   models.RoomWaiting,
			Settings: settings,
			Words:    words,
		})
		if !errors.Is(err, store.ErrConflict) {
			break
		}
	}
	if err != nil {
		return models.Room{}, fmt.Errorf("create room: %w", err)
	}
	if _, err := s.store.AddParticipant(ctx, models.Participant{RoomID: room.ID, UserID: s.self, Name: s.name}); err != nil {
		return models.Room{}, fmt.Errorf("join created room %s: %w", room.Code, err)
	}
	s.log.Infof("Room %s created with %d word(s), %d round(s)", room.Code, len(words), settings.Rounds)

	if err := s.enterRoomLocked(ctx, room); err != nil {
		return models.Room{}, err
	}
	s.logActionLocked("room_create", map[string]interface{}{"rounds": settings.Rounds, "words": len(words)})
	return s.room, nil
}

// JoinRoom joins the room with the given code. New participants may only join
// while the room is waiting; existing participants may rejoin at any time.
func (s *Session) JoinRoom(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joined {
		return ErrAlreadyInRoom
	}

	room, err := s.store.GetRoomByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("find room %s: %w", code, err)
	}
	parts, err := s.store.ListParticipants(ctx, room.ID)
	if err != nil {
		return fmt.Errorf("list participants of %s: %w", code, err)
	}
	rejoin := false
	for _, p := range parts {
		if p.UserID == s.self {
			rejoin = true
			break
		}
	}
	if !rejoin {
		if room.Status != models.RoomWaiting {
			return fmt.Errorf("%w: room %s is %s", ErrRoomNotJoinable, code, room.Status)
		}
		_, err := s.store.AddParticipant(ctx, models.Participant{RoomID: room.ID, UserID: s.self, Name: s.name})
		if err != nil && !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("join room %s: %w", code, err)
		}
	}

	if err := s.enterRoomLocked(ctx, room); err != nil {
		return err
	}
	s.log.Infof("Room %s: joined (rejoin=%v)", code, rejoin)
	s.broadcastChangeLocked(ctx, models.TableParticipants, s.self.String())
	s.logActionLocked("player_join", map[string]interface{}{"rejoin": rejoin})
	return nil
}

// enterRoomLocked resets per-room state, opens the channel and loads the room.
// Assumes lock is held.
func (s *Session) enterRoomLocked(ctx context.Context, room models.Room) error {
	room.Settings = room.Settings.WithDefaults()
	s.joined = true
	s.room = room
	s.arbiter = NewArbiter(room.HostID, s.self)
	s.pos = Position{Phase: PhaseWaiting}
	s.history = nil
	s.options = nil
	s.selectDrawer = uuid.Nil
	s.round = nil
	s.guesses = nil
	s.used = make(map[string]struct{})

	s.openChannelLocked(ctx)
	if err := s.refreshLocked(ctx); err != nil {
		return fmt.Errorf("load room %s: %w", room.Code, err)
	}
	return nil
}

// Leave removes the local participant and releases every timer and the
// channel. A host leaving finishes the room.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return ErrNotInRoom
	}

	if s.arbiter.IsHost() && s.room.Status != models.RoomFinished {
		if err := s.finishRoomLocked(ctx); err != nil {
			s.log.Warnf("Room %s: finishing room on host leave failed: %v", s.room.Code, err)
		}
	}
	if err := s.store.RemoveParticipant(ctx, s.room.ID, s.self); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Warnf("Room %s: removing participant failed: %v", s.room.Code, err)
	}
	s.broadcastChangeLocked(ctx, models.TableParticipants, s.self.String())
	s.logActionLocked("player_leave", nil)
	s.log.Infof("Room %s: left", s.room.Code)
	s.teardownLocked()
	return nil
}

// teardownLocked cancels countdowns, the stroke throttle and polling, then
// releases the channel. Assumes lock is held.
func (s *Session) teardownLocked() {
	s.timers.StopAll()
	if s.replicator != nil {
		s.replicator.Stop()
	}
	s.stopPolling()
	if s.channel != nil {
		s.channels.Release(s.room.Code)
	}
	s.channel = nil
	s.replicator = nil
	s.joined = false
}

// Snapshot is an immutable view of the session for rendering.
type Snapshot struct {
	RoomID       uuid.UUID
	RoomCode     string
	Status       models.RoomStatus
	Phase        Phase
	Round        int
	TotalRounds  int
	HostID       uuid.UUID
	DrawerID     uuid.UUID
	IsHost       bool
	IsDrawer     bool
	Options      []string
	Word         string
	Remaining    int
	Participants []models.Participant
	Guesses      []models.Guess
	Connection   realtime.Status
	Members      []realtime.Presence

	// Rankings is the leaderboard. Winner is its first entry once the room
	// is finished, and nil before.
	Rankings []Ranking
	Winner   *Ranking
}

// Snapshot returns the current view. The word and options are only filled in
// for those allowed to see them.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	drawer := s.drawerLocked()
	snap := Snapshot{
		RoomID:       s.room.ID,
		RoomCode:     s.room.Code,
		Status:       s.room.Status,
		Phase:        s.pos.Phase,
		Round:        s.pos.Round,
		TotalRounds:  s.room.Settings.Rounds,
		HostID:       s.room.HostID,
		DrawerID:     drawer,
		IsHost:       s.arbiter.IsHost(),
		IsDrawer:     drawer != uuid.Nil && drawer == s.self,
		Participants: append([]models.Participant(nil), s.participants...),
		Connection:   realtime.StatusDisconnected,
	}
	if snap.IsDrawer && s.pos.Phase == PhaseSelecting {
		snap.Options = append([]string(nil), s.options...)
	}
	if s.round != nil && s.round.Number == s.pos.Round {
		if snap.IsDrawer || s.pos.Phase == PhaseSummary || s.pos.Phase == PhaseFinished {
			snap.Word = s.round.Word
		}
	}
	switch s.pos.Phase {
	case PhaseSelecting:
		snap.Remaining = s.timers.Remaining(countdown.Selection)
	case PhaseDrawing:
		snap.Remaining = s.timers.Remaining(countdown.Drawing)
	case PhaseSummary:
		snap.Remaining = s.timers.Remaining(countdown.Summary)
	}
	for _, g := range s.guesses {
		if g.IsCorrect && s.pos.Phase == PhaseDrawing && !snap.IsDrawer && g.UserID != s.self {
			g.Text = ""
		}
		snap.Guesses = append(snap.Guesses, g)
	}
	snap.Rankings = Rankings(s.participants)
	if s.room.Status == models.RoomFinished && len(snap.Rankings) > 0 {
		winner := snap.Rankings[0]
		snap.Winner = &winner
	}
	if s.channel != nil {
		snap.Connection = s.channel.Status()
		snap.Members = s.channel.Members()
	}
	return snap
}

// History returns every accepted transition in order.
func (s *Session) History() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transition(nil), s.history...)
}

// Position returns the phase the session is in.
func (s *Session) Position() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// IsHost reports whether the local participant hosts the current room.
func (s *Session) IsHost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arbiter.IsHost()
}

// Drawing returns the stroke replicator of the current room, or nil outside a room.
func (s *Session) Drawing() *drawing.Replicator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replicator
}

// drawerLocked returns the drawer of the current position. Assumes lock is held.
func (s *Session) drawerLocked() uuid.UUID {
	switch s.pos.Phase {
	case PhaseSelecting:
		return s.selectDrawer
	case PhaseDrawing, PhaseSummary:
		if s.round != nil {
			return s.round.DrawerID
		}
	}
	return uuid.Nil
}

// enterLocked moves to pos if it is strictly later than the current position,
// swapping the phase countdown. It reports whether the move happened.
// Assumes lock is held.
func (s *Session) enterLocked(pos Position) bool {
	if !pos.After(s.pos) {
		return false
	}
	prev := s.pos
	s.timers.StopAll()
	s.pos = pos
	s.history = append(s.history, Transition{Position: pos, At: s.clk.Now()})
	s.log.WithFields(logrus.Fields{"round": pos.Round, "phase": pos.Phase.String()}).
		Infof("Room %s: %s -> %s", s.room.Code, prev.Phase, pos.Phase)

	settings := s.room.Settings
	switch pos.Phase {
	case PhaseSelecting:
		s.guesses = nil
		if s.replicator != nil {
			s.replicator.Reset()
		}
		s.timers.Start(countdown.Selection, settings.SelectSeconds, func() { s.onSelectionTimeout(pos) })
	case PhaseDrawing:
		s.timers.Start(countdown.Drawing, settings.DrawSeconds, func() { s.onDrawingTimeout(pos) })
	case PhaseSummary:
		s.timers.Start(countdown.Summary, settings.SummarySeconds, func() { s.onSummaryTimeout(pos) })
	case PhaseFinished:
		s.options = nil
	}
	return true
}
