package game

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/clock"
	"github.com/jason-s-yu/drawguess/internal/models"
	"github.com/jason-s-yu/drawguess/internal/realtime"
	"github.com/jason-s-yu/drawguess/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var testWords = []string{
	"apple", "bridge", "castle", "dragon", "engine", "forest",
	"guitar", "harbor", "island", "jungle", "kettle", "lantern",
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// table is a set of players sharing one store, one bus and one fake clock.
type table struct {
	t     *testing.T
	clk   *clock.Fake
	bus   *realtime.MemoryBus
	store *store.Memory
	seed  uint64
}

func newTable(t *testing.T) *table {
	t.Helper()
	return &table{
		t:     t,
		clk:   clock.NewFake(time.Unix(1_700_000_000, 0)),
		bus:   realtime.NewMemoryBus(),
		store: store.NewMemory(),
	}
}

func (tb *table) session(name string, st store.Store, bus realtime.Transport) *Session {
	mgr := realtime.NewManager(bus, realtime.Config{
		Clock:  tb.clk,
		Logger: quietLogger(),
		Retry:  realtime.RetryPolicy{MaxRetries: 3, BaseDelay: time.Second},
	})
	tb.t.Cleanup(mgr.ReleaseAll)
	tb.seed++
	return NewSession(Config{
		Identity: uuid.New(),
		Name:     name,
		Store:    st,
		Channels: mgr,
		Clock:    tb.clk,
		Logger:   quietLogger(),
		Rand:     rand.New(rand.NewPCG(tb.seed, 2)),
	})
}

func (tb *table) player(name string) *Session {
	return tb.session(name, tb.store, tb.bus)
}

// seat creates a room hosted by the first of n players and joins the rest.
func (tb *table) seat(n int, settings models.Settings, words []string) []*Session {
	tb.t.Helper()
	ctx := context.Background()
	players := []*Session{tb.player("host")}
	room, err := players[0].CreateRoom(ctx, settings, words)
	require.NoError(tb.t, err)
	for i := 1; i < n; i++ {
		p := tb.player("guest")
		require.NoError(tb.t, p.JoinRoom(ctx, room.Code))
		players = append(players, p)
	}
	return players
}

func waitPosition(t *testing.T, pos Position, players ...*Session) {
	t.Helper()
	for _, p := range players {
		require.Eventually(t, func() bool { return p.Position() == pos }, waitFor, tick,
			"player %s never reached %v, at %v", p.self, pos, p.Position())
	}
}

func optionsOf(s *Session) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.options...)
}

func waitOptions(t *testing.T, s *Session) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(optionsOf(s)) > 0 }, waitFor, tick)
	return optionsOf(s)
}

func currentRound(s *Session) models.Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.round == nil {
		return models.Round{}
	}
	return *s.round
}

func scoreOf(t *testing.T, st store.Store, roomID, userID uuid.UUID) int {
	t.Helper()
	parts, err := st.ListParticipants(context.Background(), roomID)
	require.NoError(t, err)
	for _, p := range parts {
		if p.UserID == userID {
			return p.Score
		}
	}
	t.Fatalf("participant %s not found", userID)
	return 0
}

func positions(history []Transition) []Position {
	out := make([]Position, 0, len(history))
	for _, tr := range history {
		out = append(out, tr.Position)
	}
	return out
}

// countingStore counts EndRound calls made through it.
type countingStore struct {
	store.Store
	endRounds atomic.Int32
}

func (c *countingStore) EndRound(ctx context.Context, roundID uuid.UUID, status models.RoundStatus, skipped bool, endedAt time.Time) (models.Round, error) {
	c.endRounds.Add(1)
	return c.Store.EndRound(ctx, roundID, status, skipped, endedAt)
}

// recordingActions collects the action log.
type recordingActions struct {
	mu      sync.Mutex
	actions []models.RoundAction
}

func (r *recordingActions) LogAction(_ context.Context, a models.RoundAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
	return nil
}

func (r *recordingActions) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, a := range r.actions {
		out = append(out, a.ActionType)
	}
	return out
}

type failingActions struct{ calls atomic.Int32 }

func (f *failingActions) LogAction(context.Context, models.RoundAction) error {
	f.calls.Add(1)
	return errors.New("queue unavailable")
}

func TestRejoinKeepsActionIndexesUnique(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	host := tb.player("host")
	room, err := host.CreateRoom(ctx, models.Settings{}, testWords)
	require.NoError(t, err)

	rec := &recordingActions{}
	guest := tb.player("guest")
	guest.actions = rec
	require.NoError(t, guest.JoinRoom(ctx, room.Code))
	require.NoError(t, guest.Leave(ctx))
	require.NoError(t, guest.JoinRoom(ctx, room.Code))

	require.Eventually(t, func() bool { return len(rec.types()) == 3 }, waitFor, tick)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	var indexes []int
	for _, a := range rec.actions {
		assert.Equal(t, room.ID, a.RoomID)
		indexes = append(indexes, a.ActionIndex)
	}
	slices.Sort(indexes)
	assert.Equal(t, []int{1, 2, 3}, indexes)
}

func TestFailedActionPublishDoesNotRaceRefresh(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	host := tb.player("host")
	_, err := host.CreateRoom(ctx, models.Settings{}, testWords)
	require.NoError(t, err)

	failing := &failingActions{}
	host.mu.Lock()
	host.actions = failing
	host.mu.Unlock()
	for i := 0; i < 20; i++ {
		host.mu.Lock()
		host.logActionLocked("ping", nil)
		host.mu.Unlock()
		require.NoError(t, host.Refresh(ctx))
	}
	require.Eventually(t, func() bool { return failing.calls.Load() == 20 }, waitFor, tick)
}

func TestCreateAndJoinRoom(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	players := tb.seat(3, models.Settings{}, testWords)
	host := players[0]

	snap := host.Snapshot()
	assert.Len(t, snap.RoomCode, 6)
	assert.True(t, snap.IsHost)
	assert.Equal(t, models.RoomWaiting, snap.Status)
	assert.Equal(t, PhaseWaiting, snap.Phase)
	assert.Equal(t, models.DefaultSettings().Rounds, snap.TotalRounds)

	require.Eventually(t, func() bool { return len(host.Snapshot().Participants) == 3 }, waitFor, tick)
	assert.False(t, players[1].IsHost())
	assert.ErrorIs(t, players[1].JoinRoom(ctx, snap.RoomCode), ErrAlreadyInRoom)

	stranger := tb.player("late")
	_, err := stranger.SubmitGuess(ctx, "apple")
	assert.ErrorIs(t, err, ErrNotInRoom)
	assert.Error(t, stranger.JoinRoom(ctx, "000000"))
}

func TestStartGameRequiresHostAndPlayers(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()

	solo := tb.player("solo")
	_, err := solo.CreateRoom(ctx, models.Settings{}, testWords)
	require.NoError(t, err)
	assert.ErrorIs(t, solo.StartGame(ctx), ErrNotEnoughPlayers)

	players := tb.seat(2, models.Settings{}, testWords)
	assert.ErrorIs(t, players[1].StartGame(ctx), ErrNotHost)
	require.NoError(t, players[0].StartGame(ctx))
	assert.ErrorIs(t, players[0].StartGame(ctx), ErrWrongPhase)

	late := tb.player("late")
	assert.ErrorIs(t, late.JoinRoom(ctx, players[0].Snapshot().RoomCode), ErrRoomNotJoinable)
}

func TestSelectionTimeoutPicksFirstOption(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	players := tb.seat(3, models.Settings{Rounds: 3, SelectSeconds: 15}, testWords)
	host := players[0]

	require.NoError(t, host.StartGame(ctx))
	sel := Position{Round: 1, Phase: PhaseSelecting}
	waitPosition(t, sel, players...)

	snap := host.Snapshot()
	require.True(t, snap.IsDrawer, "the host draws first by join order")
	require.Len(t, snap.Options, 3)
	for _, p := range players[1:] {
		assert.ElementsMatch(t, snap.Options, waitOptions(t, p))
		assert.Empty(t, p.Snapshot().Options, "options are only shown to the drawer")
	}

	tb.clk.Advance(15 * time.Second)

	waitPosition(t, Position{Round: 1, Phase: PhaseDrawing}, players...)
	assert.Equal(t, snap.Options[0], host.Snapshot().Word)
	for _, p := range players[1:] {
		ps := p.Snapshot()
		assert.Equal(t, host.self, ps.DrawerID)
		assert.Empty(t, ps.Word)
	}
}

func TestAllGuessedEndsRoundAndScores(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	players := tb.seat(3, models.Settings{Rounds: 3}, testWords)
	host, b, c := players[0], players[1], players[2]

	require.NoError(t, host.StartGame(ctx))
	opts := waitOptions(t, host)
	require.NoError(t, host.SelectWord(ctx, opts[1]))
	draw := Position{Round: 1, Phase: PhaseDrawing}
	waitPosition(t, draw, players...)

	require.NoError(t, b.RateDrawing(ctx, 4))
	require.NoError(t, c.RateDrawing(ctx, 4))

	g, err := b.SubmitGuess(ctx, "not it")
	require.NoError(t, err)
	assert.False(t, g.IsCorrect)
	assert.Zero(t, g.ScoreEarned)

	g, err = b.SubmitGuess(ctx, opts[1])
	require.NoError(t, err)
	assert.True(t, g.IsCorrect)
	assert.Equal(t, 100, g.ScoreEarned)

	g, err = c.SubmitGuess(ctx, "  "+strings.ToUpper(opts[1]))
	require.NoError(t, err)
	assert.True(t, g.IsCorrect)
	assert.Equal(t, 90, g.ScoreEarned)

	waitPosition(t, Position{Round: 1, Phase: PhaseSummary}, players...)

	roomID := host.Snapshot().RoomID
	assert.Equal(t, 44, scoreOf(t, tb.store, roomID, host.self))
	assert.Equal(t, 100, scoreOf(t, tb.store, roomID, b.self))
	assert.Equal(t, 90, scoreOf(t, tb.store, roomID, c.self))
	assert.Equal(t, opts[1], b.Snapshot().Word, "the word is revealed in the summary")

	require.Eventually(t, func() bool {
		r := c.Snapshot().Rankings
		return len(r) == 3 && r[0].UserID == b.self && r[1].UserID == c.self && r[2].UserID == host.self
	}, waitFor, tick)
	assert.Nil(t, c.Snapshot().Winner, "no winner while playing")

	require.NoError(t, host.EndGame(ctx))
	waitPosition(t, Position{Round: 1, Phase: PhaseFinished}, players...)
	require.Eventually(t, func() bool {
		w := c.Snapshot().Winner
		return w != nil && w.UserID == b.self && w.Score == 100 && w.Rank == 1
	}, waitFor, tick)
}

func TestOnlyHostActsOnTimeouts(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	hostStore := &countingStore{Store: tb.store}
	guestStore := &countingStore{Store: tb.store}

	host := tb.session("host", hostStore, tb.bus)
	room, err := host.CreateRoom(ctx, models.Settings{Rounds: 2, DrawSeconds: 60}, testWords)
	require.NoError(t, err)
	guest := tb.session("guest", guestStore, tb.bus)
	require.NoError(t, guest.JoinRoom(ctx, room.Code))

	require.NoError(t, host.StartGame(ctx))
	require.NoError(t, host.SelectWord(ctx, waitOptions(t, host)[0]))
	waitPosition(t, Position{Round: 1, Phase: PhaseDrawing}, host, guest)

	tb.clk.Advance(60 * time.Second)

	waitPosition(t, Position{Round: 1, Phase: PhaseSummary}, host, guest)
	assert.EqualValues(t, 1, hostStore.endRounds.Load())
	assert.EqualValues(t, 0, guestStore.endRounds.Load())
	assert.ErrorIs(t, guest.EndRound(ctx), ErrNotHost)
	assert.ErrorIs(t, guest.ContinueToNextRound(ctx), ErrNotHost)
	assert.ErrorIs(t, guest.EndGame(ctx), ErrNotHost)
}

func TestRacingEndRoundScoresOnce(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	players := tb.seat(2, models.Settings{Rounds: 2}, testWords)
	host, guest := players[0], players[1]

	require.NoError(t, host.StartGame(ctx))
	opts := waitOptions(t, host)
	require.NoError(t, host.SelectWord(ctx, opts[0]))
	draw := Position{Round: 1, Phase: PhaseDrawing}
	waitPosition(t, draw, guest)

	// A second client of the host on an isolated bus never hears the first one commit.
	mgr := realtime.NewManager(realtime.NewMemoryBus(), realtime.Config{Clock: tb.clk, Logger: quietLogger()})
	t.Cleanup(mgr.ReleaseAll)
	twin := NewSession(Config{
		Identity: host.self,
		Name:     "host",
		Store:    tb.store,
		Channels: mgr,
		Clock:    tb.clk,
		Logger:   quietLogger(),
	})
	require.NoError(t, twin.JoinRoom(ctx, host.Snapshot().RoomCode))
	require.Equal(t, draw, twin.Position())
	require.True(t, twin.IsHost())

	// The guest's correct guess ends the round on the first host client.
	_, err := guest.SubmitGuess(ctx, opts[0])
	require.NoError(t, err)
	waitPosition(t, Position{Round: 1, Phase: PhaseSummary}, host)
	require.Equal(t, draw, twin.Position())

	err = twin.EndRound(ctx)
	assert.ErrorIs(t, err, ErrStaleTransition)
	assert.Equal(t, Position{Round: 1, Phase: PhaseSummary}, twin.Position(), "the loser refreshes to the winner's state")

	roomID := host.Snapshot().RoomID
	assert.Equal(t, DrawerScore(1, 0), scoreOf(t, tb.store, roomID, host.self))
}

func TestFullGamePhaseOrder(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	actions := &recordingActions{}
	host := tb.player("host")
	host.actions = actions
	room, err := host.CreateRoom(ctx, models.Settings{Rounds: 2}, testWords)
	require.NoError(t, err)
	guest := tb.player("guest")
	require.NoError(t, guest.JoinRoom(ctx, room.Code))

	require.NoError(t, host.StartGame(ctx))
	waitPosition(t, Position{Round: 1, Phase: PhaseSelecting}, guest)
	require.NoError(t, host.SelectWord(ctx, waitOptions(t, host)[0]))
	waitPosition(t, Position{Round: 1, Phase: PhaseDrawing}, guest)
	require.NoError(t, host.EndRound(ctx))
	waitPosition(t, Position{Round: 1, Phase: PhaseSummary}, guest)

	require.NoError(t, host.ContinueToNextRound(ctx))
	waitPosition(t, Position{Round: 2, Phase: PhaseSelecting}, guest)
	require.Eventually(t, func() bool { return guest.Snapshot().IsDrawer }, waitFor, tick, "drawer rotates by join order")
	assert.ErrorIs(t, host.SelectWord(ctx, "apple"), ErrNotDrawer)
	require.NoError(t, guest.SelectWord(ctx, waitOptions(t, guest)[0]))
	waitPosition(t, Position{Round: 2, Phase: PhaseDrawing}, host)
	require.NoError(t, host.EndRound(ctx))
	waitPosition(t, Position{Round: 2, Phase: PhaseSummary}, guest)

	require.NoError(t, host.ContinueToNextRound(ctx))
	finished := Position{Round: 2, Phase: PhaseFinished}
	waitPosition(t, finished, host, guest)

	want := []Position{
		{Round: 1, Phase: PhaseSelecting},
		{Round: 1, Phase: PhaseDrawing},
		{Round: 1, Phase: PhaseSummary},
		{Round: 2, Phase: PhaseSelecting},
		{Round: 2, Phase: PhaseDrawing},
		{Round: 2, Phase: PhaseSummary},
		finished,
	}
	assert.Equal(t, want, positions(guest.History()))
	assert.Equal(t, want, positions(host.History()))

	stored, err := tb.store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomFinished, stored.Status)
	assert.Equal(t, 2, stored.CurrentRound)

	require.Eventually(t, func() bool {
		types := actions.types()
		for _, want := range []string{"room_create", "game_start", "word_selected", "round_end", "game_end"} {
			if !slices.Contains(types, want) {
				return false
			}
		}
		return true
	}, waitFor, tick)
}

func TestRunningOutOfWordsFinishesGame(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	players := tb.seat(2, models.Settings{Rounds: 3}, []string{"apple"})
	host, guest := players[0], players[1]

	require.NoError(t, host.StartGame(ctx))
	require.Equal(t, []string{"apple"}, waitOptions(t, host))
	require.NoError(t, host.SelectWord(ctx, "apple"))
	require.NoError(t, host.EndRound(ctx))

	require.NoError(t, host.ContinueToNextRound(ctx))
	assert.Equal(t, Position{Round: 1, Phase: PhaseFinished}, host.Position())
	waitPosition(t, Position{Round: 1, Phase: PhaseFinished}, guest)
	assert.Equal(t, models.RoomFinished, guest.Snapshot().Status)
}

func TestGuessAndRatingValidation(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	players := tb.seat(3, models.Settings{MaxGuessLength: 10}, testWords)
	host, b, c := players[0], players[1], players[2]

	_, err := b.SubmitGuess(ctx, "apple")
	assert.ErrorIs(t, err, ErrWrongPhase)
	assert.ErrorIs(t, b.RateDrawing(ctx, 3), ErrWrongPhase)

	require.NoError(t, host.StartGame(ctx))
	opts := waitOptions(t, host)
	waitPosition(t, Position{Round: 1, Phase: PhaseSelecting}, b)
	assert.ErrorIs(t, b.SelectWord(ctx, opts[0]), ErrNotDrawer)
	assert.ErrorIs(t, host.SelectWord(ctx, "not offered"), ErrInvalidOption)
	require.NoError(t, host.SelectWord(ctx, opts[0]))
	waitPosition(t, Position{Round: 1, Phase: PhaseDrawing}, players...)

	_, err = host.SubmitGuess(ctx, opts[0])
	assert.ErrorIs(t, err, ErrDrawerCannotGuess)
	_, err = b.SubmitGuess(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyGuess)
	_, err = b.SubmitGuess(ctx, strings.Repeat("ü", 11))
	assert.ErrorIs(t, err, ErrGuessTooLong)
	_, err = b.SubmitGuess(ctx, strings.Repeat("ü", 10))
	assert.NoError(t, err, "the limit counts characters, not bytes")

	assert.ErrorIs(t, b.RateDrawing(ctx, 0), ErrInvalidRating)
	assert.ErrorIs(t, b.RateDrawing(ctx, 6), ErrInvalidRating)
	assert.ErrorIs(t, host.RateDrawing(ctx, 5), ErrDrawerCannotRate)
	require.NoError(t, b.RateDrawing(ctx, 2))
	require.NoError(t, b.RateDrawing(ctx, 5), "rating again replaces the earlier one")

	_, err = b.SubmitGuess(ctx, opts[0])
	require.NoError(t, err)
	_, err = b.SubmitGuess(ctx, opts[0])
	assert.ErrorIs(t, err, ErrAlreadyGuessedCorrectly)
	assert.ErrorIs(t, b.SelectWord(ctx, opts[0]), ErrWrongPhase)

	require.Eventually(t, func() bool {
		for _, g := range c.Snapshot().Guesses {
			if g.UserID == b.self && g.IsCorrect {
				return g.Text == ""
			}
		}
		return false
	}, waitFor, tick, "a correct guess is hidden from other guessers while drawing")
	assert.Equal(t, Position{Round: 1, Phase: PhaseDrawing}, host.Position(), "one guesser is still missing")

	ratings, err := tb.store.ListRatings(ctx, currentRound(host).ID)
	require.NoError(t, err)
	require.Len(t, ratings, 1)
	assert.Equal(t, 5, ratings[0].Stars)
}

func TestSkipWordMovesToNextDrawer(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	players := tb.seat(2, models.Settings{Rounds: 3}, testWords)
	host, guest := players[0], players[1]

	require.NoError(t, host.StartGame(ctx))
	waitPosition(t, Position{Round: 1, Phase: PhaseSelecting}, guest)
	assert.ErrorIs(t, guest.SkipWord(ctx), ErrNotDrawer)
	require.NoError(t, host.SelectWord(ctx, waitOptions(t, host)[0]))
	waitPosition(t, Position{Round: 1, Phase: PhaseDrawing}, guest)
	skipped := currentRound(host)

	assert.ErrorIs(t, guest.SkipWord(ctx), ErrNotDrawer)
	require.NoError(t, host.SkipWord(ctx))

	next := Position{Round: 2, Phase: PhaseSelecting}
	assert.Equal(t, next, host.Position(), "a skipped round has no summary")
	waitPosition(t, next, guest)
	require.Eventually(t, func() bool {
		snap := guest.Snapshot()
		return snap.IsDrawer && len(snap.Options) > 0
	}, waitFor, tick)
	assert.NotContains(t, guest.Snapshot().Options, skipped.Word)

	rd, err := tb.store.GetRound(ctx, skipped.ID)
	require.NoError(t, err)
	assert.True(t, rd.Skipped)
	assert.False(t, rd.Active())
	assert.Zero(t, scoreOf(t, tb.store, host.Snapshot().RoomID, host.self))

	// A drawer who is not the host skips too; the host picks the next
	// selection up from the room row.
	require.NoError(t, guest.SelectWord(ctx, guest.Snapshot().Options[0]))
	waitPosition(t, Position{Round: 2, Phase: PhaseDrawing}, host)
	require.NoError(t, guest.SkipWord(ctx))
	third := Position{Round: 3, Phase: PhaseSelecting}
	waitPosition(t, third, host)
	require.Eventually(t, func() bool {
		snap := host.Snapshot()
		return snap.IsDrawer && slices.Equal(snap.Options, optionsOf(guest))
	}, waitFor, tick)
	require.NoError(t, host.SelectWord(ctx, host.Snapshot().Options[0]))
}

func TestSelectionStateOnlyFromHostOrDrawer(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	players := tb.seat(3, models.Settings{Rounds: 3, SelectSeconds: 15}, testWords)
	host, follower, intruder := players[0], players[1], players[2]

	require.NoError(t, host.StartGame(ctx))
	sel := Position{Round: 1, Phase: PhaseSelecting}
	waitPosition(t, sel, players...)
	offered := waitOptions(t, host)

	intruder.mu.Lock()
	ch := intruder.channel
	intruder.mu.Unlock()
	require.NoError(t, ch.Broadcast(ctx, realtime.StateMessage{
		Phase:         PhaseSelecting.String(),
		RoundNumber:   1,
		DrawerID:      intruder.self,
		Options:       []string{"hijacked"},
		SelectSeconds: 15,
	}))
	assert.Never(t, func() bool {
		return slices.Contains(optionsOf(host), "hijacked") || follower.Snapshot().DrawerID == intruder.self
	}, 100*time.Millisecond, tick)

	tb.clk.Advance(15 * time.Second)
	waitPosition(t, Position{Round: 1, Phase: PhaseDrawing}, players...)
	rd := currentRound(host)
	assert.Equal(t, host.self, rd.DrawerID)
	assert.Equal(t, offered[0], rd.Word)
}

func TestHostLeavingFinishesRoom(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	players := tb.seat(2, models.Settings{}, testWords)
	host, guest := players[0], players[1]
	roomID := host.Snapshot().RoomID

	require.NoError(t, host.Leave(ctx))
	assert.ErrorIs(t, host.Leave(ctx), ErrNotInRoom)

	waitPosition(t, Position{Phase: PhaseFinished}, guest)
	stored, err := tb.store.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomFinished, stored.Status)
	parts, err := tb.store.ListParticipants(ctx, roomID)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, guest.self, parts[0].UserID)
}

func TestPollingFallbackAfterChannelGivesUp(t *testing.T) {
	tb := newTable(t)
	ctx := context.Background()
	host := tb.player("host")
	room, err := host.CreateRoom(ctx, models.Settings{}, testWords)
	require.NoError(t, err)

	tb.bus.FailNextJoins(4)
	guest := tb.player("guest")
	require.NoError(t, guest.JoinRoom(ctx, room.Code))
	assert.False(t, guest.Polling())

	tb.clk.Advance(1 * time.Second)
	tb.clk.Advance(2 * time.Second)
	tb.clk.Advance(3 * time.Second)
	require.True(t, guest.Polling(), "retries are exhausted")
	assert.Equal(t, realtime.StatusDisconnected, guest.Snapshot().Connection)

	require.NoError(t, host.StartGame(ctx))
	assert.Equal(t, PhaseWaiting, guest.Position().Phase, "no signal reaches the guest")

	tb.clk.Advance(3 * time.Second)
	waitPosition(t, Position{Round: 1, Phase: PhaseSelecting}, guest)
	assert.Equal(t, host.self, guest.Snapshot().DrawerID)

	require.NoError(t, host.SelectWord(ctx, waitOptions(t, host)[0]))
	tb.clk.Advance(3 * time.Second)
	waitPosition(t, Position{Round: 1, Phase: PhaseDrawing}, guest)

	// The next drawer learns about its selection from the room row alone.
	require.NoError(t, host.EndRound(ctx))
	require.NoError(t, host.ContinueToNextRound(ctx))
	tb.clk.Advance(3 * time.Second)
	waitPosition(t, Position{Round: 2, Phase: PhaseSelecting}, guest)
	snap := guest.Snapshot()
	assert.True(t, snap.IsDrawer)
	require.NotEmpty(t, snap.Options)
	assert.Equal(t, optionsOf(host), snap.Options)
	require.NoError(t, guest.SelectWord(ctx, snap.Options[0]))
	assert.Equal(t, Position{Round: 2, Phase: PhaseDrawing}, guest.Position())

	require.NoError(t, guest.Leave(ctx))
	assert.False(t, guest.Polling())
}
