package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoomWithPlayers(t *testing.T, m *Memory, n int) (models.Room, []uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	host := uuid.New()
	room, err := m.CreateRoom(ctx, models.Room{Code: "123456", HostID: host, Settings: models.DefaultSettings()})
	require.NoError(t, err)
	ids := []uuid.UUID{host}
	for i := 1; i < n; i++ {
		ids = append(ids, uuid.New())
	}
	for _, id := range ids {
		_, err := m.AddParticipant(ctx, models.Participant{RoomID: room.ID, UserID: id, Name: id.String()[:4]})
		require.NoError(t, err)
	}
	return room, ids
}

func TestCreateRoomRejectsDuplicateCode(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, err := m.CreateRoom(ctx, models.Room{Code: "111111"})
	require.NoError(t, err)
	_, err = m.CreateRoom(ctx, models.Room{Code: "111111"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestParticipantsKeepJoinOrder(t *testing.T) {
	m := NewMemory()
	room, ids := newRoomWithPlayers(t, m, 4)
	list, err := m.ListParticipants(context.Background(), room.ID)
	require.NoError(t, err)
	require.Len(t, list, 4)
	for i, p := range list {
		assert.Equal(t, ids[i], p.UserID)
	}

	require.NoError(t, m.RemoveParticipant(context.Background(), room.ID, ids[1]))
	list, _ = m.ListParticipants(context.Background(), room.ID)
	assert.Equal(t, []uuid.UUID{ids[0], ids[2], ids[3]}, []uuid.UUID{list[0].UserID, list[1].UserID, list[2].UserID})
}

func TestAtMostOneActiveRound(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	room, ids := newRoomWithPlayers(t, m, 2)

	rd, err := m.CreateRound(ctx, models.Round{RoomID: room.ID, Number: 1, DrawerID: ids[0], Word: "cat", Status: models.RoundDrawing})
	require.NoError(t, err)

	_, err = m.CreateRound(ctx, models.Round{RoomID: room.ID, Number: 2, DrawerID: ids[1], Word: "dog", Status: models.RoundDrawing})
	assert.ErrorIs(t, err, ErrActiveRound)

	updated, err := m.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.CurrentRound)
	assert.Equal(t, ids[0], updated.CurrentDrawerID)

	_, err = m.EndRound(ctx, rd.ID, models.RoundSummary, false, time.Now())
	require.NoError(t, err)
	_, err = m.CreateRound(ctx, models.Round{RoomID: room.ID, Number: 1, DrawerID: ids[1], Word: "dog", Status: models.RoundDrawing})
	assert.ErrorIs(t, err, ErrStaleTransition, "round numbers must advance")
	_, err = m.CreateRound(ctx, models.Round{RoomID: room.ID, Number: 2, DrawerID: ids[1], Word: "dog", Status: models.RoundDrawing})
	assert.NoError(t, err)
}

func TestSetSelectionOpensTheNextRound(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	room, ids := newRoomWithPlayers(t, m, 2)

	assert.ErrorIs(t, m.SetSelection(ctx, room.ID, 1, ids[0], []string{"cat"}), ErrStaleTransition, "room is still waiting")
	require.NoError(t, m.SetRoomStatus(ctx, room.ID, models.RoomWaiting, models.RoomPlaying))
	assert.ErrorIs(t, m.SetSelection(ctx, room.ID, 2, ids[0], []string{"cat"}), ErrStaleTransition)
	assert.ErrorIs(t, m.SetSelection(ctx, uuid.New(), 1, ids[0], nil), ErrNotFound)

	require.NoError(t, m.SetSelection(ctx, room.ID, 1, ids[0], []string{"cat", "dog"}))
	require.NoError(t, m.SetSelection(ctx, room.ID, 1, ids[0], []string{"owl", "emu"}), "re-roll")
	got, err := m.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, got.SelectionOpen())
	assert.Equal(t, 1, got.SelectionRound)
	assert.Equal(t, []string{"owl", "emu"}, got.SelectionOptions)
	assert.Equal(t, ids[0], got.CurrentDrawerID)

	_, err = m.CreateRound(ctx, models.Round{RoomID: room.ID, Number: 1, DrawerID: ids[0], Word: "owl", Status: models.RoundDrawing})
	require.NoError(t, err)
	got, _ = m.GetRoom(ctx, room.ID)
	assert.False(t, got.SelectionOpen())
	assert.ErrorIs(t, m.SetSelection(ctx, room.ID, 1, ids[1], []string{"cat"}), ErrStaleTransition, "round 1 already started")
}

func TestConcurrentCreateRoundOnlyOneWins(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	room, ids := newRoomWithPlayers(t, m, 2)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.CreateRound(ctx, models.Round{RoomID: room.ID, Number: 1, DrawerID: ids[0], Word: "cat", Status: models.RoundDrawing})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestEndRoundIsCompareAndSet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	room, ids := newRoomWithPlayers(t, m, 2)
	rd, err := m.CreateRound(ctx, models.Round{RoomID: room.ID, Number: 1, DrawerID: ids[0], Word: "cat", Status: models.RoundDrawing})
	require.NoError(t, err)

	ended, err := m.EndRound(ctx, rd.ID, models.RoundSummary, false, time.Now())
	require.NoError(t, err)
	assert.False(t, ended.Active())
	assert.Equal(t, models.RoundSummary, ended.Status)

	_, err = m.EndRound(ctx, rd.ID, models.RoundSummary, false, time.Now())
	assert.ErrorIs(t, err, ErrStaleTransition)
}

func TestAddGuessRanksCorrectGuesses(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	room, ids := newRoomWithPlayers(t, m, 4)
	rd, err := m.CreateRound(ctx, models.Round{RoomID: room.ID, Number: 1, DrawerID: ids[0], Word: "cat", Status: models.RoundDrawing})
	require.NoError(t, err)
	scorer := func(rank int) int { return 100 - 10*rank }

	wrong, err := m.AddGuess(ctx, models.Guess{RoundID: rd.ID, UserID: ids[1], Text: "dog"}, scorer)
	require.NoError(t, err)
	assert.Equal(t, 0, wrong.ScoreEarned)

	first, err := m.AddGuess(ctx, models.Guess{RoundID: rd.ID, UserID: ids[2], Text: "cat", IsCorrect: true}, scorer)
	require.NoError(t, err)
	second, err := m.AddGuess(ctx, models.Guess{RoundID: rd.ID, UserID: ids[1], Text: "cat", IsCorrect: true}, scorer)
	require.NoError(t, err)
	assert.Equal(t, 100, first.ScoreEarned)
	assert.Equal(t, 90, second.ScoreEarned)

	_, err = m.AddGuess(ctx, models.Guess{RoundID: rd.ID, UserID: ids[2], Text: "cat", IsCorrect: true}, scorer)
	assert.ErrorIs(t, err, ErrDuplicateCorrectGuess)

	list, err := m.ListGuesses(ctx, rd.ID)
	require.NoError(t, err)
	assert.Len(t, list, 3)
	assert.True(t, list[0].GuessedAt.Before(list[1].GuessedAt))

	_, err = m.EndRound(ctx, rd.ID, models.RoundSummary, false, time.Now())
	require.NoError(t, err)
	_, err = m.AddGuess(ctx, models.Guess{RoundID: rd.ID, UserID: ids[3], Text: "cat", IsCorrect: true}, scorer)
	assert.ErrorIs(t, err, ErrRoundClosed)
}

func TestUpsertRatingOncePerRater(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	room, ids := newRoomWithPlayers(t, m, 3)
	rd, err := m.CreateRound(ctx, models.Round{RoomID: room.ID, Number: 1, DrawerID: ids[0], Word: "cat", Status: models.RoundDrawing})
	require.NoError(t, err)

	require.NoError(t, m.UpsertRating(ctx, models.Rating{RoundID: rd.ID, RaterID: ids[1], DrawerID: ids[0], Stars: 2}))
	require.NoError(t, m.UpsertRating(ctx, models.Rating{RoundID: rd.ID, RaterID: ids[1], DrawerID: ids[0], Stars: 5}))
	require.NoError(t, m.UpsertRating(ctx, models.Rating{RoundID: rd.ID, RaterID: ids[2], DrawerID: ids[0], Stars: 3}))

	ratings, err := m.ListRatings(ctx, rd.ID)
	require.NoError(t, err)
	require.Len(t, ratings, 2)
	total := 0
	for _, r := range ratings {
		total += r.Stars
	}
	assert.Equal(t, 8, total)
}

func TestApplyScoreIsIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	room, ids := newRoomWithPlayers(t, m, 2)

	applied, err := m.ApplyScore(ctx, "drawer:abc", room.ID, ids[0], 44)
	require.NoError(t, err)
	assert.True(t, applied)
	applied, err = m.ApplyScore(ctx, "drawer:abc", room.ID, ids[0], 44)
	require.NoError(t, err)
	assert.False(t, applied)

	list, _ := m.ListParticipants(ctx, room.ID)
	assert.Equal(t, 44, list[0].Score)
}

func TestWatchEmitsChanges(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed := m.Watch(ctx)

	room, err := m.CreateRoom(context.Background(), models.Room{Code: "424242"})
	require.NoError(t, err)

	select {
	case c := <-feed:
		assert.Equal(t, models.TableRooms, c.Table)
		assert.Equal(t, "424242", c.RoomCode)
		assert.Equal(t, room.ID, c.RoomID)
	case <-time.After(time.Second):
		t.Fatal("no change emitted")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-feed
		return !open
	}, time.Second, 10*time.Millisecond)
}
