package game

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestGuessScoreByRank(t *testing.T) {
	cases := map[int]int{0: 100, 1: 90, 2: 80, 5: 50, 8: 20, 9: 10, 10: 10, 25: 10}
	for rank, want := range cases {
		assert.Equal(t, want, GuessScore(rank), "rank %d", rank)
	}
}

func TestDrawerScore(t *testing.T) {
	assert.Equal(t, 44, DrawerScore(2, 4.0))
	assert.Equal(t, 0, DrawerScore(0, 5.0), "nobody guessed")
	assert.Equal(t, 10, DrawerScore(1, 0))
	assert.Equal(t, 36, DrawerScore(1, 4.25), "25.5 rounds up")
	assert.Equal(t, 30+17, DrawerScore(3, 2.8))
}

func TestAverageRating(t *testing.T) {
	assert.Zero(t, AverageRating(nil))
	assert.InDelta(t, 3.5, AverageRating([]models.Rating{{Stars: 3}, {Stars: 4}}), 1e-9)
}

func TestRankings(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	parts := []models.Participant{
		{UserID: c, Name: "c", Score: 90, JoinedAt: t0.Add(2 * time.Second)},
		{UserID: a, Name: "a", Score: 44, JoinedAt: t0},
		{UserID: b, Name: "b", Score: 90, JoinedAt: t0.Add(time.Second)},
		{UserID: d, Name: "d", Score: 100, JoinedAt: t0.Add(3 * time.Second)},
	}

	got := Rankings(parts)
	assert.Equal(t, []Ranking{
		{UserID: d, Name: "d", Score: 100, Rank: 1},
		{UserID: b, Name: "b", Score: 90, Rank: 2},
		{UserID: c, Name: "c", Score: 90, Rank: 3},
		{UserID: a, Name: "a", Score: 44, Rank: 4},
	}, got)
	assert.Equal(t, c, parts[0].UserID, "input is not reordered")
	assert.Empty(t, Rankings(nil))
}
