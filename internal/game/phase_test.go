package game

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestPositionOrder(t *testing.T) {
	order := []Position{
		{Phase: PhaseWaiting},
		{Round: 1, Phase: PhaseSelecting},
		{Round: 1, Phase: PhaseDrawing},
		{Round: 1, Phase: PhaseSummary},
		{Round: 2, Phase: PhaseSelecting},
		{Round: 2, Phase: PhaseDrawing},
		{Round: 2, Phase: PhaseSummary},
		{Round: 2, Phase: PhaseFinished},
	}
	for i := 1; i < len(order); i++ {
		assert.True(t, order[i].After(order[i-1]), "%v after %v", order[i], order[i-1])
		assert.False(t, order[i-1].After(order[i]))
		assert.False(t, order[i].After(order[i]), "a position is never after itself")
	}
	assert.True(t, Position{Round: 1, Phase: PhaseFinished}.After(Position{Round: 9, Phase: PhaseSummary}))
}

func TestDerivePosition(t *testing.T) {
	ended := time.Now()
	room := models.Room{Status: models.RoomPlaying, CurrentRound: 2, CurrentDrawerID: uuid.New()}

	assert.Equal(t, Position{Phase: PhaseWaiting}, derivePosition(models.Room{Status: models.RoomWaiting}, nil))
	assert.Equal(t, Position{Round: 2, Phase: PhaseFinished}, derivePosition(models.Room{Status: models.RoomFinished, CurrentRound: 2}, nil))
	assert.Equal(t, Position{Round: 1, Phase: PhaseSelecting}, derivePosition(models.Room{Status: models.RoomPlaying}, nil))
	assert.Equal(t, Position{Round: 2, Phase: PhaseDrawing}, derivePosition(room, &models.Round{Number: 2}))
	assert.Equal(t, Position{Round: 2, Phase: PhaseSummary}, derivePosition(room, &models.Round{Number: 2, EndedAt: &ended}))
	assert.Equal(t, Position{Round: 3, Phase: PhaseSelecting}, derivePosition(room, &models.Round{Number: 2, EndedAt: &ended, Skipped: true}))

	opened := room
	opened.SelectionRound = 3
	assert.Equal(t, Position{Round: 3, Phase: PhaseSelecting}, derivePosition(opened, &models.Round{Number: 2, EndedAt: &ended}))
	opened.SelectionRound = 2
	assert.Equal(t, Position{Round: 2, Phase: PhaseSummary}, derivePosition(opened, &models.Round{Number: 2, EndedAt: &ended}),
		"a selection already turned into a round is closed")
}

func TestArbiter(t *testing.T) {
	host, other := uuid.New(), uuid.New()

	a := NewArbiter(host, host)
	assert.True(t, a.IsHost())
	assert.NoError(t, a.Authorize(ScopeTimeout))
	assert.NoError(t, a.Authorize(ScopeLifecycle))

	b := NewArbiter(host, other)
	assert.False(t, b.IsHost())
	assert.NoError(t, b.Authorize(ScopeSelf))
	assert.ErrorIs(t, b.Authorize(ScopeTimeout), ErrNotHost)
	assert.ErrorIs(t, b.Authorize(ScopeLifecycle), ErrNotHost)

	assert.False(t, NewArbiter(uuid.Nil, uuid.Nil).IsHost())
}
