package drawing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestCanvasKeepsLongestCopy(t *testing.T) {
	c := NewCanvas()
	author := uuid.New()
	short := models.Stroke{ID: "1-a", AuthorID: author, Points: []models.Point{{X: 1}}}
	long := models.Stroke{ID: "1-a", AuthorID: author, Points: []models.Point{{X: 1}, {X: 2}}}

	assert.True(t, c.Apply(short))
	assert.True(t, c.Apply(long))
	assert.False(t, c.Apply(short), "a stale copy does not shrink the stroke")
	assert.False(t, c.Apply(long))
	assert.Len(t, c.Strokes()[0].Points, 2)
}

func TestCanvasSameIDDifferentAuthors(t *testing.T) {
	c := NewCanvas()
	c.Apply(models.Stroke{ID: "1-a", AuthorID: uuid.New(), Points: []models.Point{{X: 1}}})
	c.Apply(models.Stroke{ID: "1-a", AuthorID: uuid.New(), Points: []models.Point{{X: 1}}})
	assert.Equal(t, 2, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())
	assert.True(t, c.Apply(models.Stroke{ID: "1-a", AuthorID: uuid.New()}))
}

func TestCanvasStrokesAreCopies(t *testing.T) {
	c := NewCanvas()
	s := models.Stroke{ID: "1-a", AuthorID: uuid.New(), Points: []models.Point{{X: 1}}}
	c.Apply(s)
	s.Points[0].X = 99

	out := c.Strokes()
	out[0].Points[0].Y = 42
	assert.Equal(t, models.Point{X: 1}, c.Strokes()[0].Points[0])
}
