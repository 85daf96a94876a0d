// Package drawing replicates freehand strokes over a room channel. Local input
// is applied to the canvas immediately; network sends are throttled.
package drawing

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/models"
)

type strokeKey struct {
	author uuid.UUID
	id     string
}

// Canvas is the set of strokes currently on screen, in first-seen order.
// Stroke ids are only unique per author, so strokes are keyed by both.
type Canvas struct {
	mu      sync.RWMutex
	index   map[strokeKey]int
	strokes []models.Stroke
}

func NewCanvas() *Canvas {
	return &Canvas{index: make(map[strokeKey]int)}
}

// Apply inserts s or replaces an earlier copy of it. A copy with no more points
// than the one already held is a redelivery and is ignored. Apply reports
// whether the canvas changed.
func (c *Canvas) Apply(s models.Stroke) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := strokeKey{author: s.AuthorID, id: s.ID}
	if i, ok := c.index[k]; ok {
		if len(s.Points) <= len(c.strokes[i].Points) {
			return false
		}
		c.strokes[i] = s.Clone()
		return true
	}
	c.index[k] = len(c.strokes)
	c.strokes = append(c.strokes, s.Clone())
	return true
}

// Clear wipes every stroke.
func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[strokeKey]int)
	c.strokes = nil
}

// Strokes returns a copy of the canvas contents in draw order.
func (c *Canvas) Strokes() []models.Stroke {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Stroke, len(c.strokes))
	for i, s := range c.strokes {
		out[i] = s.Clone()
	}
	return out
}

func (c *Canvas) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.strokes)
}
