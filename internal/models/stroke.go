// internal/models/stroke.go
package models

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// Tool is the drawing instrument of a stroke.
type Tool string

const (
	ToolPen    Tool = "pen"
	ToolEraser Tool = "eraser"
)

// Valid reports whether t is a known tool.
func (t Tool) Valid() bool {
	return t == ToolPen || t == ToolEraser
}

// Point is a single canvas sample.
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Stroke is a transient freehand stroke. Strokes are replicated, never persisted.
type Stroke struct {
	ID        string    `json:"id"`
	AuthorID  uuid.UUID `json:"author_id"`
	Tool      Tool      `json:"tool"`
	Color     string    `json:"color"`
	Width     float32   `json:"width"`
	Points    []Point   `json:"points"`
	Timestamp int64     `json:"timestamp"`
}

// NewStrokeID builds a client-side stroke id from the current time and a random suffix.
func NewStrokeID(now time.Time) string {
	return fmt.Sprintf("%d-%06x", now.UnixMilli(), rand.IntN(1<<24))
}

// Clone returns a deep copy so the point slice can be handed to another goroutine.
func (s Stroke) Clone() Stroke {
	c := s
	c.Points = append([]Point(nil), s.Points...)
	return c
}
