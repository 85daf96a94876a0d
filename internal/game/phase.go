package game

import (
	"math"
	"time"
)

// Phase is a client's view of where the room is in its round cycle.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseSelecting
	PhaseDrawing
	PhaseSummary
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseSelecting:
		return "selecting"
	case PhaseDrawing:
		return "drawing"
	case PhaseSummary:
		return "summary"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Position is a phase within a numbered round. Round is the number of the round
// being selected, drawn or summarized.
type Position struct {
	Round int
	Phase Phase
}

// ordinal orders positions along the game timeline.
func (p Position) ordinal() int {
	switch p.Phase {
	case PhaseWaiting:
		return 0
	case PhaseFinished:
		return math.MaxInt
	default:
		return p.Round*4 + int(p.Phase)
	}
}

// After reports whether p is strictly later than q.
func (p Position) After(q Position) bool {
	return p.ordinal() > q.ordinal()
}

// Transition is one accepted phase change, recorded in order.
type Transition struct {
	Position
	At time.Time
}
