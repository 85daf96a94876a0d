package countdown

import "github.com/jason-s-yu/drawguess/internal/clock"

// Phase names one of the three timed phases of a round.
type Phase int

const (
	Selection Phase = iota
	Drawing
	Summary
)

func (p Phase) String() string {
	switch p {
	case Selection:
		return "selection"
	case Drawing:
		return "drawing"
	case Summary:
		return "summary"
	default:
		return "unknown"
	}
}

// Scheduler owns one independent countdown per phase.
type Scheduler struct {
	timers [3]*Countdown
}

// NewScheduler builds the three phase countdowns on clk.
func NewScheduler(clk clock.Clock) *Scheduler {
	s := &Scheduler{}
	for i := range s.timers {
		s.timers[i] = New(clk)
	}
	return s
}

// Get returns the countdown for p.
func (s *Scheduler) Get(p Phase) *Countdown {
	return s.timers[p]
}

func (s *Scheduler) Start(p Phase, seconds int, onExpire func()) {
	s.timers[p].Start(seconds, onExpire)
}

func (s *Scheduler) Stop(p Phase) {
	s.timers[p].Stop()
}

// StopAll cancels every phase countdown, e.g. on leave.
func (s *Scheduler) StopAll() {
	for _, t := range s.timers {
		t.Stop()
	}
}

func (s *Scheduler) Remaining(p Phase) int {
	return s.timers[p].Remaining()
}

func (s *Scheduler) Running(p Phase) bool {
	return s.timers[p].Running()
}
