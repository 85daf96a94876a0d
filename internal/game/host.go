package game

import "github.com/google/uuid"

// Scope classifies an action by who may commit it.
type Scope int

const (
	// ScopeSelf covers actions on the caller's own rows: guesses, ratings,
	// joining and leaving, and the drawer's word choice.
	ScopeSelf Scope = iota
	// ScopeTimeout covers transitions fired by a countdown.
	ScopeTimeout
	// ScopeLifecycle covers starting, advancing and ending rounds and games.
	ScopeLifecycle
)

// Arbiter decides whether the local client may commit an action. Exactly one
// participant, the room creator, commits time-driven and lifecycle transitions;
// every other client only follows.
type Arbiter struct {
	hostID  uuid.UUID
	localID uuid.UUID
}

// NewArbiter returns the arbiter of localID in a room hosted by hostID.
func NewArbiter(hostID, localID uuid.UUID) Arbiter {
	return Arbiter{hostID: hostID, localID: localID}
}

func (a Arbiter) IsHost() bool {
	return a.hostID != uuid.Nil && a.hostID == a.localID
}

func (a Arbiter) Authorize(scope Scope) error {
	if scope == ScopeSelf || a.IsHost() {
		return nil
	}
	return ErrNotHost
}
