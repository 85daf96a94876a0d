package game

import (
	"context"
	"time"

	"github.com/jason-s-yu/drawguess/internal/models"
)

// ActionLogger receives the room's append-only action log. The Redis-backed
// implementation feeds the historian.
type ActionLogger interface {
	LogAction(ctx context.Context, action models.RoundAction) error
}

// logActionLocked records an action this client committed. Publishing is
// asynchronous and failures are only logged. Assumes lock is held.
func (s *Session) logActionLocked(actionType string, payload map[string]interface{}) {
	if s.actions == nil {
		return
	}
	s.actionIndex[s.room.ID]++
	if payload == nil {
		payload = make(map[string]interface{})
	}
	action := models.RoundAction{
		RoomID:      s.room.ID,
		ActionIndex: s.actionIndex[s.room.ID],
		ActorID:     s.self,
		ActionType:  actionType,
		Payload:     payload,
		Timestamp:   s.clk.Now().UnixMilli(),
	}
	code, sink := s.room.Code, s.actions
	go func(a models.RoundAction) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := sink.LogAction(ctx, a); err != nil {
			s.log.Warnf("Room %s: publishing action %d (%s) failed: %v", code, a.ActionIndex, a.ActionType, err)
		}
	}(action)
}
