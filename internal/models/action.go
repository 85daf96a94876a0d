package models

import "github.com/google/uuid"

// RoundAction is one entry of a room's append-only action log, consumed by the historian.
type RoundAction struct {
	RoomID      uuid.UUID              `json:"room_id"`
	ActionIndex int                    `json:"action_index"`
	ActorID     uuid.UUID              `json:"actor_id"`
	ActionType  string                 `json:"action_type"`
	Payload     map[string]interface{} `json:"payload"`
	Timestamp   int64                  `json:"timestamp"`
}
