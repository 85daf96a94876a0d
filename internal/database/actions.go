package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/drawguess/internal/models"
)

// RecordActions persists a batch of action log entries in one transaction.
// Entries already recorded are skipped.
func (s *Store) RecordActions(ctx context.Context, actions []models.RoundAction) error {
	if len(actions) == 0 {
		return nil
	}
	q := `
	INSERT INTO round_actions (room_id, actor_id, action_index, action_type, payload, ts)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (room_id, actor_id, action_index) DO NOTHING
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, a := range actions {
			payload, err := json.Marshal(a.Payload)
			if err != nil {
				return fmt.Errorf("encode payload of action %d: %w", a.ActionIndex, err)
			}
			batch.Queue(q, a.RoomID, a.ActorID, a.ActionIndex, a.ActionType, payload, a.Timestamp)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert actions: %w", err)
		}
		return nil
	})
}

// AbandonRoom finishes a room that is still being played. It reports whether
// the room changed.
func (s *Store) AbandonRoom(ctx context.Context, roomID uuid.UUID) (bool, error) {
	var changed bool
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE rooms SET status = 'finished' WHERE id = $1 AND status = 'playing'`, roomID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		changed = true
		_, err = tx.Exec(ctx,
			`UPDATE rounds SET ended_at = now(), status = 'summary', skipped = true WHERE room_id = $1 AND ended_at IS NULL`,
			roomID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("abandon room %s: %w", roomID, err)
	}
	return changed, nil
}
