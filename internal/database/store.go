package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/drawguess/internal/models"
	"github.com/jason-s-yu/drawguess/internal/store"
)

// Postgres error codes mapped to store errors.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Store implements store.Store on Postgres. Compare-and-set transitions are
// conditional updates; ranking and idempotent scoring run in transactions.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type scanner interface {
	Scan(dest ...any) error
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func pgConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

func nullUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: id != uuid.Nil}
}

const roomColumns = `id, code, host_id, status, current_round, current_drawer_id, settings, words, created_at,
	selection_round, selection_options`

func scanRoom(row scanner) (models.Room, error) {
	var (
		r        models.Room
		status   string
		drawer   pgtype.UUID
		settings []byte
	)
	if err := row.Scan(&r.ID, &r.Code, &r.HostID, &status, &r.CurrentRound, &drawer, &settings, &r.Words, &r.CreatedAt,
		&r.SelectionRound, &r.SelectionOptions); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Room{}, store.ErrNotFound
		}
		return models.Room{}, err
	}
	r.Status = models.RoomStatus(status)
	if drawer.Valid {
		r.CurrentDrawerID = drawer.Bytes
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &r.Settings); err != nil {
			return models.Room{}, fmt.Errorf("decode settings of room %s: %w", r.Code, err)
		}
	}
	return r, nil
}

func (s *Store) CreateRoom(ctx context.Context, room models.Room) (models.Room, error) {
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	if room.Status == "" {
		room.Status = models.RoomWaiting
	}
	if room.Words == nil {
		room.Words = []string{}
	}
	settings, err := json.Marshal(room.Settings)
	if err != nil {
		return models.Room{}, fmt.Errorf("encode settings: %w", err)
	}

	q := `
	INSERT INTO rooms (id, code, host_id, status, current_round, current_drawer_id, settings, words)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING created_at
	`
	err = s.pool.QueryRow(ctx, q,
		room.ID, room.Code, room.HostID, string(room.Status), room.CurrentRound,
		nullUUID(room.CurrentDrawerID), settings, room.Words,
	).Scan(&room.CreatedAt)
	if err != nil {
		if pgCode(err) == uniqueViolation {
			return models.Room{}, store.ErrConflict
		}
		return models.Room{}, fmt.Errorf("insert room: %w", err)
	}
	return room, nil
}

func (s *Store) GetRoom(ctx context.Context, id uuid.UUID) (models.Room, error) {
	return scanRoom(s.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
}

func (s *Store) GetRoomByCode(ctx context.Context, code string) (models.Room, error) {
	return scanRoom(s.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE code = $1`, code))
}

func (s *Store) roomExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rooms WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

func (s *Store) SetRoomStatus(ctx context.Context, roomID uuid.UUID, from, to models.RoomStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rooms SET status = $3 WHERE id = $1 AND status = $2`,
		roomID, string(from), string(to))
	if err != nil {
		return fmt.Errorf("update room status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	ok, err := s.roomExists(ctx, roomID)
	if err != nil {
		return fmt.Errorf("check room: %w", err)
	}
	if !ok {
		return store.ErrNotFound
	}
	return store.ErrStaleTransition
}

func (s *Store) SetSelection(ctx context.Context, roomID uuid.UUID, round int, drawerID uuid.UUID, options []string) error {
	if options == nil {
		options = []string{}
	}
	q := `
	UPDATE rooms
	SET current_drawer_id = $3, selection_round = $2, selection_options = $4
	WHERE id = $1 AND status = 'playing' AND current_round = $2 - 1
	`
	tag, err := s.pool.Exec(ctx, q, roomID, round, nullUUID(drawerID), options)
	if err != nil {
		return fmt.Errorf("update selection: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	ok, err := s.roomExists(ctx, roomID)
	if err != nil {
		return fmt.Errorf("check room: %w", err)
	}
	if !ok {
		return store.ErrNotFound
	}
	return store.ErrStaleTransition
}

func (s *Store) AddParticipant(ctx context.Context, p models.Participant) (models.Participant, error) {
	q := `
	INSERT INTO participants (room_id, user_id, name, score)
	VALUES ($1, $2, $3, $4)
	RETURNING joined_at
	`
	err := s.pool.QueryRow(ctx, q, p.RoomID, p.UserID, p.Name, p.Score).Scan(&p.JoinedAt)
	if err != nil {
		switch pgCode(err) {
		case uniqueViolation:
			return models.Participant{}, store.ErrConflict
		case foreignKeyViolation:
			return models.Participant{}, store.ErrNotFound
		}
		return models.Participant{}, fmt.Errorf("insert participant: %w", err)
	}
	return p, nil
}

func (s *Store) RemoveParticipant(ctx context.Context, roomID, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM participants WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	if err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListParticipants(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error) {
	rows, err := s.pool.Query(ctx, `
	SELECT room_id, user_id, name, score, joined_at
	FROM participants
	WHERE room_id = $1
	ORDER BY seq
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Participant, error) {
		var p models.Participant
		err := row.Scan(&p.RoomID, &p.UserID, &p.Name, &p.Score, &p.JoinedAt)
		return p, err
	})
}

const roundColumns = `id, room_id, round_number, drawer_id, word, status, skipped, started_at, ended_at`

func scanRound(row scanner) (models.Round, error) {
	var (
		rd     models.Round
		status string
	)
	if err := row.Scan(&rd.ID, &rd.RoomID, &rd.Number, &rd.DrawerID, &rd.Word, &status, &rd.Skipped, &rd.StartedAt, &rd.EndedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Round{}, store.ErrNotFound
		}
		return models.Round{}, err
	}
	rd.Status = models.RoundStatus(status)
	return rd, nil
}

func (s *Store) CreateRound(ctx context.Context, round models.Round) (models.Round, error) {
	if round.ID == uuid.Nil {
		round.ID = uuid.New()
	}
	round.EndedAt = nil

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var current int
		err := tx.QueryRow(ctx, `SELECT current_round FROM rooms WHERE id = $1 FOR UPDATE`, round.RoomID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}

		var active bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM rounds WHERE room_id = $1 AND ended_at IS NULL)`,
			round.RoomID).Scan(&active); err != nil {
			return err
		}
		if active {
			return store.ErrActiveRound
		}
		if round.Number != current+1 {
			return store.ErrStaleTransition
		}

		q := `
		INSERT INTO rounds (id, room_id, round_number, drawer_id, word, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING started_at
		`
		if err := tx.QueryRow(ctx, q,
			round.ID, round.RoomID, round.Number, round.DrawerID, round.Word, string(round.Status),
		).Scan(&round.StartedAt); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE rooms SET current_round = $2, current_drawer_id = $3 WHERE id = $1`,
			round.RoomID, round.Number, round.DrawerID)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrActiveRound), errors.Is(err, store.ErrStaleTransition):
			return models.Round{}, err
		case pgCode(err) == uniqueViolation && pgConstraint(err) == "rounds_one_active":
			return models.Round{}, store.ErrActiveRound
		case pgCode(err) == uniqueViolation:
			return models.Round{}, store.ErrStaleTransition
		}
		return models.Round{}, fmt.Errorf("create round: %w", err)
	}
	return round, nil
}

func (s *Store) GetRound(ctx context.Context, id uuid.UUID) (models.Round, error) {
	return scanRound(s.pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id))
}

func (s *Store) LatestRound(ctx context.Context, roomID uuid.UUID) (models.Round, error) {
	return scanRound(s.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE room_id = $1 ORDER BY round_number DESC LIMIT 1`, roomID))
}

func (s *Store) ListRounds(ctx context.Context, roomID uuid.UUID) ([]models.Round, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE room_id = $1 ORDER BY round_number`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Round, error) {
		return scanRound(row)
	})
}

func (s *Store) EndRound(ctx context.Context, roundID uuid.UUID, status models.RoundStatus, skipped bool, endedAt time.Time) (models.Round, error) {
	q := `
	UPDATE rounds SET ended_at = $2, status = $3, skipped = $4
	WHERE id = $1 AND ended_at IS NULL
	RETURNING ` + roundColumns
	rd, err := scanRound(s.pool.QueryRow(ctx, q, roundID, endedAt, string(status), skipped))
	if !errors.Is(err, store.ErrNotFound) {
		if err != nil {
			return models.Round{}, fmt.Errorf("end round: %w", err)
		}
		return rd, nil
	}
	if _, err := s.GetRound(ctx, roundID); err != nil {
		return models.Round{}, err
	}
	return models.Round{}, store.ErrStaleTransition
}

// AddGuess locks the round row so correct guesses are ranked in commit order.
func (s *Store) AddGuess(ctx context.Context, g models.Guess, scorer store.Scorer) (models.Guess, error) {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	g.ScoreEarned = 0

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var (
			status string
			ended  *time.Time
		)
		err := tx.QueryRow(ctx, `SELECT status, ended_at FROM rounds WHERE id = $1 FOR UPDATE`, g.RoundID).Scan(&status, &ended)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		if ended != nil || models.RoundStatus(status) != models.RoundDrawing {
			return store.ErrRoundClosed
		}

		if g.IsCorrect {
			rows, err := tx.Query(ctx,
				`SELECT user_id FROM guesses WHERE round_id = $1 AND is_correct ORDER BY seq`, g.RoundID)
			if err != nil {
				return err
			}
			earlier, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
			if err != nil {
				return err
			}
			for _, u := range earlier {
				if u == g.UserID {
					return store.ErrDuplicateCorrectGuess
				}
			}
			if scorer != nil {
				g.ScoreEarned = scorer(len(earlier))
			}
		}

		q := `
		INSERT INTO guesses (id, round_id, user_id, text, is_correct, score_earned)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING guessed_at
		`
		return tx.QueryRow(ctx, q, g.ID, g.RoundID, g.UserID, g.Text, g.IsCorrect, g.ScoreEarned).Scan(&g.GuessedAt)
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrRoundClosed), errors.Is(err, store.ErrDuplicateCorrectGuess):
			return models.Guess{}, err
		case pgCode(err) == uniqueViolation:
			return models.Guess{}, store.ErrDuplicateCorrectGuess
		}
		return models.Guess{}, fmt.Errorf("add guess: %w", err)
	}
	return g, nil
}

func (s *Store) ListGuesses(ctx context.Context, roundID uuid.UUID) ([]models.Guess, error) {
	rows, err := s.pool.Query(ctx, `
	SELECT id, round_id, user_id, text, is_correct, score_earned, guessed_at
	FROM guesses
	WHERE round_id = $1
	ORDER BY seq
	`, roundID)
	if err != nil {
		return nil, fmt.Errorf("query guesses: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Guess, error) {
		var g models.Guess
		err := row.Scan(&g.ID, &g.RoundID, &g.UserID, &g.Text, &g.IsCorrect, &g.ScoreEarned, &g.GuessedAt)
		return g, err
	})
}

func (s *Store) UpsertRating(ctx context.Context, r models.Rating) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var ended *time.Time
		err := tx.QueryRow(ctx, `SELECT ended_at FROM rounds WHERE id = $1 FOR SHARE`, r.RoundID).Scan(&ended)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		if ended != nil {
			return store.ErrRoundClosed
		}
		q := `
		INSERT INTO ratings (round_id, rater_id, drawer_id, stars)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (round_id, rater_id) DO UPDATE SET stars = EXCLUDED.stars
		`
		_, err = tx.Exec(ctx, q, r.RoundID, r.RaterID, r.DrawerID, r.Stars)
		return err
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrRoundClosed) {
		return fmt.Errorf("upsert rating: %w", err)
	}
	return err
}

func (s *Store) ListRatings(ctx context.Context, roundID uuid.UUID) ([]models.Rating, error) {
	rows, err := s.pool.Query(ctx, `
	SELECT round_id, rater_id, drawer_id, stars
	FROM ratings
	WHERE round_id = $1
	ORDER BY rater_id
	`, roundID)
	if err != nil {
		return nil, fmt.Errorf("query ratings: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Rating, error) {
		var r models.Rating
		err := row.Scan(&r.RoundID, &r.RaterID, &r.DrawerID, &r.Stars)
		return r, err
	})
}

// ApplyScore records key in score_events and adds the points in the same
// transaction, so a key is only ever counted once.
func (s *Store) ApplyScore(ctx context.Context, key string, roomID, userID uuid.UUID, points int) (bool, error) {
	applied := false
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
		INSERT INTO score_events (key, room_id, user_id, points)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO NOTHING
		`, key, roomID, userID, points)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		tag, err = tx.Exec(ctx,
			`UPDATE participants SET score = score + $3 WHERE room_id = $1 AND user_id = $2`,
			roomID, userID, points)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		applied = true
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || pgCode(err) == foreignKeyViolation {
			return false, store.ErrNotFound
		}
		return false, fmt.Errorf("apply score %s: %w", key, err)
	}
	return applied, nil
}
