package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/models"
)

// Memory is an in-process Store used for local play and tests. It mirrors the
// constraints of the Postgres schema: unique room codes, one active round per
// room, one correct guess per user and round, idempotent score keys.
type Memory struct {
	mu           sync.Mutex
	rooms        map[uuid.UUID]*models.Room
	codes        map[string]uuid.UUID
	participants map[uuid.UUID][]*models.Participant
	rounds       map[uuid.UUID][]*models.Round
	guesses      map[uuid.UUID][]models.Guess
	ratings      map[uuid.UUID]map[uuid.UUID]models.Rating
	scoreKeys    map[string]struct{}
	seq          int64

	watchMu  sync.Mutex
	watchers map[chan models.Change]struct{}
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		rooms:        make(map[uuid.UUID]*models.Room),
		codes:        make(map[string]uuid.UUID),
		participants: make(map[uuid.UUID][]*models.Participant),
		rounds:       make(map[uuid.UUID][]*models.Round),
		guesses:      make(map[uuid.UUID][]models.Guess),
		ratings:      make(map[uuid.UUID]map[uuid.UUID]models.Rating),
		scoreKeys:    make(map[string]struct{}),
		watchers:     make(map[chan models.Change]struct{}),
	}
}

// Watch returns a feed of changes until ctx is done. Slow watchers miss
// signals rather than block writers.
func (m *Memory) Watch(ctx context.Context) <-chan models.Change {
	ch := make(chan models.Change, 256)
	m.watchMu.Lock()
	m.watchers[ch] = struct{}{}
	m.watchMu.Unlock()
	go func() {
		<-ctx.Done()
		m.watchMu.Lock()
		delete(m.watchers, ch)
		close(ch)
		m.watchMu.Unlock()
	}()
	return ch
}

func (m *Memory) emit(table string, room *models.Room, rowID string) {
	c := models.Change{Table: table, RoomID: room.ID, RoomCode: room.Code, RowID: rowID}
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	for ch := range m.watchers {
		select {
		case ch <- c:
		default:
		}
	}
}

// nextTime returns a strictly increasing timestamp so insertion order survives
// equal wall-clock readings. Assumes lock is held.
func (m *Memory) nextTime() time.Time {
	m.seq++
	return time.Now().Add(time.Duration(m.seq))
}

func (m *Memory) CreateRoom(ctx context.Context, room models.Room) (models.Room, error) {
	m.mu.Lock()
	if _, taken := m.codes[room.Code]; taken {
		m.mu.Unlock()
		return models.Room{}, ErrConflict
	}
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	if room.Status == "" {
		room.Status = models.RoomWaiting
	}
	room.CreatedAt = m.nextTime()
	room.Words = append([]string(nil), room.Words...)
	r := room
	m.rooms[r.ID] = &r
	m.codes[r.Code] = r.ID
	m.mu.Unlock()

	m.emit(models.TableRooms, &r, r.ID.String())
	return r, nil
}

func (m *Memory) GetRoom(ctx context.Context, id uuid.UUID) (models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return models.Room{}, ErrNotFound
	}
	return copyRoom(r), nil
}

func (m *Memory) GetRoomByCode(ctx context.Context, code string) (models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.codes[code]
	if !ok {
		return models.Room{}, ErrNotFound
	}
	return copyRoom(m.rooms[id]), nil
}

func copyRoom(r *models.Room) models.Room {
	c := *r
	c.Words = append([]string(nil), r.Words...)
	c.SelectionOptions = append([]string(nil), r.SelectionOptions...)
	return c
}

func (m *Memory) SetRoomStatus(ctx context.Context, roomID uuid.UUID, from, to models.RoomStatus) error {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if r.Status != from {
		m.mu.Unlock()
		return ErrStaleTransition
	}
	r.Status = to
	snapshot := *r
	m.mu.Unlock()

	m.emit(models.TableRooms, &snapshot, roomID.String())
	return nil
}

func (m *Memory) SetSelection(ctx context.Context, roomID uuid.UUID, round int, drawerID uuid.UUID, options []string) error {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if r.Status != models.RoomPlaying || round != r.CurrentRound+1 {
		m.mu.Unlock()
		return ErrStaleTransition
	}
	r.CurrentDrawerID = drawerID
	r.SelectionRound = round
	r.SelectionOptions = append([]string(nil), options...)
	snapshot := *r
	m.mu.Unlock()

	m.emit(models.TableRooms, &snapshot, roomID.String())
	return nil
}

func (m *Memory) AddParticipant(ctx context.Context, p models.Participant) (models.Participant, error) {
	m.mu.Lock()
	r, ok := m.rooms[p.RoomID]
	if !ok {
		m.mu.Unlock()
		return models.Participant{}, ErrNotFound
	}
	for _, existing := range m.participants[p.RoomID] {
		if existing.UserID == p.UserID {
			m.mu.Unlock()
			return models.Participant{}, ErrConflict
		}
	}
	p.JoinedAt = m.nextTime()
	np := p
	m.participants[p.RoomID] = append(m.participants[p.RoomID], &np)
	snapshot := *r
	m.mu.Unlock()

	m.emit(models.TableParticipants, &snapshot, p.UserID.String())
	return np, nil
}

func (m *Memory) RemoveParticipant(ctx context.Context, roomID, userID uuid.UUID) error {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	list := m.participants[roomID]
	found := false
	for i, p := range list {
		if p.UserID == userID {
			m.participants[roomID] = append(list[:i:i], list[i+1:]...)
			found = true
			break
		}
	}
	snapshot := *r
	m.mu.Unlock()

	if !found {
		return ErrNotFound
	}
	m.emit(models.TableParticipants, &snapshot, userID.String())
	return nil
}

func (m *Memory) ListParticipants(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Participant, 0, len(m.participants[roomID]))
	for _, p := range m.participants[roomID] {
		out = append(out, *p)
	}
	return out, nil
}

func (m *Memory) CreateRound(ctx context.Context, round models.Round) (models.Round, error) {
	m.mu.Lock()
	r, ok := m.rooms[round.RoomID]
	if !ok {
		m.mu.Unlock()
		return models.Round{}, ErrNotFound
	}
	for _, existing := range m.rounds[round.RoomID] {
		if existing.Active() {
			m.mu.Unlock()
			return models.Round{}, ErrActiveRound
		}
	}
	if round.Number != r.CurrentRound+1 {
		m.mu.Unlock()
		return models.Round{}, ErrStaleTransition
	}
	if round.ID == uuid.Nil {
		round.ID = uuid.New()
	}
	round.StartedAt = m.nextTime()
	round.EndedAt = nil
	nr := round
	m.rounds[round.RoomID] = append(m.rounds[round.RoomID], &nr)
	r.CurrentRound = round.Number
	r.CurrentDrawerID = round.DrawerID
	snapshot := *r
	m.mu.Unlock()

	m.emit(models.TableRounds, &snapshot, nr.ID.String())
	m.emit(models.TableRooms, &snapshot, snapshot.ID.String())
	return nr, nil
}

// findRound assumes lock is held.
func (m *Memory) findRound(id uuid.UUID) (*models.Round, *models.Room) {
	for roomID, list := range m.rounds {
		for _, rd := range list {
			if rd.ID == id {
				return rd, m.rooms[roomID]
			}
		}
	}
	return nil, nil
}

func copyRound(rd *models.Round) models.Round {
	c := *rd
	if rd.EndedAt != nil {
		t := *rd.EndedAt
		c.EndedAt = &t
	}
	return c
}

func (m *Memory) GetRound(ctx context.Context, id uuid.UUID) (models.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rd, _ := m.findRound(id)
	if rd == nil {
		return models.Round{}, ErrNotFound
	}
	return copyRound(rd), nil
}

func (m *Memory) LatestRound(ctx context.Context, roomID uuid.UUID) (models.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.rounds[roomID]
	if len(list) == 0 {
		return models.Round{}, ErrNotFound
	}
	return copyRound(list[len(list)-1]), nil
}

func (m *Memory) ListRounds(ctx context.Context, roomID uuid.UUID) ([]models.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Round, 0, len(m.rounds[roomID]))
	for _, rd := range m.rounds[roomID] {
		out = append(out, copyRound(rd))
	}
	return out, nil
}

func (m *Memory) EndRound(ctx context.Context, roundID uuid.UUID, status models.RoundStatus, skipped bool, endedAt time.Time) (models.Round, error) {
	m.mu.Lock()
	rd, room := m.findRound(roundID)
	if rd == nil {
		m.mu.Unlock()
		return models.Round{}, ErrNotFound
	}
	if !rd.Active() {
		m.mu.Unlock()
		return models.Round{}, ErrStaleTransition
	}
	t := endedAt
	rd.EndedAt = &t
	rd.Status = status
	rd.Skipped = skipped
	out := copyRound(rd)
	snapshot := *room
	m.mu.Unlock()

	m.emit(models.TableRounds, &snapshot, roundID.String())
	return out, nil
}

func (m *Memory) AddGuess(ctx context.Context, g models.Guess, scorer Scorer) (models.Guess, error) {
	m.mu.Lock()
	rd, room := m.findRound(g.RoundID)
	if rd == nil {
		m.mu.Unlock()
		return models.Guess{}, ErrNotFound
	}
	if !rd.Active() || rd.Status != models.RoundDrawing {
		m.mu.Unlock()
		return models.Guess{}, ErrRoundClosed
	}
	g.ScoreEarned = 0
	if g.IsCorrect {
		rank := 0
		for _, prev := range m.guesses[g.RoundID] {
			if !prev.IsCorrect {
				continue
			}
			if prev.UserID == g.UserID {
				m.mu.Unlock()
				return models.Guess{}, ErrDuplicateCorrectGuess
			}
			rank++
		}
		if scorer != nil {
			g.ScoreEarned = scorer(rank)
		}
	}
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	g.GuessedAt = m.nextTime()
	m.guesses[g.RoundID] = append(m.guesses[g.RoundID], g)
	snapshot := *room
	m.mu.Unlock()

	m.emit(models.TableGuesses, &snapshot, g.ID.String())
	return g, nil
}

func (m *Memory) ListGuesses(ctx context.Context, roundID uuid.UUID) ([]models.Guess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Guess(nil), m.guesses[roundID]...), nil
}

func (m *Memory) UpsertRating(ctx context.Context, r models.Rating) error {
	m.mu.Lock()
	rd, room := m.findRound(r.RoundID)
	if rd == nil {
		m.mu.Unlock()
		return ErrNotFound
	}
	if !rd.Active() {
		m.mu.Unlock()
		return ErrRoundClosed
	}
	if m.ratings[r.RoundID] == nil {
		m.ratings[r.RoundID] = make(map[uuid.UUID]models.Rating)
	}
	m.ratings[r.RoundID][r.RaterID] = r
	snapshot := *room
	m.mu.Unlock()

	m.emit(models.TableRatings, &snapshot, r.RoundID.String())
	return nil
}

func (m *Memory) ListRatings(ctx context.Context, roundID uuid.UUID) ([]models.Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Rating, 0, len(m.ratings[roundID]))
	for _, r := range m.ratings[roundID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RaterID.String() < out[j].RaterID.String() })
	return out, nil
}

func (m *Memory) ApplyScore(ctx context.Context, key string, roomID, userID uuid.UUID, points int) (bool, error) {
	m.mu.Lock()
	if _, done := m.scoreKeys[key]; done {
		m.mu.Unlock()
		return false, nil
	}
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return false, ErrNotFound
	}
	var target *models.Participant
	for _, p := range m.participants[roomID] {
		if p.UserID == userID {
			target = p
			break
		}
	}
	if target == nil {
		m.mu.Unlock()
		return false, ErrNotFound
	}
	m.scoreKeys[key] = struct{}{}
	target.Score += points
	snapshot := *room
	m.mu.Unlock()

	m.emit(models.TableParticipants, &snapshot, userID.String())
	return true, nil
}
