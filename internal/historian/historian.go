// Package historian drains the round action queue from Redis into Postgres in
// batches and finishes rooms whose action log has gone quiet.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Sink persists what the historian collects.
type Sink interface {
	RecordActions(ctx context.Context, actions []models.RoundAction) error
	// AbandonRoom finishes a room still being played and reports whether it changed.
	AbandonRoom(ctx context.Context, roomID uuid.UUID) (bool, error)
}

type Config struct {
	Queue      string
	BatchSize  int
	FlushDelay time.Duration
	// Inactivity is how long a room may go without actions before it is abandoned.
	Inactivity time.Duration
	PopTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Queue == "" {
		c.Queue = "drawguess_actions"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.FlushDelay <= 0 {
		c.FlushDelay = 500 * time.Millisecond
	}
	if c.Inactivity <= 0 {
		c.Inactivity = 10 * time.Minute
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = 3 * time.Second
	}
	return c
}

type Service struct {
	rdb    *redis.Client
	sink   Sink
	cfg    Config
	logger *logrus.Logger

	batchMu sync.Mutex
	batch   []models.RoundAction

	lastActivity sync.Map // map[uuid.UUID]time.Time
}

func New(rdb *redis.Client, sink Sink, cfg Config, logger *logrus.Logger) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		rdb:    rdb,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		batch:  make([]models.RoundAction, 0, cfg.BatchSize),
	}
}

// Run pops, flushes and sweeps until ctx is done. The pending batch is flushed
// on the way out.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Infof("Historian draining %s (batch %d, flush every %s)", s.cfg.Queue, s.cfg.BatchSize, s.cfg.FlushDelay)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(s.cfg.FlushDelay)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.Flush(gctx)
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(s.sweepInterval())
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-ticker.C:
				s.Sweep(gctx, now)
			}
		}
	})
	err := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Flush(flushCtx)
	s.logger.Info("Historian stopped")
	return err
}

func (s *Service) sweepInterval() time.Duration {
	d := s.cfg.Inactivity / 10
	if d > time.Minute {
		d = time.Minute
	}
	if d < time.Second {
		d = time.Second
	}
	return d
}

func (s *Service) readLoop(ctx context.Context) error {
	for {
		res, err := s.rdb.BLPop(ctx, s.cfg.PopTimeout, s.cfg.Queue).Result()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				s.logger.Errorf("BLPop %s: %v", s.cfg.Queue, err)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Second):
				}
			}
			continue
		}
		// res[0] is the queue name and res[1] the payload.
		if len(res) < 2 {
			continue
		}
		s.Handle(ctx, res[1], time.Now())
	}
}

// Handle decodes one queued action and adds it to the batch, flushing when the
// batch is full.
func (s *Service) Handle(ctx context.Context, payload string, now time.Time) {
	var action models.RoundAction
	if err := json.Unmarshal([]byte(payload), &action); err != nil {
		s.logger.Warnf("invalid action record: %v", err)
		return
	}
	if action.ActionType == "game_end" {
		s.lastActivity.Delete(action.RoomID)
	} else {
		s.lastActivity.Store(action.RoomID, now)
	}

	s.batchMu.Lock()
	s.batch = append(s.batch, action)
	full := len(s.batch) >= s.cfg.BatchSize
	s.batchMu.Unlock()

	if full {
		s.Flush(ctx)
	}
}

// Flush writes the current batch in one transaction. A failed batch is put
// back in front of newer actions.
func (s *Service) Flush(ctx context.Context) {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	pending := s.batch
	s.batch = make([]models.RoundAction, 0, s.cfg.BatchSize)
	s.batchMu.Unlock()

	if err := s.sink.RecordActions(ctx, pending); err != nil {
		s.logger.Errorf("flushing %d actions failed: %v", len(pending), err)
		s.batchMu.Lock()
		s.batch = append(pending, s.batch...)
		s.batchMu.Unlock()
		return
	}
	s.logger.Debugf("Flushed %d actions", len(pending))
}

// Pending returns the number of actions waiting for a flush.
func (s *Service) Pending() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return len(s.batch)
}

// Sweep abandons every room whose last action is older than the inactivity limit.
func (s *Service) Sweep(ctx context.Context, now time.Time) {
	s.lastActivity.Range(func(key, val interface{}) bool {
		roomID, ok1 := key.(uuid.UUID)
		last, ok2 := val.(time.Time)
		if !ok1 || !ok2 || now.Sub(last) <= s.cfg.Inactivity {
			return true
		}
		changed, err := s.sink.AbandonRoom(ctx, roomID)
		if err != nil {
			s.logger.Warnf("failed to abandon room %s: %v", roomID, err)
			return true
		}
		s.lastActivity.Delete(roomID)
		if changed {
			s.logger.Infof("Room %s abandoned after %s without actions", roomID, s.cfg.Inactivity)
		}
		return true
	})
}
