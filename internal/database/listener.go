package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/drawguess/internal/models"
	"github.com/jason-s-yu/drawguess/internal/store"
	"github.com/sirupsen/logrus"
)

// NotifyChannel is the LISTEN channel the change triggers publish on.
const NotifyChannel = "drawguess_changes"

// Listener turns Postgres notifications into change signals. It holds one
// dedicated connection and reconnects with a capped backoff when it drops.
type Listener struct {
	connString string
	logger     *logrus.Logger
	maxBackoff time.Duration
}

var _ store.ChangeSource = (*Listener)(nil)

func NewListener(connString string, logger *logrus.Logger) *Listener {
	return &Listener{connString: connString, logger: logger, maxBackoff: 10 * time.Second}
}

// Watch emits changes until ctx is done, then closes the channel.
func (l *Listener) Watch(ctx context.Context) <-chan models.Change {
	out := make(chan models.Change, 256)
	go func() {
		defer close(out)
		backoff := time.Second
		for {
			err := l.listen(ctx, out)
			if ctx.Err() != nil {
				return
			}
			l.logger.Warnf("Change listener dropped, reconnecting in %s: %v", backoff, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > l.maxBackoff {
				backoff = l.maxBackoff
			}
		}
	}()
	return out
}

func (l *Listener) listen(ctx context.Context, out chan<- models.Change) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return err
	}
	l.logger.Infof("Listening for changes on %s", NotifyChannel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var c models.Change
		if err := json.Unmarshal([]byte(n.Payload), &c); err != nil {
			l.logger.Warnf("Ignoring malformed change notification: %v", err)
			continue
		}
		select {
		case out <- c:
		default:
			l.logger.Warnf("Change feed full, dropping %s change for room %s", c.Table, c.RoomCode)
		}
	}
}
