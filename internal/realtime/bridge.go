package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/models"
	"github.com/sirupsen/logrus"
)

// Publisher is the publishing half of a Transport.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

// ForwardChanges republishes store change signals as change envelopes on each
// room's topic until feed closes or ctx is done. Publish errors are logged and
// the signal dropped; followers recover on the next change.
func ForwardChanges(ctx context.Context, feed <-chan models.Change, pub Publisher, logger *logrus.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-feed:
			if !ok {
				return
			}
			if change.RoomCode == "" {
				logger.Debugf("Change on %s without room code, skipping", change.Table)
				continue
			}
			env := Envelope{Room: change.RoomCode, Author: uuid.Nil, SentAt: time.Now(), Message: ChangeMessage{Change: change}}
			data, err := Encode(env)
			if err != nil {
				logger.WithError(err).Warn("Encoding change envelope failed")
				continue
			}
			if err := pub.Publish(ctx, Topic(change.RoomCode), data); err != nil {
				logger.WithFields(logrus.Fields{"room": change.RoomCode, "table": change.Table}).WithError(err).Warn("Forwarding change failed")
			}
		}
	}
}
