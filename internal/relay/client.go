package relay

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/drawguess/internal/auth"
	"github.com/jason-s-yu/drawguess/internal/realtime"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// client is one websocket connection subscribed to one topic.
type client struct {
	id      auth.Identity
	topic   string
	remote  string
	out     chan []byte
	limiter *rate.Limiter
	tracked bool
}

// write queues data without blocking. A full queue drops the frame.
func (c *client) write(data []byte, logger *logrus.Logger) {
	select {
	case c.out <- data:
	default:
		logger.Warnf("Relay %s: outbound queue full for user %s, dropped frame", c.topic, c.id.UserID)
	}
}

// readPump relays frames from the connection to the hub until the connection
// ends. The envelope author is always overwritten with the authenticated user.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, c *client) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if isExpectedDisconnect(ctx, err) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageBinary {
			s.logger.Warnf("Relay %s: non-binary frame from user %s ignored", c.topic, c.id.UserID)
			continue
		}
		if !c.limiter.Allow() {
			s.logger.Debugf("Relay %s: rate limit hit for user %s", c.topic, c.id.UserID)
			continue
		}

		env, err := realtime.Decode(data)
		if err != nil {
			s.logger.Warnf("Relay %s: invalid frame from user %s: %v", c.topic, c.id.UserID, err)
			continue
		}
		if env.Author != c.id.UserID {
			env.Author = c.id.UserID
			if data, err = realtime.Encode(env); err != nil {
				s.logger.Warnf("Relay %s: re-encoding frame failed: %v", c.topic, err)
				continue
			}
		}
		if pm, ok := env.Message.(realtime.PresenceMessage); ok {
			if pm.UserID != c.id.UserID {
				s.logger.Warnf("Relay %s: user %s announced presence for %s, dropped", c.topic, c.id.UserID, pm.UserID)
				continue
			}
			s.hub.setPresence(c.topic, realtime.Presence{UserID: pm.UserID, Name: pm.Name}, pm.Joined)
			c.tracked = pm.Joined
		}

		s.hub.broadcast(c.topic, data)
	}
}

func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	defer conn.Close(websocket.StatusGoingAway, "write pump stopping")

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.out:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageBinary, data)
			cancel()
			if err != nil {
				s.logger.Warnf("Relay %s: write to user %s failed: %v", c.topic, c.id.UserID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				s.logger.Warnf("Relay %s: ping to user %s failed: %v", c.topic, c.id.UserID, err)
				return
			}
		}
	}
}

func isExpectedDisconnect(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
