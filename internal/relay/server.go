// Package relay is the websocket fan-out bus that relay-transport clients
// subscribe to. It authenticates connections and stamps the author of every
// relayed envelope. It holds no game state.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/auth"
	"github.com/jason-s-yu/drawguess/internal/middleware"
	"github.com/jason-s-yu/drawguess/internal/realtime"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Config tunes the relay.
type Config struct {
	// RatePerSec and RateBurst bound inbound frames per connection.
	RatePerSec float64
	RateBurst  int
	// QueueSize is the per-connection outbound buffer.
	QueueSize      int
	PingInterval   time.Duration
	OriginPatterns []string
}

// DefaultConfig allows comfortably more than one drawing flush per 50ms.
func DefaultConfig() Config {
	return Config{
		RatePerSec:     40,
		RateBurst:      80,
		QueueSize:      256,
		PingInterval:   30 * time.Second,
		OriginPatterns: []string{"*"},
	}
}

type Server struct {
	hub    *Hub
	logger *logrus.Logger
	cfg    Config
}

func NewServer(logger *logrus.Logger, cfg Config) *Server {
	return &Server{hub: NewHub(logger), logger: logger, cfg: cfg}
}

// Hub exposes the fan-out hub for server-side publishers.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Routes returns the relay's HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{topic}", s.handleWS)
	mux.HandleFunc("POST /token", s.handleToken)
	mux.HandleFunc("GET /presence/{topic}", s.handlePresence)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return middleware.LogMiddleware(s.logger)(mux)
}

func requestToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if ck, err := r.Cookie("auth_token"); err == nil {
		return ck.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	topic := r.PathValue("topic")
	if !strings.HasPrefix(topic, "room:") || len(topic) == len("room:") {
		http.Error(w, "invalid topic", http.StatusBadRequest)
		return
	}
	id, err := auth.AuthenticateJWT(requestToken(r))
	if err != nil {
		s.logger.Warnf("Relay %s: authentication failed from %s: %v", topic, r.RemoteAddr, err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		s.logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "handler finished")

	if conn.Subprotocol() != Subprotocol {
		conn.Close(BadSubprotocolError, "client must speak the drawguess subprotocol")
		return
	}

	c := &client{
		id:      id,
		topic:   topic,
		remote:  r.RemoteAddr,
		out:     make(chan []byte, s.cfg.QueueSize),
		limiter: rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), s.cfg.RateBurst),
	}
	s.hub.join(c)
	middleware.LogWebSocketConnect(s.logger, r.RemoteAddr, topic, id.UserID.String())

	ctx, cancel := context.WithCancel(r.Context())
	go s.writePump(ctx, conn, c)
	readErr := s.readPump(ctx, conn, c)
	cancel()

	if s.hub.leave(c) && c.tracked {
		s.announceLeave(c)
	}
	middleware.LogWebSocketDisconnect(s.logger, r.RemoteAddr, topic, id.UserID.String(), readErr)
	conn.Close(websocket.StatusNormalClosure, "")
}

// announceLeave tells the remaining clients that a user whose connection
// dropped without a leave announcement is gone.
func (s *Server) announceLeave(c *client) {
	s.hub.setPresence(c.topic, realtime.Presence{UserID: c.id.UserID}, false)
	env := realtime.Envelope{
		Room:    strings.TrimPrefix(c.topic, "room:"),
		Author:  c.id.UserID,
		SentAt:  time.Now(),
		Message: realtime.PresenceMessage{UserID: c.id.UserID, Name: c.id.Name},
	}
	data, err := realtime.Encode(env)
	if err != nil {
		s.logger.Warnf("Relay %s: encoding leave failed: %v", c.topic, err)
		return
	}
	s.hub.broadcast(c.topic, data)
}

type tokenRequest struct {
	Name string `json:"name"`
}

type tokenResponse struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
	Token  string    `json:"token"`
}

// handleToken issues an ephemeral identity and sets it as the auth cookie.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Guest"
	}
	id := auth.Identity{UserID: uuid.New(), Name: name}
	token, err := auth.CreateJWT(id)
	if err != nil {
		s.logger.Errorf("failed to create token: %v", err)
		http.Error(w, "could not issue token", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tokenResponse{UserID: id.UserID, Name: id.Name, Token: token})
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.hub.Members(r.PathValue("topic")))
}
