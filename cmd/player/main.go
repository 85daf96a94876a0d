// cmd/player is a headless participant: it creates or joins a room and reads
// game commands from stdin.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/cache"
	"github.com/jason-s-yu/drawguess/internal/clock"
	"github.com/jason-s-yu/drawguess/internal/config"
	"github.com/jason-s-yu/drawguess/internal/database"
	"github.com/jason-s-yu/drawguess/internal/game"
	"github.com/jason-s-yu/drawguess/internal/models"
	"github.com/jason-s-yu/drawguess/internal/realtime"
	"github.com/jason-s-yu/drawguess/internal/realtime/redisbus"
	"github.com/jason-s-yu/drawguess/internal/realtime/wsbus"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	name := flag.String("name", "Guest", "display name")
	join := flag.String("join", "", "code of the room to join; a new room is created when empty")
	words := flag.String("words", "apple,bridge,castle,dragon,engine,forest,guitar,harbor,island", "comma separated word list for a new room")
	rounds := flag.Int("rounds", 0, "rounds for a new room (0 = default)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer pool.Close()

	var (
		identity  = uuid.New()
		transport realtime.Transport
		actions   game.ActionLogger
	)
	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Warnf("Action log disabled: %v", err)
	} else {
		defer rdb.Close()
		actions = cache.NewActionQueue(rdb, cfg.HistorianQueue)
	}

	switch cfg.Bus {
	case config.BusRedis:
		if rdb == nil {
			logger.Fatal("the redis bus needs a reachable REDIS_ADDR")
		}
		transport = redisbus.New(rdb, logger)
	default:
		tok, err := requestToken(ctx, cfg.RelayURL, *name)
		if err != nil {
			logger.Fatalf("relay token: %v", err)
		}
		identity = tok.UserID
		transport = wsbus.New(cfg.RelayURL, tok.Token, logger)
	}

	channels := realtime.NewManager(transport, realtime.Config{
		Clock:  clock.Real{},
		Logger: logger,
		Retry: realtime.RetryPolicy{
			MaxRetries: cfg.ChannelMaxRetries,
			BaseDelay:  cfg.ChannelRetryBase,
			MaxDelay:   cfg.ChannelRetryMax,
		},
	})
	defer channels.ReleaseAll()

	session := game.NewSession(game.Config{
		Identity:     identity,
		Name:         *name,
		Store:        database.NewStore(pool),
		Channels:     channels,
		Clock:        clock.Real{},
		Logger:       logger,
		Actions:      actions,
		PollInterval: cfg.PollInterval,
		Throttle:     cfg.Throttle,
	})

	if *join != "" {
		err = session.JoinRoom(ctx, *join)
	} else {
		var room models.Room
		room, err = session.CreateRoom(ctx, models.Settings{Rounds: *rounds}, splitWords(*words))
		if err == nil {
			fmt.Printf("room %s created\n", room.Code)
		}
	}
	if err != nil {
		logger.Fatalf("enter room: %v", err)
	}

	runREPL(ctx, session, os.Stdin, os.Stdout)

	leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := session.Leave(leaveCtx); err != nil {
		logger.Warnf("leave: %v", err)
	}
}

func splitWords(list string) []string {
	var out []string
	for _, w := range strings.Split(list, ",") {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}

type tokenResponse struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
	Token  string    `json:"token"`
}

// requestToken obtains an ephemeral relay identity.
func requestToken(ctx context.Context, relayURL, name string) (tokenResponse, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return tokenResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(relayURL, "/")+"/token", bytes.NewReader(body))
	if err != nil {
		return tokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return tokenResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return tokenResponse{}, fmt.Errorf("relay returned %s", resp.Status)
	}
	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return tokenResponse{}, fmt.Errorf("decode token response: %w", err)
	}
	return tok, nil
}
