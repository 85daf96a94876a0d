// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/drawguess/internal/auth"
	"github.com/jason-s-yu/drawguess/internal/cache"
	"github.com/jason-s-yu/drawguess/internal/config"
	"github.com/jason-s-yu/drawguess/internal/database"
	"github.com/jason-s-yu/drawguess/internal/realtime"
	"github.com/jason-s-yu/drawguess/internal/realtime/redisbus"
	"github.com/jason-s-yu/drawguess/internal/relay"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := cfg.NewLogger()

	ttl, err := auth.ParseTokenTTL(cfg.TokenExpire)
	if err != nil {
		logger.Fatalf("token ttl: %v", err)
	}
	if priv, pub := os.Getenv("AUTH_PRIVATE_KEY_PATH"), os.Getenv("AUTH_PUBLIC_KEY_PATH"); priv != "" && pub != "" {
		err = auth.InitFromPath(priv, pub, ttl)
	} else {
		err = auth.Init(ttl)
	}
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, cfg.DatabaseURL); err != nil {
		logger.Fatalf("migrations: %v", err)
	}
	logger.Info("Migrations applied")

	relayCfg := relay.DefaultConfig()
	relayCfg.RatePerSec = cfg.RelayRatePerSec
	relayCfg.RateBurst = cfg.RelayRateBurst
	srv := relay.NewServer(logger, relayCfg)

	// Change signals go to relay clients and, with the Redis bus, to Redis subscribers.
	publishers := []realtime.Publisher{srv.Hub()}
	if cfg.Bus == config.BusRedis {
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		publishers = append(publishers, redisbus.New(rdb, logger))
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		feed := database.NewListener(cfg.DatabaseURL, logger).Watch(gctx)
		realtime.ForwardChanges(gctx, feed, multiPublisher(publishers), logger)
		return nil
	})
	g.Go(func() error {
		logger.Infof("Running on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
	logger.Info("Server stopped")
}

// multiPublisher publishes to every target and returns the first error.
type multiPublisher []realtime.Publisher

func (m multiPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, topic, data); err != nil && first == nil {
			first = err
		}
	}
	return first
}
