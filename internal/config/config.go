// Package config reads process configuration from the environment. Binaries
// import github.com/joho/godotenv/autoload so a local .env file is honored.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Bus names the realtime transport a client uses.
type Bus string

const (
	BusRelay Bus = "relay"
	BusRedis Bus = "redis"
)

type Config struct {
	Port        string
	DatabaseURL string
	LogLevel    logrus.Level

	RedisAddr string
	RedisDB   int

	Bus      Bus
	RelayURL string

	// TokenExpire is the raw TOKEN_EXPIRE_TIME; "never" disables expiry.
	TokenExpire string

	ChannelMaxRetries int
	ChannelRetryBase  time.Duration
	ChannelRetryMax   time.Duration
	Throttle          time.Duration
	PollInterval      time.Duration

	HistorianQueue      string
	HistorianBatchSize  int
	HistorianFlush      time.Duration
	HistorianInactivity time.Duration

	RelayRatePerSec float64
	RelayRateBurst  int
}

// Load reads every setting, falling back to defaults suitable for local development.
func Load() (Config, error) {
	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	bus := Bus(getEnv("BUS", string(BusRelay)))
	if bus != BusRelay && bus != BusRedis {
		return Config{}, fmt.Errorf("BUS: unknown transport %q", bus)
	}

	return Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: databaseURL(),
		LogLevel:    level,

		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:   getEnvInt("REDIS_DB", 0),

		Bus:      bus,
		RelayURL: getEnv("RELAY_URL", "http://localhost:8080"),

		TokenExpire: getEnv("TOKEN_EXPIRE_TIME", "24h"),

		ChannelMaxRetries: getEnvInt("CHANNEL_MAX_RETRIES", 3),
		ChannelRetryBase:  getEnvMillis("CHANNEL_RETRY_BASE_MS", time.Second),
		ChannelRetryMax:   getEnvMillis("CHANNEL_RETRY_MAX_MS", 10*time.Second),
		Throttle:          getEnvMillis("THROTTLE_MS", 50*time.Millisecond),
		PollInterval:      getEnvMillis("POLL_INTERVAL_MS", 3*time.Second),

		HistorianQueue:      getEnv("HISTORIAN_QUEUE_NAME", "drawguess_actions"),
		HistorianBatchSize:  getEnvInt("HISTORIAN_BATCH_SIZE", 20),
		HistorianFlush:      getEnvMillis("HISTORIAN_FLUSH_MS", 500*time.Millisecond),
		HistorianInactivity: getEnvDuration("ROOM_INACTIVITY_TIMEOUT", 10*time.Minute),

		RelayRatePerSec: getEnvFloat("RELAY_RATE_PER_SEC", 40),
		RelayRateBurst:  getEnvInt("RELAY_RATE_BURST", 80),
	}, nil
}

// databaseURL prefers DATABASE_URL and otherwise assembles one from the PG_* parts.
func databaseURL() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(getEnv("POSTGRES_USER", "postgres"), os.Getenv("POSTGRES_PASSWORD")),
		Host:   getEnv("PG_HOST", "localhost") + ":" + getEnv("PG_PORT", "5432"),
		Path:   "/" + getEnv("PG_DATABASE", "drawguess"),
	}
	if mode := os.Getenv("PG_SSLMODE"); mode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(mode)
	}
	return u.String()
}

// NewLogger returns a logger at the configured level.
func (c Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)
	return logger
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func getEnvFloat(key string, def float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration accepts Go duration strings such as "90s" or "24h".
func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return v
}

func getEnvMillis(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}
