package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "DATABASE_URL", "BUS", "LOG_LEVEL", "THROTTLE_MS", "POLL_INTERVAL_MS", "PG_HOST", "POSTGRES_USER", "POSTGRES_PASSWORD"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BusRelay, cfg.Bus)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, 50*time.Millisecond, cfg.Throttle)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, 3, cfg.ChannelMaxRetries)
	assert.Equal(t, "postgres://postgres:@localhost:5432/drawguess", cfg.DatabaseURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BUS", "redis")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("THROTTLE_MS", "80")
	t.Setenv("TOKEN_EXPIRE_TIME", "90m")
	t.Setenv("CHANNEL_MAX_RETRIES", "not a number")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/x")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BusRedis, cfg.Bus)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
	assert.Equal(t, 80*time.Millisecond, cfg.Throttle)
	assert.Equal(t, "90m", cfg.TokenExpire)
	assert.Equal(t, 3, cfg.ChannelMaxRetries, "unparsable values fall back")
	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.DatabaseURL)
}

func TestLoadRejectsUnknownBus(t *testing.T) {
	t.Setenv("BUS", "carrier-pigeon")
	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseURLFromParts(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_USER", "draw")
	t.Setenv("POSTGRES_PASSWORD", "p@ss")
	t.Setenv("PG_HOST", "db")
	t.Setenv("PG_PORT", "6543")
	t.Setenv("PG_DATABASE", "games")
	t.Setenv("PG_SSLMODE", "disable")
	assert.Equal(t, "postgres://draw:p%40ss@db:6543/games?sslmode=disable", databaseURL())
}
