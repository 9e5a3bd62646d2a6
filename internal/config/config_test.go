package config

import (
	"context"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("MODE", "")
	t.Setenv("AUTOSAVE_INTERVAL", "")
	t.Setenv("SNAPSHOT_DRIVER", "")
	t.Setenv("ENABLE_LOCAL_AUTH", "")

	cfg := FromEnv()
	assert.Equal(t, ModeOffline, cfg.Mode)
	assert.Equal(t, 5*time.Second, cfg.AutoSaveInterval)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, "fs", cfg.SnapshotDriver)
	assert.True(t, cfg.EnableLocalAuth)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MODE", "online")
	t.Setenv("AUTOSAVE_INTERVAL", "2s")
	t.Setenv("SNAPSHOT_DRIVER", "redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("CORS_ORIGINS", " https://a.example , https://b.example,")
	t.Setenv("TICK_INTERVAL", "not-a-duration")

	cfg := FromEnv()
	assert.Equal(t, ModeOnline, cfg.Mode)
	assert.False(t, cfg.EnableLocalAuth)
	assert.Equal(t, 2*time.Second, cfg.AutoSaveInterval)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, "redis", cfg.SnapshotDriver)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestNewLogger(t *testing.T) {
	l := NewLogger("debug", "json")
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	l = NewLogger("chatty", "")
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}

func TestWithContextAddsRequestID(t *testing.T) {
	log, hook := test.NewNullLogger()
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")

	WithContext(ctx, log).Info("hello")
	WithContext(context.Background(), log).Info("bare")

	entries := hook.AllEntries()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "req-42", entries[0].Data["request_id"])
		assert.NotContains(t, entries[1].Data, "request_id")
	}
}
