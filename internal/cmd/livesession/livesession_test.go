package livesession

import (
	"context"
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	server "github.com/louisbranch/livesession/internal/services/livesession/app"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("livesession", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Port)
	assert.Empty(t, cfg.Addr)
	assert.Equal(t, "sqlite", cfg.Store)
	assert.Equal(t, 6, cfg.MaxPlayers)
	assert.Equal(t, 100, cfg.MaxVersions)
	assert.False(t, cfg.CacheInvalidation)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8090", cfg.ListenAddr())
}

func TestParseConfigEnvAndFlags(t *testing.T) {
	t.Setenv("LIVESESSION_STORE", "bbolt")
	t.Setenv("LIVESESSION_MAX_PLAYERS", "4")
	t.Setenv("LIVESESSION_LOG_LEVEL", "debug")

	fs := flag.NewFlagSet("livesession", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-addr", "127.0.0.1:9999", "-max-versions", "20"})
	require.NoError(t, err)

	assert.Equal(t, "bbolt", cfg.Store)
	assert.Equal(t, 4, cfg.MaxPlayers)
	assert.Equal(t, 20, cfg.MaxVersions)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:9999", cfg.ListenAddr())
}

func TestParseConfigRejectsInvalidLimits(t *testing.T) {
	fs := flag.NewFlagSet("livesession", flag.ContinueOnError)
	_, err := ParseConfig(fs, []string{"-max-players", "0"})
	assert.Error(t, err)
}

func TestServerConfigMapsSettings(t *testing.T) {
	cfg := Config{Port: 7000, Store: "redis", RedisAddr: "cache:6379", MaxPlayers: 5, MaxVersions: 50, CacheInvalidation: true}
	got := serverConfig(cfg)
	assert.Equal(t, server.Config{
		Addr:              ":7000",
		Store:             "redis",
		RedisAddr:         "cache:6379",
		MaxPlayers:        5,
		MaxVersions:       50,
		CacheInvalidation: true,
	}, got)
}

func TestRunServesUntilCancelled(t *testing.T) {
	t.Setenv("LIVESESSION_OTEL_ENDPOINT", "")
	cfg := Config{
		Addr:        "127.0.0.1:0",
		Store:       "memory",
		MaxPlayers:  6,
		MaxVersions: 100,
	}
	cfg.Log.Level = "error"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestProbeFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := Run(ctx, Config{Addr: "127.0.0.1:1", HealthCheck: true})
	assert.Error(t, err)
}
