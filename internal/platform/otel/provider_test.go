package otel_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisbranch/livesession/internal/platform/otel"
)

func TestSetupIsNoopWithoutEndpoint(t *testing.T) {
	shutdown, err := otel.Setup(context.Background(), "test-service", otel.Config{Enabled: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, shutdown(ctx))
}

func TestSetupIsNoopWhenDisabled(t *testing.T) {
	shutdown, err := otel.Setup(context.Background(), "test-service", otel.Config{
		Endpoint: "http://localhost:4318",
	})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupInstallsProviders(t *testing.T) {
	// Non-routable address: nothing is exported before shutdown.
	shutdown, err := otel.Setup(context.Background(), "test-service", otel.Config{
		Endpoint:       "http://192.0.2.1:4318",
		Enabled:        true,
		MetricInterval: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = shutdown(ctx)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("LIVESESSION_OTEL_ENDPOINT", "http://collector:4318")
	t.Setenv("LIVESESSION_OTEL_ENABLED", "false")

	cfg, err := otel.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://collector:4318", cfg.Endpoint)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 30*time.Second, cfg.MetricInterval)
}
