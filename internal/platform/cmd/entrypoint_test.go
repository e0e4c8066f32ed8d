package cmd

import (
	"context"
	"errors"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Address string `env:"CMD_TEST_ADDRESS" envDefault:"127.0.0.1:8080"`
	Mode    string `env:"CMD_TEST_MODE" envDefault:"server"`
}

func TestParseConfigReadsEnvThenFlags(t *testing.T) {
	t.Setenv("CMD_TEST_ADDRESS", "env:9000")
	t.Setenv("CMD_TEST_MODE", "env-mode")

	var cfg testConfig
	require.NoError(t, ParseConfig(&cfg))

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.StringVar(&cfg.Address, "address", cfg.Address, "address")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "mode")
	require.NoError(t, ParseArgs(fs, []string{"-address", "flag:9001"}))

	assert.Equal(t, "flag:9001", cfg.Address)
	assert.Equal(t, "env-mode", cfg.Mode)
}

func TestParseConfigRejectsNilTarget(t *testing.T) {
	assert.Error(t, ParseConfig[testConfig](nil))
}

func TestParseArgsRejectsNilParser(t *testing.T) {
	assert.Error(t, ParseArgs(nil, nil))
}

func TestRunWithTelemetryRejectsMissingInputs(t *testing.T) {
	assert.Error(t, RunWithTelemetry(context.Background(), "", func(context.Context) error { return nil }))
	assert.Error(t, RunWithTelemetry(context.Background(), ServiceLiveSession, nil))
}

func TestRunWithTelemetryReturnsRunError(t *testing.T) {
	t.Setenv("LIVESESSION_OTEL_ENDPOINT", "")
	boom := errors.New("boom")

	err := RunWithTelemetry(context.Background(), ServiceLiveSession, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}
