// Package livesession parses live session command flags and starts the
// service.
package livesession

import (
	"context"
	"flag"
	"fmt"
	"time"

	"go.uber.org/zap"

	entrypoint "github.com/louisbranch/livesession/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/livesession/internal/platform/grpc"
	"github.com/louisbranch/livesession/internal/platform/logging"
	server "github.com/louisbranch/livesession/internal/services/livesession/app"
	"github.com/louisbranch/livesession/internal/services/session"
	"github.com/louisbranch/livesession/internal/services/state"
)

const healthCheckTimeout = 5 * time.Second

// Config holds live session command configuration.
type Config struct {
	Port              int    `env:"LIVESESSION_PORT" envDefault:"8090"`
	Addr              string `env:"LIVESESSION_ADDR"`
	Store             string `env:"LIVESESSION_STORE" envDefault:"sqlite"`
	SQLitePath        string `env:"LIVESESSION_SQLITE_PATH" envDefault:"data/livesession.db"`
	BboltPath         string `env:"LIVESESSION_BBOLT_PATH" envDefault:"data/livesession.bolt"`
	RedisAddr         string `env:"LIVESESSION_REDIS_ADDR"`
	RedisPassword     string `env:"LIVESESSION_REDIS_PASSWORD"`
	RedisDB           int    `env:"LIVESESSION_REDIS_DB" envDefault:"0"`
	MaxPlayers        int    `env:"LIVESESSION_MAX_PLAYERS" envDefault:"6"`
	MaxVersions       int    `env:"LIVESESSION_MAX_VERSIONS" envDefault:"100"`
	CacheInvalidation bool   `env:"LIVESESSION_CACHE_INVALIDATION" envDefault:"false"`
	Log               logging.Config

	// HealthCheck probes a running instance at the listen address and exits.
	HealthCheck bool
}

// Validate rejects settings the services cannot run with.
func (c Config) Validate() error {
	if c.MaxPlayers <= 0 {
		return fmt.Errorf("LIVESESSION_MAX_PLAYERS must be positive, got %d", c.MaxPlayers)
	}
	if c.MaxVersions <= 0 {
		return fmt.Errorf("LIVESESSION_MAX_VERSIONS must be positive, got %d", c.MaxVersions)
	}
	return nil
}

// ListenAddr returns Addr when set, otherwise all interfaces on Port.
func (c Config) ListenAddr() string {
	if c.Addr != "" {
		return c.Addr
	}
	return fmt.Sprintf(":%d", c.Port)
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The live session gRPC server port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The live session listen address (overrides -port)")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "State store backend: memory, sqlite, bbolt or redis")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "SQLite state database path")
	fs.StringVar(&cfg.BboltPath, "bbolt-path", cfg.BboltPath, "bbolt state database path")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis host:port for the redis store and cache invalidation")
	fs.IntVar(&cfg.MaxPlayers, "max-players", cfg.MaxPlayers, "Default roster cap for new sessions")
	fs.IntVar(&cfg.MaxVersions, "max-versions", cfg.MaxVersions, "Change records kept per session for conflict resolution")
	fs.BoolVar(&cfg.CacheInvalidation, "cache-invalidation", cfg.CacheInvalidation, "Broadcast state commits over redis pub/sub")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level: debug, info, warn or error")
	fs.BoolVar(&cfg.HealthCheck, "healthcheck", false, "Probe the running service health and exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the live session service, or probes one with -healthcheck.
func Run(ctx context.Context, cfg Config) error {
	if cfg.HealthCheck {
		return probe(ctx, cfg)
	}
	logger, err := logging.New(entrypoint.ServiceLiveSession, cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceLiveSession, func(ctx context.Context) error {
		srv, err := server.New(serverConfig(cfg), logger)
		if err != nil {
			logger.Error("start live session server", zap.Error(err))
			return err
		}
		return srv.Serve(ctx)
	})
}

func serverConfig(cfg Config) server.Config {
	maxPlayers := cfg.MaxPlayers
	if maxPlayers <= 0 {
		maxPlayers = session.DefaultMaxPlayers
	}
	maxVersions := cfg.MaxVersions
	if maxVersions <= 0 {
		maxVersions = state.DefaultMaxVersions
	}
	return server.Config{
		Addr:              cfg.ListenAddr(),
		Store:             cfg.Store,
		SQLitePath:        cfg.SQLitePath,
		BboltPath:         cfg.BboltPath,
		RedisAddr:         cfg.RedisAddr,
		RedisPassword:     cfg.RedisPassword,
		RedisDB:           cfg.RedisDB,
		MaxPlayers:        maxPlayers,
		MaxVersions:       maxVersions,
		CacheInvalidation: cfg.CacheInvalidation,
	}
}

func probe(ctx context.Context, cfg Config) error {
	addr := cfg.ListenAddr()
	if cfg.Addr == "" {
		addr = fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
	conn, err := platformgrpc.DialWithHealth(ctx, addr, healthCheckTimeout, nil)
	if err != nil {
		return err
	}
	return conn.Close()
}
