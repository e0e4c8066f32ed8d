// Package server wires the live session runtime and its gRPC lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	platformgrpc "github.com/louisbranch/livesession/internal/platform/grpc"
	"github.com/louisbranch/livesession/internal/platform/telemetry/metrics"
	"github.com/louisbranch/livesession/internal/services/combat"
	"github.com/louisbranch/livesession/internal/services/session"
	"github.com/louisbranch/livesession/internal/services/state"
	"github.com/louisbranch/livesession/internal/services/state/storage"
	statebbolt "github.com/louisbranch/livesession/internal/services/state/storage/bbolt"
	"github.com/louisbranch/livesession/internal/services/state/storage/memory"
	stateredis "github.com/louisbranch/livesession/internal/services/state/storage/redis"
	statesqlite "github.com/louisbranch/livesession/internal/services/state/storage/sqlite"
)

// Store backends selectable by Config.Store.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreBbolt  = "bbolt"
	StoreRedis  = "redis"
)

// Config selects the backend and tunes the services.
type Config struct {
	Addr              string
	Store             string
	SQLitePath        string
	BboltPath         string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	MaxPlayers        int
	MaxVersions       int
	CacheInvalidation bool
}

// Server hosts the live session services behind a gRPC health endpoint.
type Server struct {
	grpc    *platformgrpc.Server
	logger  *zap.Logger
	store   storage.Store
	closers []io.Closer

	state   *state.Service
	combat  *combat.Service
	session *session.Service
}

// New opens the configured store and builds the services. The services are
// not initialized until Serve runs.
func New(cfg Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder, err := metrics.New(nil)
	if err != nil {
		return nil, err
	}

	s := &Server{logger: logger}
	var redisClient *goredis.Client
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		redisClient = stateredis.NewClient(
			stateredis.WithAddress(cfg.RedisAddr),
			stateredis.WithPassword(cfg.RedisPassword),
			stateredis.WithDB(cfg.RedisDB),
		)
		s.closers = append(s.closers, redisClient)
	}

	store, err := openStore(cfg, redisClient)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.store = store
	if c, ok := store.(io.Closer); ok {
		s.closers = append([]io.Closer{c}, s.closers...)
	}

	stateOpts := []state.Option{
		state.WithLogger(logger.Named("state")),
		state.WithMetrics(recorder),
		state.WithMaxVersions(cfg.MaxVersions),
	}
	if cfg.CacheInvalidation {
		if redisClient == nil {
			s.Close()
			return nil, errors.New("cache invalidation requires a redis address")
		}
		inv, err := stateredis.NewInvalidator(redisClient, "")
		if err != nil {
			s.Close()
			return nil, err
		}
		stateOpts = append(stateOpts, state.WithInvalidator(inv))
	}
	if s.state, err = state.NewService(store, stateOpts...); err != nil {
		s.Close()
		return nil, err
	}
	if s.combat, err = combat.NewService(s.state,
		combat.WithLogger(logger.Named("combat")),
		combat.WithMetrics(recorder),
	); err != nil {
		s.Close()
		return nil, err
	}
	if s.session, err = session.NewService(s.state,
		session.WithLogger(logger.Named("session")),
		session.WithMetrics(recorder),
		session.WithDefaultMaxPlayers(cfg.MaxPlayers),
	); err != nil {
		s.Close()
		return nil, err
	}

	if s.grpc, err = platformgrpc.Listen(cfg.Addr, logger); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Addr returns the gRPC listener address.
func (s *Server) Addr() string {
	if s == nil || s.grpc == nil {
		return ""
	}
	return s.grpc.Addr()
}

// State returns the state service.
func (s *Server) State() *state.Service { return s.state }

// Combat returns the combat service.
func (s *Server) Combat() *combat.Service { return s.combat }

// Session returns the session service.
func (s *Server) Session() *session.Service { return s.session }

// Serve initializes the services, reports SERVING and blocks until ctx
// ends. Services are cleaned up and the store closed before it returns.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	defer s.Close()

	lifecycle := []struct {
		name string
		init func(context.Context) error
		done func(context.Context) error
	}{
		{"state", s.state.Initialize, s.state.Cleanup},
		{"combat", s.combat.Initialize, s.combat.Cleanup},
		{"session", s.session.Initialize, s.session.Cleanup},
	}
	for i, svc := range lifecycle {
		if err := svc.init(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = lifecycle[j].done(context.Background())
			}
			return fmt.Errorf("initialize %s: %w", svc.name, err)
		}
	}
	defer func() {
		for j := len(lifecycle) - 1; j >= 0; j-- {
			if err := lifecycle[j].done(context.Background()); err != nil {
				s.logger.Warn("cleanup", zap.String("service", lifecycle[j].name), zap.Error(err))
			}
		}
	}()

	s.grpc.MarkServing("")
	s.logger.Info("live session service ready")
	return s.grpc.Serve(ctx)
}

// Close releases the listener, store and redis client.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.grpc != nil {
		s.grpc.Close()
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			s.logger.Warn("close resource", zap.Error(err))
		}
	}
	s.closers = nil
}

func openStore(cfg Config, redisClient *goredis.Client) (storage.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case StoreMemory:
		return memory.New(), nil
	case StoreSQLite, "":
		if err := ensureDir(cfg.SQLitePath); err != nil {
			return nil, err
		}
		store, err := statesqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite state store: %w", err)
		}
		return store, nil
	case StoreBbolt:
		if err := ensureDir(cfg.BboltPath); err != nil {
			return nil, err
		}
		store, err := statebbolt.Open(cfg.BboltPath)
		if err != nil {
			return nil, fmt.Errorf("open bbolt state store: %w", err)
		}
		return store, nil
	case StoreRedis:
		if redisClient == nil {
			return nil, errors.New("redis store requires a redis address")
		}
		return stateredis.NewStore(redisClient)
	default:
		return nil, fmt.Errorf("unknown state store %q", cfg.Store)
	}
}

func ensureDir(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("store path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}
	return nil
}
