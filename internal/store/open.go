// Package store holds the durable presence backends and the startup
// selection between them and the in-memory fallback.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/typio/virtualoffice/backend-go/internal/presence"
)

var ErrUnknownBackend = errors.New("unknown store backend")

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendBadger   = "badger"
	BackendMemory   = "memory"
)

type Config struct {
	Backend      string
	DatabaseURL  string
	RedisAddr    string
	RedisDB      int
	BadgerPath   string
	ProbeTimeout time.Duration
}

// Open connects the configured backend and probes it once. An unreachable
// backend is replaced by the in-memory store for the life of the process.
func Open(ctx context.Context, cfg Config) (presence.Store, error) {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}

	switch cfg.Backend {
	case BackendMemory:
		return presence.NewMemoryStore(), nil
	case BackendPostgres, BackendRedis, BackendBadger:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
	defer cancel()

	s, err := connect(ctx, cfg)
	if err == nil {
		if err = s.Ping(ctx); err != nil {
			s.Close()
		}
	}
	if err != nil {
		slog.Warn("presence store unavailable, using in-memory fallback",
			"backend", cfg.Backend, "error", err)
		return presence.NewMemoryStore(), nil
	}

	slog.Info("presence store connected", "backend", s.Name())
	return s, nil
}

func connect(ctx context.Context, cfg Config) (presence.Store, error) {
	switch cfg.Backend {
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is not set")
		}
		return NewPostgres(ctx, cfg.DatabaseURL)
	case BackendRedis:
		return NewRedis(cfg.RedisAddr, cfg.RedisDB), nil
	default:
		if cfg.BadgerPath == "" {
			return nil, errors.New("BADGER_PATH is not set")
		}
		return NewBadger(cfg.BadgerPath)
	}
}
