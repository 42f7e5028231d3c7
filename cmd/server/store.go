package main

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	pc "github.com/linnemanlabs/pawcketvet/internal/cfg"
	"github.com/linnemanlabs/pawcketvet/internal/postgres"
	"github.com/linnemanlabs/pawcketvet/internal/triage"
	"github.com/linnemanlabs/pawcketvet/internal/triage/memstore"
	"github.com/linnemanlabs/pawcketvet/internal/triage/pgstore"
	"github.com/linnemanlabs/pawcketvet/internal/triage/redisstore"
)

// sessionStore is the selected triage.Store plus whatever must be closed on exit.
type sessionStore struct {
	store        triage.Store
	usesPostgres bool
	closers      []func()
}

func (s *sessionStore) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStore selects postgres, then redis, then memory.
func openStore(ctx context.Context, c *pc.Config, obs postgres.QueryObserver, L log.Logger) (*sessionStore, error) {
	switch c.StoreBackend() {
	case pc.BackendPostgres:
		pool, err := postgres.NewPool(ctx, c.DatabaseURL, postgres.Options{
			Observer:  obs,
			SlowQuery: time.Duration(c.SlowQueryMillis) * time.Millisecond,
			LogArgs:   c.LogQueryArgs,
			MaxConns:  int32(c.DatabaseMaxConns), //nolint:gosec // G115: bounded to 0..1000 by Validate
		})
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		s, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("pgstore init: %w", err)
		}
		L.Info(ctx, "using postgres store")
		return &sessionStore{store: s, usesPostgres: true, closers: []func(){pool.Close}}, nil

	case pc.BackendRedis:
		client, err := redisstore.Connect(ctx, c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis connect: %w", err)
		}
		s, err := redisstore.New(client, c.SessionTTL)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redisstore init: %w", err)
		}
		L.Info(ctx, "using redis store", "session_ttl", c.SessionTTL.String())
		return &sessionStore{store: s, closers: []func(){func() { _ = client.Close() }}}, nil

	default:
		L.Info(ctx, "using in-memory store (no database-url or redis-url configured)")
		return &sessionStore{store: memstore.New()}, nil
	}
}
