// Package postgres builds the shared pgx pool and traces its queries.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Options tune the pool's query tracing.
type Options struct {
	// Observer receives the duration of every query. Nil disables it.
	Observer QueryObserver

	// SlowQuery is the threshold below which successful queries are not
	// logged. Zero logs every query.
	SlowQuery time.Duration

	// LogArgs includes bound query arguments in query logs. Arguments carry
	// owner identifiers and answers, so it stays off outside development.
	LogArgs bool

	// MaxConns overrides the pool size when positive.
	MaxConns int32
}

// NewPool parses databaseURL, installs the otelpgx and logging tracers and
// verifies connectivity. The caller closes the pool.
func NewPool(ctx context.Context, databaseURL string, opts Options) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.ConnConfig.Tracer = newQueryTracer(otelpgx.NewTracer(), opts)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := otelpgx.RecordStats(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("record pool stats: %w", err)
	}
	return pool, nil
}
