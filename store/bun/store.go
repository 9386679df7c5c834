// Package bunstore implements experiment.Store on the Bun ORM (PostgreSQL
// dialect). The claim/guard SQL is identical in spirit to store/postgres;
// this backend exists for applications that already own a *bun.DB and want
// workerbee to share it.
package bunstore

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/Vagver/workerbee/experiment"
)

var _ experiment.Store = (*Store)(nil)

// Store is a Bun implementation of experiment.Store. The caller owns the
// *bun.DB lifecycle; Close never closes it.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new Bun store over an existing database handle.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the caller owns the *bun.DB.
func (s *Store) Close() error {
	return nil
}
