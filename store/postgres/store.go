// Package postgres implements the Spindle store on PostgreSQL via pgx.
//
// Version assignment relies on a unique (aggregate_id, version) constraint:
// two writers racing for the same slot both pass the head check, and the
// constraint rejects the loser, which surfaces as ErrConcurrencyConflict.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lorekeep/spindle"
	spindlestore "github.com/lorekeep/spindle/store"
)

// compile-time interface check.
var _ spindlestore.Store = (*Store)(nil)

// Store implements store.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a PostgreSQL store on an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to the given DSN and returns a store on a fresh pool.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	return New(pool), nil
}

// Pool returns the underlying pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies the schema. Every statement is idempotent, so Migrate
// is safe to run on every boot.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", spindle.ErrMigrationFailed, err)
		}
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ──────────────────────────────────────────────────
// Error mapping
// ──────────────────────────────────────────────────

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// mapUniqueViolation translates the two append constraints into their
// sentinels. Other errors pass through untouched.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}

	switch pgErr.ConstraintName {
	case "spindle_events_version_unique":
		return spindle.ErrConcurrencyConflict
	case "spindle_events_idem_unique":
		return spindle.ErrDuplicateIdempotencyKey
	}

	return err
}
