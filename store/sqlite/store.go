// Package sqlite implements the Spindle store on SQLite via the pure-Go
// modernc driver. It suits single-node deployments and local development
// where running PostgreSQL is not worth the operational weight.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/lorekeep/spindle"
	spindlestore "github.com/lorekeep/spindle/store"
)

// compile-time interface check.
var _ spindlestore.Store = (*Store)(nil)

// Store implements store.Store on a SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a SQLite store on an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens the database file at path, creating it when missing.
// ":memory:" gives a throwaway in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// SQLite permits one writer at a time. A single connection queues
	// writers instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	return New(db), nil
}

// DB returns the underlying handle for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate applies the schema. Every statement is idempotent, so Migrate
// is safe to run on every boot.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", spindle.ErrMigrationFailed, err)
		}
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ──────────────────────────────────────────────────
// Error mapping
// ──────────────────────────────────────────────────

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// mapConstraint translates the two append constraints into their
// sentinels. The transactional pre-checks make hitting them rare; this
// covers writes that bypass the store.
func mapConstraint(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return err
	}

	if strings.Contains(msg, "idempotency_key") || strings.Contains(msg, "spindle_events_idem_unique") {
		return spindle.ErrDuplicateIdempotencyKey
	}
	if strings.Contains(msg, "version") {
		return spindle.ErrConcurrencyConflict
	}

	return err
}
