// Package diskstate implements the persistent Disk State (spec 4.9): the
// download queue, per-file partial state, history, dup history, and
// per-server stats. The reference implementation journals these to a
// versioned flat text file with write-to-temp-then-rename crash safety;
// this module reimagines that surface as SQLite tables (grounded on
// datallboy-GoNZB/internal/store/store.go's PersistentStore +
// migrate.go's golang-migrate wiring), with the reference's "write safely,
// reload on startup" guarantee provided by SQL transactions instead of a
// temp-file swap.
package diskstate

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store owns the SQLite connection backing the Disk State.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the SQLite database at dbPath and applies
// any pending migrations.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("diskstate: create db directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("diskstate: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("diskstate: connect sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		return nil, fmt.Errorf("diskstate: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) runMigrations() error {
	d, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", d, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }
