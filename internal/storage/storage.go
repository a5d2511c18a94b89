// Package storage persists HTLC swap records using SQLite.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

// DBFileName is the database file created inside the data directory.
const DBFileName = "htlc.db"

// ErrNoDataDir is returned by New without a data directory.
var ErrNoDataDir = errors.New("storage: data directory required")

// dsnOptions enables WAL so readers do not block the single writer.
const dsnOptions = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"

// migrations are applied in order; PRAGMA user_version records how many
// have run. Append only.
var migrations = []string{
	`CREATE TABLE swaps (
		id              TEXT PRIMARY KEY,
		symbol          TEXT NOT NULL,
		network         TEXT NOT NULL,
		script_hex      TEXT NOT NULL,
		funding_address TEXT NOT NULL,
		payment_hash    TEXT NOT NULL,
		timelock        INTEGER NOT NULL DEFAULT 0,
		state           TEXT NOT NULL DEFAULT 'unfunded',
		funding_txid    TEXT,
		spend_txid      TEXT,
		secret          TEXT,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX idx_swaps_address ON swaps(symbol, network, funding_address);
	CREATE INDEX idx_swaps_state ON swaps(state);`,
}

// Storage is a SQLite-backed swap store. It is safe for concurrent use.
type Storage struct {
	db   *sql.DB
	path string
	log  *logging.Logger

	// mu makes read-check-write sequences in the swap methods atomic.
	mu sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	// DataDir holds DBFileName. A leading ~ expands to the home directory.
	DataDir string
	Logger  *logging.Logger
}

// New opens (creating if needed) the swap database under cfg.DataDir and
// brings its schema up to date.
func New(cfg *Config) (*Storage, error) {
	if cfg == nil || cfg.DataDir == "" {
		return nil, ErrNoDataDir
	}
	dir := expandPath(cfg.DataDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	path := filepath.Join(dir, DBFileName)
	db, err := sql.Open("sqlite3", path+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// One connection serialises writers; sqlite3 has no concurrent writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{db: db, path: path, log: cfg.Logger.Component("storage")}
	version, err := s.migrate()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate %s: %w", path, err)
	}
	s.log.Debug("Opened swap store", "path", path, "schema", version)
	return s, nil
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB exposes the connection for ad hoc queries.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.path
}

// SchemaVersion reports how many migrations have been applied.
func (s *Storage) SchemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow("PRAGMA user_version").Scan(&v)
	return v, err
}

func (s *Storage) migrate() (int, error) {
	current, err := s.SchemaVersion()
	if err != nil {
		return 0, err
	}
	if current > len(migrations) {
		return current, fmt.Errorf("schema version %d is newer than this build (%d)", current, len(migrations))
	}

	for i := current; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return i, err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return i, fmt.Errorf("migration %d: %w", i+1, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return i, err
		}
		if err := tx.Commit(); err != nil {
			return i, err
		}
		s.log.Info("Applied schema migration", "version", i+1)
	}
	return len(migrations), nil
}

func expandPath(path string) string {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
