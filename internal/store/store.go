// Package store provides persistence for bandwidth telemetry.
//
// It manages a directory table of known senders plus one dedicated,
// append-only sample table per sender. SQLite is the backing database;
// tables are created lazily the first time a sender's data is persisted.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/bwmon/internal/logging"
)

var log = logging.Component("store")

// =============================================================================
// Store Configuration
// =============================================================================

// Config holds store configuration options.
type Config struct {
	// Path is the SQLite database file.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration

	// BusyTimeout is how long a statement waits on SQLite's store-wide
	// lock before failing. Contention turns into latency, not errors.
	BusyTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		BusyTimeout:     5 * time.Second,
	}
}

// =============================================================================
// Store
// =============================================================================

// sendersSchema holds the directory of known senders. Per-sender sample
// tables are created separately, see schema.go.
const sendersSchema = `
CREATE TABLE IF NOT EXISTS senders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	address TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT 'unknown',
	first_seen_ms INTEGER NOT NULL
);
`

// Store provides database operations for senders and samples.
//
// Store is safe for concurrent use.
type Store struct {
	db     *sqlx.DB
	config Config

	// table name registry, computed once per address
	namesMu sync.RWMutex
	names   map[string]string

	// absorbs concurrent EnsureTable races per address
	creating singleflight.Group

	mu     sync.Mutex
	closed bool
}

// Open opens the database, applies connection settings and creates the
// senders directory table.
func Open(cfg Config) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sendersSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init senders table: %w", err)
	}

	log.Info("store opened", "path", cfg.Path)

	return &Store{
		db:     db,
		config: cfg,
		names:  make(map[string]string),
	}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}
