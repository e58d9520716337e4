// Package store persists relays, capture sessions, and analysis cases in
// SQLite, and layers an optional byte cache over the hot read paths.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/torsightlabs/torsight-tca/internal/cache"
)

const schema = `
CREATE TABLE IF NOT EXISTS relays (
    fingerprint     TEXT PRIMARY KEY,
    nickname        TEXT NOT NULL,
    role            TEXT NOT NULL,
    masked_ip       TEXT NOT NULL,
    port            INTEGER NOT NULL,
    country         TEXT NOT NULL,
    bandwidth_kbps  INTEGER NOT NULL,
    flags           TEXT NOT NULL DEFAULT '',
    uptime_seconds  INTEGER NOT NULL,
    created_at_ns   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_relays_role ON relays(role);

CREATE TABLE IF NOT EXISTS sessions (
    session_id      TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    start_ns        INTEGER NOT NULL,
    end_ns          INTEGER NOT NULL,
    packet_count    INTEGER NOT NULL,
    total_bytes     INTEGER NOT NULL,
    created_at_ns   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS packets (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id      TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
    timestamp_ns    INTEGER NOT NULL,
    src_addr        TEXT NOT NULL,
    dst_addr        TEXT NOT NULL,
    protocol        TEXT NOT NULL,
    size            INTEGER NOT NULL,
    direction       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_packets_session ON packets(session_id, timestamp_ns);

CREATE TABLE IF NOT EXISTS analyses (
    case_id             TEXT PRIMARY KEY,
    session_id          TEXT NOT NULL,
    time_window_seconds REAL NOT NULL,
    timing_score        REAL NOT NULL DEFAULT 0,
    volume_score        REAL NOT NULL DEFAULT 0,
    pattern_score       REAL NOT NULL DEFAULT 0,
    overall_confidence  REAL NOT NULL DEFAULT 0,
    circuit_json        TEXT NOT NULL DEFAULT '',
    probable_origin     TEXT NOT NULL DEFAULT '',
    justification       TEXT NOT NULL DEFAULT '',
    evidence_hash       TEXT NOT NULL DEFAULT '',
    status              TEXT NOT NULL,
    failure_reason      TEXT NOT NULL DEFAULT '',
    analyst_notes       TEXT NOT NULL DEFAULT '',
    created_at_ns       INTEGER NOT NULL,
    completed_at_ns     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_analyses_status ON analyses(status);
CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(created_at_ns);

CREATE TABLE IF NOT EXISTS meta (
    key     TEXT PRIMARY KEY,
    value   TEXT NOT NULL
);
`

const catalogVersionKey = "catalog_version"

// Store is the SQLite-backed persistence layer.
type Store struct {
	db         *sql.DB
	logger     *slog.Logger
	cache      cache.Provider
	catalogTTL time.Duration
	statsTTL   time.Duration
}

// Open opens or creates the database at path and applies the schema.
// Missing parent directories are created.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger,
		cache:  cache.NoopProvider{},
	}, nil
}

// AttachCache layers a cache over catalog and stats reads. TTLs of zero
// disable expiry for the respective key family.
func (s *Store) AttachCache(provider cache.Provider, catalogTTL, statsTTL time.Duration) {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	s.cache = provider
	s.catalogTTL = catalogTTL
	s.statsTTL = statsTTL
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) catalogVersion(ctx context.Context) (int64, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, catalogVersionKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read catalog version: %w", err)
	}
	var version int64
	if _, err := fmt.Sscanf(raw, "%d", &version); err != nil {
		return 0, fmt.Errorf("parse catalog version %q: %w", raw, err)
	}
	return version, nil
}

// bumpCatalogVersion invalidates cached catalog snapshots by moving reads
// to a new cache key; stale keys age out via TTL.
func (s *Store) bumpCatalogVersion(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, '1')
		ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT)`,
		catalogVersionKey,
	)
	if err != nil {
		return fmt.Errorf("bump catalog version: %w", err)
	}
	return nil
}
