// Package sqlite implements the storage.Store interface on SQLite.
// It is the default engine: a single local file, WAL mode, one writer.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/haverlock/argus/internal/storage"
)

// Schema creates all tables used by the core. Executed on every open;
// all statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
	id               TEXT PRIMARY KEY,
	type             TEXT NOT NULL,
	occurrence_count INTEGER NOT NULL DEFAULT 0 CHECK (occurrence_count >= 0),
	signature        TEXT,
	embedding        BLOB,
	first_seen       TIMESTAMP,
	last_seen        TIMESTAMP,
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);

CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	camera_id   TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMP NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	media_ref   TEXT NOT NULL DEFAULT '',
	descriptor  TEXT NOT NULL DEFAULT '',
	entity_id   TEXT REFERENCES entities(id)
);
CREATE INDEX IF NOT EXISTS idx_events_order ON events(occurred_at, id);
CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id);

CREATE TABLE IF NOT EXISTS embeddings (
	event_id   TEXT PRIMARY KEY REFERENCES events(id),
	vec        BLOB NOT NULL,
	dimension  INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_adjustments (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id      TEXT NOT NULL,
	old_entity_id TEXT,
	new_entity_id TEXT,
	action        TEXT NOT NULL,
	txn_id        TEXT NOT NULL,
	recorded_at   TIMESTAMP NOT NULL,
	snapshot      TEXT
);
CREATE INDEX IF NOT EXISTS idx_adjustments_event ON entity_adjustments(event_id);
CREATE INDEX IF NOT EXISTS idx_adjustments_old ON entity_adjustments(old_entity_id);
CREATE INDEX IF NOT EXISTS idx_adjustments_new ON entity_adjustments(new_entity_id);

CREATE TABLE IF NOT EXISTS reprocess_checkpoint (
	slot                 INTEGER PRIMARY KEY CHECK (slot = 1),
	task_id              TEXT NOT NULL,
	status               TEXT NOT NULL,
	total                INTEGER NOT NULL,
	processed            INTEGER NOT NULL,
	entities_matched     INTEGER NOT NULL,
	embeddings_generated INTEGER NOT NULL,
	errors               INTEGER NOT NULL,
	last_event_id        TEXT NOT NULL DEFAULT '',
	error                TEXT NOT NULL DEFAULT '',
	started_at           TIMESTAMP NOT NULL,
	updated_at           TIMESTAMP NOT NULL,
	completed_at         TIMESTAMP
);
`

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database, configures WAL mode, and creates
// the schema.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Using a single open
	// connection serialises writes and avoids SQLITE_BUSY errors when
	// the bulk engine and the manual-override service mutate the same
	// tables concurrently. WAL mode allows readers to proceed without
	// blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait instead of failing immediately when the connection is held
	// by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// GetDB exposes the underlying connection (used by config persistence
// and tests).
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetStats returns the coverage summary for the stats endpoint.
func (s *Store) GetStats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{EntitiesByType: make(map[string]int)}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE entity_id IS NOT NULL`).Scan(&stats.LinkedEvents); err != nil {
		return nil, fmt.Errorf("failed to count linked events: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&stats.EventsWithVec); err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entity_adjustments`).Scan(&stats.LedgerRowCount); err != nil {
		return nil, fmt.Errorf("failed to count ledger rows: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM entities GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("failed to scan entity count: %w", err)
		}
		stats.EntitiesByType[typ] = n
		stats.TotalEntities += n
	}

	return stats, rows.Err()
}
