package postgres

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log"
	"math"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/haverlock/argus/internal/storage"
)

// Store implements storage.Store using PostgreSQL.
type Store struct {
	db *sql.DB

	// pgvectorAvailable is true when the vector extension is present
	// and the entities.embedding_vec column exists. Candidate lookup
	// then uses cosine-distance ordering; otherwise it falls back to
	// the recency-ordered pool scan, same as the SQLite backend.
	pgvectorAvailable bool
}

// NewStore connects to PostgreSQL, creates the schema, and probes for
// the pgvector extension.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	store := &Store{db: db}

	// Try to enable pgvector. Failure is not fatal: the BYTEA path
	// works everywhere, pgvector only speeds up candidate lookup.
	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Printf("postgres: pgvector extension unavailable, using BYTEA candidate scan: %v", err)
		return store, nil
	}
	if _, err := db.Exec(MigrationPgvector); err != nil {
		log.Printf("postgres: pgvector migration failed, using BYTEA candidate scan: %v", err)
		return store, nil
	}

	store.pgvectorAvailable = true
	log.Println("postgres: pgvector available, using cosine-distance candidate ordering")
	return store, nil
}

// GetDB exposes the underlying connection.
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

// rowScanner matches both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nullableID maps an empty string to SQL NULL.
func nullableID(id string) sql.NullString {
	return sql.NullString{String: id, Valid: id != ""}
}

// encodeVector serializes a float32 vector to little-endian bytes for
// BYTEA storage.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector deserializes a BYTEA value back into a float32 vector.
func decodeVector(buf []byte, dimension int) ([]float32, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dimension)
	}
	if len(buf) != dimension*4 {
		return nil, fmt.Errorf("buffer size mismatch: expected %d bytes, got %d", dimension*4, len(buf))
	}

	vec := make([]float32, dimension)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
