package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/haverlock/argus/internal/storage"
	"github.com/haverlock/argus/pkg/types"
)

// CreateEntity inserts a new entity. The representative embedding is
// always stored in the BYTEA column; when pgvector is available it is
// also stored in embedding_vec for cosine-distance candidate lookup.
func (s *Store) CreateEntity(ctx context.Context, entity *types.Entity) error {
	if entity == nil {
		return storage.ErrInvalidInput
	}
	if entity.ID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if !types.ValidEntityType(entity.Type) {
		return fmt.Errorf("%w: unknown entity type %q", storage.ErrInvalidInput, entity.Type)
	}

	now := time.Now()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	if entity.UpdatedAt.IsZero() {
		entity.UpdatedAt = now
	}
	entity.OccurrenceCount = 0

	var sigJSON []byte
	var err error
	if len(entity.Signature) > 0 {
		sigJSON, err = json.Marshal(entity.Signature)
		if err != nil {
			return fmt.Errorf("failed to marshal signature: %w", err)
		}
	}

	var emb []byte
	if len(entity.Embedding) > 0 {
		emb = encodeVector(entity.Embedding)
	}

	if s.pgvectorAvailable && len(entity.Embedding) > 0 {
		query := `
			INSERT INTO entities (id, type, occurrence_count, signature, embedding, embedding_vec, first_seen, last_seen, created_at, updated_at)
			VALUES ($1, $2, 0, $3, $4, $5, $6, $7, $8, $9)
		`
		_, err = s.db.ExecContext(ctx, query, entity.ID, entity.Type, sigJSON, emb,
			pgvector.NewVector(entity.Embedding),
			nullableTime(entity.FirstSeen), nullableTime(entity.LastSeen),
			entity.CreatedAt, entity.UpdatedAt)
		if err == nil {
			return nil
		}
		// Fall back to the BYTEA-only path and log.
		log.Printf("postgres: failed to store embedding_vec (falling back to BYTEA only): %v", err)
	}

	query := `
		INSERT INTO entities (id, type, occurrence_count, signature, embedding, first_seen, last_seen, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query, entity.ID, entity.Type, sigJSON, emb,
		nullableTime(entity.FirstSeen), nullableTime(entity.LastSeen),
		entity.CreatedAt, entity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}
	return nil
}

// GetEntity retrieves an entity by ID.
func (s *Store) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	entity, err := scanEntity(s.db.QueryRowContext(ctx, entitySelect+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return entity, nil
}

// ListEntities returns entities matching the filter plus the total
// count, most recently seen first.
func (s *Store) ListEntities(ctx context.Context, filter storage.EntityFilter) ([]*types.Entity, int, error) {
	filter.Normalize()

	where := ""
	var args []interface{}
	if filter.Type != "" {
		where = ` WHERE type = $1`
		args = append(args, filter.Type)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count entities: %w", err)
	}

	query := fmt.Sprintf(`%s%s
		ORDER BY last_seen DESC NULLS LAST, created_at DESC
		LIMIT $%d OFFSET $%d`, entitySelect, where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var entities []*types.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, entity)
	}
	return entities, total, rows.Err()
}

// NearestCandidates returns entities of the given type for similarity
// scoring. With pgvector the pool is ordered by cosine distance to vec
// so the best matches come first; otherwise it falls back to the
// recency-ordered scan used by the SQLite backend.
func (s *Store) NearestCandidates(ctx context.Context, entityType string, vec []float32, limit int) ([]*types.Entity, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: candidate limit must be positive", storage.ErrInvalidInput)
	}

	var query string
	var args []interface{}

	if s.pgvectorAvailable && len(vec) > 0 {
		query = entitySelect + `
			WHERE type = $1 AND embedding_vec IS NOT NULL
			ORDER BY embedding_vec <=> $2
			LIMIT $3`
		args = []interface{}{entityType, pgvector.NewVector(vec), limit}
	} else {
		query = entitySelect + `
			WHERE type = $1 AND embedding IS NOT NULL
			ORDER BY last_seen DESC NULLS LAST
			LIMIT $2`
		args = []interface{}{entityType, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	defer rows.Close()

	var entities []*types.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

const entitySelect = `
	SELECT id, type, occurrence_count, signature, embedding, first_seen, last_seen, created_at, updated_at
	FROM entities`

func scanEntity(row rowScanner) (*types.Entity, error) {
	var entity types.Entity
	var sigJSON []byte
	var emb []byte
	var firstSeen, lastSeen sql.NullTime

	err := row.Scan(&entity.ID, &entity.Type, &entity.OccurrenceCount, &sigJSON, &emb,
		&firstSeen, &lastSeen, &entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(sigJSON) > 0 {
		if err := json.Unmarshal(sigJSON, &entity.Signature); err != nil {
			return nil, fmt.Errorf("failed to unmarshal signature: %w", err)
		}
	}
	if len(emb) > 0 {
		vec, err := decodeVector(emb, len(emb)/4)
		if err != nil {
			return nil, err
		}
		entity.Embedding = vec
	}
	if firstSeen.Valid {
		entity.FirstSeen = firstSeen.Time
	}
	if lastSeen.Valid {
		entity.LastSeen = lastSeen.Time
	}
	return &entity, nil
}

// nullableTime maps a zero time to SQL NULL.
func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
