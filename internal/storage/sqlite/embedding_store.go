package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/haverlock/argus/internal/storage"
)

// StoreEmbedding stores the feature vector for an event. Embeddings
// are immutable: storing a second vector for the same event fails.
func (s *Store) StoreEmbedding(ctx context.Context, eventID string, vec []float32) error {
	if eventID == "" {
		return fmt.Errorf("%w: event ID is required", storage.ErrInvalidInput)
	}
	if len(vec) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}

	query := `
		INSERT INTO embeddings (event_id, vec, dimension, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, eventID, encodeVector(vec), len(vec), time.Now())
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

// GetEmbedding retrieves the vector for an event.
// Returns storage.ErrNotFound if no embedding exists.
func (s *Store) GetEmbedding(ctx context.Context, eventID string) ([]float32, error) {
	if eventID == "" {
		return nil, fmt.Errorf("%w: event ID is required", storage.ErrInvalidInput)
	}

	var buf []byte
	var dimension int
	err := s.db.QueryRowContext(ctx,
		`SELECT vec, dimension FROM embeddings WHERE event_id = ?`, eventID).
		Scan(&buf, &dimension)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}

	vec, err := decodeVector(buf, dimension)
	if err != nil {
		return nil, fmt.Errorf("failed to decode embedding: %w", err)
	}
	return vec, nil
}
