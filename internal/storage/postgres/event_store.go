package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/haverlock/argus/internal/storage"
	"github.com/haverlock/argus/pkg/types"
)

// PutEvent creates or replaces an event row (upsert semantics).
func (s *Store) PutEvent(ctx context.Context, event *types.Event) error {
	if event == nil {
		return storage.ErrInvalidInput
	}
	if event.ID == "" {
		return fmt.Errorf("%w: event ID is required", storage.ErrInvalidInput)
	}
	if event.OccurredAt.IsZero() {
		return fmt.Errorf("%w: event occurred_at is required", storage.ErrInvalidInput)
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO events (id, camera_id, occurred_at, created_at, media_ref, descriptor, entity_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT(id) DO UPDATE SET
			camera_id  = excluded.camera_id,
			media_ref  = excluded.media_ref,
			descriptor = excluded.descriptor
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.CameraID, event.OccurredAt, event.CreatedAt,
		event.MediaRef, event.Descriptor, nullableID(event.EntityID))
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by ID.
func (s *Store) GetEvent(ctx context.Context, id string) (*types.Event, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: event ID is required", storage.ErrInvalidInput)
	}

	query := `
		SELECT e.id, e.camera_id, e.occurred_at, e.created_at, e.media_ref, e.descriptor,
		       e.entity_id, emb.event_id IS NOT NULL
		FROM events e
		LEFT JOIN embeddings emb ON emb.event_id = e.id
		WHERE e.id = $1
	`

	event, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// CountEvents returns the number of events matching the filter.
func (s *Store) CountEvents(ctx context.Context, filter storage.EventFilter) (int, error) {
	where, args := eventFilterClause(filter, 0)

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events e"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// ListEvents returns one page of the filtered event set in stable
// (occurred_at, id) ascending order.
func (s *Store) ListEvents(ctx context.Context, filter storage.EventFilter, page storage.EventPage) ([]*types.Event, error) {
	if page.Limit <= 0 {
		return nil, fmt.Errorf("%w: page limit must be positive", storage.ErrInvalidInput)
	}

	where, args := eventFilterClause(filter, 0)

	if page.AfterID != "" {
		if where == "" {
			where = " WHERE"
		} else {
			where += " AND"
		}
		n := len(args)
		where += fmt.Sprintf(" (e.occurred_at > $%d OR (e.occurred_at = $%d AND e.id > $%d))", n+1, n+2, n+3)
		args = append(args, page.AfterTime, page.AfterTime, page.AfterID)
	}

	query := fmt.Sprintf(`
		SELECT e.id, e.camera_id, e.occurred_at, e.created_at, e.media_ref, e.descriptor,
		       e.entity_id, emb.event_id IS NOT NULL
		FROM events e
		LEFT JOIN embeddings emb ON emb.event_id = e.id%s
		ORDER BY e.occurred_at ASC, e.id ASC
		LIMIT $%d`, where, len(args)+1)
	args = append(args, page.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*types.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// eventFilterClause builds the WHERE clause for an EventFilter using
// $n placeholders starting after argOffset.
func eventFilterClause(filter storage.EventFilter, argOffset int) (string, []interface{}) {
	var conds []string
	var args []interface{}

	n := argOffset
	if !filter.From.IsZero() {
		n++
		conds = append(conds, fmt.Sprintf("e.occurred_at >= $%d", n))
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		n++
		conds = append(conds, fmt.Sprintf("e.occurred_at < $%d", n))
		args = append(args, filter.To)
	}
	if filter.CameraID != "" {
		n++
		conds = append(conds, fmt.Sprintf("e.camera_id = $%d", n))
		args = append(args, filter.CameraID)
	}
	if filter.OnlyUnmatched {
		conds = append(conds, "e.entity_id IS NULL")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEvent(row rowScanner) (*types.Event, error) {
	var event types.Event
	var entityID sql.NullString

	err := row.Scan(&event.ID, &event.CameraID, &event.OccurredAt, &event.CreatedAt,
		&event.MediaRef, &event.Descriptor, &entityID, &event.HasEmbedding)
	if err != nil {
		return nil, err
	}

	event.EntityID = entityID.String
	return &event, nil
}
