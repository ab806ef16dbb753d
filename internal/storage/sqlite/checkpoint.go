package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/haverlock/argus/internal/storage"
	"github.com/haverlock/argus/pkg/types"
)

// SaveCheckpoint upserts the single task-checkpoint slot. The row is
// overwritten after every batch; only the latest state is durable.
func (s *Store) SaveCheckpoint(ctx context.Context, task *types.ReprocessTask) error {
	if task == nil || task.TaskID == "" {
		return fmt.Errorf("%w: task with ID is required", storage.ErrInvalidInput)
	}

	query := `
		INSERT INTO reprocess_checkpoint
			(slot, task_id, status, total, processed, entities_matched, embeddings_generated,
			 errors, last_event_id, error, started_at, updated_at, completed_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			task_id              = excluded.task_id,
			status               = excluded.status,
			total                = excluded.total,
			processed            = excluded.processed,
			entities_matched     = excluded.entities_matched,
			embeddings_generated = excluded.embeddings_generated,
			errors               = excluded.errors,
			last_event_id        = excluded.last_event_id,
			error                = excluded.error,
			started_at           = excluded.started_at,
			updated_at           = excluded.updated_at,
			completed_at         = excluded.completed_at
	`

	var completedAt sql.NullTime
	if task.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *task.CompletedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		task.TaskID, string(task.Status), task.Total, task.Processed,
		task.EntitiesMatched, task.EmbeddingsGenerated, task.Errors,
		task.LastEventID, task.Error, task.StartedAt, task.UpdatedAt, completedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the last saved task state, or
// storage.ErrNotFound if no run has ever been checkpointed.
func (s *Store) LoadCheckpoint(ctx context.Context) (*types.ReprocessTask, error) {
	query := `
		SELECT task_id, status, total, processed, entities_matched, embeddings_generated,
		       errors, last_event_id, error, started_at, updated_at, completed_at
		FROM reprocess_checkpoint
		WHERE slot = 1
	`

	var task types.ReprocessTask
	var status string
	var completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query).Scan(
		&task.TaskID, &status, &task.Total, &task.Processed,
		&task.EntitiesMatched, &task.EmbeddingsGenerated, &task.Errors,
		&task.LastEventID, &task.Error, &task.StartedAt, &task.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	task.Status = types.TaskStatus(status)
	if completedAt.Valid {
		done := completedAt.Time
		task.CompletedAt = &done
	}
	return &task, nil
}
