package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haverlock/argus/internal/storage"
	"github.com/haverlock/argus/pkg/types"
)

// SaveCheckpoint overwrites the single checkpoint slot.
func (s *Store) SaveCheckpoint(ctx context.Context, task *types.ReprocessTask) error {
	if task == nil || task.TaskID == "" {
		return fmt.Errorf("%w: task with ID is required", storage.ErrInvalidInput)
	}

	stateJSON, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	query := `
		INSERT INTO reprocess_checkpoint (slot, task_id, status, state, updated_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT(slot) DO UPDATE SET
			task_id    = excluded.task_id,
			status     = excluded.status,
			state      = excluded.state,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query, task.TaskID, string(task.Status), stateJSON, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the checkpointed task, or ErrNotFound when no
// run has ever been recorded.
func (s *Store) LoadCheckpoint(ctx context.Context) (*types.ReprocessTask, error) {
	var stateJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM reprocess_checkpoint WHERE slot = 1`).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var task types.ReprocessTask
	if err := json.Unmarshal(stateJSON, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &task, nil
}
