package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haverlock/argus/internal/storage"
	"github.com/haverlock/argus/pkg/types"
)

// The ledger methods below each run as one SQLite transaction covering
// the ledger append, the occurrence-count mutation, and the event's
// cached link update. A crash between any two of those must not be
// observable, so they are never split across transactions.

// ApplyAssign links an unlinked event to an entity.
func (s *Store) ApplyAssign(ctx context.Context, eventID, entityID string, snap *types.EventSnapshot) (*types.LinkState, error) {
	if eventID == "" || entityID == "" {
		return nil, fmt.Errorf("%w: event ID and entity ID are required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := eventLink(ctx, tx, eventID)
	if err != nil {
		return nil, err
	}
	if current != "" {
		return nil, storage.ErrAlreadyLinked
	}

	txnID := uuid.NewString()
	now := time.Now()

	if err := incrementCount(ctx, tx, entityID, now, nil); err != nil {
		return nil, err
	}
	if err := appendRow(ctx, tx, &types.EntityAdjustment{
		EventID:     eventID,
		NewEntityID: entityID,
		Action:      types.ActionAssign,
		TxnID:       txnID,
		RecordedAt:  now,
		Snapshot:    snap,
	}); err != nil {
		return nil, err
	}
	if err := setEventLink(ctx, tx, eventID, entityID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit assign: %w", err)
	}

	return &types.LinkState{
		EventID:  eventID,
		EntityID: entityID,
		Actions:  []types.AdjustmentAction{types.ActionAssign},
		TxnID:    txnID,
	}, nil
}

// ApplyMove relinks an event from its current entity to another. Both
// ledger rows share one txn id and timestamp so the pair is
// reconstructible as one transaction.
func (s *Store) ApplyMove(ctx context.Context, eventID, newEntityID string, snap *types.EventSnapshot) (*types.LinkState, error) {
	if eventID == "" || newEntityID == "" {
		return nil, fmt.Errorf("%w: event ID and entity ID are required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := eventLink(ctx, tx, eventID)
	if err != nil {
		return nil, err
	}
	if current == "" {
		return nil, storage.ErrNotLinked
	}
	if current == newEntityID {
		return nil, fmt.Errorf("%w: event is already linked to entity %s", storage.ErrInvalidInput, newEntityID)
	}

	txnID := uuid.NewString()
	now := time.Now()

	state, err := moveLocked(ctx, tx, eventID, current, newEntityID, nil, snap, txnID, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit move: %w", err)
	}
	return state, nil
}

// ApplyUnlink clears an event's entity link.
func (s *Store) ApplyUnlink(ctx context.Context, eventID string, snap *types.EventSnapshot) (*types.LinkState, error) {
	if eventID == "" {
		return nil, fmt.Errorf("%w: event ID is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := eventLink(ctx, tx, eventID)
	if err != nil {
		return nil, err
	}
	if current == "" {
		return nil, storage.ErrNotLinked
	}

	txnID := uuid.NewString()
	now := time.Now()

	if err := decrementCount(ctx, tx, current, now); err != nil {
		return nil, err
	}
	if err := appendRow(ctx, tx, &types.EntityAdjustment{
		EventID:     eventID,
		OldEntityID: current,
		Action:      types.ActionUnlink,
		TxnID:       txnID,
		RecordedAt:  now,
		Snapshot:    snap,
	}); err != nil {
		return nil, err
	}
	if err := setEventLink(ctx, tx, eventID, ""); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit unlink: %w", err)
	}

	return &types.LinkState{
		EventID: eventID,
		Actions: []types.AdjustmentAction{types.ActionUnlink},
		TxnID:   txnID,
	}, nil
}

// LinkResolved records a bulk-resolution outcome, choosing between
// assign, move, and no-op based on the event's current link. sigAttrs
// is merged into the target entity's signature in the same transaction
// as the count mutation.
func (s *Store) LinkResolved(ctx context.Context, eventID, entityID string, sigAttrs map[string]string, snap *types.EventSnapshot) (*types.LinkState, error) {
	if eventID == "" || entityID == "" {
		return nil, fmt.Errorf("%w: event ID and entity ID are required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := eventLink(ctx, tx, eventID)
	if err != nil {
		return nil, err
	}

	txnID := uuid.NewString()
	now := time.Now()
	state := &types.LinkState{EventID: eventID, EntityID: entityID, TxnID: txnID}

	switch current {
	case entityID:
		// Already linked to the resolved entity: refine the signature
		// but record no ledger rows and touch no counts.
		if err := mergeSignature(ctx, tx, entityID, sigAttrs, now); err != nil {
			return nil, err
		}

	case "":
		if err := incrementCount(ctx, tx, entityID, now, sigAttrs); err != nil {
			return nil, err
		}
		if err := appendRow(ctx, tx, &types.EntityAdjustment{
			EventID:     eventID,
			NewEntityID: entityID,
			Action:      types.ActionAssign,
			TxnID:       txnID,
			RecordedAt:  now,
			Snapshot:    snap,
		}); err != nil {
			return nil, err
		}
		if err := setEventLink(ctx, tx, eventID, entityID); err != nil {
			return nil, err
		}
		state.Actions = []types.AdjustmentAction{types.ActionAssign}

	default:
		// Re-resolution changed the match: record a proper move pair,
		// never a bare overwrite.
		state, err = moveLocked(ctx, tx, eventID, current, entityID, sigAttrs, snap, txnID, now)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit resolution: %w", err)
	}
	return state, nil
}

// ListAdjustments returns ledger rows for an event or an entity,
// oldest first. Exactly one of eventID/entityID must be set.
func (s *Store) ListAdjustments(ctx context.Context, eventID, entityID string) ([]*types.EntityAdjustment, error) {
	var query string
	var args []interface{}

	switch {
	case eventID != "" && entityID == "":
		query = `WHERE event_id = ?`
		args = []interface{}{eventID}
	case entityID != "" && eventID == "":
		query = `WHERE old_entity_id = ? OR new_entity_id = ?`
		args = []interface{}{entityID, entityID}
	default:
		return nil, fmt.Errorf("%w: exactly one of event ID or entity ID is required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, old_entity_id, new_entity_id, action, txn_id, recorded_at, snapshot
		FROM entity_adjustments `+query+`
		ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	defer rows.Close()

	var adjustments []*types.EntityAdjustment
	for rows.Next() {
		var adj types.EntityAdjustment
		var oldID, newID sql.NullString
		var snapJSON []byte

		if err := rows.Scan(&adj.ID, &adj.EventID, &oldID, &newID, &adj.Action,
			&adj.TxnID, &adj.RecordedAt, &snapJSON); err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		adj.OldEntityID = oldID.String
		adj.NewEntityID = newID.String
		if len(snapJSON) > 0 {
			if err := json.Unmarshal(snapJSON, &adj.Snapshot); err != nil {
				return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
			}
		}
		adjustments = append(adjustments, &adj)
	}
	return adjustments, rows.Err()
}

// moveLocked performs the shared move logic inside an open transaction.
func moveLocked(ctx context.Context, tx *sql.Tx, eventID, oldEntityID, newEntityID string, sigAttrs map[string]string, snap *types.EventSnapshot, txnID string, now time.Time) (*types.LinkState, error) {
	if err := decrementCount(ctx, tx, oldEntityID, now); err != nil {
		return nil, err
	}
	if err := incrementCount(ctx, tx, newEntityID, now, sigAttrs); err != nil {
		return nil, err
	}
	if err := appendRow(ctx, tx, &types.EntityAdjustment{
		EventID:     eventID,
		OldEntityID: oldEntityID,
		Action:      types.ActionMoveFrom,
		TxnID:       txnID,
		RecordedAt:  now,
		Snapshot:    snap,
	}); err != nil {
		return nil, err
	}
	if err := appendRow(ctx, tx, &types.EntityAdjustment{
		EventID:     eventID,
		OldEntityID: oldEntityID,
		NewEntityID: newEntityID,
		Action:      types.ActionMoveTo,
		TxnID:       txnID,
		RecordedAt:  now,
		Snapshot:    snap,
	}); err != nil {
		return nil, err
	}
	if err := setEventLink(ctx, tx, eventID, newEntityID); err != nil {
		return nil, err
	}

	return &types.LinkState{
		EventID:  eventID,
		EntityID: newEntityID,
		Actions:  []types.AdjustmentAction{types.ActionMoveFrom, types.ActionMoveTo},
		TxnID:    txnID,
	}, nil
}

// eventLink reads the event's current entity link inside a transaction.
func eventLink(ctx context.Context, tx *sql.Tx, eventID string) (string, error) {
	var entityID sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT entity_id FROM events WHERE id = ?`, eventID).Scan(&entityID)
	if err == sql.ErrNoRows {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read event link: %w", err)
	}
	return entityID.String, nil
}

// incrementCount adds one occurrence to the entity and refines its
// signature and seen range. sigAttrs may be nil.
func incrementCount(ctx context.Context, tx *sql.Tx, entityID string, now time.Time, sigAttrs map[string]string) error {
	if len(sigAttrs) > 0 {
		if err := mergeSignature(ctx, tx, entityID, sigAttrs, now); err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE entities
		SET occurrence_count = occurrence_count + 1,
		    first_seen = COALESCE(first_seen, ?),
		    last_seen = ?,
		    updated_at = ?
		WHERE id = ?`, now, now, now, entityID)
	if err != nil {
		return fmt.Errorf("failed to increment count: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check increment: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: entity %s", storage.ErrNotFound, entityID)
	}
	return nil
}

// decrementCount removes one occurrence from the entity. A decrement
// that would go negative means the ledger and counts have diverged,
// which is an internal-consistency fault.
func decrementCount(ctx context.Context, tx *sql.Tx, entityID string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE entities
		SET occurrence_count = occurrence_count - 1,
		    updated_at = ?
		WHERE id = ? AND occurrence_count > 0`, now, entityID)
	if err != nil {
		return fmt.Errorf("failed to decrement count: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check decrement: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE id = ?`, entityID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check entity: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: entity %s", storage.ErrNotFound, entityID)
	}
	return fmt.Errorf("%w: occurrence count for entity %s would go negative", storage.ErrConsistency, entityID)
}

// mergeSignature applies last-write-wins attribute merge to the
// entity's signature inside the transaction.
func mergeSignature(ctx context.Context, tx *sql.Tx, entityID string, sigAttrs map[string]string, now time.Time) error {
	if len(sigAttrs) == 0 {
		return nil
	}

	var sigJSON []byte
	err := tx.QueryRowContext(ctx, `SELECT signature FROM entities WHERE id = ?`, entityID).Scan(&sigJSON)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: entity %s", storage.ErrNotFound, entityID)
	}
	if err != nil {
		return fmt.Errorf("failed to read signature: %w", err)
	}

	signature := make(map[string]string)
	if len(sigJSON) > 0 {
		if err := json.Unmarshal(sigJSON, &signature); err != nil {
			return fmt.Errorf("failed to unmarshal signature: %w", err)
		}
	}
	for k, v := range sigAttrs {
		signature[k] = v
	}

	merged, err := json.Marshal(signature)
	if err != nil {
		return fmt.Errorf("failed to marshal signature: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET signature = ?, updated_at = ? WHERE id = ?`,
		merged, now, entityID); err != nil {
		return fmt.Errorf("failed to update signature: %w", err)
	}
	return nil
}

// appendRow inserts one ledger row inside the transaction.
func appendRow(ctx context.Context, tx *sql.Tx, adj *types.EntityAdjustment) error {
	var snapJSON []byte
	if adj.Snapshot != nil {
		var err error
		snapJSON, err = json.Marshal(adj.Snapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO entity_adjustments (event_id, old_entity_id, new_entity_id, action, txn_id, recorded_at, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		adj.EventID, nullableID(adj.OldEntityID), nullableID(adj.NewEntityID),
		string(adj.Action), adj.TxnID, adj.RecordedAt, snapJSON)
	if err != nil {
		return fmt.Errorf("failed to append ledger row: %w", err)
	}
	return nil
}

// setEventLink updates the event's cached link. Empty entityID clears it.
func setEventLink(ctx context.Context, tx *sql.Tx, eventID, entityID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE events SET entity_id = ? WHERE id = ?`,
		nullableID(entityID), eventID)
	if err != nil {
		return fmt.Errorf("failed to update event link: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check link update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: event %s", storage.ErrNotFound, eventID)
	}
	return nil
}
