package types

import "time"

// AdjustmentAction identifies what a ledger row records.
type AdjustmentAction string

// Ledger actions. A move is always recorded as a MoveFrom/MoveTo pair
// sharing one transaction id and timestamp, never as a bare overwrite.
const (
	ActionAssign   AdjustmentAction = "assign"
	ActionMoveFrom AdjustmentAction = "move_from"
	ActionMoveTo   AdjustmentAction = "move_to"
	ActionUnlink   AdjustmentAction = "unlink"
)

// Delta returns the occurrence-count delta this action applies to the
// entity it references (+1 for assign/move_to, -1 for move_from/unlink).
func (a AdjustmentAction) Delta() int {
	switch a {
	case ActionAssign, ActionMoveTo:
		return 1
	case ActionMoveFrom, ActionUnlink:
		return -1
	}
	return 0
}

// EntityAdjustment is one append-only ledger row. The ledger is the
// sole source of truth for why an event's entity link changed; the
// event's entity_id column is a derived pointer.
type EntityAdjustment struct {
	ID          int64            `json:"id"`                      // Monotonic row id
	EventID     string           `json:"event_id"`                // Event whose link changed
	OldEntityID string           `json:"old_entity_id,omitempty"` // Previous link (empty for assign)
	NewEntityID string           `json:"new_entity_id,omitempty"` // New link (empty for unlink)
	Action      AdjustmentAction `json:"action"`

	// TxnID groups the rows of one logical adjustment. Both rows of a
	// move share the same TxnID and RecordedAt.
	TxnID      string    `json:"txn_id"`
	RecordedAt time.Time `json:"recorded_at"`

	// Snapshot is the event's descriptive state when the row was written.
	Snapshot *EventSnapshot `json:"snapshot,omitempty"`
}

// LinkState describes the outcome of an adjustment operation: the
// event's resulting link plus which ledger actions were recorded.
type LinkState struct {
	EventID  string             `json:"event_id"`
	EntityID string             `json:"entity_id,omitempty"` // Empty after unlink
	Actions  []AdjustmentAction `json:"actions"`
	TxnID    string             `json:"txn_id"`
}
