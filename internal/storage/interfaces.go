// Package storage provides composable storage interfaces for the Argus
// entity reprocessing core.
//
// The storage layer is designed with small, focused interfaces that can
// be implemented independently and composed as needed. Both the bulk
// reprocessing engine and the manual-override service mutate entities
// through the same composite operations, so the ledger/count invariant
// is enforced in exactly one place per backend.
package storage

import (
	"context"

	"github.com/haverlock/argus/pkg/types"
)

// EventStore provides read access to the observation records plus the
// ingestion-side write used by collaborators and tests.
type EventStore interface {
	// PutEvent creates or replaces an event row (upsert semantics).
	// Ingestion is an external collaborator; this exists for it.
	PutEvent(ctx context.Context, event *types.Event) error

	// GetEvent retrieves an event by ID.
	// Returns ErrNotFound if the event doesn't exist.
	GetEvent(ctx context.Context, id string) (*types.Event, error)

	// CountEvents returns the number of events matching the filter.
	CountEvents(ctx context.Context, filter EventFilter) (int, error)

	// ListEvents returns one page of the filtered event set in stable
	// (occurred_at, id) ascending order.
	ListEvents(ctx context.Context, filter EventFilter, page EventPage) ([]*types.Event, error)
}

// EmbeddingStore persists feature vectors keyed 1:1 to events.
// Embeddings are created lazily, immutable once created, and never
// deleted by this core.
type EmbeddingStore interface {
	// StoreEmbedding stores the vector for an event. Storing twice for
	// the same event is an error (embeddings are immutable).
	StoreEmbedding(ctx context.Context, eventID string, vec []float32) error

	// GetEmbedding retrieves the vector for an event.
	// Returns ErrNotFound if no embedding exists.
	GetEmbedding(ctx context.Context, eventID string) ([]float32, error)
}

// EntityStore manages entity rows and candidate lookup for matching.
type EntityStore interface {
	// CreateEntity inserts a new entity. The caller supplies the ID and
	// representative embedding; OccurrenceCount starts at zero and is
	// only ever changed through ledger operations.
	CreateEntity(ctx context.Context, entity *types.Entity) error

	// GetEntity retrieves an entity by ID.
	// Returns ErrNotFound if the entity doesn't exist.
	GetEntity(ctx context.Context, id string) (*types.Entity, error)

	// ListEntities returns entities matching the filter plus the total
	// count across all pages.
	ListEntities(ctx context.Context, filter EntityFilter) ([]*types.Entity, int, error)

	// NearestCandidates returns up to limit entities of the given type
	// ordered by similarity to vec, most similar first. Backends
	// without vector indexing may return candidates in any order; the
	// resolver scores them regardless.
	NearestCandidates(ctx context.Context, entityType string, vec []float32, limit int) ([]*types.Entity, error)
}

// LedgerStore performs entity-link adjustments. Every method appends
// its ledger row(s), mutates the affected occurrence counts, refines
// signatures where applicable, and updates the event's cached link,
// all in one transaction. A crash can never be observed as a ledger
// row without its count mutation or vice versa.
type LedgerStore interface {
	// ApplyAssign links an unlinked event to an entity.
	// Returns ErrAlreadyLinked if the event has a link.
	ApplyAssign(ctx context.Context, eventID, entityID string, snap *types.EventSnapshot) (*types.LinkState, error)

	// ApplyMove relinks an event from its current entity to another,
	// recording a move_from/move_to pair sharing one txn id and
	// timestamp. Returns ErrNotLinked if the event has no link.
	ApplyMove(ctx context.Context, eventID, newEntityID string, snap *types.EventSnapshot) (*types.LinkState, error)

	// ApplyUnlink clears an event's entity link.
	// Returns ErrNotLinked if the event has no link.
	ApplyUnlink(ctx context.Context, eventID string, snap *types.EventSnapshot) (*types.LinkState, error)

	// LinkResolved records a bulk-resolution outcome: it decides
	// between assign, move, or no-op based on the event's current link,
	// merges sigAttrs into the entity's signature, and updates
	// first/last seen. A no-op (already linked to entityID) records no
	// ledger rows. Returns the resulting link state; Actions is empty
	// for a no-op.
	LinkResolved(ctx context.Context, eventID, entityID string, sigAttrs map[string]string, snap *types.EventSnapshot) (*types.LinkState, error)

	// ListAdjustments returns ledger rows for an event or entity
	// (either may be empty, not both), oldest first.
	ListAdjustments(ctx context.Context, eventID, entityID string) ([]*types.EntityAdjustment, error)
}

// CheckpointStore persists the single reprocessing-task slot. The row
// is overwritten on every checkpoint; one logical slot exists.
type CheckpointStore interface {
	// SaveCheckpoint upserts the task state.
	SaveCheckpoint(ctx context.Context, task *types.ReprocessTask) error

	// LoadCheckpoint returns the last saved task state.
	// Returns ErrNotFound if no run has ever been checkpointed.
	LoadCheckpoint(ctx context.Context) (*types.ReprocessTask, error)
}

// Store is the full persistence surface required by the platform core.
type Store interface {
	EventStore
	EmbeddingStore
	EntityStore
	LedgerStore
	CheckpointStore

	// GetStats returns the coverage summary for /api/stats.
	GetStats(ctx context.Context) (*Stats, error)

	// Close releases any resources held by the store.
	Close() error
}
