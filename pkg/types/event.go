package types

import "time"

// Event represents a single observed occurrence captured by a camera.
// Events are owned by the ingestion pipeline; the reprocessing engine
// only reads them and conditionally attaches an entity link.
type Event struct {
	// Core identification fields
	ID         string    `json:"id"`                  // Unique identifier (UUID)
	CameraID   string    `json:"camera_id,omitempty"` // Source camera identifier
	OccurredAt time.Time `json:"occurred_at"`         // When the observation happened
	CreatedAt  time.Time `json:"created_at"`          // When the row was ingested

	// MediaRef points at the thumbnail/clip used for embedding generation.
	// Empty when no media was captured for this event.
	MediaRef string `json:"media_ref,omitempty"`

	// Descriptor is free text produced by the detection pipeline
	// (e.g. "white van in driveway"). Used for type inference only.
	Descriptor string `json:"descriptor,omitempty"`

	// EntityID is the cached entity link. Empty means unlinked.
	// The adjustment ledger is the source of truth for how this value
	// came to be; this column is a derived pointer.
	EntityID string `json:"entity_id,omitempty"`

	// HasEmbedding reports whether a feature vector exists for this event.
	HasEmbedding bool `json:"has_embedding,omitempty"`
}

// Linked reports whether the event currently has an entity link.
func (e *Event) Linked() bool {
	return e.EntityID != ""
}

// EventSnapshot captures the descriptive state of an event at the time
// an adjustment was recorded. Stored alongside ledger rows so history
// remains meaningful even if the event row changes later.
type EventSnapshot struct {
	CameraID   string    `json:"camera_id,omitempty"`
	Descriptor string    `json:"descriptor,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
