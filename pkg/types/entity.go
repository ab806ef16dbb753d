package types

import "time"

// Entity type constants. An entity's type is fixed once the entity
// exists; type inference on events is a per-run classification and is
// never written back onto an existing entity.
const (
	EntityTypePerson  = "person"
	EntityTypeVehicle = "vehicle"
	EntityTypeAnimal  = "animal"
	EntityTypePackage = "package"
	EntityTypeUnknown = "unknown"
)

// Entity represents a resolved identity cluster: a specific recurring
// person, vehicle, animal, or package seen across events.
type Entity struct {
	// Core identification fields
	ID        string    `json:"id"`         // Unique identifier (UUID)
	Type      string    `json:"type"`       // One of the EntityType constants
	CreatedAt time.Time `json:"created_at"` // Creation timestamp
	UpdatedAt time.Time `json:"updated_at"` // Last update timestamp

	// OccurrenceCount is the number of events currently linked to this
	// entity. It is only ever mutated together with a ledger append;
	// summing ledger deltas for the entity reproduces this value.
	OccurrenceCount int `json:"occurrence_count"`

	// Signature holds descriptive attributes observed for this entity
	// (e.g. color/kind for vehicles). Refined on match; merge is
	// last-write-wins per key and happens in the same transaction as
	// the count increment.
	Signature map[string]string `json:"signature,omitempty"`

	// Embedding is the representative feature vector used for matching.
	Embedding []float32 `json:"embedding,omitempty"`

	// Statistics
	FirstSeen time.Time `json:"first_seen,omitempty"` // First linked observation
	LastSeen  time.Time `json:"last_seen,omitempty"`  // Most recent linked observation
}

// ValidEntityType reports whether t is one of the known entity types.
func ValidEntityType(t string) bool {
	switch t {
	case EntityTypePerson, EntityTypeVehicle, EntityTypeAnimal, EntityTypePackage, EntityTypeUnknown:
		return true
	}
	return false
}
