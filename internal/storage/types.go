package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyLinked indicates an assign on an event that already has
	// an entity link. Callers should use a move instead.
	ErrAlreadyLinked = errors.New("event already linked to an entity")

	// ErrNotLinked indicates a move or unlink on an event that has no
	// entity link.
	ErrNotLinked = errors.New("event has no entity link")

	// ErrConsistency indicates an internal-consistency fault: a count
	// mutation that would violate the ledger invariants (e.g. an
	// occurrence count going negative). This must never occur during
	// normal operation and is surfaced loudly, never swallowed.
	ErrConsistency = errors.New("internal consistency fault")
)

// EventFilter selects a subset of events for counting and iteration.
// Zero values mean "no constraint" for that dimension.
type EventFilter struct {
	// From and To bound occurred_at (inclusive lower, exclusive upper).
	From time.Time
	To   time.Time

	// CameraID restricts to events from one camera.
	CameraID string

	// OnlyUnmatched restricts to events with no entity link.
	OnlyUnmatched bool
}

// EventPage requests one page of the filtered, ordered event set.
// Iteration order is (occurred_at, id) ascending; the After fields are
// a keyset cursor naming the last event of the previously completed
// page, so pagination stays correct even when processed rows drop out
// of an OnlyUnmatched filter.
type EventPage struct {
	// AfterTime/AfterID form the keyset cursor. Zero time plus empty
	// id means start from the beginning of the ordered set.
	AfterTime time.Time
	AfterID   string

	// Limit is the page size (required, > 0).
	Limit int
}

// EntityFilter selects entities for listing.
type EntityFilter struct {
	// Type restricts to one entity type. Empty means all types.
	Type string

	// Page is 1-indexed; Limit defaults to 50, capped at 200.
	Page  int
	Limit int
}

// Normalize applies defaults and bounds to the EntityFilter.
func (f *EntityFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 50
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
}

// Offset calculates the SQL offset for the filter.
func (f *EntityFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Stats is the coverage summary exposed at /api/stats.
type Stats struct {
	TotalEvents    int            `json:"total_events"`
	LinkedEvents   int            `json:"linked_events"`
	EventsWithVec  int            `json:"events_with_embedding"`
	TotalEntities  int            `json:"total_entities"`
	EntitiesByType map[string]int `json:"entities_by_type"`
	LedgerRowCount int            `json:"ledger_rows"`
}
