package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/haverlock/argus/internal/storage"
	"github.com/haverlock/argus/pkg/types"
)

// EventHandlers contains HTTP handlers for the read-only event surface.
type EventHandlers struct {
	store storage.Store
}

// NewEventHandlers creates a new EventHandlers instance.
func NewEventHandlers(store storage.Store) *EventHandlers {
	return &EventHandlers{store: store}
}

// EventListResponse is the response format for GET /api/events. Next
// is the keyset cursor for the following page, absent on the last one.
type EventListResponse struct {
	Events []*types.Event   `json:"events"`
	Total  int              `json:"total"`
	Next   *EventListCursor `json:"next,omitempty"`
}

// EventListCursor is the pagination cursor echoed back by clients.
type EventListCursor struct {
	AfterTime time.Time `json:"after_time"`
	AfterID   string    `json:"after_id"`
}

// ListEvents handles GET /api/events - filtered event listing in
// stable (occurred_at, id) order with keyset pagination.
func (h *EventHandlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := storage.EventFilter{
		From:          parseTime(q.Get("from")),
		To:            parseTime(q.Get("to")),
		CameraID:      q.Get("camera_id"),
		OnlyUnmatched: q.Get("only_unmatched") == "true",
	}

	limit := parseInt(q.Get("limit"), 50)
	if limit > 500 {
		limit = 500
	}
	if limit <= 0 {
		limit = 50
	}

	page := storage.EventPage{
		AfterTime: parseTime(q.Get("after_time")),
		AfterID:   q.Get("after_id"),
		Limit:     limit,
	}

	total, err := h.store.CountEvents(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count events", err)
		return
	}

	events, err := h.store.ListEvents(r.Context(), filter, page)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, "invalid pagination", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to list events", err)
		return
	}

	resp := EventListResponse{Events: events, Total: total}
	if len(events) == limit {
		last := events[len(events)-1]
		resp.Next = &EventListCursor{AfterTime: last.OccurredAt, AfterID: last.ID}
	}
	if resp.Events == nil {
		resp.Events = []*types.Event{}
	}

	respondJSON(w, http.StatusOK, resp)
}

// GetEvent handles GET /api/events/{id}.
func (h *EventHandlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.store.GetEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "event not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get event", err)
		return
	}
	respondJSON(w, http.StatusOK, event)
}
