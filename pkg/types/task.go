package types

import "time"

// TaskStatus is the lifecycle state of a bulk reprocessing run.
type TaskStatus string

// Task statuses. Exactly one non-terminal task may exist process-wide.
const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
	TaskError     TaskStatus = "error"
)

// Terminal reports whether the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskCancelled, TaskError:
		return true
	}
	return false
}

// ReprocessTask is the mutable state of one bulk reprocessing run. It
// is checkpointed to durable storage after every batch so a restart can
// detect and report an interrupted run.
type ReprocessTask struct {
	TaskID string     `json:"task_id"`
	Status TaskStatus `json:"status"`

	// Progress counters. Processed is monotonically non-decreasing
	// within a run; LastEventID always denotes the final record of the
	// completed prefix of the ordered set.
	Total               int    `json:"total"`
	Processed           int    `json:"processed"`
	EntitiesMatched     int    `json:"entities_matched"`
	EmbeddingsGenerated int    `json:"embeddings_generated"`
	Errors              int    `json:"errors"`
	LastEventID         string `json:"last_event_id,omitempty"`

	// Error holds the captured message when Status is TaskError.
	Error string `json:"error,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Snapshot produces the progress view published to subscribers and
// returned from status queries.
func (t *ReprocessTask) Snapshot() ProgressSnapshot {
	pct := 0.0
	if t.Total > 0 {
		pct = float64(t.Processed) / float64(t.Total) * 100.0
	} else if t.Status.Terminal() {
		pct = 100.0
	}
	return ProgressSnapshot{
		TaskID:              t.TaskID,
		Status:              t.Status,
		Total:               t.Total,
		Processed:           t.Processed,
		EntitiesMatched:     t.EntitiesMatched,
		EmbeddingsGenerated: t.EmbeddingsGenerated,
		Errors:              t.Errors,
		ProgressPercent:     pct,
		Error:               t.Error,
	}
}

// Clone returns a copy of the task safe to hand outside the
// coordinator's lock.
func (t *ReprocessTask) Clone() *ReprocessTask {
	c := *t
	if t.CompletedAt != nil {
		done := *t.CompletedAt
		c.CompletedAt = &done
	}
	return &c
}

// ProgressSnapshot is the wire shape for periodic and terminal progress
// updates.
type ProgressSnapshot struct {
	TaskID              string     `json:"task_id"`
	Status              TaskStatus `json:"status"`
	Total               int        `json:"total"`
	Processed           int        `json:"processed"`
	EntitiesMatched     int        `json:"entities_matched"`
	EmbeddingsGenerated int        `json:"embeddings_generated"`
	Errors              int        `json:"errors"`
	ProgressPercent     float64    `json:"progress_percent"`
	Error               string     `json:"error,omitempty"`
}
