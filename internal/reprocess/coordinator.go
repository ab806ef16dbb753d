// Package reprocess implements the bulk reprocessing run: a
// single-flight, resumable, cancellable sweep over the event history
// that generates missing embeddings and re-resolves entity links.
package reprocess

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haverlock/argus/internal/embedding"
	"github.com/haverlock/argus/internal/resolver"
	"github.com/haverlock/argus/internal/storage"
	"github.com/haverlock/argus/pkg/types"
)

// ErrAlreadyRunning is returned by Start when a non-terminal task
// exists. At most one bulk run is in flight per process.
var ErrAlreadyRunning = errors.New("a reprocessing task is already running")

// ErrResumeRequiresUnmatched is returned by Start after an interrupted
// run when the new filter would re-walk already linked events. Scoping
// the resume to unmatched events makes it pick up roughly where the
// interrupted run stopped.
var ErrResumeRequiresUnmatched = errors.New("previous run was interrupted: restart with only_unmatched to resume")

// DefaultBatchSize is the number of events fetched and processed per
// batch.
const DefaultBatchSize = 100

// EntityResolver matches an event embedding to an entity.
type EntityResolver interface {
	Resolve(ctx context.Context, vec []float32, descriptor string) (*resolver.Result, error)
}

// Coordinator owns the lifecycle of bulk reprocessing runs.
type Coordinator struct {
	store       storage.Store
	gateway     embedding.Gateway
	resolver    EntityResolver
	broadcaster *Broadcaster
	batchSize   int

	mu        sync.Mutex
	task      *types.ReprocessTask
	cancelled bool
	// requireUnmatched is set when an interrupted run was surfaced at
	// startup and cleared by the next accepted Start.
	requireUnmatched bool

	done chan struct{}
}

// NewCoordinator creates a coordinator. A zero batch size selects the
// default.
func NewCoordinator(store storage.Store, gateway embedding.Gateway, res EntityResolver, broadcaster *Broadcaster, batchSize int) *Coordinator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if broadcaster == nil {
		broadcaster = NewBroadcaster(nil, 0, 0)
	}
	return &Coordinator{
		store:       store,
		gateway:     gateway,
		resolver:    res,
		broadcaster: broadcaster,
		batchSize:   batchSize,
	}
}

// RecoverInterrupted surfaces a run that was in flight when the
// process died. A non-terminal checkpoint is rewritten as an error
// task; the next Start must scope itself to unmatched events.
func (c *Coordinator) RecoverInterrupted(ctx context.Context) error {
	task, err := c.store.LoadCheckpoint(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if task.Status.Terminal() {
		// Last run finished cleanly; keep it visible in status queries.
		c.task = task
		return nil
	}

	log.Printf("WARNING: reprocessing task %s was interrupted by restart (%d/%d processed)",
		task.TaskID, task.Processed, task.Total)

	now := time.Now()
	task.Status = types.TaskError
	task.Error = "interrupted by restart"
	task.UpdatedAt = now
	task.CompletedAt = &now

	if err := c.store.SaveCheckpoint(ctx, task); err != nil {
		return fmt.Errorf("failed to rewrite interrupted checkpoint: %w", err)
	}

	c.task = task
	c.requireUnmatched = true
	return nil
}

// Start begins a bulk run over the events matching the filter. It
// returns the initial snapshot immediately; the run proceeds on its
// own goroutine.
func (c *Coordinator) Start(ctx context.Context, filter storage.EventFilter) (types.ProgressSnapshot, error) {
	now := time.Now()
	task := &types.ReprocessTask{
		TaskID:    uuid.NewString(),
		Status:    types.TaskPending,
		StartedAt: now,
		UpdatedAt: now,
	}

	c.mu.Lock()
	if c.task != nil && !c.task.Status.Terminal() {
		c.mu.Unlock()
		return types.ProgressSnapshot{}, ErrAlreadyRunning
	}
	// The worker keeps writing its final checkpoint and broadcast after
	// the status turns terminal; the slot stays occupied until that
	// goroutine has fully exited.
	if c.done != nil {
		select {
		case <-c.done:
		default:
			c.mu.Unlock()
			return types.ProgressSnapshot{}, ErrAlreadyRunning
		}
	}
	if c.requireUnmatched && !filter.OnlyUnmatched {
		c.mu.Unlock()
		return types.ProgressSnapshot{}, ErrResumeRequiresUnmatched
	}
	prevTask, prevGate := c.task, c.requireUnmatched
	c.task = task
	c.cancelled = false
	c.requireUnmatched = false
	c.mu.Unlock()

	// The pending task reserves the slot, so the count and checkpoint
	// run without the lock and Status/Cancel stay responsive.
	rollback := func() {
		c.mu.Lock()
		c.task = prevTask
		c.requireUnmatched = prevGate
		c.mu.Unlock()
	}

	total, err := c.store.CountEvents(ctx, filter)
	if err != nil {
		rollback()
		return types.ProgressSnapshot{}, fmt.Errorf("failed to count events: %w", err)
	}

	c.mu.Lock()
	task.Total = total
	cp := task.Clone()
	snap := task.Snapshot()
	c.mu.Unlock()

	if err := c.store.SaveCheckpoint(ctx, cp); err != nil {
		rollback()
		return types.ProgressSnapshot{}, fmt.Errorf("failed to checkpoint task: %w", err)
	}

	c.mu.Lock()
	c.done = make(chan struct{})
	c.mu.Unlock()
	c.broadcaster.Reset()

	log.Printf("reprocess: task %s started, %d events in scope", task.TaskID, total)

	go c.run(filter)

	return snap, nil
}

// Status returns the current or most recent task snapshot. The second
// return is false when no run has happened yet.
func (c *Coordinator) Status() (types.ProgressSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.task == nil {
		return types.ProgressSnapshot{}, false
	}
	return c.task.Snapshot(), true
}

// Cancel requests cooperative cancellation of the running task. It
// returns false when no task is running. Repeated calls while the task
// winds down keep returning true.
func (c *Coordinator) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.task == nil || c.task.Status.Terminal() {
		return false
	}
	if !c.cancelled {
		log.Printf("reprocess: task %s cancellation requested", c.task.TaskID)
	}
	c.cancelled = true
	return true
}

// Wait blocks until the current run's goroutine has exited. It returns
// immediately when nothing is running.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done != nil {
		<-done
	}
}

// run is the worker loop. It owns the task until a terminal state is
// reached.
func (c *Coordinator) run(filter storage.EventFilter) {
	defer close(c.done)

	ctx := context.Background()

	c.mutate(func(t *types.ReprocessTask) {
		t.Status = types.TaskRunning
	})
	c.checkpoint(ctx)

	page := storage.EventPage{Limit: c.batchSize}

	for {
		if c.isCancelled() {
			c.finish(ctx, types.TaskCancelled, "")
			return
		}

		events, err := c.store.ListEvents(ctx, filter, page)
		if err != nil {
			c.finish(ctx, types.TaskError, fmt.Sprintf("failed to list events: %v", err))
			return
		}
		if len(events) == 0 {
			c.finish(ctx, types.TaskCompleted, "")
			return
		}

		for _, event := range events {
			if c.isCancelled() {
				c.finish(ctx, types.TaskCancelled, "")
				return
			}
			c.processRecord(ctx, event)
		}

		last := events[len(events)-1]
		page.AfterTime = last.OccurredAt
		page.AfterID = last.ID

		c.checkpoint(ctx)
		c.publish()
	}
}

// processRecord handles one event: ensure an embedding exists, resolve
// it to an entity, and record the link. Failures count against the
// task but do not stop the run.
func (c *Coordinator) processRecord(ctx context.Context, event *types.Event) {
	err := c.resolveEvent(ctx, event)

	c.mutate(func(t *types.ReprocessTask) {
		t.Processed++
		t.LastEventID = event.ID
		if err != nil {
			t.Errors++
		}
	})

	if err != nil {
		log.Printf("WARNING: reprocess: event %s failed: %v", event.ID, err)
	}
}

func (c *Coordinator) resolveEvent(ctx context.Context, event *types.Event) error {
	vec, err := c.store.GetEmbedding(ctx, event.ID)
	if errors.Is(err, storage.ErrNotFound) {
		vec, err = c.gateway.Generate(ctx, event.MediaRef)
		if err != nil {
			return fmt.Errorf("embedding generation: %w", err)
		}
		if err := c.store.StoreEmbedding(ctx, event.ID, vec); err != nil {
			return fmt.Errorf("embedding storage: %w", err)
		}
		c.mutate(func(t *types.ReprocessTask) {
			t.EmbeddingsGenerated++
		})
	} else if err != nil {
		return fmt.Errorf("embedding lookup: %w", err)
	}

	result, err := c.resolver.Resolve(ctx, vec, event.Descriptor)
	if err != nil {
		return fmt.Errorf("entity resolution: %w", err)
	}

	snap := &types.EventSnapshot{
		CameraID:   event.CameraID,
		Descriptor: event.Descriptor,
		OccurredAt: event.OccurredAt,
	}
	if _, err := c.store.LinkResolved(ctx, event.ID, result.Entity.ID, result.Attributes, snap); err != nil {
		return fmt.Errorf("link recording: %w", err)
	}

	if !result.IsNew {
		c.mutate(func(t *types.ReprocessTask) {
			t.EntitiesMatched++
		})
	}
	return nil
}

// finish moves the task to a terminal state, checkpoints it, and emits
// the unconditional final snapshot.
func (c *Coordinator) finish(ctx context.Context, status types.TaskStatus, errMsg string) {
	now := time.Now()

	// The terminal transition and the snapshot feeding the final
	// checkpoint and broadcast are captured in one critical section, so
	// a later run can never leak into this run's final records.
	c.mu.Lock()
	c.task.Status = status
	c.task.Error = errMsg
	c.task.CompletedAt = &now
	c.task.UpdatedAt = now
	cp := c.task.Clone()
	snap := c.task.Snapshot()
	c.mu.Unlock()

	if err := c.store.SaveCheckpoint(ctx, cp); err != nil {
		log.Printf("WARNING: reprocess: failed to checkpoint task %s: %v", cp.TaskID, err)
	}

	switch status {
	case types.TaskError:
		log.Printf("ERROR: reprocess: task %s failed: %s", cp.TaskID, errMsg)
	default:
		log.Printf("reprocess: task %s %s (%d/%d processed, %d matched, %d embeddings, %d errors)",
			cp.TaskID, status, snap.Processed, snap.Total, snap.EntitiesMatched,
			snap.EmbeddingsGenerated, snap.Errors)
	}

	c.broadcaster.Publish(snap)
}

func (c *Coordinator) mutate(fn func(*types.ReprocessTask)) {
	c.mu.Lock()
	fn(c.task)
	c.task.UpdatedAt = time.Now()
	c.mu.Unlock()
}

func (c *Coordinator) checkpoint(ctx context.Context) {
	c.mu.Lock()
	task := c.task.Clone()
	c.mu.Unlock()

	if err := c.store.SaveCheckpoint(ctx, task); err != nil {
		log.Printf("WARNING: reprocess: failed to checkpoint task %s: %v", task.TaskID, err)
	}
}

func (c *Coordinator) publish() {
	c.mu.Lock()
	snap := c.task.Snapshot()
	c.mu.Unlock()

	c.broadcaster.Publish(snap)
}

func (c *Coordinator) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}
