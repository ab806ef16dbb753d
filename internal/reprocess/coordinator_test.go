package reprocess

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haverlock/argus/internal/resolver"
	"github.com/haverlock/argus/internal/storage"
	"github.com/haverlock/argus/internal/storage/sqlite"
	"github.com/haverlock/argus/pkg/types"
)

// fakeGateway returns vectors from a configurable function and counts
// calls.
type fakeGateway struct {
	mu    sync.Mutex
	fn    func(mediaRef string) ([]float32, error)
	calls int
}

func (g *fakeGateway) Generate(_ context.Context, mediaRef string) ([]float32, error) {
	g.mu.Lock()
	g.calls++
	fn := g.fn
	g.mu.Unlock()

	if fn != nil {
		return fn(mediaRef)
	}
	return []float32{1, 0, 0}, nil
}

func (g *fakeGateway) Healthy(context.Context) error { return nil }

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func newTestCoordinator(t *testing.T, gw *fakeGateway, batchSize int, sink Sink) (*Coordinator, storage.Store) {
	t.Helper()

	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "argus_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	res := resolver.New(store, 0, 0)
	b := NewBroadcaster(sink, time.Hour, 1000000)
	return NewCoordinator(store, gw, res, b, batchSize), store
}

func seedEvents(t *testing.T, store storage.Store, n int) {
	t.Helper()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		require.NoError(t, store.PutEvent(context.Background(), &types.Event{
			ID:         fmt.Sprintf("evt-%04d", i),
			CameraID:   "cam-front",
			OccurredAt: base.Add(time.Duration(i) * time.Second),
			MediaRef:   fmt.Sprintf("media/evt-%04d.mp4", i),
			Descriptor: "person at the front door",
		}))
	}
}

func TestRunProcessesAllEventsInBatches(t *testing.T) {
	gw := &fakeGateway{}
	var rec captureSink
	c, store := newTestCoordinator(t, gw, 100, rec.sink)
	ctx := context.Background()

	seedEvents(t, store, 250)

	snap, err := c.Start(ctx, storage.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 250, snap.Total)
	assert.Equal(t, types.TaskPending, snap.Status)

	c.Wait()

	final, ok := c.Status()
	require.True(t, ok)
	assert.Equal(t, types.TaskCompleted, final.Status)
	assert.Equal(t, 250, final.Processed)
	assert.Equal(t, 250, final.EmbeddingsGenerated)
	// All vectors are identical, so everything after the first event
	// matches the entity it created.
	assert.Equal(t, 249, final.EntitiesMatched)
	assert.Equal(t, 0, final.Errors)
	assert.InDelta(t, 100.0, final.ProgressPercent, 1e-9)

	// The terminal checkpoint survives.
	task, err := store.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, task.Status)
	assert.Equal(t, "evt-0249", task.LastEventID)
	require.NotNil(t, task.CompletedAt)

	// Every event ended up linked.
	unmatched, err := store.CountEvents(ctx, storage.EventFilter{OnlyUnmatched: true})
	require.NoError(t, err)
	assert.Zero(t, unmatched)

	// The terminal snapshot was broadcast despite the huge thresholds.
	require.NotZero(t, rec.count())
}

// checkpointRecorder keeps a copy of every checkpoint write on its way
// to the real store.
type checkpointRecorder struct {
	storage.Store
	mu    sync.Mutex
	saved []*types.ReprocessTask
}

func (r *checkpointRecorder) SaveCheckpoint(ctx context.Context, task *types.ReprocessTask) error {
	r.mu.Lock()
	r.saved = append(r.saved, task.Clone())
	r.mu.Unlock()
	return r.Store.SaveCheckpoint(ctx, task)
}

func (r *checkpointRecorder) sequence() []*types.ReprocessTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.ReprocessTask, len(r.saved))
	copy(out, r.saved)
	return out
}

func TestCheckpointsAdvanceAtBatchBoundaries(t *testing.T) {
	base, err := sqlite.NewStore(filepath.Join(t.TempDir(), "argus_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { base.Close() })
	rec := &checkpointRecorder{Store: base}

	c := NewCoordinator(rec, &fakeGateway{}, resolver.New(rec, 0, 0),
		NewBroadcaster(nil, time.Hour, 1000000), 100)
	ctx := context.Background()

	seedEvents(t, rec, 250)

	_, err = c.Start(ctx, storage.EventFilter{})
	require.NoError(t, err)
	c.Wait()

	// One write to claim the slot, one for the running transition, one
	// per batch boundary, one terminal.
	seq := rec.sequence()
	require.Len(t, seq, 6)
	assert.Equal(t, types.TaskPending, seq[0].Status)
	assert.Equal(t, types.TaskRunning, seq[1].Status)
	assert.Equal(t, types.TaskCompleted, seq[5].Status)
	assert.Equal(t, 100, seq[2].Processed)
	assert.Equal(t, 200, seq[3].Processed)
	assert.Equal(t, 250, seq[4].Processed)

	// Progress never goes backwards, and every write with progress
	// lands on a completed-prefix boundary of the seeded order.
	prev := 0
	for i, task := range seq {
		assert.GreaterOrEqual(t, task.Processed, prev, "write %d regressed", i)
		prev = task.Processed
		assert.Equal(t, seq[0].TaskID, task.TaskID)
		if task.Processed > 0 {
			assert.Equal(t, fmt.Sprintf("evt-%04d", task.Processed-1), task.LastEventID,
				"write %d cursor is off a batch boundary", i)
		}
	}
}

// gatedCheckpointStore blocks the first terminal checkpoint write until
// released, holding the worker inside its finishing sequence.
type gatedCheckpointStore struct {
	storage.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedCheckpointStore) SaveCheckpoint(ctx context.Context, task *types.ReprocessTask) error {
	if task.Status.Terminal() {
		s.once.Do(func() {
			close(s.entered)
			<-s.release
		})
	}
	return s.Store.SaveCheckpoint(ctx, task)
}

func TestTerminalBroadcastSurvivesImmediateRestart(t *testing.T) {
	base, err := sqlite.NewStore(filepath.Join(t.TempDir(), "argus_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { base.Close() })
	gate := &gatedCheckpointStore{
		Store:   base,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}

	var snaps captureSink
	c := NewCoordinator(gate, &fakeGateway{}, resolver.New(gate, 0, 0),
		NewBroadcaster(snaps.sink, time.Hour, 1000000), 10)
	ctx := context.Background()

	seedEvents(t, gate, 3)

	first, err := c.Start(ctx, storage.EventFilter{})
	require.NoError(t, err)
	<-gate.entered

	// The task is terminal in memory but the worker is still writing
	// its final records; the slot must stay occupied.
	_, err = c.Start(ctx, storage.EventFilter{})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(gate.release)
	c.Wait()

	second, err := c.Start(ctx, storage.EventFilter{})
	require.NoError(t, err)
	require.NotEqual(t, first.TaskID, second.TaskID)
	c.Wait()

	// Each run gets exactly one terminal broadcast, attributed to the
	// right task.
	terminals := map[string]int{}
	for _, snap := range snaps.snapshots() {
		if snap.Status.Terminal() {
			terminals[snap.TaskID]++
		}
	}
	assert.Equal(t, 1, terminals[first.TaskID])
	assert.Equal(t, 1, terminals[second.TaskID])
}

// slowCountStore blocks the event count until released.
type slowCountStore struct {
	storage.Store
	entered chan struct{}
	release chan struct{}
}

func (s *slowCountStore) CountEvents(ctx context.Context, f storage.EventFilter) (int, error) {
	close(s.entered)
	<-s.release
	return s.Store.CountEvents(ctx, f)
}

func TestStatusRespondsWhileStartCountsEvents(t *testing.T) {
	base, err := sqlite.NewStore(filepath.Join(t.TempDir(), "argus_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { base.Close() })
	slow := &slowCountStore{
		Store:   base,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}

	c := NewCoordinator(slow, &fakeGateway{}, resolver.New(slow, 0, 0), nil, 10)
	seedEvents(t, slow, 1)

	startDone := make(chan struct{})
	go func() {
		defer close(startDone)
		_, err := c.Start(context.Background(), storage.EventFilter{})
		assert.NoError(t, err)
	}()
	<-slow.entered

	// Start is inside its count query; status reads must not queue up
	// behind it.
	var snap types.ProgressSnapshot
	var ok bool
	statusDone := make(chan struct{})
	go func() {
		defer close(statusDone)
		snap, ok = c.Status()
	}()
	select {
	case <-statusDone:
	case <-time.After(time.Second):
		t.Fatal("Status blocked behind the event count")
	}
	require.True(t, ok)
	assert.Equal(t, types.TaskPending, snap.Status)

	close(slow.release)
	<-startDone
	c.Wait()
}

func TestRunSkipsExistingEmbeddings(t *testing.T) {
	gw := &fakeGateway{}
	c, store := newTestCoordinator(t, gw, 10, nil)
	ctx := context.Background()

	seedEvents(t, store, 5)
	require.NoError(t, store.StoreEmbedding(ctx, "evt-0000", []float32{1, 0, 0}))
	require.NoError(t, store.StoreEmbedding(ctx, "evt-0001", []float32{1, 0, 0}))

	_, err := c.Start(ctx, storage.EventFilter{})
	require.NoError(t, err)
	c.Wait()

	final, _ := c.Status()
	assert.Equal(t, 5, final.Processed)
	assert.Equal(t, 3, final.EmbeddingsGenerated)
	assert.Equal(t, 3, gw.callCount())
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	gw := &fakeGateway{}
	started := make(chan struct{}, 1)
	proceed := make(chan struct{})
	gw.fn = func(string) ([]float32, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-proceed
		return []float32{1, 0, 0}, nil
	}

	c, store := newTestCoordinator(t, gw, 10, nil)
	seedEvents(t, store, 3)

	_, err := c.Start(context.Background(), storage.EventFilter{})
	require.NoError(t, err)
	<-started

	_, err = c.Start(context.Background(), storage.EventFilter{})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(proceed)
	c.Wait()

	// Terminal task frees the slot.
	_, err = c.Start(context.Background(), storage.EventFilter{OnlyUnmatched: true})
	assert.NoError(t, err)
	c.Wait()
}

func TestCancelStopsAtRecordBoundary(t *testing.T) {
	gw := &fakeGateway{}
	started := make(chan struct{}, 1)
	proceed := make(chan struct{})
	gw.fn = func(string) ([]float32, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-proceed
		return []float32{1, 0, 0}, nil
	}

	c, store := newTestCoordinator(t, gw, 10, nil)
	seedEvents(t, store, 50)

	_, err := c.Start(context.Background(), storage.EventFilter{})
	require.NoError(t, err)
	<-started

	assert.True(t, c.Cancel())
	assert.True(t, c.Cancel(), "cancel is idempotent while the task winds down")

	close(proceed)
	c.Wait()

	final, _ := c.Status()
	assert.Equal(t, types.TaskCancelled, final.Status)
	// The in-flight record finished, the rest were never started.
	assert.GreaterOrEqual(t, final.Processed, 1)
	assert.Less(t, final.Processed, 50)

	// Nothing running anymore.
	assert.False(t, c.Cancel())

	// The cancelled state is checkpointed.
	task, err := store.LoadCheckpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.TaskCancelled, task.Status)
}

func TestCancelWithNothingRunning(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeGateway{}, 10, nil)
	assert.False(t, c.Cancel())
}

func TestPerRecordFailuresDoNotStopTheRun(t *testing.T) {
	gw := &fakeGateway{}
	gw.fn = func(mediaRef string) ([]float32, error) {
		if mediaRef == "media/evt-0002.mp4" {
			return nil, errors.New("gateway timeout")
		}
		return []float32{1, 0, 0}, nil
	}

	c, store := newTestCoordinator(t, gw, 10, nil)
	seedEvents(t, store, 5)

	_, err := c.Start(context.Background(), storage.EventFilter{})
	require.NoError(t, err)
	c.Wait()

	final, _ := c.Status()
	assert.Equal(t, types.TaskCompleted, final.Status)
	assert.Equal(t, 5, final.Processed)
	assert.Equal(t, 1, final.Errors)

	// The failed event stays unlinked.
	event, err := store.GetEvent(context.Background(), "evt-0002")
	require.NoError(t, err)
	assert.False(t, event.Linked())
}

func TestStatusIdleBeforeFirstRun(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeGateway{}, 10, nil)
	_, ok := c.Status()
	assert.False(t, ok)
}

func TestRecoverInterruptedSurfacesErrorAndGatesResume(t *testing.T) {
	c, store := newTestCoordinator(t, &fakeGateway{}, 10, nil)
	ctx := context.Background()

	seedEvents(t, store, 5)

	// Simulate a run that died mid-flight.
	require.NoError(t, store.SaveCheckpoint(ctx, &types.ReprocessTask{
		TaskID:    "task-interrupted",
		Status:    types.TaskRunning,
		Total:     100,
		Processed: 40,
		StartedAt: time.Now().Add(-time.Minute),
		UpdatedAt: time.Now().Add(-time.Minute),
	}))

	require.NoError(t, c.RecoverInterrupted(ctx))

	snap, ok := c.Status()
	require.True(t, ok)
	assert.Equal(t, types.TaskError, snap.Status)
	assert.Equal(t, "interrupted by restart", snap.Error)

	// The rewrite is durable.
	task, err := store.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.TaskError, task.Status)

	// A full re-walk is refused; an unmatched-scoped run proceeds.
	_, err = c.Start(ctx, storage.EventFilter{})
	assert.ErrorIs(t, err, ErrResumeRequiresUnmatched)

	_, err = c.Start(ctx, storage.EventFilter{OnlyUnmatched: true})
	require.NoError(t, err)
	c.Wait()

	final, _ := c.Status()
	assert.Equal(t, types.TaskCompleted, final.Status)

	// The gate lifts once a run has been accepted.
	_, err = c.Start(ctx, storage.EventFilter{})
	require.NoError(t, err)
	c.Wait()
}

func TestRecoverWithCleanCheckpointKeepsHistory(t *testing.T) {
	c, store := newTestCoordinator(t, &fakeGateway{}, 10, nil)
	ctx := context.Background()

	done := time.Now()
	require.NoError(t, store.SaveCheckpoint(ctx, &types.ReprocessTask{
		TaskID:      "task-done",
		Status:      types.TaskCompleted,
		Total:       10,
		Processed:   10,
		StartedAt:   done.Add(-time.Minute),
		UpdatedAt:   done,
		CompletedAt: &done,
	}))

	require.NoError(t, c.RecoverInterrupted(ctx))

	snap, ok := c.Status()
	require.True(t, ok)
	assert.Equal(t, types.TaskCompleted, snap.Status)

	// No resume gate after a clean finish.
	seedEvents(t, store, 1)
	_, err := c.Start(ctx, storage.EventFilter{})
	require.NoError(t, err)
	c.Wait()
}

func TestRecoverWithoutCheckpointIsNoop(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeGateway{}, 10, nil)
	require.NoError(t, c.RecoverInterrupted(context.Background()))
	_, ok := c.Status()
	assert.False(t, ok)
}
