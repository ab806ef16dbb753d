package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haverlock/argus/internal/storage"
	"github.com/haverlock/argus/internal/storage/sqlite"
	"github.com/haverlock/argus/pkg/types"
)

func newTestService(t *testing.T) (*Service, storage.Store) {
	t.Helper()
	store, err := sqlite.NewStore(t.TempDir() + "/argus.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewService(store), store
}

func seedEvent(t *testing.T, store storage.Store, id string) {
	t.Helper()
	require.NoError(t, store.PutEvent(context.Background(), &types.Event{
		ID:         id,
		CameraID:   "cam-front",
		OccurredAt: time.Now().UTC().Truncate(time.Second),
		MediaRef:   "media/" + id + ".mp4",
		Descriptor: "person at the front door",
	}))
}

func seedEntity(t *testing.T, store storage.Store, id string) {
	t.Helper()
	require.NoError(t, store.CreateEntity(context.Background(), &types.Entity{
		ID:   id,
		Type: types.EntityTypePerson,
	}))
}

func TestAssignThenMoveRecordsThreeLedgerRows(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seedEvent(t, store, "event_7")
	seedEntity(t, store, "entity_A")
	seedEntity(t, store, "entity_B")

	assignState, err := svc.Assign(ctx, "event_7", "entity_A")
	require.NoError(t, err)
	assert.Equal(t, []types.AdjustmentAction{types.ActionAssign}, assignState.Actions)

	moveState, err := svc.Move(ctx, "event_7", "entity_B")
	require.NoError(t, err)
	assert.Equal(t, []types.AdjustmentAction{types.ActionMoveFrom, types.ActionMoveTo}, moveState.Actions)

	history, err := svc.History(ctx, "event_7")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, types.ActionAssign, history[0].Action)
	assert.Equal(t, types.ActionMoveFrom, history[1].Action)
	assert.Equal(t, types.ActionMoveTo, history[2].Action)

	// Entity A is back where it started, B gained the occurrence.
	a, err := store.GetEntity(ctx, "entity_A")
	require.NoError(t, err)
	assert.Equal(t, 0, a.OccurrenceCount)
	b, err := store.GetEntity(ctx, "entity_B")
	require.NoError(t, err)
	assert.Equal(t, 1, b.OccurrenceCount)

	// Each ledger row carries the event snapshot.
	for _, adj := range history {
		require.NotNil(t, adj.Snapshot)
		assert.Equal(t, "cam-front", adj.Snapshot.CameraID)
	}
}

func TestAssignRejectsLinkedEvent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seedEvent(t, store, "evt-1")
	seedEntity(t, store, "ent-1")
	seedEntity(t, store, "ent-2")

	_, err := svc.Assign(ctx, "evt-1", "ent-1")
	require.NoError(t, err)

	_, err = svc.Assign(ctx, "evt-1", "ent-2")
	assert.ErrorIs(t, err, storage.ErrAlreadyLinked)
}

func TestMoveAndUnlinkRequireLink(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seedEvent(t, store, "evt-1")
	seedEntity(t, store, "ent-1")

	_, err := svc.Move(ctx, "evt-1", "ent-1")
	assert.ErrorIs(t, err, storage.ErrNotLinked)

	_, err = svc.Unlink(ctx, "evt-1")
	assert.ErrorIs(t, err, storage.ErrNotLinked)
}

func TestUnknownEventAndEntity(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seedEvent(t, store, "evt-1")
	seedEntity(t, store, "ent-1")

	_, err := svc.Assign(ctx, "missing-event", "ent-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = svc.Assign(ctx, "evt-1", "missing-entity")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = svc.History(ctx, "missing-event")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEntityHistoryListsBothSidesOfMove(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seedEvent(t, store, "evt-1")
	seedEntity(t, store, "ent-1")
	seedEntity(t, store, "ent-2")

	_, err := svc.Assign(ctx, "evt-1", "ent-1")
	require.NoError(t, err)
	_, err = svc.Move(ctx, "evt-1", "ent-2")
	require.NoError(t, err)

	// ent-1 appears in the assign and both move rows.
	history, err := svc.EntityHistory(ctx, "ent-1")
	require.NoError(t, err)
	assert.Len(t, history, 3)

	// ent-2 only in move_to.
	history, err = svc.EntityHistory(ctx, "ent-2")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, types.ActionMoveTo, history[0].Action)
}
