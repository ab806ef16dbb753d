package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatusTerminal(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		terminal bool
	}{
		{TaskPending, false},
		{TaskRunning, false},
		{TaskCompleted, true},
		{TaskCancelled, true},
		{TaskError, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.terminal, tt.status.Terminal(), "status %s", tt.status)
	}
}

func TestSnapshotProgressPercent(t *testing.T) {
	task := &ReprocessTask{TaskID: "t1", Status: TaskRunning, Total: 250, Processed: 100}
	snap := task.Snapshot()
	assert.InDelta(t, 40.0, snap.ProgressPercent, 0.001)

	// Empty record set that completed reports 100%.
	task = &ReprocessTask{TaskID: "t2", Status: TaskCompleted, Total: 0, Processed: 0}
	assert.Equal(t, 100.0, task.Snapshot().ProgressPercent)

	// Empty record set still pending reports 0%.
	task = &ReprocessTask{TaskID: "t3", Status: TaskPending}
	assert.Equal(t, 0.0, task.Snapshot().ProgressPercent)
}

func TestAdjustmentActionDelta(t *testing.T) {
	assert.Equal(t, 1, ActionAssign.Delta())
	assert.Equal(t, 1, ActionMoveTo.Delta())
	assert.Equal(t, -1, ActionMoveFrom.Delta())
	assert.Equal(t, -1, ActionUnlink.Delta())
}

func TestValidEntityType(t *testing.T) {
	assert.True(t, ValidEntityType(EntityTypeVehicle))
	assert.True(t, ValidEntityType(EntityTypeUnknown))
	assert.False(t, ValidEntityType("drone"))
	assert.False(t, ValidEntityType(""))
}
