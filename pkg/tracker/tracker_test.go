package tracker

import (
	"testing"

	"github.com/runtrace/runtrace/pkg/events"
	"github.com/runtrace/runtrace/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_StartsIdle(t *testing.T) {
	tr := newTestTracker(t)

	assert.Equal(t, models.SessionStateIdle, tr.State())
	assert.False(t, tr.IsExecuting())
	assert.Empty(t, tr.Nodes())
	assert.Equal(t, "run-test", tr.RunID())
}

func TestTracker_StartExecution(t *testing.T) {
	tr := newTestTracker(t)
	tr.StartExecution()

	assert.Equal(t, models.SessionStateRunning, tr.State())
	assert.True(t, tr.IsExecuting())
	assert.Equal(t, models.Progress{}, tr.Progress())
}

func TestTracker_StopFailsEveryRunningNode(t *testing.T) {
	tr := newTestTracker(t)
	tr.HandleEvent(evt(t, events.WorkflowStarted, nil))

	// Plain running node.
	tr.HandleEvent(nodeStarted(t, "A"))

	// Iteration container mid-round with a running child.
	tr.HandleEvent(evt(t, events.IterationStarted, map[string]any{
		"node_id": "C", "metadata": map[string]any{"iterator_length": 3},
	}))
	tr.HandleEvent(evt(t, events.IterationNext, map[string]any{"node_id": "C"}))
	tr.HandleEvent(nodeStarted(t, "X"))

	// Parallel container with one branch still running.
	tr.HandleEvent(evt(t, events.ParallelBranchStarted, map[string]any{
		"node_id": "P", "parallel_id": "1", "parallel_run_id": "b1",
	}))

	tr.Stop()

	assert.False(t, tr.IsExecuting())
	assert.True(t, tr.CanRetry())
	assert.Equal(t, models.SessionStateInterrupted, tr.State())
	assert.Empty(t, tr.CurrentNodeID())

	for _, id := range []string{"A", "C", "X", "P"} {
		node, ok := tr.Node(id)
		require.True(t, ok, id)
		assert.Equal(t, models.NodeStatusFailed, node.Status, id)
		require.NotNil(t, node.FinishedAt, id)
	}

	node, _ := tr.Node("A")
	assert.Equal(t, stoppedByUserNote, node.Error)

	// Rounds and branches inside containers fail too.
	container, _ := tr.Node("C")
	for _, round := range container.IterationRounds {
		assert.True(t, round.Status.Terminal())
	}

	parallel, _ := tr.Node("P")
	for _, branch := range parallel.Branches {
		assert.Equal(t, models.NodeStatusFailed, branch.Status)
		require.NotNil(t, branch.FinishedAt)
	}
}

func TestTracker_StopOnIdleTrackerIsNoOp(t *testing.T) {
	tr := newTestTracker(t)

	tr.Stop()

	assert.Equal(t, models.SessionStateIdle, tr.State())
	assert.False(t, tr.CanRetry())
	assert.True(t, tr.Snapshot().FinishedAt.IsZero())
}

func TestTracker_StopAfterCompletionKeepsOutcome(t *testing.T) {
	tr := newTestTracker(t)
	tr.HandleEvent(evt(t, events.WorkflowStarted, nil))
	tr.HandleEvent(nodeStarted(t, "A"))
	tr.HandleEvent(nodeFinished(t, "A", "succeeded"))
	tr.HandleEvent(evt(t, events.WorkflowFinished, nil))

	finishedAt := tr.Snapshot().FinishedAt
	require.False(t, finishedAt.IsZero())

	tr.Stop()

	assert.Equal(t, models.SessionStateCompleted, tr.State())
	assert.False(t, tr.CanRetry())
	assert.Equal(t, finishedAt, tr.Snapshot().FinishedAt)
}

func TestTracker_StopIsIdempotent(t *testing.T) {
	tr := newTestTracker(t)
	tr.HandleEvent(evt(t, events.WorkflowStarted, nil))
	tr.HandleEvent(nodeStarted(t, "A"))
	tr.HandleEvent(nodeStarted(t, "B"))
	tr.HandleEvent(nodeFinished(t, "B", "succeeded"))

	tr.Stop()
	first := tr.Snapshot()

	tr.Stop()
	second := tr.Snapshot()

	assert.Equal(t, first.Nodes, second.Nodes)
	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.Progress, second.Progress)
	assert.Equal(t, first.CanRetry, second.CanRetry)
	assert.Equal(t, first.FinishedAt, second.FinishedAt)
}

func TestTracker_ResetDiscardsEverything(t *testing.T) {
	tr := newTestTracker(t)
	tr.HandleEvent(evt(t, events.WorkflowStarted, nil))
	tr.HandleEvent(nodeStarted(t, "A"))
	tr.HandleEvent(evt(t, events.IterationStarted, map[string]any{"node_id": "C"}))
	tr.ToggleLoopExpanded("whatever")
	tr.Stop()

	tr.Reset()

	assert.Equal(t, models.SessionStateIdle, tr.State())
	assert.Empty(t, tr.Nodes())
	assert.Empty(t, tr.CurrentNodeID())
	assert.Empty(t, tr.Err())
	assert.False(t, tr.CanRetry())
	assert.Equal(t, models.Progress{}, tr.Progress())
	assert.Equal(t, 0, tr.DroppedEvents())
	assert.Empty(t, tr.IterationExpanded())
	assert.Empty(t, tr.LoopExpanded())
}

func TestTracker_ToggleExpanded(t *testing.T) {
	tr := newTestTracker(t)

	tr.ToggleIterationExpanded("C")
	assert.True(t, tr.IterationExpanded()["C"])

	tr.ToggleIterationExpanded("C")
	assert.False(t, tr.IterationExpanded()["C"])

	tr.ToggleLoopExpanded("L")
	assert.True(t, tr.LoopExpanded()["L"])

	// Presentation hints never touch execution state.
	assert.Empty(t, tr.Nodes())
	assert.Equal(t, models.SessionStateIdle, tr.State())
}

func TestTracker_SnapshotIsIsolated(t *testing.T) {
	tr := newTestTracker(t)
	tr.HandleEvent(evt(t, events.WorkflowStarted, nil))
	tr.HandleEvent(nodeStarted(t, "A"))

	snap := tr.Snapshot()
	require.Len(t, snap.Nodes, 1)

	// Mutating the snapshot must not reach the tracker.
	snap.Nodes[0].Status = models.NodeStatusFailed
	snap.IterationExpanded["C"] = true

	node, _ := tr.Node("A")
	assert.Equal(t, models.NodeStatusRunning, node.Status)
	assert.False(t, tr.IterationExpanded()["C"])
}

func TestTracker_RecordForFinishedRun(t *testing.T) {
	tr := newTestTracker(t)
	tr.HandleEvent(&events.StreamEvent{Event: events.WorkflowStarted, WorkflowRunID: "wfr-1"})
	tr.HandleEvent(nodeStarted(t, "A"))
	tr.HandleEvent(nodeFinished(t, "A", "succeeded"))
	tr.HandleEvent(evt(t, events.WorkflowFinished, nil))

	record := tr.Record()
	require.NotNil(t, record)
	assert.Equal(t, "run-test", record.ID)
	assert.Equal(t, "wfr-1", record.WorkflowRunID)
	assert.Equal(t, models.SessionStateCompleted, record.State)
	assert.Len(t, record.Nodes, 1)
	assert.Equal(t, models.Progress{Completed: 1, Total: 1, Percentage: 100}, record.Progress)
	assert.False(t, record.StartedAt.IsZero())
	assert.False(t, record.FinishedAt.IsZero())
	assert.False(t, record.CreatedAt.IsZero())
}
