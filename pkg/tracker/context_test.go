package tracker

import (
	"testing"
	"time"

	"github.com/runtrace/runtrace/pkg/log"
	"github.com/runtrace/runtrace/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContainerTracker() *containerTracker {
	return newContainerTracker(log.WithModule("test"))
}

func TestContainerTracker_OpenIterationTwiceIsNoOp(t *testing.T) {
	c := testContainerTracker()
	now := time.Now()

	assert.True(t, c.openIteration("iter-1", "run-1", 3, now))
	assert.False(t, c.openIteration("iter-2", "run-1", 2, now))

	require.NotNil(t, c.iterationContext())
	assert.Equal(t, "iter-1", c.iterationContext().ContainerNodeID)
}

func TestContainerTracker_IterationAndLoopAreIndependent(t *testing.T) {
	c := testContainerTracker()
	now := time.Now()

	assert.True(t, c.openIteration("iter-1", "run-1", 3, now))
	assert.True(t, c.openLoop("loop-1", "run-1", nil, now))

	require.NotNil(t, c.iterationContext())
	require.NotNil(t, c.loopContext())
}

func TestContainerTracker_AdvanceMatchingContainer(t *testing.T) {
	c := testContainerTracker()
	now := time.Now()
	c.openIteration("iter-1", "run-1", 3, now)

	index, ok := c.advanceIteration("iter-1", now)
	require.True(t, ok)
	assert.Equal(t, 1, index)

	index, ok = c.advanceIteration("iter-1", now)
	require.True(t, ok)
	assert.Equal(t, 2, index)
}

func TestContainerTracker_AdvanceMismatchedContainerDropped(t *testing.T) {
	c := testContainerTracker()
	now := time.Now()
	c.openIteration("iter-1", "run-1", 3, now)

	_, ok := c.advanceIteration("other", now)
	assert.False(t, ok)
	assert.Equal(t, 0, c.iterationContext().Index)
}

func TestContainerTracker_AdvanceWithoutOpenContextDropped(t *testing.T) {
	c := testContainerTracker()

	_, ok := c.advanceIteration("iter-1", time.Now())
	assert.False(t, ok)

	_, ok = c.advanceLoop("loop-1", time.Now())
	assert.False(t, ok)
}

func TestContainerTracker_AdvanceBeyondBoundDropped(t *testing.T) {
	c := testContainerTracker()
	now := time.Now()
	c.openIteration("iter-1", "run-1", 2, now)

	_, ok := c.advanceIteration("iter-1", now)
	require.True(t, ok)

	// Index 1 is the last round of a 2-round iteration; every further
	// advance is a duplicate from the engine and must leave it unchanged.
	for range 4 {
		_, ok = c.advanceIteration("iter-1", now)
		assert.False(t, ok)
	}

	assert.Equal(t, 1, c.iterationContext().Index)
}

func TestContainerTracker_UnboundedLoopAdvances(t *testing.T) {
	c := testContainerTracker()
	now := time.Now()
	c.openLoop("loop-1", "run-1", nil, now)

	for want := 1; want <= 10; want++ {
		index, ok := c.advanceLoop("loop-1", now)
		require.True(t, ok)
		assert.Equal(t, want, index)
	}
}

func TestContainerTracker_CloseClearsContext(t *testing.T) {
	c := testContainerTracker()
	now := time.Now()
	c.openIteration("iter-1", "run-1", 3, now)
	c.openLoop("loop-1", "run-1", nil, now)

	assert.False(t, c.closeIteration("other"))
	require.NotNil(t, c.iterationContext())

	assert.True(t, c.closeIteration("iter-1"))
	assert.Nil(t, c.iterationContext())

	assert.True(t, c.closeLoop("loop-1"))
	assert.Nil(t, c.loopContext())

	// Closing again is a stray event.
	assert.False(t, c.closeLoop("loop-1"))
}

func TestContainerTracker_ClosedContextIsCompletedNotBlocking(t *testing.T) {
	c := testContainerTracker()
	now := time.Now()
	c.openIteration("iter-1", "run-1", 3, now)

	require.True(t, c.closeIteration("iter-1"))

	// The closed context survives as a completed record.
	require.NotNil(t, c.iteration)
	assert.Equal(t, models.ContextStatusCompleted, c.iteration.Status)

	// It neither blocks the next container nor produces advances or tags.
	_, _, ok := c.childTag("n1")
	assert.False(t, ok)

	assert.True(t, c.openIteration("iter-2", "run-1", 2, now))
	assert.Equal(t, models.ContextStatusRunning, c.iterationContext().Status)
}

func TestContainerTracker_ChildTag(t *testing.T) {
	c := testContainerTracker()
	now := time.Now()

	_, _, ok := c.childTag("n1")
	assert.False(t, ok)

	c.openIteration("iter-1", "run-1", 3, now)

	parent, index, ok := c.childTag("n1")
	require.True(t, ok)
	assert.Equal(t, "iter-1", parent)
	assert.Equal(t, 0, index)

	// The container is never its own child.
	_, _, ok = c.childTag("iter-1")
	assert.False(t, ok)

	c.advanceIteration("iter-1", now)

	_, index, ok = c.childTag("n2")
	require.True(t, ok)
	assert.Equal(t, 1, index)
}

func TestContainerTracker_ChildTagInnermostWins(t *testing.T) {
	c := testContainerTracker()
	now := time.Now()

	// A loop opened inside an iteration claims new children.
	c.openIteration("iter-1", "run-1", 3, now)
	c.openLoop("loop-1", "run-1", nil, now)

	parent, _, ok := c.childTag("n1")
	require.True(t, ok)
	assert.Equal(t, "loop-1", parent)

	// Once the loop closes, children fall back to the iteration.
	c.closeLoop("loop-1")

	parent, _, ok = c.childTag("n2")
	require.True(t, ok)
	assert.Equal(t, "iter-1", parent)
}
