package tracker

import (
	"log/slog"
	"time"

	"github.com/runtrace/runtrace/pkg/models"
)

// containerTracker holds the at-most-one open iteration context and
// at-most-one open loop context used to tag newly started child nodes. The
// two contexts are independent, so nested iteration/loop pairs are
// representable without scanning node order.
type containerTracker struct {
	logger *slog.Logger

	iteration *models.ContainerContext
	loop      *models.ContainerContext

	// openSeq orders the two contexts so the innermost (most recently
	// opened) one wins when both could claim a starting child.
	openSeq      int
	iterationSeq int
	loopSeq      int
}

func newContainerTracker(logger *slog.Logger) *containerTracker {
	return &containerTracker{logger: logger}
}

// openIteration opens the iteration context at round 0. A second open while
// one is already active is a no-op: the engine never nests iterations, so a
// duplicate open is a stray event.
func (c *containerTracker) openIteration(containerNodeID, runID string, total int, startedAt time.Time) bool {
	if c.iteration != nil && c.iteration.Status == models.ContextStatusRunning {
		c.logger.Warn("Iteration context already open, ignoring open request",
			"open_container_id", c.iteration.ContainerNodeID,
			"requested_container_id", containerNodeID)

		return false
	}

	totalCopy := total
	c.iteration = &models.ContainerContext{
		ContainerNodeID: containerNodeID,
		RunID:           runID,
		Index:           0,
		TotalOrMax:      &totalCopy,
		StartedAt:       startedAt,
		Status:          models.ContextStatusRunning,
	}
	c.openSeq++
	c.iterationSeq = c.openSeq

	return true
}

// openLoop opens the loop context at round 0, independently of any open
// iteration context. max may be nil for unbounded loops.
func (c *containerTracker) openLoop(containerNodeID, runID string, max *int, startedAt time.Time) bool {
	if c.loop != nil && c.loop.Status == models.ContextStatusRunning {
		c.logger.Warn("Loop context already open, ignoring open request",
			"open_container_id", c.loop.ContainerNodeID,
			"requested_container_id", containerNodeID)

		return false
	}

	c.loop = &models.ContainerContext{
		ContainerNodeID: containerNodeID,
		RunID:           runID,
		Index:           0,
		TotalOrMax:      max,
		StartedAt:       startedAt,
		Status:          models.ContextStatusRunning,
	}
	c.openSeq++
	c.loopSeq = c.openSeq

	return true
}

// advanceIteration increments the open iteration context by exactly one
// round. The advance is dropped when no context is open, the target container
// does not match, or the new index would reach the declared bound (the engine
// is known to deliver extra iteration_next events).
func (c *containerTracker) advanceIteration(containerNodeID string, advancedAt time.Time) (int, bool) {
	return c.advance(c.iteration, "iteration", containerNodeID, advancedAt)
}

// advanceLoop is the loop counterpart of advanceIteration.
func (c *containerTracker) advanceLoop(containerNodeID string, advancedAt time.Time) (int, bool) {
	return c.advance(c.loop, "loop", containerNodeID, advancedAt)
}

func (c *containerTracker) advance(ctx *models.ContainerContext, kind, containerNodeID string, advancedAt time.Time) (int, bool) {
	if ctx == nil || ctx.Status != models.ContextStatusRunning {
		c.logger.Warn("Advance for container with no open context, dropping",
			"kind", kind, "container_id", containerNodeID)

		return 0, false
	}

	if ctx.ContainerNodeID != containerNodeID {
		c.logger.Warn("Advance targets a different container than the open context, dropping",
			"kind", kind,
			"open_container_id", ctx.ContainerNodeID,
			"requested_container_id", containerNodeID)

		return 0, false
	}

	newIndex := ctx.Index + 1
	if ctx.BoundReached(newIndex) {
		c.logger.Warn("Advance would exceed the declared bound, dropping duplicate event",
			"kind", kind,
			"container_id", containerNodeID,
			"current_index", ctx.Index,
			"bound", *ctx.TotalOrMax)

		return 0, false
	}

	ctx.Index = newIndex
	ctx.StartedAt = advancedAt

	return newIndex, true
}

// closeIteration marks the iteration context completed. Tags already written
// onto child nodes are retained so the finished rounds stay inspectable.
func (c *containerTracker) closeIteration(containerNodeID string) bool {
	if c.iteration == nil || c.iteration.ContainerNodeID != containerNodeID ||
		c.iteration.Status != models.ContextStatusRunning {
		c.logger.Warn("Close for iteration container that is not open, dropping",
			"container_id", containerNodeID)

		return false
	}

	c.iteration.Status = models.ContextStatusCompleted

	return true
}

// closeLoop marks the loop context completed.
func (c *containerTracker) closeLoop(containerNodeID string) bool {
	if c.loop == nil || c.loop.ContainerNodeID != containerNodeID ||
		c.loop.Status != models.ContextStatusRunning {
		c.logger.Warn("Close for loop container that is not open, dropping",
			"container_id", containerNodeID)

		return false
	}

	c.loop.Status = models.ContextStatusCompleted

	return true
}

// iterationContext returns the open iteration context, or nil.
func (c *containerTracker) iterationContext() *models.ContainerContext {
	if c.iteration == nil || c.iteration.Status != models.ContextStatusRunning {
		return nil
	}

	return c.iteration
}

// loopContext returns the open loop context, or nil.
func (c *containerTracker) loopContext() *models.ContainerContext {
	if c.loop == nil || c.loop.Status != models.ContextStatusRunning {
		return nil
	}

	return c.loop
}

// childTag decides whether a node starting now is a child of an open
// container, and of which one. A container node is never its own child. When
// both contexts are open the innermost one claims the node.
func (c *containerTracker) childTag(nodeID string) (string, int, bool) {
	iterOpen := c.iteration != nil && c.iteration.Status == models.ContextStatusRunning && c.iteration.ContainerNodeID != nodeID
	loopOpen := c.loop != nil && c.loop.Status == models.ContextStatusRunning && c.loop.ContainerNodeID != nodeID

	switch {
	case iterOpen && loopOpen:
		if c.loopSeq > c.iterationSeq {
			return c.loop.ContainerNodeID, c.loop.Index, true
		}

		return c.iteration.ContainerNodeID, c.iteration.Index, true
	case iterOpen:
		return c.iteration.ContainerNodeID, c.iteration.Index, true
	case loopOpen:
		return c.loop.ContainerNodeID, c.loop.Index, true
	default:
		return "", 0, false
	}
}
