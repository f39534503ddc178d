package tracker

import (
	"strconv"

	"github.com/runtrace/runtrace/pkg/events"
	"github.com/runtrace/runtrace/pkg/models"
)

// HandleEvent applies one engine event to the session. Events are applied
// strictly in arrival order, each to completion before the next. Anomalies
// (unknown names, undecodable payloads, duplicate or bound-violating
// advances, events for containers that never opened) are dropped with a
// diagnostic; HandleEvent never panics on engine input.
func (t *Tracker) HandleEvent(event *events.StreamEvent) {
	if event == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if event.WorkflowRunID != "" && t.workflowRunID == "" {
		t.workflowRunID = event.WorkflowRunID
	}

	if event.TaskID != "" && t.taskID == "" {
		t.taskID = event.TaskID
	}

	switch event.Event {
	case events.WorkflowStarted:
		t.startLocked()
	case events.WorkflowFinished:
		t.handleWorkflowFinished()
	case events.WorkflowInterrupted:
		t.handleWorkflowInterrupted()
	case events.NodeStarted:
		t.handleNodeStarted(event)
	case events.NodeFinished:
		t.handleNodeFinished(event)
	case events.NodeFailed:
		t.handleNodeFailed(event)
	case events.IterationStarted:
		t.handleIterationStarted(event)
	case events.IterationNext:
		t.handleIterationNext(event)
	case events.IterationCompleted:
		t.handleIterationCompleted(event)
	case events.LoopStarted:
		t.handleLoopStarted(event)
	case events.LoopNext:
		t.handleLoopNext(event)
	case events.LoopCompleted:
		t.handleLoopCompleted(event)
	case events.ParallelBranchStarted:
		t.handleParallelBranchStarted(event)
	case events.ParallelBranchFinished:
		t.handleParallelBranchFinished(event)
	case events.TextChunk, events.Ping:
		// Carries no execution-tree state.
	default:
		t.logger.Warn("Unrecognized engine event, ignoring", "event", event.Event)
	}
}

func (t *Tracker) dropEvent(event events.EventType, reason string, err error) {
	t.droppedEvents++

	if err != nil {
		t.logger.Warn("Dropping engine event", "event", event, "reason", reason, "error", err)

		return
	}

	t.logger.Warn("Dropping engine event", "event", event, "reason", reason)
}

func (t *Tracker) handleWorkflowFinished() {
	t.state = models.SessionStateCompleted
	t.currentNodeID = ""
	t.finishedAt = t.now()
}

func (t *Tracker) handleWorkflowInterrupted() {
	t.stopLocked(interruptedNote)
	t.state = models.SessionStateInterrupted
	t.errMsg = interruptedNote
}

func (t *Tracker) handleNodeStarted(event *events.StreamEvent) {
	var data events.NodeStartedData
	if err := event.DecodeData(&data); err != nil || data.NodeID == "" {
		t.dropEvent(event.Event, "undecodable payload", err)

		return
	}

	now := t.now()
	parentID, roundIndex, isChild := t.containers.childTag(data.NodeID)

	t.registry.upsert(data.NodeID, func(n *models.ExecutionNode) {
		n.Status = models.NodeStatusRunning
		n.StartedAt = &now
		n.FinishedAt = nil
		n.Error = ""

		if data.Title != "" {
			n.Title = data.Title
		} else if n.Title == "" {
			n.Title = data.NodeType + " node"
		}

		if data.NodeType != "" {
			n.Kind = data.NodeType
		}

		if isChild {
			index := roundIndex
			n.ParentContainerID = parentID
			n.RoundIndex = &index
		}
	})

	t.currentNodeID = data.NodeID
	t.refreshProgress()
}

func (t *Tracker) handleNodeFinished(event *events.StreamEvent) {
	var data events.NodeFinishedData
	if err := event.DecodeData(&data); err != nil || data.NodeID == "" {
		t.dropEvent(event.Event, "undecodable payload", err)

		return
	}

	t.finishNode(data.NodeID, events.SuccessStatus(data.Status), data.Error)
}

// handleNodeFailed is the engine-reported hard failure: in addition to the
// local node update the session itself fails and becomes retryable.
func (t *Tracker) handleNodeFailed(event *events.StreamEvent) {
	var data events.NodeFinishedData
	if err := event.DecodeData(&data); err != nil || data.NodeID == "" {
		t.dropEvent(event.Event, "undecodable payload", err)

		return
	}

	t.finishNode(data.NodeID, false, data.Error)

	t.state = models.SessionStateFailed
	t.errMsg = data.Error
	t.canRetry = true
	t.finishedAt = t.now()
}

func (t *Tracker) finishNode(nodeID string, success bool, errMsg string) {
	now := t.now()

	t.registry.upsert(nodeID, func(n *models.ExecutionNode) {
		if success {
			n.Status = models.NodeStatusCompleted
		} else {
			n.Status = models.NodeStatusFailed
			n.Error = errMsg
		}

		n.FinishedAt = &now
	})

	if success && t.currentNodeID == nodeID {
		t.currentNodeID = ""
	}

	t.refreshProgress()
}

func (t *Tracker) handleIterationStarted(event *events.StreamEvent) {
	var data events.IterationStartedData
	if err := event.DecodeData(&data); err != nil || data.NodeID == "" {
		t.dropEvent(event.Event, "undecodable payload", err)

		return
	}

	now := t.now()
	total := data.ResolveTotal()
	parentID, roundIndex, isChild := t.containers.childTag(data.NodeID)
	opened := t.containers.openIteration(data.NodeID, t.runID, total, now)

	roundID := data.IterationID
	if roundID == "" {
		roundID = data.NodeID + "-round-0"
	}

	t.registry.upsert(data.NodeID, func(n *models.ExecutionNode) {
		// A container starting inside another open container is itself
		// a child of that container.
		if isChild {
			index := roundIndex
			n.ParentContainerID = parentID
			n.RoundIndex = &index
		}

		n.Role = models.ContainerRoleIteration
		n.Status = models.NodeStatusRunning
		n.TotalRounds = total
		n.CurrentRound = 0

		if n.StartedAt == nil {
			n.StartedAt = &now
		}

		if data.Title != "" {
			n.Title = data.Title
		} else if n.Title == "" {
			n.Title = "Iteration"
		}

		if data.NodeType != "" {
			n.Kind = data.NodeType
		} else if n.Kind == "" {
			n.Kind = "iteration"
		}

		if opened {
			n.IterationRounds = append(n.IterationRounds, models.IterationRound{
				ID:        roundID,
				Index:     0,
				Status:    models.NodeStatusRunning,
				StartedAt: now,
				Inputs:    data.Inputs,
			})
		}
	})

	// UI hint: a container that just opened is worth looking at.
	t.iterationExpanded[data.NodeID] = true
	t.refreshProgress()
}

func (t *Tracker) handleIterationNext(event *events.StreamEvent) {
	var data events.IterationNextData
	if err := event.DecodeData(&data); err != nil || data.NodeID == "" {
		t.dropEvent(event.Event, "undecodable payload", err)

		return
	}

	now := t.now()

	newIndex, ok := t.containers.advanceIteration(data.NodeID, now)
	if !ok {
		t.droppedEvents++

		return
	}

	t.registry.upsert(data.NodeID, func(n *models.ExecutionNode) {
		n.CurrentRound = newIndex

		if len(n.IterationRounds) > 0 {
			last := &n.IterationRounds[len(n.IterationRounds)-1]
			if last.Status == models.NodeStatusRunning {
				last.Status = models.NodeStatusCompleted
				last.FinishedAt = &now
			}
		}

		n.IterationRounds = append(n.IterationRounds, models.IterationRound{
			ID:        data.NodeID + "-round-" + strconv.Itoa(newIndex),
			Index:     newIndex,
			Status:    models.NodeStatusRunning,
			StartedAt: now,
		})
	})

	t.retagChildren(data.NodeID, newIndex)
}

func (t *Tracker) handleIterationCompleted(event *events.StreamEvent) {
	var data events.IterationCompletedData
	if err := event.DecodeData(&data); err != nil || data.NodeID == "" {
		t.dropEvent(event.Event, "undecodable payload", err)

		return
	}

	node, ok := t.registry.get(data.NodeID)
	if !ok || node.Role != models.ContainerRoleIteration {
		t.dropEvent(event.Event, "completion for iteration container that never opened", nil)

		return
	}

	now := t.now()

	t.registry.upsert(data.NodeID, func(n *models.ExecutionNode) {
		n.Status = models.NodeStatusCompleted
		n.FinishedAt = &now

		if len(n.IterationRounds) > 0 {
			last := &n.IterationRounds[len(n.IterationRounds)-1]
			if last.Status == models.NodeStatusRunning {
				last.Status = models.NodeStatusCompleted
				last.FinishedAt = &now
				last.Outputs = data.Outputs
			}
		}
	})

	t.containers.closeIteration(data.NodeID)
	t.refreshProgress()
}

func (t *Tracker) handleLoopStarted(event *events.StreamEvent) {
	var data events.LoopStartedData
	if err := event.DecodeData(&data); err != nil || data.NodeID == "" {
		t.dropEvent(event.Event, "undecodable payload", err)

		return
	}

	now := t.now()
	max := data.ResolveMax()
	parentID, roundIndex, isChild := t.containers.childTag(data.NodeID)
	opened := t.containers.openLoop(data.NodeID, t.runID, max, now)

	roundID := data.ID
	if roundID == "" {
		roundID = data.NodeID + "-round-0"
	}

	t.registry.upsert(data.NodeID, func(n *models.ExecutionNode) {
		if isChild {
			index := roundIndex
			n.ParentContainerID = parentID
			n.RoundIndex = &index
		}

		n.Role = models.ContainerRoleLoop
		n.Status = models.NodeStatusRunning
		n.MaxRounds = max
		n.CurrentRound = 0

		if n.StartedAt == nil {
			n.StartedAt = &now
		}

		if data.Title != "" {
			n.Title = data.Title
		} else if n.Title == "" {
			n.Title = "Loop"
		}

		if data.NodeType != "" {
			n.Kind = data.NodeType
		} else if n.Kind == "" {
			n.Kind = "loop"
		}

		if opened {
			n.LoopRounds = append(n.LoopRounds, models.LoopRound{
				ID:        roundID,
				Index:     0,
				Status:    models.NodeStatusRunning,
				StartedAt: now,
				MaxRounds: max,
			})
		}
	})

	t.loopExpanded[data.NodeID] = true
	t.refreshProgress()
}

func (t *Tracker) handleLoopNext(event *events.StreamEvent) {
	var data events.LoopNextData
	if err := event.DecodeData(&data); err != nil || data.NodeID == "" {
		t.dropEvent(event.Event, "undecodable payload", err)

		return
	}

	now := t.now()

	newIndex, ok := t.containers.advanceLoop(data.NodeID, now)
	if !ok {
		t.droppedEvents++

		return
	}

	t.registry.upsert(data.NodeID, func(n *models.ExecutionNode) {
		n.CurrentRound = newIndex

		if len(n.LoopRounds) > 0 {
			last := &n.LoopRounds[len(n.LoopRounds)-1]
			if last.Status == models.NodeStatusRunning {
				last.Status = models.NodeStatusCompleted
				last.FinishedAt = &now
			}
		}

		n.LoopRounds = append(n.LoopRounds, models.LoopRound{
			ID:        data.NodeID + "-round-" + strconv.Itoa(newIndex),
			Index:     newIndex,
			Status:    models.NodeStatusRunning,
			StartedAt: now,
			MaxRounds: n.MaxRounds,
		})
	})

	t.retagChildren(data.NodeID, newIndex)
}

func (t *Tracker) handleLoopCompleted(event *events.StreamEvent) {
	var data events.LoopCompletedData
	if err := event.DecodeData(&data); err != nil || data.NodeID == "" {
		t.dropEvent(event.Event, "undecodable payload", err)

		return
	}

	node, ok := t.registry.get(data.NodeID)
	if !ok || node.Role != models.ContainerRoleLoop {
		t.dropEvent(event.Event, "completion for loop container that never opened", nil)

		return
	}

	now := t.now()

	t.registry.upsert(data.NodeID, func(n *models.ExecutionNode) {
		n.Status = models.NodeStatusCompleted
		n.FinishedAt = &now

		if len(n.LoopRounds) > 0 {
			last := &n.LoopRounds[len(n.LoopRounds)-1]
			if last.Status == models.NodeStatusRunning {
				last.Status = models.NodeStatusCompleted
				last.FinishedAt = &now
			}
		}

		// The engine reports how many passes actually ran; fall back to
		// the recorded rounds when it doesn't.
		if data.Outputs.LoopRound > 0 {
			n.TotalRounds = data.Outputs.LoopRound
		} else {
			n.TotalRounds = len(n.LoopRounds)
		}
	})

	t.containers.closeLoop(data.NodeID)
	t.refreshProgress()
}

// retagChildren moves still-active children of a container to the new round.
// Children already in a terminal status keep the round index they finished
// under, so earlier passes stay inspectable.
func (t *Tracker) retagChildren(containerID string, newIndex int) {
	for _, node := range t.registry.all() {
		if node.ParentContainerID != containerID || node.Status.Terminal() {
			continue
		}

		index := newIndex
		node.RoundIndex = &index
	}
}

func (t *Tracker) handleParallelBranchStarted(event *events.StreamEvent) {
	var data events.ParallelBranchStartedData
	if err := event.DecodeData(&data); err != nil || data.NodeID == "" {
		t.dropEvent(event.Event, "undecodable payload", err)

		return
	}

	branchID := data.ParallelRunID
	if branchID == "" {
		branchID = data.ParallelID
	}

	if branchID == "" {
		t.dropEvent(event.Event, "branch without an id", nil)

		return
	}

	now := t.now()
	parentID, roundIndex, isChild := t.containers.childTag(data.NodeID)

	t.registry.upsert(data.NodeID, func(n *models.ExecutionNode) {
		if isChild {
			index := roundIndex
			n.ParentContainerID = parentID
			n.RoundIndex = &index
		}

		n.Role = models.ContainerRoleParallel
		n.Status = models.NodeStatusRunning

		if n.StartedAt == nil {
			n.StartedAt = &now
		}

		if n.Title == "" {
			n.Title = "Parallel"
		}

		if n.Kind == "" {
			n.Kind = "parallel"
		}

		for _, b := range n.Branches {
			if b.ID == branchID {
				return // Duplicate start for a known branch.
			}
		}

		n.Branches = append(n.Branches, models.ParallelBranch{
			ID:        branchID,
			Index:     len(n.Branches),
			Status:    models.NodeStatusRunning,
			StartedAt: now,
		})
		n.TotalBranches = len(n.Branches)
	})

	t.refreshProgress()
}

func (t *Tracker) handleParallelBranchFinished(event *events.StreamEvent) {
	var data events.ParallelBranchFinishedData
	if err := event.DecodeData(&data); err != nil || data.NodeID == "" {
		t.dropEvent(event.Event, "undecodable payload", err)

		return
	}

	node, ok := t.registry.get(data.NodeID)
	if !ok || node.Role != models.ContainerRoleParallel {
		t.dropEvent(event.Event, "finish for parallel container that never opened", nil)

		return
	}

	now := t.now()

	found := false
	anyFailed := false
	completed := 0

	for i := range node.Branches {
		b := &node.Branches[i]

		if b.ID == data.ParallelRunID && !b.Status.Terminal() {
			found = true

			if events.SuccessStatus(data.Status) {
				b.Status = models.NodeStatusCompleted
			} else {
				b.Status = models.NodeStatusFailed
			}

			b.FinishedAt = &now
		}

		if b.Status.Terminal() {
			completed++
		}

		if b.Status == models.NodeStatusFailed {
			anyFailed = true
		}
	}

	if !found {
		t.dropEvent(event.Event, "finish for unknown or already-finished branch", nil)

		return
	}

	node.CompletedBranches = completed

	if completed == node.TotalBranches {
		if anyFailed {
			node.Status = models.NodeStatusFailed
		} else {
			node.Status = models.NodeStatusCompleted
		}

		node.FinishedAt = &now
	}

	t.refreshProgress()
}

