// Package tracker reconstructs a hierarchical execution tree from the flat,
// ordered event stream of one workflow run. One Tracker instance owns the
// state of exactly one run; all writes funnel through HandleEvent and the
// lifecycle commands, applied strictly one at a time.
package tracker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/runtrace/runtrace/pkg/models"
)

const stoppedByUserNote = "stopped by user"
const interruptedNote = "workflow interrupted"

type Tracker struct {
	mu     sync.RWMutex
	logger *slog.Logger
	now    func() time.Time

	runID         string
	workflowRunID string
	taskID        string

	state      models.SessionState
	registry   *registry
	containers *containerTracker

	currentNodeID string
	progress      models.Progress
	errMsg        string
	canRetry      bool
	droppedEvents int

	iterationExpanded map[string]bool
	loopExpanded      map[string]bool

	startedAt  time.Time
	finishedAt time.Time
}

// New creates an idle tracker for the given run id.
func New(runID string, logger *slog.Logger) *Tracker {
	t := &Tracker{
		logger: logger.With("run_id", runID),
		now:    time.Now,
		runID:  runID,
	}
	t.resetLocked()

	return t
}

// StartExecution clears every entity and moves the session to running. The
// reducer calls this on workflow_started as well, so callers only need it
// when they want the session live before the first engine event arrives.
func (t *Tracker) StartExecution() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.startLocked()
}

// Stop is the sole cancellation primitive. Every node still running, and
// every open round and branch nested inside one, transitions to failed with
// an explanatory note. Open container contexts are left as-is; a subsequent
// Reset clears them. Stop is idempotent.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked(stoppedByUserNote)

	if t.state == models.SessionStateRunning {
		t.state = models.SessionStateInterrupted
	}
}

// Reset discards every entity and returns the session to idle.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetLocked()
}

// ToggleIterationExpanded flips the UI expansion hint for an iteration
// container. Presentation state only; execution state is untouched.
func (t *Tracker) ToggleIterationExpanded(containerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.iterationExpanded[containerID] = !t.iterationExpanded[containerID]
}

// ToggleLoopExpanded flips the UI expansion hint for a loop container.
func (t *Tracker) ToggleLoopExpanded(containerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.loopExpanded[containerID] = !t.loopExpanded[containerID]
}

func (t *Tracker) startLocked() {
	now := t.now()

	t.state = models.SessionStateRunning
	t.registry = newRegistry()
	t.containers = newContainerTracker(t.logger)
	t.currentNodeID = ""
	t.progress = models.Progress{}
	t.errMsg = ""
	t.canRetry = false
	t.droppedEvents = 0
	t.iterationExpanded = make(map[string]bool)
	t.loopExpanded = make(map[string]bool)
	t.startedAt = now
	t.finishedAt = time.Time{}
}

// stopLocked fails everything still running. It only acts on a running
// session; stopping an idle or already-finished one must not flip the
// retry flag or restamp finishedAt.
func (t *Tracker) stopLocked(note string) {
	if t.state != models.SessionStateRunning {
		return
	}

	now := t.now()

	for _, node := range t.registry.all() {
		if node.Status == models.NodeStatusRunning {
			node.Status = models.NodeStatusFailed
			node.FinishedAt = &now
			node.Error = note
		}

		for i := range node.IterationRounds {
			if node.IterationRounds[i].Status == models.NodeStatusRunning {
				node.IterationRounds[i].Status = models.NodeStatusFailed
				node.IterationRounds[i].FinishedAt = &now
			}
		}

		for i := range node.LoopRounds {
			if node.LoopRounds[i].Status == models.NodeStatusRunning {
				node.LoopRounds[i].Status = models.NodeStatusFailed
				node.LoopRounds[i].FinishedAt = &now
			}
		}

		for i := range node.Branches {
			if node.Branches[i].Status == models.NodeStatusRunning {
				node.Branches[i].Status = models.NodeStatusFailed
				node.Branches[i].FinishedAt = &now
			}
		}
	}

	t.currentNodeID = ""
	t.canRetry = true
	t.refreshProgress()

	if t.finishedAt.IsZero() {
		t.finishedAt = now
	}
}

func (t *Tracker) resetLocked() {
	t.state = models.SessionStateIdle
	t.registry = newRegistry()
	t.containers = newContainerTracker(t.logger)
	t.currentNodeID = ""
	t.progress = models.Progress{}
	t.errMsg = ""
	t.canRetry = false
	t.droppedEvents = 0
	t.iterationExpanded = make(map[string]bool)
	t.loopExpanded = make(map[string]bool)
	t.startedAt = time.Time{}
	t.finishedAt = time.Time{}
}

func (t *Tracker) refreshProgress() {
	t.progress = t.registry.progress()
}

// Read surface. All accessors copy, so UI consumers never alias the
// tracker's mutable state.

func (t *Tracker) RunID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.runID
}

func (t *Tracker) State() models.SessionState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.state
}

func (t *Tracker) IsExecuting() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.state == models.SessionStateRunning
}

func (t *Tracker) CurrentNodeID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.currentNodeID
}

func (t *Tracker) Progress() models.Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.progress
}

func (t *Tracker) Err() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.errMsg
}

func (t *Tracker) CanRetry() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.canRetry
}

// DroppedEvents counts protocol anomalies the reducer defended against:
// duplicate or bound-violating advances, events for containers that never
// opened, and undecodable payloads.
func (t *Tracker) DroppedEvents() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.droppedEvents
}

// Nodes returns every node in discovery order, deep-copied.
func (t *Tracker) Nodes() []*models.ExecutionNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.cloneNodesLocked()
}

// Node returns a deep copy of one node by id.
func (t *Tracker) Node(id string) (*models.ExecutionNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node, ok := t.registry.get(id)
	if !ok {
		return nil, false
	}

	return node.Clone(), true
}

func (t *Tracker) IterationExpanded() map[string]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return copyBoolMap(t.iterationExpanded)
}

func (t *Tracker) LoopExpanded() map[string]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return copyBoolMap(t.loopExpanded)
}

// Snapshot is a consistent, read-only view of the whole session for UI
// consumers and the web layer.
type Snapshot struct {
	RunID             string                  `json:"run_id"`
	WorkflowRunID     string                  `json:"workflow_run_id,omitempty"`
	TaskID            string                  `json:"task_id,omitempty"`
	State             models.SessionState     `json:"state"`
	IsExecuting       bool                    `json:"is_executing"`
	CurrentNodeID     string                  `json:"current_node_id,omitempty"`
	Progress          models.Progress         `json:"progress"`
	Error             string                  `json:"error,omitempty"`
	CanRetry          bool                    `json:"can_retry"`
	DroppedEvents     int                     `json:"dropped_events"`
	Nodes             []*models.ExecutionNode `json:"nodes"`
	IterationExpanded map[string]bool         `json:"iteration_expanded"`
	LoopExpanded      map[string]bool         `json:"loop_expanded"`
	StartedAt         time.Time               `json:"started_at"`
	FinishedAt        time.Time               `json:"finished_at,omitzero"`
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Snapshot{
		RunID:             t.runID,
		WorkflowRunID:     t.workflowRunID,
		TaskID:            t.taskID,
		State:             t.state,
		IsExecuting:       t.state == models.SessionStateRunning,
		CurrentNodeID:     t.currentNodeID,
		Progress:          t.progress,
		Error:             t.errMsg,
		CanRetry:          t.canRetry,
		DroppedEvents:     t.droppedEvents,
		Nodes:             t.cloneNodesLocked(),
		IterationExpanded: copyBoolMap(t.iterationExpanded),
		LoopExpanded:      copyBoolMap(t.loopExpanded),
		StartedAt:         t.startedAt,
		FinishedAt:        t.finishedAt,
	}
}

// Record builds the archival record for a finished run.
func (t *Tracker) Record() *models.RunRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return &models.RunRecord{
		ID:            t.runID,
		WorkflowRunID: t.workflowRunID,
		TaskID:        t.taskID,
		State:         t.state,
		Error:         t.errMsg,
		Progress:      t.progress,
		Nodes:         t.cloneNodesLocked(),
		DroppedEvents: t.droppedEvents,
		StartedAt:     t.startedAt,
		FinishedAt:    t.finishedAt,
		CreatedAt:     t.now().UTC(),
	}
}

func (t *Tracker) cloneNodesLocked() []*models.ExecutionNode {
	nodes := t.registry.all()

	out := make([]*models.ExecutionNode, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}

	return out
}

func copyBoolMap(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}

	return out
}
