// Package manager coordinates the live trackers of a runtrace instance: one
// tracker per run, created on demand as engine events arrive and archived to
// history once the run reaches a terminal state.
package manager

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/runtrace/runtrace/pkg/events"
	"github.com/runtrace/runtrace/pkg/history"
	"github.com/runtrace/runtrace/pkg/models"
	"github.com/runtrace/runtrace/pkg/tracker"
)

// ErrRunNotTracked is returned when an operation targets a run id with no
// live tracker.
var ErrRunNotTracked = errors.New("run is not tracked")

// Outcome reports what a dispatched event did to the session, so callers can
// publish lifecycle notifications without re-deriving state transitions.
type Outcome struct {
	Started  bool
	Finished *models.RunRecord
}

type Manager struct {
	mu       sync.Mutex
	logger   *slog.Logger
	history  history.History
	trackers map[string]*tracker.Tracker
	archived map[string]bool
}

// New creates a manager. The history may be nil, in which case finished runs
// are kept in memory only.
func New(h history.History, logger *slog.Logger) *Manager {
	return &Manager{
		logger:   logger.With("module", "manager"),
		history:  h,
		trackers: make(map[string]*tracker.Tracker),
		archived: make(map[string]bool),
	}
}

// Track returns the tracker for a run, creating an idle one if needed.
func (m *Manager) Track(runID string) *tracker.Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.trackLocked(runID)
}

func (m *Manager) trackLocked(runID string) *tracker.Tracker {
	tr, ok := m.trackers[runID]
	if !ok {
		tr = tracker.New(runID, m.logger)
		m.trackers[runID] = tr
	}

	return tr
}

// Tracker returns the live tracker for a run, if one exists.
func (m *Manager) Tracker(runID string) (*tracker.Tracker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, ok := m.trackers[runID]

	return tr, ok
}

// Dispatch routes one engine event to the run's tracker and reports the
// resulting session transition. A terminal transition archives the run.
func (m *Manager) Dispatch(ctx context.Context, runID string, event *events.StreamEvent) Outcome {
	m.mu.Lock()
	tr := m.trackLocked(runID)
	m.mu.Unlock()

	prev := tr.State()
	tr.HandleEvent(event)
	next := tr.State()

	outcome := Outcome{
		Started: prev != models.SessionStateRunning && next == models.SessionStateRunning,
	}

	if outcome.Started {
		m.mu.Lock()
		delete(m.archived, runID)
		m.mu.Unlock()
	}

	if !prev.Terminal() && next.Terminal() {
		outcome.Finished = tr.Record()
		m.archive(ctx, outcome.Finished)
	}

	return outcome
}

// Stop cancels a live run. The interrupted run is archived like any other
// terminal run.
func (m *Manager) Stop(ctx context.Context, runID string) (*models.RunRecord, error) {
	tr, ok := m.Tracker(runID)
	if !ok {
		return nil, ErrRunNotTracked
	}

	wasTerminal := tr.State().Terminal()
	tr.Stop()

	record := tr.Record()
	if !wasTerminal && tr.State().Terminal() {
		m.archive(ctx, record)
	}

	return record, nil
}

// Reset returns a run's tracker to idle, discarding its execution state. The
// archived record, if any, is untouched.
func (m *Manager) Reset(runID string) error {
	tr, ok := m.Tracker(runID)
	if !ok {
		return ErrRunNotTracked
	}

	tr.Reset()

	m.mu.Lock()
	delete(m.archived, runID)
	m.mu.Unlock()

	return nil
}

// Remove evicts a run's tracker from memory.
func (m *Manager) Remove(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.trackers[runID]; !ok {
		return ErrRunNotTracked
	}

	delete(m.trackers, runID)
	delete(m.archived, runID)

	return nil
}

// Snapshots returns a point-in-time view of every live tracker, ordered by
// run id for stable listings.
func (m *Manager) Snapshots() []tracker.Snapshot {
	m.mu.Lock()
	trackers := make([]*tracker.Tracker, 0, len(m.trackers))

	for _, tr := range m.trackers {
		trackers = append(trackers, tr)
	}
	m.mu.Unlock()

	snapshots := make([]tracker.Snapshot, 0, len(trackers))
	for _, tr := range trackers {
		snapshots = append(snapshots, tr.Snapshot())
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].RunID < snapshots[j].RunID
	})

	return snapshots
}

func (m *Manager) archive(ctx context.Context, record *models.RunRecord) {
	if m.history == nil {
		return
	}

	m.mu.Lock()
	already := m.archived[record.ID]
	m.archived[record.ID] = true
	m.mu.Unlock()

	if already {
		return
	}

	if err := m.history.SaveRun(ctx, record); err != nil {
		m.logger.ErrorContext(ctx, "Failed to archive run", "run_id", record.ID, "error", err)
	}
}
