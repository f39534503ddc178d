package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/runtrace/runtrace/pkg/channels/gochannel"
	"github.com/runtrace/runtrace/pkg/eventbus"
	"github.com/runtrace/runtrace/pkg/events"
	"github.com/runtrace/runtrace/pkg/log"
	"github.com/runtrace/runtrace/pkg/manager"
	"github.com/runtrace/runtrace/pkg/models"
)

type lifecycleRecorder struct {
	mu       sync.Mutex
	started  []*events.RunStarted
	finished []*events.RunFinished
}

func (r *lifecycleRecorder) subscribe(t *testing.T, ctx context.Context, bus eventbus.EventBus) {
	t.Helper()

	require.NoError(t, bus.Handle(events.RunStartedEvent, func(_ context.Context, event any) error {
		r.mu.Lock()
		defer r.mu.Unlock()

		r.started = append(r.started, event.(*events.RunStarted))

		return nil
	}))
	require.NoError(t, bus.Handle(events.RunFinishedEvent, func(_ context.Context, event any) error {
		r.mu.Lock()
		defer r.mu.Unlock()

		r.finished = append(r.finished, event.(*events.RunFinished))

		return nil
	}))
	require.NoError(t, bus.SubscribeLifecycle(ctx))
}

func (r *lifecycleRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.started), len(r.finished)
}

func frame(t *testing.T, eventType events.EventType, workflowRunID string, payload map[string]any) []byte {
	t.Helper()

	envelope := map[string]any{"event": string(eventType)}
	if workflowRunID != "" {
		envelope["workflow_run_id"] = workflowRunID
	}

	if payload != nil {
		envelope["data"] = payload
	}

	raw, err := json.Marshal(envelope)
	require.NoError(t, err)

	return raw
}

func newTestRelay(t *testing.T) (*Relay, *manager.Manager, eventbus.EventBus) {
	t.Helper()

	logger := log.WithModule("test")

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	mgr := manager.New(nil, logger)
	tracer := noop.NewTracerProvider().Tracer("test")

	return New(bus, mgr, tracer, logger), mgr, bus
}

func TestRelay_IngestRejectsInvalidFrames(t *testing.T) {
	relay, _, _ := newTestRelay(t)
	ctx := context.Background()

	assert.Error(t, relay.Ingest(ctx, []byte("not json")))
	assert.Error(t, relay.Ingest(ctx, []byte(`{"data":{}}`)))
	assert.Error(t, relay.Ingest(ctx, []byte(`{"event":""}`)))
}

func TestRelay_EndToEndRun(t *testing.T) {
	relay, mgr, bus := newTestRelay(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := &lifecycleRecorder{}
	recorder.subscribe(t, ctx, bus)

	require.NoError(t, relay.Start(ctx))

	frames := [][]byte{
		frame(t, events.WorkflowStarted, "wr-1", nil),
		frame(t, events.NodeStarted, "wr-1", map[string]any{"node_id": "n1", "title": "Fetch"}),
		frame(t, events.NodeFinished, "wr-1", map[string]any{"node_id": "n1", "status": "succeeded"}),
		frame(t, events.WorkflowFinished, "wr-1", nil),
	}
	for _, raw := range frames {
		require.NoError(t, relay.Ingest(ctx, raw))
	}

	require.Eventually(t, func() bool {
		tr, ok := mgr.Tracker("wr-1")

		return ok && tr.State() == models.SessionStateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	tr, _ := mgr.Tracker("wr-1")
	snapshot := tr.Snapshot()
	require.Len(t, snapshot.Nodes, 1)
	assert.Equal(t, models.NodeStatusCompleted, snapshot.Nodes[0].Status)
	assert.Equal(t, 100.0, snapshot.Progress.Percentage)

	require.Eventually(t, func() bool {
		started, finished := recorder.counts()

		return started == 1 && finished == 1
	}, 2*time.Second, 10*time.Millisecond)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.Equal(t, "wr-1", recorder.started[0].RunID)
	assert.Equal(t, "wr-1", recorder.finished[0].RunID)
	assert.Equal(t, models.SessionStateCompleted, recorder.finished[0].State)
	assert.Zero(t, recorder.finished[0].DroppedEvents)
}

func TestRelay_FailedRunPublishesFailure(t *testing.T) {
	relay, mgr, bus := newTestRelay(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := &lifecycleRecorder{}
	recorder.subscribe(t, ctx, bus)

	require.NoError(t, relay.Start(ctx))

	require.NoError(t, relay.Ingest(ctx, frame(t, events.WorkflowStarted, "wr-2", nil)))
	require.NoError(t, relay.Ingest(ctx, frame(t, events.NodeStarted, "wr-2", map[string]any{"node_id": "n1"})))
	require.NoError(t, relay.Ingest(ctx, frame(t, events.NodeFailed, "wr-2", map[string]any{
		"node_id": "n1",
		"status":  "failed",
		"error":   "upstream timeout",
	})))

	require.Eventually(t, func() bool {
		_, finished := recorder.counts()

		return finished == 1
	}, 2*time.Second, 10*time.Millisecond)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.Equal(t, models.SessionStateFailed, recorder.finished[0].State)
	assert.Equal(t, "upstream timeout", recorder.finished[0].Error)

	tr, ok := mgr.Tracker("wr-2")
	require.True(t, ok)
	assert.True(t, tr.CanRetry())
}

func TestRunKey(t *testing.T) {
	assert.Equal(t, "wr-1", RunKey(&events.StreamEvent{WorkflowRunID: "wr-1", TaskID: "t-1"}))
	assert.Equal(t, "t-1", RunKey(&events.StreamEvent{TaskID: "t-1"}))
	assert.Equal(t, "default", RunKey(&events.StreamEvent{}))
}
