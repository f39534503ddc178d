// Package relay moves engine events between the ingress, the event bus, and
// the run manager. Ingest validates raw engine frames and puts them on the
// bus; Start consumes the bus, feeds each run's tracker, and publishes run
// lifecycle events on session transitions.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/runtrace/runtrace/pkg/eventbus"
	"github.com/runtrace/runtrace/pkg/events"
	"github.com/runtrace/runtrace/pkg/manager"
	"github.com/runtrace/runtrace/pkg/otelhelper"
)

// Runs with no engine-assigned identifiers share this key.
const fallbackRunID = "default"

type Relay struct {
	bus     eventbus.EventBus
	manager *manager.Manager
	tracer  trace.Tracer
	logger  *slog.Logger
}

func New(bus eventbus.EventBus, mgr *manager.Manager, tracer trace.Tracer, logger *slog.Logger) *Relay {
	return &Relay{
		bus:     bus,
		manager: mgr,
		tracer:  tracer,
		logger:  logger.With("module", "relay"),
	}
}

// Ingest validates one raw engine frame and publishes it to the stream
// topic, keyed by run so ordering survives partitioned transports.
func (r *Relay) Ingest(ctx context.Context, raw []byte) error {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "relay.ingest")
	defer span.End()

	if err := events.ValidateEnvelope(raw); err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("invalid engine frame: %w", err)
	}

	var event events.StreamEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to decode engine frame: %w", err)
	}

	runID := RunKey(&event)
	span.SetAttributes(
		attribute.String(otelhelper.RunIDKey, runID),
		attribute.String(otelhelper.EventTypeKey, string(event.Event)),
	)

	if err := r.bus.PublishStream(ctx, runID, &event); err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to publish engine frame: %w", err)
	}

	return nil
}

// Start subscribes to the stream topic and dispatches each frame to its
// run's tracker. It returns once the subscription is established.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Starting relay")

	return r.bus.SubscribeStream(ctx, r.handleStreamEvent)
}

func (r *Relay) handleStreamEvent(ctx context.Context, event *events.StreamEvent) error {
	runID := RunKey(event)

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "relay.dispatch",
		attribute.String(otelhelper.RunIDKey, runID),
		attribute.String(otelhelper.EventTypeKey, string(event.Event)),
	)
	defer span.End()

	outcome := r.manager.Dispatch(ctx, runID, event)

	if outcome.Started {
		started := events.RunStarted{
			BaseEvent:     events.NewBaseEvent(events.RunStartedEvent, runID),
			WorkflowRunID: event.WorkflowRunID,
		}

		if err := r.bus.PublishLifecycle(ctx, runID, started); err != nil {
			r.logger.ErrorContext(ctx, "Failed to publish run started event", "run_id", runID, "error", err)
		}
	}

	if record := outcome.Finished; record != nil {
		span.SetAttributes(attribute.String(otelhelper.SessionStateKey, string(record.State)))

		finished := events.RunFinished{
			BaseEvent:     events.NewBaseEvent(events.RunFinishedEvent, runID),
			State:         record.State,
			Error:         record.Error,
			Progress:      record.Progress,
			DroppedEvents: record.DroppedEvents,
			DurationMs:    record.FinishedAt.Sub(record.StartedAt).Milliseconds(),
		}

		if err := r.bus.PublishLifecycle(ctx, runID, finished); err != nil {
			r.logger.ErrorContext(ctx, "Failed to publish run finished event", "run_id", runID, "error", err)
		}
	}

	return nil
}

// RunKey derives the tracker key for an engine frame: the workflow run id
// when present, then the task id, then a shared fallback.
func RunKey(event *events.StreamEvent) string {
	if event.WorkflowRunID != "" {
		return event.WorkflowRunID
	}

	if event.TaskID != "" {
		return event.TaskID
	}

	return fallbackRunID
}
