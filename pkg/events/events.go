// Package events defines the engine's streamed event vocabulary and the bus
// events runtrace publishes about tracked runs.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/runtrace/runtrace/pkg/models"
)

type EventType string

// Bus topics.
const EngineStreamTopic = "runtrace.engine.stream" // Raw engine events relayed onto the bus
const RunLifecycleTopic = "runtrace.run.lifecycle" // Run summaries published by the relay

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

// Engine stream event types, named as the engine emits them.
const (
	WorkflowStarted     EventType = "workflow_started"
	WorkflowFinished    EventType = "workflow_finished"
	WorkflowInterrupted EventType = "workflow_interrupted"

	NodeStarted  EventType = "node_started"
	NodeFinished EventType = "node_finished"
	NodeFailed   EventType = "node_failed"

	IterationStarted   EventType = "iteration_started"
	IterationNext      EventType = "iteration_next"
	IterationCompleted EventType = "iteration_completed"

	LoopStarted   EventType = "loop_started"
	LoopNext      EventType = "loop_next"
	LoopCompleted EventType = "loop_completed"

	ParallelBranchStarted  EventType = "parallel_branch_started"
	ParallelBranchFinished EventType = "parallel_branch_finished"

	// Present on the wire but carrying no execution-tree state.
	TextChunk EventType = "text_chunk"
	Ping      EventType = "ping"
)

// Engine status string for a successful node or branch.
const engineStatusSucceeded = "succeeded"

// SuccessStatus reports whether an engine status string is success-like.
func SuccessStatus(status string) bool {
	return status == engineStatusSucceeded
}

// StreamEvent is one decoded frame from the engine stream: a named event with
// an opaque payload. Payloads are decoded lazily so unrecognized events pass
// through without error.
type StreamEvent struct {
	Event         EventType       `json:"event"`
	WorkflowRunID string          `json:"workflow_run_id,omitempty"`
	TaskID        string          `json:"task_id,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// DecodeData unmarshals the event payload into v. A nil payload leaves v at
// its zero value, matching the engine's habit of omitting empty data objects.
func (e *StreamEvent) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}

	return json.Unmarshal(e.Data, v)
}

// NodeStartedData is the payload of node_started.
type NodeStartedData struct {
	NodeID   string `json:"node_id"`
	NodeType string `json:"node_type"`
	Title    string `json:"title"`
}

// NodeFinishedData is the payload of node_finished and node_failed.
type NodeFinishedData struct {
	NodeID  string `json:"node_id"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Outputs any    `json:"outputs,omitempty"`
}

type iterationMetadata struct {
	IteratorLength int `json:"iterator_length"`
}

// IterationStartedData is the payload of iteration_started.
type IterationStartedData struct {
	NodeID          string            `json:"node_id"`
	IterationID     string            `json:"iteration_id"`
	Title           string            `json:"title"`
	NodeType        string            `json:"node_type"`
	TotalIterations int               `json:"total_iterations"`
	Metadata        iterationMetadata `json:"metadata"`
	Inputs          any               `json:"inputs,omitempty"`
}

// ResolveTotal returns the declared round count, preferring the metadata
// field and falling back to the top-level one. Absent both, the total
// defaults to a single round.
func (d IterationStartedData) ResolveTotal() int {
	if d.Metadata.IteratorLength > 0 {
		return d.Metadata.IteratorLength
	}

	if d.TotalIterations > 0 {
		return d.TotalIterations
	}

	return 1
}

// IterationNextData is the payload of iteration_next.
type IterationNextData struct {
	NodeID         string `json:"node_id"`
	IterationID    string `json:"iteration_id"`
	IterationIndex int    `json:"iteration_index"`
}

// IterationCompletedData is the payload of iteration_completed.
type IterationCompletedData struct {
	NodeID  string `json:"node_id"`
	Outputs any    `json:"outputs,omitempty"`
}

type loopMetadata struct {
	LoopLength int `json:"loop_length"`
}

type loopInputs struct {
	LoopCount int `json:"loop_count"`
}

// LoopStartedData is the payload of loop_started.
type LoopStartedData struct {
	ID       string       `json:"id"`
	NodeID   string       `json:"node_id"`
	Title    string       `json:"title"`
	NodeType string       `json:"node_type"`
	Metadata loopMetadata `json:"metadata"`
	Inputs   loopInputs   `json:"inputs"`
}

// ResolveMax returns the declared loop bound, or nil when the engine did not
// declare one.
func (d LoopStartedData) ResolveMax() *int {
	if d.Metadata.LoopLength > 0 {
		v := d.Metadata.LoopLength

		return &v
	}

	if d.Inputs.LoopCount > 0 {
		v := d.Inputs.LoopCount

		return &v
	}

	return nil
}

// LoopNextData is the payload of loop_next.
type LoopNextData struct {
	NodeID string `json:"node_id"`
	Index  int    `json:"index"`
}

type loopOutputs struct {
	LoopRound int `json:"loop_round"`
}

// LoopCompletedData is the payload of loop_completed.
type LoopCompletedData struct {
	NodeID  string      `json:"node_id"`
	Outputs loopOutputs `json:"outputs"`
}

// ParallelBranchStartedData is the payload of parallel_branch_started.
type ParallelBranchStartedData struct {
	NodeID        string `json:"node_id"`
	ParallelID    string `json:"parallel_id"`
	ParallelRunID string `json:"parallel_run_id"`
}

// ParallelBranchFinishedData is the payload of parallel_branch_finished.
type ParallelBranchFinishedData struct {
	NodeID        string `json:"node_id"`
	ParallelRunID string `json:"parallel_run_id"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

// Run lifecycle events published by the relay for downstream consumers.

const (
	RunStartedEvent  EventType = "run.started"
	RunFinishedEvent EventType = "run.finished"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
}

type RunStarted struct {
	BaseEvent

	WorkflowRunID string `json:"workflow_run_id,omitempty"`
}

func (r RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunFinished struct {
	BaseEvent

	State         models.SessionState `json:"state"`
	Error         string              `json:"error,omitempty"`
	Progress      models.Progress     `json:"progress"`
	DroppedEvents int                 `json:"dropped_events"`
	DurationMs    int64               `json:"duration_ms"`
}

func (r RunFinished) GetType() EventType {
	return RunFinishedEvent
}

func NewBaseEvent(eventType EventType, runID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
	}
}
