package models

import (
	"time"
)

// SessionState defines the overall lifecycle of one tracked run.
type SessionState string

const (
	SessionStateIdle        SessionState = "idle"
	SessionStateRunning     SessionState = "running"
	SessionStateCompleted   SessionState = "completed"
	SessionStateFailed      SessionState = "failed"
	SessionStateInterrupted SessionState = "interrupted"
)

// Terminal reports whether the session reached a final state.
func (s SessionState) Terminal() bool {
	switch s {
	case SessionStateCompleted, SessionStateFailed, SessionStateInterrupted:
		return true
	default:
		return false
	}
}

// RunRecord is the archived snapshot of one finished run, handed to the
// history store once the session reaches a terminal state.
type RunRecord struct {
	ID            string           `json:"id"             validate:"required"`
	WorkflowRunID string           `json:"workflow_run_id,omitempty"`
	TaskID        string           `json:"task_id,omitempty"`
	State         SessionState     `json:"state"          validate:"required"`
	Error         string           `json:"error,omitempty"`
	Progress      Progress         `json:"progress"`
	Nodes         []*ExecutionNode `json:"nodes"`
	DroppedEvents int              `json:"dropped_events,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	CreatedAt     time.Time        `json:"created_at"`
}
