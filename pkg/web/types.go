// Package web provides the HTTP surface of runtrace: live run snapshots,
// lifecycle commands, archived run history, and event ingestion.
package web

import (
	"github.com/runtrace/runtrace/pkg/models"
	"github.com/runtrace/runtrace/pkg/tracker"
)

// ToggleExpandedRequest flips the UI expansion hint for a container node.
type ToggleExpandedRequest struct {
	Kind        string `json:"kind"         validate:"required,oneof=iteration loop"`
	ContainerID string `json:"container_id" validate:"required"`
}

// StopResponse reports the session after a stop command.
type StopResponse struct {
	RunID    string              `json:"run_id"`
	State    models.SessionState `json:"state"`
	CanRetry bool                `json:"can_retry"`
	Progress models.Progress     `json:"progress"`
}

// RunListResponse wraps live tracker snapshots.
type RunListResponse struct {
	Runs  []tracker.Snapshot `json:"runs"`
	Count int                `json:"count"`
}
