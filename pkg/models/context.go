package models

import (
	"time"
)

// ContextStatus is the lifecycle status of an open container context.
type ContextStatus string

const (
	ContextStatusRunning   ContextStatus = "running"
	ContextStatusCompleted ContextStatus = "completed"
)

// ContainerContext is the currently-open iteration or loop state used to tag
// newly started child nodes. At most one iteration context and one loop
// context are open at a time; the two are tracked independently, so a loop
// nested inside an iteration (or vice versa) is representable.
type ContainerContext struct {
	ContainerNodeID string        `json:"container_node_id"`
	RunID           string        `json:"run_id"`
	Index           int           `json:"index"`
	TotalOrMax      *int          `json:"total_or_max,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	Status          ContextStatus `json:"status"`
}

// BoundReached reports whether advancing to index would reach or exceed the
// declared bound. An unknown bound never blocks an advance.
func (c *ContainerContext) BoundReached(index int) bool {
	return c.TotalOrMax != nil && index >= *c.TotalOrMax
}
