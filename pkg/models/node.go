// Package models defines the execution-tree data model reconstructed from the
// engine's event stream.
package models

import (
	"time"
)

// NodeStatus defines the possible states of a tracked node.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
)

// Terminal reports whether the status is a final one.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed
}

// ContainerRole marks a node as an iteration, loop or parallel construct.
type ContainerRole string

const (
	ContainerRoleNone      ContainerRole = ""
	ContainerRoleIteration ContainerRole = "iteration"
	ContainerRoleLoop      ContainerRole = "loop"
	ContainerRoleParallel  ContainerRole = "parallel"
)

// IterationRound is a single pass through an iteration container.
type IterationRound struct {
	ID         string     `json:"id"`
	Index      int        `json:"index"`
	Status     NodeStatus `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Inputs     any        `json:"inputs,omitempty"`
	Outputs    any        `json:"outputs,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// LoopRound is a single pass through a loop container. Unlike an iteration
// round the total number of passes may be unknown; MaxRounds carries the
// bound when the engine declared one at start time.
type LoopRound struct {
	ID         string     `json:"id"`
	Index      int        `json:"index"`
	Status     NodeStatus `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	MaxRounds  *int       `json:"max_rounds,omitempty"`
	Inputs     any        `json:"inputs,omitempty"`
	Outputs    any        `json:"outputs,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// ParallelBranch is one concurrently-active arm of a parallel container.
type ParallelBranch struct {
	ID         string     `json:"id"`
	Index      int        `json:"index"`
	Status     NodeStatus `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ExecutionNode is one unit of work in the executed graph. Container fields
// are only populated when Role is set.
type ExecutionNode struct {
	ID         string     `json:"id"    validate:"required"`
	Title      string     `json:"title"`
	Kind       string     `json:"kind"`
	Status     NodeStatus `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`

	Role ContainerRole `json:"role,omitempty"`

	// Nesting tags, set when the node starts inside an open container.
	ParentContainerID string `json:"parent_container_id,omitempty"`
	RoundIndex        *int   `json:"round_index,omitempty"`

	// Iteration / loop container payload.
	TotalRounds     int              `json:"total_rounds,omitempty"`
	CurrentRound    int              `json:"current_round,omitempty"`
	MaxRounds       *int             `json:"max_rounds,omitempty"`
	IterationRounds []IterationRound `json:"iteration_rounds,omitempty"`
	LoopRounds      []LoopRound      `json:"loop_rounds,omitempty"`

	// Parallel container payload.
	TotalBranches     int              `json:"total_branches,omitempty"`
	CompletedBranches int              `json:"completed_branches,omitempty"`
	Branches          []ParallelBranch `json:"branches,omitempty"`
}

// IsContainer reports whether the node represents a nested construct.
func (n *ExecutionNode) IsContainer() bool {
	return n.Role != ContainerRoleNone
}

// Clone returns a deep copy of the node so read-side consumers never alias
// the tracker's mutable state.
func (n *ExecutionNode) Clone() *ExecutionNode {
	if n == nil {
		return nil
	}

	out := *n
	out.StartedAt = cloneTime(n.StartedAt)
	out.FinishedAt = cloneTime(n.FinishedAt)
	out.RoundIndex = cloneInt(n.RoundIndex)
	out.MaxRounds = cloneInt(n.MaxRounds)

	if n.IterationRounds != nil {
		out.IterationRounds = make([]IterationRound, len(n.IterationRounds))
		for i, r := range n.IterationRounds {
			r.FinishedAt = cloneTime(r.FinishedAt)
			out.IterationRounds[i] = r
		}
	}

	if n.LoopRounds != nil {
		out.LoopRounds = make([]LoopRound, len(n.LoopRounds))
		for i, r := range n.LoopRounds {
			r.FinishedAt = cloneTime(r.FinishedAt)
			r.MaxRounds = cloneInt(r.MaxRounds)
			out.LoopRounds[i] = r
		}
	}

	if n.Branches != nil {
		out.Branches = make([]ParallelBranch, len(n.Branches))
		for i, b := range n.Branches {
			b.FinishedAt = cloneTime(b.FinishedAt)
			out.Branches[i] = b
		}
	}

	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	c := *t

	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}

	c := *v

	return &c
}
