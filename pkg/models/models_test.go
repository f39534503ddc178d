package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeStatus_Terminal(t *testing.T) {
	assert.False(t, NodeStatusPending.Terminal())
	assert.False(t, NodeStatusRunning.Terminal())
	assert.True(t, NodeStatusCompleted.Terminal())
	assert.True(t, NodeStatusFailed.Terminal())
}

func TestSessionState_Terminal(t *testing.T) {
	assert.False(t, SessionStateIdle.Terminal())
	assert.False(t, SessionStateRunning.Terminal())
	assert.True(t, SessionStateCompleted.Terminal())
	assert.True(t, SessionStateFailed.Terminal())
	assert.True(t, SessionStateInterrupted.Terminal())
}

func TestComputeProgress(t *testing.T) {
	tests := []struct {
		name     string
		statuses []NodeStatus
		want     Progress
	}{
		{
			name: "empty registry",
			want: Progress{Completed: 0, Total: 0, Percentage: 0},
		},
		{
			name:     "all running",
			statuses: []NodeStatus{NodeStatusRunning, NodeStatusRunning},
			want:     Progress{Completed: 0, Total: 2, Percentage: 0},
		},
		{
			name:     "failed nodes count as completed",
			statuses: []NodeStatus{NodeStatusCompleted, NodeStatusFailed, NodeStatusRunning, NodeStatusPending},
			want:     Progress{Completed: 2, Total: 4, Percentage: 50},
		},
		{
			name:     "all terminal",
			statuses: []NodeStatus{NodeStatusCompleted, NodeStatusCompleted},
			want:     Progress{Completed: 2, Total: 2, Percentage: 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes := make([]*ExecutionNode, 0, len(tt.statuses))
			for i, s := range tt.statuses {
				nodes = append(nodes, &ExecutionNode{ID: string(rune('a' + i)), Status: s})
			}

			got := ComputeProgress(nodes)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, got.Completed, got.Total)
		})
	}
}

func TestContainerContext_BoundReached(t *testing.T) {
	three := 3

	bounded := &ContainerContext{ContainerNodeID: "c1", TotalOrMax: &three}
	assert.False(t, bounded.BoundReached(2))
	assert.True(t, bounded.BoundReached(3))
	assert.True(t, bounded.BoundReached(4))

	unbounded := &ContainerContext{ContainerNodeID: "c2"}
	assert.False(t, unbounded.BoundReached(1000))
}

func TestExecutionNode_Clone(t *testing.T) {
	started := time.Now().UTC()
	round := 1
	max := 5

	original := &ExecutionNode{
		ID:         "iter-1",
		Title:      "Iterate items",
		Kind:       "iteration",
		Status:     NodeStatusRunning,
		StartedAt:  &started,
		Role:       ContainerRoleIteration,
		RoundIndex: &round,
		MaxRounds:  &max,
		IterationRounds: []IterationRound{
			{ID: "r0", Index: 0, Status: NodeStatusCompleted, StartedAt: started},
		},
		Branches: []ParallelBranch{
			{ID: "b0", Index: 0, Status: NodeStatusRunning, StartedAt: started},
		},
	}

	clone := original.Clone()
	require.NotNil(t, clone)
	assert.Equal(t, original, clone)

	// Mutating the clone must not leak into the original.
	*clone.RoundIndex = 9
	clone.IterationRounds[0].Status = NodeStatusFailed
	clone.Branches[0].Status = NodeStatusFailed

	assert.Equal(t, 1, *original.RoundIndex)
	assert.Equal(t, NodeStatusCompleted, original.IterationRounds[0].Status)
	assert.Equal(t, NodeStatusRunning, original.Branches[0].Status)
}

func TestExecutionNode_Clone_Nil(t *testing.T) {
	var n *ExecutionNode
	assert.Nil(t, n.Clone())
}

func TestExecutionNode_IsContainer(t *testing.T) {
	assert.False(t, (&ExecutionNode{ID: "n1"}).IsContainer())
	assert.True(t, (&ExecutionNode{ID: "n2", Role: ContainerRoleLoop}).IsContainer())
}
