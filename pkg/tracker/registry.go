package tracker

import (
	"github.com/runtrace/runtrace/pkg/models"
)

// registry holds every node encountered so far, keyed by the engine-assigned
// node id and iterable in discovery order. Nodes are never removed mid-run.
type registry struct {
	order []string
	nodes map[string]*models.ExecutionNode
}

func newRegistry() *registry {
	return &registry{
		order: make([]string, 0),
		nodes: make(map[string]*models.ExecutionNode),
	}
}

// upsert inserts the node on first sight and applies patch to it either way.
func (r *registry) upsert(id string, patch func(*models.ExecutionNode)) *models.ExecutionNode {
	node, ok := r.nodes[id]
	if !ok {
		node = &models.ExecutionNode{
			ID:     id,
			Status: models.NodeStatusPending,
		}
		r.nodes[id] = node
		r.order = append(r.order, id)
	}

	if patch != nil {
		patch(node)
	}

	return node
}

func (r *registry) get(id string) (*models.ExecutionNode, bool) {
	node, ok := r.nodes[id]

	return node, ok
}

func (r *registry) all() []*models.ExecutionNode {
	out := make([]*models.ExecutionNode, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.nodes[id])
	}

	return out
}

func (r *registry) len() int {
	return len(r.order)
}

// progress recomputes the completion triple from scratch on every call so the
// counters can never drift from the actual node statuses.
func (r *registry) progress() models.Progress {
	return models.ComputeProgress(r.all())
}
