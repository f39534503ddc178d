package models

// Progress is the derived completion metric for a run. Completed counts nodes
// in a terminal status; Total is the current node count. Both are recomputed
// from the registry on every mutation rather than incrementally drifted.
type Progress struct {
	Completed  int     `json:"completed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// ComputeProgress derives a progress triple from a node list.
func ComputeProgress(nodes []*ExecutionNode) Progress {
	p := Progress{Total: len(nodes)}

	for _, n := range nodes {
		if n.Status.Terminal() {
			p.Completed++
		}
	}

	if p.Total > 0 {
		p.Percentage = float64(p.Completed) / float64(p.Total) * 100
	}

	return p
}
