package graph

// Health summarizes graph connectivity. A rising isolated ratio is the main
// signal of a resolver or extractor regression.
type Health struct {
	TotalNodes     int            `json:"total_nodes"`
	TotalEdges     int            `json:"total_edges"`
	NodesByType    map[string]int `json:"nodes_by_type"`
	IsolatedByType map[string]int `json:"isolated_by_type"`
	EdgeTypeCounts map[string]int `json:"edge_type_counts"`
}

// Isolated is the number of nodes with no incoming and no outgoing edge.
func (h Health) Isolated() int {
	total := 0
	for _, n := range h.IsolatedByType {
		total += n
	}
	return total
}

// IsolatedRatio is Isolated/TotalNodes, or 0 for an empty graph.
func (h Health) IsolatedRatio() float64 {
	if h.TotalNodes == 0 {
		return 0
	}
	return float64(h.Isolated()) / float64(h.TotalNodes)
}

// IsolatedRatioByType is the isolated share of each node type.
func (h Health) IsolatedRatioByType() map[string]float64 {
	out := make(map[string]float64, len(h.NodesByType))
	for typ, total := range h.NodesByType {
		if total > 0 {
			out[typ] = float64(h.IsolatedByType[typ]) / float64(total)
		}
	}
	return out
}

// EdgeNodeRatio is TotalEdges/TotalNodes, or 0 for an empty graph.
func (h Health) EdgeNodeRatio() float64 {
	if h.TotalNodes == 0 {
		return 0
	}
	return float64(h.TotalEdges) / float64(h.TotalNodes)
}

// Health computes the graph's connectivity metrics.
func (g *Graph) Health() Health {
	if g == nil {
		return ComputeHealth(nil, nil)
	}
	nodes := make([]Node, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes = append(nodes, *n)
	}
	return ComputeHealth(nodes, g.Edges)
}

// ComputeHealth computes metrics over flat node and edge lists. Edges whose
// endpoints are missing still count by type but connect nothing.
func ComputeHealth(nodes []Node, edges []Edge) Health {
	h := Health{
		TotalNodes:     len(nodes),
		TotalEdges:     len(edges),
		NodesByType:    make(map[string]int),
		IsolatedByType: make(map[string]int),
		EdgeTypeCounts: make(map[string]int),
	}
	connected := make(map[string]bool, len(nodes))
	for _, e := range edges {
		h.EdgeTypeCounts[e.Type]++
		connected[e.SourceID] = true
		connected[e.TargetID] = true
	}
	for _, n := range nodes {
		h.NodesByType[n.Type]++
		if !connected[n.ID] {
			h.IsolatedByType[n.Type]++
		}
	}
	return h
}
