// Package graph holds the assembled dependency graph of one repository: two
// flat collections of nodes and edges that reference each other only by ID.
package graph

import (
	"sort"
)

// Graph is an arena of nodes indexed by ID plus edges indexed by their
// (source, target, relation type) triple.
type Graph struct {
	Repository string
	Nodes      map[string]*Node
	Edges      []Edge

	edgeIndex map[edgeKey]int
	out       map[string][]int
	in        map[string][]int
	// byDeclaration maps declaration IDs to node IDs.
	byDeclaration map[string]string
}

// NewGraph creates an empty graph for repository.
func NewGraph(repository string) *Graph {
	return &Graph{
		Repository:    repository,
		Nodes:         make(map[string]*Node),
		edgeIndex:     make(map[edgeKey]int),
		out:           make(map[string][]int),
		in:            make(map[string][]int),
		byDeclaration: make(map[string]string),
	}
}

// AddNode inserts or replaces a node. Nodes of another repository and nodes
// without a name are rejected.
func (g *Graph) AddNode(n *Node) error {
	if n == nil || n.ID == "" {
		return &InvariantViolation{Reason: "node without id"}
	}
	if n.Repository != g.Repository {
		return &InvariantViolation{NodeID: n.ID, DeclarationID: n.Properties.DeclarationID, Reason: "node belongs to repository " + n.Repository}
	}
	if n.Properties.Name == "" {
		return &InvariantViolation{NodeID: n.ID, DeclarationID: n.Properties.DeclarationID, Reason: "node has an empty name"}
	}
	g.Nodes[n.ID] = n
	if n.Properties.DeclarationID != "" {
		g.byDeclaration[n.Properties.DeclarationID] = n.ID
	}
	return nil
}

// AddEdge adds e unless an edge with the same source, target and relation
// type exists; a duplicate only raises the stored confidence. It reports
// whether a new edge was created.
func (g *Graph) AddEdge(e Edge) (bool, error) {
	src, ok := g.Nodes[e.SourceID]
	if !ok {
		return false, &InvariantViolation{NodeID: e.SourceID, Reason: "edge source is not a node"}
	}
	dst, ok := g.Nodes[e.TargetID]
	if !ok {
		return false, &InvariantViolation{NodeID: e.TargetID, Reason: "edge target is not a node"}
	}
	if src.Repository != dst.Repository || src.Repository != g.Repository {
		return false, &InvariantViolation{NodeID: e.SourceID, Reason: "edge crosses repositories"}
	}
	if e.ID == "" {
		e.ID = EdgeID(e.SourceID, e.TargetID, e.Type)
	}
	e.Repository = g.Repository

	if i, dup := g.edgeIndex[e.key()]; dup {
		if e.Confidence > g.Edges[i].Confidence {
			g.Edges[i].Confidence = e.Confidence
			g.Edges[i].Rule = e.Rule
		}
		return false, nil
	}
	i := len(g.Edges)
	g.Edges = append(g.Edges, e)
	g.edgeIndex[e.key()] = i
	g.out[e.SourceID] = append(g.out[e.SourceID], i)
	g.in[e.TargetID] = append(g.in[e.TargetID], i)
	return true, nil
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// NodeForDeclaration returns the node created from a declaration.
func (g *Graph) NodeForDeclaration(declarationID string) (*Node, bool) {
	id, ok := g.byDeclaration[declarationID]
	if !ok {
		return nil, false
	}
	return g.Node(id)
}

// FindByName returns nodes whose name or qualified name equals name, sorted by ID.
func (g *Graph) FindByName(name string) []*Node {
	var out []*Node
	for _, n := range g.Nodes {
		if n.Properties.Name == name || n.Properties.QualifiedName == name {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetDependencies returns all nodes that the given node depends on.
func (g *Graph) GetDependencies(id string) []*Node {
	return g.collect(g.out[id], func(e Edge) string { return e.TargetID })
}

// GetDependents returns all nodes that depend on the given node.
func (g *Graph) GetDependents(id string) []*Node {
	return g.collect(g.in[id], func(e Edge) string { return e.SourceID })
}

func (g *Graph) collect(edgeIdx []int, end func(Edge) string) []*Node {
	seen := make(map[string]bool, len(edgeIdx))
	var out []*Node
	for _, i := range edgeIdx {
		id := end(g.Edges[i])
		if seen[id] {
			continue
		}
		seen[id] = true
		if n, ok := g.Nodes[id]; ok {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OutEdges returns the edges leaving id.
func (g *Graph) OutEdges(id string) []Edge {
	out := make([]Edge, 0, len(g.out[id]))
	for _, i := range g.out[id] {
		out = append(out, g.Edges[i])
	}
	return out
}

// InEdges returns the edges entering id.
func (g *Graph) InEdges(id string) []Edge {
	out := make([]Edge, 0, len(g.in[id]))
	for _, i := range g.in[id] {
		out = append(out, g.Edges[i])
	}
	return out
}

// SortedNodes returns the nodes ordered by ID.
func (g *Graph) SortedNodes() []*Node {
	out := make([]*Node, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SortedEdges returns a copy of the edges ordered by source, target and type.
func (g *Graph) SortedEdges() []Edge {
	out := make([]Edge, len(g.Edges))
	copy(out, g.Edges)
	sortEdges(out)
	return out
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].SourceID == edges[j].SourceID {
			if edges[i].TargetID == edges[j].TargetID {
				return edges[i].Type < edges[j].Type
			}
			return edges[i].TargetID < edges[j].TargetID
		}
		return edges[i].SourceID < edges[j].SourceID
	})
}
