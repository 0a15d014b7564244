package graph

import (
	"sort"
)

// NeighborhoodConfig controls how far a neighborhood walk reaches.
type NeighborhoodConfig struct {
	MaxHops       int
	MinConfidence float64
	// AllowedTypes restricts the walk to these relation types; empty allows all.
	AllowedTypes map[string]bool
}

func DefaultNeighborhoodConfig() NeighborhoodConfig {
	return NeighborhoodConfig{MaxHops: 2}
}

// Subgraph is the part of a graph reachable from a set of seed nodes.
type Subgraph struct {
	MaxHops    int
	SeedIDs    []string
	NodeIDs    []string
	NodeScores map[string]float64
	Edges      []Edge
}

// Neighborhood walks edges in both directions from the seeds up to
// cfg.MaxHops. A node's score is the best product of edge confidences along
// any path from a seed.
func (g *Graph) Neighborhood(seedIDs []string, cfg NeighborhoodConfig) *Subgraph {
	if cfg.MaxHops < 0 {
		cfg.MaxHops = 0
	}
	sub := &Subgraph{MaxHops: cfg.MaxHops, NodeScores: map[string]float64{}}
	if g == nil {
		return sub
	}

	seeds := make(map[string]int, len(seedIDs))
	for _, id := range seedIDs {
		if _, ok := g.Nodes[id]; ok {
			seeds[id] = 0
		}
	}
	sub.SeedIDs = sortedKeys(seeds)
	if len(sub.SeedIDs) == 0 {
		return sub
	}

	depth := make(map[string]int, len(seeds))
	queue := make([]queueItem, 0, len(seeds))
	for _, id := range sub.SeedIDs {
		depth[id] = 0
		sub.NodeScores[id] = 1.0
		queue = append(queue, queueItem{id: id})
	}

	edgeSeen := make(map[edgeKey]bool)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= cfg.MaxHops {
			continue
		}
		for _, hop := range g.hops(cur.id, cfg) {
			if !edgeSeen[hop.edge.key()] {
				edgeSeen[hop.edge.key()] = true
				sub.Edges = append(sub.Edges, hop.edge)
			}
			score := sub.NodeScores[cur.id] * normalizedConfidence(hop.edge.Confidence)
			if score > sub.NodeScores[hop.to] {
				sub.NodeScores[hop.to] = score
			}
			next := cur.depth + 1
			if prev, seen := depth[hop.to]; !seen || next < prev {
				depth[hop.to] = next
				queue = append(queue, queueItem{id: hop.to, depth: next})
			}
		}
	}

	sub.NodeIDs = sortedKeys(depth)
	sortEdges(sub.Edges)
	return sub
}

type queueItem struct {
	id    string
	depth int
}

type edgeHop struct {
	to   string
	edge Edge
}

func (g *Graph) hops(id string, cfg NeighborhoodConfig) []edgeHop {
	var out []edgeHop
	for _, i := range g.out[id] {
		if e := g.Edges[i]; edgeAllowed(e, cfg) {
			out = append(out, edgeHop{to: e.TargetID, edge: e})
		}
	}
	for _, i := range g.in[id] {
		if e := g.Edges[i]; edgeAllowed(e, cfg) {
			out = append(out, edgeHop{to: e.SourceID, edge: e})
		}
	}
	return out
}

func edgeAllowed(e Edge, cfg NeighborhoodConfig) bool {
	if cfg.MinConfidence > 0 && e.Confidence < cfg.MinConfidence {
		return false
	}
	if len(cfg.AllowedTypes) == 0 {
		return true
	}
	return cfg.AllowedTypes[e.Type]
}

func normalizedConfidence(c float64) float64 {
	if c <= 0 {
		return 0.5
	}
	if c > 1 {
		return 1
	}
	return c
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NodesInFile returns the IDs of nodes declared in path whose line range
// covers any of lines. No lines selects every node of the file.
func (g *Graph) NodesInFile(path string, lines []int) []string {
	out := make(map[string]int)
	for id, n := range g.Nodes {
		if n.Properties.FilePath != path {
			continue
		}
		if lineRangeOverlaps(n.Properties.StartLine, n.Properties.EndLine, lines) {
			out[id] = 0
		}
	}
	return sortedKeys(out)
}

func lineRangeOverlaps(start, end int, lines []int) bool {
	if len(lines) == 0 {
		return true
	}
	for _, line := range lines {
		if line >= start && line <= end {
			return true
		}
	}
	return false
}
