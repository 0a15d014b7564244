package index

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"depgraph/internal/graph"
)

// Snapshot is the JSON form of an assembled graph.
type Snapshot struct {
	Repository string        `json:"repository"`
	Nodes      []*graph.Node `json:"nodes"`
	Edges      []graph.Edge  `json:"edges"`
	Health     graph.Health  `json:"health"`
}

// WriteJSON encodes g with nodes and edges in ID order, so an unchanged
// repository always produces the same bytes.
func WriteJSON(w io.Writer, g *graph.Graph) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(Snapshot{
		Repository: g.Repository,
		Nodes:      g.SortedNodes(),
		Edges:      g.SortedEdges(),
		Health:     g.Health(),
	})
}

// SaveGraph persists the graph to a JSON file.
func SaveGraph(g *graph.Graph, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create graph file: %w", err)
	}
	defer f.Close()

	if err := WriteJSON(f, g); err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	return nil
}

// LoadGraph loads a graph from a JSON file written by SaveGraph.
func LoadGraph(path string) (*graph.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph file: %w", err)
	}
	defer f.Close()

	var snap Snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode graph: %w", err)
	}

	g := graph.NewGraph(snap.Repository)
	for _, n := range snap.Nodes {
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, e := range snap.Edges {
		if _, err := g.AddEdge(e); err != nil {
			return nil, err
		}
	}
	return g, nil
}
