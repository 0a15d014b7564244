package storage

import (
	"context"
	"errors"

	"depgraph/internal/graph"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrMissingEndpoint = errors.New("edge endpoint not stored")
)

// GraphStore persists dependency graphs keyed by repository.
type GraphStore interface {
	// UpsertNode inserts the node or replaces its type and properties.
	UpsertNode(ctx context.Context, node *graph.Node) (*graph.Node, error)

	// UpsertEdge inserts the edge. Both endpoints must already be stored in
	// the edge's repository.
	UpsertEdge(ctx context.Context, edge graph.Edge) (*graph.Edge, error)

	// CommitGraph replaces the repository's nodes and edges with g in one
	// transaction and returns the run ID recorded for it.
	CommitGraph(ctx context.Context, g *graph.Graph) (string, error)

	// GetGraphStats computes health metrics over the stored repository graph.
	GetGraphStats(ctx context.Context, repository string) (graph.Health, error)

	// LoadGraph reads the stored repository graph.
	LoadGraph(ctx context.Context, repository string) (*graph.Graph, error)

	Close() error
}
