package graph

import (
	"log/slog"
	"sort"

	"depgraph/internal/ir"
)

// Assembler turns one repository's declarations and resolved relations into
// a graph.
type Assembler struct {
	repository string
	logger     *slog.Logger
}

type AssemblerOption func(*Assembler)

func WithLogger(logger *slog.Logger) AssemblerOption {
	return func(a *Assembler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewAssembler(repository string, opts ...AssemblerOption) *Assembler {
	a := &Assembler{repository: repository, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds the graph. Any invariant violation aborts assembly and
// returns no graph: a declaration without a name, from another repository,
// sharing a unit with another declaration, or a relation whose endpoints
// were never declared.
func (a *Assembler) Assemble(decls []*ir.Declaration, relations []ir.Relation) (*Graph, error) {
	g := NewGraph(a.repository)

	ordered := make([]*ir.Declaration, 0, len(decls))
	for _, d := range decls {
		if d != nil {
			ordered = append(ordered, d)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	units := make(map[string]string, len(ordered))
	for _, d := range ordered {
		if d.Repository != a.repository {
			return nil, &InvariantViolation{DeclarationID: d.ID, Reason: "declaration belongs to repository " + d.Repository}
		}
		if d.UnitID == "" {
			return nil, &InvariantViolation{DeclarationID: d.ID, Reason: "declaration has no code unit"}
		}
		if other, dup := units[d.UnitID]; dup {
			return nil, &InvariantViolation{DeclarationID: d.ID, Reason: "code unit already declared " + other}
		}
		units[d.UnitID] = d.ID
		if err := g.AddNode(nodeFromDeclaration(d)); err != nil {
			return nil, err
		}
	}

	created := 0
	for _, rel := range relations {
		src, ok := g.NodeForDeclaration(rel.SourceID)
		if !ok {
			return nil, &InvariantViolation{DeclarationID: rel.SourceID, Reason: "relation source was never declared"}
		}
		dst, ok := g.NodeForDeclaration(rel.TargetID)
		if !ok {
			return nil, &InvariantViolation{DeclarationID: rel.TargetID, Reason: "relation target was never declared"}
		}
		added, err := g.AddEdge(Edge{
			SourceID:   src.ID,
			TargetID:   dst.ID,
			Type:       string(rel.Kind),
			Rule:       rel.Rule,
			Confidence: rel.Confidence,
		})
		if err != nil {
			return nil, err
		}
		if added {
			created++
		}
	}
	sortEdges(g.Edges)
	g.reindex()

	a.logger.Debug("graph assembled",
		"repository", a.repository,
		"nodes", len(g.Nodes),
		"edges", created,
		"duplicate_relations", len(relations)-created,
	)
	return g, nil
}

// reindex rebuilds the edge indexes after the edge slice was reordered.
func (g *Graph) reindex() {
	g.edgeIndex = make(map[edgeKey]int, len(g.Edges))
	g.out = make(map[string][]int)
	g.in = make(map[string][]int)
	for i, e := range g.Edges {
		g.edgeIndex[e.key()] = i
		g.out[e.SourceID] = append(g.out[e.SourceID], i)
		g.in[e.TargetID] = append(g.in[e.TargetID], i)
	}
}

func nodeFromDeclaration(d *ir.Declaration) *Node {
	return &Node{
		ID:         NodeID(d.Repository, d.UnitID),
		Repository: d.Repository,
		Type:       string(d.Kind),
		Properties: NodeProperties{
			Name:          d.Name,
			FilePath:      d.FilePath(),
			QualifiedName: d.MostSpecificName(),
			Language:      d.Language,
			Module:        d.Module,
			Container:     d.Container,
			DeclarationID: d.ID,
			UnitID:        d.UnitID,
			ContentHash:   d.ContentHash,
			StartLine:     d.Location.StartLine,
			EndLine:       d.Location.EndLine,
			Exported:      d.Exported,
			Doc:           d.Doc,
		},
	}
}
