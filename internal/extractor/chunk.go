package extractor

import (
	"context"
	"fmt"

	"depgraph/internal/ir"
)

// Chunk segments one source file into CodeUnits: a whole-file unit followed
// by one unit per node the language's Segment reports.
func (r *Registry) Chunk(ctx context.Context, repository, filePath string, src []byte) ([]ir.CodeUnit, error) {
	le, ok := r.ForFile(filePath)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, filePath)
	}
	tree, err := parse(ctx, le.Grammar(), src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParseFailed, filePath, err)
	}
	defer tree.Close()
	root := tree.RootNode()

	newUnit := func(nodeType string, start, end uint32) ir.CodeUnit {
		return ir.CodeUnit{
			UnitID:      fmt.Sprintf("%s:%s:%d-%d", filePath, nodeType, start, end),
			Repository:  repository,
			FilePath:    filePath,
			Language:    le.Language(),
			ASTNodeType: nodeType,
			Span:        ir.Span{StartByte: start, EndByte: end},
			RawText:     string(src[start:end]),
		}
	}

	units := []ir.CodeUnit{newUnit(root.Type(), 0, uint32(len(src)))}
	for _, n := range le.Segment(root, src) {
		units = append(units, newUnit(n.Type(), n.StartByte(), n.EndByte()))
	}
	return units, nil
}
