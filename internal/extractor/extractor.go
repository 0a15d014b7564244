package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"depgraph/internal/ir"

	sitter "github.com/smacker/go-tree-sitter"
)

// Extractor orchestrates the extraction process using language-specific extractors.
type Extractor struct {
	registry *Registry
	logger   *slog.Logger
}

type Option func(*Extractor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExtractor creates an extractor that dispatches on each unit's language.
func NewExtractor(registry *Registry, opts ...Option) *Extractor {
	if registry == nil {
		registry = DefaultRegistry()
	}
	e := &Extractor{registry: registry, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the extractor's language registry.
func (e *Extractor) Registry() *Registry {
	return e.registry
}

// FileResult is what one file contributed to the run.
type FileResult struct {
	FilePath     string
	Language     string
	Declarations []*ir.Declaration
	References   []ir.RawReference
	UnitsTotal   int
}

// ExtractFile extracts every unit of one file. All units must share a file
// path and language. A unit that fails is reported and skipped; the rest of
// the file is still extracted.
func (e *Extractor) ExtractFile(ctx context.Context, units []ir.CodeUnit) (*FileResult, []*ExtractionError) {
	if len(units) == 0 {
		return &FileResult{}, nil
	}
	first := units[0]
	res := &FileResult{FilePath: first.FilePath, Language: first.Language, UnitsTotal: len(units)}

	le, ok := e.registry.ForLanguage(first.Language)
	if !ok {
		errs := make([]*ExtractionError, 0, len(units))
		for _, u := range units {
			errs = append(errs, &ExtractionError{
				UnitID:   u.UnitID,
				FilePath: u.FilePath,
				Kind:     KindUnsupportedLanguage,
				Err:      fmt.Errorf("%w: %q", ErrUnsupportedLanguage, u.Language),
			})
		}
		return res, errs
	}

	ordered := make([]ir.CodeUnit, len(units))
	copy(ordered, units)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Span.StartByte != ordered[j].Span.StartByte {
			return ordered[i].Span.StartByte < ordered[j].Span.StartByte
		}
		return ordered[i].Span.EndByte > ordered[j].Span.EndByte
	})

	fc := &FileContext{
		Repository: first.Repository,
		FilePath:   first.FilePath,
		Language:   first.Language,
		units:      make(map[unitKey]bool, len(units)),
		ordered:    ordered,
	}
	for _, u := range ordered {
		fc.units[unitKey{span: u.Span, nodeType: u.ASTNodeType}] = true
	}

	var errs []*ExtractionError
	var root *sitter.Node
	var moduleUnit *ir.CodeUnit
	for i := range ordered {
		if ordered[i].ASTNodeType == le.RootType() && ordered[i].Span.StartByte == 0 {
			moduleUnit = &ordered[i]
			break
		}
	}
	if moduleUnit != nil {
		src := []byte(moduleUnit.RawText)
		tree, err := parse(ctx, le.Grammar(), src)
		if err != nil {
			e.logger.Warn("file parse failed, falling back to per-unit parsing",
				"file", first.FilePath, "error", err)
		} else {
			defer tree.Close()
			root = tree.RootNode()
			fc.Source = src
		}
	}
	fc.Module = le.ModuleInfo(first.FilePath, root, fc.Source)
	if root != nil {
		muc := &UnitContext{Unit: *moduleUnit, Node: root, File: fc}
		fc.Imports = bindingsFrom(le.ExtractImports(muc))
	}

	fallbackID := ""
	for _, u := range ordered {
		if ctx.Err() != nil {
			break
		}
		decl, refs, xerr := e.extractUnit(ctx, le, fc, root, u, fallbackID)
		if xerr != nil {
			// the indexer logs failures at Warn
			errs = append(errs, xerr)
			continue
		}
		if decl != nil {
			res.Declarations = append(res.Declarations, decl)
			if decl.Kind == ir.KindModule && fallbackID == "" {
				fallbackID = decl.ID
			}
		}
		res.References = append(res.References, refs...)
	}
	return res, errs
}

func (e *Extractor) extractUnit(ctx context.Context, le LanguageExtractor, fc *FileContext, root *sitter.Node, u ir.CodeUnit, fallbackID string) (decl *ir.Declaration, refs []ir.RawReference, xerr *ExtractionError) {
	defer func() {
		if r := recover(); r != nil {
			decl, refs = nil, nil
			xerr = &ExtractionError{UnitID: u.UnitID, FilePath: u.FilePath, Kind: KindUnsupportedNode, Err: fmt.Errorf("extractor panic: %v", r)}
		}
	}()

	uc := &UnitContext{Unit: u, File: fc}
	switch {
	case root == nil:
	case u.ASTNodeType == root.Type() && u.Span.StartByte == 0:
		// the root node may not cover leading or trailing whitespace
		uc.Node = root
	default:
		uc.Node = findNode(root, u.Span, u.ASTNodeType)
	}
	if uc.Node == nil {
		tree, local, node, derr := detach(ctx, le, fc, u)
		if derr != nil {
			return nil, nil, derr
		}
		defer tree.Close()
		uc.Node, uc.File = node, local
	}

	decl, err := le.ExtractDeclaration(uc)
	if err != nil {
		return nil, nil, &ExtractionError{UnitID: u.UnitID, FilePath: u.FilePath, Kind: KindUnsupportedNode, Err: err}
	}
	if decl != nil {
		uc.DeclarationID = decl.ID
	} else {
		// References of non-declaring units belong to the enclosing module.
		uc.DeclarationID = fallbackID
		if uc.DeclarationID == "" {
			return nil, nil, nil
		}
	}

	refs = append(refs, le.ExtractImports(uc)...)
	refs = append(refs, le.ExtractExports(uc)...)
	refs = append(refs, le.ExtractCalls(uc)...)
	refs = append(refs, le.ExtractInheritance(uc)...)
	if te, ok := le.(TypeReferenceExtractor); ok {
		refs = append(refs, te.ExtractTypeUses(uc)...)
	}
	return decl, refs, nil
}

// detach parses a unit that has no node in a whole-file tree. The smallest
// unit enclosing it is parsed first, so members keep their container; then
// the unit on its own. Offsets refer to the parsed text.
func detach(ctx context.Context, le LanguageExtractor, fc *FileContext, u ir.CodeUnit) (*sitter.Tree, *FileContext, *sitter.Node, *ExtractionError) {
	bases := []ir.CodeUnit{u}
	enc, hasEnclosing := fc.enclosingUnit(u)
	if hasEnclosing {
		bases = []ir.CodeUnit{enc, u}
	}
	for _, base := range bases {
		src := []byte(base.RawText)
		tree, err := parse(ctx, le.Grammar(), src)
		if err != nil {
			return nil, nil, nil, &ExtractionError{UnitID: u.UnitID, FilePath: u.FilePath, Kind: KindParseFailed, Err: fmt.Errorf("%w: %v", ErrParseFailed, err)}
		}
		var node *sitter.Node
		if base.UnitID == u.UnitID && base.Span == u.Span {
			node = findNode(tree.RootNode(), ir.Span{StartByte: 0, EndByte: uint32(len(src))}, u.ASTNodeType)
			if node == nil {
				node = findFirstOfType(tree.RootNode(), u.ASTNodeType)
			}
		} else {
			node = findNode(tree.RootNode(), relativeSpan(u.Span, base.Span), u.ASTNodeType)
		}
		if node == nil {
			tree.Close()
			continue
		}
		local := *fc
		local.Source = src
		local.units = fc.unitsWithin(base)
		return tree, &local, node, nil
	}
	if !hasEnclosing {
		return nil, nil, nil, &ExtractionError{UnitID: u.UnitID, FilePath: u.FilePath, Kind: KindMissingContext, Err: fmt.Errorf("%w: %s", ErrMissingContext, u.ASTNodeType)}
	}
	return nil, nil, nil, &ExtractionError{UnitID: u.UnitID, FilePath: u.FilePath, Kind: KindNodeNotFound, Err: fmt.Errorf("%w: %s", ErrNodeNotFound, u.ASTNodeType)}
}

func relativeSpan(span, base ir.Span) ir.Span {
	return ir.Span{StartByte: span.StartByte - base.StartByte, EndByte: span.EndByte - base.StartByte}
}

// newDeclaration fills the fields every extractor sets the same way.
func newDeclaration(uc *UnitContext, node *sitter.Node, kind ir.DeclKind, name, container string) *ir.Declaration {
	mod := uc.File.Module
	d := &ir.Declaration{
		ID:          BuildDeclarationID(uc.Unit, kind, name),
		UnitID:      uc.Unit.UnitID,
		Repository:  uc.Unit.Repository,
		Language:    uc.Unit.Language,
		Kind:        kind,
		Name:        name,
		Container:   container,
		Module:      mod.Path,
		ContentHash: uc.Unit.ContentHash(),
		Location:    uc.Location(node),
	}
	if kind == ir.KindModule {
		d.QualifiedNames = ModuleNames(mod.Path, PathKey(uc.File.FilePath), name)
	} else {
		d.QualifiedNames = QualifiedNames(mod.Qualifier, container, name)
	}
	return d
}
