package extractor

import (
	"depgraph/internal/ir"

	sitter "github.com/smacker/go-tree-sitter"
)

// LanguageExtractor defines the interface that each language parser must implement.
//
// The per-unit methods receive a UnitContext whose Node is the unit's own AST
// node. Nodes that belong to other units of the same file are skipped by
// every reference walk, so each reference is attributed to its innermost unit.
type LanguageExtractor interface {
	// Language is the language tag carried by CodeUnits ("python", "typescript", ...).
	Language() string
	Extensions() []string
	Grammar() *sitter.Language
	// RootType is the AST node type of a whole-file unit.
	RootType() string
	// ModuleInfo derives the module identity of a file. root is nil when the
	// file has no whole-file unit.
	ModuleInfo(filePath string, root *sitter.Node, src []byte) ModuleInfo

	// ExtractDeclaration returns nil without error when the unit does not
	// declare anything (for example a bare expression statement).
	ExtractDeclaration(uc *UnitContext) (*ir.Declaration, error)
	ExtractImports(uc *UnitContext) []ir.RawReference
	ExtractExports(uc *UnitContext) []ir.RawReference
	ExtractCalls(uc *UnitContext) []ir.RawReference
	ExtractInheritance(uc *UnitContext) []ir.RawReference

	// Segment lists the declaration-like nodes below root that become units
	// of their own. The chunker uses it; extraction does not.
	Segment(root *sitter.Node, src []byte) []*sitter.Node
}

// TypeReferenceExtractor is implemented by extractors that can report type
// annotations as UsesType references.
type TypeReferenceExtractor interface {
	ExtractTypeUses(uc *UnitContext) []ir.RawReference
}

// ModuleInfo identifies the module a file belongs to.
type ModuleInfo struct {
	// Path is the language-native module path ("pkg.sub.mod", "src/utils/a", "internal/ir").
	Path string
	// Qualifier prefixes qualified names of the file's declarations.
	Qualifier string
	// Name is the module declaration's own name.
	Name string
}

// ImportBinding records what a local name introduced by an import refers to.
type ImportBinding struct {
	Module   string
	Original string
	TypeOnly bool
	// Namespace is set when the local name stands for the whole module.
	Namespace bool
}

// FileContext is shared by all units of one file during extraction.
type FileContext struct {
	Repository string
	FilePath   string
	Language   string
	Module     ModuleInfo
	Source     []byte
	Imports    map[string]ImportBinding
	// units holds the span and node type of every unit of the file.
	units      map[unitKey]bool
	ordered    []ir.CodeUnit
}

type unitKey struct {
	span     ir.Span
	nodeType string
}

// Binding looks up the import binding for a local name.
func (fc *FileContext) Binding(local string) (ImportBinding, bool) {
	if fc == nil || fc.Imports == nil {
		return ImportBinding{}, false
	}
	b, ok := fc.Imports[local]
	return b, ok
}

// isUnitNode reports whether n is the root node of some unit of the file.
func (fc *FileContext) isUnitNode(n *sitter.Node) bool {
	if fc == nil || len(fc.units) == 0 {
		return false
	}
	return fc.units[unitKey{span: ir.Span{StartByte: n.StartByte(), EndByte: n.EndByte()}, nodeType: n.Type()}]
}

// enclosingUnit returns the smallest other unit of the file whose span
// strictly contains u's and whose text matches its span.
func (fc *FileContext) enclosingUnit(u ir.CodeUnit) (ir.CodeUnit, bool) {
	var best ir.CodeUnit
	found := false
	size := u.Span.EndByte - u.Span.StartByte
	for _, c := range fc.ordered {
		cs := c.Span.EndByte - c.Span.StartByte
		if c.Span.StartByte > u.Span.StartByte || c.Span.EndByte < u.Span.EndByte || cs <= size {
			continue
		}
		if uint32(len(c.RawText)) != cs {
			continue
		}
		if !found || cs < best.Span.EndByte-best.Span.StartByte {
			best, found = c, true
		}
	}
	return best, found
}

// unitsWithin keys the units inside base by their offsets into base's text.
func (fc *FileContext) unitsWithin(base ir.CodeUnit) map[unitKey]bool {
	if uint32(len(base.RawText)) != base.Span.EndByte-base.Span.StartByte {
		return nil
	}
	out := make(map[unitKey]bool)
	for _, c := range fc.ordered {
		if c.Span.StartByte < base.Span.StartByte || c.Span.EndByte > base.Span.EndByte {
			continue
		}
		out[unitKey{span: relativeSpan(c.Span, base.Span), nodeType: c.ASTNodeType}] = true
	}
	return out
}

// UnitContext carries one unit through the extractor methods.
type UnitContext struct {
	Unit ir.CodeUnit
	Node *sitter.Node
	File *FileContext
	// DeclarationID is the id references of this unit are attributed to.
	DeclarationID string
}

// Source returns the bytes the unit's node offsets refer to.
func (uc *UnitContext) Source() []byte {
	return uc.File.Source
}

// Text returns the source text of n.
func (uc *UnitContext) Text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(uc.File.Source)
}

// Location returns the file location of n, 1-based lines.
func (uc *UnitContext) Location(n *sitter.Node) ir.Location {
	return ir.Location{
		FilePath:  uc.File.FilePath,
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
	}
}

// ref builds a reference attributed to the unit.
func (uc *UnitContext) ref(kind ir.RelationKind, name string, at *sitter.Node) ir.RawReference {
	return ir.RawReference{
		SourceID: uc.DeclarationID,
		Name:     name,
		Kind:     kind,
		Location: uc.Location(at),
	}
}

// walkOwn visits the unit's subtree, skipping nodes that are roots of other units.
func (uc *UnitContext) walkOwn(visit func(n *sitter.Node) bool) {
	walk(uc.Node, func(n *sitter.Node) bool {
		if n != uc.Node && uc.File.isUnitNode(n) {
			return false
		}
		return visit(n)
	})
}

// bindingsFrom derives local import bindings from import references. A
// reference whose name equals its hint binds the whole module.
func bindingsFrom(refs []ir.RawReference) map[string]ImportBinding {
	out := make(map[string]ImportBinding, len(refs))
	for _, r := range refs {
		if r.Kind != ir.RelationImports && r.Kind != ir.RelationUsesType {
			continue
		}
		if r.Hint == "" {
			continue
		}
		switch {
		case r.Name == "*":
			if r.Alias != "" {
				out[r.Alias] = ImportBinding{Module: r.Hint, TypeOnly: r.TypeOnly, Namespace: true}
			}
		case r.Name == r.Hint:
			local := r.Alias
			if local == "" {
				local = r.Name
			}
			out[local] = ImportBinding{Module: r.Hint, TypeOnly: r.TypeOnly, Namespace: true}
		default:
			local := r.Alias
			if local == "" {
				local = r.Name
			}
			out[local] = ImportBinding{Module: r.Hint, Original: r.Name, TypeOnly: r.TypeOnly}
		}
	}
	return out
}
