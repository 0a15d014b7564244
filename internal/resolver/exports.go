package resolver

import (
	"depgraph/internal/ir"
	"depgraph/internal/symtab"
)

// maxBarrelDepth bounds how many re-export hops are followed.
const maxBarrelDepth = 8

// link is one way a module makes a name visible: a re-export, or for Python
// a from-import.
type link struct {
	from *ir.Declaration
	hint string
	name string
}

// exportIndex records, per module, the names other modules can import from
// it without the module declaring them itself.
type exportIndex struct {
	table *symtab.SymbolTable
	// named maps module key -> exported name -> links.
	named map[string]map[string][]link
	// stars maps module key -> `export * from` links.
	stars map[string][]link
	// bindings maps module key -> local import name -> link, for `export { X }`
	// of an imported X.
	bindings map[string]map[string]link
}

func buildExportIndex(table *symtab.SymbolTable, refs []ir.RawReference) *exportIndex {
	idx := &exportIndex{
		table:    table,
		named:    make(map[string]map[string][]link),
		stars:    make(map[string][]link),
		bindings: make(map[string]map[string]link),
	}
	for _, ref := range refs {
		src, ok := table.Declaration(ref.SourceID)
		if !ok || src.Kind != ir.KindModule {
			continue
		}
		key := symtab.ModuleKey(src.Language, src.Module)
		local := ref.Name
		if ref.Alias != "" {
			local = ref.Alias
		}
		switch {
		case ref.Kind == ir.RelationExports && ref.Name == "*":
			if ref.Alias == "" && ref.HasHint() {
				idx.stars[key] = append(idx.stars[key], link{from: src, hint: ref.Hint, name: "*"})
			}
		case ref.Kind == ir.RelationExports:
			idx.addNamed(key, local, link{from: src, hint: ref.Hint, name: ref.Name})
		case isImport(ref) && ref.Name != "*" && ref.Name != ref.Hint:
			if idx.bindings[key] == nil {
				idx.bindings[key] = make(map[string]link)
			}
			idx.bindings[key][local] = link{from: src, hint: ref.Hint, name: ref.Name}
			if src.Language == "python" {
				// Python modules expose every name they import.
				idx.addNamed(key, local, link{from: src, hint: ref.Hint, name: ref.Name})
			}
		}
	}
	return idx
}

func isImport(ref ir.RawReference) bool {
	return ref.Kind == ir.RelationImports || (ref.Kind == ir.RelationUsesType && ref.TypeOnly && ref.HasHint())
}

func (idx *exportIndex) addNamed(key, name string, l link) {
	if idx.named[key] == nil {
		idx.named[key] = make(map[string][]link)
	}
	idx.named[key][name] = append(idx.named[key][name], l)
}

// find returns the declarations named name that module makes visible,
// following re-export chains.
func (idx *exportIndex) find(language, module, name string, accept func(*ir.Declaration) bool) []*ir.Declaration {
	visited := make(map[string]bool)
	return dedupe(idx.search(language, module, name, accept, 0, visited))
}

func (idx *exportIndex) search(language, module, name string, accept func(*ir.Declaration) bool, depth int, visited map[string]bool) []*ir.Declaration {
	if depth > maxBarrelDepth {
		return nil
	}
	key := symtab.ModuleKey(language, module)
	if visited[key+"\x00"+name] {
		return nil
	}
	visited[key+"\x00"+name] = true

	var out []*ir.Declaration
	for _, id := range idx.table.InModule(language, module) {
		d, _ := idx.table.Declaration(id)
		// an import binds module-level names only; Cls.method goes through the owner
		if d.Name == name && d.Container == "" && d.Kind != ir.KindModule && accept(d) {
			out = append(out, d)
		}
	}
	if len(out) > 0 {
		return out
	}

	for _, l := range idx.named[key][name] {
		hint, target := l.hint, l.name
		if hint == "" {
			b, ok := idx.bindings[key][l.name]
			if !ok {
				continue
			}
			hint, target = b.hint, b.name
		}
		out = append(out, idx.follow(l.from, hint, target, accept, depth, visited)...)
	}
	if len(out) > 0 {
		return out
	}

	for _, l := range idx.stars[key] {
		out = append(out, idx.follow(l.from, l.hint, name, accept, depth, visited)...)
	}
	return out
}

func (idx *exportIndex) follow(from *ir.Declaration, hint, name string, accept func(*ir.Declaration) bool, depth int, visited map[string]bool) []*ir.Declaration {
	var out []*ir.Declaration
	for _, m := range idx.table.ModulePaths(hint, from) {
		out = append(out, idx.search(from.Language, m, name, accept, depth+1, visited)...)
	}
	return out
}

func dedupe(decls []*ir.Declaration) []*ir.Declaration {
	if len(decls) < 2 {
		return decls
	}
	seen := make(map[string]bool, len(decls))
	out := decls[:0]
	for _, d := range decls {
		if !seen[d.ID] {
			seen[d.ID] = true
			out = append(out, d)
		}
	}
	return out
}
