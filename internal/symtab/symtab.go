// Package symtab builds the per-repository name index the resolver consults.
package symtab

import (
	"path"
	"sort"
	"strings"

	"depgraph/internal/ir"
)

// SymbolTable maps every name form a declaration can be referenced by to the
// declarations carrying it. It is built once per run and read-only afterwards,
// so concurrent readers need no locking.
type SymbolTable struct {
	decls map[string]*ir.Declaration
	names map[string][]string
	files map[string][]string
	// members holds every declaration of a module path.
	members map[string][]string
	// modules holds the Module-kind declarations of a module path.
	modules map[string][]string
	// pySuffixes maps trailing dotted segments of Python module paths (two or
	// more segments) to the full paths, for repositories with a src/ layout.
	pySuffixes map[string][]string
}

// Build indexes decls. Ambiguous names keep every candidate; picking one is
// left to the resolver. Duplicate IDs keep the first declaration.
func Build(decls []*ir.Declaration) *SymbolTable {
	t := &SymbolTable{
		decls:      make(map[string]*ir.Declaration, len(decls)),
		names:      make(map[string][]string, len(decls)*3),
		files:      make(map[string][]string),
		members:    make(map[string][]string),
		modules:    make(map[string][]string),
		pySuffixes: make(map[string][]string),
	}
	for _, d := range decls {
		if d == nil || d.ID == "" {
			continue
		}
		if _, dup := t.decls[d.ID]; dup {
			continue
		}
		t.decls[d.ID] = d

		seen := make(map[string]bool, len(d.QualifiedNames)+1)
		for _, n := range append([]string{d.Name}, d.QualifiedNames...) {
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			t.names[n] = append(t.names[n], d.ID)
		}
		t.files[d.FilePath()] = append(t.files[d.FilePath()], d.ID)
		key := ModuleKey(d.Language, d.Module)
		t.members[key] = append(t.members[key], d.ID)
		if d.Kind == ir.KindModule {
			if len(t.modules[key]) == 0 && d.Language == "python" {
				t.indexPythonSuffixes(d.Module)
			}
			t.modules[key] = append(t.modules[key], d.ID)
		}
	}

	for _, idx := range []map[string][]string{t.names, t.files, t.members, t.modules} {
		for k, ids := range idx {
			t.sortIDs(ids)
			idx[k] = ids
		}
	}
	for k, paths := range t.pySuffixes {
		sort.Strings(paths)
		t.pySuffixes[k] = paths
	}
	return t
}

func (t *SymbolTable) indexPythonSuffixes(module string) {
	parts := strings.Split(module, ".")
	for i := 1; i+2 <= len(parts); i++ {
		suffix := strings.Join(parts[i:], ".")
		t.pySuffixes[suffix] = append(t.pySuffixes[suffix], module)
	}
}

// sortIDs orders by file, then line, then ID so "first" is stable across runs.
func (t *SymbolTable) sortIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := t.decls[ids[i]], t.decls[ids[j]]
		if a.FilePath() != b.FilePath() {
			return a.FilePath() < b.FilePath()
		}
		if a.Location.StartLine != b.Location.StartLine {
			return a.Location.StartLine < b.Location.StartLine
		}
		return a.ID < b.ID
	})
}

// Len is the number of indexed declarations.
func (t *SymbolTable) Len() int {
	return len(t.decls)
}

// Declaration returns the declaration with the given ID.
func (t *SymbolTable) Declaration(id string) (*ir.Declaration, bool) {
	d, ok := t.decls[id]
	return d, ok
}

// Lookup returns the IDs of every declaration that can be referenced as name,
// at any qualification level.
func (t *SymbolTable) Lookup(name string) []string {
	return clone(t.names[name])
}

// InFile returns the declarations extracted from filePath.
func (t *SymbolTable) InFile(filePath string) []string {
	return clone(t.files[filePath])
}

// InModule returns every declaration of the module path in the given language.
func (t *SymbolTable) InModule(language, module string) []string {
	return clone(t.members[ModuleKey(language, module)])
}

// Modules returns the Module-kind declarations for a module path. Go packages
// have one per file; the first is the package's representative.
func (t *SymbolTable) Modules(language, module string) []string {
	return clone(t.modules[ModuleKey(language, module)])
}

// ModulePaths maps an import hint written in from's file to the module paths
// in this repository it can name. An empty result means the hint points
// outside the repository.
func (t *SymbolTable) ModulePaths(hint string, from *ir.Declaration) []string {
	if hint == "" || from == nil {
		return nil
	}
	switch family(from.Language) {
	case "python":
		return t.pythonModules(hint, from)
	case "go":
		return t.goModules(hint, from)
	default:
		return t.scriptModules(hint, from)
	}
}

func (t *SymbolTable) has(language, module string) bool {
	return len(t.modules[ModuleKey(language, module)]) > 0
}

func (t *SymbolTable) scriptModules(hint string, from *ir.Declaration) []string {
	var candidates []string
	if strings.HasPrefix(hint, ".") {
		base := path.Join(path.Dir(from.FilePath()), hint)
		candidates = []string{base, trimScriptExt(base), base + "/index"}
	} else {
		candidates = []string{hint, hint + "/index"}
	}
	for _, c := range candidates {
		if c != "" && c != "." && t.has(from.Language, c) {
			return []string{c}
		}
	}
	return nil
}

func (t *SymbolTable) pythonModules(hint string, from *ir.Declaration) []string {
	target := hint
	if strings.HasPrefix(hint, ".") {
		dots := len(hint) - len(strings.TrimLeft(hint, "."))
		pkg := from.Module
		if !isPackageInit(from.FilePath()) {
			pkg = parent(pkg)
		}
		for i := 1; i < dots; i++ {
			pkg = parent(pkg)
		}
		rest := hint[dots:]
		switch {
		case rest == "":
			target = pkg
		case pkg == "":
			target = rest
		default:
			target = pkg + "." + rest
		}
	}
	if target == "" {
		return nil
	}
	if t.has("python", target) {
		return []string{target}
	}
	if strings.HasPrefix(hint, ".") {
		return nil
	}
	return clone(t.pySuffixes[target])
}

// goModules matches an import path against package directories by the
// longest directory that is a path suffix of it.
func (t *SymbolTable) goModules(hint string, from *ir.Declaration) []string {
	if hint == ir.SamePackageHint {
		if t.has("go", from.Module) {
			return []string{from.Module}
		}
		return nil
	}
	p := strings.Trim(hint, "/")
	for p != "" {
		if t.has("go", p) {
			return []string{p}
		}
		i := strings.Index(p, "/")
		if i < 0 {
			break
		}
		p = p[i+1:]
	}
	return nil
}

// family groups languages whose modules can import each other.
func family(language string) string {
	switch language {
	case "typescript", "tsx", "javascript":
		return "script"
	}
	return language
}

// ModuleKey identifies a module path within a language family.
func ModuleKey(language, module string) string {
	return family(language) + "\x00" + module
}

func trimScriptExt(p string) string {
	for _, ext := range []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs", ".mts", ".cts"} {
		if strings.HasSuffix(p, ext) {
			return strings.TrimSuffix(p, ext)
		}
	}
	return p
}

func isPackageInit(filePath string) bool {
	base := path.Base(filePath)
	return base == "__init__.py" || base == "__init__.pyi"
}

func parent(dotted string) string {
	if i := strings.LastIndex(dotted, "."); i >= 0 {
		return dotted[:i]
	}
	return ""
}

func clone(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}
