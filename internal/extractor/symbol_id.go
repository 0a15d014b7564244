package extractor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strings"

	"depgraph/internal/ir"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// BuildDeclarationID creates a deterministic declaration ID. It depends only
// on the repository, the unit and what the unit declares, so re-extracting
// unchanged input reproduces it.
func BuildDeclarationID(unit ir.CodeUnit, kind ir.DeclKind, name string) string {
	lang := strings.TrimSpace(unit.Language)
	if lang == "" {
		lang = "unknown"
	}
	name = canonicalize(name)
	if name == "" {
		name = "_"
	}
	fingerprint := strings.Join([]string{
		unit.Repository,
		unit.UnitID,
		string(kind),
		name,
	}, "|")
	sum := sha256.Sum256([]byte(fingerprint))
	short := hex.EncodeToString(sum[:8])
	return fmt.Sprintf("%s/%s:%s:%s", lang, kind, name, short)
}

// QualifiedNames lists the names a declaration can be referenced by, most
// specific first: "qualifier.Container.name", "Container.name", "name".
func QualifiedNames(qualifier, container, name string) []string {
	var out []string
	add := func(s string) {
		for _, existing := range out {
			if existing == s {
				return
			}
		}
		out = append(out, s)
	}
	if container != "" {
		if qualifier != "" {
			add(qualifier + "." + container + "." + name)
		}
		add(container + "." + name)
	} else if qualifier != "" {
		add(qualifier + "." + name)
	}
	add(name)
	return out
}

// ModuleNames lists the names a module declaration is known by, most
// specific first.
func ModuleNames(names ...string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// PathKey is the repository-relative path without its extension.
func PathKey(filePath string) string {
	p := path.Clean(strings.ReplaceAll(filePath, "\\", "/"))
	p = strings.TrimPrefix(p, "./")
	return strings.TrimSuffix(p, path.Ext(p))
}

// PythonModulePath converts a file path to a dotted module path. Package
// initializers name their package.
func PythonModulePath(filePath string) string {
	key := PathKey(filePath)
	key = strings.TrimSuffix(key, "/__init__")
	return strings.ReplaceAll(key, "/", ".")
}

func stem(filePath string) string {
	base := path.Base(PathKey(filePath))
	if base == "__init__" || base == "index" {
		if dir := path.Base(path.Dir(PathKey(filePath))); dir != "." && dir != "/" {
			return dir
		}
	}
	return base
}

func canonicalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return whitespaceRe.ReplaceAllString(s, " ")
}
