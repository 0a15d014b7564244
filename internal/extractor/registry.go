package extractor

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Registry maps language tags and file extensions to extractors.
type Registry struct {
	mu          sync.RWMutex
	byLanguage  map[string]LanguageExtractor
	byExtension map[string]LanguageExtractor
}

func NewRegistry() *Registry {
	return &Registry{
		byLanguage:  make(map[string]LanguageExtractor),
		byExtension: make(map[string]LanguageExtractor),
	}
}

// DefaultRegistry knows every language this module ships an extractor for.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewPythonExtractor())
	r.Register(NewTypeScriptExtractor(DialectTypeScript))
	r.Register(NewTypeScriptExtractor(DialectTSX))
	r.Register(NewTypeScriptExtractor(DialectJavaScript))
	r.Register(NewGoExtractor())
	return r
}

// Register adds le, replacing any extractor already registered for its
// language or extensions.
func (r *Registry) Register(le LanguageExtractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byLanguage[le.Language()] = le
	for _, ext := range le.Extensions() {
		r.byExtension[strings.ToLower(ext)] = le
	}
}

func (r *Registry) ForLanguage(lang string) (LanguageExtractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	le, ok := r.byLanguage[lang]
	return le, ok
}

func (r *Registry) ForFile(path string) (LanguageExtractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	le, ok := r.byExtension[strings.ToLower(filepath.Ext(path))]
	return le, ok
}

func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byLanguage))
	for lang := range r.byLanguage {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}
