package extractor

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// NamingRules is the per-language table DeclarationName consults.
type NamingRules struct {
	// NameFields maps a construct to the field holding its identifier.
	NameFields map[string]string
	// Anonymous lists function-like constructs that take their name from a binding parent.
	Anonymous map[string]bool
	// Bindings maps a binding construct to the field holding the bound target.
	Bindings map[string]string
	// Transparent wrappers are climbed through when looking for a binding parent.
	Transparent map[string]bool
	Identifiers map[string]bool
	// Members maps member-access node types to the field naming the member.
	Members map[string]string
	// NonBinding fields never name the construct that owns them.
	NonBinding []string
}

// DeclarationName returns the binding identifier of n. Anonymous function
// constructs are named after the variable, property or field they are bound
// to. Parameters, bodies and annotations never contribute a name; when no
// identifier qualifies the result is "anonymous_<node type>".
func (r *NamingRules) DeclarationName(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	if r.Anonymous[n.Type()] {
		if name := r.BindingName(n, src); name != "" {
			return name
		}
	}
	if field, ok := r.NameFields[n.Type()]; ok {
		if c := n.ChildByFieldName(field); c != nil {
			if name := r.identifierText(c, src); name != "" {
				return name
			}
		}
	}
	if c := r.firstIdentifierChild(n); c != nil {
		return c.Content(src)
	}
	return "anonymous_" + n.Type()
}

// BindingName names an anonymous construct after its binding parent, or
// returns "" when it is not bound.
func (r *NamingRules) BindingName(n *sitter.Node, src []byte) string {
	child := n
	p := n.Parent()
	for p != nil && r.Transparent[p.Type()] {
		child = p
		p = p.Parent()
	}
	if p == nil {
		return ""
	}
	field, ok := r.Bindings[p.Type()]
	if !ok {
		return ""
	}
	target := p.ChildByFieldName(field)
	if target == nil || contains(target, child) {
		return ""
	}
	return r.identifierText(target, src)
}

// BindingParent returns the construct n is bound by, climbing transparent wrappers.
func (r *NamingRules) BindingParent(n *sitter.Node) *sitter.Node {
	p := n.Parent()
	for p != nil && r.Transparent[p.Type()] {
		p = p.Parent()
	}
	if p == nil {
		return nil
	}
	if _, ok := r.Bindings[p.Type()]; !ok {
		return nil
	}
	return p
}

func (r *NamingRules) identifierText(n *sitter.Node, src []byte) string {
	if r.Identifiers[n.Type()] {
		return n.Content(src)
	}
	if field, ok := r.Members[n.Type()]; ok {
		if m := n.ChildByFieldName(field); m != nil && r.Identifiers[m.Type()] {
			return m.Content(src)
		}
	}
	return ""
}

// firstIdentifierChild returns the first direct identifier child of n that
// does not sit in a parameter, body, annotation or value position.
func (r *NamingRules) firstIdentifierChild(n *sitter.Node) *sitter.Node {
	var excluded []*sitter.Node
	for _, f := range r.NonBinding {
		if c := n.ChildByFieldName(f); c != nil {
			excluded = append(excluded, c)
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c == nil || !r.Identifiers[c.Type()] {
			continue
		}
		skip := false
		for _, ex := range excluded {
			if sameNode(ex, c) {
				skip = true
				break
			}
		}
		if !skip {
			return c
		}
	}
	return nil
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}
