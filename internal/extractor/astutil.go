package extractor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"depgraph/internal/ir"

	sitter "github.com/smacker/go-tree-sitter"
)

func parse(ctx context.Context, lang *sitter.Language, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, fmt.Errorf("parser returned no tree")
	}
	return tree, nil
}

// findNode descends from root to the node covering exactly span. When
// nodeType is set, wrappers with the same span but another type are skipped.
func findNode(root *sitter.Node, span ir.Span, nodeType string) *sitter.Node {
	cur := root
	for cur != nil {
		if cur.StartByte() == span.StartByte && cur.EndByte() == span.EndByte &&
			(nodeType == "" || cur.Type() == nodeType) {
			return cur
		}
		var next *sitter.Node
		for i := 0; i < int(cur.ChildCount()); i++ {
			c := cur.Child(i)
			if c == nil || c.EndByte() <= c.StartByte() {
				continue
			}
			if c.StartByte() <= span.StartByte && c.EndByte() >= span.EndByte {
				next = c
				break
			}
		}
		cur = next
	}
	return nil
}

// findFirstOfType returns the first node of type nodeType in pre-order.
func findFirstOfType(root *sitter.Node, nodeType string) *sitter.Node {
	var found *sitter.Node
	walk(root, func(n *sitter.Node) bool {
		if found != nil {
			return false
		}
		if n.Type() == nodeType {
			found = n
			return false
		}
		return true
	})
	return found
}

// walk visits n and its descendants depth-first in source order. Returning
// false from visit skips the node's children.
func walk(n *sitter.Node, visit func(*sitter.Node) bool) {
	if n == nil {
		return
	}
	stack := []*sitter.Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !visit(cur) {
			continue
		}
		for i := int(cur.ChildCount()) - 1; i >= 0; i-- {
			if c := cur.Child(i); c != nil {
				stack = append(stack, c)
			}
		}
	}
}

func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c != nil {
			out = append(out, c)
		}
	}
	return out
}

func childOfType(n *sitter.Node, types ...string) *sitter.Node {
	if n == nil {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		for _, t := range types {
			if c.Type() == t {
				return c
			}
		}
	}
	return nil
}

func childrenOfType(n *sitter.Node, types ...string) []*sitter.Node {
	var out []*sitter.Node
	if n == nil {
		return out
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		for _, t := range types {
			if c.Type() == t {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// hasToken reports whether n has a direct child token of the given type,
// such as the "type" keyword of a type-only import.
func hasToken(n *sitter.Node, token string) bool {
	if n == nil {
		return false
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c != nil && !c.IsNamed() && c.Type() == token {
			return true
		}
	}
	return false
}

// sameNode compares nodes by position and type.
func sameNode(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

// contains reports whether outer covers inner's byte range.
func contains(outer, inner *sitter.Node) bool {
	if outer == nil || inner == nil {
		return false
	}
	return outer.StartByte() <= inner.StartByte() && inner.EndByte() <= outer.EndByte()
}

// ancestor returns the nearest ancestor of n whose type is one of types.
func ancestor(n *sitter.Node, types ...string) *sitter.Node {
	for p := n.Parent(); p != nil; p = p.Parent() {
		for _, t := range types {
			if p.Type() == t {
				return p
			}
		}
	}
	return nil
}

// unquote strips string delimiters from a literal.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	for _, p := range []string{`"""`, `'''`} {
		if len(s) >= 6 && strings.HasPrefix(s, p) && strings.HasSuffix(s, p) {
			return s[3 : len(s)-3]
		}
	}
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'' || first == '`') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// isConstantName reports whether name is written in UPPER_SNAKE_CASE.
func isConstantName(name string) bool {
	hasLetter := false
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
			hasLetter = true
		case r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return hasLetter
}

// queryCache compiles each structural query once per grammar.
type queryCache struct {
	mu      sync.Mutex
	queries map[string]*sitter.Query
}

func (c *queryCache) get(lang *sitter.Language, pattern string) (*sitter.Query, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.queries[pattern]; ok {
		return q, nil
	}
	q, err := sitter.NewQuery([]byte(pattern), lang)
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}
	if c.queries == nil {
		c.queries = make(map[string]*sitter.Query)
	}
	c.queries[pattern] = q
	return q, nil
}

// captures runs q on node and returns captured nodes grouped by capture name.
func captures(q *sitter.Query, node *sitter.Node) map[string][]*sitter.Node {
	out := make(map[string][]*sitter.Node)
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, node)
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, c := range m.Captures {
			name := q.CaptureNameForId(c.Index)
			out[name] = append(out[name], c.Node)
		}
	}
	return out
}

// ownCaptures is captures restricted to nodes that are not inside another
// unit nested in uc.
func (uc *UnitContext) ownCaptures(q *sitter.Query, name string) []*sitter.Node {
	var out []*sitter.Node
	for _, n := range captures(q, uc.Node)[name] {
		if uc.owns(n) {
			out = append(out, n)
		}
	}
	return out
}

// owns reports whether n belongs to this unit rather than a nested one.
func (uc *UnitContext) owns(n *sitter.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent() {
		if sameNode(cur, uc.Node) {
			return true
		}
		if uc.File.isUnitNode(cur) {
			return false
		}
	}
	return false
}
