package extractor

import (
	"strings"

	"depgraph/internal/ir"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Dialect selects the grammar a TypeScriptExtractor parses with.
type Dialect string

const (
	DialectTypeScript Dialect = "typescript"
	DialectTSX        Dialect = "tsx"
	DialectJavaScript Dialect = "javascript"
)

var tsBuiltinTypes = set(
	"Promise", "Array", "ReadonlyArray", "Record", "Partial", "Required", "Readonly",
	"Pick", "Omit", "Exclude", "Extract", "NonNullable", "ReturnType", "Parameters",
	"InstanceType", "Awaited", "Map", "Set", "WeakMap", "WeakSet", "Date", "Error",
	"RegExp", "Function", "Object", "Iterable", "AsyncIterable", "Iterator", "Generator",
	"AsyncGenerator", "PromiseLike", "ArrayLike",
)

const tsCallQuery = `
	(call_expression function: (_) @callee)
	(new_expression constructor: (_) @callee)
`

var tsFunctionTypes = set("arrow_function", "function_expression", "function", "generator_function")

// TypeScriptExtractor implements LanguageExtractor for TypeScript, TSX and
// JavaScript. The grammars share node names for everything extracted here.
type TypeScriptExtractor struct {
	dialect Dialect
	naming  *NamingRules
	queries queryCache
}

func NewTypeScriptExtractor(dialect Dialect) *TypeScriptExtractor {
	return &TypeScriptExtractor{
		dialect: dialect,
		naming: &NamingRules{
			NameFields: map[string]string{
				"function_declaration":           "name",
				"generator_function_declaration": "name",
				"function_signature":             "name",
				"class_declaration":              "name",
				"abstract_class_declaration":     "name",
				"class":                          "name",
				"interface_declaration":          "name",
				"type_alias_declaration":         "name",
				"enum_declaration":               "name",
				"method_definition":              "name",
				"method_signature":               "name",
				"abstract_method_signature":      "name",
				"function_expression":            "name",
				"function":                       "name",
			},
			Anonymous: set("arrow_function", "function_expression", "function", "generator_function", "class"),
			Bindings: map[string]string{
				"variable_declarator":     "name",
				"assignment_expression":   "left",
				"pair":                    "key",
				"public_field_definition": "name",
				"field_definition":        "property",
			},
			Transparent: set("parenthesized_expression", "as_expression", "satisfies_expression", "non_null_expression", "type_assertion"),
			Identifiers: set("identifier", "type_identifier", "property_identifier", "private_property_identifier", "shorthand_property_identifier"),
			Members:     map[string]string{"member_expression": "property"},
			NonBinding:  []string{"parameters", "parameter", "body", "return_type", "type_parameters", "value", "type", "arguments"},
		},
	}
}

func (t *TypeScriptExtractor) Language() string { return string(t.dialect) }

func (t *TypeScriptExtractor) Extensions() []string {
	switch t.dialect {
	case DialectTSX:
		return []string{".tsx"}
	case DialectJavaScript:
		return []string{".js", ".jsx", ".mjs", ".cjs"}
	}
	return []string{".ts", ".mts", ".cts"}
}

func (t *TypeScriptExtractor) Grammar() *sitter.Language {
	switch t.dialect {
	case DialectTSX:
		return tsx.GetLanguage()
	case DialectJavaScript:
		return javascript.GetLanguage()
	}
	return typescript.GetLanguage()
}

func (t *TypeScriptExtractor) RootType() string { return "program" }

func (t *TypeScriptExtractor) ModuleInfo(filePath string, _ *sitter.Node, _ []byte) ModuleInfo {
	key := PathKey(filePath)
	return ModuleInfo{Path: key, Qualifier: key, Name: stem(filePath)}
}

// Naming exposes the rule table, mainly for tests.
func (t *TypeScriptExtractor) Naming() *NamingRules { return t.naming }

func (t *TypeScriptExtractor) ExtractDeclaration(uc *UnitContext) (*ir.Declaration, error) {
	n := t.unwrap(uc.Node)
	if n == nil {
		return nil, nil
	}
	src := uc.Source()
	if n.Type() == "program" {
		d := newDeclaration(uc, n, ir.KindModule, uc.File.Module.Name, "")
		d.Exported = true
		return d, nil
	}

	var kind ir.DeclKind
	container := ""
	switch n.Type() {
	case "function_declaration", "generator_function_declaration", "function_signature":
		kind = ir.KindFunction
	case "class_declaration", "abstract_class_declaration", "class":
		kind = ir.KindClass
	case "interface_declaration":
		kind = ir.KindInterface
	case "type_alias_declaration", "enum_declaration":
		kind = ir.KindTypeAlias
	case "method_definition", "method_signature", "abstract_method_signature":
		kind = ir.KindMethod
		container = t.enclosingClass(n, src)
	case "arrow_function", "function_expression", "function", "generator_function":
		kind = ir.KindFunction
		if bp := t.naming.BindingParent(n); bp != nil && (bp.Type() == "public_field_definition" || bp.Type() == "field_definition") {
			kind = ir.KindMethod
			container = t.enclosingClass(bp, src)
		}
	case "variable_declarator":
		name := n.ChildByFieldName("name")
		if name == nil || name.Type() != "identifier" || !isConstantName(uc.Text(name)) {
			return nil, nil
		}
		d := newDeclaration(uc, uc.Node, ir.KindConfig, uc.Text(name), "")
		d.Exported = tsExported(n)
		d.Doc = leadingComment(tsStatement(n), src)
		return d, nil
	default:
		return nil, nil
	}

	name := t.naming.DeclarationName(n, src)
	d := newDeclaration(uc, uc.Node, kind, name, container)
	d.Exported = tsExported(n)
	d.Doc = leadingComment(tsStatement(n), src)
	return d, nil
}

// unwrap maps export and variable statements to the construct they declare.
func (t *TypeScriptExtractor) unwrap(n *sitter.Node) *sitter.Node {
	for n != nil {
		switch n.Type() {
		case "export_statement":
			if d := n.ChildByFieldName("declaration"); d != nil {
				n = d
				continue
			}
			if v := n.ChildByFieldName("value"); v != nil {
				n = v
				continue
			}
			return nil
		case "lexical_declaration", "variable_declaration":
			n = childOfType(n, "variable_declarator")
			continue
		case "variable_declarator":
			if v := n.ChildByFieldName("value"); v != nil && tsFunctionTypes[v.Type()] {
				n = v
				continue
			}
			return n
		case "parenthesized_expression":
			n = n.NamedChild(0)
			continue
		}
		return n
	}
	return nil
}

// enclosingClass names the class whose body holds n.
func (t *TypeScriptExtractor) enclosingClass(n *sitter.Node, src []byte) string {
	body := ancestor(n, "class_body")
	if body == nil || body.Parent() == nil {
		return ""
	}
	return t.naming.DeclarationName(body.Parent(), src)
}

// tsStatement climbs from a declared construct to the statement holding it.
func tsStatement(n *sitter.Node) *sitter.Node {
	cur := n
	for p := n.Parent(); p != nil; p = p.Parent() {
		switch p.Type() {
		case "variable_declarator", "lexical_declaration", "variable_declaration", "export_statement", "parenthesized_expression":
			cur = p
		default:
			return cur
		}
	}
	return cur
}

func tsExported(n *sitter.Node) bool {
	return tsStatement(n).Type() == "export_statement"
}

func tsKind(typeOnly bool) ir.RelationKind {
	if typeOnly {
		return ir.RelationUsesType
	}
	return ir.RelationImports
}

func (t *TypeScriptExtractor) ExtractImports(uc *UnitContext) []ir.RawReference {
	var refs []ir.RawReference
	uc.walkOwn(func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_statement":
			refs = append(refs, t.importStatement(uc, n)...)
			return false
		case "variable_declarator":
			if r, ok := t.requireDeclarator(uc, n); ok {
				refs = append(refs, r...)
				return false
			}
		case "call_expression":
			if hint, ok := t.requireCall(uc, n); ok {
				r := uc.ref(ir.RelationImports, hint, n)
				r.Hint = hint
				refs = append(refs, r)
				return false
			}
		}
		return true
	})
	return refs
}

// importStatement handles ES imports. The statement-level and specifier-level
// "type" modifiers are plain tokens, so they are found by scanning children.
func (t *TypeScriptExtractor) importStatement(uc *UnitContext, n *sitter.Node) []ir.RawReference {
	source := n.ChildByFieldName("source")
	if source == nil {
		source = childOfType(n, "string")
	}
	if source == nil {
		return nil
	}
	hint := unquote(uc.Text(source))
	stmtTypeOnly := hasToken(n, "type")

	clause := childOfType(n, "import_clause")
	if clause == nil {
		r := uc.ref(ir.RelationImports, hint, n)
		r.Hint = hint
		return []ir.RawReference{r}
	}

	var refs []ir.RawReference
	for _, c := range namedChildren(clause) {
		switch c.Type() {
		case "identifier":
			r := uc.ref(tsKind(stmtTypeOnly), uc.Text(c), n)
			r.Hint, r.TypeOnly = hint, stmtTypeOnly
			refs = append(refs, r)
		case "namespace_import":
			alias := childOfType(c, "identifier")
			if alias == nil {
				continue
			}
			r := uc.ref(ir.RelationImports, "*", n)
			r.Alias, r.Hint, r.TypeOnly = uc.Text(alias), hint, stmtTypeOnly
			refs = append(refs, r)
		case "named_imports":
			for _, spec := range childrenOfType(c, "import_specifier") {
				typeOnly := stmtTypeOnly || hasToken(spec, "type")
				name := spec.ChildByFieldName("name")
				if name == nil {
					continue
				}
				r := uc.ref(tsKind(typeOnly), unquote(uc.Text(name)), spec)
				r.Alias = uc.Text(spec.ChildByFieldName("alias"))
				r.Hint, r.TypeOnly = hint, typeOnly
				refs = append(refs, r)
			}
		}
	}
	return refs
}

// requireCall matches require('m') and returns m.
func (t *TypeScriptExtractor) requireCall(uc *UnitContext, n *sitter.Node) (string, bool) {
	if n == nil || n.Type() != "call_expression" {
		return "", false
	}
	fn := n.ChildByFieldName("function")
	if fn == nil || fn.Type() != "identifier" || uc.Text(fn) != "require" {
		return "", false
	}
	args := n.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() != 1 {
		return "", false
	}
	arg := args.NamedChild(0)
	if arg == nil || (arg.Type() != "string" && arg.Type() != "template_string") {
		return "", false
	}
	return unquote(uc.Text(arg)), true
}

// requireDeclarator handles `const x = require('m')` and
// `const { a, b: c } = require('m')`.
func (t *TypeScriptExtractor) requireDeclarator(uc *UnitContext, n *sitter.Node) ([]ir.RawReference, bool) {
	hint, ok := t.requireCall(uc, n.ChildByFieldName("value"))
	if !ok {
		return nil, false
	}
	target := n.ChildByFieldName("name")
	if target == nil {
		return nil, false
	}
	var refs []ir.RawReference
	switch target.Type() {
	case "identifier":
		r := uc.ref(ir.RelationImports, "*", n)
		r.Alias, r.Hint = uc.Text(target), hint
		refs = append(refs, r)
	case "object_pattern":
		for _, p := range namedChildren(target) {
			switch p.Type() {
			case "shorthand_property_identifier_pattern", "shorthand_property_identifier":
				r := uc.ref(ir.RelationImports, uc.Text(p), p)
				r.Hint = hint
				refs = append(refs, r)
			case "pair_pattern":
				key, value := p.ChildByFieldName("key"), p.ChildByFieldName("value")
				if key == nil || value == nil {
					continue
				}
				r := uc.ref(ir.RelationImports, uc.Text(key), p)
				r.Alias, r.Hint = uc.Text(value), hint
				refs = append(refs, r)
			}
		}
	default:
		r := uc.ref(ir.RelationImports, hint, n)
		r.Hint = hint
		refs = append(refs, r)
	}
	return refs, true
}

// ExtractExports records re-exports with their source module and local
// export lists. Inline `export function f` only marks the declaration.
func (t *TypeScriptExtractor) ExtractExports(uc *UnitContext) []ir.RawReference {
	if uc.Node.Type() != "program" {
		return nil
	}
	var refs []ir.RawReference
	for _, stmt := range childrenOfType(uc.Node, "export_statement") {
		stmtTypeOnly := hasToken(stmt, "type")
		hint := ""
		if source := stmt.ChildByFieldName("source"); source != nil {
			hint = unquote(uc.Text(source))
		}

		if clause := childOfType(stmt, "export_clause"); clause != nil {
			for _, spec := range childrenOfType(clause, "export_specifier") {
				name := spec.ChildByFieldName("name")
				if name == nil {
					continue
				}
				r := uc.ref(ir.RelationExports, unquote(uc.Text(name)), spec)
				r.Alias = unquote(uc.Text(spec.ChildByFieldName("alias")))
				r.Hint = hint
				r.TypeOnly = stmtTypeOnly || hasToken(spec, "type")
				refs = append(refs, r)
			}
			continue
		}
		if ns := childOfType(stmt, "namespace_export"); ns != nil && hint != "" {
			r := uc.ref(ir.RelationExports, "*", stmt)
			if named := namedChildren(ns); len(named) > 0 {
				r.Alias = unquote(uc.Text(named[len(named)-1]))
			}
			r.Hint = hint
			refs = append(refs, r)
			continue
		}
		if hasToken(stmt, "*") && hint != "" {
			r := uc.ref(ir.RelationExports, "*", stmt)
			r.Hint = hint
			refs = append(refs, r)
			continue
		}
		if v := stmt.ChildByFieldName("value"); v != nil && v.Type() == "identifier" {
			r := uc.ref(ir.RelationExports, uc.Text(v), stmt)
			r.Alias = "default"
			refs = append(refs, r)
		}
	}
	return refs
}

func (t *TypeScriptExtractor) ExtractCalls(uc *UnitContext) []ir.RawReference {
	q, err := t.queries.get(t.Grammar(), tsCallQuery)
	if err != nil {
		return nil
	}
	var refs []ir.RawReference
	for _, callee := range uc.ownCaptures(q, "callee") {
		if r, ok := t.callRef(uc, callee); ok {
			refs = append(refs, r)
		}
	}
	return refs
}

func (t *TypeScriptExtractor) callRef(uc *UnitContext, callee *sitter.Node) (ir.RawReference, bool) {
	r := uc.ref(ir.RelationCalls, "", callee)
	switch callee.Type() {
	case "identifier":
		name := uc.Text(callee)
		if name == "require" {
			return r, false
		}
		b, ok := uc.File.Binding(name)
		switch {
		case ok && b.Namespace:
			return r, false
		case ok:
			r.Name, r.Hint = b.Original, b.Module
		default:
			r.Name = name
		}
		return r, true
	case "member_expression":
		obj := callee.ChildByFieldName("object")
		prop := callee.ChildByFieldName("property")
		if obj == nil || prop == nil {
			return r, false
		}
		name := uc.Text(prop)
		switch obj.Type() {
		case "this":
			r.Name, r.Receiver = name, "this"
			return r, true
		case "super":
			return r, false
		case "identifier":
			if b, ok := uc.File.Binding(uc.Text(obj)); ok {
				if b.Namespace {
					r.Name = name
				} else {
					r.Name = b.Original + "." + name
				}
				r.Hint = b.Module
				return r, true
			}
		}
		recv := uc.Text(obj)
		if strings.ContainsAny(recv, "()[]`\n") {
			return r, false
		}
		r.Name, r.Receiver = name, recv
		return r, true
	}
	return r, false
}

func (t *TypeScriptExtractor) ExtractInheritance(uc *UnitContext) []ir.RawReference {
	n := t.unwrap(uc.Node)
	if n == nil {
		return nil
	}
	var refs []ir.RawReference
	add := func(kind ir.RelationKind, target *sitter.Node) {
		if r, ok := t.typeRef(uc, kind, target); ok {
			refs = append(refs, r)
		}
	}
	switch n.Type() {
	case "class_declaration", "abstract_class_declaration", "class":
		heritage := childOfType(n, "class_heritage")
		for _, c := range namedChildren(heritage) {
			switch c.Type() {
			case "extends_clause":
				for _, v := range namedChildren(c) {
					if v.Type() != "type_arguments" {
						add(ir.RelationExtends, v)
					}
				}
			case "implements_clause":
				for _, v := range namedChildren(c) {
					add(ir.RelationImplements, v)
				}
			default:
				add(ir.RelationExtends, c)
			}
		}
	case "interface_declaration":
		for _, clause := range childrenOfType(n, "extends_type_clause", "extends_clause") {
			for _, v := range namedChildren(clause) {
				if v.Type() != "type_arguments" {
					add(ir.RelationExtends, v)
				}
			}
		}
	}
	return refs
}

// ExtractTypeUses reports named types in parameter and return annotations.
func (t *TypeScriptExtractor) ExtractTypeUses(uc *UnitContext) []ir.RawReference {
	n := t.unwrap(uc.Node)
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "function_declaration", "generator_function_declaration", "function_signature",
		"method_definition", "method_signature", "abstract_method_signature",
		"arrow_function", "function_expression", "function", "generator_function":
	default:
		return nil
	}
	var annotations []*sitter.Node
	if params := n.ChildByFieldName("parameters"); params != nil {
		for _, p := range namedChildren(params) {
			if ann := p.ChildByFieldName("type"); ann != nil {
				annotations = append(annotations, ann)
			}
		}
	}
	if ret := n.ChildByFieldName("return_type"); ret != nil {
		annotations = append(annotations, ret)
	}

	seen := make(map[string]bool)
	var refs []ir.RawReference
	for _, ann := range annotations {
		walk(ann, func(c *sitter.Node) bool {
			switch c.Type() {
			case "type_identifier", "nested_type_identifier":
				r, ok := t.typeRef(uc, ir.RelationUsesType, c)
				if ok && !tsBuiltinTypes[r.Name] && !seen[r.Name] {
					seen[r.Name] = true
					refs = append(refs, r)
				}
				return false
			case "predefined_type", "literal_type", "string":
				return false
			}
			return true
		})
	}
	return refs
}

// typeRef builds a reference to a named type or heritage expression,
// following import bindings.
func (t *TypeScriptExtractor) typeRef(uc *UnitContext, kind ir.RelationKind, n *sitter.Node) (ir.RawReference, bool) {
	r := uc.ref(kind, "", n)
	switch n.Type() {
	case "identifier", "type_identifier":
		name := uc.Text(n)
		if b, ok := uc.File.Binding(name); ok && !b.Namespace {
			r.Name, r.Hint, r.TypeOnly = b.Original, b.Module, b.TypeOnly
		} else {
			r.Name = name
		}
		return r, true
	case "generic_type":
		if name := n.ChildByFieldName("name"); name != nil {
			return t.typeRef(uc, kind, name)
		}
	case "nested_type_identifier", "member_expression":
		left := n.ChildByFieldName("module")
		right := n.ChildByFieldName("name")
		if n.Type() == "member_expression" {
			left, right = n.ChildByFieldName("object"), n.ChildByFieldName("property")
		}
		if left == nil || right == nil {
			return r, false
		}
		if b, ok := uc.File.Binding(uc.Text(left)); ok && b.Namespace {
			r.Name, r.Hint, r.TypeOnly = uc.Text(right), b.Module, b.TypeOnly
		} else {
			r.Name = uc.Text(n)
		}
		return r, true
	}
	return r, false
}

// Segment lists functions, classes, interfaces, type aliases, methods, bound
// function expressions and UPPER_CASE constants. Function bodies are not
// descended into.
func (t *TypeScriptExtractor) Segment(root *sitter.Node, src []byte) []*sitter.Node {
	var out []*sitter.Node
	walk(root, func(n *sitter.Node) bool {
		if !n.IsNamed() {
			return false
		}
		switch n.Type() {
		case "function_declaration", "generator_function_declaration",
			"interface_declaration", "type_alias_declaration", "enum_declaration",
			"method_definition", "abstract_method_signature":
			out = append(out, n)
			return false
		case "class_declaration", "abstract_class_declaration":
			out = append(out, n)
			return true
		case "class":
			if t.naming.BindingName(n, src) != "" {
				out = append(out, n)
			}
			return true
		case "arrow_function", "function_expression", "function", "generator_function":
			if t.naming.BindingName(n, src) != "" {
				out = append(out, n)
			} else if p := n.Parent(); p != nil && p.Type() == "export_statement" && n.ChildByFieldName("name") != nil {
				out = append(out, n)
			}
			return false
		case "variable_declarator":
			name := n.ChildByFieldName("name")
			value := n.ChildByFieldName("value")
			if name != nil && value != nil && name.Type() == "identifier" && isConstantName(name.Content(src)) && !tsFunctionTypes[value.Type()] {
				out = append(out, n)
			}
			return true
		}
		return true
	})
	return out
}
