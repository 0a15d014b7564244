package extractor

import (
	"path"
	"strings"

	"depgraph/internal/ir"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

var goBuiltinTypes = set(
	"bool", "byte", "rune", "string", "error", "any", "comparable",
	"int", "int8", "int16", "int32", "int64",
	"uint", "uint8", "uint16", "uint32", "uint64", "uintptr",
	"float32", "float64", "complex64", "complex128",
)

const goCallQuery = `(call_expression function: (_) @callee)`

// samePackageHint marks references to the package the source file belongs to.
const samePackageHint = ir.SamePackageHint

// GoExtractor implements LanguageExtractor for Go.
type GoExtractor struct {
	naming  *NamingRules
	queries queryCache
}

func NewGoExtractor() *GoExtractor {
	return &GoExtractor{naming: &NamingRules{
		NameFields: map[string]string{
			"function_declaration": "name",
			"method_declaration":   "name",
			"type_spec":            "name",
			"type_alias":           "name",
		},
		Anonymous:   set("func_literal"),
		Bindings:    map[string]string{"short_var_declaration": "left", "var_spec": "name", "assignment_statement": "left"},
		Identifiers: set("identifier", "field_identifier", "type_identifier"),
		NonBinding:  []string{"parameters", "receiver", "result", "body", "type", "type_parameters", "value"},
	}}
}

func (g *GoExtractor) Language() string          { return "go" }
func (g *GoExtractor) Extensions() []string      { return []string{".go"} }
func (g *GoExtractor) Grammar() *sitter.Language { return golang.GetLanguage() }
func (g *GoExtractor) RootType() string          { return "source_file" }

// ModuleInfo treats the file's directory as the module. The package clause
// names it when the whole file is available.
func (g *GoExtractor) ModuleInfo(filePath string, root *sitter.Node, src []byte) ModuleInfo {
	dir := path.Dir(strings.ReplaceAll(filePath, "\\", "/"))
	if dir == "." {
		dir = ""
	}
	pkg := path.Base(dir)
	if dir == "" {
		pkg = "main"
	}
	if root != nil {
		if clause := childOfType(root, "package_clause"); clause != nil {
			if id := childOfType(clause, "package_identifier"); id != nil {
				pkg = id.Content(src)
			}
		}
	}
	return ModuleInfo{Path: dir, Qualifier: pkg, Name: pkg}
}

func (g *GoExtractor) ExtractDeclaration(uc *UnitContext) (*ir.Declaration, error) {
	n := uc.Node
	src := uc.Source()
	switch n.Type() {
	case "source_file":
		d := newDeclaration(uc, n, ir.KindModule, uc.File.Module.Name, "")
		d.Exported = true
		if clause := childOfType(n, "package_clause"); clause != nil {
			d.Doc = g.extractDocComment(clause, src)
		}
		return d, nil
	case "function_declaration":
		return g.declare(uc, n, ir.KindFunction, ""), nil
	case "method_declaration":
		return g.declare(uc, n, ir.KindMethod, g.receiverType(n, src)), nil
	case "type_declaration":
		specs := childrenOfType(n, "type_spec", "type_alias")
		if len(specs) != 1 {
			return nil, nil
		}
		return g.declareType(uc, specs[0]), nil
	case "type_spec", "type_alias":
		return g.declareType(uc, n), nil
	case "func_literal":
		if g.naming.BindingName(n, src) == "" {
			return nil, nil
		}
		return g.declare(uc, n, ir.KindFunction, ""), nil
	}
	return nil, nil
}

func (g *GoExtractor) declare(uc *UnitContext, n *sitter.Node, kind ir.DeclKind, container string) *ir.Declaration {
	src := uc.Source()
	name := g.naming.DeclarationName(n, src)
	d := newDeclaration(uc, uc.Node, kind, name, container)
	d.Exported = isCapitalized(name)
	d.Doc = g.extractDocComment(n, src)
	return d
}

func (g *GoExtractor) declareType(uc *UnitContext, spec *sitter.Node) *ir.Declaration {
	src := uc.Source()
	kind := ir.KindTypeAlias
	if t := spec.ChildByFieldName("type"); t != nil {
		switch t.Type() {
		case "struct_type":
			kind = ir.KindClass
		case "interface_type":
			kind = ir.KindInterface
		}
	}
	name := g.naming.DeclarationName(spec, src)
	d := newDeclaration(uc, uc.Node, kind, name, "")
	d.Exported = isCapitalized(name)
	docNode := spec
	if parent := spec.Parent(); parent != nil && parent.Type() == "type_declaration" {
		docNode = parent
	}
	d.Doc = g.extractDocComment(docNode, src)
	return d
}

// receiverType returns the receiver's base type name with pointers and type
// parameters stripped.
func (g *GoExtractor) receiverType(method *sitter.Node, src []byte) string {
	recv := method.ChildByFieldName("receiver")
	if recv == nil {
		return ""
	}
	var name string
	walk(recv, func(n *sitter.Node) bool {
		if name != "" {
			return false
		}
		if n.Type() == "type_identifier" {
			name = n.Content(src)
			return false
		}
		return true
	})
	return name
}

// receiverName is the identifier a method binds its receiver to.
func (g *GoExtractor) receiverName(method *sitter.Node, src []byte) string {
	recv := method.ChildByFieldName("receiver")
	if recv == nil {
		return ""
	}
	decl := childOfType(recv, "parameter_declaration")
	if decl == nil {
		return ""
	}
	if id := decl.ChildByFieldName("name"); id != nil {
		return id.Content(src)
	}
	return ""
}

// ExtractImports reports one reference per import spec. The local package
// name is carried as the alias so member calls can be mapped back.
func (g *GoExtractor) ExtractImports(uc *UnitContext) []ir.RawReference {
	if uc.Node.Type() != "source_file" {
		return nil
	}
	var refs []ir.RawReference
	walk(uc.Node, func(n *sitter.Node) bool {
		switch n.Type() {
		case "source_file", "import_declaration", "import_spec_list":
			return true
		case "import_spec":
			p := n.ChildByFieldName("path")
			if p == nil {
				return false
			}
			importPath := unquote(uc.Text(p))
			r := uc.ref(ir.RelationImports, importPath, n)
			r.Hint = importPath
			r.Alias = path.Base(importPath)
			// dot and blank imports keep "." and "_", which never match an operand
			if alias := n.ChildByFieldName("name"); alias != nil {
				r.Alias = uc.Text(alias)
			}
			refs = append(refs, r)
			return false
		}
		return false
	})
	return refs
}

// Go has no export statements; visibility is recorded on declarations.
func (g *GoExtractor) ExtractExports(uc *UnitContext) []ir.RawReference {
	return nil
}

func (g *GoExtractor) ExtractCalls(uc *UnitContext) []ir.RawReference {
	q, err := g.queries.get(g.Grammar(), goCallQuery)
	if err != nil {
		return nil
	}
	self := ""
	if uc.Node.Type() == "method_declaration" {
		self = g.receiverName(uc.Node, uc.Source())
	}
	var refs []ir.RawReference
	for _, callee := range uc.ownCaptures(q, "callee") {
		if r, ok := g.callRef(uc, callee, self); ok {
			refs = append(refs, r)
		}
	}
	return refs
}

func (g *GoExtractor) callRef(uc *UnitContext, callee *sitter.Node, self string) (ir.RawReference, bool) {
	r := uc.ref(ir.RelationCalls, "", callee)
	switch callee.Type() {
	case "identifier":
		name := uc.Text(callee)
		if goBuiltinFuncs[name] {
			return r, false
		}
		r.Name = name
		r.Hint = samePackageHint
		return r, true
	case "selector_expression":
		operand := callee.ChildByFieldName("operand")
		field := callee.ChildByFieldName("field")
		if operand == nil || field == nil {
			return r, false
		}
		r.Name = uc.Text(field)
		recv := uc.Text(operand)
		if operand.Type() == "identifier" {
			if recv == self && self != "" {
				r.Receiver = "self"
				return r, true
			}
			if b, ok := uc.File.Binding(recv); ok && b.Namespace {
				r.Hint = b.Module
				return r, true
			}
		}
		if strings.ContainsAny(recv, "()[]\n") {
			return r, false
		}
		r.Receiver = recv
		return r, true
	}
	return r, false
}

var goBuiltinFuncs = set(
	"append", "cap", "clear", "close", "complex", "copy", "delete", "imag", "len",
	"make", "max", "min", "new", "panic", "print", "println", "real", "recover",
)

// ExtractInheritance reports embedded struct fields and embedded interfaces
// as Extends.
func (g *GoExtractor) ExtractInheritance(uc *UnitContext) []ir.RawReference {
	spec := uc.Node
	if spec.Type() == "type_declaration" {
		spec = childOfType(spec, "type_spec")
	}
	if spec == nil || spec.Type() != "type_spec" {
		return nil
	}
	typeNode := spec.ChildByFieldName("type")
	if typeNode == nil {
		return nil
	}
	var embedded []*sitter.Node
	switch typeNode.Type() {
	case "struct_type":
		embedded = g.embeddedFields(typeNode)
	case "interface_type":
		embedded = g.embeddedInterfaces(typeNode)
	}
	var refs []ir.RawReference
	for _, e := range embedded {
		if r, ok := g.typeRef(uc, ir.RelationExtends, e); ok {
			refs = append(refs, r)
		}
	}
	return refs
}

// embeddedFields returns the type nodes of fields declared without a name.
func (g *GoExtractor) embeddedFields(structNode *sitter.Node) []*sitter.Node {
	fieldList := childOfType(structNode, "field_declaration_list")
	if fieldList == nil {
		return nil
	}
	var out []*sitter.Node
	for _, fieldDecl := range childrenOfType(fieldList, "field_declaration") {
		if childOfType(fieldDecl, "field_identifier") != nil {
			continue
		}
		if t := fieldDecl.ChildByFieldName("type"); t != nil {
			out = append(out, t)
		}
	}
	return out
}

func (g *GoExtractor) embeddedInterfaces(interfaceNode *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for _, c := range namedChildren(interfaceNode) {
		switch c.Type() {
		case "type_elem", "constraint_elem":
			if inner := c.NamedChild(0); inner != nil && c.NamedChildCount() == 1 {
				out = append(out, inner)
			}
		case "type_identifier", "qualified_type":
			out = append(out, c)
		}
	}
	return out
}

// ExtractTypeUses reports named parameter and result types of functions and
// methods.
func (g *GoExtractor) ExtractTypeUses(uc *UnitContext) []ir.RawReference {
	n := uc.Node
	if n.Type() != "function_declaration" && n.Type() != "method_declaration" {
		return nil
	}
	var typeNodes []*sitter.Node
	if params := n.ChildByFieldName("parameters"); params != nil {
		typeNodes = append(typeNodes, g.extractParams(params)...)
	}
	if result := n.ChildByFieldName("result"); result != nil {
		typeNodes = append(typeNodes, g.extractReturns(result)...)
	}

	seen := make(map[string]bool)
	var refs []ir.RawReference
	for _, tn := range typeNodes {
		walk(tn, func(c *sitter.Node) bool {
			switch c.Type() {
			case "type_identifier", "qualified_type":
				r, ok := g.typeRef(uc, ir.RelationUsesType, c)
				key := r.Hint + "|" + r.Name
				if ok && !seen[key] {
					seen[key] = true
					refs = append(refs, r)
				}
				return false
			}
			return true
		})
	}
	return refs
}

// typeRef maps a type expression to a reference. Unqualified names live in
// the source's own package.
func (g *GoExtractor) typeRef(uc *UnitContext, kind ir.RelationKind, n *sitter.Node) (ir.RawReference, bool) {
	for n != nil && (n.Type() == "pointer_type" || n.Type() == "generic_type") {
		if n.Type() == "generic_type" {
			n = n.ChildByFieldName("type")
		} else {
			n = n.NamedChild(0)
		}
	}
	if n == nil {
		return ir.RawReference{}, false
	}
	r := uc.ref(kind, "", n)
	switch n.Type() {
	case "type_identifier":
		name := uc.Text(n)
		if goBuiltinTypes[name] {
			return r, false
		}
		r.Name, r.Hint = name, samePackageHint
		return r, true
	case "qualified_type":
		pkg := n.ChildByFieldName("package")
		name := n.ChildByFieldName("name")
		if pkg == nil || name == nil {
			return r, false
		}
		r.Name = uc.Text(name)
		if b, ok := uc.File.Binding(uc.Text(pkg)); ok && b.Namespace {
			r.Hint = b.Module
		} else {
			r.Name = uc.Text(n)
		}
		return r, true
	}
	return r, false
}

// extractParams returns the type node of every parameter declaration.
func (g *GoExtractor) extractParams(paramsNode *sitter.Node) []*sitter.Node {
	var types []*sitter.Node
	for _, p := range childrenOfType(paramsNode, "parameter_declaration", "variadic_parameter_declaration") {
		if tn := p.ChildByFieldName("type"); tn != nil {
			types = append(types, tn)
		}
	}
	return types
}

func (g *GoExtractor) extractReturns(resultNode *sitter.Node) []*sitter.Node {
	if resultNode.Type() == "parameter_list" {
		return g.extractParams(resultNode)
	}
	return []*sitter.Node{resultNode}
}

// Segment lists functions, methods and type specs.
func (g *GoExtractor) Segment(root *sitter.Node, _ []byte) []*sitter.Node {
	var out []*sitter.Node
	for _, c := range namedChildren(root) {
		switch c.Type() {
		case "function_declaration", "method_declaration":
			out = append(out, c)
		case "type_declaration":
			out = append(out, childrenOfType(c, "type_spec", "type_alias")...)
		}
	}
	return out
}

func (g *GoExtractor) extractDocComment(node *sitter.Node, sourceCode []byte) string {
	return leadingComment(node, sourceCode)
}

// leadingComment collects the comment lines directly above node.
func leadingComment(node *sitter.Node, sourceCode []byte) string {
	if node == nil {
		return ""
	}
	var commentLines []string
	currentNode := node
	for {
		prevSibling := currentNode.PrevSibling()
		if prevSibling == nil || (currentNode.StartPoint().Row-prevSibling.EndPoint().Row > 1) {
			break
		}
		if prevSibling.Type() != "comment" {
			break
		}
		commentLines = append([]string{prevSibling.Content(sourceCode)}, commentLines...)
		currentNode = prevSibling
	}
	return cleanDocComment(strings.Join(commentLines, "\n"))
}

func cleanDocComment(rawComment string) string {
	if rawComment == "" {
		return ""
	}
	lines := strings.Split(rawComment, "\n")
	var cleaned []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		l = strings.TrimPrefix(l, "//")
		l = strings.TrimPrefix(l, "/**")
		l = strings.TrimPrefix(l, "/*")
		l = strings.TrimSuffix(l, "*/")
		l = strings.TrimPrefix(strings.TrimSpace(l), "*")
		if l = strings.TrimSpace(l); l != "" {
			cleaned = append(cleaned, l)
		}
	}
	return strings.Join(cleaned, "\n")
}
