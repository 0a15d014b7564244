package extractor

import (
	"strings"

	"depgraph/internal/ir"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

var pythonBuiltinTypes = set(
	"int", "str", "float", "bool", "bytes", "complex", "None", "object",
	"list", "dict", "set", "frozenset", "tuple", "type",
	"Any", "Optional", "Union", "List", "Dict", "Set", "FrozenSet", "Tuple", "Type",
	"Callable", "Iterable", "Iterator", "Generator", "AsyncIterator", "Awaitable",
	"Sequence", "Mapping", "MutableMapping", "Literal", "ClassVar", "Final", "Self",
)

const pythonCallQuery = `(call function: (_) @callee) @call`

// PythonExtractor implements LanguageExtractor for Python.
type PythonExtractor struct {
	naming  *NamingRules
	queries queryCache
}

func NewPythonExtractor() *PythonExtractor {
	return &PythonExtractor{naming: &NamingRules{
		NameFields:  map[string]string{"function_definition": "name", "class_definition": "name"},
		Anonymous:   set("lambda"),
		Bindings:    map[string]string{"assignment": "left"},
		Transparent: set("parenthesized_expression"),
		Identifiers: set("identifier"),
		Members:     map[string]string{"attribute": "attribute"},
		NonBinding:  []string{"parameters", "body", "return_type", "superclasses", "type_parameters"},
	}}
}

func (p *PythonExtractor) Language() string          { return "python" }
func (p *PythonExtractor) Extensions() []string      { return []string{".py", ".pyi"} }
func (p *PythonExtractor) Grammar() *sitter.Language { return python.GetLanguage() }
func (p *PythonExtractor) RootType() string          { return "module" }

func (p *PythonExtractor) ModuleInfo(filePath string, _ *sitter.Node, _ []byte) ModuleInfo {
	mod := PythonModulePath(filePath)
	return ModuleInfo{Path: mod, Qualifier: mod, Name: stem(filePath)}
}

// Naming exposes the rule table, mainly for tests.
func (p *PythonExtractor) Naming() *NamingRules { return p.naming }

func (p *PythonExtractor) ExtractDeclaration(uc *UnitContext) (*ir.Declaration, error) {
	n := uc.Node
	switch n.Type() {
	case "module":
		d := newDeclaration(uc, n, ir.KindModule, uc.File.Module.Name, "")
		d.Exported = true
		d.Doc = pythonDocstring(n, uc.Source())
		return d, nil
	case "decorated_definition":
		def := n.ChildByFieldName("definition")
		if def == nil {
			return nil, nil
		}
		return p.declare(uc, def), nil
	case "function_definition", "class_definition", "lambda":
		return p.declare(uc, n), nil
	case "expression_statement", "assignment":
		return p.declareAssignment(uc, n), nil
	}
	return nil, nil
}

func (p *PythonExtractor) declare(uc *UnitContext, n *sitter.Node) *ir.Declaration {
	src := uc.Source()
	name := p.naming.DeclarationName(n, src)
	container := pythonEnclosingClass(n, src)
	kind := ir.KindFunction
	switch n.Type() {
	case "class_definition":
		kind = ir.KindClass
	case "function_definition":
		if container != "" {
			kind = ir.KindMethod
		}
	}
	d := newDeclaration(uc, uc.Node, kind, name, container)
	d.Exported = !strings.HasPrefix(name, "_") || (strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__"))
	if body := n.ChildByFieldName("body"); body != nil && n.Type() != "lambda" {
		d.Doc = pythonDocstring(body, src)
	}
	return d
}

// declareAssignment turns module-level UPPER_CASE assignments into Config
// declarations. Other assignments declare nothing.
func (p *PythonExtractor) declareAssignment(uc *UnitContext, n *sitter.Node) *ir.Declaration {
	assign := n
	if n.Type() == "expression_statement" {
		assign = childOfType(n, "assignment")
	}
	if assign == nil {
		return nil
	}
	left := assign.ChildByFieldName("left")
	if left == nil || left.Type() != "identifier" {
		return nil
	}
	name := uc.Text(left)
	if !isConstantName(name) || ancestor(assign, "function_definition", "class_definition") != nil {
		return nil
	}
	d := newDeclaration(uc, uc.Node, ir.KindConfig, name, "")
	d.Exported = true
	return d
}

func (p *PythonExtractor) ExtractImports(uc *UnitContext) []ir.RawReference {
	var refs []ir.RawReference
	uc.walkOwn(func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_statement":
			refs = append(refs, p.importStatement(uc, n)...)
			return false
		case "import_from_statement":
			refs = append(refs, p.importFromStatement(uc, n)...)
			return false
		case "future_import_statement":
			return false
		}
		return true
	})
	return refs
}

// `import a.b` and `import a.b as c`
func (p *PythonExtractor) importStatement(uc *UnitContext, n *sitter.Node) []ir.RawReference {
	typeOnly := underTypeChecking(n, uc.Source())
	var refs []ir.RawReference
	for _, c := range namedChildren(n) {
		r := uc.ref(ir.RelationImports, "", n)
		r.TypeOnly = typeOnly
		switch c.Type() {
		case "dotted_name":
			r.Name = uc.Text(c)
		case "aliased_import":
			r.Name = uc.Text(c.ChildByFieldName("name"))
			r.Alias = uc.Text(c.ChildByFieldName("alias"))
		default:
			continue
		}
		r.Hint = r.Name
		refs = append(refs, r)
	}
	return refs
}

// `from m import x, y as z`, `from . import x`, `from m import *`
func (p *PythonExtractor) importFromStatement(uc *UnitContext, n *sitter.Node) []ir.RawReference {
	moduleNode := n.ChildByFieldName("module_name")
	if moduleNode == nil {
		return nil
	}
	module := uc.Text(moduleNode)
	typeOnly := underTypeChecking(n, uc.Source())
	kind := ir.RelationImports
	if typeOnly {
		kind = ir.RelationUsesType
	}
	var refs []ir.RawReference
	for _, c := range namedChildren(n) {
		if sameNode(c, moduleNode) {
			continue
		}
		r := uc.ref(kind, "", n)
		r.Hint = module
		r.TypeOnly = typeOnly
		switch c.Type() {
		case "dotted_name":
			r.Name = uc.Text(c)
		case "aliased_import":
			r.Name = uc.Text(c.ChildByFieldName("name"))
			r.Alias = uc.Text(c.ChildByFieldName("alias"))
		case "wildcard_import":
			r.Name = "*"
			r.Kind = ir.RelationImports
		default:
			continue
		}
		refs = append(refs, r)
	}
	return refs
}

// underTypeChecking reports whether n sits in an `if TYPE_CHECKING:` block.
func underTypeChecking(n *sitter.Node, src []byte) bool {
	for p := n.Parent(); p != nil; p = p.Parent() {
		switch p.Type() {
		case "if_statement":
			if cond := p.ChildByFieldName("condition"); cond != nil && strings.Contains(cond.Content(src), "TYPE_CHECKING") {
				return true
			}
		case "function_definition", "class_definition", "module":
			return false
		}
	}
	return false
}

// ExtractExports reads the module's `__all__` list.
func (p *PythonExtractor) ExtractExports(uc *UnitContext) []ir.RawReference {
	if uc.Node.Type() != "module" {
		return nil
	}
	var refs []ir.RawReference
	for _, stmt := range namedChildren(uc.Node) {
		if stmt.Type() != "expression_statement" {
			continue
		}
		assign := childOfType(stmt, "assignment", "augmented_assignment")
		if assign == nil {
			continue
		}
		left := assign.ChildByFieldName("left")
		right := assign.ChildByFieldName("right")
		if left == nil || right == nil || uc.Text(left) != "__all__" {
			continue
		}
		if right.Type() != "list" && right.Type() != "tuple" {
			continue
		}
		for _, item := range namedChildren(right) {
			if item.Type() != "string" {
				continue
			}
			if name := unquote(uc.Text(item)); name != "" {
				refs = append(refs, uc.ref(ir.RelationExports, name, item))
			}
		}
	}
	return refs
}

func (p *PythonExtractor) ExtractCalls(uc *UnitContext) []ir.RawReference {
	q, err := p.queries.get(p.Grammar(), pythonCallQuery)
	if err != nil {
		return nil
	}
	var refs []ir.RawReference
	for _, callee := range uc.ownCaptures(q, "callee") {
		if r, ok := p.callRef(uc, callee); ok {
			refs = append(refs, r)
		}
	}
	return refs
}

func (p *PythonExtractor) callRef(uc *UnitContext, callee *sitter.Node) (ir.RawReference, bool) {
	r := uc.ref(ir.RelationCalls, "", callee)
	switch callee.Type() {
	case "identifier":
		name := uc.Text(callee)
		if b, ok := uc.File.Binding(name); ok && !b.Namespace {
			r.Name = b.Original
			r.Hint = b.Module
		} else {
			r.Name = name
		}
		return r, true
	case "attribute":
		obj := callee.ChildByFieldName("object")
		attr := callee.ChildByFieldName("attribute")
		if obj == nil || attr == nil {
			return r, false
		}
		name := uc.Text(attr)
		objText := uc.Text(obj)
		switch {
		case obj.Type() == "call":
			// super().x() and chained calls have no statically known receiver.
			return r, false
		case objText == "self" || objText == "cls":
			r.Name = name
			r.Receiver = objText
		default:
			if b, ok := uc.File.Binding(objText); ok {
				switch {
				case b.Namespace:
					r.Name, r.Hint = name, b.Module
				case isCapitalized(b.Original):
					// an imported class: Cls.method()
					r.Name, r.Hint = b.Original+"."+name, b.Module
				default:
					// `from pkg import mod; mod.fn()` names a submodule
					r.Name, r.Hint = name, pythonSubmodule(b.Module, b.Original)
				}
			} else {
				r.Name = name
				r.Receiver = objText
			}
		}
		return r, true
	}
	return r, false
}

func (p *PythonExtractor) ExtractInheritance(uc *UnitContext) []ir.RawReference {
	class := uc.Node
	if class.Type() == "decorated_definition" {
		class = class.ChildByFieldName("definition")
	}
	if class == nil || class.Type() != "class_definition" {
		return nil
	}
	supers := class.ChildByFieldName("superclasses")
	if supers == nil {
		return nil
	}
	var refs []ir.RawReference
	for _, c := range namedChildren(supers) {
		if c.Type() == "subscript" {
			c = c.ChildByFieldName("value")
		}
		if c == nil {
			continue
		}
		r, ok := p.typeRef(uc, ir.RelationExtends, c)
		if !ok || r.Name == "object" {
			continue
		}
		refs = append(refs, r)
	}
	return refs
}

// ExtractTypeUses reports annotated parameter and return types of functions.
func (p *PythonExtractor) ExtractTypeUses(uc *UnitContext) []ir.RawReference {
	fn := uc.Node
	if fn.Type() == "decorated_definition" {
		fn = fn.ChildByFieldName("definition")
	}
	if fn == nil || fn.Type() != "function_definition" {
		return nil
	}
	var annotations []*sitter.Node
	if params := fn.ChildByFieldName("parameters"); params != nil {
		for _, param := range namedChildren(params) {
			if t := param.ChildByFieldName("type"); t != nil {
				annotations = append(annotations, t)
			}
		}
	}
	if ret := fn.ChildByFieldName("return_type"); ret != nil {
		annotations = append(annotations, ret)
	}

	seen := make(map[string]bool)
	var refs []ir.RawReference
	for _, ann := range annotations {
		walk(ann, func(n *sitter.Node) bool {
			switch n.Type() {
			case "identifier", "attribute":
				r, ok := p.typeRef(uc, ir.RelationUsesType, n)
				if ok && !pythonBuiltinTypes[r.Name] && !seen[r.Name] {
					seen[r.Name] = true
					refs = append(refs, r)
				}
				return false
			case "string":
				return false
			}
			return true
		})
	}
	return refs
}

// typeRef builds a reference to a type expression, following import bindings.
func (p *PythonExtractor) typeRef(uc *UnitContext, kind ir.RelationKind, n *sitter.Node) (ir.RawReference, bool) {
	r := uc.ref(kind, "", n)
	switch n.Type() {
	case "identifier":
		name := uc.Text(n)
		if b, ok := uc.File.Binding(name); ok && !b.Namespace {
			r.Name, r.Hint, r.TypeOnly = b.Original, b.Module, b.TypeOnly
		} else {
			r.Name = name
		}
		return r, true
	case "attribute":
		obj := n.ChildByFieldName("object")
		attr := n.ChildByFieldName("attribute")
		if obj == nil || attr == nil {
			return r, false
		}
		if b, ok := uc.File.Binding(uc.Text(obj)); ok && b.Namespace {
			r.Name, r.Hint, r.TypeOnly = uc.Text(attr), b.Module, b.TypeOnly
		} else {
			r.Name = uc.Text(n)
		}
		return r, true
	}
	return r, false
}

// Segment lists classes, functions, methods, bound lambdas and module-level
// constants. Function bodies are not descended into.
func (p *PythonExtractor) Segment(root *sitter.Node, src []byte) []*sitter.Node {
	var out []*sitter.Node
	walk(root, func(n *sitter.Node) bool {
		if !n.IsNamed() {
			return false
		}
		switch n.Type() {
		case "function_definition":
			out = append(out, n)
			return false
		case "class_definition":
			out = append(out, n)
			return true
		case "lambda":
			if p.naming.BindingName(n, src) != "" {
				out = append(out, n)
			}
			return false
		case "expression_statement":
			if n.Parent() != nil && n.Parent().Type() == "module" {
				if assign := childOfType(n, "assignment"); assign != nil {
					if left := assign.ChildByFieldName("left"); left != nil && left.Type() == "identifier" && isConstantName(left.Content(src)) {
						out = append(out, n)
						return false
					}
				}
			}
			return true
		}
		return true
	})
	return out
}

// pythonSubmodule joins an imported name onto its (possibly relative) module.
func pythonSubmodule(module, name string) string {
	if strings.HasSuffix(module, ".") {
		return module + name
	}
	return module + "." + name
}

func isCapitalized(name string) bool {
	return name != "" && name[0] >= 'A' && name[0] <= 'Z'
}

// pythonEnclosingClass returns the name of the class whose body directly
// holds n, or "".
func pythonEnclosingClass(n *sitter.Node, src []byte) string {
	for p := n.Parent(); p != nil; p = p.Parent() {
		switch p.Type() {
		case "block", "decorated_definition", "expression_statement", "assignment", "parenthesized_expression":
			continue
		case "class_definition":
			if name := p.ChildByFieldName("name"); name != nil {
				return name.Content(src)
			}
			return ""
		default:
			return ""
		}
	}
	return ""
}

// pythonDocstring returns the leading string statement of a module or block.
func pythonDocstring(body *sitter.Node, src []byte) string {
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first == nil || first.Type() != "expression_statement" {
		return ""
	}
	str := childOfType(first, "string")
	if str == nil {
		return ""
	}
	return strings.TrimSpace(unquote(str.Content(src)))
}
