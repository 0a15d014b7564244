package extractor

import (
	"context"
	"strings"
	"testing"

	"depgraph/internal/ir"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseForTest(t *testing.T, lang *sitter.Language, src string) *sitter.Node {
	t.Helper()
	tree, err := parse(context.Background(), lang, []byte(src))
	require.NoError(t, err)
	t.Cleanup(tree.Close)
	return tree.RootNode()
}

func TestNamingRules_TypeScript(t *testing.T) {
	ts := NewTypeScriptExtractor(DialectTypeScript)

	cases := []struct {
		src      string
		nodeType string
		want     string
	}{
		{"const success = (value) => ({ value });", "arrow_function", "success"},
		{"const wrapped = ((value) => value);", "arrow_function", "wrapped"},
		{"let handler = function (event) {};", "function_expression|function", "handler"},
		{"exports.run = (job) => job;", "arrow_function", "run"},
		{"const o = { pick: (item) => item };", "arrow_function", "pick"},
		{"class A { onClick = (e) => e; }", "arrow_function", "onClick"},
		{"function named(param) {}", "function_declaration", "named"},
		{"[1].map((item) => item);", "arrow_function", "anonymous_arrow_function"},
		{"const { a } = (x) => x;", "arrow_function", "anonymous_arrow_function"},
	}
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			src := []byte(tc.src)
			root := parseForTest(t, ts.Grammar(), tc.src)
			var node *sitter.Node
			for _, typ := range strings.Split(tc.nodeType, "|") {
				if node = findFirstOfType(root, typ); node != nil {
					break
				}
			}
			require.NotNil(t, node, tc.nodeType)
			assert.Equal(t, tc.want, ts.Naming().DeclarationName(node, src))
		})
	}
}

func TestNamingRules_Python(t *testing.T) {
	py := NewPythonExtractor()

	cases := []struct {
		src      string
		nodeType string
		want     string
	}{
		{"square = lambda x: x * x\n", "lambda", "square"},
		{"def area(width, height):\n    return width\n", "function_definition", "area"},
		{"class Shape(Base):\n    pass\n", "class_definition", "Shape"},
		{"run(lambda job: job)\n", "lambda", "anonymous_lambda"},
		{"self.cb = lambda evt: evt\n", "lambda", "cb"},
	}
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			root := parseForTest(t, py.Grammar(), tc.src)
			node := findFirstOfType(root, tc.nodeType)
			require.NotNil(t, node)
			assert.Equal(t, tc.want, py.Naming().DeclarationName(node, []byte(tc.src)))
		})
	}
}

func TestHasToken_TypeModifier(t *testing.T) {
	ts := NewTypeScriptExtractor(DialectTypeScript)
	src := "import type { A } from './a';\nimport { type B, C } from './b';\nimport { D } from './d';\n"
	root := parseForTest(t, ts.Grammar(), src)

	stmts := childrenOfType(root, "import_statement")
	require.Len(t, stmts, 3)
	assert.True(t, hasToken(stmts[0], "type"))
	assert.False(t, hasToken(stmts[1], "type"))
	assert.False(t, hasToken(stmts[2], "type"))

	specs := findFirstOfType(stmts[1], "named_imports")
	require.NotNil(t, specs)
	specNodes := childrenOfType(specs, "import_specifier")
	require.Len(t, specNodes, 2)
	assert.True(t, hasToken(specNodes[0], "type"))
	assert.False(t, hasToken(specNodes[1], "type"))
}

func TestFindNode_ExactSpan(t *testing.T) {
	src := "x = 1\n\ndef f(a):\n    return a\n"
	root := parseForTest(t, python_(t), src)
	fn := findFirstOfType(root, "function_definition")
	require.NotNil(t, fn)

	got := findNode(root, ir.Span{StartByte: fn.StartByte(), EndByte: fn.EndByte()}, "function_definition")
	require.NotNil(t, got)
	assert.True(t, sameNode(fn, got))
	assert.Nil(t, findNode(root, ir.Span{StartByte: fn.StartByte(), EndByte: fn.EndByte()}, "class_definition"))
}

func python_(t *testing.T) *sitter.Language {
	t.Helper()
	return NewPythonExtractor().Grammar()
}

// paramIdentifiers collects every identifier inside the parameter list of n.
func paramIdentifiers(n *sitter.Node, src []byte) map[string]bool {
	out := make(map[string]bool)
	for _, field := range []string{"parameters", "parameter"} {
		params := n.ChildByFieldName(field)
		walk(params, func(c *sitter.Node) bool {
			if c.Type() == "identifier" {
				out[c.Content(src)] = true
			}
			return true
		})
	}
	return out
}

// Declarations are never named after one of their own parameters.
func TestNamingInvariant_NameIsNeverAParameter(t *testing.T) {
	sources := map[string]string{
		"a.ts": `const success = (value) => ({ value });
export const map = (fn, xs) => xs.map(fn);
const handler = async (event) => { await event; };
export default (req) => req;
class Svc { run = (job) => job; go(step) { return step; } }
function plain(arg) { return arg; }
`,
		"b.py": `square = lambda x: x * x
def area(width, height):
    return width * height
class Shape:
    def scale(self, factor):
        return factor
`,
		"c.js": `module.exports.build = (opts) => opts;
const make = function (spec) { return spec; };
`,
	}
	reg := DefaultRegistry()
	for path, src := range sources {
		t.Run(path, func(t *testing.T) {
			units, err := reg.Chunk(context.Background(), "repo", path, []byte(src))
			require.NoError(t, err)
			res, errs := NewExtractor(reg).ExtractFile(context.Background(), units)
			require.Empty(t, errs)
			require.NotEmpty(t, res.Declarations)

			le, ok := reg.ForFile(path)
			require.True(t, ok)
			root := parseForTest(t, le.Grammar(), src)
			for _, u := range units {
				node := findNode(root, u.Span, u.ASTNodeType)
				if node == nil {
					continue
				}
				params := paramIdentifiers(node, []byte(src))
				for _, d := range res.Declarations {
					if d.UnitID != u.UnitID {
						continue
					}
					assert.NotEmpty(t, d.Name)
					assert.False(t, params[d.Name], "%s named after its parameter %q", u.UnitID, d.Name)
				}
			}
		})
	}
}
