package resolver

import (
	"context"
	"sort"
	"testing"

	"depgraph/internal/extractor"
	"depgraph/internal/ir"
	"depgraph/internal/symtab"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture map[string]string

type built struct {
	table *symtab.SymbolTable
	decls []*ir.Declaration
	refs  []ir.RawReference
}

func build(t *testing.T, files fixture) *built {
	t.Helper()
	reg := extractor.DefaultRegistry()
	ex := extractor.NewExtractor(reg)

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	b := &built{}
	for _, p := range paths {
		units, err := reg.Chunk(context.Background(), "repo", p, []byte(files[p]))
		require.NoError(t, err)
		res, errs := ex.ExtractFile(context.Background(), units)
		require.Empty(t, errs, p)
		b.decls = append(b.decls, res.Declarations...)
		b.refs = append(b.refs, res.References...)
	}
	b.table = symtab.Build(b.decls)
	return b
}

func (b *built) decl(t *testing.T, file, name string) *ir.Declaration {
	t.Helper()
	var module *ir.Declaration
	for _, d := range b.decls {
		if d.FilePath() != file || d.Name != name {
			continue
		}
		if d.Kind != ir.KindModule {
			return d
		}
		module = d
	}
	if module != nil {
		return module
	}
	t.Fatalf("no declaration %s in %s", name, file)
	return nil
}

func (b *built) resolve(t *testing.T) ([]ir.Relation, *Stats) {
	t.Helper()
	rels, stats, err := New(b.table, b.refs, WithBatchSize(3), WithWorkers(2)).ResolveAll(context.Background())
	require.NoError(t, err)
	return rels, stats
}

func relationsOf(rels []ir.Relation, kind ir.RelationKind) []ir.Relation {
	var out []ir.Relation
	for _, r := range rels {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func (b *built) resultFor(t *testing.T, sourceID, name string, kind ir.RelationKind) Result {
	t.Helper()
	r := New(b.table, b.refs)
	for _, ref := range b.refs {
		if ref.SourceID == sourceID && ref.Name == name && ref.Kind == kind {
			return r.Resolve(ref)
		}
	}
	t.Fatalf("no %s reference to %s from %s", kind, name, sourceID)
	return Result{}
}

func TestResolve_ImportedHelper(t *testing.T) {
	b := build(t, fixture{
		"a.ts": "export function helper() {}\n",
		"b.ts": "import { helper } from './a';\nfunction main() { helper(); }\n",
	})
	rels, _ := b.resolve(t)

	main := b.decl(t, "b.ts", "main")
	helper := b.decl(t, "a.ts", "helper")
	calls := relationsOf(rels, ir.RelationCalls)
	require.Len(t, calls, 1)
	assert.Equal(t, main.ID, calls[0].SourceID)
	assert.Equal(t, helper.ID, calls[0].TargetID)
	assert.Equal(t, string(RuleImport), calls[0].Rule)

	imports := relationsOf(rels, ir.RelationImports)
	require.Len(t, imports, 1)
	assert.Equal(t, b.decl(t, "b.ts", "b").ID, imports[0].SourceID)
	assert.Equal(t, b.decl(t, "a.ts", "a").ID, imports[0].TargetID)
}

func TestResolve_SameClassWins(t *testing.T) {
	b := build(t, fixture{
		"svc.py": `class A:
    def validate(self):
        pass

    def run(self):
        validate()
        self.validate()


class B:
    def validate(self):
        pass
`,
	})
	rels, _ := b.resolve(t)

	run := b.decl(t, "svc.py", "run")
	var aValidate *ir.Declaration
	for _, d := range b.decls {
		if d.Name == "validate" && d.Container == "A" {
			aValidate = d
		}
	}
	require.NotNil(t, aValidate)

	calls := relationsOf(rels, ir.RelationCalls)
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, run.ID, c.SourceID)
		assert.Equal(t, aValidate.ID, c.TargetID, "never the other class's method")
		assert.Equal(t, string(RuleSameContainer), c.Rule)
	}
}

func TestResolve_ThisCallAcrossFiles(t *testing.T) {
	b := build(t, fixture{
		"a.ts": "class A {\n  validate() {}\n  run() { this.validate(); }\n}\n",
		"b.ts": "class B {\n  validate() {}\n}\n",
	})
	res := b.resultFor(t, b.decl(t, "a.ts", "run").ID, "validate", ir.RelationCalls)
	require.True(t, res.Resolved())
	target, _ := b.table.Declaration(res.Relation.TargetID)
	assert.Equal(t, "A", target.Container)
}

func TestResolve_ImportSkipsSameNamedMethod(t *testing.T) {
	tests := []struct {
		name  string
		files fixture
		from  string
		to    string
	}{
		{
			name: "typescript",
			files: fixture{
				"src/a.ts": "export function helper() {}\nexport class Box {\n  helper() {}\n}\n",
				"src/b.ts": "import { helper } from './a';\nfunction main() { helper(); }\n",
			},
			from: "src/b.ts",
			to:   "src/a.ts",
		},
		{
			name: "python",
			files: fixture{
				"app/a.py": "def helper():\n    pass\n\n\nclass Box:\n    def helper(self):\n        pass\n",
				"app/b.py": "from .a import helper\n\n\ndef main():\n    helper()\n",
			},
			from: "app/b.py",
			to:   "app/a.py",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := build(t, tt.files)
			var fn *ir.Declaration
			for _, d := range b.decls {
				if d.FilePath() == tt.to && d.Name == "helper" && d.Container == "" {
					fn = d
				}
			}
			require.NotNil(t, fn)

			res := b.resultFor(t, b.decl(t, tt.from, "main").ID, "helper", ir.RelationCalls)
			require.True(t, res.Resolved(), "reason %s, %d left", res.Reason, res.Remaining)
			assert.Equal(t, RuleImport, res.Rule)
			assert.Equal(t, fn.ID, res.Relation.TargetID)
		})
	}
}

func TestResolve_RecursiveCallIsSelfReference(t *testing.T) {
	b := build(t, fixture{
		"m.py": "def fact(n):\n    if n < 2:\n        return 1\n    return n * fact(n - 1)\n",
	})
	res := b.resultFor(t, b.decl(t, "m.py", "fact").ID, "fact", ir.RelationCalls)
	assert.False(t, res.Resolved())
	assert.Equal(t, ReasonSelfReference, res.Reason)

	_, stats := b.resolve(t)
	assert.Equal(t, 1, stats.ByReason[ReasonSelfReference])
	assert.Zero(t, stats.ByReason[ReasonNoCandidate])
}

func TestResolve_AmbiguousShortNameIsDropped(t *testing.T) {
	b := build(t, fixture{
		"a.ts": "export function helper() {}\n",
		"b.ts": "export function helper() {}\n",
		"c.ts": "function main() { helper(); }\n",
	})
	res := b.resultFor(t, b.decl(t, "c.ts", "main").ID, "helper", ir.RelationCalls)
	assert.False(t, res.Resolved())
	assert.Equal(t, ReasonAmbiguous, res.Reason)
	assert.Equal(t, 2, res.Remaining)

	_, stats := b.resolve(t)
	assert.Equal(t, 1, stats.ByReason[ReasonAmbiguous])
}

func TestResolve_UniqueNameAcrossFiles(t *testing.T) {
	b := build(t, fixture{
		"a.js": "function helper() {}\n",
		"c.js": "function main() { helper(); }\n",
	})
	res := b.resultFor(t, b.decl(t, "c.js", "main").ID, "helper", ir.RelationCalls)
	require.True(t, res.Resolved())
	assert.Equal(t, RuleUniqueName, res.Rule)
	assert.Equal(t, b.decl(t, "a.js", "helper").ID, res.Relation.TargetID)
}

func TestResolve_CallChainHasNoIsolatedFunctions(t *testing.T) {
	b := build(t, fixture{
		"chain.py": `def f1():
    f2()

def f2():
    f3()

def f3():
    f4()

def f4():
    f5()

def f5():
    pass
`,
	})
	rels, stats := b.resolve(t)
	calls := relationsOf(rels, ir.RelationCalls)
	require.Len(t, calls, 4)
	for _, c := range calls {
		assert.Equal(t, string(RuleSameFile), c.Rule)
	}
	assert.Equal(t, 4, stats.ByRule[RuleSameFile])
}

func TestResolve_FollowsBarrels(t *testing.T) {
	b := build(t, fixture{
		"src/models/user.ts":  "export class User {\n  save() {}\n}\n",
		"src/models/role.ts":  "export class Role {}\n",
		"src/models/index.ts": "export { User } from './user';\nexport * from './role';\n",
		"src/app.ts":          "import { User, Role } from './models';\nexport function run(role: Role) { new User(); }\n",
	})
	rels, _ := b.resolve(t)
	run := b.decl(t, "src/app.ts", "run")

	var gotCall, gotType bool
	for _, r := range rels {
		if r.SourceID != run.ID {
			continue
		}
		switch r.Kind {
		case ir.RelationCalls:
			gotCall = true
			assert.Equal(t, b.decl(t, "src/models/user.ts", "User").ID, r.TargetID)
			assert.Equal(t, string(RuleImport), r.Rule)
		case ir.RelationUsesType:
			gotType = true
			assert.Equal(t, b.decl(t, "src/models/role.ts", "Role").ID, r.TargetID)
		}
	}
	assert.True(t, gotCall, "constructor call through the barrel")
	assert.True(t, gotType, "type through export *")

	index := b.decl(t, "src/models/index.ts", "models")
	var reexports []ir.Relation
	for _, r := range relationsOf(rels, ir.RelationExports) {
		if r.SourceID == index.ID {
			reexports = append(reexports, r)
		}
	}
	require.Len(t, reexports, 2)
	targets := []string{reexports[0].TargetID, reexports[1].TargetID}
	assert.Contains(t, targets, b.decl(t, "src/models/user.ts", "User").ID)
	assert.Contains(t, targets, b.decl(t, "src/models/role.ts", "role").ID, "export * links module to module")
}

func TestResolve_ExternalHintIsNotGuessed(t *testing.T) {
	b := build(t, fixture{
		"a.ts": "import { debounce } from 'lodash';\nfunction f() { debounce(); }\n",
		"b.ts": "export function debounce() {}\n",
	})
	res := b.resultFor(t, b.decl(t, "a.ts", "f").ID, "debounce", ir.RelationCalls)
	assert.False(t, res.Resolved())
	assert.Equal(t, ReasonExternal, res.Reason)
}

func TestResolve_PythonPackageImports(t *testing.T) {
	b := build(t, fixture{
		"app/models/__init__.py": "from .user import User\n",
		"app/models/user.py":     "class User:\n    def save(self):\n        pass\n",
		"app/services.py": `from .models import User
from . import models


def make():
    u = User()
    User.save(u)
    return u
`,
	})
	rels, _ := b.resolve(t)
	make := b.decl(t, "app/services.py", "make")
	user := b.decl(t, "app/models/user.py", "User")
	save := b.decl(t, "app/models/user.py", "save")

	calls := relationsOf(rels, ir.RelationCalls)
	targets := map[string]string{}
	for _, c := range calls {
		if c.SourceID == make.ID {
			targets[c.TargetID] = c.Rule
		}
	}
	assert.Equal(t, string(RuleImport), targets[user.ID], "class reached through the package __init__")
	assert.Equal(t, string(RuleImport), targets[save.ID], "Cls.method through the package")

	services := b.decl(t, "app/services.py", "services")
	pkg := b.decl(t, "app/models/__init__.py", "models")
	var imported []string
	for _, r := range relationsOf(rels, ir.RelationImports) {
		if r.SourceID == services.ID {
			imported = append(imported, r.TargetID)
		}
	}
	assert.Contains(t, imported, pkg.ID)
}

func TestResolve_GoPackages(t *testing.T) {
	b := build(t, fixture{
		"pkg/b.go":      "package pkg\n\nfunc B() {}\n",
		"pkg/a.go":      "package pkg\n\nfunc A() {\n\tB()\n}\n",
		"cmd/x/main.go": "package main\n\nimport (\n\t\"fmt\"\n\t\"depgraph/pkg\"\n)\n\nfunc main() {\n\tpkg.A()\n\tfmt.Println()\n}\n",
	})
	rels, stats := b.resolve(t)

	a := b.decl(t, "pkg/a.go", "A")
	bFn := b.decl(t, "pkg/b.go", "B")
	main := b.decl(t, "cmd/x/main.go", "main")

	var sawAB, sawMainA bool
	for _, r := range relationsOf(rels, ir.RelationCalls) {
		if r.SourceID == a.ID && r.TargetID == bFn.ID {
			sawAB = true
			assert.Equal(t, string(RuleImport), r.Rule, "same package, other file")
		}
		if r.SourceID == main.ID && r.TargetID == a.ID {
			sawMainA = true
		}
	}
	assert.True(t, sawAB)
	assert.True(t, sawMainA)

	imports := relationsOf(rels, ir.RelationImports)
	require.Len(t, imports, 1)
	assert.Equal(t, b.decl(t, "pkg/a.go", "pkg").ID, imports[0].TargetID, "first file represents the package")
	assert.GreaterOrEqual(t, stats.ByReason[ReasonExternal], 2, "fmt import and fmt.Println")
}

func TestResolve_UnknownReceiver(t *testing.T) {
	b := build(t, fixture{
		"a.py": "class Store:\n    def save(self):\n        pass\n",
		"b.py": "def persist(x):\n    x.save()\n\ndef helper():\n    pass\n",
		"c.py": "def g(y):\n    y.helper()\n",
	})
	res := b.resultFor(t, b.decl(t, "b.py", "persist").ID, "save", ir.RelationCalls)
	assert.False(t, res.Resolved())
	assert.Equal(t, ReasonUnknownReceiver, res.Reason)

	res = b.resultFor(t, b.decl(t, "c.py", "g").ID, "helper", ir.RelationCalls)
	assert.False(t, res.Resolved(), "free functions are not reachable through an object")
	assert.Equal(t, ReasonUnknownReceiver, res.Reason)
}

func TestResolve_KindMismatch(t *testing.T) {
	b := build(t, fixture{
		"a.ts": "export interface Shape {}\nfunction f() { Shape(); }\n",
	})
	res := b.resultFor(t, b.decl(t, "a.ts", "f").ID, "Shape", ir.RelationCalls)
	assert.Equal(t, ReasonKindMismatch, res.Reason)
}

func TestResolveAll_StatsAndOrder(t *testing.T) {
	b := build(t, fixture{
		"a.ts": "export function helper() {}\nexport function other() { helper(); missing(); }\n",
		"b.ts": "import { helper } from './a';\nfunction main() { helper(); }\n",
	})
	first, stats := b.resolve(t)
	second, _ := b.resolve(t)
	assert.Equal(t, first, second)

	assert.Equal(t, len(b.refs), stats.Attempted)
	assert.Equal(t, stats.Attempted, stats.Resolved+stats.Unresolved)
	ruleTotal := 0
	for _, n := range stats.ByRule {
		ruleTotal += n
	}
	assert.Equal(t, stats.Resolved, ruleTotal)
	assert.Equal(t, 1, stats.ByReason[ReasonNoCandidate])
	assert.InDelta(t, float64(stats.Unresolved)/float64(stats.Attempted), stats.UnresolvedRatio(), 1e-9)
	for _, r := range first {
		assert.Greater(t, r.Confidence, 0.0)
	}
}

func TestResolveAll_Cancelled(t *testing.T) {
	b := build(t, fixture{"a.ts": "function a() { b(); }\nfunction b() {}\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := New(b.table, b.refs).ResolveAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
