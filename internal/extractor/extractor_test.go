package extractor

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"depgraph/internal/ir"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extractSource(t *testing.T, path, src string) *FileResult {
	t.Helper()
	res, errs := extractSourceWithErrors(t, path, src)
	require.Empty(t, errs)
	return res
}

func extractSourceWithErrors(t *testing.T, path, src string) (*FileResult, []*ExtractionError) {
	t.Helper()
	reg := DefaultRegistry()
	units, err := reg.Chunk(context.Background(), "repo", path, []byte(src))
	require.NoError(t, err)
	return NewExtractor(reg).ExtractFile(context.Background(), units)
}

func declByName(res *FileResult, name string) *ir.Declaration {
	for _, d := range res.Declarations {
		if d.Name == name {
			return d
		}
	}
	return nil
}

func declOfKind(res *FileResult, kind ir.DeclKind) *ir.Declaration {
	for _, d := range res.Declarations {
		if d.Kind == kind {
			return d
		}
	}
	return nil
}

func refsFrom(res *FileResult, sourceID string, kind ir.RelationKind) []ir.RawReference {
	var out []ir.RawReference
	for _, r := range res.References {
		if r.SourceID == sourceID && r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func refNamed(refs []ir.RawReference, name string) (ir.RawReference, bool) {
	for _, r := range refs {
		if r.Name == name {
			return r, true
		}
	}
	return ir.RawReference{}, false
}

func TestExtractor_GoFile(t *testing.T) {
	src, err := os.ReadFile(filepath.Join("testdata", "sample.go"))
	require.NoError(t, err)

	res := extractSource(t, "internal/sample/sample.go", string(src))

	t.Run("Overall Count", func(t *testing.T) {
		// module, Base, User, Handler, Greet, Label, touch, Format
		assert.Len(t, res.Declarations, 8)
	})

	t.Run("Module", func(t *testing.T) {
		mod := declByName(res, "sample")
		require.NotNil(t, mod)
		assert.Equal(t, ir.KindModule, mod.Kind)
		assert.Equal(t, "internal/sample", mod.Module)

		imports := refsFrom(res, mod.ID, ir.RelationImports)
		require.Len(t, imports, 2)
		assert.Equal(t, "fmt", imports[0].Hint)
		assert.Equal(t, "fmt", imports[0].Alias)
		assert.Equal(t, "strings", imports[1].Hint)
		assert.Equal(t, "str", imports[1].Alias)
	})

	t.Run("Types", func(t *testing.T) {
		base := declByName(res, "Base")
		require.NotNil(t, base)
		assert.Equal(t, ir.KindClass, base.Kind)
		assert.Equal(t, "Base is a base struct.", base.Doc)
		assert.True(t, base.Exported)

		user := declByName(res, "User")
		require.NotNil(t, user)
		extends := refsFrom(res, user.ID, ir.RelationExtends)
		require.Len(t, extends, 1)
		assert.Equal(t, "Base", extends[0].Name)
		assert.Equal(t, samePackageHint, extends[0].Hint)

		handler := declByName(res, "Handler")
		require.NotNil(t, handler)
		assert.Equal(t, ir.KindInterface, handler.Kind)
		extends = refsFrom(res, handler.ID, ir.RelationExtends)
		require.Len(t, extends, 1)
		assert.Equal(t, "Stringer", extends[0].Name)
		assert.Equal(t, "fmt", extends[0].Hint)
	})

	t.Run("Functions", func(t *testing.T) {
		greet := declByName(res, "Greet")
		require.NotNil(t, greet)
		assert.Equal(t, ir.KindFunction, greet.Kind)
		assert.Equal(t, []string{"sample.Greet", "Greet"}, greet.QualifiedNames)

		calls := refsFrom(res, greet.ID, ir.RelationCalls)
		join, ok := refNamed(calls, "Join")
		require.True(t, ok)
		assert.Equal(t, "strings", join.Hint)
		label, ok := refNamed(calls, "Label")
		require.True(t, ok)
		assert.Equal(t, "u", label.Receiver)

		uses := refsFrom(res, greet.ID, ir.RelationUsesType)
		require.Len(t, uses, 1)
		assert.Equal(t, "User", uses[0].Name)
	})

	t.Run("Methods", func(t *testing.T) {
		label := declByName(res, "Label")
		require.NotNil(t, label)
		assert.Equal(t, ir.KindMethod, label.Kind)
		assert.Equal(t, "User", label.Container)
		assert.Equal(t, []string{"sample.User.Label", "User.Label", "Label"}, label.QualifiedNames)
		assert.Equal(t, "Label is a method.", label.Doc)

		calls := refsFrom(res, label.ID, ir.RelationCalls)
		touch, ok := refNamed(calls, "touch")
		require.True(t, ok)
		assert.Equal(t, "self", touch.Receiver)
		println, ok := refNamed(calls, "Println")
		require.True(t, ok)
		assert.Equal(t, "fmt", println.Hint)
		format, ok := refNamed(calls, "Format")
		require.True(t, ok)
		assert.Equal(t, samePackageHint, format.Hint)
		_, ok = refNamed(calls, "make")
		assert.False(t, ok, "builtins are not call references")
	})
}

func TestExtractor_UnsupportedLanguage(t *testing.T) {
	units := []ir.CodeUnit{
		{UnitID: "a.rb:program:0-3", Repository: "repo", FilePath: "a.rb", Language: "ruby", ASTNodeType: "program", RawText: "x=1"},
		{UnitID: "a.rb:call:0-1", Repository: "repo", FilePath: "a.rb", Language: "ruby", ASTNodeType: "call", RawText: "x"},
	}
	res, errs := NewExtractor(nil).ExtractFile(context.Background(), units)
	assert.Empty(t, res.Declarations)
	require.Len(t, errs, 2)
	for _, e := range errs {
		assert.Equal(t, KindUnsupportedLanguage, e.Kind)
		assert.ErrorIs(t, e, ErrUnsupportedLanguage)
	}
}

func TestExtractor_BadUnitDoesNotStopFile(t *testing.T) {
	src := "def ok():\n    return 1\n"
	reg := DefaultRegistry()
	units, err := reg.Chunk(context.Background(), "repo", "pkg/mod.py", []byte(src))
	require.NoError(t, err)

	units = append(units, ir.CodeUnit{
		UnitID:      "pkg/mod.py:class_definition:0-3",
		Repository:  "repo",
		FilePath:    "pkg/mod.py",
		Language:    "python",
		ASTNodeType: "class_definition",
		Span:        ir.Span{StartByte: 0, EndByte: 3},
		RawText:     "def",
	})

	res, errs := NewExtractor(reg).ExtractFile(context.Background(), units)
	require.Len(t, errs, 1)
	assert.Equal(t, KindNodeNotFound, errs[0].Kind)
	assert.Equal(t, "pkg/mod.py:class_definition:0-3", errs[0].UnitID)
	assert.NotNil(t, declByName(res, "ok"))
	assert.NotNil(t, declByName(res, "mod"))
}

func TestExtractor_FailuresAreNotLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	units := []ir.CodeUnit{{
		UnitID:      "src/v.ts:method_definition:0-32",
		Repository:  "repo",
		FilePath:    "src/v.ts",
		Language:    "typescript",
		ASTNodeType: "method_definition",
		Span:        ir.Span{StartByte: 0, EndByte: 32},
		RawText:     "validate(input) { return input }",
	}}

	_, errs := NewExtractor(nil, WithLogger(logger)).ExtractFile(context.Background(), units)
	require.Len(t, errs, 1)
	assert.Empty(t, buf.String())
}

// withoutModuleUnit drops the whole-file unit, as a chunker that only
// emits declarations would.
func withoutModuleUnit(t *testing.T, path, src string) []ir.CodeUnit {
	t.Helper()
	reg := DefaultRegistry()
	units, err := reg.Chunk(context.Background(), "repo", path, []byte(src))
	require.NoError(t, err)
	le, ok := reg.ForFile(path)
	require.True(t, ok)
	var out []ir.CodeUnit
	for _, u := range units {
		if u.ASTNodeType != le.RootType() {
			out = append(out, u)
		}
	}
	return out
}

func TestExtractor_WithoutModuleUnit(t *testing.T) {
	tests := []struct {
		name string
		path string
		src  string
	}{
		{
			name: "typescript",
			path: "src/validator.ts",
			src:  "export class Validator {\n  validate(input) { return input }\n  check(input) { return this.validate(input) }\n}\n",
		},
		{
			name: "python",
			path: "app/validator.py",
			src:  "class Validator:\n    def validate(self, data):\n        return data\n\n    def check(self, data):\n        return self.validate(data)\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, errs := NewExtractor(nil).ExtractFile(context.Background(), withoutModuleUnit(t, tt.path, tt.src))
			require.Empty(t, errs)

			cls := declByName(res, "Validator")
			require.NotNil(t, cls)
			assert.Equal(t, ir.KindClass, cls.Kind)
			for _, name := range []string{"validate", "check"} {
				m := declByName(res, name)
				require.NotNil(t, m, name)
				assert.Equal(t, ir.KindMethod, m.Kind, name)
				assert.Equal(t, "Validator", m.Container, name)
			}

			check := declByName(res, "check")
			calls := refsFrom(res, check.ID, ir.RelationCalls)
			_, ok := refNamed(calls, "validate")
			assert.True(t, ok)
			assert.Empty(t, refsFrom(res, cls.ID, ir.RelationCalls), "method bodies belong to the methods")
		})
	}
}

func TestExtractor_LoneMemberUnit(t *testing.T) {
	units := []ir.CodeUnit{
		{
			UnitID:      "src/v.ts:method_definition:0-32",
			Repository:  "repo",
			FilePath:    "src/v.ts",
			Language:    "typescript",
			ASTNodeType: "method_definition",
			Span:        ir.Span{StartByte: 0, EndByte: 32},
			RawText:     "validate(input) { return input }",
		},
		{
			UnitID:      "src/v.ts:lexical_declaration:40-79",
			Repository:  "repo",
			FilePath:    "src/v.ts",
			Language:    "typescript",
			ASTNodeType: "lexical_declaration",
			Span:        ir.Span{StartByte: 40, EndByte: 79},
			RawText:     "const success = (value) => ({ value });",
		},
	}

	res, errs := NewExtractor(nil).ExtractFile(context.Background(), units)
	require.Len(t, errs, 1)
	assert.Equal(t, KindMissingContext, errs[0].Kind)
	assert.ErrorIs(t, errs[0], ErrMissingContext)
	assert.Equal(t, "src/v.ts:method_definition:0-32", errs[0].UnitID)

	success := declByName(res, "success")
	require.NotNil(t, success)
	assert.Equal(t, ir.KindFunction, success.Kind)
}

func TestExtractor_IsDeterministic(t *testing.T) {
	src := "export function a() { b(); }\nexport const b = () => 1;\n"
	first := extractSource(t, "src/x.ts", src)
	second := extractSource(t, "src/x.ts", src)
	assert.Equal(t, first, second)
}

func TestChunk_UnitIDsAndSpans(t *testing.T) {
	src := "class A:\n    def m(self):\n        pass\n"
	units, err := DefaultRegistry().Chunk(context.Background(), "repo", "a.py", []byte(src))
	require.NoError(t, err)
	require.Len(t, units, 3)

	assert.Equal(t, "module", units[0].ASTNodeType)
	assert.Equal(t, src, units[0].RawText)
	assert.Equal(t, "class_definition", units[1].ASTNodeType)
	assert.Equal(t, "function_definition", units[2].ASTNodeType)
	for _, u := range units {
		assert.Equal(t, src[u.Span.StartByte:u.Span.EndByte], u.RawText)
		assert.Equal(t, "python", u.Language)
	}
}

func TestChunk_UnknownExtension(t *testing.T) {
	_, err := DefaultRegistry().Chunk(context.Background(), "repo", "README.md", []byte("# hi"))
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
}
