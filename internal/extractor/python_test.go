package extractor

import (
	"testing"

	"depgraph/internal/ir"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pythonService = `"""User service."""
from typing import TYPE_CHECKING
from .models import User as UserModel, Role
from ..core import db
import app.util.text as text
import os

if TYPE_CHECKING:
    from app.types import Session

__all__ = ["UserService", "make_service"]

MAX_USERS = 100

normalize = lambda value: value.strip()


class UserService(BaseService, metaclass=Meta):
    """Manages users."""

    def create(self, name: str, session: "Session") -> UserModel:
        self.validate(name)
        text.slug(name)
        db.save(UserModel(name))
        return helper(name)

    def validate(self, name):
        os.path.join(name)

    @staticmethod
    def build(role: Role):
        pass


def make_service():
    return UserService()


def helper(value):
    return normalize(value)
`

func TestPython_Declarations(t *testing.T) {
	res := extractSource(t, "app/services/users.py", pythonService)

	mod := declOfKind(res, ir.KindModule)
	require.NotNil(t, mod)
	assert.Equal(t, "users", mod.Name)
	assert.Equal(t, "app.services.users", mod.Module)
	assert.Equal(t, "User service.", mod.Doc)

	cases := map[string]ir.DeclKind{
		"UserService":  ir.KindClass,
		"create":       ir.KindMethod,
		"validate":     ir.KindMethod,
		"build":        ir.KindMethod,
		"make_service": ir.KindFunction,
		"helper":       ir.KindFunction,
		"normalize":    ir.KindFunction,
		"MAX_USERS":    ir.KindConfig,
	}
	for name, kind := range cases {
		d := declByName(res, name)
		if assert.NotNil(t, d, name) {
			assert.Equal(t, kind, d.Kind, name)
		}
	}
	assert.Nil(t, declByName(res, "value"), "lambda parameters never name the declaration")

	create := declByName(res, "create")
	assert.Equal(t, "UserService", create.Container)
	assert.Equal(t, []string{"app.services.users.UserService.create", "UserService.create", "create"}, create.QualifiedNames)
	assert.Equal(t, "UserService", declByName(res, "build").Container)
	assert.Equal(t, "Manages users.", declByName(res, "UserService").Doc)
}

func TestPython_Imports(t *testing.T) {
	res := extractSource(t, "app/services/users.py", pythonService)
	mod := declOfKind(res, ir.KindModule)
	require.NotNil(t, mod)

	imports := refsFrom(res, mod.ID, ir.RelationImports)
	user, ok := refNamed(imports, "User")
	require.True(t, ok)
	assert.Equal(t, ".models", user.Hint)
	assert.Equal(t, "UserModel", user.Alias)

	dbRef, ok := refNamed(imports, "db")
	require.True(t, ok)
	assert.Equal(t, "..core", dbRef.Hint)

	textRef, ok := refNamed(imports, "app.util.text")
	require.True(t, ok)
	assert.Equal(t, "app.util.text", textRef.Hint)
	assert.Equal(t, "text", textRef.Alias)

	_, ok = refNamed(imports, "Session")
	assert.False(t, ok)
	typeOnly := refsFrom(res, mod.ID, ir.RelationUsesType)
	session, ok := refNamed(typeOnly, "Session")
	require.True(t, ok, "imports under TYPE_CHECKING are type-only")
	assert.True(t, session.TypeOnly)
	assert.Equal(t, "app.types", session.Hint)

	exports := refsFrom(res, mod.ID, ir.RelationExports)
	require.Len(t, exports, 2)
	assert.Equal(t, "UserService", exports[0].Name)
	assert.Equal(t, "make_service", exports[1].Name)
}

func TestPython_CallsAndTypes(t *testing.T) {
	res := extractSource(t, "app/services/users.py", pythonService)

	create := declByName(res, "create")
	require.NotNil(t, create)
	calls := refsFrom(res, create.ID, ir.RelationCalls)

	validate, ok := refNamed(calls, "validate")
	require.True(t, ok)
	assert.Equal(t, "self", validate.Receiver)

	slug, ok := refNamed(calls, "slug")
	require.True(t, ok)
	assert.Equal(t, "app.util.text", slug.Hint)
	assert.Empty(t, slug.Receiver)

	save, ok := refNamed(calls, "save")
	require.True(t, ok)
	assert.Empty(t, save.Receiver)
	assert.Equal(t, "..core.db", save.Hint, "lower-case from-imports are treated as submodules")

	ctor, ok := refNamed(calls, "User")
	require.True(t, ok, "aliased import is mapped back to its original name")
	assert.Equal(t, ".models", ctor.Hint)

	helperRef, ok := refNamed(calls, "helper")
	require.True(t, ok)
	assert.Empty(t, helperRef.Hint)

	uses := refsFrom(res, create.ID, ir.RelationUsesType)
	ret, ok := refNamed(uses, "User")
	require.True(t, ok)
	assert.Equal(t, ".models", ret.Hint)
	_, ok = refNamed(uses, "str")
	assert.False(t, ok, "builtin annotations are skipped")

	build := declByName(res, "build")
	uses = refsFrom(res, build.ID, ir.RelationUsesType)
	role, ok := refNamed(uses, "Role")
	require.True(t, ok)
	assert.Equal(t, ".models", role.Hint)

	validateDecl := declByName(res, "validate")
	calls = refsFrom(res, validateDecl.ID, ir.RelationCalls)
	join, ok := refNamed(calls, "join")
	require.True(t, ok)
	assert.Equal(t, "os.path", join.Receiver)
}

func TestPython_Inheritance(t *testing.T) {
	res := extractSource(t, "app/services/users.py", pythonService)
	svc := declByName(res, "UserService")
	require.NotNil(t, svc)

	ext := refsFrom(res, svc.ID, ir.RelationExtends)
	require.Len(t, ext, 1, "keyword arguments are not base classes")
	assert.Equal(t, "BaseService", ext[0].Name)
}

func TestPython_PackageInit(t *testing.T) {
	res := extractSource(t, "app/models/__init__.py", "from .user import User\n")
	mod := declOfKind(res, ir.KindModule)
	require.NotNil(t, mod)
	assert.Equal(t, "models", mod.Name)
	assert.Equal(t, "app.models", mod.Module)
	assert.Contains(t, mod.QualifiedNames, "app.models")
	assert.Contains(t, mod.QualifiedNames, "app/models/__init__")
}
