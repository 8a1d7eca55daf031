package rbac

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func perm(id int64, name string) Permission {
	return Permission{ID: id, Name: name}
}

func TestCompilePermissionsDedupesAcrossRoles(t *testing.T) {
	shared := perm(1, "orcamentos.browse")
	roles := []Role{
		{Name: "a", Permissions: []Permission{shared, perm(2, "clientes.read")}},
		{Name: "b", Permissions: []Permission{perm(3, "users.browse"), shared}},
	}

	compiled := CompilePermissions(roles)

	require.Equal(t, []string{"orcamentos.browse", "clientes.read", "users.browse"}, PermissionNames(compiled))
}

func TestCompilePermissionsIsIdempotent(t *testing.T) {
	roles := []Role{
		{Name: "a", Permissions: []Permission{perm(1, "p"), perm(2, "q")}},
		{Name: "b", Permissions: []Permission{perm(2, "q"), perm(1, "p")}},
	}
	first := CompilePermissions(roles)
	second := CompilePermissions(append(roles, Role{Name: "c", Permissions: first}))
	require.Equal(t, first, second)
}

func TestCompilePermissionsFollowsRoleOrder(t *testing.T) {
	a := Role{Name: "a", Permissions: []Permission{perm(1, "x")}}
	b := Role{Name: "b", Permissions: []Permission{perm(2, "y"), perm(1, "x")}}

	require.Equal(t, []string{"x", "y"}, PermissionNames(CompilePermissions([]Role{a, b})))
	require.Equal(t, []string{"y", "x"}, PermissionNames(CompilePermissions([]Role{b, a})))
}

func TestCompilePermissionsEmpty(t *testing.T) {
	compiled := CompilePermissions(nil)
	require.NotNil(t, compiled)
	require.Empty(t, compiled)
}

func TestGroupPermissionsKeepsFirstSeenOrder(t *testing.T) {
	perms := []Permission{
		{Name: "users.browse", Group: "Usuários"},
		{Name: "roles.browse", Group: "Perfis"},
		{Name: "users.read", Group: "Usuários"},
	}
	groups := GroupPermissions(perms)
	require.Len(t, groups, 2)
	require.Equal(t, "Usuários", groups[0].Group)
	require.Equal(t, []string{"users.browse", "users.read"}, PermissionNames(groups[0].Permissions))
	require.Equal(t, "Perfis", groups[1].Group)
}
