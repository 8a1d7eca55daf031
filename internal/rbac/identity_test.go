package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orcamentos/orcamentos/internal/shared"
)

func identityWith(perms ...string) *Identity {
	ps := make([]Permission, len(perms))
	for i, p := range perms {
		ps[i] = perm(int64(i+1), p)
	}
	return NewIdentity(User{ID: 7, Name: "U", Email: "u@example.com", Status: StatusActive},
		[]Role{{ID: 1, Name: "operator", Permissions: ps}})
}

func TestCheckAllPermissionsReportsMissing(t *testing.T) {
	id := identityWith("a", "c")

	err := CheckAllPermissions(id, []string{"a", "b", "c"})

	var denied *shared.DeniedError
	require.ErrorAs(t, err, &denied)
	require.ErrorIs(t, err, shared.ErrInsufficientPermission)
	require.Equal(t, []string{"b"}, denied.Missing)
	require.Equal(t, []string{"a", "b", "c"}, denied.Required)
	require.Equal(t, []string{"a", "c"}, denied.Permissions)
}

func TestCheckAnyPermission(t *testing.T) {
	id := identityWith("a")
	require.NoError(t, CheckAnyPermission(id, []string{"x", "a"}))

	err := CheckAnyPermission(id, []string{"x", "y"})
	var denied *shared.DeniedError
	require.ErrorAs(t, err, &denied)
	require.Empty(t, denied.Missing)
	require.Equal(t, shared.MatchAny, denied.Mode)
}

func TestOperatorScenario(t *testing.T) {
	id := identityWith(shared.PermOrcamentosBrowse)

	require.NoError(t, CheckPermission(id, "orcamentos.browse"))

	err := CheckPermission(id, "users.delete")
	var denied *shared.DeniedError
	require.ErrorAs(t, err, &denied)
	require.ErrorIs(t, err, shared.ErrInsufficientPermission)
	require.Equal(t, []string{"users.delete"}, denied.Required)
	require.Equal(t, shared.MatchOne, denied.Mode)
}

func TestRoleChecks(t *testing.T) {
	id := identityWith()
	require.NoError(t, CheckRole(id, "operator"))
	require.NoError(t, CheckAnyRole(id, []string{"admin", "OPERATOR"}))

	err := CheckRole(id, "admin")
	require.ErrorIs(t, err, shared.ErrInsufficientRole)
	var denied *shared.DeniedError
	require.ErrorAs(t, err, &denied)
	require.Equal(t, []string{"operator"}, denied.Roles)
}

func TestPredicatesRequireIdentity(t *testing.T) {
	checks := []func(*Identity) error{
		func(id *Identity) error { return CheckPermission(id, "a") },
		func(id *Identity) error { return CheckAnyPermission(id, []string{"a"}) },
		func(id *Identity) error { return CheckAllPermissions(id, []string{"a"}) },
		func(id *Identity) error { return CheckRole(id, "admin") },
		func(id *Identity) error { return CheckAnyRole(id, []string{"admin"}) },
	}
	for _, check := range checks {
		err := check(nil)
		require.True(t, errors.Is(err, shared.ErrNotAuthenticated))
	}
}

func TestEmptyRequirementDeniesOneAndAnyModes(t *testing.T) {
	id := identityWith(shared.PermOrcamentosBrowse)
	denials := []error{
		CheckPermission(id, ""),
		CheckPermission(id, "  "),
		CheckAnyPermission(id, nil),
		CheckAnyPermission(id, []string{" "}),
		CheckRole(id, ""),
		CheckAnyRole(id, []string{}),
	}
	for i, err := range denials {
		var denied *shared.DeniedError
		require.True(t, errors.As(err, &denied), "check %d", i)
		require.Empty(t, denied.Required)
	}
	require.ErrorIs(t, CheckPermission(id, ""), shared.ErrInsufficientPermission)
	require.ErrorIs(t, CheckAnyRole(id, nil), shared.ErrInsufficientRole)

	require.NoError(t, CheckAllPermissions(id, nil))
	require.NoError(t, CheckAllPermissions(id, []string{" "}))
}

func TestIdentityContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	require.Nil(t, IdentityFromContext(ctx))
	require.Zero(t, ActorID(ctx))

	id := identityWith("a")
	ctx = ContextWithIdentity(ctx, id)
	require.Same(t, id, IdentityFromContext(ctx))
	require.Equal(t, int64(7), ActorID(ctx))
	require.True(t, id.HasPermission("A"))
}
