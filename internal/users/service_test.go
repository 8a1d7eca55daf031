package users_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orcamentos/orcamentos/internal/auth"
	"github.com/orcamentos/orcamentos/internal/rbac"
	"github.com/orcamentos/orcamentos/internal/rbac/rbactest"
	"github.com/orcamentos/orcamentos/internal/shared"
	"github.com/orcamentos/orcamentos/internal/users"
)

type auditTrail struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *auditTrail) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	a.logs = append(a.logs, log)
	a.mu.Unlock()
	return nil
}

type fixture struct {
	store     *rbactest.Store
	rbac      *rbac.Service
	svc       *users.Service
	audit     *auditTrail
	admin     rbac.User
	operator  rbac.Role
	adminRole rbac.Role
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := rbactest.NewStore()
	rbacSvc := rbac.NewService(store, nil, nil)
	_, err := rbacSvc.Bootstrap(ctx, rbac.DefaultSeedPlan())
	require.NoError(t, err)
	admin, err := store.AddUser("admin@example.com", "x", shared.RoleAdmin)
	require.NoError(t, err)
	operator, err := store.FindRoleByName(ctx, shared.RoleOperator)
	require.NoError(t, err)
	adminRole, err := store.FindRoleByName(ctx, shared.RoleAdmin)
	require.NoError(t, err)
	trail := &auditTrail{}
	return fixture{
		store:     store,
		rbac:      rbacSvc,
		svc:       users.NewService(store, trail, nil),
		audit:     trail,
		admin:     admin,
		operator:  operator,
		adminRole: adminRole,
	}
}

func (f fixture) create(t *testing.T, email string, roleIDs ...int64) rbac.User {
	t.Helper()
	u, err := f.svc.Create(context.Background(), f.admin.ID, users.CreateInput{
		Name:     "Fulano",
		Email:    email,
		Password: "senha123",
		RoleIDs:  roleIDs,
	})
	require.NoError(t, err)
	return u
}

func TestCreateUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := f.create(t, "  Maria@Example.COM ", f.operator.ID)
	require.Equal(t, "maria@example.com", u.Email)
	require.Equal(t, rbac.StatusActive, u.Status)
	require.Len(t, u.Roles, 1)
	require.Equal(t, shared.RoleOperator, u.Roles[0].Name)

	stored, err := f.store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, auth.CheckPassword(stored.PasswordHash, "senha123"))

	id, err := f.rbac.LoadIdentity(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, id.HasPermission(shared.PermOrcamentosAdd))

	_, err = f.svc.Create(ctx, f.admin.ID, users.CreateInput{Name: "x", Email: "maria@example.com", Password: "senha123"})
	require.ErrorIs(t, err, shared.ErrDuplicate)

	require.Len(t, f.audit.logs, 1)
	require.Equal(t, shared.AuditCreate, f.audit.logs[0].Action)
	require.Equal(t, f.admin.ID, f.audit.logs[0].ActorID)
}

func TestCreateUserIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.admin.ID, users.CreateInput{
		Name: "x", Email: "ghost@example.com", Password: "senha123",
		RoleIDs: []int64{f.operator.ID, 999999},
	})
	var ref *shared.ReferenceError
	require.ErrorAs(t, err, &ref)
	require.Equal(t, []int64{999999}, ref.IDs)

	past := time.Now().Add(-time.Hour)
	_, err = f.svc.Create(ctx, f.admin.ID, users.CreateInput{
		Name: "x", Email: "ghost@example.com", Password: "senha123",
		RoleIDs: []int64{f.operator.ID}, RoleExpiresAt: &past,
	})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "role_expires_at")

	_, err = f.store.FindUserByEmail(ctx, "ghost@example.com")
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, f.audit.logs)
}

func TestCreateUserRejectsWeakPassword(t *testing.T) {
	f := newFixture(t)

	for _, pw := range []string{"curta1", "semdigitos", "12345678"} {
		_, err := f.svc.Create(context.Background(), f.admin.ID, users.CreateInput{Name: "x", Email: "w@example.com", Password: pw})
		require.ErrorIs(t, err, shared.ErrValidation, pw)
	}
	_, err := f.svc.Create(context.Background(), f.admin.ID, users.CreateInput{Name: "x", Email: "w@example.com", Password: "senha123", Status: "banned"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.create(t, "joao@example.com", f.operator.ID)

	name := "João Silva"
	pw := "outraSenha9"
	expires := time.Now().Add(24 * time.Hour)
	updated, err := f.svc.Update(ctx, f.admin.ID, u.ID, users.UpdateInput{
		Name:          &name,
		Password:      &pw,
		RoleIDs:       []int64{f.adminRole.ID},
		RoleExpiresAt: &expires,
	})
	require.NoError(t, err)
	require.Equal(t, name, updated.Name)
	require.Len(t, updated.Roles, 1)
	require.Equal(t, shared.RoleAdmin, updated.Roles[0].Name)

	stored, err := f.store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, auth.CheckPassword(stored.PasswordHash, pw))

	updated, err = f.svc.Update(ctx, f.admin.ID, u.ID, users.UpdateInput{RoleIDs: []int64{}})
	require.NoError(t, err)
	require.Empty(t, updated.Roles)

	suspended := rbac.StatusSuspended
	_, err = f.svc.Update(ctx, f.admin.ID, u.ID, users.UpdateInput{Status: &suspended})
	require.NoError(t, err)
	_, err = f.rbac.LoadIdentity(ctx, u.ID)
	require.ErrorIs(t, err, shared.ErrUserInactive)
}

func TestUpdateUserCannotGrantBeyondActorAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	edit, err := f.store.FindPermissionByName(ctx, shared.PermUsersEdit)
	require.NoError(t, err)
	supervisor, err := f.rbac.CreateRole(ctx, 0, rbac.RoleInput{Name: "supervisor", PermissionIDs: []int64{edit.ID}})
	require.NoError(t, err)
	actor, err := f.store.AddUser("sup@example.com", "x", supervisor.Name)
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, actor.ID, actor.ID, users.UpdateInput{RoleIDs: []int64{supervisor.ID, f.adminRole.ID}})
	require.ErrorIs(t, err, shared.ErrPrivilegeEscalation)
	identity, err := f.rbac.LoadIdentity(ctx, actor.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"supervisor"}, identity.RoleNames())

	_, err = f.svc.Create(ctx, actor.ID, users.CreateInput{Name: "x", Email: "novo@example.com", Password: "senha123", RoleIDs: []int64{f.operator.ID}})
	require.ErrorIs(t, err, shared.ErrPrivilegeEscalation)
	_, err = f.store.FindUserByEmail(ctx, "novo@example.com")
	require.ErrorIs(t, err, shared.ErrNotFound)

	target := f.create(t, "alvo@example.com")
	updated, err := f.svc.Update(ctx, actor.ID, target.ID, users.UpdateInput{RoleIDs: []int64{supervisor.ID}})
	require.NoError(t, err)
	require.Len(t, updated.Roles, 1)
}

func TestUpdateUserConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.create(t, "a@example.com")

	taken := "ADMIN@example.com"
	_, err := f.svc.Update(ctx, f.admin.ID, u.ID, users.UpdateInput{Email: &taken})
	require.ErrorIs(t, err, shared.ErrDuplicate)

	same := "A@Example.com"
	_, err = f.svc.Update(ctx, f.admin.ID, u.ID, users.UpdateInput{Email: &same})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, f.admin.ID, 424242, users.UpdateInput{Email: &same})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeleteUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.create(t, "gone@example.com", f.operator.ID)
	before, err := f.store.CountRoleHolders(ctx, f.operator.ID)
	require.NoError(t, err)

	err = f.svc.Delete(ctx, f.admin.ID, f.admin.ID)
	require.True(t, errors.Is(err, shared.ErrSelfDelete))

	require.NoError(t, f.svc.Delete(ctx, f.admin.ID, u.ID))
	_, err = f.store.GetUser(ctx, u.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	after, err := f.store.CountRoleHolders(ctx, f.operator.ID)
	require.NoError(t, err)
	require.Equal(t, before-1, after)

	require.ErrorIs(t, f.svc.Delete(ctx, f.admin.ID, u.ID), shared.ErrNotFound)
}

func TestListUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "ana@example.com")
	f.create(t, "bruno@example.com")
	inactive := f.create(t, "carla@example.com")
	status := rbac.StatusInactive
	_, err := f.svc.Update(ctx, f.admin.ID, inactive.ID, users.UpdateInput{Status: &status})
	require.NoError(t, err)

	page, err := f.svc.List(ctx, users.ListParams{Page: 1, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, page.Users, 2)
	require.Equal(t, shared.Pagination{Page: 1, PerPage: 2, Total: 4, TotalPages: 2}, page.Pagination)

	page, err = f.svc.List(ctx, users.ListParams{Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, page.Users, 2)

	page, err = f.svc.List(ctx, users.ListParams{Search: "BRUNO"})
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	require.Equal(t, "bruno@example.com", page.Users[0].Email)

	page, err = f.svc.List(ctx, users.ListParams{Status: rbac.StatusInactive})
	require.NoError(t, err)
	require.Len(t, page.Users, 1)

	_, err = f.svc.List(ctx, users.ListParams{Status: "banned"})
	require.ErrorIs(t, err, shared.ErrValidation)
}
