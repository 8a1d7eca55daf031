// Package rbactest provides an in-memory rbac.Repository for tests.
package rbactest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/orcamentos/orcamentos/internal/rbac"
	"github.com/orcamentos/orcamentos/internal/shared"
)

// Store is a transactional in-memory repository. Transactions run on a private copy of
// the data and are swapped in on commit, so readers never observe a partial write.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *state
	err  error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{data: newState()}
}

// SetUnavailable makes every subsequent call fail with err; nil restores the store.
func (s *Store) SetUnavailable(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// WithTx runs fn against a copy of the data and commits it when fn returns nil.
// Transactions are serialized.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, rbac.TxRepository) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.RLock()
	base, err := s.data, s.err
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	work := base.clone()
	if err := fn(ctx, work); err != nil {
		return err
	}
	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

// TouchLastLogin moves last_login forward outside any caller transaction.
func (s *Store) TouchLastLogin(ctx context.Context, userID int64, at time.Time) error {
	return s.WithTx(ctx, func(_ context.Context, tx rbac.TxRepository) error {
		st := tx.(*state)
		u, ok := st.users[userID]
		if !ok {
			return shared.ErrNotFound
		}
		at = at.UTC()
		if u.LastLogin == nil || u.LastLogin.Before(at) {
			u.LastLogin = &at
			st.users[userID] = u
		}
		return nil
	})
}

// PurgeExpiredGrants deletes grants that expired at or before asOf.
func (s *Store) PurgeExpiredGrants(ctx context.Context, asOf time.Time) (int64, error) {
	var n int64
	err := s.WithTx(ctx, func(_ context.Context, tx rbac.TxRepository) error {
		st := tx.(*state)
		st.userRoles = slices.DeleteFunc(st.userRoles, func(ur rbac.UserRole) bool {
			if ur.Active(asOf) {
				return false
			}
			n++
			return true
		})
		return nil
	})
	return n, err
}

// Grant inserts a raw user role grant, bypassing service validation. Useful for
// arranging already-expired grants.
func (s *Store) Grant(userID, roleID int64, expiresAt *time.Time) error {
	return s.WithTx(context.Background(), func(ctx context.Context, tx rbac.TxRepository) error {
		return tx.InsertUserRoles(ctx, []rbac.UserRole{{UserID: userID, RoleID: roleID, GrantedAt: time.Now().UTC(), ExpiresAt: expiresAt}})
	})
}

func read[T any](s *Store, fn func(*state) (T, error)) (T, error) {
	s.mu.RLock()
	st, err := s.data, s.err
	s.mu.RUnlock()
	if err != nil {
		var zero T
		return zero, err
	}
	return fn(st)
}

func (s *Store) GetUser(ctx context.Context, id int64) (rbac.User, error) {
	return read(s, func(st *state) (rbac.User, error) { return st.GetUser(ctx, id) })
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (rbac.User, error) {
	return read(s, func(st *state) (rbac.User, error) { return st.FindUserByEmail(ctx, email) })
}

func (s *Store) ListUsers(ctx context.Context, filter rbac.UserFilter) ([]rbac.User, int, error) {
	type page struct {
		users []rbac.User
		total int
	}
	p, err := read(s, func(st *state) (page, error) {
		users, total, err := st.ListUsers(ctx, filter)
		return page{users, total}, err
	})
	return p.users, p.total, err
}

func (s *Store) UserRoles(ctx context.Context, userID int64, asOf time.Time) ([]rbac.Role, error) {
	return read(s, func(st *state) ([]rbac.Role, error) { return st.UserRoles(ctx, userID, asOf) })
}

func (s *Store) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	return read(s, func(st *state) (rbac.Role, error) { return st.GetRole(ctx, id) })
}

func (s *Store) FindRoleByName(ctx context.Context, name string) (rbac.Role, error) {
	return read(s, func(st *state) (rbac.Role, error) { return st.FindRoleByName(ctx, name) })
}

func (s *Store) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	return read(s, func(st *state) ([]rbac.Role, error) { return st.ListRoles(ctx) })
}

func (s *Store) RoleHolderCounts(ctx context.Context) (map[int64]int, error) {
	return read(s, func(st *state) (map[int64]int, error) { return st.RoleHolderCounts(ctx) })
}

func (s *Store) CountRoleHolders(ctx context.Context, roleID int64) (int, error) {
	return read(s, func(st *state) (int, error) { return st.CountRoleHolders(ctx, roleID) })
}

func (s *Store) ExistingRoleIDs(ctx context.Context, ids []int64) ([]int64, error) {
	return read(s, func(st *state) ([]int64, error) { return st.ExistingRoleIDs(ctx, ids) })
}

func (s *Store) GetPermission(ctx context.Context, id int64) (rbac.Permission, error) {
	return read(s, func(st *state) (rbac.Permission, error) { return st.GetPermission(ctx, id) })
}

func (s *Store) FindPermissionByName(ctx context.Context, name string) (rbac.Permission, error) {
	return read(s, func(st *state) (rbac.Permission, error) { return st.FindPermissionByName(ctx, name) })
}

func (s *Store) FindPermissionByResourceAction(ctx context.Context, resource, action string) (rbac.Permission, error) {
	return read(s, func(st *state) (rbac.Permission, error) {
		return st.FindPermissionByResourceAction(ctx, resource, action)
	})
}

func (s *Store) ListPermissions(ctx context.Context, filter rbac.PermissionFilter) ([]rbac.Permission, error) {
	return read(s, func(st *state) ([]rbac.Permission, error) { return st.ListPermissions(ctx, filter) })
}

func (s *Store) CountPermissionHolders(ctx context.Context, permissionID int64) (int, error) {
	return read(s, func(st *state) (int, error) { return st.CountPermissionHolders(ctx, permissionID) })
}

func (s *Store) ExistingPermissionIDs(ctx context.Context, ids []int64) ([]int64, error) {
	return read(s, func(st *state) ([]int64, error) { return st.ExistingPermissionIDs(ctx, ids) })
}

type state struct {
	users     map[int64]rbac.User
	roles     map[int64]rbac.Role
	perms     map[int64]rbac.Permission
	userRoles []rbac.UserRole
	rolePerms []rbac.RolePermission
	nextID    int64
}

func newState() *state {
	return &state{
		users: make(map[int64]rbac.User),
		roles: make(map[int64]rbac.Role),
		perms: make(map[int64]rbac.Permission),
	}
}

func (st *state) clone() *state {
	return &state{
		users:     maps.Clone(st.users),
		roles:     maps.Clone(st.roles),
		perms:     maps.Clone(st.perms),
		userRoles: slices.Clone(st.userRoles),
		rolePerms: slices.Clone(st.rolePerms),
		nextID:    st.nextID,
	}
}

func (st *state) id() int64 {
	st.nextID++
	return st.nextID
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := slices.Collect(maps.Keys(m))
	slices.Sort(keys)
	return keys
}

func (st *state) GetUser(_ context.Context, id int64) (rbac.User, error) {
	u, ok := st.users[id]
	if !ok {
		return rbac.User{}, shared.ErrNotFound
	}
	return u, nil
}

func (st *state) FindUserByEmail(_ context.Context, email string) (rbac.User, error) {
	email = rbac.NormalizeEmail(email)
	for _, id := range sortedKeys(st.users) {
		if st.users[id].Email == email {
			return st.users[id], nil
		}
	}
	return rbac.User{}, shared.ErrNotFound
}

func (st *state) ListUsers(_ context.Context, filter rbac.UserFilter) ([]rbac.User, int, error) {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	matched := make([]rbac.User, 0)
	for _, id := range sortedKeys(st.users) {
		u := st.users[id]
		if search != "" && !strings.Contains(strings.ToLower(u.Name), search) && !strings.Contains(strings.ToLower(u.Email), search) {
			continue
		}
		if filter.Status != "" && u.Status != filter.Status {
			continue
		}
		matched = append(matched, u)
	}
	total := len(matched)
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	start := min(filter.Offset, total)
	end := min(start+limit, total)
	return matched[start:end], total, nil
}

func (st *state) withPermissions(r rbac.Role) rbac.Role {
	perms := make([]rbac.Permission, 0)
	for _, rp := range st.rolePerms {
		if rp.RoleID == r.ID {
			perms = append(perms, st.perms[rp.PermissionID])
		}
	}
	sort.SliceStable(perms, func(i, j int) bool {
		if perms[i].Order != perms[j].Order {
			return perms[i].Order < perms[j].Order
		}
		return perms[i].ID < perms[j].ID
	})
	r.Permissions = nil
	if len(perms) > 0 {
		r.Permissions = perms
	}
	return r
}

func (st *state) UserRoles(_ context.Context, userID int64, asOf time.Time) ([]rbac.Role, error) {
	grants := make([]rbac.UserRole, 0)
	for _, ur := range st.userRoles {
		if ur.UserID == userID && ur.Active(asOf) {
			grants = append(grants, ur)
		}
	}
	sort.SliceStable(grants, func(i, j int) bool { return grants[i].GrantedAt.Before(grants[j].GrantedAt) })
	roles := make([]rbac.Role, 0, len(grants))
	for _, g := range grants {
		roles = append(roles, st.withPermissions(st.roles[g.RoleID]))
	}
	return roles, nil
}

func (st *state) GetRole(_ context.Context, id int64) (rbac.Role, error) {
	r, ok := st.roles[id]
	if !ok {
		return rbac.Role{}, shared.ErrNotFound
	}
	return st.withPermissions(r), nil
}

func (st *state) FindRoleByName(_ context.Context, name string) (rbac.Role, error) {
	name = rbac.NormalizeName(name)
	for _, id := range sortedKeys(st.roles) {
		if st.roles[id].Name == name {
			return st.withPermissions(st.roles[id]), nil
		}
	}
	return rbac.Role{}, shared.ErrNotFound
}

func (st *state) ListRoles(_ context.Context) ([]rbac.Role, error) {
	roles := make([]rbac.Role, 0, len(st.roles))
	for _, id := range sortedKeys(st.roles) {
		roles = append(roles, st.withPermissions(st.roles[id]))
	}
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i].IsSystem != roles[j].IsSystem {
			return roles[i].IsSystem
		}
		return roles[i].Name < roles[j].Name
	})
	return roles, nil
}

func (st *state) RoleHolderCounts(_ context.Context) (map[int64]int, error) {
	counts := make(map[int64]int)
	for _, ur := range st.userRoles {
		counts[ur.RoleID]++
	}
	return counts, nil
}

func (st *state) CountRoleHolders(_ context.Context, roleID int64) (int, error) {
	n := 0
	for _, ur := range st.userRoles {
		if ur.RoleID == roleID {
			n++
		}
	}
	return n, nil
}

func (st *state) ExistingRoleIDs(_ context.Context, ids []int64) ([]int64, error) {
	var out []int64
	for _, id := range ids {
		if _, ok := st.roles[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (st *state) GetPermission(_ context.Context, id int64) (rbac.Permission, error) {
	p, ok := st.perms[id]
	if !ok {
		return rbac.Permission{}, shared.ErrNotFound
	}
	return p, nil
}

func (st *state) FindPermissionByName(_ context.Context, name string) (rbac.Permission, error) {
	name = rbac.NormalizeName(name)
	for _, id := range sortedKeys(st.perms) {
		if st.perms[id].Name == name {
			return st.perms[id], nil
		}
	}
	return rbac.Permission{}, shared.ErrNotFound
}

func (st *state) FindPermissionByResourceAction(_ context.Context, resource, action string) (rbac.Permission, error) {
	resource, action = rbac.NormalizeName(resource), rbac.NormalizeName(action)
	for _, id := range sortedKeys(st.perms) {
		if p := st.perms[id]; p.Resource == resource && p.Action == action {
			return p, nil
		}
	}
	return rbac.Permission{}, shared.ErrNotFound
}

func (st *state) ListPermissions(_ context.Context, filter rbac.PermissionFilter) ([]rbac.Permission, error) {
	perms := make([]rbac.Permission, 0, len(st.perms))
	for _, id := range sortedKeys(st.perms) {
		p := st.perms[id]
		if filter.Group != "" && p.Group != filter.Group {
			continue
		}
		if filter.Resource != "" && p.Resource != rbac.NormalizeName(filter.Resource) {
			continue
		}
		perms = append(perms, p)
	}
	sort.SliceStable(perms, func(i, j int) bool {
		if perms[i].Group != perms[j].Group {
			return perms[i].Group < perms[j].Group
		}
		return perms[i].Order < perms[j].Order
	})
	return perms, nil
}

func (st *state) CountPermissionHolders(_ context.Context, permissionID int64) (int, error) {
	n := 0
	for _, rp := range st.rolePerms {
		if rp.PermissionID == permissionID {
			n++
		}
	}
	return n, nil
}

func (st *state) ExistingPermissionIDs(_ context.Context, ids []int64) ([]int64, error) {
	var out []int64
	for _, id := range ids {
		if _, ok := st.perms[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (st *state) InsertUser(_ context.Context, u rbac.User) (rbac.User, error) {
	u.Email = rbac.NormalizeEmail(u.Email)
	for _, existing := range st.users {
		if existing.Email == u.Email {
			return rbac.User{}, fmt.Errorf("%w: users.email", shared.ErrDuplicate)
		}
	}
	now := time.Now().UTC()
	u.ID = st.id()
	u.CreatedAt, u.UpdatedAt = now, now
	u.Roles = nil
	st.users[u.ID] = u
	return u, nil
}

func (st *state) UpdateUser(_ context.Context, u rbac.User) (rbac.User, error) {
	current, ok := st.users[u.ID]
	if !ok {
		return rbac.User{}, shared.ErrNotFound
	}
	email := rbac.NormalizeEmail(u.Email)
	for id, existing := range st.users {
		if id != u.ID && existing.Email == email {
			return rbac.User{}, fmt.Errorf("%w: users.email", shared.ErrDuplicate)
		}
	}
	current.Name, current.Email, current.Status = u.Name, email, u.Status
	current.UpdatedAt = time.Now().UTC()
	st.users[u.ID] = current
	return current, nil
}

func (st *state) UpdatePassword(_ context.Context, userID int64, hash string) error {
	u, ok := st.users[userID]
	if !ok {
		return shared.ErrNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now().UTC()
	st.users[userID] = u
	return nil
}

func (st *state) DeleteUser(_ context.Context, id int64) error {
	if _, ok := st.users[id]; !ok {
		return shared.ErrNotFound
	}
	delete(st.users, id)
	st.userRoles = slices.DeleteFunc(st.userRoles, func(ur rbac.UserRole) bool { return ur.UserID == id })
	for i := range st.userRoles {
		if g := st.userRoles[i].GrantedBy; g != nil && *g == id {
			st.userRoles[i].GrantedBy = nil
		}
	}
	for i := range st.rolePerms {
		if g := st.rolePerms[i].GrantedBy; g != nil && *g == id {
			st.rolePerms[i].GrantedBy = nil
		}
	}
	return nil
}

func (st *state) LockUser(_ context.Context, id int64) error {
	if _, ok := st.users[id]; !ok {
		return shared.ErrNotFound
	}
	return nil
}

func (st *state) DeleteUserRoles(_ context.Context, userID int64) error {
	st.userRoles = slices.DeleteFunc(st.userRoles, func(ur rbac.UserRole) bool { return ur.UserID == userID })
	return nil
}

func (st *state) InsertUserRoles(_ context.Context, grants []rbac.UserRole) error {
	for _, g := range grants {
		if _, ok := st.users[g.UserID]; !ok {
			return fmt.Errorf("%w: user %d", shared.ErrUnknownReference, g.UserID)
		}
		if _, ok := st.roles[g.RoleID]; !ok {
			return fmt.Errorf("%w: role %d", shared.ErrUnknownReference, g.RoleID)
		}
		for _, ur := range st.userRoles {
			if ur.UserID == g.UserID && ur.RoleID == g.RoleID {
				return fmt.Errorf("%w: user_roles", shared.ErrDuplicate)
			}
		}
		st.userRoles = append(st.userRoles, g)
	}
	return nil
}

func (st *state) InsertRole(_ context.Context, r rbac.Role) (rbac.Role, error) {
	for _, existing := range st.roles {
		if existing.Name == r.Name {
			return rbac.Role{}, fmt.Errorf("%w: roles.name", shared.ErrDuplicate)
		}
	}
	now := time.Now().UTC()
	r.ID = st.id()
	r.CreatedAt, r.UpdatedAt = now, now
	r.Permissions = nil
	st.roles[r.ID] = r
	return r, nil
}

func (st *state) UpdateRole(_ context.Context, r rbac.Role) (rbac.Role, error) {
	current, ok := st.roles[r.ID]
	if !ok {
		return rbac.Role{}, shared.ErrNotFound
	}
	for id, existing := range st.roles {
		if id != r.ID && existing.Name == r.Name {
			return rbac.Role{}, fmt.Errorf("%w: roles.name", shared.ErrDuplicate)
		}
	}
	current.Name, current.DisplayName, current.Color, current.Description = r.Name, r.DisplayName, r.Color, r.Description
	current.UpdatedAt = time.Now().UTC()
	st.roles[r.ID] = current
	return st.withPermissions(current), nil
}

func (st *state) DeleteRole(_ context.Context, id int64) error {
	if _, ok := st.roles[id]; !ok {
		return shared.ErrNotFound
	}
	delete(st.roles, id)
	st.rolePerms = slices.DeleteFunc(st.rolePerms, func(rp rbac.RolePermission) bool { return rp.RoleID == id })
	st.userRoles = slices.DeleteFunc(st.userRoles, func(ur rbac.UserRole) bool { return ur.RoleID == id })
	return nil
}

func (st *state) LockRole(_ context.Context, id int64) error {
	if _, ok := st.roles[id]; !ok {
		return shared.ErrNotFound
	}
	return nil
}

func (st *state) DeleteRolePermissions(_ context.Context, roleID int64) error {
	st.rolePerms = slices.DeleteFunc(st.rolePerms, func(rp rbac.RolePermission) bool { return rp.RoleID == roleID })
	return nil
}

func (st *state) InsertRolePermissions(_ context.Context, grants []rbac.RolePermission) error {
	for _, g := range grants {
		if _, ok := st.roles[g.RoleID]; !ok {
			return fmt.Errorf("%w: role %d", shared.ErrUnknownReference, g.RoleID)
		}
		if _, ok := st.perms[g.PermissionID]; !ok {
			return fmt.Errorf("%w: permission %d", shared.ErrUnknownReference, g.PermissionID)
		}
		for _, rp := range st.rolePerms {
			if rp.RoleID == g.RoleID && rp.PermissionID == g.PermissionID {
				return fmt.Errorf("%w: role_permissions", shared.ErrDuplicate)
			}
		}
		st.rolePerms = append(st.rolePerms, g)
	}
	return nil
}

func (st *state) permissionConflict(p rbac.Permission) bool {
	for id, existing := range st.perms {
		if id == p.ID {
			continue
		}
		if existing.Name == p.Name || (existing.Resource == p.Resource && existing.Action == p.Action) {
			return true
		}
	}
	return false
}

func (st *state) InsertPermission(_ context.Context, p rbac.Permission) (rbac.Permission, error) {
	p.ID = 0
	if st.permissionConflict(p) {
		return rbac.Permission{}, fmt.Errorf("%w: permissions", shared.ErrDuplicate)
	}
	now := time.Now().UTC()
	p.ID = st.id()
	p.CreatedAt, p.UpdatedAt = now, now
	st.perms[p.ID] = p
	return p, nil
}

func (st *state) UpdatePermission(_ context.Context, p rbac.Permission) (rbac.Permission, error) {
	current, ok := st.perms[p.ID]
	if !ok {
		return rbac.Permission{}, shared.ErrNotFound
	}
	if st.permissionConflict(p) {
		return rbac.Permission{}, fmt.Errorf("%w: permissions", shared.ErrDuplicate)
	}
	p.IsSystem = current.IsSystem
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	st.perms[p.ID] = p
	return p, nil
}

func (st *state) DeletePermission(_ context.Context, id int64) error {
	if _, ok := st.perms[id]; !ok {
		return shared.ErrNotFound
	}
	delete(st.perms, id)
	st.rolePerms = slices.DeleteFunc(st.rolePerms, func(rp rbac.RolePermission) bool { return rp.PermissionID == id })
	return nil
}

var (
	_ rbac.Repository   = (*Store)(nil)
	_ rbac.TxRepository = (*state)(nil)
)
