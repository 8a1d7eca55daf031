package rbac

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orcamentos/orcamentos/internal/shared"
)

// Auditor records membership mutations.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the membership mutator and identity loader on top of a Repository.
type Service struct {
	repo   Repository
	audit  Auditor
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service. audit may be nil.
func NewService(repo Repository, audit Auditor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

var machineName = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// RoleSummary is a role with assignment counts.
type RoleSummary struct {
	Role
	PermissionCount int `json:"permission_count"`
	UserCount       int `json:"user_count"`
}

// RoleInput creates a role. A nil PermissionIDs leaves the role without permissions.
type RoleInput struct {
	Name          string
	DisplayName   string
	Color         string
	Description   string
	PermissionIDs []int64
}

// RoleUpdate changes a role; nil fields are left untouched. A non-nil PermissionIDs
// replaces the role's permission set.
type RoleUpdate struct {
	Name          *string
	DisplayName   *string
	Color         *string
	Description   *string
	PermissionIDs []int64
}

// PermissionInput creates a permission. Name defaults to resource.action and Group to the resource.
type PermissionInput struct {
	Name        string
	Resource    string
	Action      string
	Group       string
	Description string
	Order       int
}

// PermissionUpdate changes a permission; nil fields are left untouched.
type PermissionUpdate struct {
	Name        *string
	Resource    *string
	Action      *string
	Group       *string
	Description *string
	Order       *int
}

// LoadIdentity hydrates the caller for an authenticated request. Expired role grants are
// ignored.
func (s *Service) LoadIdentity(ctx context.Context, userID int64) (*Identity, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrUserNotFound
		}
		return nil, err
	}
	if user.Status != StatusActive {
		return nil, shared.ErrUserInactive
	}
	roles, err := s.repo.UserRoles(ctx, user.ID, s.now())
	if err != nil {
		return nil, err
	}
	return NewIdentity(user, roles), nil
}

// TouchLastLogin stamps the user's last activity.
func (s *Service) TouchLastLogin(ctx context.Context, userID int64, at time.Time) error {
	return s.repo.TouchLastLogin(ctx, userID, at)
}

// PurgeExpiredGrants removes role grants whose expiry has passed. Expired grants are
// already ignored on read; this only reclaims the rows.
func (s *Service) PurgeExpiredGrants(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeExpiredGrants(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("purged expired role grants", slog.Int64("count", n))
	}
	return n, nil
}

// ListRoles returns every role with permission and holder counts.
func (s *Service) ListRoles(ctx context.Context) ([]RoleSummary, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.RoleHolderCounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RoleSummary, 0, len(roles))
	for _, r := range roles {
		out = append(out, RoleSummary{Role: r, PermissionCount: len(r.Permissions), UserCount: counts[r.ID]})
	}
	return out, nil
}

// GetRole returns a role with its permissions and holder count.
func (s *Service) GetRole(ctx context.Context, id int64) (RoleSummary, error) {
	var (
		role  Role
		count int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		role, err = s.repo.GetRole(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		count, err = s.repo.CountRoleHolders(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return RoleSummary{}, err
	}
	return RoleSummary{Role: role, PermissionCount: len(role.Permissions), UserCount: count}, nil
}

// CreateRole inserts a non-system role, optionally with an initial permission set.
func (s *Service) CreateRole(ctx context.Context, actorID int64, in RoleInput) (Role, error) {
	name := NormalizeName(in.Name)
	if err := validateMachineName("name", name); err != nil {
		return Role{}, err
	}
	var created Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := ensureRoleNameFree(ctx, tx, name, 0); err != nil {
			return err
		}
		displayName := strings.TrimSpace(in.DisplayName)
		if displayName == "" {
			displayName = in.Name
		}
		role, err := tx.InsertRole(ctx, Role{
			Name:        name,
			DisplayName: displayName,
			Color:       strings.TrimSpace(in.Color),
			Description: strings.TrimSpace(in.Description),
			IsSystem:    false,
		})
		if err != nil {
			return err
		}
		if in.PermissionIDs != nil {
			if err := ReplaceRolePermissionsTx(ctx, tx, role.ID, in.PermissionIDs, actorID, s.now()); err != nil {
				return err
			}
		}
		created, err = tx.GetRole(ctx, role.ID)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actorID, shared.AuditCreate, "role", created.ID, map[string]any{"name": created.Name})
	return created, nil
}

// UpdateRole updates a role. The machine name of a system role cannot change.
func (s *Service) UpdateRole(ctx context.Context, actorID, id int64, in RoleUpdate) (Role, error) {
	var updated Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockRole(ctx, id); err != nil {
			return err
		}
		current, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		next := current
		if in.Name != nil {
			name := NormalizeName(*in.Name)
			if name != current.Name {
				if current.IsSystem {
					return shared.ErrSystemProtected
				}
				if err := validateMachineName("name", name); err != nil {
					return err
				}
				if err := ensureRoleNameFree(ctx, tx, name, id); err != nil {
					return err
				}
				next.Name = name
			}
		}
		if in.DisplayName != nil {
			next.DisplayName = strings.TrimSpace(*in.DisplayName)
		}
		if in.Color != nil {
			next.Color = strings.TrimSpace(*in.Color)
		}
		if in.Description != nil {
			next.Description = strings.TrimSpace(*in.Description)
		}
		if _, err := tx.UpdateRole(ctx, next); err != nil {
			return err
		}
		if in.PermissionIDs != nil {
			if err := ReplaceRolePermissionsTx(ctx, tx, id, in.PermissionIDs, actorID, s.now()); err != nil {
				return err
			}
		}
		updated, err = tx.GetRole(ctx, id)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actorID, shared.AuditUpdate, "role", id, map[string]any{"name": updated.Name})
	return updated, nil
}

// DeleteRole removes a role that is neither a system role nor held by any user.
func (s *Service) DeleteRole(ctx context.Context, actorID, id int64) error {
	var name string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockRole(ctx, id); err != nil {
			return err
		}
		role, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if role.IsSystem {
			return shared.ErrSystemProtected
		}
		holders, err := tx.CountRoleHolders(ctx, id)
		if err != nil {
			return err
		}
		if holders > 0 {
			return &shared.InUseError{Entity: "role", Count: holders}
		}
		name = role.Name
		return tx.DeleteRole(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditDelete, "role", id, map[string]any{"name": name})
	return nil
}

// ReplaceRolePermissions swaps the role's permission set for permissionIDs in one transaction.
func (s *Service) ReplaceRolePermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) (Role, error) {
	var role Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockRole(ctx, roleID); err != nil {
			return err
		}
		if err := ReplaceRolePermissionsTx(ctx, tx, roleID, permissionIDs, actorID, s.now()); err != nil {
			return err
		}
		var err error
		role, err = tx.GetRole(ctx, roleID)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actorID, shared.AuditReplacePerms, "role", roleID, map[string]any{"permission_ids": dedupeIDs(permissionIDs)})
	return role, nil
}

// ReplaceUserRoles swaps the user's role grants for assignments in one transaction.
func (s *Service) ReplaceUserRoles(ctx context.Context, actorID, userID int64, assignments []RoleAssignment) ([]Role, error) {
	var roles []Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		now := s.now()
		if err := ReplaceUserRolesTx(ctx, tx, userID, assignments, actorID, now); err != nil {
			return err
		}
		var err error
		roles, err = tx.UserRoles(ctx, userID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(assignments))
	for _, a := range assignments {
		ids = append(ids, a.RoleID)
	}
	s.record(ctx, actorID, shared.AuditReplaceRoles, "user", userID, map[string]any{"role_ids": dedupeIDs(ids)})
	return roles, nil
}

// ReplaceRolePermissionsTx validates permissionIDs, then deletes and re-inserts the role's
// grants inside tx. Unknown ids fail before anything is written.
func ReplaceRolePermissionsTx(ctx context.Context, tx TxRepository, roleID int64, permissionIDs []int64, actorID int64, now time.Time) error {
	ids := dedupeIDs(permissionIDs)
	existing, err := tx.ExistingPermissionIDs(ctx, ids)
	if err != nil {
		return err
	}
	if missing := missingIDs(ids, existing); len(missing) > 0 {
		return &shared.ReferenceError{Entity: "permission", IDs: missing}
	}
	scope, err := grantScope(ctx, tx, actorID, now)
	if err != nil {
		return err
	}
	if !scope.unrestricted {
		current, err := tx.GetRole(ctx, roleID)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		onRole := make(map[int64]struct{}, len(current.Permissions))
		for _, p := range current.Permissions {
			onRole[p.ID] = struct{}{}
		}
		var added []Permission
		for _, id := range ids {
			if _, ok := onRole[id]; ok {
				continue
			}
			p, err := tx.GetPermission(ctx, id)
			if err != nil {
				return err
			}
			added = append(added, p)
		}
		if err := scope.check(added, nil); err != nil {
			return err
		}
	}
	if err := tx.DeleteRolePermissions(ctx, roleID); err != nil {
		return err
	}
	grants := make([]RolePermission, 0, len(ids))
	for _, id := range ids {
		grants = append(grants, RolePermission{RoleID: roleID, PermissionID: id, GrantedBy: grantor(actorID), GrantedAt: now})
	}
	return tx.InsertRolePermissions(ctx, grants)
}

// ReplaceUserRolesTx validates assignments, then deletes and re-inserts the user's grants
// inside tx. Duplicate role ids keep the first assignment.
func ReplaceUserRolesTx(ctx context.Context, tx TxRepository, userID int64, assignments []RoleAssignment, actorID int64, now time.Time) error {
	seen := make(map[int64]struct{}, len(assignments))
	unique := make([]RoleAssignment, 0, len(assignments))
	ids := make([]int64, 0, len(assignments))
	for _, a := range assignments {
		if _, ok := seen[a.RoleID]; ok {
			continue
		}
		if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
			return shared.NewValidationError("role_expires_at", "data de expiração deve estar no futuro")
		}
		seen[a.RoleID] = struct{}{}
		unique = append(unique, a)
		ids = append(ids, a.RoleID)
	}
	existing, err := tx.ExistingRoleIDs(ctx, ids)
	if err != nil {
		return err
	}
	if missing := missingIDs(ids, existing); len(missing) > 0 {
		return &shared.ReferenceError{Entity: "role", IDs: missing}
	}
	scope, err := grantScope(ctx, tx, actorID, now)
	if err != nil {
		return err
	}
	if !scope.unrestricted {
		held, err := tx.UserRoles(ctx, userID, now)
		if err != nil {
			return err
		}
		inForce := make(map[int64]struct{}, len(held))
		for _, r := range held {
			inForce[r.ID] = struct{}{}
		}
		var perms []Permission
		var roles []string
		for _, id := range ids {
			if _, ok := inForce[id]; ok {
				continue
			}
			r, err := tx.GetRole(ctx, id)
			if err != nil {
				return err
			}
			if r.Name == shared.RoleAdmin {
				roles = append(roles, r.Name)
			}
			perms = append(perms, r.Permissions...)
		}
		if err := scope.check(perms, roles); err != nil {
			return err
		}
	}
	if err := tx.DeleteUserRoles(ctx, userID); err != nil {
		return err
	}
	grants := make([]UserRole, 0, len(unique))
	for _, a := range unique {
		grants = append(grants, UserRole{UserID: userID, RoleID: a.RoleID, GrantedBy: grantor(actorID), GrantedAt: now, ExpiresAt: a.ExpiresAt})
	}
	return tx.InsertUserRoles(ctx, grants)
}

// actorScope is what an acting user may hand out: the permissions their own roles grant.
// Admins and the system actor are unrestricted.
type actorScope struct {
	unrestricted bool
	held         map[int64]struct{}
	names        []string
}

func grantScope(ctx context.Context, tx TxRepository, actorID int64, now time.Time) (actorScope, error) {
	if actorID <= 0 {
		return actorScope{unrestricted: true}, nil
	}
	roles, err := tx.UserRoles(ctx, actorID, now)
	if err != nil {
		return actorScope{}, err
	}
	for _, r := range roles {
		if r.Name == shared.RoleAdmin {
			return actorScope{unrestricted: true}, nil
		}
	}
	compiled := CompilePermissions(roles)
	scope := actorScope{held: make(map[int64]struct{}, len(compiled)), names: make([]string, 0, len(compiled))}
	for _, p := range compiled {
		scope.held[p.ID] = struct{}{}
		scope.names = append(scope.names, p.Name)
	}
	return scope, nil
}

// check rejects newly granted permissions the actor lacks. The admin role is reserved to
// admins even for an actor holding every permission, so adminRoles counts as missing.
func (a actorScope) check(granted []Permission, adminRoles []string) error {
	if a.unrestricted {
		return nil
	}
	seen := make(map[string]struct{}, len(granted))
	required := make([]string, 0, len(granted)+len(adminRoles))
	missing := make([]string, 0)
	for _, name := range adminRoles {
		required = append(required, name)
		missing = append(missing, name)
	}
	for _, p := range granted {
		if _, ok := seen[p.Name]; ok {
			continue
		}
		seen[p.Name] = struct{}{}
		required = append(required, p.Name)
		if _, ok := a.held[p.ID]; !ok {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &shared.DeniedError{
		Reason:      shared.ErrPrivilegeEscalation,
		Mode:        shared.MatchAll,
		Required:    required,
		Missing:     missing,
		Permissions: a.names,
	}
}

// ListPermissions returns permissions matching filter.
func (s *Service) ListPermissions(ctx context.Context, filter PermissionFilter) ([]Permission, error) {
	return s.repo.ListPermissions(ctx, filter)
}

// GetPermission fetches a permission.
func (s *Service) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return s.repo.GetPermission(ctx, id)
}

// GroupedPermissions returns every permission bucketed by group.
func (s *Service) GroupedPermissions(ctx context.Context) ([]PermissionGroup, error) {
	perms, err := s.repo.ListPermissions(ctx, PermissionFilter{})
	if err != nil {
		return nil, err
	}
	return GroupPermissions(perms), nil
}

// PermissionGroups lists distinct group names.
func (s *Service) PermissionGroups(ctx context.Context) ([]string, error) {
	groups, err := s.GroupedPermissions(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Group)
	}
	return names, nil
}

// PermissionResources lists distinct resources, sorted.
func (s *Service) PermissionResources(ctx context.Context) ([]string, error) {
	perms, err := s.repo.ListPermissions(ctx, PermissionFilter{})
	if err != nil {
		return nil, err
	}
	resources := make([]string, 0)
	for _, p := range perms {
		if !slices.Contains(resources, p.Resource) {
			resources = append(resources, p.Resource)
		}
	}
	slices.Sort(resources)
	return resources, nil
}

// CreatePermission inserts a non-system permission.
func (s *Service) CreatePermission(ctx context.Context, actorID int64, in PermissionInput) (Permission, error) {
	perm := Permission{
		Resource:    NormalizeName(in.Resource),
		Action:      NormalizeName(in.Action),
		Name:        NormalizeName(in.Name),
		Group:       strings.TrimSpace(in.Group),
		Description: strings.TrimSpace(in.Description),
		Order:       in.Order,
	}
	if perm.Name == "" {
		perm.Name = PermissionName(perm.Resource, perm.Action)
	}
	if perm.Group == "" {
		perm.Group = perm.Resource
	}
	if err := validatePermission(perm); err != nil {
		return Permission{}, err
	}
	var created Permission
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := ensurePermissionFree(ctx, tx, perm, 0); err != nil {
			return err
		}
		var err error
		created, err = tx.InsertPermission(ctx, perm)
		return err
	})
	if err != nil {
		return Permission{}, err
	}
	s.record(ctx, actorID, shared.AuditCreate, "permission", created.ID, map[string]any{"name": created.Name})
	return created, nil
}

// UpdatePermission updates a permission. The machine name of a system permission cannot change.
func (s *Service) UpdatePermission(ctx context.Context, actorID, id int64, in PermissionUpdate) (Permission, error) {
	var updated Permission
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPermission(ctx, id)
		if err != nil {
			return err
		}
		next := current
		if in.Name != nil {
			next.Name = NormalizeName(*in.Name)
		}
		if next.Name != current.Name && current.IsSystem {
			return shared.ErrSystemProtected
		}
		if in.Resource != nil {
			next.Resource = NormalizeName(*in.Resource)
		}
		if in.Action != nil {
			next.Action = NormalizeName(*in.Action)
		}
		if in.Group != nil {
			next.Group = strings.TrimSpace(*in.Group)
		}
		if in.Description != nil {
			next.Description = strings.TrimSpace(*in.Description)
		}
		if in.Order != nil {
			next.Order = *in.Order
		}
		if err := validatePermission(next); err != nil {
			return err
		}
		if err := ensurePermissionFree(ctx, tx, next, id); err != nil {
			return err
		}
		updated, err = tx.UpdatePermission(ctx, next)
		return err
	})
	if err != nil {
		return Permission{}, err
	}
	s.record(ctx, actorID, shared.AuditUpdate, "permission", id, map[string]any{"name": updated.Name})
	return updated, nil
}

// DeletePermission removes a permission that is neither a system permission nor held by any role.
func (s *Service) DeletePermission(ctx context.Context, actorID, id int64) error {
	var name string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		perm, err := tx.GetPermission(ctx, id)
		if err != nil {
			return err
		}
		if perm.IsSystem {
			return shared.ErrSystemProtected
		}
		holders, err := tx.CountPermissionHolders(ctx, id)
		if err != nil {
			return err
		}
		if holders > 0 {
			return &shared.InUseError{Entity: "permission", Count: holders}
		}
		name = perm.Name
		return tx.DeletePermission(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditDelete, "permission", id, map[string]any{"name": name})
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{ActorID: actorID, Action: action, Entity: entity, EntityID: strconv.FormatInt(id, 10), Meta: meta, At: s.now()}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record", slog.String("entity", entity), slog.String("action", action), slog.Any("error", err))
	}
}

func ensureRoleNameFree(ctx context.Context, r Reader, name string, selfID int64) error {
	existing, err := r.FindRoleByName(ctx, name)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != selfID:
		return shared.ErrDuplicate
	}
	return nil
}

func ensurePermissionFree(ctx context.Context, r Reader, p Permission, selfID int64) error {
	byName, err := r.FindPermissionByName(ctx, p.Name)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	if err == nil && byName.ID != selfID {
		return shared.ErrDuplicate
	}
	byPair, err := r.FindPermissionByResourceAction(ctx, p.Resource, p.Action)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	if err == nil && byPair.ID != selfID {
		return shared.ErrDuplicate
	}
	return nil
}

func validateMachineName(field, name string) error {
	if name == "" {
		return shared.NewValidationError(field, "campo obrigatório")
	}
	if len(name) > 64 || !machineName.MatchString(name) {
		return shared.NewValidationError(field, "use letras minúsculas, números, _ ou -")
	}
	return nil
}

func validatePermission(p Permission) error {
	fields := make(map[string]string)
	if p.Resource == "" {
		fields["resource"] = "campo obrigatório"
	} else if !machineName.MatchString(p.Resource) {
		fields["resource"] = "use letras minúsculas, números, _ ou -"
	}
	if p.Action == "" {
		fields["action"] = "campo obrigatório"
	} else if !machineName.MatchString(p.Action) {
		fields["action"] = "use letras minúsculas, números, _ ou -"
	}
	if p.Name == "" || len(p.Name) > 128 {
		fields["name"] = "nome inválido"
	}
	if len(fields) > 0 {
		return &shared.ValidationError{Fields: fields}
	}
	return nil
}

func grantor(actorID int64) *int64 {
	if actorID <= 0 {
		return nil
	}
	return &actorID
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func missingIDs(want, have []int64) []int64 {
	var missing []int64
	for _, id := range want {
		if !slices.Contains(have, id) {
			missing = append(missing, id)
		}
	}
	return missing
}
