package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/orcamentos/orcamentos/internal/shared"
)

// SeedPermission describes a system permission.
type SeedPermission struct {
	Resource    string
	Action      string
	Group       string
	Description string
	Order       int
}

// SeedRole describes a system role and the permission names it must hold.
type SeedRole struct {
	Name        string
	DisplayName string
	Color       string
	Description string
	Permissions []string
}

// SeedAdmin is the optional bootstrap administrator. PasswordHash is already hashed.
type SeedAdmin struct {
	Name         string
	Email        string
	PasswordHash string
	Role         string
}

// SeedPlan lists the system rows Bootstrap guarantees.
type SeedPlan struct {
	Permissions []SeedPermission
	Roles       []SeedRole
	Admin       *SeedAdmin
}

// SeedResult counts what Bootstrap inserted.
type SeedResult struct {
	PermissionsCreated int
	RolesCreated       int
	GrantsAdded        int
	AdminCreated       bool
}

var seedResources = []struct {
	resource string
	group    string
}{
	{"users", "Usuários"},
	{"roles", "Perfis"},
	{"permissions", "Permissões"},
	{"clientes", "Clientes"},
	{"orcamentos", "Orçamentos"},
}

var seedActionLabels = map[string]string{
	"browse": "Listar",
	"read":   "Visualizar",
	"add":    "Criar",
	"edit":   "Editar",
	"delete": "Excluir",
}

// DefaultSeedPlan returns the system permissions and the admin/operator roles.
func DefaultSeedPlan() SeedPlan {
	var plan SeedPlan
	all := make([]string, 0)
	for _, res := range seedResources {
		for i, action := range shared.StandardActions() {
			plan.Permissions = append(plan.Permissions, SeedPermission{
				Resource:    res.resource,
				Action:      action,
				Group:       res.group,
				Description: seedActionLabels[action] + " " + res.group,
				Order:       i + 1,
			})
			all = append(all, PermissionName(res.resource, action))
		}
	}
	plan.Roles = []SeedRole{
		{
			Name:        shared.RoleAdmin,
			DisplayName: "Administrador",
			Color:       "#dc2626",
			Description: "Acesso total ao sistema",
			Permissions: all,
		},
		{
			Name:        shared.RoleOperator,
			DisplayName: "Operador",
			Color:       "#2563eb",
			Description: "Gestão de clientes e orçamentos",
			Permissions: shared.OperatorScopes(),
		},
	}
	return plan
}

// Bootstrap idempotently inserts the plan's system rows in one transaction. Existing rows
// keep their fields; listed permissions missing from a system role are granted, never revoked.
func (s *Service) Bootstrap(ctx context.Context, plan SeedPlan) (SeedResult, error) {
	var result SeedResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now()
		permIDs := make(map[string]int64, len(plan.Permissions))
		for _, sp := range plan.Permissions {
			name := PermissionName(sp.Resource, sp.Action)
			perm, err := tx.FindPermissionByName(ctx, name)
			if errors.Is(err, shared.ErrNotFound) {
				perm, err = tx.InsertPermission(ctx, Permission{
					Name:        name,
					Resource:    NormalizeName(sp.Resource),
					Action:      NormalizeName(sp.Action),
					Group:       sp.Group,
					Description: sp.Description,
					Order:       sp.Order,
					IsSystem:    true,
				})
				if err == nil {
					result.PermissionsCreated++
				}
			}
			if err != nil {
				return fmt.Errorf("seed permission %s: %w", name, err)
			}
			permIDs[name] = perm.ID
		}

		roleIDs := make(map[string]int64, len(plan.Roles))
		for _, sr := range plan.Roles {
			name := NormalizeName(sr.Name)
			role, err := tx.FindRoleByName(ctx, name)
			if errors.Is(err, shared.ErrNotFound) {
				role, err = tx.InsertRole(ctx, Role{
					Name:        name,
					DisplayName: sr.DisplayName,
					Color:       sr.Color,
					Description: sr.Description,
					IsSystem:    true,
				})
				if err == nil {
					result.RolesCreated++
				}
			}
			if err != nil {
				return fmt.Errorf("seed role %s: %w", name, err)
			}
			roleIDs[name] = role.ID

			held := make(map[int64]struct{}, len(role.Permissions))
			for _, p := range role.Permissions {
				held[p.ID] = struct{}{}
			}
			var grants []RolePermission
			for _, permName := range sr.Permissions {
				id, ok := permIDs[NormalizeName(permName)]
				if !ok {
					return fmt.Errorf("seed role %s: permission %s not in plan", name, permName)
				}
				if _, ok := held[id]; ok {
					continue
				}
				held[id] = struct{}{}
				grants = append(grants, RolePermission{RoleID: role.ID, PermissionID: id, GrantedAt: now})
			}
			if err := tx.InsertRolePermissions(ctx, grants); err != nil {
				return fmt.Errorf("seed role %s grants: %w", name, err)
			}
			result.GrantsAdded += len(grants)
		}

		if plan.Admin == nil || plan.Admin.Email == "" {
			return nil
		}
		email := NormalizeEmail(plan.Admin.Email)
		_, err := tx.FindUserByEmail(ctx, email)
		if err == nil {
			return nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		roleName := plan.Admin.Role
		if roleName == "" {
			roleName = shared.RoleAdmin
		}
		roleID, ok := roleIDs[NormalizeName(roleName)]
		if !ok {
			return fmt.Errorf("seed admin: role %s not in plan", roleName)
		}
		admin, err := tx.InsertUser(ctx, User{
			Name:         plan.Admin.Name,
			Email:        email,
			PasswordHash: plan.Admin.PasswordHash,
			Status:       StatusActive,
		})
		if err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		result.AdminCreated = true
		return tx.InsertUserRoles(ctx, []UserRole{{UserID: admin.ID, RoleID: roleID, GrantedAt: now}})
	})
	return result, err
}
