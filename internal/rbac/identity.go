package rbac

import (
	"context"
	"strings"

	"github.com/orcamentos/orcamentos/internal/shared"
)

// Identity is the hydrated caller attached to an authenticated request.
type Identity struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Email       string       `json:"email"`
	Status      UserStatus   `json:"status"`
	Roles       []Role       `json:"roles"`
	Permissions []Permission `json:"permissions"`
}

// NewIdentity compiles the permissions of roles into an Identity for user.
func NewIdentity(user User, roles []Role) *Identity {
	if roles == nil {
		roles = []Role{}
	}
	return &Identity{
		ID:          user.ID,
		Name:        user.Name,
		Email:       user.Email,
		Status:      user.Status,
		Roles:       roles,
		Permissions: CompilePermissions(roles),
	}
}

// PermissionNames returns the compiled permission names.
func (i *Identity) PermissionNames() []string {
	if i == nil {
		return nil
	}
	return PermissionNames(i.Permissions)
}

// RoleNames returns the held role names.
func (i *Identity) RoleNames() []string {
	if i == nil {
		return nil
	}
	return RoleNames(i.Roles)
}

// HasPermission reports whether the identity holds perm.
func (i *Identity) HasPermission(perm string) bool {
	return CheckPermission(i, perm) == nil
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity; nil means anonymous.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}

// CheckPermission passes iff perm is among the compiled permission names.
func CheckPermission(id *Identity, perm string) error {
	return checkNames(id, shared.ErrInsufficientPermission, shared.MatchOne, []string{perm})
}

// CheckAnyPermission passes iff at least one of perms is held.
func CheckAnyPermission(id *Identity, perms []string) error {
	return checkNames(id, shared.ErrInsufficientPermission, shared.MatchAny, perms)
}

// CheckAllPermissions passes iff every one of perms is held; the denial lists the missing names.
func CheckAllPermissions(id *Identity, perms []string) error {
	return checkNames(id, shared.ErrInsufficientPermission, shared.MatchAll, perms)
}

// CheckRole passes iff role is held.
func CheckRole(id *Identity, role string) error {
	return checkNames(id, shared.ErrInsufficientRole, shared.MatchOne, []string{role})
}

// CheckAnyRole passes iff at least one of roles is held.
func CheckAnyRole(id *Identity, roles []string) error {
	return checkNames(id, shared.ErrInsufficientRole, shared.MatchAny, roles)
}

func checkNames(id *Identity, reason error, mode string, required []string) error {
	if id == nil {
		return shared.ErrNotAuthenticated
	}
	required = normalizeNames(required)
	var granted []string
	if reason == shared.ErrInsufficientRole {
		granted = id.RoleNames()
	} else {
		granted = id.PermissionNames()
	}
	set := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		set[strings.ToLower(g)] = struct{}{}
	}

	var missing []string
	matched := 0
	for _, r := range required {
		if _, ok := set[r]; ok {
			matched++
			continue
		}
		missing = append(missing, r)
	}

	// An empty requirement only passes in all-mode, where nothing is missing.
	// One and any modes need at least one match.
	switch {
	case mode == shared.MatchAll && len(missing) == 0:
		return nil
	case mode != shared.MatchAll && matched > 0:
		return nil
	}

	denied := &shared.DeniedError{
		Reason:      reason,
		Mode:        mode,
		Required:    required,
		Permissions: id.PermissionNames(),
		Roles:       id.RoleNames(),
	}
	if mode == shared.MatchAll {
		denied.Missing = missing
	}
	return denied
}

// normalizeNames lowercases, trims and dedupes, preserving order.
func normalizeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	normalized := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(strings.ToLower(n))
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		normalized = append(normalized, n)
	}
	return normalized
}

// ActorID returns the id of the identity in ctx, or 0 when anonymous.
func ActorID(ctx context.Context) int64 {
	if id := IdentityFromContext(ctx); id != nil {
		return id.ID
	}
	return 0
}
