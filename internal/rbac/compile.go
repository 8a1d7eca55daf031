package rbac

// CompilePermissions flattens the permissions of roles, keeping the first occurrence of
// each permission name in role order. It performs no I/O.
func CompilePermissions(roles []Role) []Permission {
	seen := make(map[string]struct{})
	compiled := make([]Permission, 0)
	for _, role := range roles {
		for _, perm := range role.Permissions {
			if _, ok := seen[perm.Name]; ok {
				continue
			}
			seen[perm.Name] = struct{}{}
			compiled = append(compiled, perm)
		}
	}
	return compiled
}

// PermissionNames extracts names preserving order.
func PermissionNames(perms []Permission) []string {
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = p.Name
	}
	return names
}

// RoleNames extracts names preserving order.
func RoleNames(roles []Role) []string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.Name
	}
	return names
}

// GroupPermissions buckets permissions by Group, keeping first-seen group order.
func GroupPermissions(perms []Permission) []PermissionGroup {
	index := make(map[string]int)
	groups := make([]PermissionGroup, 0)
	for _, p := range perms {
		i, ok := index[p.Group]
		if !ok {
			i = len(groups)
			index[p.Group] = i
			groups = append(groups, PermissionGroup{Group: p.Group})
		}
		groups[i].Permissions = append(groups[i].Permissions, p)
	}
	return groups
}
