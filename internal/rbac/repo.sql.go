package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/orcamentos/orcamentos/internal/platform/db"
	"github.com/orcamentos/orcamentos/internal/shared"
)

const userColumns = `id, name, email, password_hash, status, last_login, created_at, updated_at`

const roleColumns = `r.id, r.name, r.display_name, r.color, r.description, r.is_system, r.created_at, r.updated_at`

const permissionColumns = `p.id, p.name, p.resource, p.action, p.group_name, p.description, p.sort_order, p.is_system, p.created_at, p.updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	var status string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &status, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, notFound(err)
	}
	u.Status = UserStatus(status)
	return u, nil
}

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	if err := row.Scan(&r.ID, &r.Name, &r.DisplayName, &r.Color, &r.Description, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Role{}, notFound(err)
	}
	return r, nil
}

func scanPermission(row pgx.Row, extra ...any) (Permission, error) {
	var p Permission
	dest := append(extra, &p.ID, &p.Name, &p.Resource, &p.Action, &p.Group, &p.Description, &p.Order, &p.IsSystem, &p.CreatedAt, &p.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return Permission{}, notFound(err)
	}
	return p, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.ErrNotFound
	}
	return err
}

func writeErr(err error) error {
	if err == nil {
		return nil
	}
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", shared.ErrDuplicate, err)
	}
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: %v", shared.ErrUnknownReference, err)
	}
	return notFound(err)
}

// GetUser fetches a user by ID.
func (q queries) GetUser(ctx context.Context, id int64) (User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// FindUserByEmail fetches a user by normalized email.
func (q queries) FindUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, NormalizeEmail(email)))
}

// ListUsers returns a filtered page of users and the total count.
func (q queries) ListUsers(ctx context.Context, filter UserFilter) ([]User, int, error) {
	var where []string
	var args []any
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR email ILIKE $%d)", len(args), len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY id LIMIT $%d OFFSET $%d`, userColumns, clause, len(args)-1, len(args))
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	users := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// UserRoles returns roles in force at asOf, ordered by grant time.
func (q queries) UserRoles(ctx context.Context, userID int64, asOf time.Time) ([]Role, error) {
	rows, err := q.db.Query(ctx, `SELECT `+roleColumns+`
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 AND (ur.expires_at IS NULL OR ur.expires_at > $2)
		ORDER BY ur.granted_at, ur.id`, userID, asOf)
	if err != nil {
		return nil, err
	}
	roles, err := collectRoles(rows)
	if err != nil {
		return nil, err
	}
	return roles, q.attachPermissions(ctx, roles)
}

func collectRoles(rows pgx.Rows) ([]Role, error) {
	defer rows.Close()
	roles := make([]Role, 0)
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (q queries) attachPermissions(ctx context.Context, roles []Role) error {
	if len(roles) == 0 {
		return nil
	}
	ids := make([]int64, len(roles))
	index := make(map[int64][]int, len(roles))
	for i, r := range roles {
		ids[i] = r.ID
		index[r.ID] = append(index[r.ID], i)
	}
	rows, err := q.db.Query(ctx, `SELECT rp.role_id, `+permissionColumns+`
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = ANY($1)
		ORDER BY p.sort_order, p.id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var roleID int64
		p, err := scanPermission(rows, &roleID)
		if err != nil {
			return err
		}
		for _, i := range index[roleID] {
			roles[i].Permissions = append(roles[i].Permissions, p)
		}
	}
	return rows.Err()
}

// GetRole fetches a role with its permissions.
func (q queries) GetRole(ctx context.Context, id int64) (Role, error) {
	r, err := scanRole(q.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = $1`, id))
	if err != nil {
		return Role{}, err
	}
	roles := []Role{r}
	if err := q.attachPermissions(ctx, roles); err != nil {
		return Role{}, err
	}
	return roles[0], nil
}

// FindRoleByName fetches a role by machine name.
func (q queries) FindRoleByName(ctx context.Context, name string) (Role, error) {
	r, err := scanRole(q.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.name = $1`, NormalizeName(name)))
	if err != nil {
		return Role{}, err
	}
	roles := []Role{r}
	if err := q.attachPermissions(ctx, roles); err != nil {
		return Role{}, err
	}
	return roles[0], nil
}

// ListRoles returns all roles, system roles first.
func (q queries) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := q.db.Query(ctx, `SELECT `+roleColumns+` FROM roles r ORDER BY r.is_system DESC, r.name`)
	if err != nil {
		return nil, err
	}
	roles, err := collectRoles(rows)
	if err != nil {
		return nil, err
	}
	return roles, q.attachPermissions(ctx, roles)
}

// RoleHolderCounts returns the number of users holding each role.
func (q queries) RoleHolderCounts(ctx context.Context) (map[int64]int, error) {
	rows, err := q.db.Query(ctx, `SELECT role_id, COUNT(*) FROM user_roles GROUP BY role_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[int64]int)
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// CountRoleHolders counts users holding the role.
func (q queries) CountRoleHolders(ctx context.Context, roleID int64) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM user_roles WHERE role_id = $1`, roleID).Scan(&n)
	return n, err
}

// ExistingRoleIDs returns the subset of ids present in roles.
func (q queries) ExistingRoleIDs(ctx context.Context, ids []int64) ([]int64, error) {
	return q.existingIDs(ctx, `SELECT id FROM roles WHERE id = ANY($1)`, ids)
}

func (q queries) existingIDs(ctx context.Context, query string, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// GetPermission fetches a permission by ID.
func (q queries) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return scanPermission(q.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions p WHERE p.id = $1`, id))
}

// FindPermissionByName fetches a permission by machine name.
func (q queries) FindPermissionByName(ctx context.Context, name string) (Permission, error) {
	return scanPermission(q.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions p WHERE p.name = $1`, NormalizeName(name)))
}

// FindPermissionByResourceAction fetches a permission by its (resource, action) pair.
func (q queries) FindPermissionByResourceAction(ctx context.Context, resource, action string) (Permission, error) {
	return scanPermission(q.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions p WHERE p.resource = $1 AND p.action = $2`,
		NormalizeName(resource), NormalizeName(action)))
}

// ListPermissions returns permissions ordered for display.
func (q queries) ListPermissions(ctx context.Context, filter PermissionFilter) ([]Permission, error) {
	var where []string
	var args []any
	if filter.Group != "" {
		args = append(args, filter.Group)
		where = append(where, fmt.Sprintf("p.group_name = $%d", len(args)))
	}
	if filter.Resource != "" {
		args = append(args, NormalizeName(filter.Resource))
		where = append(where, fmt.Sprintf("p.resource = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	rows, err := q.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions p`+clause+` ORDER BY p.group_name, p.sort_order, p.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	perms := make([]Permission, 0)
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// CountPermissionHolders counts roles holding the permission.
func (q queries) CountPermissionHolders(ctx context.Context, permissionID int64) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM role_permissions WHERE permission_id = $1`, permissionID).Scan(&n)
	return n, err
}

// ExistingPermissionIDs returns the subset of ids present in permissions.
func (q queries) ExistingPermissionIDs(ctx context.Context, ids []int64) ([]int64, error) {
	return q.existingIDs(ctx, `SELECT id FROM permissions WHERE id = ANY($1)`, ids)
}

// TouchLastLogin moves last_login forward to at without bumping updated_at.
func (q queries) TouchLastLogin(ctx context.Context, userID int64, at time.Time) error {
	tag, err := q.db.Exec(ctx, `UPDATE users SET last_login = GREATEST(COALESCE(last_login, $2), $2) WHERE id = $1`, userID, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// PurgeExpiredGrants deletes user_roles rows past their expiry.
func (q queries) PurgeExpiredGrants(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM user_roles WHERE expires_at IS NOT NULL AND expires_at <= $1`, asOf.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// InsertUser persists a new user.
func (q queries) InsertUser(ctx context.Context, u User) (User, error) {
	err := q.db.QueryRow(ctx, `INSERT INTO users (name, email, password_hash, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		u.Name, NormalizeEmail(u.Email), u.PasswordHash, string(u.Status)).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, writeErr(err)
	}
	u.Email = NormalizeEmail(u.Email)
	return u, nil
}

// UpdateUser updates profile fields and status.
func (q queries) UpdateUser(ctx context.Context, u User) (User, error) {
	return scanUserWrite(q.db.QueryRow(ctx, `UPDATE users SET name = $2, email = $3, status = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns, u.ID, u.Name, NormalizeEmail(u.Email), string(u.Status)))
}

func scanUserWrite(row pgx.Row) (User, error) {
	u, err := scanUser(row)
	if err != nil {
		return User{}, writeErr(err)
	}
	return u, nil
}

// UpdatePassword replaces the stored hash.
func (q queries) UpdatePassword(ctx context.Context, userID int64, hash string) error {
	tag, err := q.db.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, userID, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteUser removes a user; user_roles cascade.
func (q queries) DeleteUser(ctx context.Context, id int64) error {
	return q.deleteByID(ctx, `DELETE FROM users WHERE id = $1`, id)
}

func (q queries) deleteByID(ctx context.Context, query string, id int64) error {
	tag, err := q.db.Exec(ctx, query, id)
	if err != nil {
		return writeErr(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// LockUser takes a row lock on the user for the rest of the transaction.
func (q queries) LockUser(ctx context.Context, id int64) error {
	var got int64
	return notFound(q.db.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&got))
}

// DeleteUserRoles removes every role grant of the user.
func (q queries) DeleteUserRoles(ctx context.Context, userID int64) error {
	_, err := q.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID)
	return err
}

// InsertUserRoles bulk-inserts role grants.
func (q queries) InsertUserRoles(ctx context.Context, grants []UserRole) error {
	if len(grants) == 0 {
		return nil
	}
	var sb strings.Builder
	args := make([]any, 0, len(grants)*5)
	sb.WriteString(`INSERT INTO user_roles (user_id, role_id, granted_by, granted_at, expires_at) VALUES `)
	for i, g := range grants {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5)
		args = append(args, g.UserID, g.RoleID, g.GrantedBy, g.GrantedAt, g.ExpiresAt)
	}
	_, err := q.db.Exec(ctx, sb.String(), args...)
	return writeErr(err)
}

// InsertRole persists a new role.
func (q queries) InsertRole(ctx context.Context, r Role) (Role, error) {
	err := q.db.QueryRow(ctx, `INSERT INTO roles (name, display_name, color, description, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		r.Name, r.DisplayName, r.Color, r.Description, r.IsSystem).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Role{}, writeErr(err)
	}
	return r, nil
}

// UpdateRole updates a role. is_system is never changed here.
func (q queries) UpdateRole(ctx context.Context, r Role) (Role, error) {
	updated, err := scanRole(q.db.QueryRow(ctx, `UPDATE roles r SET name = $2, display_name = $3, color = $4, description = $5, updated_at = NOW()
		WHERE r.id = $1
		RETURNING `+roleColumns, r.ID, r.Name, r.DisplayName, r.Color, r.Description))
	if err != nil {
		return Role{}, writeErr(err)
	}
	return updated, nil
}

// DeleteRole removes a role; role_permissions cascade.
func (q queries) DeleteRole(ctx context.Context, id int64) error {
	return q.deleteByID(ctx, `DELETE FROM roles WHERE id = $1`, id)
}

// LockRole takes a row lock on the role for the rest of the transaction.
func (q queries) LockRole(ctx context.Context, id int64) error {
	var got int64
	return notFound(q.db.QueryRow(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, id).Scan(&got))
}

// DeleteRolePermissions removes every permission grant of the role.
func (q queries) DeleteRolePermissions(ctx context.Context, roleID int64) error {
	_, err := q.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID)
	return err
}

// InsertRolePermissions bulk-inserts permission grants.
func (q queries) InsertRolePermissions(ctx context.Context, grants []RolePermission) error {
	if len(grants) == 0 {
		return nil
	}
	var sb strings.Builder
	args := make([]any, 0, len(grants)*4)
	sb.WriteString(`INSERT INTO role_permissions (role_id, permission_id, granted_by, granted_at) VALUES `)
	for i, g := range grants {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4)
		args = append(args, g.RoleID, g.PermissionID, g.GrantedBy, g.GrantedAt)
	}
	_, err := q.db.Exec(ctx, sb.String(), args...)
	return writeErr(err)
}

// InsertPermission persists a new permission.
func (q queries) InsertPermission(ctx context.Context, p Permission) (Permission, error) {
	err := q.db.QueryRow(ctx, `INSERT INTO permissions (name, resource, action, group_name, description, sort_order, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		p.Name, p.Resource, p.Action, p.Group, p.Description, p.Order, p.IsSystem).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Permission{}, writeErr(err)
	}
	return p, nil
}

// UpdatePermission updates a permission. is_system is never changed here.
func (q queries) UpdatePermission(ctx context.Context, p Permission) (Permission, error) {
	updated, err := scanPermission(q.db.QueryRow(ctx, `UPDATE permissions p SET name = $2, resource = $3, action = $4, group_name = $5, description = $6, sort_order = $7, updated_at = NOW()
		WHERE p.id = $1
		RETURNING `+permissionColumns, p.ID, p.Name, p.Resource, p.Action, p.Group, p.Description, p.Order))
	if err != nil {
		return Permission{}, writeErr(err)
	}
	return updated, nil
}

// DeletePermission removes a permission.
func (q queries) DeletePermission(ctx context.Context, id int64) error {
	return q.deleteByID(ctx, `DELETE FROM permissions WHERE id = $1`, id)
}
