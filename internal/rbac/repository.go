package rbac

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orcamentos/orcamentos/internal/platform/db"
)

// Reader exposes the identity store lookups. Missing rows return shared.ErrNotFound.
type Reader interface {
	GetUser(ctx context.Context, id int64) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]User, int, error)
	// UserRoles returns the roles granted to the user and in force at asOf, each with its
	// permissions, ordered by grant time.
	UserRoles(ctx context.Context, userID int64, asOf time.Time) ([]Role, error)

	GetRole(ctx context.Context, id int64) (Role, error)
	FindRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	RoleHolderCounts(ctx context.Context) (map[int64]int, error)
	CountRoleHolders(ctx context.Context, roleID int64) (int, error)
	ExistingRoleIDs(ctx context.Context, ids []int64) ([]int64, error)

	GetPermission(ctx context.Context, id int64) (Permission, error)
	FindPermissionByName(ctx context.Context, name string) (Permission, error)
	FindPermissionByResourceAction(ctx context.Context, resource, action string) (Permission, error)
	ListPermissions(ctx context.Context, filter PermissionFilter) ([]Permission, error)
	CountPermissionHolders(ctx context.Context, permissionID int64) (int, error)
	ExistingPermissionIDs(ctx context.Context, ids []int64) ([]int64, error)
}

// Repository defines persistence operations for the identity store.
type Repository interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	TouchLastLogin(ctx context.Context, userID int64, at time.Time) error
	// PurgeExpiredGrants deletes user role grants that expired at or before asOf.
	PurgeExpiredGrants(ctx context.Context, asOf time.Time) (int64, error)
}

// TxRepository exposes transactional write operations.
type TxRepository interface {
	Reader

	InsertUser(ctx context.Context, u User) (User, error)
	UpdateUser(ctx context.Context, u User) (User, error)
	UpdatePassword(ctx context.Context, userID int64, hash string) error
	DeleteUser(ctx context.Context, id int64) error
	LockUser(ctx context.Context, id int64) error
	DeleteUserRoles(ctx context.Context, userID int64) error
	InsertUserRoles(ctx context.Context, grants []UserRole) error

	InsertRole(ctx context.Context, r Role) (Role, error)
	UpdateRole(ctx context.Context, r Role) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	LockRole(ctx context.Context, id int64) error
	DeleteRolePermissions(ctx context.Context, roleID int64) error
	InsertRolePermissions(ctx context.Context, grants []RolePermission) error

	InsertPermission(ctx context.Context, p Permission) (Permission, error)
	UpdatePermission(ctx context.Context, p Permission) (Permission, error)
	DeletePermission(ctx context.Context, id int64) error
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queries implements Reader and the write operations over a pool or a transaction.
type queries struct {
	db querier
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	queries
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{queries: queries{db: pool}, pool: pool}
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{queries: queries{db: tx}})
	})
}

// txRepository implements TxRepository.
type txRepository struct {
	queries
}

var (
	_ Repository   = (*PGRepository)(nil)
	_ TxRepository = (*txRepository)(nil)
)
