package rbac

import "github.com/orcamentos/orcamentos/internal/platform/db"

func timestamps() []db.Column {
	return []db.Column{
		{Name: "created_at", Type: "TIMESTAMPTZ", NotNull: true, Default: "NOW()"},
		{Name: "updated_at", Type: "TIMESTAMPTZ", NotNull: true, Default: "NOW()"},
	}
}

// Schema declares the identity store tables and their relationships.
func Schema() *db.Schema {
	s := db.NewSchema()

	users := s.DefineEntity(db.Entity{
		Table: "users",
		Columns: append([]db.Column{
			{Name: "id", Type: "BIGSERIAL", PrimaryKey: true},
			{Name: "name", Type: "TEXT", NotNull: true},
			{Name: "email", Type: "TEXT", NotNull: true, Unique: true},
			{Name: "password_hash", Type: "TEXT", NotNull: true},
			{Name: "status", Type: "TEXT", NotNull: true, Default: "'active'"},
			{Name: "last_login", Type: "TIMESTAMPTZ"},
		}, timestamps()...),
		Indexes: [][]string{{"status"}},
	})

	roles := s.DefineEntity(db.Entity{
		Table: "roles",
		Columns: append([]db.Column{
			{Name: "id", Type: "BIGSERIAL", PrimaryKey: true},
			{Name: "name", Type: "TEXT", NotNull: true, Unique: true},
			{Name: "display_name", Type: "TEXT", NotNull: true, Default: "''"},
			{Name: "color", Type: "TEXT", NotNull: true, Default: "''"},
			{Name: "description", Type: "TEXT", NotNull: true, Default: "''"},
			{Name: "is_system", Type: "BOOLEAN", NotNull: true, Default: "FALSE"},
		}, timestamps()...),
	})

	permissions := s.DefineEntity(db.Entity{
		Table: "permissions",
		Columns: append([]db.Column{
			{Name: "id", Type: "BIGSERIAL", PrimaryKey: true},
			{Name: "name", Type: "TEXT", NotNull: true, Unique: true},
			{Name: "resource", Type: "TEXT", NotNull: true},
			{Name: "action", Type: "TEXT", NotNull: true},
			{Name: "group_name", Type: "TEXT", NotNull: true, Default: "''"},
			{Name: "description", Type: "TEXT", NotNull: true, Default: "''"},
			{Name: "sort_order", Type: "INTEGER", NotNull: true, Default: "0"},
			{Name: "is_system", Type: "BOOLEAN", NotNull: true, Default: "FALSE"},
		}, timestamps()...),
		Uniques: [][]string{{"resource", "action"}},
		Indexes: [][]string{{"group_name", "sort_order"}},
	})

	userRoles := s.Join("user_roles", users, "user_id", roles, "role_id",
		db.Column{Name: "granted_at", Type: "TIMESTAMPTZ", NotNull: true, Default: "NOW()"},
		db.Column{Name: "expires_at", Type: "TIMESTAMPTZ"},
	)
	s.BelongsTo(userRoles, "granted_by", users, "SET NULL", true)

	rolePermissions := s.Join("role_permissions", roles, "role_id", permissions, "permission_id",
		db.Column{Name: "granted_at", Type: "TIMESTAMPTZ", NotNull: true, Default: "NOW()"},
	)
	s.BelongsTo(rolePermissions, "granted_by", users, "SET NULL", true)

	audit := s.DefineEntity(db.Entity{
		Table: "audit_logs",
		Columns: []db.Column{
			{Name: "id", Type: "BIGSERIAL", PrimaryKey: true},
			{Name: "action", Type: "TEXT", NotNull: true},
			{Name: "entity", Type: "TEXT", NotNull: true},
			{Name: "entity_id", Type: "TEXT", NotNull: true},
			{Name: "meta", Type: "JSONB", NotNull: true, Default: "'{}'::jsonb"},
			{Name: "occurred_at", Type: "TIMESTAMPTZ", NotNull: true, Default: "NOW()"},
		},
		Indexes: [][]string{{"entity", "entity_id"}},
	})
	s.BelongsTo(audit, "actor_id", users, "SET NULL", true)

	return s
}
