package shared

// Core platform permissions.
const (
	PermUsersBrowse = "users.browse"
	PermUsersRead   = "users.read"
	PermUsersAdd    = "users.add"
	PermUsersEdit   = "users.edit"
	PermUsersDelete = "users.delete"

	PermRolesBrowse = "roles.browse"
	PermRolesRead   = "roles.read"
	PermRolesAdd    = "roles.add"
	PermRolesEdit   = "roles.edit"
	PermRolesDelete = "roles.delete"

	PermPermissionsBrowse = "permissions.browse"
	PermPermissionsRead   = "permissions.read"
	PermPermissionsAdd    = "permissions.add"
	PermPermissionsEdit   = "permissions.edit"
	PermPermissionsDelete = "permissions.delete"
)

// Business permissions.
const (
	PermClientesBrowse = "clientes.browse"
	PermClientesRead   = "clientes.read"
	PermClientesAdd    = "clientes.add"
	PermClientesEdit   = "clientes.edit"
	PermClientesDelete = "clientes.delete"

	PermOrcamentosBrowse = "orcamentos.browse"
	PermOrcamentosRead   = "orcamentos.read"
	PermOrcamentosAdd    = "orcamentos.add"
	PermOrcamentosEdit   = "orcamentos.edit"
	PermOrcamentosDelete = "orcamentos.delete"
)

// System role names.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

// StandardActions lists the BREAD actions seeded for every resource.
func StandardActions() []string {
	return []string{"browse", "read", "add", "edit", "delete"}
}

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermUsersBrowse, PermUsersRead, PermUsersAdd, PermUsersEdit, PermUsersDelete,
		PermRolesBrowse, PermRolesRead, PermRolesAdd, PermRolesEdit, PermRolesDelete,
		PermPermissionsBrowse, PermPermissionsRead, PermPermissionsAdd, PermPermissionsEdit, PermPermissionsDelete,
	}
}

// OperatorScopes lists the permissions granted to the operator role.
func OperatorScopes() []string {
	return []string{
		PermClientesBrowse, PermClientesRead, PermClientesAdd, PermClientesEdit,
		PermOrcamentosBrowse, PermOrcamentosRead, PermOrcamentosAdd, PermOrcamentosEdit,
	}
}
