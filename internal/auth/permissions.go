package auth

// Permission represents a named capability in the system.
type Permission string

const (
	PermModuleRead    Permission = "module:read"
	PermModuleCommand Permission = "module:command"
	PermModuleClaim   Permission = "module:claim"
	PermFleetRead     Permission = "fleet:read"
	PermModuleManage  Permission = "module:manage"
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleUser: {
		PermModuleRead,
		PermModuleCommand,
		PermModuleClaim,
	},
	RoleAdmin: {
		PermModuleRead,
		PermModuleCommand,
		PermModuleClaim,
		PermFleetRead,
		PermModuleManage,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}
