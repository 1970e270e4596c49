package auth

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermStatusRead       Permission = "status:read"
	PermPlaybackControl  Permission = "playback:control"
	PermInstallConfigure Permission = "install:configure"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermStatusRead,
	},
	RoleController: {
		PermStatusRead,
		PermPlaybackControl,
	},
	RoleAdmin: {
		PermStatusRead,
		PermPlaybackControl,
		PermInstallConfigure,
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

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
