package auth

import "errors"

// Role is an authorisation tier carried in a token.
type Role string

const (
	// RoleViewer may read status and browse media.
	RoleViewer Role = "viewer"

	// RoleController may also operate zones and clients.
	RoleController Role = "controller"

	// RoleAdmin may also change installer settings such as client latency
	// and zone assignment.
	RoleAdmin Role = "admin"
)

// ValidRoles lists every role a token may carry.
var ValidRoles = []Role{RoleViewer, RoleController, RoleAdmin}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrForbidden    = errors.New("insufficient permissions")

	// ErrInvalidCredentials covers both an unknown user and a wrong
	// password.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
