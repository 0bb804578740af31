package auth

import "errors"

// Role represents an authorisation tier.
type Role string

const (
	// RoleViewer can read the cached state.
	RoleViewer Role = "viewer"

	// RoleOperator can additionally execute commands.
	RoleOperator Role = "operator"

	// RoleAdmin can additionally reconfigure tags and start or stop
	// supervised entities.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Identity is the authenticated caller of a request.
type Identity struct {
	Subject   string
	Role      Role
	SessionID string
}

// Can reports whether the identity holds perm.
func (i *Identity) Can(perm Permission) bool {
	if i == nil {
		return false
	}
	return HasPermission(i.Role, perm)
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
)
