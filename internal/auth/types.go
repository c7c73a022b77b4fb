package auth

import "errors"

// Role is an authorisation tier.
type Role string

const (
	// RoleViewer can inspect configuration but not change it.
	RoleViewer Role = "viewer"

	// RoleOperator runs discovery and refresh flows.
	RoleOperator Role = "operator"

	// RoleAdmin can additionally remove configured gateways.
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

// Sentinel errors for authentication.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
)
