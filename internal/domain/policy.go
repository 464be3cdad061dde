package domain

import "context"

// Role is a coarse user capability level.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// RolePolicy decides a user's role. Injected so authorization can be swapped
// out in tests instead of reading a hardcoded allowlist.
type RolePolicy interface {
	RoleOf(ctx context.Context, userID string) (Role, error)
	Grant(ctx context.Context, userID string, role Role) error
}

// Identity is the authenticated caller attached to a request.
type Identity struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the identity carries the admin role.
func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

// CanActFor reports whether the identity may act on records owned by the
// given user: owners always can, admins can for anyone.
func (id Identity) CanActFor(userID string) bool {
	return id.UserID == userID || id.IsAdmin()
}
