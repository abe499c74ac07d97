package identity

import "errors"

// Role is the caller's resolved role within its tenant.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

var (
	// ErrForbidden is returned when the caller is not allowed to act on a resource
	ErrForbidden = errors.New("caller is not the owner or an administrator")
)

// Context carries the resolved caller identity attached to every scheduler
// and DLQ-admin call. Authentication and tenant-header resolution happen
// upstream; this package only represents the result.
type Context struct {
	TenantID string
	UserID   string
	Role     Role
}

// IsAdmin reports whether the caller holds the administrative role.
func (c Context) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// Owns reports whether the caller may mutate a resource owned by userID:
// either the caller is that user or the caller is an administrator.
func (c Context) Owns(userID string) bool {
	return c.UserID == userID || c.IsAdmin()
}
