// Package identity describes authenticated principals and their roles.
package identity

import (
	"errors"
	"fmt"
)

// Role is a user role. Roles are ordered: viewer < driver < manager < admin.
type Role string

const (
	Viewer  Role = "viewer"
	Driver  Role = "driver"
	Manager Role = "manager"
	Admin   Role = "admin"
)

// ErrUnknownRole is returned by ParseRole.
var ErrUnknownRole = errors.New("unknown role")

var rank = map[Role]int{Viewer: 1, Driver: 2, Manager: 3, Admin: 4} //nolint:gochecknoglobals // static table

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := rank[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// AtLeast reports whether r ranks at or above floor. Unknown roles rank below everything.
func (r Role) AtLeast(floor Role) bool {
	have, ok := rank[r]
	return ok && have >= rank[floor]
}

// Identity is an authenticated user.
type Identity struct {
	UserID string `json:"id"`
	Role   Role   `json:"role"`
	Email  string `json:"email,omitempty"`
}
