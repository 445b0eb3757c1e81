package user

import (
	"errors"
	"slices"
	"strings"
)

// Role is a principal role carried inside JWT claims.
type Role string

const (
	RolePassenger  Role = "PASSENGER"
	RoleCaptain    Role = "CAPTAIN"
	RoleAdmin      Role = "ADMIN"
	RoleDispatcher Role = "DISPATCHER"
	RoleManager    Role = "MANAGER"
	RoleSupport    Role = "SUPPORT"
)

var ErrInvalidRole = errors.New("invalid role")

// PermLocationTracking grants admin live tracking outside the staff roles.
const PermLocationTracking = "location_tracking"

// ParseRole normalizes (uppercases+trims) and validates a role string.
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(s)))
	if role.Valid() {
		return role, nil
	}
	return "", ErrInvalidRole
}

// Valid reports whether role is one of the allowed role constants.
func (role Role) Valid() bool {
	switch role {
	case RolePassenger, RoleCaptain, RoleAdmin, RoleDispatcher, RoleManager, RoleSupport:
		return true
	default:
		return false
	}
}

// String returns the string representation of the Role.
func (role Role) String() string {
	return string(role)
}

// Staff reports whether the role belongs to the operations side.
func (role Role) Staff() bool {
	switch role {
	case RoleAdmin, RoleDispatcher, RoleManager, RoleSupport:
		return true
	default:
		return false
	}
}

// CanTrackLocations reports whether the role (or explicit permission list)
// may subscribe to live captain tracking.
func CanTrackLocations(role Role, permissions []string) bool {
	if role.Staff() {
		return true
	}
	return slices.Contains(permissions, PermLocationTracking)
}
