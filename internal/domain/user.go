// Package domain contains core domain types for the trade report bot.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role is the access level of a bot user.
type Role string

const (
	// RoleAdmin can use the bot and manage other users. Never downgraded.
	RoleAdmin Role = "admin"
	// RoleAdvanced can use the bot.
	RoleAdvanced Role = "advanced"
	// RoleRestricted has no access to the report wizard.
	RoleRestricted Role = "restricted"
)

// ParseRole normalizes a role name typed by an admin.
// "user" is accepted as the legacy name of the restricted role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin, nil
	case "advanced":
		return RoleAdvanced, nil
	case "restricted", "user":
		return RoleRestricted, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// CanUseWizard reports whether the role may start a report dialogue.
func (r Role) CanUseWizard() bool {
	return r == RoleAdmin || r == RoleAdvanced
}

// User represents a bot user. UserID is zero for users provisioned by handle
// who have not contacted the bot yet.
type User struct {
	UserID    int64     `json:"user_id"`
	Handle    string    `json:"handle"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAdmin returns true if the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// DisplayName returns "@handle" when known, otherwise "id=<user id>".
func (u *User) DisplayName() string {
	if u.Handle != "" {
		return "@" + u.Handle
	}
	return fmt.Sprintf("id=%d", u.UserID)
}

// NormalizeHandle lowercases a handle and strips a leading "@".
// An empty handle falls back to "user_<id>".
func NormalizeHandle(handle string, userID int64) string {
	h := strings.ToLower(strings.TrimSpace(handle))
	h = strings.TrimPrefix(h, "@")
	if h == "" {
		return fmt.Sprintf("user_%d", userID)
	}
	return h
}

// Identity addresses a user in a role change, either by numeric id or by handle.
type Identity struct {
	UserID int64
	Handle string
}

// String renders the identity the way admins typed it.
func (i Identity) String() string {
	if i.Handle != "" {
		return "@" + i.Handle
	}
	return fmt.Sprintf("id=%d", i.UserID)
}

// RoleChangeOutcome is the result of a role change request.
type RoleChangeOutcome int

const (
	// RoleChanged means the role was updated.
	RoleChanged RoleChangeOutcome = iota
	// RoleProvisioned means an unknown identity was created with the role.
	RoleProvisioned
	// RoleUnknownUser means the identity was not found and nothing changed.
	RoleUnknownUser
	// RoleSuperAdmin means the target is an admin and cannot be modified.
	RoleSuperAdmin
)
