package rbac

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// UserStatus is the lifecycle state of an account.
type UserStatus string

const (
	StatusActive    UserStatus = "active"
	StatusInactive  UserStatus = "inactive"
	StatusSuspended UserStatus = "suspended"
)

// Valid reports whether s is a known status.
func (s UserStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

// User is an account. PasswordHash never leaves the process.
type User struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Status       UserStatus `json:"status"`
	LastLogin    *time.Time `json:"last_login"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Roles        []Role     `json:"roles,omitempty"`
}

// Role represents a high-level permission grouping.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	DisplayName string       `json:"display_name"`
	Color       string       `json:"color"`
	Description string       `json:"description"`
	IsSystem    bool         `json:"is_system"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// Permission represents an atomic capability, canonically named resource.action.
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Group       string    `json:"group"`
	Description string    `json:"description"`
	Order       int       `json:"order"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UserRole links a user to a role.
type UserRole struct {
	UserID    int64
	RoleID    int64
	GrantedBy *int64
	GrantedAt time.Time
	ExpiresAt *time.Time
}

// Active reports whether the grant is in force at t.
func (ur UserRole) Active(t time.Time) bool {
	return ur.ExpiresAt == nil || ur.ExpiresAt.After(t)
}

// RolePermission ties a permission to a role.
type RolePermission struct {
	RoleID       int64
	PermissionID int64
	GrantedBy    *int64
	GrantedAt    time.Time
}

// RoleAssignment is a requested role grant for a user.
type RoleAssignment struct {
	RoleID    int64
	ExpiresAt *time.Time
}

// PermissionGroup is a UI bucket of permissions.
type PermissionGroup struct {
	Group       string       `json:"group"`
	Permissions []Permission `json:"permissions"`
}

// UserFilter narrows user listings.
type UserFilter struct {
	Search string
	Status UserStatus
	Limit  int
	Offset int
}

// PermissionFilter narrows permission listings.
type PermissionFilter struct {
	Group    string
	Resource string
}

// NormalizeEmail trims and case-folds an email address.
func NormalizeEmail(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}

// NormalizeName lowercases and trims a machine name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// PermissionName builds the canonical resource.action name.
func PermissionName(resource, action string) string {
	return NormalizeName(resource) + "." + NormalizeName(action)
}
