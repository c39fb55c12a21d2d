package auth

import (
	"context"
	"time"
)

// User account states.
const (
	UserStatusPending  = "pending"
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User is the credential-store record referenced by tokens and grants.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username,omitempty"`
	Role          string    `json:"role,omitempty"`
	PasswordHash  string    `json:"-"`
	Status        string    `json:"status"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CanAuthenticate reports whether token issuance preconditions hold.
func (u *User) CanAuthenticate() bool {
	return u != nil && u.Status == UserStatusActive && u.EmailVerified
}

// UserStore is the credential-store lookup consumed by the lifecycle
// manager. User records are owned elsewhere.
type UserStore interface {
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// Role groups permissions. ParentRoleID forms a forest; a role inherits
// every permission of its parent, transitively.
type Role struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Level        int       `json:"level"`
	ParentRoleID string    `json:"parent_role_id,omitempty"`
	IsSystem     bool      `json:"is_system"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Permission is a fine-grained capability on a (resource, action) pair,
// unique among active permissions.
type Permission struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Resource  string    `json:"resource"`
	Action    string    `json:"action"`
	Module    string    `json:"module,omitempty"`
	Priority  int       `json:"priority"`
	IsSystem  bool      `json:"is_system"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Key is the canonical resource.action identifier.
func (p *Permission) Key() string {
	return p.Resource + "." + p.Action
}

// RolePermission links a role to a permission.
type RolePermission struct {
	RoleID       string    `json:"role_id"`
	PermissionID string    `json:"permission_id"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Grant scopes.
const (
	ScopeGlobal       = "global"
	ScopeOrganization = "organization"
	ScopeDepartment   = "department"
	ScopeProject      = "project"
)

// UserRole grants a role to a user within an optional scope and lifetime.
type UserRole struct {
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	Scope     string    `json:"scope"`
	ScopeID   string    `json:"scope_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Effective reports whether the grant currently applies. Expiry is
// evaluated lazily on every query; there is no background sweep for grants.
func (g *UserRole) Effective(now time.Time) bool {
	if g == nil || !g.IsActive {
		return false
	}
	return g.ExpiresAt.IsZero() || now.Before(g.ExpiresAt)
}

// ValidScope reports whether the scope value is one of the known kinds.
func ValidScope(scope string) bool {
	switch scope {
	case ScopeGlobal, ScopeOrganization, ScopeDepartment, ScopeProject:
		return true
	}
	return false
}
