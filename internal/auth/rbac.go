package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RBACStore describes persistence for the authorization graph. Reads are
// frequent (resolution), writes administrative and rare.
type RBACStore interface {
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, id string) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]*Role, error)
	UpdateRole(ctx context.Context, id string, upd RoleUpdate) (*Role, error)
	DeleteRole(ctx context.Context, id string) error

	CreatePermission(ctx context.Context, perm *Permission) error
	// FindPermission resolves the single active permission registered
	// for a (resource, action) pair.
	FindPermission(ctx context.Context, resource, action string) (*Permission, error)
	ListPermissions(ctx context.Context) ([]*Permission, error)

	// GrantPermission upserts the role→permission edge as active.
	GrantPermission(ctx context.Context, roleID, permissionID string) error
	RevokePermission(ctx context.Context, roleID, permissionID string) error
	// PermissionsForRole returns the active permissions directly granted
	// to the role, not including inherited ones.
	PermissionsForRole(ctx context.Context, roleID string) ([]*Permission, error)

	// AssignRole upserts the user→role edge as active.
	AssignRole(ctx context.Context, grant *UserRole) error
	RemoveAssignment(ctx context.Context, userID, roleID string) error
	AssignmentsForUser(ctx context.Context, userID string) ([]*UserRole, error)
}

// RoleUpdate mutates selected role fields.
type RoleUpdate struct {
	Name         *string
	Description  *string
	Level        *int
	ParentRoleID *string
	IsActive     *bool
}

// RBACService validates administrative mutations of the authorization
// graph before they reach the store.
type RBACService struct {
	store RBACStore
	now   func() time.Time
}

// NewRBACService constructs the administrative service.
func NewRBACService(store RBACStore, opts ...func(*RBACService)) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	svc := &RBACService{store: store, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// WithRBACClock overrides the time source (useful for tests).
func WithRBACClock(fn func() time.Time) func(*RBACService) {
	return func(s *RBACService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// CreateRole registers a role. The parent, when given, must exist.
func (s *RBACService) CreateRole(ctx context.Context, role *Role) (*Role, error) {
	if role == nil {
		return nil, fmt.Errorf("%w: role is required", ErrInvalidInput)
	}
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	role.Description = strings.TrimSpace(role.Description)
	role.ParentRoleID = strings.TrimSpace(role.ParentRoleID)
	if role.ParentRoleID != "" {
		if _, err := s.store.GetRole(ctx, role.ParentRoleID); err != nil {
			return nil, fmt.Errorf("%w: parent role %s", ErrNotFound, role.ParentRoleID)
		}
	}
	role.IsActive = true
	if err := s.store.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// UpdateRole mutates a role. System roles cannot be renamed and a parent
// change is rejected when it would close a cycle, direct or multi-hop.
func (s *RBACService) UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (*Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	current, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		if current.IsSystem {
			return nil, fmt.Errorf("%w: system role cannot be renamed", ErrInvalidInput)
		}
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.ParentRoleID != nil {
		parent := strings.TrimSpace(*upd.ParentRoleID)
		if parent == roleID {
			return nil, fmt.Errorf("%w: role cannot be its own parent", ErrInvalidInput)
		}
		if parent != "" {
			if err := s.checkNoCycle(ctx, roleID, parent); err != nil {
				return nil, err
			}
		}
		upd.ParentRoleID = &parent
	}
	return s.store.UpdateRole(ctx, roleID, upd)
}

// checkNoCycle walks the proposed parent chain and refuses a write that
// would make roleID reachable from itself.
func (s *RBACService) checkNoCycle(ctx context.Context, roleID, parentID string) error {
	visited := map[string]struct{}{}
	next := parentID
	for next != "" {
		if next == roleID {
			return fmt.Errorf("%w: parent chain would form a cycle", ErrInvalidInput)
		}
		if _, seen := visited[next]; seen {
			// Pre-existing cycle upstream; refuse to attach to it.
			return fmt.Errorf("%w: parent chain would form a cycle", ErrInvalidInput)
		}
		visited[next] = struct{}{}
		ancestor, err := s.store.GetRole(ctx, next)
		if err != nil {
			return err
		}
		next = ancestor.ParentRoleID
	}
	return nil
}

// DeleteRole removes a role. System roles are protected.
func (s *RBACService) DeleteRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: system role cannot be deleted", ErrInvalidInput)
	}
	return s.store.DeleteRole(ctx, roleID)
}

// ListRoles returns every registered role.
func (s *RBACService) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole fetches one role by id.
func (s *RBACService) GetRole(ctx context.Context, roleID string) (*Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.GetRole(ctx, roleID)
}

// RolePermissions lists the permissions attached directly to a role,
// without inherited ones.
func (s *RBACService) RolePermissions(ctx context.Context, roleID string) ([]*Permission, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return s.store.PermissionsForRole(ctx, roleID)
}

// CreatePermission registers a capability. The (resource, action) pair
// must be unique among active permissions; the store surfaces ErrConflict.
func (s *RBACService) CreatePermission(ctx context.Context, perm *Permission) (*Permission, error) {
	if perm == nil {
		return nil, fmt.Errorf("%w: permission is required", ErrInvalidInput)
	}
	perm.Resource = strings.TrimSpace(strings.ToLower(perm.Resource))
	perm.Action = strings.TrimSpace(strings.ToLower(perm.Action))
	if perm.Resource == "" || perm.Action == "" {
		return nil, fmt.Errorf("%w: resource and action are required", ErrInvalidInput)
	}
	if strings.TrimSpace(perm.Name) == "" {
		perm.Name = perm.Key()
	}
	perm.IsActive = true
	if err := s.store.CreatePermission(ctx, perm); err != nil {
		return nil, err
	}
	return perm, nil
}

// ListPermissions returns the full catalog.
func (s *RBACService) ListPermissions(ctx context.Context) ([]*Permission, error) {
	return s.store.ListPermissions(ctx)
}

// GrantPermission attaches a permission to a role.
func (s *RBACService) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	roleID = strings.TrimSpace(roleID)
	permissionID = strings.TrimSpace(permissionID)
	if roleID == "" || permissionID == "" {
		return fmt.Errorf("%w: role_id and permission_id are required", ErrInvalidInput)
	}
	return s.store.GrantPermission(ctx, roleID, permissionID)
}

// RevokePermission detaches a permission from a role.
func (s *RBACService) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	roleID = strings.TrimSpace(roleID)
	permissionID = strings.TrimSpace(permissionID)
	if roleID == "" || permissionID == "" {
		return fmt.Errorf("%w: role_id and permission_id are required", ErrInvalidInput)
	}
	return s.store.RevokePermission(ctx, roleID, permissionID)
}

// AssignRole grants a role to a user within an optional scope and lifetime.
func (s *RBACService) AssignRole(ctx context.Context, grant *UserRole) (*UserRole, error) {
	if grant == nil {
		return nil, fmt.Errorf("%w: grant is required", ErrInvalidInput)
	}
	grant.UserID = strings.TrimSpace(grant.UserID)
	grant.RoleID = strings.TrimSpace(grant.RoleID)
	if grant.UserID == "" || grant.RoleID == "" {
		return nil, fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	if grant.Scope == "" {
		grant.Scope = ScopeGlobal
	}
	if !ValidScope(grant.Scope) {
		return nil, fmt.Errorf("%w: unsupported scope %s", ErrInvalidInput, grant.Scope)
	}
	if !grant.ExpiresAt.IsZero() && !grant.ExpiresAt.After(s.now().UTC()) {
		return nil, fmt.Errorf("%w: expires_at is in the past", ErrInvalidInput)
	}
	if _, err := s.store.GetRole(ctx, grant.RoleID); err != nil {
		return nil, err
	}
	grant.IsActive = true
	if err := s.store.AssignRole(ctx, grant); err != nil {
		return nil, err
	}
	return grant, nil
}

// RemoveAssignment revokes a user's role grant.
func (s *RBACService) RemoveAssignment(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	return s.store.RemoveAssignment(ctx, userID, roleID)
}
