package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemoryRBAC implements RBACStore with in-process concurrency safety.
// Used by tests and as the DB-less fallback in cmd/api.
type InMemoryRBAC struct {
	mu          sync.RWMutex
	roles       map[string]*Role
	perms       map[string]*Permission
	rolePerms   map[string]map[string]*RolePermission // roleID -> permID
	assignments map[string]map[string]*UserRole       // userID -> roleID
}

var _ RBACStore = (*InMemoryRBAC)(nil)

// NewInMemoryRBAC creates an empty authorization graph.
func NewInMemoryRBAC() *InMemoryRBAC {
	return &InMemoryRBAC{
		roles:       make(map[string]*Role),
		perms:       make(map[string]*Permission),
		rolePerms:   make(map[string]map[string]*RolePermission),
		assignments: make(map[string]map[string]*UserRole),
	}
}

func (m *InMemoryRBAC) CreateRole(ctx context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.Name == role.Name {
			return ErrConflict
		}
	}
	role.CreatedAt = time.Now().UTC()
	role.UpdatedAt = role.CreatedAt
	cp := *role
	m.roles[role.ID] = &cp
	return nil
}

func (m *InMemoryRBAC) GetRole(ctx context.Context, id string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (m *InMemoryRBAC) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, role := range m.roles {
		if role.Name == name {
			cp := *role
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *InMemoryRBAC) ListRoles(ctx context.Context) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Role, 0, len(m.roles))
	for _, role := range m.roles {
		cp := *role
		out = append(out, &cp)
	}
	return out, nil
}

func (m *InMemoryRBAC) UpdateRole(ctx context.Context, id string, upd RoleUpdate) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		role.Name = *upd.Name
	}
	if upd.Description != nil {
		role.Description = *upd.Description
	}
	if upd.Level != nil {
		role.Level = *upd.Level
	}
	if upd.ParentRoleID != nil {
		role.ParentRoleID = *upd.ParentRoleID
	}
	if upd.IsActive != nil {
		role.IsActive = *upd.IsActive
	}
	role.UpdatedAt = time.Now().UTC()
	cp := *role
	return &cp, nil
}

func (m *InMemoryRBAC) DeleteRole(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	delete(m.rolePerms, id)
	return nil
}

func (m *InMemoryRBAC) CreatePermission(ctx context.Context, perm *Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.perms {
		if existing.IsActive && existing.Resource == perm.Resource && existing.Action == perm.Action {
			return ErrConflict
		}
	}
	perm.CreatedAt = time.Now().UTC()
	cp := *perm
	m.perms[perm.ID] = &cp
	return nil
}

func (m *InMemoryRBAC) FindPermission(ctx context.Context, resource, action string) (*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, perm := range m.perms {
		if perm.IsActive && perm.Resource == resource && perm.Action == action {
			cp := *perm
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *InMemoryRBAC) ListPermissions(ctx context.Context) ([]*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Permission, 0, len(m.perms))
	for _, perm := range m.perms {
		cp := *perm
		out = append(out, &cp)
	}
	return out, nil
}

func (m *InMemoryRBAC) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.perms[permissionID]; !ok {
		return ErrNotFound
	}
	edges, ok := m.rolePerms[roleID]
	if !ok {
		edges = make(map[string]*RolePermission)
		m.rolePerms[roleID] = edges
	}
	edges[permissionID] = &RolePermission{
		RoleID:       roleID,
		PermissionID: permissionID,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	return nil
}

func (m *InMemoryRBAC) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	edges, ok := m.rolePerms[roleID]
	if !ok {
		return ErrNotFound
	}
	edge, ok := edges[permissionID]
	if !ok {
		return ErrNotFound
	}
	edge.IsActive = false
	return nil
}

func (m *InMemoryRBAC) PermissionsForRole(ctx context.Context, roleID string) ([]*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Permission
	for permID, edge := range m.rolePerms[roleID] {
		if !edge.IsActive {
			continue
		}
		if perm, ok := m.perms[permID]; ok && perm.IsActive {
			cp := *perm
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *InMemoryRBAC) AssignRole(ctx context.Context, grant *UserRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[grant.RoleID]; !ok {
		return ErrNotFound
	}
	grants, ok := m.assignments[grant.UserID]
	if !ok {
		grants = make(map[string]*UserRole)
		m.assignments[grant.UserID] = grants
	}
	grant.CreatedAt = time.Now().UTC()
	cp := *grant
	grants[grant.RoleID] = &cp
	return nil
}

func (m *InMemoryRBAC) RemoveAssignment(ctx context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	grants, ok := m.assignments[userID]
	if !ok {
		return ErrNotFound
	}
	grant, ok := grants[roleID]
	if !ok {
		return ErrNotFound
	}
	grant.IsActive = false
	return nil
}

func (m *InMemoryRBAC) AssignmentsForUser(ctx context.Context, userID string) ([]*UserRole, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*UserRole
	for _, grant := range m.assignments[userID] {
		cp := *grant
		out = append(out, &cp)
	}
	return out, nil
}

// InMemoryUsers implements UserStore for tests and the DB-less fallback.
type InMemoryUsers struct {
	mu    sync.RWMutex
	users map[string]*User
}

var _ UserStore = (*InMemoryUsers)(nil)

// NewInMemoryUsers creates an empty credential store.
func NewInMemoryUsers() *InMemoryUsers {
	return &InMemoryUsers{users: make(map[string]*User)}
}

// Put inserts or replaces a user record.
func (m *InMemoryUsers) Put(u *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
}

func (m *InMemoryUsers) Find(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *InMemoryUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}
