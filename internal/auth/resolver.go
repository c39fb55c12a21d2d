package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"askbase.org/internal/obs"
)

// Resolver computes effective permissions across the role-inheritance
// forest. Reads tolerate eventually-consistent grant data; every denial
// path fails closed.
type Resolver struct {
	store RBACStore
	now   func() time.Time
}

// NewResolver constructs a Resolver.
func NewResolver(store RBACStore, opts ...func(*Resolver)) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	r := &Resolver{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// WithResolverClock overrides the time source (useful for tests).
func WithResolverClock(fn func() time.Time) func(*Resolver) {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// UserRoles loads the user's effective roles: active, unexpired grants
// joined to active roles, most senior first. Expiry is evaluated lazily on
// every call.
func (r *Resolver) UserRoles(ctx context.Context, userID string) ([]*Role, error) {
	grants, err := r.store.AssignmentsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	now := r.now().UTC()
	var roles []*Role
	for _, grant := range grants {
		if !grant.Effective(now) {
			continue
		}
		role, err := r.store.GetRole(ctx, grant.RoleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("load role: %w", err)
		}
		if !role.IsActive {
			continue
		}
		roles = append(roles, role)
	}
	// Level ordering is for display and tie-breaks only; resolution is a
	// union, not a priority chain.
	sort.Slice(roles, func(i, j int) bool { return roles[i].Level > roles[j].Level })
	return roles, nil
}

// UserPermissions returns the union of direct and inherited permissions
// across the user's effective roles, deduplicated by identity.
func (r *Resolver) UserPermissions(ctx context.Context, userID string) ([]*Permission, error) {
	roles, err := r.UserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]*Permission)
	visited := make(map[string]struct{})
	for _, role := range roles {
		if err := r.collect(ctx, role.ID, visited, seen); err != nil {
			return nil, err
		}
	}
	out := make([]*Permission, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// collect walks the parent chain with an explicit worklist and a visited
// set, so a mistaken multi-hop cycle terminates instead of recursing
// without bound.
func (r *Resolver) collect(ctx context.Context, roleID string, visited map[string]struct{}, into map[string]*Permission) error {
	stack := []string{roleID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}

		perms, err := r.store.PermissionsForRole(ctx, id)
		if err != nil {
			return fmt.Errorf("load role permissions: %w", err)
		}
		for _, p := range perms {
			if p.IsActive {
				into[p.ID] = p
			}
		}

		role, err := r.store.GetRole(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return fmt.Errorf("load role: %w", err)
		}
		if role.ParentRoleID != "" {
			stack = append(stack, role.ParentRoleID)
		}
	}
	return nil
}

// Check answers the point query "may userID perform action on resource".
// An unregistered (resource, action) pair is a configuration warning, not
// an error, and is never grantable.
func (r *Resolver) Check(ctx context.Context, userID, resource, action string) (bool, error) {
	perm, err := r.store.FindPermission(ctx, resource, action)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.LogRequest(map[string]any{
				"level":    "warn",
				"msg":      "permission not registered",
				"resource": resource,
				"action":   action,
			})
			return false, nil
		}
		return false, fmt.Errorf("resolve permission: %w", err)
	}

	roles, err := r.UserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	visited := make(map[string]struct{})
	for _, role := range roles {
		ok, err := r.holds(ctx, role.ID, perm.ID, visited)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// holds short-circuits on the first role in the inheritance chain carrying
// the permission.
func (r *Resolver) holds(ctx context.Context, roleID, permissionID string, visited map[string]struct{}) (bool, error) {
	stack := []string{roleID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}

		perms, err := r.store.PermissionsForRole(ctx, id)
		if err != nil {
			return false, fmt.Errorf("load role permissions: %w", err)
		}
		for _, p := range perms {
			if p.IsActive && p.ID == permissionID {
				return true, nil
			}
		}

		role, err := r.store.GetRole(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return false, fmt.Errorf("load role: %w", err)
		}
		if role.ParentRoleID != "" {
			stack = append(stack, role.ParentRoleID)
		}
	}
	return false, nil
}

// Authorize is the allow/deny contract consumed by the HTTP layer. Denials
// carry the missing (resource, action) pair, which documents the contract
// without exposing the role graph.
func (r *Resolver) Authorize(ctx context.Context, userID, resource, action string) error {
	ok, err := r.Check(ctx, userID, resource, action)
	if err != nil {
		// Store unreachable or chain unresolvable: deny, never allow.
		return fmt.Errorf("%w: %s.%s", ErrInsufficientPermissions, resource, action)
	}
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrInsufficientPermissions, resource, action)
	}
	return nil
}

// Principal loads the user together with resolved roles and permissions.
func (r *Resolver) Principal(ctx context.Context, user *User) (Principal, error) {
	roles, err := r.UserRoles(ctx, user.ID)
	if err != nil {
		return Principal{}, err
	}
	perms, err := r.UserPermissions(ctx, user.ID)
	if err != nil {
		return Principal{}, err
	}
	return NewPrincipal(user, roles, perms), nil
}
