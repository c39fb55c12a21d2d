package auth

import (
	"context"
	"errors"

	"askbase.org/internal/ids"
)

// Bootstrap role names, most senior first. Each role inherits everything
// below it through the parent chain.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleEditor     = "editor"
	RoleViewer     = "viewer"
)

type seedRole struct {
	name   string
	level  int
	parent string
}

var bootstrapRoles = []seedRole{
	{name: RoleViewer, level: 10},
	{name: RoleEditor, level: 50, parent: RoleViewer},
	{name: RoleAdmin, level: 90, parent: RoleEditor},
	{name: RoleSuperAdmin, level: 100, parent: RoleAdmin},
}

// BuiltinPermissions is the fixed catalog of resource.action pairs grouped
// by product module.
var BuiltinPermissions = []Permission{
	{Resource: "documents", Action: "read", Module: "knowledge", Priority: 10},
	{Resource: "documents", Action: "create", Module: "knowledge", Priority: 50},
	{Resource: "documents", Action: "update", Module: "knowledge", Priority: 50},
	{Resource: "documents", Action: "publish", Module: "knowledge", Priority: 50},
	{Resource: "documents", Action: "delete", Module: "knowledge", Priority: 90},
	{Resource: "faqs", Action: "read", Module: "knowledge", Priority: 10},
	{Resource: "faqs", Action: "create", Module: "knowledge", Priority: 50},
	{Resource: "faqs", Action: "update", Module: "knowledge", Priority: 50},
	{Resource: "faqs", Action: "delete", Module: "knowledge", Priority: 90},
	{Resource: "conversations", Action: "read", Module: "support", Priority: 10},
	{Resource: "conversations", Action: "respond", Module: "support", Priority: 50},
	{Resource: "conversations", Action: "delete", Module: "support", Priority: 90},
	{Resource: "files", Action: "download", Module: "storage", Priority: 10},
	{Resource: "files", Action: "upload", Module: "storage", Priority: 50},
	{Resource: "files", Action: "delete", Module: "storage", Priority: 90},
	{Resource: "users", Action: "manage", Module: "admin", Priority: 90},
	{Resource: "sessions", Action: "manage", Module: "admin", Priority: 90},
	{Resource: "roles", Action: "manage", Module: "admin", Priority: 100},
	{Resource: "permissions", Action: "manage", Module: "admin", Priority: 100},
}

// Direct grants per bootstrap role. Inherited permissions come through the
// parent chain, so each role lists only its own tier.
var bootstrapGrants = map[string][]string{
	RoleViewer:     {"documents.read", "faqs.read", "conversations.read", "files.download"},
	RoleEditor:     {"documents.create", "documents.update", "documents.publish", "faqs.create", "faqs.update", "conversations.respond", "files.upload"},
	RoleAdmin:      {"documents.delete", "faqs.delete", "conversations.delete", "files.delete", "users.manage", "sessions.manage"},
	RoleSuperAdmin: {"roles.manage", "permissions.manage"},
}

// Seed installs the bootstrap permission catalog and role hierarchy.
// Safe to run repeatedly; existing rows are left in place.
func Seed(ctx context.Context, store RBACStore) error {
	permsByKey := make(map[string]*Permission, len(BuiltinPermissions))
	for i := range BuiltinPermissions {
		p := BuiltinPermissions[i]
		p.ID = ids.New()
		p.Name = p.Key()
		p.IsSystem = true
		p.IsActive = true
		if err := store.CreatePermission(ctx, &p); err != nil {
			if !errors.Is(err, ErrConflict) {
				return err
			}
			existing, err := store.FindPermission(ctx, p.Resource, p.Action)
			if err != nil {
				return err
			}
			permsByKey[existing.Key()] = existing
			continue
		}
		permsByKey[p.Key()] = &p
	}

	rolesByName := make(map[string]*Role, len(bootstrapRoles))
	for _, sr := range bootstrapRoles {
		if existing, err := store.GetRoleByName(ctx, sr.name); err == nil {
			rolesByName[sr.name] = existing
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		role := &Role{
			ID:       ids.New(),
			Name:     sr.name,
			Level:    sr.level,
			IsSystem: true,
			IsActive: true,
		}
		if sr.parent != "" {
			role.ParentRoleID = rolesByName[sr.parent].ID
		}
		if err := store.CreateRole(ctx, role); err != nil && !errors.Is(err, ErrConflict) {
			return err
		}
		rolesByName[sr.name] = role
	}

	for roleName, keys := range bootstrapGrants {
		role := rolesByName[roleName]
		for _, key := range keys {
			perm, ok := permsByKey[key]
			if !ok {
				continue
			}
			if err := store.GrantPermission(ctx, role.ID, perm.ID); err != nil && !errors.Is(err, ErrConflict) {
				return err
			}
		}
	}
	return nil
}
