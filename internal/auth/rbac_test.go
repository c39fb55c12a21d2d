package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"askbase.org/internal/ids"
)

func TestCreateRoleValidation(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRBAC()
	svc, err := NewRBACService(store)
	if err != nil {
		t.Fatalf("NewRBACService: %v", err)
	}

	if _, err := svc.CreateRole(ctx, &Role{ID: ids.New(), Name: "  "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty name accepted: %v", err)
	}
	if _, err := svc.CreateRole(ctx, &Role{ID: ids.New(), Name: "orphan", ParentRoleID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing parent accepted: %v", err)
	}

	parent, err := svc.CreateRole(ctx, &Role{ID: ids.New(), Name: "support", Level: 20})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	child, err := svc.CreateRole(ctx, &Role{ID: ids.New(), Name: "support_lead", Level: 40, ParentRoleID: parent.ID})
	if err != nil {
		t.Fatalf("CreateRole with parent: %v", err)
	}
	if !child.IsActive {
		t.Fatalf("new role not active")
	}

	if _, err := svc.CreateRole(ctx, &Role{ID: ids.New(), Name: "support"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate name accepted: %v", err)
	}
}

func TestUpdateRoleRejectsCycles(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRBAC()
	svc, _ := NewRBACService(store)

	a, _ := svc.CreateRole(ctx, &Role{ID: ids.New(), Name: "a", Level: 30})
	b, _ := svc.CreateRole(ctx, &Role{ID: ids.New(), Name: "b", Level: 20, ParentRoleID: a.ID})
	c, _ := svc.CreateRole(ctx, &Role{ID: ids.New(), Name: "c", Level: 10, ParentRoleID: b.ID})

	// Direct self-parent.
	self := a.ID
	if _, err := svc.UpdateRole(ctx, a.ID, RoleUpdate{ParentRoleID: &self}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("self-parent accepted: %v", err)
	}
	// Multi-hop cycle: a -> c while c -> b -> a.
	cid := c.ID
	if _, err := svc.UpdateRole(ctx, a.ID, RoleUpdate{ParentRoleID: &cid}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("multi-hop cycle accepted: %v", err)
	}
	// Legitimate reparenting still works.
	aid := a.ID
	if _, err := svc.UpdateRole(ctx, c.ID, RoleUpdate{ParentRoleID: &aid}); err != nil {
		t.Fatalf("valid reparent rejected: %v", err)
	}
	// Detaching is always allowed.
	empty := ""
	if _, err := svc.UpdateRole(ctx, b.ID, RoleUpdate{ParentRoleID: &empty}); err != nil {
		t.Fatalf("detach rejected: %v", err)
	}
}

func TestSystemRoleProtection(t *testing.T) {
	ctx := context.Background()
	store := seedGraph(t)
	svc, _ := NewRBACService(store)

	admin, err := store.GetRoleByName(ctx, RoleAdmin)
	if err != nil {
		t.Fatalf("GetRoleByName: %v", err)
	}
	name := "renamed"
	if _, err := svc.UpdateRole(ctx, admin.ID, RoleUpdate{Name: &name}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("system role rename accepted: %v", err)
	}
	if err := svc.DeleteRole(ctx, admin.ID); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("system role delete accepted: %v", err)
	}
}

func TestCreatePermissionUniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRBAC()
	svc, _ := NewRBACService(store)

	p, err := svc.CreatePermission(ctx, &Permission{ID: ids.New(), Resource: "Reports", Action: "Read", Module: "analytics"})
	if err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	if p.Resource != "reports" || p.Action != "read" || p.Name != "reports.read" {
		t.Fatalf("normalization failed: %+v", p)
	}
	if _, err := svc.CreatePermission(ctx, &Permission{ID: ids.New(), Resource: "reports", Action: "read"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate (resource, action) accepted: %v", err)
	}
	if _, err := svc.CreatePermission(ctx, &Permission{ID: ids.New(), Resource: "", Action: "read"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty resource accepted: %v", err)
	}
}

func TestAssignRoleValidation(t *testing.T) {
	ctx := context.Background()
	store := seedGraph(t)
	now := time.Now().UTC()
	svc, _ := NewRBACService(store, WithRBACClock(func() time.Time { return now }))

	editor, _ := store.GetRoleByName(ctx, RoleEditor)

	grant, err := svc.AssignRole(ctx, &UserRole{UserID: "u1", RoleID: editor.ID})
	if err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if grant.Scope != ScopeGlobal || !grant.IsActive {
		t.Fatalf("grant defaults wrong: %+v", grant)
	}

	if _, err := svc.AssignRole(ctx, &UserRole{UserID: "u1", RoleID: editor.ID, Scope: "galaxy"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad scope accepted: %v", err)
	}
	if _, err := svc.AssignRole(ctx, &UserRole{UserID: "u1", RoleID: editor.ID, ExpiresAt: now.Add(-time.Hour)}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("past expiry accepted: %v", err)
	}
	if _, err := svc.AssignRole(ctx, &UserRole{UserID: "u1", RoleID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing role accepted: %v", err)
	}

	if err := svc.RemoveAssignment(ctx, "u1", editor.ID); err != nil {
		t.Fatalf("RemoveAssignment: %v", err)
	}
	grants, _ := store.AssignmentsForUser(ctx, "u1")
	for _, g := range grants {
		if g.RoleID == editor.ID && g.IsActive {
			t.Fatalf("assignment still active after removal")
		}
	}
}
