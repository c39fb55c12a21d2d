package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"askbase.org/internal/audit"
	"askbase.org/internal/auth"
	"askbase.org/internal/ids"
	"askbase.org/internal/obs"
)

type createRoleRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Level        int    `json:"level"`
	ParentRoleID string `json:"parent_role_id"`
}

type updateRoleRequest struct {
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	Level        *int    `json:"level"`
	ParentRoleID *string `json:"parent_role_id"`
	IsActive     *bool   `json:"is_active"`
}

type createPermissionRequest struct {
	Name     string `json:"name"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Module   string `json:"module"`
	Priority int    `json:"priority"`
}

type grantPermissionRequest struct {
	PermissionID string `json:"permission_id"`
}

type assignRoleRequest struct {
	RoleID    string     `json:"role_id"`
	Scope     string     `json:"scope"`
	ScopeID   string     `json:"scope_id"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type authorizeRequest struct {
	UserID   string `json:"user_id"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	if a.rbac == nil {
		writeError(w, r, http.StatusServiceUnavailable, "rbac service unavailable")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.requirePermission(w, r, "roles", "manage") {
			return
		}
		roles, err := a.rbac.ListRoles(r.Context())
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		if !a.requirePermission(w, r, "roles", "manage") {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.rbac.CreateRole(r.Context(), &auth.Role{
			ID:           ids.New(),
			Name:         req.Name,
			Description:  req.Description,
			Level:        req.Level,
			ParentRoleID: req.ParentRoleID,
		})
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.create", map[string]any{
			"role_id": role.ID,
			"name":    role.Name,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/admin/roles/%s", role.ID))
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	if a.rbac == nil {
		writeError(w, r, http.StatusServiceUnavailable, "rbac service unavailable")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/admin/roles/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	roleID := parts[0]
	switch {
	case len(parts) == 1:
		a.handleRole(w, r, roleID)
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleRolePermissions(w, r, roleID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRole(w http.ResponseWriter, r *http.Request, roleID string) {
	if !a.requirePermission(w, r, "roles", "manage") {
		return
	}
	switch r.Method {
	case http.MethodGet:
		role, err := a.rbac.GetRole(r.Context(), roleID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodPatch:
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.rbac.UpdateRole(r.Context(), roleID, auth.RoleUpdate{
			Name:         req.Name,
			Description:  req.Description,
			Level:        req.Level,
			ParentRoleID: req.ParentRoleID,
			IsActive:     req.IsActive,
		})
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.update", map[string]any{
			"role_id": roleID,
		})
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		if err := a.rbac.DeleteRole(r.Context(), roleID); err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.delete", map[string]any{
			"role_id": roleID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request, roleID string) {
	if !a.requirePermission(w, r, "permissions", "manage") {
		return
	}
	switch r.Method {
	case http.MethodGet:
		perms, err := a.rbac.RolePermissions(r.Context(), roleID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
	case http.MethodPost:
		var req grantPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.rbac.GrantPermission(r.Context(), roleID, req.PermissionID); err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.grant", map[string]any{
			"role_id":       roleID,
			"permission_id": req.PermissionID,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		var req grantPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.rbac.RevokePermission(r.Context(), roleID, req.PermissionID); err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.revoke", map[string]any{
			"role_id":       roleID,
			"permission_id": req.PermissionID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if a.rbac == nil {
		writeError(w, r, http.StatusServiceUnavailable, "rbac service unavailable")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.requirePermission(w, r, "permissions", "manage") {
			return
		}
		perms, err := a.rbac.ListPermissions(r.Context())
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
	case http.MethodPost:
		if !a.requirePermission(w, r, "permissions", "manage") {
			return
		}
		var req createPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		perm, err := a.rbac.CreatePermission(r.Context(), &auth.Permission{
			ID:       ids.New(),
			Name:     req.Name,
			Resource: req.Resource,
			Action:   req.Action,
			Module:   req.Module,
			Priority: req.Priority,
		})
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.permission.create", map[string]any{
			"permission_id": perm.ID,
			"key":           perm.Key(),
		})
		writeJSON(w, http.StatusCreated, perm)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	if a.rbac == nil {
		writeError(w, r, http.StatusServiceUnavailable, "rbac service unavailable")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/admin/users/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]
	switch parts[1] {
	case "roles":
		a.handleUserRoles(w, r, userID)
	case "permissions":
		a.handleUserPermissions(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, userID string) {
	if !a.requirePermission(w, r, "users", "manage") {
		return
	}
	switch r.Method {
	case http.MethodGet:
		roles, err := a.resolver.UserRoles(r.Context(), userID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		grant := &auth.UserRole{
			UserID:  userID,
			RoleID:  strings.TrimSpace(req.RoleID),
			Scope:   req.Scope,
			ScopeID: req.ScopeID,
		}
		if req.ExpiresAt != nil {
			grant.ExpiresAt = *req.ExpiresAt
		}
		assigned, err := a.rbac.AssignRole(r.Context(), grant)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.user.assign_role", map[string]any{
			"user_id": userID,
			"role_id": assigned.RoleID,
			"scope":   assigned.Scope,
		})
		writeJSON(w, http.StatusCreated, assigned)
	case http.MethodDelete:
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.rbac.RemoveAssignment(r.Context(), userID, strings.TrimSpace(req.RoleID)); err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.user.remove_role", map[string]any{
			"user_id": userID,
			"role_id": req.RoleID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requirePermission(w, r, "users", "manage") {
		return
	}
	perms, err := a.resolver.UserPermissions(r.Context(), userID)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

// handleAuthorize answers "may user X do action Y on resource Z". Errors
// during resolution surface as 500, never as allowed.
func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requirePermission(w, r, "permissions", "manage") {
		return
	}
	var req authorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" || req.Resource == "" || req.Action == "" {
		writeError(w, r, http.StatusBadRequest, "user_id, resource and action are required")
		return
	}
	allowed, err := a.resolver.Check(r.Context(), req.UserID, req.Resource, req.Action)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "authorization check failed")
		return
	}
	if !allowed {
		obs.RecordDenial(req.Resource, req.Action)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed": allowed,
	})
}

func (a *API) handleSessionsCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requirePermission(w, r, "sessions", "manage") {
		return
	}
	n, err := a.lifecycle.CleanupExpired(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "cleanup failed")
		return
	}
	obs.RecordSweep(n)
	_ = audit.LogEvent(r.Context(), "auth.sessions.cleanup", map[string]any{
		"expired": n,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"expired_sessions": n,
	})
}

func handleRBACError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "rbac operation failed")
	}
}
