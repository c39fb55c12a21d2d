package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"askbase.org/internal/audit"
	"askbase.org/internal/auth"
	"askbase.org/internal/obs"
	"askbase.org/internal/session"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userSummary struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Username      string `json:"username,omitempty"`
	Role          string `json:"role,omitempty"`
	Status        string `json:"status"`
	EmailVerified bool   `json:"email_verified"`
}

func summarize(u *auth.User) userSummary {
	return userSummary{
		ID:            u.ID,
		Email:         u.Email,
		Username:      u.Username,
		Role:          u.Role,
		Status:        string(u.Status),
		EmailVerified: u.EmailVerified,
	}
}

func requestMetadata(r *http.Request) session.Metadata {
	return session.Metadata{
		IPAddress:  clientIP(r),
		UserAgent:  r.Header.Get("User-Agent"),
		DeviceInfo: r.Header.Get("X-Device-Info"),
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	pair, user, err := a.lifecycle.Login(r.Context(), req.Email, req.Password, requestMetadata(r))
	if err != nil {
		obs.RecordLogin("failure")
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, auth.ErrAccountDisabled):
			writeError(w, r, http.StatusForbidden, "account is disabled")
		case errors.Is(err, auth.ErrEmailNotVerified):
			writeError(w, r, http.StatusForbidden, "email is not verified")
		default:
			writeError(w, r, http.StatusInternalServerError, "login failed")
		}
		return
	}

	obs.RecordLogin("success")
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": user.ID,
		"ip":      clientIP(r),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"tokens": pair,
		"user":   summarize(user),
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := a.lifecycle.Refresh(r.Context(), req.RefreshToken, requestMetadata(r))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidOrExpiredToken):
			writeError(w, r, http.StatusUnauthorized, "invalid or expired refresh token")
		case errors.Is(err, auth.ErrAccountDisabled), errors.Is(err, auth.ErrEmailNotVerified):
			writeError(w, r, http.StatusForbidden, "account not allowed to authenticate")
		default:
			writeError(w, r, http.StatusInternalServerError, "token refresh failed")
		}
		return
	}

	obs.RecordRotation()
	_ = audit.LogEvent(r.Context(), "auth.token.rotated", map[string]any{
		"ip": clientIP(r),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"tokens": pair,
	})
}

// handleLogout revokes the presented refresh token's session. Unknown or
// already-revoked tokens are reported as revoked=false, never as errors.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	revoked, err := a.lifecycle.Logout(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}
	if revoked {
		obs.RecordRevocations(session.ReasonLogout, 1)
		_ = audit.LogEvent(r.Context(), "auth.session.revoked", map[string]any{
			"reason": session.ReasonLogout,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"revoked": revoked,
	})
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	n, err := a.lifecycle.LogoutAll(r.Context(), principal.User.ID, session.ReasonLogoutAll)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}
	obs.RecordRevocations(session.ReasonLogoutAll, n)
	_ = audit.LogEvent(r.Context(), "auth.session.revoked_all", map[string]any{
		"count": n,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"revoked_sessions": n,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	roles := make([]string, 0, len(principal.Roles))
	for _, role := range principal.Roles {
		roles = append(roles, role.Name)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  summarize(principal.User),
		"roles": roles,
	})
}

func (a *API) handleMyPermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	perms, err := a.resolver.UserPermissions(r.Context(), principal.User.ID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "permission resolution failed")
		return
	}
	keys := make([]string, 0, len(perms))
	for _, p := range perms {
		keys = append(keys, p.Key())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"permissions": keys,
	})
}
