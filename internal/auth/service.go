package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"askbase.org/internal/ids"
	"askbase.org/internal/session"
	"askbase.org/internal/token"
)

// Service orchestrates the token service and the session store: issuance,
// rotation-on-refresh, single-session revocation and bulk revocation.
type Service struct {
	tokens      *token.Service
	sessions    session.Store
	users       UserStore
	now         func() time.Time
	idleCeiling time.Duration
}

// TokenPair is the issuance result handed to the HTTP layer.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithIdleCeiling overrides the maximum allowed gap since last activity.
func WithIdleCeiling(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.idleCeiling = d
		}
	}
}

// NewService wires the lifecycle manager.
func NewService(tokens *token.Service, sessions session.Store, users UserStore, opts ...ServiceOption) (*Service, error) {
	if tokens == nil || sessions == nil || users == nil {
		return nil, fmt.Errorf("%w: token service, session store and user store are required", ErrInvalidInput)
	}
	svc := &Service{
		tokens:      tokens,
		sessions:    sessions,
		users:       users,
		now:         time.Now,
		idleCeiling: session.DefaultIdleCeiling,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Login authenticates credentials and issues a fresh token pair backed by a
// new session in a new token family. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string, meta session.Metadata) (TokenPair, *User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	if err := checkAccountState(user); err != nil {
		return TokenPair{}, nil, err
	}
	pair, err := s.issuePair(ctx, user, ids.New(), meta)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// Refresh redeems a refresh token exactly once. The matched session is
// revoked with reason refresh_token_used and a new session is created in
// the same token family. A replayed token finds no active session and is
// rejected; siblings in the family are deliberately left alone (see
// DESIGN.md on reuse detection posture).
func (s *Service) Refresh(ctx context.Context, rawRefresh string, meta session.Metadata) (TokenPair, error) {
	claims, err := s.tokens.VerifyRefreshToken(rawRefresh)
	if err != nil {
		return TokenPair{}, ErrInvalidOrExpiredToken
	}
	user, err := s.users.Find(ctx, claims.UserID())
	if err != nil || !user.CanAuthenticate() {
		return TokenPair{}, ErrInvalidOrExpiredToken
	}

	now := s.now().UTC()
	actives, err := s.sessions.ActiveByUser(ctx, user.ID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("load sessions: %w", err)
	}
	var match *session.Session
	for _, sess := range actives {
		if sess.MatchesToken(rawRefresh) {
			match = sess
			break
		}
	}
	if match == nil || !match.Valid(now, s.idleCeiling) {
		return TokenPair{}, ErrInvalidOrExpiredToken
	}

	// Conditional update: only one concurrent caller wins the rotation,
	// the loser observes an already-revoked row and fails.
	revoked, err := s.sessions.Revoke(ctx, match.ID, session.ReasonRefreshTokenUsed, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("revoke session: %w", err)
	}
	if !revoked {
		return TokenPair{}, ErrInvalidOrExpiredToken
	}
	if err := s.sessions.Touch(ctx, match.ID, now, meta); err != nil {
		return TokenPair{}, fmt.Errorf("touch session: %w", err)
	}
	return s.issuePair(ctx, user, match.TokenFamily, meta)
}

// Logout revokes the session backing the given refresh token. Logging out
// an already-logged-out session is not a failure; it reports false.
func (s *Service) Logout(ctx context.Context, rawRefresh string) (bool, error) {
	claims, err := s.tokens.VerifyRefreshToken(rawRefresh)
	if err != nil {
		return false, nil
	}
	actives, err := s.sessions.ActiveByUser(ctx, claims.UserID())
	if err != nil {
		return false, fmt.Errorf("load sessions: %w", err)
	}
	for _, sess := range actives {
		if !sess.MatchesToken(rawRefresh) {
			continue
		}
		revoked, err := s.sessions.Revoke(ctx, sess.ID, session.ReasonLogout, s.now().UTC())
		if err != nil {
			return false, fmt.Errorf("revoke session: %w", err)
		}
		return revoked, nil
	}
	return false, nil
}

// LogoutAll revokes every active session for the user. Used for
// logout-everywhere and forced invalidation after a password reset or an
// administrative disable; reason defaults to logout_all.
func (s *Service) LogoutAll(ctx context.Context, userID, reason string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if reason == "" {
		reason = session.ReasonLogoutAll
	}
	return s.sessions.RevokeAllByUser(ctx, userID, reason, s.now().UTC())
}

// VerifyAccessToken validates the token statelessly, then re-fetches the
// user so a disabled or unverified account invalidates outstanding tokens.
func (s *Service) VerifyAccessToken(ctx context.Context, raw string) (*token.Claims, *User, error) {
	claims, err := s.tokens.VerifyAccessToken(raw)
	if err != nil {
		return nil, nil, token.ErrInvalidToken
	}
	user, err := s.users.Find(ctx, claims.UserID())
	if err != nil || !user.CanAuthenticate() {
		return nil, nil, token.ErrInvalidToken
	}
	return claims, user, nil
}

// CleanupExpired delegates to the session store sweep. Exposed for the
// operator-triggered cleanup action.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	return s.sessions.SweepExpired(ctx, s.now().UTC())
}

// issuePair mints a fresh pair and persists the backing session row. The
// store keeps only the hash of the refresh token.
func (s *Service) issuePair(ctx context.Context, user *User, family string, meta session.Metadata) (TokenPair, error) {
	now := s.now().UTC()
	if _, err := s.sessions.SweepExpired(ctx, now); err != nil {
		return TokenPair{}, fmt.Errorf("sweep sessions: %w", err)
	}

	access, accessExp, err := s.tokens.IssueAccessToken(token.Identity{
		UserID:   user.ID,
		Email:    user.Email,
		Role:     user.Role,
		Username: user.Username,
	})
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return TokenPair{}, err
	}

	sess := &session.Session{
		ID:               ids.NewAt(now),
		UserID:           user.ID,
		RefreshTokenHash: session.HashToken(refresh),
		TokenFamily:      family,
		Status:           session.StatusActive,
		ExpiresAt:        refreshExp,
		Metadata:         meta,
		CreatedAt:        now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return TokenPair{}, fmt.Errorf("create session: %w", err)
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int64(accessExp.Sub(now).Seconds()),
		RefreshExpiresAt: refreshExp,
	}, nil
}

func checkAccountState(user *User) error {
	switch {
	case user.Status == UserStatusDisabled:
		return ErrAccountDisabled
	case !user.EmailVerified || user.Status == UserStatusPending:
		return ErrEmailNotVerified
	case user.Status != UserStatusActive:
		return ErrAccountDisabled
	}
	return nil
}
