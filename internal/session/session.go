// Package session tracks the server-side record behind every outstanding
// refresh token. Rows are an append-style audit trail: they change status
// but are never hard-deleted.
package session

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"
)

// Status of a session row.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// Revoke reasons recorded alongside a status transition.
const (
	ReasonLogout           = "logout"
	ReasonLogoutAll        = "logout_all"
	ReasonRefreshTokenUsed = "refresh_token_used"
	ReasonPasswordReset    = "password_reset"
	ReasonAccountDisabled  = "account_disabled"
	ReasonUserRevoked      = "user_revoked"
	ReasonExpired          = "expired"
)

// DefaultIdleCeiling is the maximum gap since last activity before an
// otherwise-active session stops validating.
const DefaultIdleCeiling = 30 * 24 * time.Hour

// ErrNotFound indicates the session row does not exist.
var ErrNotFound = errors.New("session: not found")

// Metadata captures device/network attributes supplied by the caller.
type Metadata struct {
	IPAddress    string
	UserAgent    string
	DeviceInfo   string
	LocationInfo string
}

// Session is one row per issued refresh token. Only the hash of the token
// is stored; the raw value never touches persistence.
type Session struct {
	ID               string
	UserID           string
	RefreshTokenHash string
	TokenFamily      string
	Status           Status
	ExpiresAt        time.Time
	LastActivityAt   time.Time
	RevokedAt        time.Time
	RevokeReason     string
	Metadata         Metadata
	CreatedAt        time.Time
}

// Valid reports whether the session can still redeem its refresh token:
// active status, unexpired, and not idle beyond the ceiling.
func (s *Session) Valid(now time.Time, idleCeiling time.Duration) bool {
	if s == nil || s.Status != StatusActive {
		return false
	}
	if !now.Before(s.ExpiresAt) {
		return false
	}
	if idleCeiling > 0 && !s.LastActivityAt.IsZero() && now.Sub(s.LastActivityAt) >= idleCeiling {
		return false
	}
	return true
}

// MatchesToken compares the stored hash against a raw refresh token in
// constant time.
func (s *Session) MatchesToken(raw string) bool {
	if s == nil || s.RefreshTokenHash == "" {
		return false
	}
	actual := HashToken(raw)
	if len(actual) != len(s.RefreshTokenHash) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.RefreshTokenHash), []byte(actual)) == 1
}

// HashToken returns the one-way hash persisted in place of the raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Store describes persistence for session rows. Revoke and RevokeAllByUser
// are conditional updates (only rows currently active transition), which is
// what serializes concurrent rotation attempts on the same token.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	ActiveByUser(ctx context.Context, userID string) ([]*Session, error)
	// Revoke transitions the row to revoked iff it is still active.
	// Returns false when the row was already revoked or expired.
	Revoke(ctx context.Context, id, reason string, at time.Time) (bool, error)
	// RevokeAllByUser revokes every active session for the user and
	// returns how many rows transitioned.
	RevokeAllByUser(ctx context.Context, userID, reason string, at time.Time) (int, error)
	// Touch stamps last activity and refreshes network metadata.
	Touch(ctx context.Context, id string, at time.Time, meta Metadata) error
	// SweepExpired marks active rows past their expiry as expired.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}
