package token

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// TypeAccess marks short-lived tokens presented on every request.
	TypeAccess = "access"
	// TypeRefresh marks tokens exchanged for a new pair.
	TypeRefresh = "refresh"

	defaultIssuer     = "askbase"
	defaultAudience   = "askbase-api"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	// ErrInvalidToken indicates the token failed signature, issuer,
	// audience, expiry or type validation.
	ErrInvalidToken = errors.New("token: invalid token")
	// ErrConfiguration indicates unusable service configuration. Fatal at
	// startup, never surfaced per-request.
	ErrConfiguration = errors.New("token: invalid configuration")
)

// Identity carries the user attributes embedded into access tokens.
type Identity struct {
	UserID   string
	Email    string
	Role     string
	Username string
}

// Claims is the JWT payload for both token types.
type Claims struct {
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string { return c.Subject }

// Service signs and verifies access/refresh tokens. It is stateless apart
// from the signing secrets and the clock.
type Service struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// Option configures Service behavior.
type Option func(*Service) error

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) error {
		issuer = strings.TrimSpace(issuer)
		if issuer == "" {
			return fmt.Errorf("%w: issuer is empty", ErrConfiguration)
		}
		s.issuer = issuer
		return nil
	}
}

// WithAudience overrides the audience claim.
func WithAudience(audience string) Option {
	return func(s *Service) error {
		audience = strings.TrimSpace(audience)
		if audience == "" {
			return fmt.Errorf("%w: audience is empty", ErrConfiguration)
		}
		s.audience = audience
		return nil
	}
}

// WithAccessTTL configures access token lifetime from a TTL string ("15m").
func WithAccessTTL(ttl string) Option {
	return func(s *Service) error {
		d, err := ParseTTL(ttl)
		if err != nil {
			return err
		}
		s.accessTTL = d
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime from a TTL string ("7d").
func WithRefreshTTL(ttl string) Option {
	return func(s *Service) error {
		d, err := ParseTTL(ttl)
		if err != nil {
			return err
		}
		s.refreshTTL = d
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// New constructs a Service. The two secrets must be present and distinct so
// that a refresh token can never be substituted for an access token.
func New(accessSecret, refreshSecret string, opts ...Option) (*Service, error) {
	accessSecret = strings.TrimSpace(accessSecret)
	refreshSecret = strings.TrimSpace(refreshSecret)
	if accessSecret == "" || refreshSecret == "" {
		return nil, fmt.Errorf("%w: signing secrets are required", ErrConfiguration)
	}
	if accessSecret == refreshSecret {
		return nil, fmt.Errorf("%w: access and refresh secrets must differ", ErrConfiguration)
	}
	svc := &Service{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		issuer:        defaultIssuer,
		audience:      defaultAudience,
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// AccessTTL reports the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccessToken signs a fresh access token for the identity.
func (s *Service) IssueAccessToken(id Identity) (string, time.Time, error) {
	if strings.TrimSpace(id.UserID) == "" {
		return "", time.Time{}, errors.New("token: user id is required")
	}
	now := s.now().UTC()
	exp := now.Add(s.accessTTL)
	claims := Claims{
		Email:     id.Email,
		Role:      id.Role,
		Username:  id.Username,
		TokenType: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// IssueRefreshToken signs a fresh refresh token for the user.
func (s *Service) IssueRefreshToken(userID string) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, errors.New("token: user id is required")
	}
	now := s.now().UTC()
	exp := now.Add(s.refreshTTL)
	claims := Claims{
		TokenType: TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, exp, nil
}

// VerifyAccessToken validates signature, issuer, audience, expiry and type.
func (s *Service) VerifyAccessToken(raw string) (*Claims, error) {
	return s.verify(raw, s.accessSecret, TypeAccess)
}

// VerifyRefreshToken is the symmetric check against the refresh secret.
func (s *Service) VerifyRefreshToken(raw string) (*Claims, error) {
	return s.verify(raw, s.refreshSecret, TypeRefresh)
}

func (s *Service) verify(raw string, secret []byte, wantType string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	)
	parsed, err := parser.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseTTL converts a TTL string with an s/m/h/d unit suffix into a duration.
func ParseTTL(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) < 2 {
		return 0, fmt.Errorf("%w: malformed ttl %q", ErrConfiguration, raw)
	}
	value, err := strconv.Atoi(raw[:len(raw)-1])
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%w: malformed ttl %q", ErrConfiguration, raw)
	}
	var unit time.Duration
	switch raw[len(raw)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("%w: malformed ttl %q", ErrConfiguration, raw)
	}
	return time.Duration(value) * unit, nil
}
