package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"askbase.org/internal/session"
	"askbase.org/internal/token"
)

type fixture struct {
	svc      *Service
	sessions *session.InMemory
	users    *InMemoryUsers
	tokens   *token.Service
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	tokens, err := token.New("access-secret", "refresh-secret",
		token.WithIssuer("askbase-test"), token.WithAudience("askbase-test-api"))
	if err != nil {
		t.Fatalf("token.New: %v", err)
	}
	sessions := session.NewInMemory()
	users := NewInMemoryUsers()
	svc, err := NewService(tokens, sessions, users, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &fixture{svc: svc, sessions: sessions, users: users, tokens: tokens}
}

func (f *fixture) addUser(t *testing.T, id, email, password, status string, verified bool) *User {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u := &User{
		ID:            id,
		Email:         email,
		Username:      id,
		Role:          RoleViewer,
		PasswordHash:  hash,
		Status:        status,
		EmailVerified: verified,
	}
	f.users.Put(u)
	return u
}

func TestLoginRefreshLogoutScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "u1", "user@example.com", "s3cret", UserStatusActive, true)
	meta := session.Metadata{IPAddress: "203.0.113.9", UserAgent: "cli/1.0"}

	pair, user, err := f.svc.Login(ctx, "user@example.com", "s3cret", meta)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.ID != "u1" {
		t.Fatalf("unexpected user: %s", user.ID)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.TokenType != "Bearer" {
		t.Fatalf("incomplete pair: %+v", pair)
	}
	if pair.ExpiresIn <= 0 {
		t.Fatalf("expected positive expires_in, got %d", pair.ExpiresIn)
	}

	next, err := f.svc.Refresh(ctx, pair.RefreshToken, meta)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.AccessToken == pair.AccessToken || next.RefreshToken == pair.RefreshToken {
		t.Fatalf("rotation returned identical token strings")
	}

	ok, err := f.svc.Logout(ctx, next.RefreshToken)
	if err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if !ok {
		t.Fatalf("expected logout to revoke the session")
	}

	if _, err := f.svc.Refresh(ctx, next.RefreshToken, meta); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected refresh after logout to fail, got %v", err)
	}
}

func TestRefreshIsSingleUse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "u1", "user@example.com", "s3cret", UserStatusActive, true)

	pair, _, err := f.svc.Login(ctx, "user@example.com", "s3cret", session.Metadata{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken, session.Metadata{}); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken, session.Metadata{}); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected replay to fail, got %v", err)
	}
}

func TestConcurrentRefreshSucceedsAtMostOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "u1", "user@example.com", "s3cret", UserStatusActive, true)

	pair, _, err := f.svc.Login(ctx, "user@example.com", "s3cret", session.Metadata{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	outcomes := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(ctx, pair.RefreshToken, session.Metadata{})
			outcomes <- err
		}()
	}
	wg.Wait()
	close(outcomes)

	wins := 0
	for err := range outcomes {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrInvalidOrExpiredToken) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one successful rotation, got %d", wins)
	}
}

func TestRotationContinuity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "u1", "user@example.com", "s3cret", UserStatusActive, true)

	pair, _, err := f.svc.Login(ctx, "user@example.com", "s3cret", session.Metadata{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	before, err := f.sessions.ActiveByUser(ctx, "u1")
	if err != nil || len(before) != 1 {
		t.Fatalf("expected one active session, got %d (%v)", len(before), err)
	}
	family := before[0].TokenFamily
	oldID := before[0].ID

	if _, err := f.svc.Refresh(ctx, pair.RefreshToken, session.Metadata{}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	old, err := f.sessions.Find(ctx, oldID)
	if err != nil {
		t.Fatalf("Find old session: %v", err)
	}
	if old.Status != session.StatusRevoked || old.RevokeReason != session.ReasonRefreshTokenUsed {
		t.Fatalf("old session not rotated out: %+v", old)
	}

	after, err := f.sessions.ActiveByUser(ctx, "u1")
	if err != nil || len(after) != 1 {
		t.Fatalf("expected one active session after rotation, got %d (%v)", len(after), err)
	}
	if after[0].TokenFamily != family {
		t.Fatalf("token family changed across rotation: %s != %s", after[0].TokenFamily, family)
	}
	if after[0].ID == oldID {
		t.Fatalf("rotation reused the session row")
	}
}

func TestLogoutAllRevokesEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "u1", "user@example.com", "s3cret", UserStatusActive, true)

	var pairs []TokenPair
	for i := 0; i < 3; i++ {
		pair, _, err := f.svc.Login(ctx, "user@example.com", "s3cret", session.Metadata{})
		if err != nil {
			t.Fatalf("Login #%d: %v", i, err)
		}
		pairs = append(pairs, pair)
	}

	n, err := f.svc.LogoutAll(ctx, "u1", "")
	if err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked sessions, got %d", n)
	}

	for i, pair := range pairs {
		if _, err := f.svc.Refresh(ctx, pair.RefreshToken, session.Metadata{}); !errors.Is(err, ErrInvalidOrExpiredToken) {
			t.Fatalf("refresh #%d succeeded after logout-all: %v", i, err)
		}
	}
}

func TestLoginFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "u1", "active@example.com", "s3cret", UserStatusActive, true)
	f.addUser(t, "u2", "disabled@example.com", "s3cret", UserStatusDisabled, true)
	f.addUser(t, "u3", "pending@example.com", "s3cret", UserStatusPending, false)

	// Unknown email and wrong password are indistinguishable.
	if _, _, err := f.svc.Login(ctx, "nobody@example.com", "s3cret", session.Metadata{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "active@example.com", "wrong", session.Metadata{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", err)
	}

	if _, _, err := f.svc.Login(ctx, "disabled@example.com", "s3cret", session.Metadata{}); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("disabled account: %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "pending@example.com", "s3cret", session.Metadata{}); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("pending account: %v", err)
	}
}

func TestVerifyAccessTokenRechecksUserState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.addUser(t, "u1", "user@example.com", "s3cret", UserStatusActive, true)

	pair, _, err := f.svc.Login(ctx, "user@example.com", "s3cret", session.Metadata{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, user, err := f.svc.VerifyAccessToken(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if claims.UserID() != "u1" || user.ID != "u1" {
		t.Fatalf("unexpected identity: %s/%s", claims.UserID(), user.ID)
	}

	u.Status = UserStatusDisabled
	f.users.Put(u)
	if _, _, err := f.svc.VerifyAccessToken(ctx, pair.AccessToken); !errors.Is(err, token.ErrInvalidToken) {
		t.Fatalf("expected disabled user token to fail, got %v", err)
	}
}

func TestLogoutOfUnknownTokenIsNotAnError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "u1", "user@example.com", "s3cret", UserStatusActive, true)

	ok, err := f.svc.Logout(ctx, "garbage-token")
	if err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if ok {
		t.Fatalf("garbage token revoked a session")
	}

	pair, _, err := f.svc.Login(ctx, "user@example.com", "s3cret", session.Metadata{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if ok, err := f.svc.Logout(ctx, pair.RefreshToken); err != nil || !ok {
		t.Fatalf("first logout: ok=%v err=%v", ok, err)
	}
	if ok, err := f.svc.Logout(ctx, pair.RefreshToken); err != nil || ok {
		t.Fatalf("second logout should be a no-op: ok=%v err=%v", ok, err)
	}
}

func TestIdleSessionFailsRefresh(t *testing.T) {
	ctx := context.Background()
	current := time.Now().UTC()
	f := newFixture(t, WithClock(func() time.Time { return current }), WithIdleCeiling(time.Hour))
	f.addUser(t, "u1", "user@example.com", "s3cret", UserStatusActive, true)

	pair, _, err := f.svc.Login(ctx, "user@example.com", "s3cret", session.Metadata{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	actives, _ := f.sessions.ActiveByUser(ctx, "u1")
	if err := f.sessions.Touch(ctx, actives[0].ID, current, session.Metadata{}); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	current = current.Add(2 * time.Hour)
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken, session.Metadata{}); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected idle session to fail refresh, got %v", err)
	}
}

func TestCleanupExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now().UTC()
	_ = f.sessions.Create(ctx, &session.Session{ID: "s1", UserID: "u1", Status: session.StatusActive, ExpiresAt: now.Add(-time.Minute)})
	_ = f.sessions.Create(ctx, &session.Session{ID: "s2", UserID: "u1", Status: session.StatusActive, ExpiresAt: now.Add(time.Hour)})

	n, err := f.svc.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept session, got %d", n)
	}
}
