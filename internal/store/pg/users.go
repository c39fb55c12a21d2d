package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"askbase.org/internal/auth"
)

// UserStore implements the credential-store lookup. User records are
// owned by the product's account service; this side only reads them.
type UserStore struct {
	db *sql.DB
}

var _ auth.UserStore = (*UserStore)(nil)

const userColumns = `
	id, email, coalesce(username,''), coalesce(role,''),
	password_hash, status, email_verified, created_at, updated_at`

func (s *UserStore) Find(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where lower(email) = $1`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var u auth.User
	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.Role,
		&u.PasswordHash, &u.Status, &u.EmailVerified, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
