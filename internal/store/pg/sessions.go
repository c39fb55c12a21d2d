package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"askbase.org/internal/session"
)

// SessionStore persists session rows. Rows are never hard-deleted.
type SessionStore struct {
	db *sql.DB
}

var _ session.Store = (*SessionStore)(nil)

func (s *SessionStore) Create(ctx context.Context, row *session.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (
			id, user_id, refresh_token_hash, token_family, status,
			expires_at, last_activity_at,
			ip_address, user_agent, device_info, location_info, created_at
		)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		row.ID, row.UserID, row.RefreshTokenHash, row.TokenFamily, string(row.Status),
		row.ExpiresAt, nullIfZero(row.LastActivityAt),
		nullIfEmpty(row.Metadata.IPAddress), nullIfEmpty(row.Metadata.UserAgent),
		nullIfEmpty(row.Metadata.DeviceInfo), nullIfEmpty(row.Metadata.LocationInfo),
		row.CreatedAt,
	)
	return err
}

const sessionColumns = `
	id, user_id, refresh_token_hash, token_family, status,
	expires_at, last_activity_at, revoked_at, coalesce(revoke_reason,''),
	coalesce(ip_address,''), coalesce(user_agent,''),
	coalesce(device_info,''), coalesce(location_info,''), created_at`

func (s *SessionStore) Find(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `select `+sessionColumns+` from sessions where id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SessionStore) ActiveByUser(ctx context.Context, userID string) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+sessionColumns+`
		from sessions
		where user_id = $1 and status = 'active'
		order by created_at desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Revoke is the compare-and-set primitive: the row transitions only while
// still active, so exactly one concurrent rotation wins.
func (s *SessionStore) Revoke(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update sessions
		set status = 'revoked', revoked_at = $2, revoke_reason = $3
		where id = $1 and status = 'active'
	`, id, at, reason)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff > 0, nil
}

func (s *SessionStore) RevokeAllByUser(ctx context.Context, userID, reason string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update sessions
		set status = 'revoked', revoked_at = $2, revoke_reason = $3
		where user_id = $1 and status = 'active'
	`, userID, at, reason)
	if err != nil {
		return 0, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(aff), nil
}

func (s *SessionStore) Touch(ctx context.Context, id string, at time.Time, meta session.Metadata) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions
		set last_activity_at = $2,
		    ip_address    = coalesce(nullif($3,''), ip_address),
		    user_agent    = coalesce(nullif($4,''), user_agent),
		    device_info   = coalesce(nullif($5,''), device_info),
		    location_info = coalesce(nullif($6,''), location_info)
		where id = $1
	`, id, at, meta.IPAddress, meta.UserAgent, meta.DeviceInfo, meta.LocationInfo)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *SessionStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update sessions
		set status = 'expired', revoke_reason = 'expired'
		where status = 'active' and expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(aff), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*session.Session, error) {
	var (
		sess         session.Session
		status       string
		lastActivity sql.NullTime
		revokedAt    sql.NullTime
	)
	err := r.Scan(
		&sess.ID, &sess.UserID, &sess.RefreshTokenHash, &sess.TokenFamily, &status,
		&sess.ExpiresAt, &lastActivity, &revokedAt, &sess.RevokeReason,
		&sess.Metadata.IPAddress, &sess.Metadata.UserAgent,
		&sess.Metadata.DeviceInfo, &sess.Metadata.LocationInfo, &sess.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	sess.Status = session.Status(status)
	if lastActivity.Valid {
		sess.LastActivityAt = lastActivity.Time
	}
	if revokedAt.Valid {
		sess.RevokedAt = revokedAt.Time
	}
	return &sess, nil
}
