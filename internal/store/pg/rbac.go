package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"askbase.org/internal/auth"
)

// RBACStore persists the authorization graph.
type RBACStore struct {
	db *sql.DB
}

var _ auth.RBACStore = (*RBACStore)(nil)

const roleColumns = `
	id, name, coalesce(description,''), level, coalesce(parent_role_id,''),
	is_system, is_active, created_at, updated_at`

func (s *RBACStore) CreateRole(ctx context.Context, role *auth.Role) error {
	err := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, description, level, parent_role_id, is_system, is_active)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at, updated_at
	`, role.ID, role.Name, nullIfEmpty(role.Description), role.Level,
		nullIfEmpty(role.ParentRoleID), role.IsSystem, role.IsActive,
	).Scan(&role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.ErrConflict
			case pgErrForeignKeyViolation:
				return auth.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *RBACStore) GetRole(ctx context.Context, id string) (*auth.Role, error) {
	row := s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, id)
	return scanRole(row)
}

func (s *RBACStore) GetRoleByName(ctx context.Context, name string) (*auth.Role, error) {
	row := s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where name = $1`, name)
	return scanRole(row)
}

func (s *RBACStore) ListRoles(ctx context.Context) ([]*auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles order by level desc, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.Role
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(
			&r.ID, &r.Name, &r.Description, &r.Level, &r.ParentRoleID,
			&r.IsSystem, &r.IsActive, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RBACStore) UpdateRole(ctx context.Context, id string, upd auth.RoleUpdate) (*auth.Role, error) {
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	if upd.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", idx))
		args = append(args, nullIfEmpty(*upd.Description))
		idx++
	}
	if upd.Level != nil {
		setClauses = append(setClauses, fmt.Sprintf("level = $%d", idx))
		args = append(args, *upd.Level)
		idx++
	}
	if upd.ParentRoleID != nil {
		setClauses = append(setClauses, fmt.Sprintf("parent_role_id = $%d", idx))
		args = append(args, nullIfEmpty(*upd.ParentRoleID))
		idx++
	}
	if upd.IsActive != nil {
		setClauses = append(setClauses, fmt.Sprintf("is_active = $%d", idx))
		args = append(args, *upd.IsActive)
		idx++
	}
	if len(setClauses) > 0 {
		setClauses = append(setClauses, "updated_at = now()")
		query := fmt.Sprintf(`update roles set %s where id = $%d`, strings.Join(setClauses, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok {
				switch pgErr.Code {
				case pgErrUniqueViolation:
					return nil, auth.ErrConflict
				case pgErrForeignKeyViolation:
					return nil, auth.ErrNotFound
				}
			}
			return nil, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if aff == 0 {
			return nil, auth.ErrNotFound
		}
	}
	return s.GetRole(ctx, id)
}

func (s *RBACStore) DeleteRole(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

const permissionColumns = `
	id, name, resource, action, coalesce(module,''), priority,
	is_system, is_active, created_at`

func (s *RBACStore) CreatePermission(ctx context.Context, perm *auth.Permission) error {
	err := s.db.QueryRowContext(ctx, `
		insert into permissions (id, name, resource, action, module, priority, is_system, is_active)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at
	`, perm.ID, perm.Name, perm.Resource, perm.Action,
		nullIfEmpty(perm.Module), perm.Priority, perm.IsSystem, perm.IsActive,
	).Scan(&perm.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}
	return nil
}

func (s *RBACStore) FindPermission(ctx context.Context, resource, action string) (*auth.Permission, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+permissionColumns+`
		from permissions
		where resource = $1 and action = $2 and is_active
	`, resource, action)
	return scanPermission(row)
}

func (s *RBACStore) ListPermissions(ctx context.Context) ([]*auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+permissionColumns+`
		from permissions
		order by module, priority desc, resource, action
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func (s *RBACStore) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into role_permissions (role_id, permission_id, is_active)
		values ($1, $2, true)
		on conflict (role_id, permission_id) do update set is_active = true
	`, roleID, permissionID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *RBACStore) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	res, err := s.db.ExecContext(ctx, `
		update role_permissions set is_active = false
		where role_id = $1 and permission_id = $2
	`, roleID, permissionID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *RBACStore) PermissionsForRole(ctx context.Context, roleID string) ([]*auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.name, p.resource, p.action, coalesce(p.module,''), p.priority,
		       p.is_system, p.is_active, p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1 and rp.is_active and p.is_active
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func (s *RBACStore) AssignRole(ctx context.Context, grant *auth.UserRole) error {
	err := s.db.QueryRowContext(ctx, `
		insert into user_roles (user_id, role_id, scope, scope_id, expires_at, is_active)
		values ($1, $2, $3, $4, $5, true)
		on conflict (user_id, role_id) do update
		set scope = excluded.scope, scope_id = excluded.scope_id,
		    expires_at = excluded.expires_at, is_active = true
		returning created_at
	`, grant.UserID, grant.RoleID, grant.Scope,
		nullIfEmpty(grant.ScopeID), nullIfZero(grant.ExpiresAt),
	).Scan(&grant.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *RBACStore) RemoveAssignment(ctx context.Context, userID, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		update user_roles set is_active = false
		where user_id = $1 and role_id = $2
	`, userID, roleID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *RBACStore) AssignmentsForUser(ctx context.Context, userID string) ([]*auth.UserRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, role_id, scope, coalesce(scope_id,''), expires_at, is_active, created_at
		from user_roles
		where user_id = $1
		order by role_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.UserRole
	for rows.Next() {
		var (
			g       auth.UserRole
			expires sql.NullTime
		)
		if err := rows.Scan(&g.UserID, &g.RoleID, &g.Scope, &g.ScopeID, &expires, &g.IsActive, &g.CreatedAt); err != nil {
			return nil, err
		}
		if expires.Valid {
			g.ExpiresAt = expires.Time
		}
		result = append(result, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// --- scan helpers ---

func scanRole(row *sql.Row) (*auth.Role, error) {
	var r auth.Role
	err := row.Scan(
		&r.ID, &r.Name, &r.Description, &r.Level, &r.ParentRoleID,
		&r.IsSystem, &r.IsActive, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanPermission(row *sql.Row) (*auth.Permission, error) {
	var p auth.Permission
	err := row.Scan(
		&p.ID, &p.Name, &p.Resource, &p.Action, &p.Module, &p.Priority,
		&p.IsSystem, &p.IsActive, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPermissions(rows *sql.Rows) ([]*auth.Permission, error) {
	var result []*auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Resource, &p.Action, &p.Module, &p.Priority,
			&p.IsSystem, &p.IsActive, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
