package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"askbase.org/internal/auth"
)

func TestCreateRoleUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("insert into roles").
		WithArgs("r1", "editor", sqlmock.AnyArg(), 50, sqlmock.AnyArg(), false, true).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.RBAC().CreateRole(context.Background(), &auth.Role{ID: "r1", Name: "editor", Level: 50, IsActive: true})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("duplicate role name: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateRoleBuildsPartialSet(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	name := "lead"
	level := 60
	mock.ExpectExec("update roles set name = \\$1, level = \\$2, updated_at = now\\(\\) where id = \\$3").
		WithArgs(name, level, "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select (.+) from roles where id").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "description", "level", "parent_role_id",
			"is_system", "is_active", "created_at", "updated_at",
		}).AddRow("r1", name, "", level, "", false, true, now, now))

	role, err := store.RBAC().UpdateRole(context.Background(), "r1", auth.RoleUpdate{Name: &name, Level: &level})
	if err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if role.Name != name || role.Level != level {
		t.Fatalf("update not applied: %+v", role)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGrantPermissionMissingRole(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into role_permissions").
		WithArgs("missing", "p1").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	err := store.RBAC().GrantPermission(context.Background(), "missing", "p1")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("grant to missing role: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindPermissionNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select (.+) from permissions").
		WithArgs("reports", "read").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.RBAC().FindPermission(context.Background(), "reports", "read")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("unregistered permission: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
