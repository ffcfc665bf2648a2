package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/WIREMI/wiremi-auth/internal/model"
)

// RoleRepo resolves role/permission grants. Assignments record who granted
// the role and when, for audit.
type RoleRepo interface {
	GetByName(ctx context.Context, name string) (*model.Role, error)
	RolesForUser(ctx context.Context, userID string) ([]model.Role, error)
	Assign(ctx context.Context, userID, roleID, assignedBy string) error
	Revoke(ctx context.Context, userID, roleID string) error
}

// SQLRoleRepo implements RoleRepo over the 'roles', 'role_permissions' and
// 'user_roles' tables.
type SQLRoleRepo struct{ DB *sql.DB }

func NewRoleRepo(db *sql.DB) *SQLRoleRepo { return &SQLRoleRepo{DB: db} }

func (r *SQLRoleRepo) GetByName(ctx context.Context, name string) (*model.Role, error) {
	var role model.Role
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,name,created_at FROM roles WHERE name=? LIMIT 1", name).
		Scan(&role.ID, &role.Name, &role.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	perms, err := r.permissions(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return &role, nil
}

// RolesForUser returns the user's roles with their permission strings
// resolved. Fetched fresh at login and refresh so revocations take effect
// by the next refresh at the latest.
func (r *SQLRoleRepo) RolesForUser(ctx context.Context, userID string) ([]model.Role, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT r.id, r.name, r.created_at FROM roles r
		 JOIN user_roles ur ON ur.role_id = r.id
		 WHERE ur.user_id=? ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []model.Role
	for rows.Next() {
		var role model.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.CreatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		perms, err := r.permissions(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

func (r *SQLRoleRepo) permissions(ctx context.Context, roleID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT permission FROM role_permissions WHERE role_id=? ORDER BY permission", roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r *SQLRoleRepo) Assign(ctx context.Context, userID, roleID, assignedBy string) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT IGNORE INTO user_roles (user_id,role_id,assigned_by,assigned_at) VALUES (?,?,?,?)",
		userID, roleID, assignedBy, time.Now().UTC())
	return err
}

func (r *SQLRoleRepo) Revoke(ctx context.Context, userID, roleID string) error {
	_, err := r.DB.ExecContext(ctx,
		"DELETE FROM user_roles WHERE user_id=? AND role_id=?", userID, roleID)
	return err
}
