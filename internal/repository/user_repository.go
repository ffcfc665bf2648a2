package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/WIREMI/wiremi-auth/internal/model"
)

// UserRepo is the account persistence contract consumed by the auth
// orchestrator. Implementations must keep IncrementLockout atomic: two
// concurrent failed logins may never under-count.
type UserRepo interface {
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
	IncrementLockout(ctx context.Context, id string) (int, error)
	Lock(ctx context.Context, id string, until time.Time) error
	ResetLockout(ctx context.Context, id string) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// SQLUserRepo implements UserRepo over the 'users' table.
type SQLUserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *SQLUserRepo { return &SQLUserRepo{DB: db} }

const userColumns = "id,email,password_hash,first_name,last_name,is_active,is_locked,lockout_count,locked_until,last_login_at,email_verified_at,created_at,updated_at"

// Create inserts a user row. Emails are normalized before insert so the
// unique index enforces case-insensitive identity.
func (r *SQLUserRepo) Create(ctx context.Context, u *model.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (id,email,password_hash,first_name,last_name,is_active,email_verified_at) VALUES (?,?,?,?,?,?,?)",
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.IsActive, u.EmailVerifiedAt)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return ErrEmailExists
		}
		return err
	}
	return nil
}

// GetByEmail fetches a user by normalized email.
func (r *SQLUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
}

// GetByID fetches a user by id.
func (r *SQLUserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

func (r *SQLUserRepo) scanOne(row *sql.Row) (*model.User, error) {
	var (
		u           model.User
		lockedUntil sql.NullTime
		lastLogin   sql.NullTime
		verifiedAt  sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.IsActive, &u.IsLocked, &u.LockoutCount, &lockedUntil, &lastLogin,
		&verifiedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		u.LockedUntil = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		u.EmailVerifiedAt = &t
	}
	return &u, nil
}

// UpdatePassword replaces the stored hash.
func (r *SQLUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET password_hash=?, updated_at=NOW() WHERE id=?", passwordHash, id)
	return err
}

// MarkEmailVerified activates an account and records the verification time.
func (r *SQLUserRepo) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET is_active=1, email_verified_at=?, updated_at=NOW() WHERE id=?", at, id)
	return err
}

// IncrementLockout bumps the failed-login counter in a single UPDATE so
// concurrent failures cannot lose an increment, then reads the new value.
// A concurrent read may observe a higher count, never a lower one.
func (r *SQLUserRepo) IncrementLockout(ctx context.Context, id string) (int, error) {
	if _, err := r.DB.ExecContext(ctx,
		"UPDATE users SET lockout_count=lockout_count+1, updated_at=NOW() WHERE id=?", id); err != nil {
		return 0, err
	}
	var count int
	err := r.DB.QueryRowContext(ctx,
		"SELECT lockout_count FROM users WHERE id=? LIMIT 1", id).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return count, nil
}

// Lock marks the account locked until the given time.
func (r *SQLUserRepo) Lock(ctx context.Context, id string, until time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET is_locked=1, locked_until=?, updated_at=NOW() WHERE id=?", until, id)
	return err
}

// ResetLockout clears the lockout state after a successful login or an
// elapsed lockout window.
func (r *SQLUserRepo) ResetLockout(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET is_locked=0, locked_until=NULL, lockout_count=0, updated_at=NOW() WHERE id=?", id)
	return err
}

// TouchLastLogin records the login time. Callers treat failures here as
// non-fatal.
func (r *SQLUserRepo) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET last_login_at=? WHERE id=?", at, id)
	return err
}
