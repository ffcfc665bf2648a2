package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/WIREMI/wiremi-auth/internal/model"
)

// SessionRepo persists sessions keyed by the SHA-256 hash of their refresh
// token. RotateTokenHash must be a conditional replace: of two concurrent
// refreshes carrying the same stale token, exactly one may win.
type SessionRepo interface {
	Create(ctx context.Context, s *model.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error)
	RotateTokenHash(ctx context.Context, sessionID, oldHash, newHash string, at time.Time) (bool, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	Invalidate(ctx context.Context, id string) error
	InvalidateAllForUser(ctx context.Context, userID, exceptID string) error
	InvalidateForDevice(ctx context.Context, userID, deviceID string) error
	ListActiveByUser(ctx context.Context, userID string) ([]model.Session, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// SQLSessionRepo implements SessionRepo over the 'sessions' table.
type SQLSessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SQLSessionRepo { return &SQLSessionRepo{DB: db} }

// Create inserts a session row.
func (r *SQLSessionRepo) Create(ctx context.Context, s *model.Session) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO sessions (id,user_id,device_id,refresh_token_hash,is_active,expires_at,last_used_at) VALUES (?,?,?,?,?,?,?)",
		s.ID, s.UserID, s.DeviceID, s.RefreshTokenHash, s.IsActive, s.ExpiresAt, s.LastUsedAt)
	return err
}

// GetByTokenHash looks up a session by refresh token hash. Activity and
// expiry are checked by the caller so the error surface stays uniform.
func (r *SQLSessionRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error) {
	var s model.Session
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,user_id,device_id,refresh_token_hash,is_active,created_at,expires_at,last_used_at FROM sessions WHERE refresh_token_hash=? LIMIT 1",
		tokenHash).Scan(&s.ID, &s.UserID, &s.DeviceID, &s.RefreshTokenHash,
		&s.IsActive, &s.CreatedAt, &s.ExpiresAt, &s.LastUsedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// RotateTokenHash swaps the stored hash only if the old hash is still
// current on an active session. Returns false when another rotation or a
// revocation got there first.
func (r *SQLSessionRepo) RotateTokenHash(ctx context.Context, sessionID, oldHash, newHash string, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET refresh_token_hash=?, last_used_at=? WHERE id=? AND refresh_token_hash=? AND is_active=1",
		newHash, at, sessionID, oldHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// TouchLastUsed records session activity. Best-effort from the caller's
// point of view.
func (r *SQLSessionRepo) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET last_used_at=? WHERE id=?", at, id)
	return err
}

// Invalidate marks one session inactive (logout).
func (r *SQLSessionRepo) Invalidate(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET is_active=0 WHERE id=?", id)
	return err
}

// InvalidateAllForUser marks every active session of a user inactive,
// optionally sparing one ("log out everywhere else").
func (r *SQLSessionRepo) InvalidateAllForUser(ctx context.Context, userID, exceptID string) error {
	if exceptID == "" {
		_, err := r.DB.ExecContext(ctx,
			"UPDATE sessions SET is_active=0 WHERE user_id=? AND is_active=1", userID)
		return err
	}
	_, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET is_active=0 WHERE user_id=? AND is_active=1 AND id<>?", userID, exceptID)
	return err
}

// InvalidateForDevice kills every session bound to a device. Used by the
// device trust revocation cascade.
func (r *SQLSessionRepo) InvalidateForDevice(ctx context.Context, userID, deviceID string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET is_active=0 WHERE user_id=? AND device_id=? AND is_active=1", userID, deviceID)
	return err
}

// ListActiveByUser returns active sessions oldest-first so callers can
// evict from the front when the per-account ceiling is exceeded.
func (r *SQLSessionRepo) ListActiveByUser(ctx context.Context, userID string) ([]model.Session, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id,user_id,device_id,refresh_token_hash,is_active,created_at,expires_at,last_used_at FROM sessions WHERE user_id=? AND is_active=1 ORDER BY created_at ASC",
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.DeviceID, &s.RefreshTokenHash,
			&s.IsActive, &s.CreatedAt, &s.ExpiresAt, &s.LastUsedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteExpired purges sessions past their expiry. Idempotent; storage
// hygiene only, never required for correctness.
func (r *SQLSessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at<?", before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
