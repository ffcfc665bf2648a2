package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/WIREMI/wiremi-auth/internal/model"
)

// DeviceRepo persists recognized devices keyed by (user, fingerprint hash).
type DeviceRepo interface {
	Create(ctx context.Context, d *model.Device) error
	GetByFingerprint(ctx context.Context, userID, fingerprint string) (*model.Device, error)
	GetByID(ctx context.Context, userID, id string) (*model.Device, error)
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
	SetTrusted(ctx context.Context, id string, trusted bool) error
	ListByUser(ctx context.Context, userID string) ([]model.Device, error)
}

// SQLDeviceRepo implements DeviceRepo over the 'devices' table.
type SQLDeviceRepo struct{ DB *sql.DB }

func NewDeviceRepo(db *sql.DB) *SQLDeviceRepo { return &SQLDeviceRepo{DB: db} }

func (r *SQLDeviceRepo) Create(ctx context.Context, d *model.Device) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO devices (id,user_id,fingerprint,is_trusted,last_seen_at) VALUES (?,?,?,?,?)",
		d.ID, d.UserID, d.Fingerprint, d.IsTrusted, d.LastSeenAt)
	return err
}

func (r *SQLDeviceRepo) GetByFingerprint(ctx context.Context, userID, fingerprint string) (*model.Device, error) {
	return scanDevice(r.DB.QueryRowContext(ctx,
		"SELECT id,user_id,fingerprint,is_trusted,last_seen_at,created_at FROM devices WHERE user_id=? AND fingerprint=? LIMIT 1",
		userID, fingerprint))
}

func (r *SQLDeviceRepo) GetByID(ctx context.Context, userID, id string) (*model.Device, error) {
	return scanDevice(r.DB.QueryRowContext(ctx,
		"SELECT id,user_id,fingerprint,is_trusted,last_seen_at,created_at FROM devices WHERE user_id=? AND id=? LIMIT 1",
		userID, id))
}

func scanDevice(row *sql.Row) (*model.Device, error) {
	var d model.Device
	err := row.Scan(&d.ID, &d.UserID, &d.Fingerprint, &d.IsTrusted, &d.LastSeenAt, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *SQLDeviceRepo) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE devices SET last_seen_at=? WHERE id=?", at, id)
	return err
}

func (r *SQLDeviceRepo) SetTrusted(ctx context.Context, id string, trusted bool) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE devices SET is_trusted=? WHERE id=?", trusted, id)
	return err
}

// ListByUser returns devices most-recently-seen first.
func (r *SQLDeviceRepo) ListByUser(ctx context.Context, userID string) ([]model.Device, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id,user_id,fingerprint,is_trusted,last_seen_at,created_at FROM devices WHERE user_id=? ORDER BY last_seen_at DESC",
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Device
	for rows.Next() {
		var d model.Device
		if err := rows.Scan(&d.ID, &d.UserID, &d.Fingerprint, &d.IsTrusted, &d.LastSeenAt, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
