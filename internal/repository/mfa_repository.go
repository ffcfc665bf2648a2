package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/WIREMI/wiremi-auth/internal/model"
)

// MFARepo persists TOTP enrollments and backup codes. ConsumeBackupCode must
// be an atomic check-and-remove: a code redeemed by two concurrent requests
// may succeed for at most one of them.
type MFARepo interface {
	GetSecret(ctx context.Context, userID string) (*model.MFASecret, error)
	SaveSecret(ctx context.Context, s *model.MFASecret) error
	UpdateStatus(ctx context.Context, userID string, status model.MFAStatus, confirmedAt *time.Time) error
	DeleteSecret(ctx context.Context, userID string) error
	ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)
	CountBackupCodes(ctx context.Context, userID string) (int, error)
}

// SQLMFARepo implements MFARepo over the 'mfa_secrets' and
// 'mfa_backup_codes' tables.
type SQLMFARepo struct{ DB *sql.DB }

func NewMFARepo(db *sql.DB) *SQLMFARepo { return &SQLMFARepo{DB: db} }

func (r *SQLMFARepo) GetSecret(ctx context.Context, userID string) (*model.MFASecret, error) {
	var (
		s           model.MFASecret
		confirmedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT user_id,encrypted_secret,status,confirmed_at,created_at,updated_at FROM mfa_secrets WHERE user_id=? LIMIT 1",
		userID).Scan(&s.UserID, &s.EncryptedSecret, &s.Status, &confirmedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		s.ConfirmedAt = &t
	}
	return &s, nil
}

// SaveSecret upserts the single enrollment row for a user. Re-enrolling
// replaces a pending or disabled secret.
func (r *SQLMFARepo) SaveSecret(ctx context.Context, s *model.MFASecret) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO mfa_secrets (user_id,encrypted_secret,status)
		 VALUES (?,?,?)
		 ON DUPLICATE KEY UPDATE encrypted_secret=VALUES(encrypted_secret), status=VALUES(status), confirmed_at=NULL, updated_at=NOW()`,
		s.UserID, s.EncryptedSecret, s.Status)
	return err
}

func (r *SQLMFARepo) UpdateStatus(ctx context.Context, userID string, status model.MFAStatus, confirmedAt *time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE mfa_secrets SET status=?, confirmed_at=?, updated_at=NOW() WHERE user_id=?",
		status, confirmedAt, userID)
	return err
}

func (r *SQLMFARepo) DeleteSecret(ctx context.Context, userID string) error {
	if _, err := r.DB.ExecContext(ctx,
		"DELETE FROM mfa_backup_codes WHERE user_id=?", userID); err != nil {
		return err
	}
	_, err := r.DB.ExecContext(ctx,
		"DELETE FROM mfa_secrets WHERE user_id=?", userID)
	return err
}

// ReplaceBackupCodes swaps the full backup-code set inside one transaction
// so a reader never observes a partial set.
func (r *SQLMFARepo) ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM mfa_backup_codes WHERE user_id=?", userID); err != nil {
		return err
	}
	for _, h := range codeHashes {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO mfa_backup_codes (user_id,code_hash) VALUES (?,?)", userID, h); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ConsumeBackupCode deletes the matching code row and reports whether one
// was deleted. The DELETE is the atomicity point: only one of two
// concurrent redemptions sees RowsAffected==1.
func (r *SQLMFARepo) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM mfa_backup_codes WHERE user_id=? AND code_hash=?", userID, codeHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLMFARepo) CountBackupCodes(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM mfa_backup_codes WHERE user_id=?", userID).Scan(&n)
	return n, err
}
