package model

import "time"

// MFAStatus is the lifecycle state of a user's TOTP enrollment.
type MFAStatus string

const (
	// MFAPending means a secret was generated but never confirmed with a
	// live code. Pending secrets do not gate login.
	MFAPending MFAStatus = "PENDING"
	// MFAEnabled means enrollment was confirmed; login requires a code.
	MFAEnabled MFAStatus = "ENABLED"
	// MFADisabled means the user turned MFA off after having it enabled.
	MFADisabled MFAStatus = "DISABLED"
)

// MFASecret mirrors the 'mfa_secrets' table, one row per user. The shared
// TOTP seed is encrypted at the application layer before it reaches the
// store; the plaintext seed is never persisted.
type MFASecret struct {
	UserID          string
	EncryptedSecret string
	Status          MFAStatus
	ConfirmedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BackupCode mirrors the 'mfa_backup_codes' table. Codes are stored hashed
// and deleted on redemption, so a spent code can never authenticate again.
type BackupCode struct {
	UserID    string
	CodeHash  string
	CreatedAt time.Time
}
