package model

import "time"

// User mirrors the 'users' table. Emails are stored lower-cased so lookups
// are case-insensitive. Accounts are never hard-deleted; IsActive=false marks
// both unverified and soft-deactivated accounts.
type User struct {
	ID              string
	Email           string
	PasswordHash    string
	FirstName       string
	LastName        string
	IsActive        bool
	IsLocked        bool
	LockoutCount    int
	LockedUntil     *time.Time
	LastLoginAt     *time.Time
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
