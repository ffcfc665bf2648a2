package model

import "time"

// Session mirrors the 'sessions' table. Only the SHA-256 hash of the refresh
// token is stored; the raw token exists client-side only. One session per
// authenticated device/browser context.
type Session struct {
	ID               string
	UserID           string
	DeviceID         string
	RefreshTokenHash string
	IsActive         bool
	CreatedAt        time.Time
	ExpiresAt        time.Time
	LastUsedAt       time.Time
}
