package model

import "time"

// Device mirrors the 'devices' table. Fingerprint holds the SHA-256 of the
// opaque client-derived fingerprint, so the stored value is fixed-length and
// carries no recoverable environment signals.
type Device struct {
	ID          string
	UserID      string
	Fingerprint string
	IsTrusted   bool
	LastSeenAt  time.Time
	CreatedAt   time.Time
}
