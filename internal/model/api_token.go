package model

import "time"

// APIToken mirrors the 'api_tokens' table. Long-lived scoped credential for
// machine integrations; only the SHA-256 hash of the raw token is stored.
type APIToken struct {
	ID         string
	Name       string
	TokenHash  string
	Scopes     []string
	CreatedBy  string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}
