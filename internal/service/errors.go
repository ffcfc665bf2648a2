// Package service implements the authentication core: the login/lockout
// orchestrator and the MFA, session, device, grant-cache and API-token
// services it composes. All failures surface as one of the sentinel errors
// below; internal causes stay in server-side logs.
package service

import "errors"

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password. The distinction must never leak to the caller.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrAccountInactive    = errors.New("account is not active")

	ErrInvalidToken        = errors.New("invalid token")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrInvalidMFAToken     = errors.New("invalid mfa token")

	ErrInvalidMFACode = errors.New("invalid mfa code")
	ErrMFANotEnabled  = errors.New("mfa is not enabled")
	ErrMFANotPending  = errors.New("no pending mfa enrollment")
	ErrMFAEnabled     = errors.New("mfa is already enabled")

	ErrInsufficientPermissions = errors.New("insufficient permissions")

	ErrEmailExists    = errors.New("email already exists")
	ErrRoleNotFound   = errors.New("role not found")
	ErrDeviceNotFound = errors.New("device not found")

	// ErrStoreUnavailable is the generic surface for repository failures.
	// Store-specific causes are attached for logging but never serialized
	// into responses.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// storeErr wraps a repository failure so callers can match
// ErrStoreUnavailable while logs keep the cause.
func storeErr(err error) error {
	return errors.Join(ErrStoreUnavailable, err)
}
