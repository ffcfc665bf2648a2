// Package repository defines the persistence interfaces the auth core
// depends on, together with their MySQL implementations. Sentinel errors
// let the service layer distinguish failure scenarios without leaking
// driver-specific errors upward.
package repository

import "errors"

// ErrNotFound is returned when a requested record does not exist. Services
// translate this into domain errors (e.g. invalid credentials) so the
// distinction never reaches a caller.
var ErrNotFound = errors.New("record not found")

// ErrEmailExists is returned when an insert collides with the unique email
// index. Handlers translate this into an HTTP 409 response.
var ErrEmailExists = errors.New("email already exists")
