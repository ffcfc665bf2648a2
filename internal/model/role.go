package model

import "time"

// Role names a capability bundle. Permissions are flat strings such as
// "transaction:approve"; a user inherits the union of permissions across
// all assigned roles.
type Role struct {
	ID          string
	Name        string
	Permissions []string
	CreatedAt   time.Time
}

// RoleAssignment links a user to a role and records who granted it for audit.
type RoleAssignment struct {
	UserID     string
	RoleID     string
	AssignedBy string
	AssignedAt time.Time
}
