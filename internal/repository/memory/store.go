// Package memory provides in-memory implementations of the repository
// interfaces. They back the test suite and the demo mode of the server,
// and mirror the atomicity guarantees of the SQL implementations
// (lockout increment, backup-code consume, refresh rotation) under a
// per-store mutex.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/WIREMI/wiremi-auth/internal/model"
	"github.com/WIREMI/wiremi-auth/internal/repository"
)

// UserRepo is a mutex-guarded map keyed by user ID with an email index.
type UserRepo struct {
	mu      sync.Mutex
	users   map[string]*model.User
	byEmail map[string]string
}

func NewUserRepo() *UserRepo {
	return &UserRepo{users: map[string]*model.User{}, byEmail: map[string]string{}}
}

func (r *UserRepo) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(u.Email))
	if _, ok := r.byEmail[email]; ok {
		return repository.ErrEmailExists
	}
	cp := *u
	cp.Email = email
	now := time.Now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.users[cp.ID] = &cp
	r.byEmail[email] = cp.ID
	return nil
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r.users[id]
	return &cp, nil
}

func (r *UserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *UserRepo) UpdatePassword(_ context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *UserRepo) MarkEmailVerified(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsActive = true
	u.EmailVerifiedAt = &at
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// IncrementLockout performs the read-increment under the store mutex, so
// two concurrent bad attempts both observe their own increment.
func (r *UserRepo) IncrementLockout(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	u.LockoutCount++
	u.UpdatedAt = time.Now().UTC()
	return u.LockoutCount, nil
}

func (r *UserRepo) Lock(_ context.Context, id string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsLocked = true
	u.LockedUntil = &until
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *UserRepo) ResetLockout(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsLocked = false
	u.LockedUntil = nil
	u.LockoutCount = 0
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *UserRepo) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

// RoleRepo is a mutex-guarded role store.
type RoleRepo struct {
	mu          sync.Mutex
	roles       map[string]*model.Role
	assignments []model.RoleAssignment
}

func NewRoleRepo() *RoleRepo {
	return &RoleRepo{roles: map[string]*model.Role{}}
}

// Seed registers a role definition. Test and demo bootstrap helper.
func (r *RoleRepo) Seed(role model.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now().UTC()
	}
	r.roles[role.ID] = &role
}

func (r *RoleRepo) GetByName(_ context.Context, name string) (*model.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range r.roles {
		if role.Name == name {
			cp := *role
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *RoleRepo) RolesForUser(_ context.Context, userID string) ([]model.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Role
	for _, a := range r.assignments {
		if a.UserID != userID {
			continue
		}
		if role, ok := r.roles[a.RoleID]; ok {
			out = append(out, *role)
		}
	}
	return out, nil
}

func (r *RoleRepo) Assign(_ context.Context, userID, roleID, assignedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.assignments {
		if a.UserID == userID && a.RoleID == roleID {
			return nil
		}
	}
	r.assignments = append(r.assignments, model.RoleAssignment{
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: assignedBy,
		AssignedAt: time.Now().UTC(),
	})
	return nil
}

func (r *RoleRepo) Revoke(_ context.Context, userID, roleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.assignments[:0]
	for _, a := range r.assignments {
		if a.UserID == userID && a.RoleID == roleID {
			continue
		}
		kept = append(kept, a)
	}
	r.assignments = kept
	return nil
}
