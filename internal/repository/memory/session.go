package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/WIREMI/wiremi-auth/internal/model"
	"github.com/WIREMI/wiremi-auth/internal/repository"
)

// SessionRepo is a mutex-guarded session store with a refresh-hash index.
type SessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	byHash   map[string]string
}

func NewSessionRepo() *SessionRepo {
	return &SessionRepo{sessions: map[string]*model.Session{}, byHash: map[string]string{}}
}

func (r *SessionRepo) Create(_ context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.sessions[cp.ID] = &cp
	r.byHash[cp.RefreshTokenHash] = cp.ID
	return nil
}

func (r *SessionRepo) GetByTokenHash(_ context.Context, tokenHash string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byHash[tokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r.sessions[id]
	return &cp, nil
}

// RotateTokenHash is compare-and-swap under the store mutex; the loser of a
// concurrent double-refresh sees false.
func (r *SessionRepo) RotateTokenHash(_ context.Context, sessionID, oldHash, newHash string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || !s.IsActive || s.RefreshTokenHash != oldHash {
		return false, nil
	}
	delete(r.byHash, oldHash)
	s.RefreshTokenHash = newHash
	s.LastUsedAt = at
	r.byHash[newHash] = sessionID
	return true, nil
}

func (r *SessionRepo) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.LastUsedAt = at
	return nil
}

func (r *SessionRepo) Invalidate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.IsActive = false
	}
	return nil
}

func (r *SessionRepo) InvalidateAllForUser(_ context.Context, userID, exceptID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.UserID == userID && s.ID != exceptID {
			s.IsActive = false
		}
	}
	return nil
}

func (r *SessionRepo) InvalidateForDevice(_ context.Context, userID, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.UserID == userID && s.DeviceID == deviceID {
			s.IsActive = false
		}
	}
	return nil
}

func (r *SessionRepo) ListActiveByUser(_ context.Context, userID string) ([]model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *SessionRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.ExpiresAt.Before(before) {
			delete(r.byHash, s.RefreshTokenHash)
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}
