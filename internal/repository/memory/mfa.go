package memory

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/WIREMI/wiremi-auth/internal/model"
	"github.com/WIREMI/wiremi-auth/internal/repository"
)

// MFARepo is a mutex-guarded MFA store. Backup-code consumption holds the
// mutex across the lookup and the delete, so a double-spend cannot slip
// between them.
type MFARepo struct {
	mu      sync.Mutex
	secrets map[string]*model.MFASecret
	codes   map[string][]string
}

func NewMFARepo() *MFARepo {
	return &MFARepo{secrets: map[string]*model.MFASecret{}, codes: map[string][]string{}}
}

func (r *MFARepo) GetSecret(_ context.Context, userID string) (*model.MFASecret, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.secrets[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MFARepo) SaveSecret(_ context.Context, s *model.MFASecret) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	cp.ConfirmedAt = nil
	r.secrets[cp.UserID] = &cp
	return nil
}

func (r *MFARepo) UpdateStatus(_ context.Context, userID string, status model.MFAStatus, confirmedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.secrets[userID]
	if !ok {
		return repository.ErrNotFound
	}
	s.Status = status
	s.ConfirmedAt = confirmedAt
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MFARepo) DeleteSecret(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.secrets, userID)
	delete(r.codes, userID)
	return nil
}

func (r *MFARepo) ReplaceBackupCodes(_ context.Context, userID string, codeHashes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[userID] = append([]string(nil), codeHashes...)
	return nil
}

// ConsumeBackupCode compares hashes without early exit and removes the
// matched code before releasing the mutex.
func (r *MFARepo) ConsumeBackupCode(_ context.Context, userID, codeHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hashes := r.codes[userID]
	match := -1
	for i, h := range hashes {
		if subtle.ConstantTimeCompare([]byte(h), []byte(codeHash)) == 1 {
			match = i
		}
	}
	if match < 0 {
		return false, nil
	}
	r.codes[userID] = append(hashes[:match], hashes[match+1:]...)
	return true, nil
}

func (r *MFARepo) CountBackupCodes(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codes[userID]), nil
}
