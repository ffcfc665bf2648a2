package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/WIREMI/wiremi-auth/internal/model"
	"github.com/WIREMI/wiremi-auth/internal/repository"
)

// APITokenRepo is a mutex-guarded API token store keyed by token hash.
type APITokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*model.APIToken
}

func NewAPITokenRepo() *APITokenRepo {
	return &APITokenRepo{tokens: map[string]*model.APIToken{}}
}

func (r *APITokenRepo) Create(_ context.Context, t *model.APIToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.tokens[cp.ID] = &cp
	return nil
}

func (r *APITokenRepo) GetByHash(_ context.Context, tokenHash string) (*model.APIToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.TokenHash == tokenHash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *APITokenRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, id)
	return nil
}

func (r *APITokenRepo) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tokens[id]; ok {
		t.LastUsedAt = &at
	}
	return nil
}

func (r *APITokenRepo) List(_ context.Context) ([]model.APIToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.APIToken
	for _, t := range r.tokens {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
