package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/WIREMI/wiremi-auth/internal/model"
	"github.com/WIREMI/wiremi-auth/internal/repository"
)

// DeviceRepo is a mutex-guarded device store.
type DeviceRepo struct {
	mu      sync.Mutex
	devices map[string]*model.Device
}

func NewDeviceRepo() *DeviceRepo {
	return &DeviceRepo{devices: map[string]*model.Device{}}
}

func (r *DeviceRepo) Create(_ context.Context, d *model.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.devices[cp.ID] = &cp
	return nil
}

func (r *DeviceRepo) GetByFingerprint(_ context.Context, userID, fingerprint string) (*model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.UserID == userID && d.Fingerprint == fingerprint {
			cp := *d
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *DeviceRepo) GetByID(_ context.Context, userID, id string) (*model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok || d.UserID != userID {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *DeviceRepo) TouchLastSeen(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		d.LastSeenAt = at
	}
	return nil
}

func (r *DeviceRepo) SetTrusted(_ context.Context, id string, trusted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.IsTrusted = trusted
	return nil
}

func (r *DeviceRepo) ListByUser(_ context.Context, userID string) ([]model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Device
	for _, d := range r.devices {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	return out, nil
}
