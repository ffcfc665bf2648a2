package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/WIREMI/wiremi-auth/internal/model"
	"github.com/WIREMI/wiremi-auth/internal/repository"
	"github.com/WIREMI/wiremi-auth/internal/utils"
)

// DeviceService recognizes returning devices by fingerprint and manages
// trust elevation. Fingerprints are opaque client-derived identifiers; the
// service only relies on their stability across visits and stores their
// SHA-256, never the raw value.
type DeviceService struct {
	devices    repository.DeviceRepo
	sessions   repository.SessionRepo
	maxTrusted int
	log        *zap.Logger
}

func NewDeviceService(devices repository.DeviceRepo, sessions repository.SessionRepo, maxTrusted int, log *zap.Logger) *DeviceService {
	if maxTrusted < 1 {
		maxTrusted = 1
	}
	return &DeviceService{devices: devices, sessions: sessions, maxTrusted: maxTrusted, log: log}
}

// Recognize looks up the device for (user, fingerprint), creating an
// untrusted record on first sight and refreshing lastSeenAt otherwise.
// Trust is elevated only when remember was explicitly supplied on this
// call. A missing fingerprint yields a one-off device record.
func (s *DeviceService) Recognize(ctx context.Context, userID, fingerprint string, remember bool) (*model.Device, error) {
	if fingerprint == "" {
		rnd, err := utils.SecureRandomToken(16)
		if err != nil {
			return nil, err
		}
		fingerprint = rnd
		remember = false
	}
	fp := utils.HashToken(fingerprint)
	now := time.Now().UTC()

	device, err := s.devices.GetByFingerprint(ctx, userID, fp)
	switch {
	case err == nil:
		if err := s.devices.TouchLastSeen(ctx, device.ID, now); err != nil {
			s.log.Warn("failed to touch device last_seen_at", zap.String("device_id", device.ID), zap.Error(err))
		}
		device.LastSeenAt = now
	case errors.Is(err, repository.ErrNotFound):
		device = &model.Device{
			ID:          uuid.NewString(),
			UserID:      userID,
			Fingerprint: fp,
			IsTrusted:   false,
			LastSeenAt:  now,
			CreatedAt:   now,
		}
		if err := s.devices.Create(ctx, device); err != nil {
			return nil, storeErr(err)
		}
	default:
		return nil, storeErr(err)
	}

	if remember && !device.IsTrusted {
		if err := s.elevateTrust(ctx, device); err != nil {
			return nil, err
		}
		device.IsTrusted = true
	}
	return device, nil
}

// elevateTrust marks the device trusted, demoting the least-recently-seen
// trusted device when the ceiling is reached.
func (s *DeviceService) elevateTrust(ctx context.Context, device *model.Device) error {
	all, err := s.devices.ListByUser(ctx, device.UserID)
	if err != nil {
		return storeErr(err)
	}
	var trusted []model.Device
	for _, d := range all {
		if d.IsTrusted {
			trusted = append(trusted, d)
		}
	}
	// ListByUser is most-recent first, so demote from the tail.
	for len(trusted) >= s.maxTrusted {
		victim := trusted[len(trusted)-1]
		if err := s.devices.SetTrusted(ctx, victim.ID, false); err != nil {
			return storeErr(err)
		}
		s.log.Info("demoted trusted device at ceiling",
			zap.String("user_id", device.UserID), zap.String("device_id", victim.ID))
		trusted = trusted[:len(trusted)-1]
	}
	if err := s.devices.SetTrusted(ctx, device.ID, true); err != nil {
		return storeErr(err)
	}
	return nil
}

// Revoke clears trust from a device and invalidates every session bound to
// it. The cascade is what makes revocation meaningful: without it a stolen
// device keeps its refresh tokens.
func (s *DeviceService) Revoke(ctx context.Context, userID, deviceID string) error {
	if _, err := s.devices.GetByID(ctx, userID, deviceID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDeviceNotFound
		}
		return storeErr(err)
	}
	if err := s.devices.SetTrusted(ctx, deviceID, false); err != nil {
		return storeErr(err)
	}
	if err := s.sessions.InvalidateForDevice(ctx, userID, deviceID); err != nil {
		return storeErr(err)
	}
	s.log.Info("device trust revoked", zap.String("user_id", userID), zap.String("device_id", deviceID))
	return nil
}

// List returns the user's devices, most recently seen first.
func (s *DeviceService) List(ctx context.Context, userID string) ([]model.Device, error) {
	out, err := s.devices.ListByUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}
