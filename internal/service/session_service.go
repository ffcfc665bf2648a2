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

// SessionService owns the session lifecycle: creation under the
// per-account ceiling, refresh-token rotation, revocation and the expiry
// sweep.
type SessionService struct {
	sessions   repository.SessionRepo
	ttl        time.Duration
	maxPerUser int
	log        *zap.Logger
}

func NewSessionService(sessions repository.SessionRepo, ttl time.Duration, maxPerUser int, log *zap.Logger) *SessionService {
	if maxPerUser < 1 {
		maxPerUser = 1
	}
	return &SessionService{sessions: sessions, ttl: ttl, maxPerUser: maxPerUser, log: log}
}

// Create opens a session bound to a device and mints its first refresh
// token. When the account is at its concurrent-session ceiling the oldest
// sessions are evicted first.
func (s *SessionService) Create(ctx context.Context, userID, deviceID string) (*model.Session, utils.RefreshToken, error) {
	active, err := s.sessions.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, utils.RefreshToken{}, storeErr(err)
	}
	for len(active) >= s.maxPerUser {
		if err := s.sessions.Invalidate(ctx, active[0].ID); err != nil {
			return nil, utils.RefreshToken{}, storeErr(err)
		}
		s.log.Info("evicted oldest session at ceiling",
			zap.String("user_id", userID), zap.String("session_id", active[0].ID))
		active = active[1:]
	}

	token, err := utils.NewRefreshToken(s.ttl)
	if err != nil {
		return nil, utils.RefreshToken{}, err
	}
	now := time.Now().UTC()
	sess := &model.Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		DeviceID:         deviceID,
		RefreshTokenHash: utils.HashToken(token.Raw),
		IsActive:         true,
		CreatedAt:        now,
		ExpiresAt:        token.Exp,
		LastUsedAt:       now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, utils.RefreshToken{}, storeErr(err)
	}
	return sess, token, nil
}

// Redeem resolves a raw refresh token to its active, unexpired session.
// Unknown, inactive and expired tokens are indistinguishable to the
// caller. The lastUsedAt touch is best-effort.
func (s *SessionService) Redeem(ctx context.Context, rawToken string) (*model.Session, error) {
	sess, err := s.sessions.GetByTokenHash(ctx, utils.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, storeErr(err)
	}
	now := time.Now().UTC()
	if !sess.IsActive || now.After(sess.ExpiresAt) {
		return nil, ErrInvalidRefreshToken
	}
	if err := s.sessions.TouchLastUsed(ctx, sess.ID, now); err != nil {
		s.log.Warn("failed to touch session last_used_at", zap.String("session_id", sess.ID), zap.Error(err))
	}
	return sess, nil
}

// Rotate replaces the session's refresh token. The swap is conditional on
// the hash the caller redeemed: when two refreshes race on the same stale
// token the loser gets ErrInvalidRefreshToken and the session is revoked,
// since a replayed refresh token is indistinguishable from theft.
func (s *SessionService) Rotate(ctx context.Context, sess *model.Session) (utils.RefreshToken, error) {
	token, err := utils.NewRefreshToken(time.Until(sess.ExpiresAt))
	if err != nil {
		return utils.RefreshToken{}, err
	}
	token.Exp = sess.ExpiresAt // rotation never extends the session

	ok, err := s.sessions.RotateTokenHash(ctx, sess.ID, sess.RefreshTokenHash, utils.HashToken(token.Raw), time.Now().UTC())
	if err != nil {
		return utils.RefreshToken{}, storeErr(err)
	}
	if !ok {
		if err := s.sessions.Invalidate(ctx, sess.ID); err != nil {
			s.log.Warn("failed to revoke session after rotation conflict", zap.Error(err))
		}
		s.log.Warn("refresh token rotation conflict, session revoked",
			zap.String("session_id", sess.ID), zap.String("user_id", sess.UserID))
		return utils.RefreshToken{}, ErrInvalidRefreshToken
	}
	return token, nil
}

// Invalidate ends one session (logout).
func (s *SessionService) Invalidate(ctx context.Context, sessionID string) error {
	if err := s.sessions.Invalidate(ctx, sessionID); err != nil {
		return storeErr(err)
	}
	return nil
}

// InvalidateAll ends every session of a user, optionally keeping one.
func (s *SessionService) InvalidateAll(ctx context.Context, userID, exceptSessionID string) error {
	if err := s.sessions.InvalidateAllForUser(ctx, userID, exceptSessionID); err != nil {
		return storeErr(err)
	}
	return nil
}

// InvalidateByDevice ends every session bound to a device.
func (s *SessionService) InvalidateByDevice(ctx context.Context, userID, deviceID string) error {
	if err := s.sessions.InvalidateForDevice(ctx, userID, deviceID); err != nil {
		return storeErr(err)
	}
	return nil
}

// ListActive returns the user's active sessions, oldest first.
func (s *SessionService) ListActive(ctx context.Context, userID string) ([]model.Session, error) {
	out, err := s.sessions.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// StartSweep purges expired sessions on a fixed interval until the context
// is cancelled. Idempotent storage hygiene; correctness never depends on
// it because expiry is enforced at redemption.
func (s *SessionService) StartSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.sessions.DeleteExpired(ctx, time.Now().UTC())
				if err != nil {
					s.log.Warn("session sweep failed", zap.Error(err))
					continue
				}
				if n > 0 {
					s.log.Info("session sweep purged expired sessions", zap.Int64("count", n))
				}
			}
		}
	}()
}
