package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/WIREMI/wiremi-auth/internal/model"
	"github.com/WIREMI/wiremi-auth/internal/repository"
	"github.com/WIREMI/wiremi-auth/internal/utils"
)

// tokenPrefix makes leaked API tokens recognizable to secret scanners.
const tokenPrefix = "wak_"

// APITokenScopes is the closed set of capability strings an API token may
// carry. Unknown scopes are rejected at mint time.
var APITokenScopes = map[string]bool{
	"integration:read":  true,
	"integration:write": true,
	"reports:read":      true,
}

// APITokenService mints and authenticates long-lived integration
// credentials. Raw tokens are shown exactly once; the store keeps only the
// SHA-256 hash.
type APITokenService struct {
	repo repository.APITokenRepo
	log  *zap.Logger
}

func NewAPITokenService(repo repository.APITokenRepo, log *zap.Logger) *APITokenService {
	return &APITokenService{repo: repo, log: log}
}

// Mint creates a token with the given scopes. Returns the raw token and
// the stored record.
func (s *APITokenService) Mint(ctx context.Context, name string, scopes []string, expiresAt *time.Time, createdBy string) (string, *model.APIToken, error) {
	for _, sc := range scopes {
		if !APITokenScopes[sc] {
			return "", nil, errors.New("unknown scope: " + sc)
		}
	}
	random, err := utils.SecureRandomToken(32)
	if err != nil {
		return "", nil, err
	}
	raw := tokenPrefix + random

	token := &model.APIToken{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		TokenHash: utils.HashToken(raw),
		Scopes:    scopes,
		CreatedBy: createdBy,
		ExpiresAt: expiresAt,
	}
	if err := s.repo.Create(ctx, token); err != nil {
		return "", nil, storeErr(err)
	}
	s.log.Info("api token minted", zap.String("token_id", token.ID), zap.String("name", token.Name))
	return raw, token, nil
}

// Authenticate resolves a raw token to its record, rejecting unknown and
// expired tokens identically.
func (s *APITokenService) Authenticate(ctx context.Context, raw string) (*model.APIToken, error) {
	token, err := s.repo.GetByHash(ctx, utils.HashToken(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, storeErr(err)
	}
	if token.ExpiresAt != nil && time.Now().UTC().After(*token.ExpiresAt) {
		return nil, ErrInvalidToken
	}
	if err := s.repo.TouchLastUsed(ctx, token.ID, time.Now().UTC()); err != nil {
		s.log.Warn("failed to touch api token last_used_at", zap.Error(err))
	}
	return token, nil
}

// Revoke deletes a token.
func (s *APITokenService) Revoke(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return storeErr(err)
	}
	return nil
}

// List returns all tokens, newest first.
func (s *APITokenService) List(ctx context.Context) ([]model.APIToken, error) {
	out, err := s.repo.List(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}
